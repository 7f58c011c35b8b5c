package leave

import (
	"context"
	"time"

	"github.com/warp/leave-ledger/ledger"
)

const (
	EventLeaveAdjusted = "leave.adjusted"
	EventLeaveDeleted  = "leave.deleted"
)

// Publisher emits ledger change events after a successful commit.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// AdjustedEvent is published once per committed batch.
type AdjustedEvent struct {
	Type      string         `json:"type"`
	ActorID   string         `json:"actor_id"`
	CompanyID string         `json:"company_id"`
	LeaveType string         `json:"leave_type"`
	Entries   []EntryPayload `json:"entries"`
	At        time.Time      `json:"at"`
}

// DeletedEvent is published when an entry is soft-deleted.
type DeletedEvent struct {
	Type    string    `json:"type"`
	ActorID string    `json:"actor_id"`
	EntryID string    `json:"entry_id"`
	UserID  string    `json:"user_id"`
	At      time.Time `json:"at"`
}

type EntryPayload struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	Credited         string `json:"credited"`
	Debited          string `json:"debited"`
	AvailablePL      string `json:"available_pl"`
	AvailableCompOff string `json:"available_comp_off"`
}

func newAdjustedEvent(actor *ledger.User, leaveType ledger.LeaveType, entries []ledger.Entry, at time.Time) AdjustedEvent {
	payload := make([]EntryPayload, len(entries))
	for i, e := range entries {
		payload[i] = EntryPayload{
			ID:               string(e.ID),
			UserID:           string(e.UserID),
			Credited:         e.Credited.String(),
			Debited:          e.Debited.String(),
			AvailablePL:      e.AvailablePL.String(),
			AvailableCompOff: e.AvailableCompOff.String(),
		}
	}
	return AdjustedEvent{
		Type:      EventLeaveAdjusted,
		ActorID:   string(actor.ID),
		CompanyID: string(actor.CompanyID),
		LeaveType: string(leaveType),
		Entries:   payload,
		At:        at,
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }

// EventKey is the partition key for an event: the company for batches,
// the affected user for deletes.
func EventKey(event any) string {
	switch e := event.(type) {
	case AdjustedEvent:
		return e.CompanyID
	case DeletedEvent:
		return e.UserID
	}
	return ""
}
