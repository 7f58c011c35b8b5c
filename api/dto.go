/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Envelopes

ENVELOPES:
  Success:    {message, data}
  Paginated:  {message, data, total_records, page_size, total_pages}
  Error:      {error, details}

AMOUNTS:
  Amounts are JSON numbers. Requests are decoded straight into decimals so a
  half day stays exactly 0.5; quoted amounts ("5") are rejected.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/ledger"
)

// =============================================================================
// ENVELOPES
// =============================================================================

type Response struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type PaginatedResponse struct {
	Message      string `json:"message"`
	Data         any    `json:"data"`
	TotalRecords int    `json:"total_records"`
	PageSize     int    `json:"page_size"`
	TotalPages   int    `json:"total_pages"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// AddLeaveRequest credits or debits one pool for a batch of users.
type AddLeaveRequest struct {
	UserIDs     []string `json:"user_ids"`
	LeaveType   string   `json:"leave_type"`
	Credit      *Amount  `json:"credit,omitempty"`
	Debit       *Amount  `json:"debit,omitempty"`
	Description string   `json:"description"`
}

// Amount is a decimal that only accepts a bare JSON number.
type Amount struct {
	decimal.Decimal
}

var errQuotedAmount = errors.New("amounts must be JSON numbers")

func (a *Amount) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return errQuotedAmount
	}
	return a.Decimal.UnmarshalJSON(data)
}

func (a *Amount) value() *decimal.Decimal {
	if a == nil {
		return nil
	}
	d := a.Decimal
	return &d
}

func (r AddLeaveRequest) toAdjustment(actor ledger.UserID) leave.Adjustment {
	ids := make([]ledger.UserID, len(r.UserIDs))
	for i, id := range r.UserIDs {
		ids[i] = ledger.UserID(id)
	}
	return leave.Adjustment{
		ActorID:     actor,
		UserIDs:     ids,
		LeaveType:   ledger.LeaveType(r.LeaveType),
		Credit:      r.Credit.value(),
		Debit:       r.Debit.value(),
		Description: r.Description,
	}
}

// =============================================================================
// RESPONSES
// =============================================================================

// EntryDTO is one ledger entry.
type EntryDTO struct {
	ID               string  `json:"id"`
	CompanyID        string  `json:"company_id"`
	UserID           string  `json:"user_id"`
	LeaveType        string  `json:"leave_type"`
	Credited         float64 `json:"credited"`
	Debited          float64 `json:"debited"`
	AvailablePL      float64 `json:"available_pl"`
	AvailableCompOff float64 `json:"available_comp_off"`
	Description      string  `json:"description"`
	IsDeleted        bool    `json:"is_deleted"`
	DeletedAt        *string `json:"deleted_at,omitempty"`
	CreatedBy        string  `json:"created_by"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// ManualLeaveDTO is one row of the manual leave listing.
type ManualLeaveDTO struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	Name           string  `json:"name"`
	Credited       float64 `json:"credited"`
	Debited        float64 `json:"debited"`
	PreviousLeaves float64 `json:"previous_leaves"`
	TotalLeaves    float64 `json:"total_leaves"`
	UpdatedAt      string  `json:"updated_at"`
}

type BalanceDTO struct {
	UserID  string  `json:"user_id"`
	PL      float64 `json:"pl"`
	CompOff float64 `json:"comp_off"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	dto := EntryDTO{
		ID:               string(e.ID),
		CompanyID:        string(e.CompanyID),
		UserID:           string(e.UserID),
		LeaveType:        string(e.LeaveType),
		Credited:         e.Credited.InexactFloat64(),
		Debited:          e.Debited.InexactFloat64(),
		AvailablePL:      e.AvailablePL.InexactFloat64(),
		AvailableCompOff: e.AvailableCompOff.InexactFloat64(),
		Description:      e.Description,
		IsDeleted:        e.IsDeleted,
		CreatedBy:        string(e.CreatedBy),
		CreatedAt:        e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        e.UpdatedAt.Format(time.RFC3339),
	}
	if e.DeletedAt != nil {
		s := e.DeletedAt.Format(time.RFC3339)
		dto.DeletedAt = &s
	}
	return dto
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toManualLeaveDTOs(records []leave.ManualLeave) []ManualLeaveDTO {
	dtos := make([]ManualLeaveDTO, len(records))
	for i, m := range records {
		dtos[i] = ManualLeaveDTO{
			ID:             string(m.ID),
			UserID:         string(m.UserID),
			Name:           m.Name,
			Credited:       m.Credited.InexactFloat64(),
			Debited:        m.Debited.InexactFloat64(),
			PreviousLeaves: m.PreviousLeaves.InexactFloat64(),
			TotalLeaves:    m.TotalLeaves.InexactFloat64(),
			UpdatedAt:      m.UpdatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}
