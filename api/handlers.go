/*
handlers.go - HTTP API handlers for the leave ledger

PURPOSE:
  Exposes the leave service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the leave package.

ENDPOINTS:
  Manual leave:
    POST   /api/leaves/manual          Credit/debit a pool for a batch of users
    GET    /api/leaves/manual          Paginated listing (?limit=&offset=)
    GET    /api/leaves/manual/{id}     One entry, soft-deleted ones included
    DELETE /api/leaves/manual/{id}     Soft-delete an entry

  Users:
    GET    /api/users/{id}/leave-balance  Current PL and comp-off balances
    GET    /api/users/{id}/leave-history  Every entry of the user

REQUEST FLOW:
  1. RequireActor middleware resolves the acting user
  2. Parse HTTP request
  3. Call the leave service (authorization, validation, ledger)
  4. Serialize response
  5. Map errors to status codes in writeServiceError

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, insufficient balance
  - 401: Missing or invalid credentials
  - 403: Actor may not perform the operation
  - 404: User or entry not found
  - 409: Concurrent modification after retries
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Identity of the acting user
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *leave.Service
	logger  *slog.Logger
}

// NewHandler creates a new handler over the leave service.
func NewHandler(svc *leave.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, logger: logger}
}

// =============================================================================
// MANUAL LEAVE HANDLERS
// =============================================================================

// AddLeave credits or debits one pool for every listed user.
// POST /api/leaves/manual
func (h *Handler) AddLeave(w http.ResponseWriter, r *http.Request) {
	var req AddLeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entries, err := h.Service.AddLeave(r.Context(), req.toAdjustment(actorFrom(r.Context())))
	if err != nil {
		h.writeServiceError(w, r, "Failed to add leave", err)
		return
	}

	writeJSON(w, http.StatusCreated, Response{
		Message: "Leave records created successfully",
		Data:    toEntryDTOs(entries),
	})
}

// ListManualLeaves returns non-deleted entries, newest update first.
// GET /api/leaves/manual?limit=10&offset=1
func (h *Handler) ListManualLeaves(w http.ResponseWriter, r *http.Request) {
	q := ledger.PageQuery{
		Limit:  queryInt(r, "limit", leave.DefaultPageLimit),
		Offset: queryInt(r, "offset", leave.DefaultPageOffset),
	}

	result, err := h.Service.ListManualLeaves(r.Context(), actorFrom(r.Context()), q)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list manual leaves", err)
		return
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Message:      "Manual leaves fetched successfully",
		Data:         toManualLeaveDTOs(result.Records),
		TotalRecords: result.TotalCount,
		PageSize:     result.PageSize,
		TotalPages:   totalPages(result.TotalCount, result.PageSize),
	})
}

// GetManualLeave returns one entry for audit, even when soft-deleted.
// GET /api/leaves/manual/{id}
func (h *Handler) GetManualLeave(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntryID(chi.URLParam(r, "id"))

	entry, err := h.Service.Entry(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get leave", err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Message: "Leave fetched successfully",
		Data:    toEntryDTO(*entry),
	})
}

// DeleteManualLeave soft-deletes an entry.
// DELETE /api/leaves/manual/{id}
func (h *Handler) DeleteManualLeave(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntryID(chi.URLParam(r, "id"))

	if _, err := h.Service.DeleteManualLeave(r.Context(), actorFrom(r.Context()), id); err != nil {
		h.writeServiceError(w, r, "Failed to delete leave", err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Message: "Leave deleted successfully"})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// GetBalance returns a user's current balances.
// GET /api/users/{id}/leave-balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	b, err := h.Service.Balance(r.Context(), actorFrom(r.Context()), userID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Message: "Leave balance fetched successfully",
		Data: BalanceDTO{
			UserID:  string(userID),
			PL:      b.PL.InexactFloat64(),
			CompOff: b.CompOff.InexactFloat64(),
		},
	})
}

// GetHistory returns every entry of a user, newest first.
// GET /api/users/{id}/leave-history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	entries, err := h.Service.History(r.Context(), actorFrom(r.Context()), userID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get leave history", err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Message: "Leave history fetched successfully",
		Data:    toEntryDTOs(entries),
	})
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps leave/ledger errors to HTTP status codes. Client
// errors carry their own message; anything else is logged and reported
// under fallback.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, fallback string, err error) {
	switch {
	case ledger.IsUnauthorized(err):
		writeError(w, http.StatusForbidden, err.Error(), nil)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusConflict, fallback, err)
	default:
		h.logger.Error(fallback,
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"error", err)
		writeError(w, http.StatusInternalServerError, fallback, err)
	}
}

// queryInt reads a positive integer query parameter, falling back to def
// when it is missing, unparseable or below 1.
func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return def
	}
	return v
}

func totalPages(total, pageSize int) int {
	if pageSize < 1 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(pageSize)))
}
