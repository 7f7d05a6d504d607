package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/encorelabs/arbiterd/internal/domain"
	"github.com/encorelabs/arbiterd/internal/gateway"
	"github.com/encorelabs/arbiterd/internal/service"
)

// DecisionRunner is the gateway surface the decide endpoint drives.
type DecisionRunner interface {
	HandleDispute(ctx context.Context, disputeID uint64) (gateway.Summary, error)
}

// DisputeHandler exposes the dispute lifecycle over HTTP.
type DisputeHandler struct {
	svc     *service.DisputeService
	decider DecisionRunner
	logger  *slog.Logger
}

// NewDisputeHandler creates a DisputeHandler backed by the given service.
// decider may be nil when decisions are driven by the worker only.
func NewDisputeHandler(svc *service.DisputeService, decider DecisionRunner, logger *slog.Logger) *DisputeHandler {
	return &DisputeHandler{
		svc:     svc,
		decider: decider,
		logger:  logHandler(logger, "dispute"),
	}
}

// fileDisputeRequest is the body for filing a new dispute.
type fileDisputeRequest struct {
	Caller         string `json:"caller"`
	Artist         string `json:"artist"`
	Venue          string `json:"venue"`
	EventContract  string `json:"event_contract"`
	ContractAmount string `json:"contract_amount"`
	DepositAmount  string `json:"deposit_amount"`
}

// FileDispute files a new dispute between an artist and a venue.
// POST /api/disputes
func (h *DisputeHandler) FileDispute(w http.ResponseWriter, r *http.Request) {
	var req fileDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	artist, err := parseAddress(req.Artist)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artist address")
		return
	}
	venue, err := parseAddress(req.Venue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid venue address")
		return
	}
	eventContract, err := parseAddress(req.EventContract)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event_contract address")
		return
	}
	contractAmount, err := parseAmount(req.ContractAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contract_amount")
		return
	}
	depositAmount := big.NewInt(0)
	if req.DepositAmount != "" {
		if depositAmount, err = parseAmount(req.DepositAmount); err != nil {
			writeError(w, http.StatusBadRequest, "invalid deposit_amount")
			return
		}
	}

	d, err := h.svc.FileDispute(r.Context(), caller, artist, venue, eventContract, contractAmount, depositAmount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetDispute returns a single dispute by id.
// GET /api/disputes/{id}
func (h *DisputeHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.disputeID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.GetDispute(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// submitEvidenceRequest is the body for recording one evidence item.
type submitEvidenceRequest struct {
	Caller   string `json:"caller"`
	Role     string `json:"role"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

// SubmitEvidence records one evidence item for a dispute.
// POST /api/disputes/{id}/evidence
func (h *DisputeHandler) SubmitEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := h.disputeID(w, r)
	if !ok {
		return
	}

	var req submitEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	item, err := h.svc.SubmitEvidenceItem(r.Context(), caller, id,
		domain.PartyRole(req.Role), domain.EvidenceCategory(req.Category), req.Content)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// ListEvidence returns the evidence items recorded for a dispute.
// GET /api/disputes/{id}/evidence
func (h *DisputeHandler) ListEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := h.disputeID(w, r)
	if !ok {
		return
	}
	items := h.svc.EvidenceItems(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{
		"dispute_id": id,
		"items":      items,
		"count":      len(items),
	})
}

// callerRequest is the body for actions that only need a caller address.
type callerRequest struct {
	Caller string `json:"caller"`
}

// CompleteEvidence seals the dispute's evidence and hands it to review.
// POST /api/disputes/{id}/evidence/complete
func (h *DisputeHandler) CompleteEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := h.disputeID(w, r)
	if !ok {
		return
	}
	caller, ok := h.callerFromBody(w, r)
	if !ok {
		return
	}

	ref, err := h.svc.CompleteEvidence(r.Context(), caller, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dispute_id":   id,
		"evidence_ref": ref.Hex(),
	})
}

// DecideDispute runs the arbitration gateway against a dispute whose evidence
// is complete and returns the decision summary.
// POST /api/disputes/{id}/decide
func (h *DisputeHandler) DecideDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.disputeID(w, r)
	if !ok {
		return
	}
	if h.decider == nil {
		writeError(w, http.StatusServiceUnavailable, "decision gateway is not configured")
		return
	}

	summary, err := h.decider.HandleDispute(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// AppealDecision flags the dispute's decision as appealed.
// POST /api/disputes/{id}/appeal
func (h *DisputeHandler) AppealDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := h.disputeID(w, r)
	if !ok {
		return
	}
	caller, ok := h.callerFromBody(w, r)
	if !ok {
		return
	}

	if err := h.svc.AppealDecision(r.Context(), caller, id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispute_id": id, "appealed": true})
}

// ExecuteResolution settles the dispute per its issued decision.
// POST /api/disputes/{id}/execute
func (h *DisputeHandler) ExecuteResolution(w http.ResponseWriter, r *http.Request) {
	id, ok := h.disputeID(w, r)
	if !ok {
		return
	}
	settlement, err := h.svc.ExecuteResolution(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// GetSettlement returns the settlement record for an executed dispute.
// GET /api/disputes/{id}/settlement
func (h *DisputeHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.disputeID(w, r)
	if !ok {
		return
	}
	settlement, err := h.svc.GetSettlement(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// ListSettlements returns the most recent settlements, newest first.
// GET /api/settlements
func (h *DisputeHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	settlements, err := h.svc.RecentSettlements(r.Context(), opts.Limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settlements": settlements,
		"count":       len(settlements),
	})
}

// DisputeCount returns the number of disputes ever filed.
// GET /api/disputes/count
func (h *DisputeHandler) DisputeCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.DisputeCount(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

// ListArtistDisputes returns an artist's disputes in filing order.
// GET /api/artists/{address}/disputes
func (h *DisputeHandler) ListArtistDisputes(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artist address")
		return
	}
	disputes, err := h.svc.ListByArtist(r.Context(), addr, parseListOpts(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"artist":   addr.Hex(),
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// ListVenueDisputes returns a venue's disputes in filing order.
// GET /api/venues/{address}/disputes
func (h *DisputeHandler) ListVenueDisputes(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid venue address")
		return
	}
	disputes, err := h.svc.ListByVenue(r.Context(), addr, parseListOpts(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"venue":    addr.Hex(),
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// Pause halts all state-mutating dispute operations.
// POST /api/admin/pause
func (h *DisputeHandler) Pause(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerFromBody(w, r)
	if !ok {
		return
	}
	if err := h.svc.Pause(r.Context(), caller); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

// Unpause re-enables state-mutating dispute operations.
// POST /api/admin/unpause
func (h *DisputeHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerFromBody(w, r)
	if !ok {
		return
	}
	if err := h.svc.Unpause(r.Context(), caller); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}

// disputeID parses the {id} path parameter, writing a 400 on failure.
func (h *DisputeHandler) disputeID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dispute id")
		return 0, false
	}
	return id, true
}

// callerFromBody decodes a {"caller": "0x..."} body, writing a 400 on failure.
func (h *DisputeHandler) callerFromBody(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return common.Address{}, false
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return common.Address{}, false
	}
	return caller, true
}

// writeDomainError maps domain sentinel errors onto HTTP status codes.
func (h *DisputeHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "dispute handler error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

// statusForError translates domain sentinels into HTTP status codes. Unknown
// errors map to 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotParty),
		errors.Is(err, domain.ErrNotAuthority):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrInvalidDispute),
		errors.Is(err, domain.ErrInvalidEvidence),
		errors.Is(err, domain.ErrAmountExceedsContract):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrLockHeld),
		errors.Is(err, domain.ErrEvidenceSubmitted),
		errors.Is(err, domain.ErrEvidenceIncomplete),
		errors.Is(err, domain.ErrDecisionIssued),
		errors.Is(err, domain.ErrNoDecision),
		errors.Is(err, domain.ErrAlreadyAppealed),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, domain.ErrTicketRefunded),
		errors.Is(err, domain.ErrEvidenceWindowClosed),
		errors.Is(err, domain.ErrAppealWindowClosed),
		errors.Is(err, domain.ErrExecutionNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseAddress validates and decodes a hex Ethereum address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(s), nil
}

// parseAmount decodes a non-negative base-10 token amount.
func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("invalid amount")
	}
	return amount, nil
}
