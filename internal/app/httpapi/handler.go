package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	app "github.com/Meridian-Network/rewards_core/internal/app"
	"github.com/Meridian-Network/rewards_core/internal/app/config"
	"github.com/Meridian-Network/rewards_core/internal/app/domain/dividend"
	"github.com/Meridian-Network/rewards_core/internal/app/domain/ledger"
	"github.com/Meridian-Network/rewards_core/internal/app/domain/referral"
	membershipsvc "github.com/Meridian-Network/rewards_core/internal/app/services/membership"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}

	r := chi.NewRouter()
	r.Get("/healthz", h.health)

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.createAccount)
		r.Get("/{accountID}/balance", h.accountBalance)
		r.Get("/{accountID}/entries", h.accountEntries)
		r.Get("/{accountID}/referrals", h.accountReferrals)
		r.Get("/{accountID}/membership", h.accountMembership)
		r.Post("/{accountID}/membership/evaluate", h.evaluateMembership)
		r.Post("/{accountID}/membership/adjust", h.adjustContribution)
	})

	r.Post("/ledger/entries", h.applyEntry)
	r.Post("/transactions", h.recordTransaction)

	r.Route("/referrals", func(r chi.Router) {
		r.Post("/", h.createReferral)
		r.Delete("/{refereeID}", h.revokeReferral)
	})

	r.Route("/pools", func(r chi.Router) {
		r.Get("/{poolID}", h.getPool)
		r.Get("/{poolID}/holdings", h.poolHoldings)
		r.Post("/{poolID}/accrue", h.accruePool)
		r.Post("/{poolID}/distribute", h.distributePool)
		r.Post("/{poolID}/holders", h.enrollHolder)
	})

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acct, err := h.app.Ledger.EnsureAccount(r.Context(), payload.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *handler) accountBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	balance, err := h.app.Ledger.Balance(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"balance":    balance,
	})
}

func (h *handler) accountEntries(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	entries, err := h.app.Ledger.Entries(r.Context(), accountID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) accountReferrals(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	edges, err := h.app.Referrals.DirectReferrals(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edges)
}

func (h *handler) accountMembership(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	level, err := h.app.Membership.CurrentLevel(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account_id": accountID,
		"level":      level,
	})
}

func (h *handler) evaluateMembership(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	result, err := h.app.Membership.Evaluate(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) adjustContribution(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var payload struct {
		Delta int64 `json:"delta"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.Membership.AdminAdjust(r.Context(), accountID, payload.Delta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) applyEntry(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AccountID      string `json:"account_id"`
		AmountDelta    int64  `json:"amount_delta"`
		Reason         string `json:"reason"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.Ledger.Apply(r.Context(), payload.AccountID, payload.AmountDelta, ledger.Reason(payload.Reason), payload.IdempotencyKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if !result.Applied {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// recordTransaction records a consumption event: the payer's contribution is
// bumped (which may change their level) and upline commissions are credited.
func (h *handler) recordTransaction(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PayerID        string `json:"payer_id"`
		Amount         int64  `json:"amount"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if strings.TrimSpace(payload.PayerID) == "" || strings.TrimSpace(payload.IdempotencyKey) == "" || payload.Amount <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("payer_id, positive amount and idempotency_key are required"))
		return
	}

	// The contribution bump is not idempotent on its own, so it is gated
	// behind a zero-amount marker entry keyed off the transaction. A retry
	// finds the marker already applied and only re-reads the standing.
	marker, err := h.app.Ledger.Apply(r.Context(), payload.PayerID, 0, ledger.ReasonConsumption, payload.IdempotencyKey+":contribution")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var membership membershipsvc.Result
	if marker.Applied {
		membership, err = h.app.Membership.RecordContribution(r.Context(), payload.PayerID, payload.Amount)
	} else {
		membership, err = h.app.Membership.Evaluate(r.Context(), payload.PayerID)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	commissions, err := h.app.Commission.Process(r.Context(), payload.PayerID, payload.Amount, payload.IdempotencyKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"membership":  membership,
		"commissions": commissions,
	})
}

func (h *handler) createReferral(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefereeID  string `json:"referee_id"`
		ReferrerID string `json:"referrer_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	edge, err := h.app.Referrals.CreateEdge(r.Context(), payload.RefereeID, payload.ReferrerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

func (h *handler) revokeReferral(w http.ResponseWriter, r *http.Request) {
	refereeID := chi.URLParam(r, "refereeID")
	edge, err := h.app.Referrals.Revoke(r.Context(), refereeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

func (h *handler) getPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	pool, err := h.app.Dividends.GetPool(r.Context(), poolID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (h *handler) poolHoldings(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	holdings, err := h.app.Dividends.Holdings(r.Context(), poolID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (h *handler) accruePool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	var payload struct {
		Amount         int64  `json:"amount"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pool, applied, err := h.app.Dividends.Accrue(r.Context(), poolID, payload.Amount, payload.IdempotencyKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if !applied {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"pool":    pool,
		"applied": applied,
	})
}

func (h *handler) distributePool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	result, err := h.app.Dividends.Distribute(r.Context(), poolID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) enrollHolder(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Dividends.EnrollHolder(r.Context(), poolID, payload.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps service errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidEntry):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, referral.ErrAlreadyReferred),
		errors.Is(err, referral.ErrSelfReferral),
		errors.Is(err, referral.ErrCyclicReferral):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, referral.ErrEdgeNotFound),
		errors.Is(err, dividend.ErrPoolNotFound),
		errors.Is(err, dividend.ErrRoundNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ledger.ErrTransientStorage), errors.Is(err, config.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
