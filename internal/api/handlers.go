package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/haldenbank/corebank/internal/domain"
	"github.com/haldenbank/corebank/internal/ledger"
	"github.com/haldenbank/corebank/internal/store"
	"github.com/haldenbank/corebank/internal/transfer"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corebank_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "corebank_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	store     store.Store
	ledger    *ledger.Service
	transfers *transfer.Service
	log       *zap.Logger
}

func NewHandler(st store.Store, led *ledger.Service, tr *transfer.Service, log *zap.Logger) *Handler {
	return &Handler{store: st, ledger: led, transfers: tr, log: log}
}

// RegisterRoutes mounts the API under r, which must already carry the
// Authenticate middleware.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/accounts/balance", h.GetBalanceHandler).Methods("GET")
	r.HandleFunc("/transactions", h.CreateTransactionHandler).Methods("POST")
	r.HandleFunc("/transactions", h.ListTransactionsHandler).Methods("GET")
	r.HandleFunc("/transactions/{id}/date", requireAdmin(h.EditDateHandler)).Methods("POST")
	r.HandleFunc("/transfers", h.InitiateTransferHandler).Methods("POST")
	r.HandleFunc("/transfers/{id}/verification-code", requireAdmin(h.AttachCodeHandler)).Methods("POST")
	r.HandleFunc("/transfers/{id}/verification", h.ConfirmVerificationHandler).Methods("POST")
	r.HandleFunc("/transfers/{id}/receipt", h.ConfirmReceiptHandler).Methods("POST")
	r.HandleFunc("/transfers/{id}/approve", requireAdmin(h.ApproveHandler)).Methods("POST")
	r.HandleFunc("/transfers/{id}/reject", requireAdmin(h.RejectHandler)).Methods("POST")
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	acc, err := h.store.GetAccount(r.Context(), id.UserID)
	if err != nil {
		h.respondDomainError(w, err, "GET", "/accounts/balance")
		return
	}
	h.observe("GET", "/accounts/balance", http.StatusOK)
	respondWithJSON(w, http.StatusOK, acc)
}

func (h *Handler) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transactions"))
	defer timer.ObserveDuration()

	id, _ := IdentityFrom(r.Context())
	var req struct {
		Type        domain.TxType      `json:"type"`
		Amount      string             `json:"amount"`
		AccountType domain.AccountType `json:"account_type"`
		Description string             `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.observe("POST", "/transactions", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	res, err := h.transfers.CreateTransaction(r.Context(), id.UserID, req.Type, req.Amount, req.AccountType, req.Description)
	if err != nil {
		h.respondDomainError(w, err, "POST", "/transactions")
		return
	}
	h.observe("POST", "/transactions", http.StatusCreated)
	respondWithJSON(w, http.StatusCreated, res)
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	q := r.URL.Query()

	f := domain.HistoryFilter{
		AccountType: domain.AccountType(q.Get("account_type")),
		Type:        domain.TxType(q.Get("type")),
		Status:      domain.Status(q.Get("status")),
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = t
		}
	}
	page := domain.Page{Limit: 20}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		page.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		page.Offset = v
	}

	entries, totals, err := h.ledger.List(r.Context(), id.UserID, f, page)
	if err != nil {
		h.respondDomainError(w, err, "GET", "/transactions")
		return
	}
	h.observe("GET", "/transactions", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]any{
		"transactions": entries,
		"totals":       totals,
	})
}

func (h *Handler) InitiateTransferHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transfers"))
	defer timer.ObserveDuration()

	id, _ := IdentityFrom(r.Context())
	var req transfer.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.observe("POST", "/transfers", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	req.UserID = id.UserID

	res, err := h.transfers.Initiate(r.Context(), req)
	if err != nil {
		h.respondDomainError(w, err, "POST", "/transfers")
		return
	}

	h.observe("POST", "/transfers", http.StatusCreated)
	body := map[string]any{"transfer": res}
	if res.Status == domain.StatusPending {
		body["message"] = "Transfer initiated, pending approval. Funds have not moved yet."
	}
	respondWithJSON(w, http.StatusCreated, body)
}

func (h *Handler) AttachCodeHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	var req struct {
		Code  string `json:"code"`
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		h.observe("POST", "/transfers/{id}/verification-code", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Verification code required")
		return
	}
	err := h.transfers.AttachVerificationCode(r.Context(), mux.Vars(r)["id"], req.Code, id.UserID, req.Notes)
	if err != nil {
		h.respondDomainError(w, err, "POST", "/transfers/{id}/verification-code")
		return
	}
	h.observe("POST", "/transfers/{id}/verification-code", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "verification_pending"})
}

// ConfirmVerificationHandler is the callback for the external verification
// channel. That channel is trusted to have matched the code with the
// counterparty, so no code is presented here; funds still only move after
// admin approval.
func (h *Handler) ConfirmVerificationHandler(w http.ResponseWriter, r *http.Request) {
	err := h.transfers.ConfirmVerification(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondDomainError(w, err, "POST", "/transfers/{id}/verification")
		return
	}
	h.observe("POST", "/transfers/{id}/verification", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "verification_completed"})
}

func (h *Handler) ConfirmReceiptHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	err := h.transfers.ConfirmReceipt(r.Context(), mux.Vars(r)["id"], id.UserID)
	if err != nil {
		h.respondDomainError(w, err, "POST", "/transfers/{id}/receipt")
		return
	}
	h.observe("POST", "/transfers/{id}/receipt", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "receipt_confirmed"})
}

func (h *Handler) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	err := h.transfers.Approve(r.Context(), mux.Vars(r)["id"], id.UserID)
	if err != nil {
		h.respondDomainError(w, err, "POST", "/transfers/{id}/approve")
		return
	}
	h.observe("POST", "/transfers/{id}/approve", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) RejectHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.observe("POST", "/transfers/{id}/reject", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	err := h.transfers.Reject(r.Context(), mux.Vars(r)["id"], id.UserID, req.Reason)
	if err != nil {
		h.respondDomainError(w, err, "POST", "/transfers/{id}/reject")
		return
	}
	h.observe("POST", "/transfers/{id}/reject", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *Handler) EditDateHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	var req struct {
		Date time.Time `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Date.IsZero() {
		h.observe("POST", "/transactions/{id}/date", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Valid date required")
		return
	}
	tx, err := h.ledger.EditDate(r.Context(), mux.Vars(r)["id"], req.Date, id.UserID)
	if err != nil {
		h.respondDomainError(w, err, "POST", "/transactions/{id}/date")
		return
	}
	h.observe("POST", "/transactions/{id}/date", http.StatusOK)
	respondWithJSON(w, http.StatusOK, tx)
}

// respondDomainError maps domain failures onto HTTP statuses. Validation
// and conflict errors carry user-facing detail; posting failures surface
// as a retryable error with the reference preserved.
func (h *Handler) respondDomainError(w http.ResponseWriter, err error, method, endpoint string) {
	var insufficient *domain.InsufficientFundsError
	var rangeErr *domain.AmountRangeError
	var transition *domain.TransitionError
	var postErr *domain.PostingError

	switch {
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrTransactionNotFound):
		h.observe(method, endpoint, http.StatusNotFound)
		respondWithError(w, http.StatusNotFound, "Not found")
	case errors.As(err, &insufficient):
		h.observe(method, endpoint, http.StatusUnprocessableEntity)
		respondWithJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "Insufficient funds",
			"detail": insufficient,
		})
	case errors.As(err, &rangeErr):
		h.observe(method, endpoint, http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, rangeErr.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrMissingRecipient),
		errors.Is(err, domain.ErrCodeRequired),
		errors.Is(err, domain.ErrReasonRequired):
		h.observe(method, endpoint, http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &transition),
		errors.Is(err, domain.ErrCodeAlreadySet),
		errors.Is(err, domain.ErrVerificationPending),
		errors.Is(err, domain.ErrNotTransfer):
		h.observe(method, endpoint, http.StatusConflict)
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.As(err, &postErr):
		h.observe(method, endpoint, http.StatusInternalServerError)
		respondWithJSON(w, http.StatusInternalServerError, map[string]string{
			"error":     "Transfer failed, please retry",
			"reference": postErr.Reference,
		})
	default:
		h.log.Error("unhandled API error",
			zap.String("endpoint", endpoint), zap.Error(err))
		h.observe(method, endpoint, http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func (h *Handler) observe(method, endpoint string, status int) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, code int, msg string) {
	respondWithJSON(w, code, map[string]string{"error": msg})
}
