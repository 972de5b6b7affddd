package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/banking-ledger/internal/httputil"
	"github.com/sheikh-saqib/banking-ledger/internal/ledger"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	ledger *ledger.Ledger
	log    *zap.Logger
}

func NewHandler(l *ledger.Ledger, log *zap.Logger) *Handler {
	return &Handler{ledger: l, log: log}
}

type createAccountRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
	// string or number
	InitialBalance json.RawMessage `json:"initial_balance"`
}

type postRequest struct {
	Amount      json.RawMessage `json:"amount"`
	Description string          `json:"description"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateAccount handles POST /accounts.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	var initial *string
	if raw, ok := rawAmount(req.InitialBalance); ok {
		initial = &raw
	}
	acct, err := h.ledger.CreateAccount(r.Context(), ledger.CreateAccountRequest{
		Name:           req.Name,
		Email:          req.Email,
		Contact:        req.Contact,
		InitialBalance: initial,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newAccountView(acct))
}

// GetAccount handles GET /accounts/{id}?transactions=bool&tx_limit=int&tx_offset=int.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, offset, ok := h.pageParams(w, q.Get("tx_limit"), q.Get("tx_offset"))
	if !ok {
		return
	}
	include := truthy(q.Get("transactions"))

	details, err := h.ledger.GetAccount(r.Context(), id, ledger.GetAccountOptions{
		IncludeTransactions: include,
		Limit:               limit,
		Offset:              offset,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	view := newAccountView(details.Account)
	if include {
		txs := newTransactionViews(details.Transactions)
		view.Transactions = &txs
	}
	h.writeJSON(w, http.StatusOK, view)
}

// ListAccounts handles GET /accounts?limit=int&offset=int.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, ok := h.pageParams(w, q.Get("limit"), q.Get("offset"))
	if !ok {
		return
	}

	accounts, err := h.ledger.ListAccounts(r.Context(), limit, offset)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, newAccountView(a))
	}
	h.writeJSON(w, http.StatusOK, views)
}

// ListTransactions handles GET /accounts/{id}/transactions?limit=int&offset=int.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, offset, ok := h.pageParams(w, q.Get("limit"), q.Get("offset"))
	if !ok {
		return
	}

	txs, err := h.ledger.ListTransactions(r.Context(), id, limit, offset)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newTransactionViews(txs))
}

// Deposit handles POST /accounts/{id}/deposit.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, h.ledger.Deposit)
}

// Withdraw handles POST /accounts/{id}/withdraw.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, h.ledger.Withdraw)
}

type postFunc = func(ctx context.Context, id int64, req ledger.PostRequest) (ledger.PostResult, error)

func (h *Handler) post(w http.ResponseWriter, r *http.Request, do postFunc) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var req postRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	amount, _ := rawAmount(req.Amount)
	res, err := do(r.Context(), id, ledger.PostRequest{
		Amount:         amount,
		Description:    req.Description,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	h.writeJSON(w, code, postView{
		Account:     newAccountView(res.Account),
		Transaction: newTransactionView(res.Transaction),
	})
}

// writeLedgerError maps service errors onto status codes.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, models.ErrEmailInUse):
		h.writeError(w, http.StatusConflict, "Email already in use")
	case errors.Is(err, models.ErrInsufficientFunds):
		h.writeError(w, http.StatusConflict, "Insufficient funds")
	case errors.Is(err, models.ErrBalanceLimit):
		h.writeError(w, http.StatusConflict, "Balance limit exceeded")
	case errors.Is(err, models.ErrIdempotencyConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	h.logWriteFailure(code, httputil.WriteJSON(w, code, v))
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.logWriteFailure(code, httputil.WriteError(w, code, msg))
}

func (h *Handler) logWriteFailure(code int, err error) {
	if err != nil {
		h.log.Warn("failed to write response", zap.Int("status", code), zap.Error(err))
	}
}

// decodeBody reads a JSON object into dst. An empty, malformed or non-object
// body is answered with 400.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid or missing JSON body")
		return false
	}
	return true
}

// rawAmount turns a JSON string or number into the text ParseAmount expects.
// ok is false when the field was absent or null; an empty string is
// supplied and left for ParseAmount to reject.
func rawAmount(raw json.RawMessage) (amount string, ok bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

// accountID parses {id}. Anything that is not an integer cannot name an
// account, so it is reported as 404 rather than 400.
func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Account not found")
		return 0, false
	}
	return id, true
}

func (h *Handler) pageParams(w http.ResponseWriter, rawLimit, rawOffset string) (int, int, bool) {
	limit, offset := models.DefaultPageSize, 0
	var err error
	if rawLimit != "" {
		if limit, err = strconv.Atoi(rawLimit); err != nil {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return 0, 0, false
		}
	}
	if rawOffset != "" {
		if offset, err = strconv.Atoi(rawOffset); err != nil {
			h.writeError(w, http.StatusBadRequest, "offset must be an integer")
			return 0, 0, false
		}
	}
	limit, offset = models.ClampPage(limit, offset)
	return limit, offset, true
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		return true
	}
	return false
}
