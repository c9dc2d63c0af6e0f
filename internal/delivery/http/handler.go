package httpd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
	"github.com/orang2bejo/Nakes-Link-sub000/internal/gateway"
	"github.com/orang2bejo/Nakes-Link-sub000/internal/repository"
	"github.com/orang2bejo/Nakes-Link-sub000/internal/usecase"
)

type Handler struct {
	orch     *usecase.Orchestrator
	ledger   *usecase.Ledger
	registry *gateway.Registry
	validate *validator.Validate
	log      zerolog.Logger

	// enabledGateways is the platform-level gateway allow list.
	enabledGateways []domain.GatewayID
}

func NewHandler(orch *usecase.Orchestrator, ledger *usecase.Ledger, registry *gateway.Registry, enabled []domain.GatewayID, log zerolog.Logger) *Handler {
	return &Handler{
		orch:            orch,
		ledger:          ledger,
		registry:        registry,
		validate:        validator.New(),
		log:             log.With().Str("component", "http").Logger(),
		enabledGateways: enabled,
	}
}

func (h *Handler) Routes(sig SigConfig, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Timestamp", "X-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(RequestLogger(h.log))

	r.Get("/api/v1/healthz", h.Healthz)

	r.Get("/api/v1/gateways", h.ListGateways)
	r.Post("/api/v1/gateways/recommend", h.Recommend)

	r.Post("/api/v1/payments", h.CreatePayment)
	r.Get("/api/v1/payments", h.ListPayments)
	r.Get("/api/v1/payments/{id}", h.GetPayment)
	r.Post("/api/v1/payments/{id}/method", h.SelectMethod)
	r.Post("/api/v1/payments/{id}/retry", h.RetryPayment)
	r.Post("/api/v1/payments/{id}/cancel", h.CancelPayment)

	// Provider callbacks are HMAC-signed.
	r.Group(func(r chi.Router) {
		r.Use(SignatureMiddleware(sig))
		r.Post("/api/v1/callbacks/midtrans", h.MidtransCallback)
	})

	r.Get("/api/v1/wallet/{accountId}", h.WalletBalance)
	r.Get("/api/v1/wallet/{accountId}/ledger", h.WalletLedger)
	r.Post("/api/v1/wallet/{accountId}/topup", h.WalletTopUp)
	r.Post("/api/v1/wallet/{accountId}/withdraw", h.WalletWithdraw)
	r.Post("/api/v1/wallet/transfer", h.WalletTransfer)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeDomainErr maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrConflict):
		writeErr(w, http.StatusConflict, "conflicting state")
	case errors.Is(err, domain.ErrOrderHasOpenAttempt):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRetryNotAllowed):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRetryBudgetExhausted):
		writeErr(w, http.StatusTooManyRequests, "retry budget exhausted, contact support")
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeErr(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrPaymentExpired):
		writeErr(w, http.StatusGone, err.Error())
	case errors.Is(err, domain.ErrGatewayTimeout):
		writeErr(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, domain.ErrGatewayUnavailable), errors.Is(err, gateway.ErrUnknownGateway):
		writeErr(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Msg("internal error")
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/v1/gateways
func (h *Handler) ListGateways(w http.ResponseWriter, r *http.Request) {
	descs := h.registry.ListEnabled(h.enabledGateways)
	out := make([]GatewayItem, 0, len(descs))
	for _, d := range descs {
		methods := make([]string, 0, len(d.Methods))
		for _, m := range d.Methods {
			methods = append(methods, string(m))
		}
		out = append(out, GatewayItem{
			ID:             string(d.ID),
			Name:           d.Name,
			ProcessingTime: d.ProcessingTime,
			Methods:        methods,
			Available:      h.registry.Available(d.ID),
			MultiMethod:    d.MultiMethod,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /api/v1/gateways/recommend
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendReq
	if !h.decode(w, r, &req) {
		return
	}

	enabled := make([]domain.GatewayID, 0, len(req.EnabledGateways))
	for _, id := range req.EnabledGateways {
		enabled = append(enabled, domain.GatewayID(id))
	}

	gw, err := h.orch.SelectGateway(r.Context(), req.Order.toDomain(), enabled, domain.GatewayID(req.Preferred), req.WalletAccountID)
	if err != nil {
		h.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RecommendResp{Gateway: string(gw)})
}

// POST /api/v1/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentReq
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.orch.Create(r.Context(), usecase.CreateInput{
		Order:           req.Order.toDomain(),
		Gateway:         domain.GatewayID(req.Gateway),
		Method:          domain.MethodID(req.Method),
		WalletAccountID: req.WalletAccountID,
	})
	if err != nil {
		// A failed attempt still carries a transaction record the
		// caller can inspect and retry.
		if tx != nil {
			writeJSON(w, statusForFailedCreate(err), tx)
			return
		}
		h.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func statusForFailedCreate(err error) int {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrGatewayTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// GET /api/v1/payments?orderId=&gateway=&status=&limit=&offset=
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TxFilter{
		OrderID: q.Get("orderId"),
		Gateway: domain.GatewayID(q.Get("gateway")),
		Status:  domain.TxStatus(q.Get("status")),
	}

	limit, offset := 50, 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	items, err := h.orch.List(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeDomainErr(w, err)
		return
	}
	if items == nil {
		items = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, items)
}

// GET /api/v1/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	tx, err := h.orch.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// POST /api/v1/payments/{id}/method
func (h *Handler) SelectMethod(w http.ResponseWriter, r *http.Request) {
	var req SelectMethodReq
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.orch.SelectMethod(r.Context(), chi.URLParam(r, "id"), domain.MethodID(req.Method))
	if err != nil {
		if tx != nil {
			writeJSON(w, statusForFailedCreate(err), tx)
			return
		}
		h.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// POST /api/v1/payments/{id}/retry
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	tx, err := h.orch.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if tx != nil {
			writeJSON(w, statusForFailedCreate(err), tx)
			return
		}
		h.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// POST /api/v1/payments/{id}/cancel
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/callbacks/midtrans
func (h *Handler) MidtransCallback(w http.ResponseWriter, r *http.Request) {
	var req MidtransCallbackReq
	if !h.decode(w, r, &req) {
		return
	}

	var result usecase.CallbackResult
	switch req.Result {
	case "success":
		result = usecase.CallbackSuccess
	case "pending":
		result = usecase.CallbackPending
	default:
		result = usecase.CallbackError
	}

	tx, err := h.orch.ResolveCallback(r.Context(), req.TransactionID, result, req.TransactionTime, req.StatusCode)
	if err != nil {
		h.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GET /api/v1/wallet/{accountId}
func (h *Handler) WalletBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	balance, err := h.ledger.Balance(r.Context(), accountID)
	if err != nil {
		h.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResp{AccountID: accountID, Balance: balance})
}

// GET /api/v1/wallet/{accountId}/ledger?limit=&offset=
func (h *Handler) WalletLedger(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	limit, offset := 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, err := h.ledger.Entries(r.Context(), accountID, limit, offset)
	if err != nil {
		h.writeDomainErr(w, err)
		return
	}
	if entries == nil {
		entries = []domain.WalletLedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// POST /api/v1/wallet/{accountId}/topup
func (h *Handler) WalletTopUp(w http.ResponseWriter, r *http.Request) {
	var req TopUpReq
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.ledger.TopUp(r.Context(), chi.URLParam(r, "accountId"), req.Amount, req.Reference)
	if err != nil {
		h.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// POST /api/v1/wallet/{accountId}/withdraw
func (h *Handler) WalletWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawReq
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.ledger.Withdraw(r.Context(), chi.URLParam(r, "accountId"), req.Amount, req.Fee, req.Destination)
	if err != nil {
		h.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// POST /api/v1/wallet/transfer
func (h *Handler) WalletTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferReq
	if !h.decode(w, r, &req) {
		return
	}

	out, in, err := h.ledger.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount, req.Description)
	if err != nil {
		h.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransferResp{Out: *out, In: *in})
}
