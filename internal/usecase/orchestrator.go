package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
	"github.com/orang2bejo/Nakes-Link-sub000/internal/gateway"
	"github.com/orang2bejo/Nakes-Link-sub000/internal/repository"
)

// Orchestrator drives the lifecycle of payment attempts: create,
// await confirmation (callback or polling), terminal resolution,
// retry. All state transitions funnel through here and go to the
// repository as conditional updates, so a transaction that reached a
// terminal state never moves again.
type Orchestrator struct {
	repo     *repository.SQLiteRepo
	registry *gateway.Registry
	selector *gateway.Selector
	adapters map[domain.GatewayID]gateway.ProviderAdapter
	poller   *Poller

	// adapterTimeout bounds every provider create call.
	adapterTimeout time.Duration
	retryLocks     *keyedMutex
	log            zerolog.Logger
}

func NewOrchestrator(
	repo *repository.SQLiteRepo,
	registry *gateway.Registry,
	selector *gateway.Selector,
	adapters map[domain.GatewayID]gateway.ProviderAdapter,
	poller *Poller,
	adapterTimeout time.Duration,
	log zerolog.Logger,
) *Orchestrator {
	if adapterTimeout <= 0 {
		adapterTimeout = 30 * time.Second
	}
	return &Orchestrator{
		repo:           repo,
		registry:       registry,
		selector:       selector,
		adapters:       adapters,
		poller:         poller,
		adapterTimeout: adapterTimeout,
		retryLocks:     newKeyedMutex(),
		log:            log.With().Str("component", "orchestrator").Logger(),
	}
}

// SelectGateway resolves the gateway for an order, honoring an
// explicit preference when it is enabled and available.
func (o *Orchestrator) SelectGateway(ctx context.Context, order domain.Order, enabled []domain.GatewayID, preferred domain.GatewayID, walletAccountID string) (domain.GatewayID, error) {
	var balance int64
	for _, id := range enabled {
		if id == domain.GatewayWallet && walletAccountID != "" {
			b, err := o.walletBalance(ctx, walletAccountID)
			if err != nil {
				return "", err
			}
			balance = b
			break
		}
	}
	return o.selector.Choose(order, enabled, preferred, balance)
}

func (o *Orchestrator) walletBalance(ctx context.Context, accountID string) (int64, error) {
	a, err := o.repo.GetAccount(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return a.BalanceMinor, nil
}

// CreateInput is the caller-facing request for a new payment attempt.
type CreateInput struct {
	Order           domain.Order
	Gateway         domain.GatewayID
	Method          domain.MethodID
	WalletAccountID string
}

// Create validates the order, opens a transaction and hands it to the
// provider adapter. Multi-method gateways without an explicit method
// stop at AWAITING_METHOD_SELECTION until SelectMethod is called.
func (o *Orchestrator) Create(ctx context.Context, in CreateInput) (*domain.Transaction, error) {
	if err := validateOrder(in.Order); err != nil {
		return nil, err
	}

	desc, err := o.registry.Describe(in.Gateway)
	if err != nil {
		return nil, err
	}
	if !o.registry.Available(in.Gateway) {
		return nil, domain.ErrGatewayUnavailable
	}

	open, err := o.repo.HasOpenTransaction(ctx, in.Order.ID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, domain.ErrOrderHasOpenAttempt
	}

	return o.createAttempt(ctx, in, desc, 0)
}

func (o *Orchestrator) createAttempt(ctx context.Context, in CreateInput, desc gateway.Descriptor, retryCount int) (*domain.Transaction, error) {
	method := in.Method
	if method == "" {
		if desc.MultiMethod {
			tx := o.newTransaction(in, "", 0, retryCount)
			tx.Status = domain.StatusAwaitingMethod
			if err := o.repo.InsertTransaction(ctx, tx); err != nil {
				return nil, err
			}
			o.log.Info().Str("tx_id", tx.ID).Str("order_id", tx.OrderID).Msg("awaiting method selection")
			return tx, nil
		}
		method = desc.Methods[0]
	} else if !methodSupported(desc, method) {
		return nil, domain.NewValidationError("method", "not supported by gateway "+string(desc.ID))
	}

	fee := o.registry.Fee(in.Gateway, method, in.Order.AmountMinor)
	tx := o.newTransaction(in, method, fee, retryCount)
	if err := o.repo.InsertTransaction(ctx, tx); err != nil {
		return nil, err
	}

	return o.dispatch(ctx, tx)
}

func (o *Orchestrator) newTransaction(in CreateInput, method domain.MethodID, fee int64, retryCount int) *domain.Transaction {
	return &domain.Transaction{
		ID:              uuid.New().String(),
		OrderID:         in.Order.ID,
		Order:           in.Order,
		Gateway:         in.Gateway,
		Method:          method,
		AmountMinor:     in.Order.AmountMinor + fee,
		FeeMinor:        fee,
		Status:          domain.StatusCreated,
		RetryCount:      retryCount,
		WalletAccountID: in.WalletAccountID,
		CreatedAt:       time.Now(),
	}
}

// SelectMethod continues a transaction parked at
// AWAITING_METHOD_SELECTION with the chosen payment method.
func (o *Orchestrator) SelectMethod(ctx context.Context, txID string, method domain.MethodID) (*domain.Transaction, error) {
	tx, err := o.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusAwaitingMethod {
		return nil, repository.ErrConflict
	}

	desc, err := o.registry.Describe(tx.Gateway)
	if err != nil {
		return nil, err
	}
	if !methodSupported(desc, method) {
		return nil, domain.NewValidationError("method", "not supported by gateway "+string(desc.ID))
	}

	fee := o.registry.Fee(tx.Gateway, method, tx.Order.AmountMinor)
	if err := o.repo.SetMethodAndFee(ctx, txID, method, fee, tx.Order.AmountMinor+fee); err != nil {
		return nil, err
	}
	if err := o.repo.TransitionStatus(ctx, txID,
		[]domain.TxStatus{domain.StatusAwaitingMethod}, domain.StatusCreated, nil, ""); err != nil {
		return nil, err
	}

	tx.Method = method
	tx.FeeMinor = fee
	tx.AmountMinor = tx.Order.AmountMinor + fee
	tx.Status = domain.StatusCreated
	return o.dispatch(ctx, tx)
}

// dispatch performs the provider create call and moves the transaction
// to its post-create state. Adapter failures leave it FAILED; for the
// wallet a refused ledger write is exactly such a failure, so a
// SUCCEEDED wallet payment always has its debit recorded.
func (o *Orchestrator) dispatch(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	adapter, ok := o.adapters[tx.Gateway]
	if !ok {
		o.markFailed(ctx, tx, "adapter_missing")
		return tx, domain.ErrGatewayUnavailable
	}

	actx, cancel := context.WithTimeout(ctx, o.adapterTimeout)
	defer cancel()

	ref, err := adapter.CreateTransaction(actx, gateway.CreateRequest{
		Order:           tx.Order,
		Method:          tx.Method,
		TotalMinor:      tx.AmountMinor,
		WalletAccountID: tx.WalletAccountID,
	})
	if err != nil {
		o.markFailed(ctx, tx, failureCode(err))
		o.log.Warn().Err(err).Str("tx_id", tx.ID).Str("gateway", string(tx.Gateway)).Msg("provider create failed")
		return tx, err
	}

	if err := o.repo.SetExternalRefs(ctx, tx.ID, ref.ExternalID, ref.Refs, ref.ExpiresAt); err != nil {
		return nil, err
	}
	tx.ExternalID = ref.ExternalID
	tx.Refs = ref.Refs
	tx.ExpiresAt = ref.ExpiresAt

	if ref.Settled {
		if err := o.repo.TransitionStatus(ctx, tx.ID,
			[]domain.TxStatus{domain.StatusCreated}, domain.StatusSucceeded, ref.PaidAt, ""); err != nil {
			return nil, err
		}
		tx.Status = domain.StatusSucceeded
		tx.PaidAt = ref.PaidAt
		o.log.Info().Str("tx_id", tx.ID).Msg("settled synchronously")
		return tx, nil
	}

	if err := o.repo.TransitionStatus(ctx, tx.ID,
		[]domain.TxStatus{domain.StatusCreated}, domain.StatusPendingConfirm, nil, ""); err != nil {
		return nil, err
	}
	tx.Status = domain.StatusPendingConfirm

	if adapter.SupportsPolling() {
		o.poller.Start(tx.ID, o.pollCheck(tx.ID, tx.ExternalID, tx.ExpiresAt, adapter))
	}
	o.log.Info().Str("tx_id", tx.ID).Str("gateway", string(tx.Gateway)).Msg("pending confirmation")
	return tx, nil
}

// pollCheck builds the per-tick status check. Expiry is evaluated
// first: once the window has passed the transaction goes EXPIRED
// without another provider call, and a later PAID cannot override it.
func (o *Orchestrator) pollCheck(txID, externalID string, expiresAt *time.Time, adapter gateway.ProviderAdapter) pollFunc {
	return func(ctx context.Context) bool {
		if expiresAt != nil && time.Now().After(*expiresAt) {
			o.expire(context.WithoutCancel(ctx), txID)
			return true
		}

		st, err := adapter.CheckStatus(ctx, externalID)
		if err != nil {
			// Transient; next tick retries.
			o.log.Warn().Err(err).Str("tx_id", txID).Msg("status poll failed")
			return false
		}

		switch st.Status {
		case domain.StatusSucceeded:
			o.transitionPending(ctx, txID, domain.StatusSucceeded, st.PaidAt, "")
			return true
		case domain.StatusFailed:
			o.transitionPending(ctx, txID, domain.StatusFailed, nil, st.FailureCode)
			return true
		case domain.StatusExpired:
			o.transitionPending(ctx, txID, domain.StatusExpired, nil, "")
			return true
		default:
			return false
		}
	}
}

func (o *Orchestrator) transitionPending(ctx context.Context, txID string, to domain.TxStatus, paidAt *time.Time, code string) {
	err := o.repo.TransitionStatus(ctx, txID,
		[]domain.TxStatus{domain.StatusPendingConfirm}, to, paidAt, code)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		o.log.Error().Err(err).Str("tx_id", txID).Str("to", string(to)).Msg("transition failed")
		return
	}
	if err == nil {
		o.log.Info().Str("tx_id", txID).Str("status", string(to)).Msg("transaction resolved")
	}
}

func (o *Orchestrator) expire(ctx context.Context, txID string) {
	err := o.repo.TransitionStatus(ctx, txID,
		[]domain.TxStatus{domain.StatusCreated, domain.StatusAwaitingMethod, domain.StatusPendingConfirm},
		domain.StatusExpired, nil, "")
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		o.log.Error().Err(err).Str("tx_id", txID).Msg("expiry transition failed")
		return
	}
	if err == nil {
		o.log.Info().Str("tx_id", txID).Msg("transaction expired")
	}
}

func (o *Orchestrator) markFailed(ctx context.Context, tx *domain.Transaction, code string) {
	err := o.repo.TransitionStatus(ctx, tx.ID,
		[]domain.TxStatus{domain.StatusCreated, domain.StatusPendingConfirm},
		domain.StatusFailed, nil, code)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		o.log.Error().Err(err).Str("tx_id", tx.ID).Msg("failure transition failed")
	}
	tx.Status = domain.StatusFailed
	tx.FailureCode = code
}

// GetStatus loads a transaction, expiring it lazily when its
// confirmation window has already passed.
func (o *Orchestrator) GetStatus(ctx context.Context, txID string) (*domain.Transaction, error) {
	tx, err := o.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	if !tx.Status.Terminal() && tx.ExpiresAt != nil && time.Now().After(*tx.ExpiresAt) {
		o.expire(ctx, txID)
		o.poller.Stop(txID)
		return o.repo.GetTransaction(ctx, txID)
	}
	return tx, nil
}

// List returns transactions matching the filter.
func (o *Orchestrator) List(ctx context.Context, f repository.TxFilter, limit, offset int) ([]domain.Transaction, error) {
	return o.repo.ListTransactions(ctx, f, limit, offset)
}

// Retry replaces a FAILED or EXPIRED transaction with a fresh attempt
// for the same order. Idempotent: concurrent calls on the same
// transaction yield the same replacement, never two.
func (o *Orchestrator) Retry(ctx context.Context, txID string) (*domain.Transaction, error) {
	unlock := o.retryLocks.Lock(txID)
	defer unlock()

	old, err := o.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	if old.Status == domain.StatusRetried {
		if old.RetriedBy == "" {
			return nil, repository.ErrConflict
		}
		return o.repo.GetTransaction(ctx, old.RetriedBy)
	}
	if old.Status != domain.StatusFailed && old.Status != domain.StatusExpired {
		return nil, domain.ErrRetryNotAllowed
	}
	if old.RetryCount >= domain.MaxRetries {
		return nil, domain.ErrRetryBudgetExhausted
	}

	desc, err := o.registry.Describe(old.Gateway)
	if err != nil {
		return nil, err
	}
	if !o.registry.Available(old.Gateway) {
		return nil, domain.ErrGatewayUnavailable
	}

	in := CreateInput{
		Order:           old.Order,
		Gateway:         old.Gateway,
		Method:          old.Method,
		WalletAccountID: old.WalletAccountID,
	}

	// Stamp the old transaction first so a racing retry observes the
	// marker instead of creating a second replacement.
	newID := uuid.New().String()
	if err := o.repo.MarkRetried(ctx, old.ID, newID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			cur, gerr := o.repo.GetTransaction(ctx, old.ID)
			if gerr == nil && cur.RetriedBy != "" {
				return o.repo.GetTransaction(ctx, cur.RetriedBy)
			}
		}
		return nil, err
	}

	fee := o.registry.Fee(in.Gateway, in.Method, in.Order.AmountMinor)
	tx := o.newTransaction(in, in.Method, fee, old.RetryCount+1)
	tx.ID = newID
	if in.Method == "" && desc.MultiMethod {
		tx.Status = domain.StatusAwaitingMethod
		tx.FeeMinor = 0
		tx.AmountMinor = in.Order.AmountMinor
		if err := o.repo.InsertTransaction(ctx, tx); err != nil {
			return nil, err
		}
		return tx, nil
	}
	if err := o.repo.InsertTransaction(ctx, tx); err != nil {
		return nil, err
	}

	o.log.Info().Str("old_tx_id", old.ID).Str("tx_id", tx.ID).Int("retry", tx.RetryCount).Msg("retrying payment")
	newTx, derr := o.dispatch(ctx, tx)
	if derr != nil {
		// The replacement exists and is FAILED; the caller sees the
		// translated error plus the new attempt.
		return tx, derr
	}
	return newTx, nil
}

// Cancel stops the background polling task for a transaction. It does
// not change the transaction's state.
func (o *Orchestrator) Cancel(ctx context.Context, txID string) error {
	if _, err := o.repo.GetTransaction(ctx, txID); err != nil {
		return err
	}
	o.poller.Stop(txID)
	o.log.Info().Str("tx_id", txID).Msg("polling cancelled")
	return nil
}

// CallbackResult is a hosted-widget outcome (Midtrans-style push
// confirmation).
type CallbackResult string

const (
	CallbackSuccess CallbackResult = "success"
	CallbackPending CallbackResult = "pending"
	CallbackError   CallbackResult = "error"
)

// ResolveCallback ingests a widget callback. The reference may be the
// transaction id or the provider token. An expired window wins over a
// late success.
func (o *Orchestrator) ResolveCallback(ctx context.Context, ref string, result CallbackResult, paidAt *time.Time, failureCode string) (*domain.Transaction, error) {
	tx, err := o.repo.GetTransaction(ctx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		tx, err = o.repo.GetTransactionByExternalID(ctx, ref)
	}
	if err != nil {
		return nil, err
	}

	if tx.Status.Terminal() {
		// Widget closed and reopened, or duplicate callback. State
		// stays as is.
		return tx, nil
	}

	if tx.ExpiresAt != nil && time.Now().After(*tx.ExpiresAt) {
		// Confirmation window elapsed; even a success callback cannot
		// resurrect the attempt.
		o.expire(ctx, tx.ID)
		return o.repo.GetTransaction(ctx, tx.ID)
	}

	switch result {
	case CallbackSuccess:
		o.transitionPending(ctx, tx.ID, domain.StatusSucceeded, paidAt, "")
	case CallbackPending:
		// Already pending; nothing to do beyond acknowledging.
	case CallbackError:
		o.transitionPending(ctx, tx.ID, domain.StatusFailed, nil, failureCode)
	default:
		return nil, domain.NewValidationError("result", "unknown callback result")
	}
	return o.repo.GetTransaction(ctx, tx.ID)
}

func methodSupported(desc gateway.Descriptor, method domain.MethodID) bool {
	for _, m := range desc.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func validateOrder(order domain.Order) error {
	if order.ID == "" {
		return domain.NewValidationError("order.id", "required")
	}
	if order.AmountMinor < domain.MinOrderAmount {
		return domain.NewValidationError("order.amount", "below platform minimum")
	}
	if order.AmountMinor > domain.MaxOrderAmount {
		return domain.NewValidationError("order.amount", "above platform maximum")
	}
	if order.Customer.Name == "" {
		return domain.NewValidationError("order.customer.name", "required")
	}
	if order.Customer.Email == "" {
		return domain.NewValidationError("order.customer.email", "required")
	}
	return nil
}

func failureCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrGatewayTimeout):
		return "gateway_timeout"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, domain.ErrNetwork):
		return "network_error"
	default:
		return "provider_error"
	}
}
