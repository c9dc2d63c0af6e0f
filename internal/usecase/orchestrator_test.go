package usecase

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
	"github.com/orang2bejo/Nakes-Link-sub000/internal/gateway"
	"github.com/orang2bejo/Nakes-Link-sub000/internal/repository"
)

// fakeAdapter scripts provider behavior for lifecycle tests.
type fakeAdapter struct {
	mu        sync.Mutex
	ref       gateway.ProviderRef
	createErr error
	status    gateway.ProviderStatus
	statusErr error
	polling   bool
	creates   int
}

func (f *fakeAdapter) CreateTransaction(ctx context.Context, req gateway.CreateRequest) (*gateway.ProviderRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	ref := f.ref
	return &ref, nil
}

func (f *fakeAdapter) CheckStatus(ctx context.Context, externalID string) (*gateway.ProviderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	st := f.status
	return &st, nil
}

func (f *fakeAdapter) SupportsPolling() bool { return f.polling }

func (f *fakeAdapter) Healthy(ctx context.Context) bool { return true }

func (f *fakeAdapter) setStatus(st gateway.ProviderStatus) {
	f.mu.Lock()
	f.status = st
	f.mu.Unlock()
}

func (f *fakeAdapter) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

type testHarness struct {
	orch   *Orchestrator
	ledger *Ledger
	repo   *repository.SQLiteRepo
	poller *Poller
}

func newHarness(t *testing.T, adapters map[domain.GatewayID]gateway.ProviderAdapter) *testHarness {
	t.Helper()
	repo, err := repository.NewSQLiteRepo(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	log := zerolog.Nop()
	ledger := NewLedger(repo, log)
	if adapters == nil {
		adapters = map[domain.GatewayID]gateway.ProviderAdapter{}
	}
	if _, ok := adapters[domain.GatewayWallet]; !ok {
		adapters[domain.GatewayWallet] = gateway.NewWalletAdapter(ledger, log)
	}

	reg := gateway.NewRegistry(nil, time.Second)
	sel := gateway.NewSelector(reg, 50_000)
	poller := NewPoller(10*time.Millisecond, time.Second, log)
	t.Cleanup(poller.Shutdown)

	return &testHarness{
		orch:   NewOrchestrator(repo, reg, sel, adapters, poller, time.Second, log),
		ledger: ledger,
		repo:   repo,
		poller: poller,
	}
}

func orderOf(id string, amount int64) domain.Order {
	return domain.Order{
		ID:          id,
		AmountMinor: amount,
		Customer:    domain.Customer{Name: "Dewi", Email: "dewi@example.com", Phone: "0813"},
		Items:       []domain.OrderItem{{Name: "Konsultasi dokter", PriceMinor: amount, Quantity: 1}},
	}
}

func TestCreateRejectsOutOfBoundsAmount(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.orch.Create(ctx, CreateInput{Order: orderOf("ORD-1", 999), Gateway: domain.GatewayWallet})
	assert.True(t, domain.IsValidation(err))

	_, err = h.orch.Create(ctx, CreateInput{Order: orderOf("ORD-1", 50_000_001), Gateway: domain.GatewayWallet})
	assert.True(t, domain.IsValidation(err))

	missingName := orderOf("ORD-1", 10_000)
	missingName.Customer.Name = ""
	_, err = h.orch.Create(ctx, CreateInput{Order: missingName, Gateway: domain.GatewayWallet})
	assert.True(t, domain.IsValidation(err))
}

func TestWalletPaymentSettlesSynchronously(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.ledger.TopUp(ctx, "acct-1", 200_000, "")
	require.NoError(t, err)

	tx, err := h.orch.Create(ctx, CreateInput{
		Order:           orderOf("ORD-1", 150_000),
		Gateway:         domain.GatewayWallet,
		WalletAccountID: "acct-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, tx.Status)
	require.NotNil(t, tx.PaidAt)
	assert.Zero(t, tx.FeeMinor)

	balance, err := h.ledger.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), balance)

	entries, err := h.ledger.Entries(ctx, "acct-1", 50, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.LedgerPayment, entries[0].Type)
	assert.Equal(t, int64(-150_000), entries[0].AmountMinor)
}

func TestWalletPaymentInsufficientBalanceFails(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.ledger.TopUp(ctx, "acct-1", 50_000, "")
	require.NoError(t, err)

	tx, err := h.orch.Create(ctx, CreateInput{
		Order:           orderOf("ORD-1", 150_000),
		Gateway:         domain.GatewayWallet,
		WalletAccountID: "acct-1",
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	require.NotNil(t, tx)
	assert.Equal(t, domain.StatusFailed, tx.Status)
	assert.Equal(t, "insufficient_balance", tx.FailureCode)

	// No partial debit.
	balance, err := h.ledger.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), balance)
}

func TestCreateHostedWidgetGoesPending(t *testing.T) {
	mid := &fakeAdapter{ref: gateway.ProviderRef{
		ExternalID: "snap-1",
		Refs:       domain.ExternalRefs{Token: "snap-1", RedirectURL: "https://pay.example/snap-1"},
	}}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayMidtrans: mid})

	tx, err := h.orch.Create(context.Background(), CreateInput{
		Order:   orderOf("ORD-1", 100_000),
		Gateway: domain.GatewayMidtrans,
		Method:  domain.MethodCreditCard,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirm, tx.Status)
	assert.Equal(t, "snap-1", tx.Refs.Token)
	// Push-confirmed gateways get no polling task.
	assert.False(t, h.poller.Active(tx.ID))
}

func TestCreateRefusesSecondOpenAttempt(t *testing.T) {
	mid := &fakeAdapter{ref: gateway.ProviderRef{ExternalID: "snap-1"}}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayMidtrans: mid})
	ctx := context.Background()

	_, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayMidtrans, Method: domain.MethodCreditCard,
	})
	require.NoError(t, err)

	_, err = h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayMidtrans, Method: domain.MethodCreditCard,
	})
	assert.ErrorIs(t, err, domain.ErrOrderHasOpenAttempt)
}

func TestMultiMethodParksUntilSelection(t *testing.T) {
	expires := time.Now().Add(24 * time.Hour)
	xnd := &fakeAdapter{
		polling: true,
		ref: gateway.ProviderRef{
			ExternalID: "xnd-1",
			Refs:       domain.ExternalRefs{VANumber: "8808"},
			ExpiresAt:  &expires,
		},
		status: gateway.ProviderStatus{Status: domain.StatusPendingConfirm},
	}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayXendit: xnd})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayXendit})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingMethod, tx.Status)
	assert.Zero(t, xnd.createCount())

	tx, err = h.orch.SelectMethod(ctx, tx.ID, domain.MethodBCAVA)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirm, tx.Status)
	assert.Equal(t, domain.MethodBCAVA, tx.Method)
	assert.Equal(t, int64(4_500), tx.FeeMinor)
	assert.True(t, h.poller.Active(tx.ID))

	// The choice is one-shot.
	_, err = h.orch.SelectMethod(ctx, tx.ID, domain.MethodQRIS)
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestSelectMethodRejectsUnsupported(t *testing.T) {
	xnd := &fakeAdapter{polling: true, ref: gateway.ProviderRef{ExternalID: "xnd-1"}}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayXendit: xnd})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayXendit})
	require.NoError(t, err)

	_, err = h.orch.SelectMethod(ctx, tx.ID, domain.MethodID("cash"))
	assert.True(t, domain.IsValidation(err))
}

func TestPollingResolvesPaid(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	xnd := &fakeAdapter{
		polling: true,
		ref:     gateway.ProviderRef{ExternalID: "xnd-1", ExpiresAt: &expires},
		status:  gateway.ProviderStatus{Status: domain.StatusPendingConfirm},
	}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayXendit: xnd})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayXendit, Method: domain.MethodBCAVA,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirm, tx.Status)

	paidAt := time.Now()
	xnd.setStatus(gateway.ProviderStatus{Status: domain.StatusSucceeded, PaidAt: &paidAt})

	require.Eventually(t, func() bool {
		got, err := h.repo.GetTransaction(ctx, tx.ID)
		return err == nil && got.Status == domain.StatusSucceeded
	}, time.Second, 10*time.Millisecond)

	// Task deregisters itself after the terminal tick.
	assert.Eventually(t, func() bool { return !h.poller.Active(tx.ID) }, time.Second, 10*time.Millisecond)
}

func TestExpiryBeatsLatePaid(t *testing.T) {
	expires := time.Now().Add(-time.Minute)
	paidAt := time.Now()
	xnd := &fakeAdapter{
		polling: true,
		ref:     gateway.ProviderRef{ExternalID: "xnd-1", ExpiresAt: &expires},
		// The provider would report PAID, but the window is already
		// past; expiry must win without another provider call.
		status: gateway.ProviderStatus{Status: domain.StatusSucceeded, PaidAt: &paidAt},
	}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayXendit: xnd})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayXendit, Method: domain.MethodBCAVA,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := h.repo.GetTransaction(ctx, tx.ID)
		return err == nil && got.Status == domain.StatusExpired
	}, time.Second, 10*time.Millisecond)

	got, err := h.repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
	assert.Nil(t, got.PaidAt)
}

func TestPollTransientErrorKeepsPolling(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	xnd := &fakeAdapter{
		polling:   true,
		ref:       gateway.ProviderRef{ExternalID: "xnd-1", ExpiresAt: &expires},
		statusErr: domain.ErrNetwork,
	}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayXendit: xnd})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayXendit, Method: domain.MethodBCAVA,
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	got, err := h.repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirm, got.Status)
	assert.True(t, h.poller.Active(tx.ID))
}

func TestGetStatusExpiresLazily(t *testing.T) {
	expires := time.Now().Add(20 * time.Millisecond)
	mid := &fakeAdapter{ref: gateway.ProviderRef{ExternalID: "snap-1", ExpiresAt: &expires}}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayMidtrans: mid})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayMidtrans, Method: domain.MethodCreditCard,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirm, tx.Status)

	time.Sleep(30 * time.Millisecond)
	got, err := h.orch.GetStatus(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
}

func TestCancelStopsPollingWithoutStateChange(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	xnd := &fakeAdapter{
		polling: true,
		ref:     gateway.ProviderRef{ExternalID: "xnd-1", ExpiresAt: &expires},
		status:  gateway.ProviderStatus{Status: domain.StatusPendingConfirm},
	}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayXendit: xnd})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayXendit, Method: domain.MethodBCAVA,
	})
	require.NoError(t, err)
	require.True(t, h.poller.Active(tx.ID))

	require.NoError(t, h.orch.Cancel(ctx, tx.ID))
	assert.Eventually(t, func() bool { return !h.poller.Active(tx.ID) }, time.Second, 10*time.Millisecond)

	got, err := h.repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirm, got.Status)
}

func TestRetryReplacesFailedAttempt(t *testing.T) {
	mid := &fakeAdapter{createErr: domain.ErrGatewayTimeout}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayMidtrans: mid})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayMidtrans, Method: domain.MethodCreditCard,
	})
	require.ErrorIs(t, err, domain.ErrGatewayTimeout)
	require.Equal(t, domain.StatusFailed, tx.Status)

	mid.mu.Lock()
	mid.createErr = nil
	mid.ref = gateway.ProviderRef{ExternalID: "snap-2"}
	mid.mu.Unlock()

	replacement, err := h.orch.Retry(ctx, tx.ID)
	require.NoError(t, err)
	assert.NotEqual(t, tx.ID, replacement.ID)
	assert.Equal(t, 1, replacement.RetryCount)
	assert.Equal(t, domain.StatusPendingConfirm, replacement.Status)

	old, err := h.repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetried, old.Status)
	assert.Equal(t, replacement.ID, old.RetriedBy)
}

func TestRetryNotAllowedForNonTerminal(t *testing.T) {
	mid := &fakeAdapter{ref: gateway.ProviderRef{ExternalID: "snap-1"}}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayMidtrans: mid})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayMidtrans, Method: domain.MethodCreditCard,
	})
	require.NoError(t, err)

	_, err = h.orch.Retry(ctx, tx.ID)
	assert.ErrorIs(t, err, domain.ErrRetryNotAllowed)
}

func TestRetryBudgetExhausted(t *testing.T) {
	mid := &fakeAdapter{createErr: domain.ErrGatewayUnavailable}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayMidtrans: mid})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayMidtrans, Method: domain.MethodCreditCard,
	})
	require.Error(t, err)

	cur := tx
	for i := 1; i <= domain.MaxRetries; i++ {
		next, rerr := h.orch.Retry(ctx, cur.ID)
		require.ErrorIs(t, rerr, domain.ErrGatewayUnavailable)
		require.NotNil(t, next)
		assert.Equal(t, i, next.RetryCount)
		cur = next
	}

	calls := mid.createCount()
	_, err = h.orch.Retry(ctx, cur.ID)
	assert.ErrorIs(t, err, domain.ErrRetryBudgetExhausted)
	assert.Equal(t, calls, mid.createCount())
}

func TestConcurrentRetryYieldsOneReplacement(t *testing.T) {
	mid := &fakeAdapter{createErr: domain.ErrGatewayTimeout}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayMidtrans: mid})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayMidtrans, Method: domain.MethodCreditCard,
	})
	require.Error(t, err)

	mid.mu.Lock()
	mid.createErr = nil
	mid.ref = gateway.ProviderRef{ExternalID: "snap-2"}
	mid.mu.Unlock()

	results := make([]*domain.Transaction, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.orch.Retry(ctx, tx.ID)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, results[0].ID, results[1].ID)

	all, err := h.repo.ListTransactions(ctx, repository.TxFilter{OrderID: "ORD-1"}, 50, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestResolveCallbackLifecycle(t *testing.T) {
	mid := &fakeAdapter{ref: gateway.ProviderRef{ExternalID: "snap-1", Refs: domain.ExternalRefs{Token: "snap-1"}}}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayMidtrans: mid})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayMidtrans, Method: domain.MethodCreditCard,
	})
	require.NoError(t, err)

	// Pending acknowledgement changes nothing.
	got, err := h.orch.ResolveCallback(ctx, tx.ID, CallbackPending, nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingConfirm, got.Status)

	// Success by provider token rather than transaction id.
	paidAt := time.Now()
	got, err = h.orch.ResolveCallback(ctx, "snap-1", CallbackSuccess, &paidAt, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, got.Status)

	// Duplicate callback after the terminal state is a no-op.
	got, err = h.orch.ResolveCallback(ctx, tx.ID, CallbackError, nil, "declined")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, got.Status)

	_, err = h.orch.ResolveCallback(ctx, "unknown-ref", CallbackSuccess, nil, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestResolveCallbackErrorMarksFailed(t *testing.T) {
	mid := &fakeAdapter{ref: gateway.ProviderRef{ExternalID: "snap-1"}}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayMidtrans: mid})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayMidtrans, Method: domain.MethodCreditCard,
	})
	require.NoError(t, err)

	got, err := h.orch.ResolveCallback(ctx, tx.ID, CallbackError, nil, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "card_declined", got.FailureCode)
}

func TestResolveCallbackExpiredWindowWins(t *testing.T) {
	expires := time.Now().Add(-time.Minute)
	mid := &fakeAdapter{ref: gateway.ProviderRef{ExternalID: "snap-1", ExpiresAt: &expires}}
	h := newHarness(t, map[domain.GatewayID]gateway.ProviderAdapter{domain.GatewayMidtrans: mid})
	ctx := context.Background()

	tx, err := h.orch.Create(ctx, CreateInput{
		Order: orderOf("ORD-1", 100_000), Gateway: domain.GatewayMidtrans, Method: domain.MethodCreditCard,
	})
	require.NoError(t, err)

	paidAt := time.Now()
	got, err := h.orch.ResolveCallback(ctx, tx.ID, CallbackSuccess, &paidAt, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
}

func TestSelectGatewayPrefersWalletWithFunds(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.ledger.TopUp(ctx, "acct-1", 500_000, "")
	require.NoError(t, err)

	enabled := []domain.GatewayID{domain.GatewayWallet, domain.GatewayMidtrans, domain.GatewayXendit}
	gw, err := h.orch.SelectGateway(ctx, orderOf("ORD-1", 100_000), enabled, "", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayWallet, gw)

	// Unknown account counts as zero balance, not an error.
	gw, err = h.orch.SelectGateway(ctx, orderOf("ORD-1", 100_000), enabled, "", "ghost")
	require.NoError(t, err)
	assert.NotEqual(t, domain.GatewayWallet, gw)
}
