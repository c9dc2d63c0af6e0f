package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
)

// WalletFunds is the slice of the wallet ledger the adapter needs:
// reading a balance and recording an atomic payment debit.
type WalletFunds interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	// Pay debits amount+fee and appends the payment ledger entry as a
	// single unit. Fails with domain.ErrInsufficientBalance when the
	// balance does not cover it.
	Pay(ctx context.Context, accountID string, amountMinor, feeMinor int64, reference string) (*domain.WalletLedgerEntry, error)
}

// WalletAdapter settles payments synchronously against the internal
// wallet ledger. There is no confirmation phase: the create call either
// succeeds with a recorded debit or fails immediately.
type WalletAdapter struct {
	funds WalletFunds
	log   zerolog.Logger
}

func NewWalletAdapter(funds WalletFunds, log zerolog.Logger) *WalletAdapter {
	return &WalletAdapter{funds: funds, log: log.With().Str("adapter", "wallet").Logger()}
}

func (a *WalletAdapter) CreateTransaction(ctx context.Context, req CreateRequest) (*ProviderRef, error) {
	if req.WalletAccountID == "" {
		return nil, domain.NewValidationError("walletAccountId", "required for wallet payments")
	}

	balance, err := a.funds.Balance(ctx, req.WalletAccountID)
	if err != nil {
		return nil, err
	}
	if balance < req.TotalMinor {
		return nil, domain.ErrInsufficientBalance
	}

	fee := req.TotalMinor - req.Order.AmountMinor
	entry, err := a.funds.Pay(ctx, req.WalletAccountID, req.Order.AmountMinor, fee, req.Order.ID)
	if err != nil {
		// The balance check above is advisory; the ledger is the
		// authority and may still refuse under concurrent debits.
		return nil, err
	}

	now := time.Now()
	a.log.Info().
		Str("account_id", req.WalletAccountID).
		Str("order_id", req.Order.ID).
		Int64("amount", req.TotalMinor).
		Msg("wallet debit settled")
	return &ProviderRef{
		ExternalID: entry.ID,
		Settled:    true,
		PaidAt:     &now,
	}, nil
}

func (a *WalletAdapter) CheckStatus(ctx context.Context, externalID string) (*ProviderStatus, error) {
	return nil, fmt.Errorf("%w: wallet settles synchronously", ErrPollingNotSupported)
}

func (a *WalletAdapter) SupportsPolling() bool { return false }

// Healthy always holds: the wallet is local.
func (a *WalletAdapter) Healthy(ctx context.Context) bool { return true }
