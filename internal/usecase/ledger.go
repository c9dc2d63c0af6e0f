package usecase

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
	"github.com/orang2bejo/Nakes-Link-sub000/internal/repository"
)

// Ledger owns every wallet balance mutation. All operations against one
// account are serialized through a per-account mutex; the repository
// applies the balance delta and the ledger entry as a single database
// transaction, so a refused debit leaves nothing recorded.
type Ledger struct {
	repo  *repository.SQLiteRepo
	locks *keyedMutex
	log   zerolog.Logger
}

func NewLedger(repo *repository.SQLiteRepo, log zerolog.Logger) *Ledger {
	return &Ledger{
		repo:  repo,
		locks: newKeyedMutex(),
		log:   log.With().Str("component", "ledger").Logger(),
	}
}

func newEntryID() string {
	return ulid.Make().String()
}

// Balance returns the account's current balance, creating the account
// on first touch.
func (l *Ledger) Balance(ctx context.Context, accountID string) (int64, error) {
	if err := l.repo.EnsureAccount(ctx, accountID); err != nil {
		return 0, err
	}
	a, err := l.repo.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return a.BalanceMinor, nil
}

func (l *Ledger) Entries(ctx context.Context, accountID string, limit, offset int) ([]domain.WalletLedgerEntry, error) {
	return l.repo.ListLedger(ctx, accountID, limit, offset)
}

// TopUp credits the account.
func (l *Ledger) TopUp(ctx context.Context, accountID string, amountMinor int64, reference string) (*domain.WalletLedgerEntry, error) {
	if amountMinor <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	unlock := l.locks.Lock(accountID)
	defer unlock()

	entry := domain.WalletLedgerEntry{
		ID:          newEntryID(),
		AccountID:   accountID,
		Type:        domain.LedgerTopUp,
		AmountMinor: amountMinor,
		Description: "Wallet top up",
		Reference:   reference,
		Status:      domain.LedgerCompleted,
		CreatedAt:   time.Now(),
	}
	if err := l.apply(ctx, repository.BalanceChange{AccountID: accountID, Delta: amountMinor, Entry: entry}); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Pay debits an order payment. Entry amount is the negated order
// amount; the gateway fee rides along as metadata and is part of the
// deducted total. Implements gateway.WalletFunds.
func (l *Ledger) Pay(ctx context.Context, accountID string, amountMinor, feeMinor int64, reference string) (*domain.WalletLedgerEntry, error) {
	if amountMinor <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	unlock := l.locks.Lock(accountID)
	defer unlock()

	entry := domain.WalletLedgerEntry{
		ID:          newEntryID(),
		AccountID:   accountID,
		Type:        domain.LedgerPayment,
		AmountMinor: -amountMinor,
		FeeMinor:    feeMinor,
		Description: "Order payment",
		Reference:   reference,
		Status:      domain.LedgerCompleted,
		CreatedAt:   time.Now(),
	}
	if err := l.apply(ctx, repository.BalanceChange{AccountID: accountID, Delta: -(amountMinor + feeMinor), Entry: entry}); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Refund credits back a previously paid amount.
func (l *Ledger) Refund(ctx context.Context, accountID string, amountMinor int64, reference string) (*domain.WalletLedgerEntry, error) {
	if amountMinor <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	unlock := l.locks.Lock(accountID)
	defer unlock()

	entry := domain.WalletLedgerEntry{
		ID:          newEntryID(),
		AccountID:   accountID,
		Type:        domain.LedgerRefund,
		AmountMinor: amountMinor,
		Description: "Payment refund",
		Reference:   reference,
		Status:      domain.LedgerCompleted,
		CreatedAt:   time.Now(),
	}
	if err := l.apply(ctx, repository.BalanceChange{AccountID: accountID, Delta: amountMinor, Entry: entry}); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Withdraw deducts amount+fee from the balance. The entry amount
// reflects only the withdrawn amount; the fee is metadata.
func (l *Ledger) Withdraw(ctx context.Context, accountID string, amountMinor, feeMinor int64, destination string) (*domain.WalletLedgerEntry, error) {
	if amountMinor <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if feeMinor < 0 {
		return nil, domain.NewValidationError("fee", "must not be negative")
	}
	unlock := l.locks.Lock(accountID)
	defer unlock()

	entry := domain.WalletLedgerEntry{
		ID:          newEntryID(),
		AccountID:   accountID,
		Type:        domain.LedgerWithdrawal,
		AmountMinor: -amountMinor,
		FeeMinor:    feeMinor,
		Description: "Withdrawal to " + destination,
		Reference:   destination,
		Status:      domain.LedgerCompleted,
		CreatedAt:   time.Now(),
	}
	if err := l.apply(ctx, repository.BalanceChange{AccountID: accountID, Delta: -(amountMinor + feeMinor), Entry: entry}); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Transfer moves funds between two accounts: a transfer_out on the
// source and a transfer_in on the destination, recorded both-or-neither.
// Locks are taken in a fixed order so concurrent opposite transfers
// cannot deadlock.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amountMinor int64, description string) (*domain.WalletLedgerEntry, *domain.WalletLedgerEntry, error) {
	if amountMinor <= 0 {
		return nil, nil, domain.NewValidationError("amount", "must be positive")
	}
	if fromID == toID {
		return nil, nil, domain.NewValidationError("toAccountId", "must differ from source account")
	}
	unlock := l.locks.LockPair(fromID, toID)
	defer unlock()

	if err := l.repo.EnsureAccount(ctx, fromID); err != nil {
		return nil, nil, err
	}
	if err := l.repo.EnsureAccount(ctx, toID); err != nil {
		return nil, nil, err
	}

	now := time.Now()
	out := domain.WalletLedgerEntry{
		ID:          newEntryID(),
		AccountID:   fromID,
		Type:        domain.LedgerTransferOut,
		AmountMinor: -amountMinor,
		Description: description,
		Reference:   toID,
		Status:      domain.LedgerCompleted,
		CreatedAt:   now,
	}
	in := domain.WalletLedgerEntry{
		ID:          newEntryID(),
		AccountID:   toID,
		Type:        domain.LedgerTransferIn,
		AmountMinor: amountMinor,
		Description: description,
		Reference:   fromID,
		Status:      domain.LedgerCompleted,
		CreatedAt:   now,
	}

	err := l.repo.ApplyLedger(ctx, []repository.BalanceChange{
		{AccountID: fromID, Delta: -amountMinor, Entry: out},
		{AccountID: toID, Delta: amountMinor, Entry: in},
	})
	if err != nil {
		return nil, nil, err
	}

	l.log.Info().
		Str("from", fromID).Str("to", toID).
		Int64("amount", amountMinor).
		Msg("transfer completed")
	return &out, &in, nil
}

func (l *Ledger) apply(ctx context.Context, change repository.BalanceChange) error {
	if err := l.repo.EnsureAccount(ctx, change.AccountID); err != nil {
		return err
	}
	if err := l.repo.ApplyLedger(ctx, []repository.BalanceChange{change}); err != nil {
		return err
	}
	l.log.Debug().
		Str("account_id", change.AccountID).
		Str("type", string(change.Entry.Type)).
		Int64("delta", change.Delta).
		Msg("ledger entry recorded")
	return nil
}
