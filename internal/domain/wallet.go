package domain

import "time"

// WalletAccount keeps a single balance per owner. Balance never goes
// negative; every mutation pairs with a ledger entry.
type WalletAccount struct {
	OwnerID      string    `json:"ownerId"`
	BalanceMinor int64     `json:"balance"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type LedgerType string

const (
	LedgerTopUp       LedgerType = "top_up"
	LedgerWithdrawal  LedgerType = "withdrawal"
	LedgerTransferIn  LedgerType = "transfer_in"
	LedgerTransferOut LedgerType = "transfer_out"
	LedgerPayment     LedgerType = "payment"
	LedgerRefund      LedgerType = "refund"
)

type LedgerStatus string

const (
	LedgerCompleted  LedgerStatus = "completed"
	LedgerPending    LedgerStatus = "pending"
	LedgerProcessing LedgerStatus = "processing"
)

// WalletLedgerEntry is one immutable balance-affecting record. The
// account balance is the running fold of signed amounts over completed
// entries.
type WalletLedgerEntry struct {
	ID          string       `json:"id"`
	AccountID   string       `json:"accountId"`
	Type        LedgerType   `json:"type"`
	AmountMinor int64        `json:"amount"` // signed: credits positive, debits negative
	FeeMinor    int64        `json:"fee"`
	Description string       `json:"description"`
	Reference   string       `json:"reference"`
	Status      LedgerStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
}
