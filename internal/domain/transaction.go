package domain

import "time"

type TxStatus string

const (
	StatusCreated        TxStatus = "CREATED"
	StatusAwaitingMethod TxStatus = "AWAITING_METHOD_SELECTION"
	StatusPendingConfirm TxStatus = "PENDING_CONFIRMATION"
	StatusSucceeded      TxStatus = "SUCCEEDED"
	StatusFailed         TxStatus = "FAILED"
	StatusExpired        TxStatus = "EXPIRED"
	// StatusRetried marks a failed/expired transaction that has been
	// superseded by a new attempt. Terminal; the replacement id is kept
	// in RetriedBy.
	StatusRetried TxStatus = "RETRIED"
)

// Terminal reports whether no further transition can happen to a
// transaction in this status without creating a new one.
func (s TxStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusExpired, StatusRetried:
		return true
	}
	return false
}

type GatewayID string

const (
	GatewayMidtrans GatewayID = "midtrans"
	GatewayXendit   GatewayID = "xendit"
	GatewayWallet   GatewayID = "wallet"
)

// MethodID is a payment instrument within a gateway (bca_va, qris, ...).
type MethodID string

const (
	MethodBCAVA      MethodID = "bca_va"
	MethodBNIVA      MethodID = "bni_va"
	MethodMandiriVA  MethodID = "mandiri_va"
	MethodQRIS       MethodID = "qris"
	MethodGopay      MethodID = "gopay"
	MethodOVO        MethodID = "ovo"
	MethodDana       MethodID = "dana"
	MethodShopeePay  MethodID = "shopeepay"
	MethodAlfamart   MethodID = "alfamart"
	MethodIndomaret  MethodID = "indomaret"
	MethodCreditCard MethodID = "credit_card"
	MethodWallet     MethodID = "wallet"
)

// MethodClass groups methods by confirmation mechanism, which drives the
// expiry window and whether the attempt is polled.
type MethodClass int

const (
	ClassVirtualAccount MethodClass = iota
	ClassEWallet
	ClassRetail
	ClassCard
	ClassWalletDebit
)

func (m MethodID) Class() MethodClass {
	switch m {
	case MethodBCAVA, MethodBNIVA, MethodMandiriVA:
		return ClassVirtualAccount
	case MethodQRIS, MethodGopay, MethodOVO, MethodDana, MethodShopeePay:
		return ClassEWallet
	case MethodAlfamart, MethodIndomaret:
		return ClassRetail
	case MethodWallet:
		return ClassWalletDebit
	default:
		return ClassCard
	}
}

// ExpiryWindow returns the confirmation window for the method class.
// Zero means the attempt resolves synchronously and never expires.
func (m MethodID) ExpiryWindow() time.Duration {
	switch m.Class() {
	case ClassVirtualAccount:
		return 24 * time.Hour
	case ClassEWallet:
		return 15 * time.Minute
	case ClassRetail:
		return 72 * time.Hour
	case ClassWalletDebit:
		return 0
	default:
		return 24 * time.Hour
	}
}

// ExternalRefs holds the provider-issued artifacts the payer needs to
// complete the payment. Populated once the provider responds.
type ExternalRefs struct {
	Token       string `json:"token,omitempty"`
	VANumber    string `json:"vaNumber,omitempty"`
	QRPayload   string `json:"qrPayload,omitempty"`
	PaymentCode string `json:"paymentCode,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// Transaction is a single payment attempt for one Order through one
// gateway. An Order may accumulate several across retries, but at most
// one non-terminal at a time.
type Transaction struct {
	ID          string       `json:"id"`
	OrderID     string       `json:"orderId"`
	Order       Order        `json:"order"`
	Gateway     GatewayID    `json:"gateway"`
	Method      MethodID     `json:"method"`
	AmountMinor int64        `json:"amount"`
	FeeMinor    int64        `json:"fee"`
	Status      TxStatus     `json:"status"`
	ExternalID  string       `json:"externalId,omitempty"`
	Refs        ExternalRefs `json:"refs"`
	RetryCount  int          `json:"retryCount"`
	RetriedBy   string       `json:"retriedBy,omitempty"`

	// WalletAccountID is the debited account for wallet payments. Kept
	// so a retry after a top-up can reuse it.
	WalletAccountID string `json:"walletAccountId,omitempty"`

	FailureCode string     `json:"failureCode,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
}

// MaxRetries is the per-order retry budget across failed attempts.
const MaxRetries = 3

// Platform-wide order amount bounds, in minor currency units.
const (
	MinOrderAmount int64 = 1_000
	MaxOrderAmount int64 = 50_000_000
)
