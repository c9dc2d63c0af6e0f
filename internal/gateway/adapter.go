package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
)

// CreateRequest carries everything an adapter needs to open a payment
// attempt with its provider. TotalMinor already includes the gateway fee.
type CreateRequest struct {
	Order           domain.Order
	Method          domain.MethodID
	TotalMinor      int64
	WalletAccountID string // wallet gateway only
}

// ProviderRef is the provider's answer to a create call.
type ProviderRef struct {
	ExternalID string
	Refs       domain.ExternalRefs
	ExpiresAt  *time.Time
	// Settled means the provider resolved the payment synchronously
	// (wallet debit); there is no confirmation phase.
	Settled bool
	PaidAt  *time.Time
}

// ProviderStatus is a normalized status-endpoint response.
type ProviderStatus struct {
	Status      domain.TxStatus
	PaidAt      *time.Time
	FailureCode string
	Raw         json.RawMessage
}

// ProviderAdapter abstracts one payment provider. Implementations
// translate their own error shapes to the domain taxonomy before
// returning; the orchestrator never sees provider-specific errors.
type ProviderAdapter interface {
	CreateTransaction(ctx context.Context, req CreateRequest) (*ProviderRef, error)
	// CheckStatus is only meaningful when SupportsPolling is true.
	CheckStatus(ctx context.Context, externalID string) (*ProviderStatus, error)
	SupportsPolling() bool
	// Healthy probes the provider within the context deadline.
	Healthy(ctx context.Context) bool
}

// ErrPollingNotSupported is returned by CheckStatus on push-style
// adapters whose confirmation arrives via callback only.
var ErrPollingNotSupported = errors.New("gateway does not support status polling")

// translateTransportErr maps HTTP-client failures onto the domain
// taxonomy so callers can distinguish timeouts from other faults.
func translateTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrGatewayTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return domain.ErrGatewayTimeout
	}
	return domain.ErrNetwork
}
