package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
)

// MidtransAdapter opens hosted-checkout sessions. One create call
// yields an opaque widget token; confirmation arrives push-style via
// the widget callbacks, so the adapter never polls.
type MidtransAdapter struct {
	api *collaborator
	log zerolog.Logger
}

func NewMidtransAdapter(baseURL, serverKey string, timeout time.Duration, log zerolog.Logger) *MidtransAdapter {
	l := log.With().Str("adapter", "midtrans").Logger()
	return &MidtransAdapter{
		api: newCollaborator(baseURL, serverKey, timeout, l),
		log: l,
	}
}

type midtransCreateReq struct {
	OrderID  string             `json:"orderId"`
	Amount   int64              `json:"amount"`
	Customer domain.Customer    `json:"customer"`
	Items    []domain.OrderItem `json:"items,omitempty"`
	Method   string             `json:"method,omitempty"`
}

type midtransCreateResp struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirectUrl"`
}

func (a *MidtransAdapter) CreateTransaction(ctx context.Context, req CreateRequest) (*ProviderRef, error) {
	body := midtransCreateReq{
		OrderID:  req.Order.ID,
		Amount:   req.TotalMinor,
		Customer: req.Order.Customer,
		Items:    req.Order.Items,
		Method:   string(req.Method),
	}

	var resp midtransCreateResp
	if err := a.api.postJSON(ctx, "/snap/v1/transactions", body, &resp); err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if w := req.Method.ExpiryWindow(); w > 0 {
		t := time.Now().Add(w)
		expiresAt = &t
	}

	a.log.Info().Str("order_id", req.Order.ID).Msg("snap token issued")
	return &ProviderRef{
		ExternalID: resp.Token,
		Refs: domain.ExternalRefs{
			Token:       resp.Token,
			RedirectURL: resp.RedirectURL,
		},
		ExpiresAt: expiresAt,
	}, nil
}

// CheckStatus is not available: Midtrans confirmation is callback-only.
func (a *MidtransAdapter) CheckStatus(ctx context.Context, externalID string) (*ProviderStatus, error) {
	return nil, ErrPollingNotSupported
}

func (a *MidtransAdapter) SupportsPolling() bool { return false }

func (a *MidtransAdapter) Healthy(ctx context.Context) bool { return a.api.healthy(ctx) }
