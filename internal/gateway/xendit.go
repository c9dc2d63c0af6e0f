package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
)

// XenditAdapter creates method-specific payment references (virtual
// account number, QR payload, retail payment code) and confirms them by
// polling the provider's status endpoint.
type XenditAdapter struct {
	api *collaborator
	log zerolog.Logger
}

func NewXenditAdapter(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *XenditAdapter {
	l := log.With().Str("adapter", "xendit").Logger()
	return &XenditAdapter{
		api: newCollaborator(baseURL, apiKey, timeout, l),
		log: l,
	}
}

type xenditCreateReq struct {
	OrderID  string             `json:"orderId"`
	Amount   int64              `json:"amount"`
	Customer domain.Customer    `json:"customer"`
	Items    []domain.OrderItem `json:"items,omitempty"`
	Method   string             `json:"method"`
}

type xenditCreateResp struct {
	ExternalID  string     `json:"externalId"`
	VANumber    string     `json:"vaNumber,omitempty"`
	QRString    string     `json:"qrString,omitempty"`
	PaymentCode string     `json:"paymentCode,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func (a *XenditAdapter) CreateTransaction(ctx context.Context, req CreateRequest) (*ProviderRef, error) {
	body := xenditCreateReq{
		OrderID:  req.Order.ID,
		Amount:   req.TotalMinor,
		Customer: req.Order.Customer,
		Items:    req.Order.Items,
		Method:   string(req.Method),
	}

	var resp xenditCreateResp
	if err := a.api.postJSON(ctx, "/v1/payment_requests", body, &resp); err != nil {
		return nil, err
	}

	expiresAt := resp.ExpiresAt
	if expiresAt == nil {
		if w := req.Method.ExpiryWindow(); w > 0 {
			t := time.Now().Add(w)
			expiresAt = &t
		}
	}

	a.log.Info().
		Str("order_id", req.Order.ID).
		Str("method", string(req.Method)).
		Str("external_id", resp.ExternalID).
		Msg("payment request created")
	return &ProviderRef{
		ExternalID: resp.ExternalID,
		Refs: domain.ExternalRefs{
			VANumber:    resp.VANumber,
			QRPayload:   resp.QRString,
			PaymentCode: resp.PaymentCode,
		},
		ExpiresAt: expiresAt,
	}, nil
}

type xenditStatusResp struct {
	Status      string     `json:"status"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	FailureCode string     `json:"failureCode,omitempty"`
}

func (a *XenditAdapter) CheckStatus(ctx context.Context, externalID string) (*ProviderStatus, error) {
	var resp xenditStatusResp
	if err := a.api.getJSON(ctx, "/v1/payment_requests/"+externalID+"/status", &resp); err != nil {
		return nil, err
	}

	out := &ProviderStatus{PaidAt: resp.PaidAt, FailureCode: resp.FailureCode}
	switch resp.Status {
	case "PAID":
		out.Status = domain.StatusSucceeded
	case "EXPIRED":
		out.Status = domain.StatusExpired
	case "FAILED":
		out.Status = domain.StatusFailed
	default:
		out.Status = domain.StatusPendingConfirm
	}
	if raw, err := json.Marshal(resp); err == nil {
		out.Raw = raw
	}
	return out, nil
}

func (a *XenditAdapter) SupportsPolling() bool { return true }

func (a *XenditAdapter) Healthy(ctx context.Context) bool { return a.api.healthy(ctx) }
