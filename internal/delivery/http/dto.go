package httpd

import (
	"time"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
)

type CustomerPayload struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone"`
}

type OrderItemPayload struct {
	Name     string `json:"name" validate:"required"`
	Price    int64  `json:"price" validate:"gt=0"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type OrderPayload struct {
	ID       string             `json:"id" validate:"required"`
	Amount   int64              `json:"amount" validate:"gt=0"`
	Customer CustomerPayload    `json:"customer" validate:"required"`
	Items    []OrderItemPayload `json:"items" validate:"dive"`
}

func (p OrderPayload) toDomain() domain.Order {
	items := make([]domain.OrderItem, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, domain.OrderItem{Name: it.Name, PriceMinor: it.Price, Quantity: it.Quantity})
	}
	return domain.Order{
		ID:          p.ID,
		AmountMinor: p.Amount,
		Customer:    domain.Customer{Name: p.Customer.Name, Email: p.Customer.Email, Phone: p.Customer.Phone},
		Items:       items,
	}
}

type CreatePaymentReq struct {
	Order           OrderPayload `json:"order" validate:"required"`
	Gateway         string       `json:"gateway" validate:"required"`
	Method          string       `json:"method"`
	WalletAccountID string       `json:"walletAccountId"`
}

type SelectMethodReq struct {
	Method string `json:"method" validate:"required"`
}

type RecommendReq struct {
	Order           OrderPayload `json:"order" validate:"required"`
	EnabledGateways []string     `json:"enabledGateways" validate:"required,min=1"`
	Preferred       string       `json:"preferred"`
	WalletAccountID string       `json:"walletAccountId"`
}

type RecommendResp struct {
	Gateway string `json:"gateway"`
}

// MidtransCallbackReq mirrors the hosted-widget callback contract. The
// three widget outcomes arrive as mutually exclusive result values.
type MidtransCallbackReq struct {
	Result            string     `json:"result" validate:"required,oneof=success pending error"`
	OrderID           string     `json:"orderId"`
	TransactionID     string     `json:"transactionId" validate:"required"`
	PaymentType       string     `json:"paymentType"`
	GrossAmount       int64      `json:"grossAmount"`
	TransactionTime   *time.Time `json:"transactionTime"`
	TransactionStatus string     `json:"transactionStatus"`
	FraudStatus       string     `json:"fraudStatus"`
	StatusCode        string     `json:"statusCode"`
	StatusMessage     string     `json:"statusMessage"`
}

type TopUpReq struct {
	Amount    int64  `json:"amount" validate:"gt=0"`
	Reference string `json:"reference"`
}

type WithdrawReq struct {
	Amount      int64  `json:"amount" validate:"gt=0"`
	Fee         int64  `json:"fee" validate:"gte=0"`
	Destination string `json:"destination" validate:"required"`
}

type TransferReq struct {
	FromAccountID string `json:"fromAccountId" validate:"required"`
	ToAccountID   string `json:"toAccountId" validate:"required"`
	Amount        int64  `json:"amount" validate:"gt=0"`
	Description   string `json:"description"`
}

type BalanceResp struct {
	AccountID string `json:"accountId"`
	Balance   int64  `json:"balance"`
}

type TransferResp struct {
	Out domain.WalletLedgerEntry `json:"out"`
	In  domain.WalletLedgerEntry `json:"in"`
}

type GatewayItem struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	ProcessingTime string   `json:"processingTime"`
	Methods        []string `json:"methods"`
	Available      bool     `json:"available"`
	MultiMethod    bool     `json:"multiMethod"`
}
