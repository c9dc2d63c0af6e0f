package domain

// Customer identifies the paying party on an Order.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// OrderItem is a single line item. Prices are in minor currency units.
type OrderItem struct {
	Name       string `json:"name"`
	PriceMinor int64  `json:"price"`
	Quantity   int    `json:"quantity"`
}

// Order is the checkout context a payment attempt is created against.
// Immutable once a transaction exists for it.
type Order struct {
	ID          string      `json:"id"`
	AmountMinor int64       `json:"amount"`
	Customer    Customer    `json:"customer"`
	Items       []OrderItem `json:"items,omitempty"`
}
