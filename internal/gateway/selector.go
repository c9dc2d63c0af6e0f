package gateway

import (
	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
)

// priority is the fixed fallback order for large orders.
var priority = []domain.GatewayID{domain.GatewayMidtrans, domain.GatewayXendit}

// Selector recommends a gateway for an order. Advisory only: an
// explicit, enabled and available preference bypasses it entirely.
type Selector struct {
	reg *Registry
	// Orders below this amount are routed to the cheapest gateway.
	smallOrderThreshold int64
}

func NewSelector(reg *Registry, smallOrderThreshold int64) *Selector {
	return &Selector{reg: reg, smallOrderThreshold: smallOrderThreshold}
}

// Choose resolves the gateway for a payment attempt. A preferred
// gateway wins when it is enabled and available; otherwise the
// recommendation policy applies.
func (s *Selector) Choose(order domain.Order, enabled []domain.GatewayID, preferred domain.GatewayID, walletBalance int64) (domain.GatewayID, error) {
	if preferred != "" {
		for _, id := range enabled {
			if id == preferred && s.reg.Available(id) {
				return preferred, nil
			}
		}
	}
	return s.Recommend(order, enabled, walletBalance)
}

// Recommend applies the selection policy:
//  1. wallet, when enabled and the balance covers the order;
//  2. below the small-order threshold, the cheapest enabled non-wallet
//     gateway (ties broken by enabled-list order);
//  3. otherwise the first enabled gateway in the fixed priority list.
//
// Disabled and unavailable gateways are never returned.
func (s *Selector) Recommend(order domain.Order, enabled []domain.GatewayID, walletBalance int64) (domain.GatewayID, error) {
	for _, id := range enabled {
		if id == domain.GatewayWallet && s.reg.Available(id) && walletBalance >= order.AmountMinor {
			return domain.GatewayWallet, nil
		}
	}

	if order.AmountMinor < s.smallOrderThreshold {
		var best domain.GatewayID
		var bestFee int64
		for _, id := range enabled {
			if id == domain.GatewayWallet || !s.reg.Available(id) {
				continue
			}
			d, err := s.reg.Describe(id)
			if err != nil {
				continue
			}
			fee := d.DefaultFee.Apply(order.AmountMinor)
			if best == "" || fee < bestFee {
				best, bestFee = id, fee
			}
		}
		if best != "" {
			return best, nil
		}
	}

	for _, want := range priority {
		for _, id := range enabled {
			if id == want && s.reg.Available(id) {
				return id, nil
			}
		}
	}
	return "", domain.ErrGatewayUnavailable
}
