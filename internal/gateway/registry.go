package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
)

var ErrUnknownGateway = errors.New("unknown gateway")

// FeeRule is either a fixed amount or a basis-point percentage of the
// order amount. Percentage fees round up to the nearest minor unit.
type FeeRule struct {
	FixedMinor int64
	PercentBP  int64
}

func (r FeeRule) Apply(amountMinor int64) int64 {
	if r.PercentBP > 0 {
		return (amountMinor*r.PercentBP + 9_999) / 10_000
	}
	return r.FixedMinor
}

// Descriptor is the static catalog entry for one gateway. Only the
// availability flag changes at runtime.
type Descriptor struct {
	ID             domain.GatewayID            `json:"id"`
	Name           string                      `json:"name"`
	ProcessingTime string                      `json:"processingTime"`
	Methods        []domain.MethodID           `json:"methods"`
	DefaultFee     FeeRule                     `json:"-"`
	MethodFees     map[domain.MethodID]FeeRule `json:"-"`
	// MultiMethod gateways require an explicit method choice before a
	// provider call can be made.
	MultiMethod bool `json:"multiMethod"`
}

// HealthProbe answers whether a provider is reachable, within the
// context deadline.
type HealthProbe func(ctx context.Context) bool

// Registry is the catalog of payment gateways plus their last known
// availability.
type Registry struct {
	mu           sync.RWMutex
	order        []domain.GatewayID
	descriptors  map[domain.GatewayID]Descriptor
	probes       map[domain.GatewayID]HealthProbe
	available    map[domain.GatewayID]bool
	probeTimeout time.Duration
}

// NewRegistry builds the default catalog. Probes may be nil for
// gateways that are always local (wallet).
func NewRegistry(probes map[domain.GatewayID]HealthProbe, probeTimeout time.Duration) *Registry {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	r := &Registry{
		order:        []domain.GatewayID{domain.GatewayMidtrans, domain.GatewayXendit, domain.GatewayWallet},
		descriptors:  map[domain.GatewayID]Descriptor{},
		probes:       probes,
		available:    map[domain.GatewayID]bool{},
		probeTimeout: probeTimeout,
	}

	r.descriptors[domain.GatewayMidtrans] = Descriptor{
		ID:             domain.GatewayMidtrans,
		Name:           "Midtrans",
		ProcessingTime: "instant",
		Methods:        []domain.MethodID{domain.MethodCreditCard, domain.MethodGopay, domain.MethodBCAVA, domain.MethodBNIVA},
		DefaultFee:     FeeRule{PercentBP: 290},
		MethodFees: map[domain.MethodID]FeeRule{
			domain.MethodBCAVA: {FixedMinor: 4_000},
			domain.MethodBNIVA: {FixedMinor: 4_000},
			domain.MethodGopay: {PercentBP: 200},
		},
	}
	r.descriptors[domain.GatewayXendit] = Descriptor{
		ID:             domain.GatewayXendit,
		Name:           "Xendit",
		ProcessingTime: "1-5 minutes",
		MultiMethod:    true,
		Methods: []domain.MethodID{
			domain.MethodBCAVA, domain.MethodBNIVA, domain.MethodMandiriVA,
			domain.MethodQRIS, domain.MethodOVO, domain.MethodDana, domain.MethodShopeePay,
			domain.MethodAlfamart, domain.MethodIndomaret, domain.MethodCreditCard,
		},
		DefaultFee: FeeRule{FixedMinor: 4_500},
		MethodFees: map[domain.MethodID]FeeRule{
			domain.MethodQRIS:       {PercentBP: 70},
			domain.MethodOVO:        {PercentBP: 150},
			domain.MethodDana:       {PercentBP: 150},
			domain.MethodShopeePay:  {PercentBP: 150},
			domain.MethodAlfamart:   {FixedMinor: 5_000},
			domain.MethodIndomaret:  {FixedMinor: 5_000},
			domain.MethodCreditCard: {PercentBP: 290},
		},
	}
	r.descriptors[domain.GatewayWallet] = Descriptor{
		ID:             domain.GatewayWallet,
		Name:           "Nakes Wallet",
		ProcessingTime: "instant",
		Methods:        []domain.MethodID{domain.MethodWallet},
		DefaultFee:     FeeRule{},
	}

	for _, id := range r.order {
		r.available[id] = true
	}
	return r
}

func (r *Registry) Describe(id domain.GatewayID) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[id]
	if !ok {
		return Descriptor{}, ErrUnknownGateway
	}
	return d, nil
}

// ListEnabled returns descriptors for the enabled ids, in catalog
// order. Unknown ids are skipped.
func (r *Registry) ListEnabled(enabled []domain.GatewayID) []Descriptor {
	set := make(map[domain.GatewayID]bool, len(enabled))
	for _, id := range enabled {
		set[id] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(enabled))
	for _, id := range r.order {
		if set[id] {
			out = append(out, r.descriptors[id])
		}
	}
	return out
}

// Fee computes the fee for a method on a gateway. Unknown methods fall
// back to the gateway's default rule; unknown gateways cost nothing.
func (r *Registry) Fee(id domain.GatewayID, method domain.MethodID, amountMinor int64) int64 {
	r.mu.RLock()
	d, ok := r.descriptors[id]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	if rule, ok := d.MethodFees[method]; ok {
		return rule.Apply(amountMinor)
	}
	return d.DefaultFee.Apply(amountMinor)
}

// CheckAvailability runs the gateway's health probe and records the
// result. Gateways without a probe are always available.
func (r *Registry) CheckAvailability(ctx context.Context, id domain.GatewayID) bool {
	r.mu.RLock()
	_, known := r.descriptors[id]
	probe := r.probes[id]
	r.mu.RUnlock()
	if !known {
		return false
	}

	ok := true
	if probe != nil {
		pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
		defer cancel()
		ok = probe(pctx)
	}

	r.mu.Lock()
	r.available[id] = ok
	r.mu.Unlock()
	return ok
}

// Available returns the last recorded availability for a gateway.
func (r *Registry) Available(id domain.GatewayID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available[id]
}

// SetAvailable overrides the availability flag. Used by admin tooling
// and tests.
func (r *Registry) SetAvailable(id domain.GatewayID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available[id] = ok
}
