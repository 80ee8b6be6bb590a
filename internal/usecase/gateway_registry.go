package usecase

import (
	"strings"

	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/adapter"
)

// GatewayRegistry holds the configured gateway adapters and owns the
// country routing policy. Routing is a caller-side decision; the adapters
// themselves know nothing about countries.
type GatewayRegistry struct {
	gateways map[model.GatewayName]adapter.PaymentGateway
}

func NewGatewayRegistry(gws ...adapter.PaymentGateway) *GatewayRegistry {
	r := &GatewayRegistry{gateways: make(map[model.GatewayName]adapter.PaymentGateway, len(gws))}
	for _, gw := range gws {
		r.gateways[gw.Name()] = gw
	}
	return r
}

func (r *GatewayRegistry) Get(name model.GatewayName) (adapter.PaymentGateway, bool) {
	gw, ok := r.gateways[name]
	return gw, ok
}

// RouteCountry picks the gateway for a payer country: KE routes to M-Pesa,
// every other country routes to Stripe.
func (r *GatewayRegistry) RouteCountry(countryCode string) (adapter.PaymentGateway, bool) {
	name := model.GatewayStripe
	if strings.EqualFold(strings.TrimSpace(countryCode), "KE") {
		name = model.GatewayMpesa
	}
	return r.Get(name)
}
