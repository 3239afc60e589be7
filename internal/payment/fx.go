package payment

import (
	"github.com/smallbiznis/tally/internal/payment/adapters"
	"github.com/smallbiznis/tally/internal/payment/adapters/paypal"
	"github.com/smallbiznis/tally/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	"github.com/smallbiznis/tally/internal/payment/service"
	"go.uber.org/fx"
)

// NewRegistry assembles the vendor adapter registry.
func NewRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		stripe.NewFactory(),
		paypal.NewFactory(),
	)
}

var _ paymentdomain.Factory = (*stripe.Factory)(nil)
var _ paymentdomain.Factory = (*paypal.Factory)(nil)

// Module wires the payment adapter registry and resolver.
var Module = fx.Module("payment",
	fx.Provide(NewRegistry),
	fx.Provide(service.NewResolver),
)
