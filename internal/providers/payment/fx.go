package payment

import (
	"github.com/smallbiznis/clientbilling/internal/config"
	paymentdomain "github.com/smallbiznis/clientbilling/internal/providers/payment/domain"
	"github.com/smallbiznis/clientbilling/internal/providers/payment/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.payment",
	fx.Provide(NewStripe),
	fx.Provide(
		func(p *stripe.Provider) paymentdomain.Provider { return p },
		func(p *stripe.Provider) paymentdomain.WebhookParser { return p },
	),
)

// NewStripe resolves Stripe credentials once at startup.
func NewStripe(cfg config.Config, log *zap.Logger) *stripe.Provider {
	if cfg.Stripe.SecretKey == "" {
		log.Warn("stripe secret key not configured, payment plan checkout disabled")
	}
	return stripe.New(stripe.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}, log)
}
