package payment

import (
	"go.uber.org/fx"

	"github.com/thelab33/futurefunded/internal/config"
	"github.com/thelab33/futurefunded/internal/payment/adapters"
	"github.com/thelab33/futurefunded/internal/payment/adapters/stripe"
	"github.com/thelab33/futurefunded/internal/payment/webhook"
)

var Module = fx.Module("payment",
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewAdapter(cfg.StripeWebhookSecret),
		)
	}),
	fx.Provide(webhook.NewService),
)
