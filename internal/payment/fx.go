package payment

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/fiscalsync/internal/payment/adapters/stripe"
	"github.com/smallbiznis/fiscalsync/internal/payment/repository"
	paymentservice "github.com/smallbiznis/fiscalsync/internal/payment/service"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(stripe.New),
	fx.Provide(paymentservice.NewService),
)
