package subscription

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/fiscalsync/internal/subscription/repository"
	"github.com/smallbiznis/fiscalsync/internal/subscription/service"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
