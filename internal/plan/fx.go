package plan

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/fiscalsync/internal/plan/repository"
	"github.com/smallbiznis/fiscalsync/internal/plan/service"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
