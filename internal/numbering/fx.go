package numbering

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/fiscalsync/internal/numbering/repository"
	"github.com/smallbiznis/fiscalsync/internal/numbering/service"
)

var Module = fx.Module("numbering.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
