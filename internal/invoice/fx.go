package invoice

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/fiscalsync/internal/invoice/domain"
	"github.com/smallbiznis/fiscalsync/internal/invoice/repository"
	"github.com/smallbiznis/fiscalsync/internal/invoice/service"
	"github.com/smallbiznis/fiscalsync/internal/providers/einvoice"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(c *einvoice.Client) domain.Uploader { return c }),
	fx.Provide(service.New),
)
