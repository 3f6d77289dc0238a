package einvoice

import "go.uber.org/fx"

var Module = fx.Module("providers.einvoice",
	fx.Provide(New),
)
