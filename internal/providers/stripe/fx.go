package stripe

import (
	"go.uber.org/fx"

	invoicedomain "github.com/smallbiznis/fiscalsync/internal/invoice/domain"
	subscriptiondomain "github.com/smallbiznis/fiscalsync/internal/subscription/domain"
)

var Module = fx.Module("providers.stripe",
	fx.Provide(New),
	fx.Provide(func(c *Client) invoicedomain.PurchaseResolver { return c }),
	fx.Provide(func(c *Client) subscriptiondomain.BillingProvider { return c }),
)
