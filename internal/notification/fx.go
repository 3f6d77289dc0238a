package notification

import (
	"context"

	"go.uber.org/fx"

	invoicedomain "github.com/smallbiznis/fiscalsync/internal/invoice/domain"
)

var Module = fx.Module("notification",
	fx.Provide(New),
	fx.Provide(func(d *Dispatcher) invoicedomain.Notifier { return d }),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				d.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
