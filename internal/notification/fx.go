package notification

import "go.uber.org/fx"

var Module = fx.Module("notification",
	fx.Provide(
		New,
		func(d *Dispatcher) Notifier { return d },
	),
)
