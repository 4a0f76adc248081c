package push

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.push",
	fx.Provide(NewFromClient),
)

func NewFromClient(client *redis.Client) Provider {
	if client == nil {
		return &NoOpProvider{}
	}
	return NewRedis(client)
}
