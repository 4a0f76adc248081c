package workentry

import (
	"github.com/smallbiznis/clientbilling/internal/workentry/repository"
	"github.com/smallbiznis/clientbilling/internal/workentry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("workentry.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
