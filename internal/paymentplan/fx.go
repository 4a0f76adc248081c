package paymentplan

import (
	"github.com/smallbiznis/clientbilling/internal/paymentplan/repository"
	"github.com/smallbiznis/clientbilling/internal/paymentplan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentplan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
