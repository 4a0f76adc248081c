package reconciler

import (
	"github.com/smallbiznis/clientbilling/internal/reconciler/domain"
	"github.com/smallbiznis/clientbilling/internal/reconciler/service"
	"github.com/smallbiznis/clientbilling/pkg/repository"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("reconciler.service",
	fx.Provide(func(db *gorm.DB) repository.Repository[domain.PaymentEvent] {
		return repository.ProvideStore[domain.PaymentEvent](db)
	}),
	fx.Provide(service.New),
)
