package providers

import (
	"github.com/smallbiznis/clientbilling/internal/providers/email"
	"github.com/smallbiznis/clientbilling/internal/providers/payment"
	"github.com/smallbiznis/clientbilling/internal/providers/push"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	push.Module,
	payment.Module,
)
