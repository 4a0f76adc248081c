package migration

import (
	customerdomain "github.com/smallbiznis/clientbilling/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/clientbilling/internal/invoice/domain"
	plandomain "github.com/smallbiznis/clientbilling/internal/paymentplan/domain"
	ratedomain "github.com/smallbiznis/clientbilling/internal/rate/domain"
	reconcilerdomain "github.com/smallbiznis/clientbilling/internal/reconciler/domain"
	workdomain "github.com/smallbiznis/clientbilling/internal/workentry/domain"
	"gorm.io/gorm"
)

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&customerdomain.Customer{},
		&ratedomain.Rate{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLineItem{},
		&workdomain.WorkEntry{},
		&workdomain.AgentCostEntry{},
		&plandomain.PaymentPlan{},
		&reconcilerdomain.PaymentEvent{},
	}
}

// AutoMigrate builds the schema from the gorm models. It is used for the
// sqlite and mysql dialects, which the embedded postgres migrations do not
// target. The open-plan partial index is added separately where supported.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	if db.Dialector.Name() == "sqlite" {
		return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_plans_open_invoice
			ON payment_plans (invoice_id) WHERE status IN ('pending', 'active')`).Error
	}
	return nil
}
