package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientbilling/internal/paymentplan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *domain.PaymentPlan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentPlan, error) {
	return r.findOne(ctx, db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*domain.PaymentPlan, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db.WithContext(ctx).
		Where("external_subscription_id = ?", subscriptionID).
		Order("created_at DESC"))
}

func (r *repo) FindOpenByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*domain.PaymentPlan, error) {
	return r.findOne(ctx, db.WithContext(ctx).
		Where("invoice_id = ? AND status IN ?", invoiceID, []domain.PlanStatus{domain.PlanStatusPending, domain.PlanStatusActive}))
}

func (r *repo) ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.PaymentPlan, error) {
	var plans []domain.PaymentPlan
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&plans).Error
	return plans, err
}

func (r *repo) FindExternalCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.PaymentPlan{}).
		Where("customer_id = ? AND external_customer_id IS NOT NULL", customerID).
		Order("created_at DESC").
		Limit(1).
		Pluck("external_customer_id", &ids).Error
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

func (r *repo) SetCheckout(ctx context.Context, db *gorm.DB, id snowflake.ID, checkout domain.Checkout) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE payment_plans
		 SET external_customer_id = ?, checkout_session_id = ?, checkout_url = ?, accepted_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND checkout_session_id IS NULL`,
		checkout.ExternalCustomerID,
		checkout.SessionID,
		checkout.URL,
		checkout.AcceptedAt,
		checkout.AcceptedAt,
		id,
		domain.PlanStatusPending,
	))
}

func (r *repo) Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, subscriptionID string, startDate time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE payment_plans
		 SET status = ?, external_subscription_id = ?, start_date = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PlanStatusActive,
		subscriptionID,
		startDate,
		startDate,
		id,
		domain.PlanStatusPending,
	))
}

func (r *repo) IncrementInstallments(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE payment_plans
		 SET installments_paid = installments_paid + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND installments_paid < installments`,
		now,
		id,
		domain.PlanStatusActive,
	))
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE payment_plans
		 SET status = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND installments_paid >= installments`,
		domain.PlanStatusCompleted,
		now,
		now,
		id,
		domain.PlanStatusActive,
	))
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.PlanStatus, now time.Time, confirmed bool) (bool, error) {
	var confirmedAt *time.Time
	if confirmed {
		confirmedAt = &now
	}
	return affected(db.WithContext(ctx).Exec(
		`UPDATE payment_plans
		 SET status = ?, cancelled_at = ?, cancel_confirmed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PlanStatusCancelled,
		now,
		confirmedAt,
		now,
		id,
		from,
	))
}

func (r *repo) ConfirmCancel(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE payment_plans
		 SET cancel_confirmed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND cancel_confirmed_at IS NULL`,
		now,
		now,
		id,
		domain.PlanStatusCancelled,
	))
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE payment_plans
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PlanStatusFailed,
		reason,
		now,
		id,
		domain.PlanStatusPending,
	))
}

func (r *repo) findOne(ctx context.Context, stmt *gorm.DB) (*domain.PaymentPlan, error) {
	var plan domain.PaymentPlan
	if err := stmt.First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func affected(res *gorm.DB) (bool, error) {
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
