package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientbilling/internal/rate/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rate *domain.Rate) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_rates (id, code, name, unit_label, unit_price, currency, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rate.ID,
		rate.Code,
		rate.Name,
		rate.UnitLabel,
		rate.UnitPrice,
		rate.Currency,
		rate.Active,
		rate.CreatedAt,
		rate.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Rate, error) {
	var rate domain.Rate
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, unit_label, unit_price, currency, active, created_at, updated_at
		 FROM billing_rates WHERE id = ?`,
		id,
	).Scan(&rate).Error
	if err != nil {
		return nil, err
	}
	if rate.ID == 0 {
		return nil, nil
	}
	return &rate, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Rate, error) {
	var rate domain.Rate
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, unit_label, unit_price, currency, active, created_at, updated_at
		 FROM billing_rates WHERE code = ?`,
		code,
	).Scan(&rate).Error
	if err != nil {
		return nil, err
	}
	if rate.ID == 0 {
		return nil, nil
	}
	return &rate, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Rate, error) {
	var rates []domain.Rate
	stmt := db.WithContext(ctx).Model(&domain.Rate{})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("name ASC").Order("id ASC").Find(&rates).Error; err != nil {
		return nil, err
	}
	return rates, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, rate *domain.Rate) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_rates
		 SET name = ?, unit_label = ?, unit_price = ?, active = ?, updated_at = ?
		 WHERE id = ?`,
		rate.Name,
		rate.UnitLabel,
		rate.UnitPrice,
		rate.Active,
		rate.UpdatedAt,
		rate.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM billing_rates WHERE id = ?`, id).Error
}

func (r *repo) CountReferences(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM work_entries WHERE rate_id = ?`,
		id,
	).Scan(&count).Error
	return count, err
}
