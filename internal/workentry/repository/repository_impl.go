package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientbilling/internal/workentry/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.WorkEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO work_entries (id, project_id, customer_id, rate_id, quantity, description, recorded_at, invoice_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		entry.ID,
		entry.ProjectID,
		entry.CustomerID,
		entry.RateID,
		entry.Quantity,
		entry.Description,
		entry.RecordedAt,
		entry.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WorkEntry, error) {
	var entry domain.WorkEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, project_id, customer_id, rate_id, quantity, description, recorded_at, invoice_id, created_at
		 FROM work_entries WHERE id = ?`,
		id,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.WorkEntry, error) {
	var entries []domain.WorkEntry
	stmt := applyFilter(db.WithContext(ctx).Model(&domain.WorkEntry{}), filter)
	if filter.ProjectID != nil {
		stmt = stmt.Where("project_id = ?", *filter.ProjectID)
	}
	if err := stmt.Order("recorded_at ASC").Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListUnbilledIDs(ctx context.Context, db *gorm.DB, projectID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.WorkEntry{}).
		Where("project_id = ? AND invoice_id IS NULL", projectID).
		Order("recorded_at ASC").
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE work_entries SET invoice_id = ? WHERE id IN ? AND invoice_id IS NULL`,
		invoiceID,
		ids,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListBilledWork(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.BilledWork, error) {
	var rows []domain.BilledWork
	err := db.WithContext(ctx).Raw(
		`SELECT w.id, w.customer_id, w.quantity, w.description,
			r.name AS rate_name, r.unit_label, r.unit_price
		 FROM work_entries w
		 JOIN billing_rates r ON r.id = w.rate_id
		 WHERE w.invoice_id = ?
		 ORDER BY w.recorded_at ASC, w.id ASC`,
		invoiceID,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) InsertAgentCost(ctx context.Context, db *gorm.DB, entry *domain.AgentCostEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO agent_cost_entries (id, customer_id, project_id, description, cost, markup_percent, recorded_at, invoice_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		entry.ID,
		entry.CustomerID,
		entry.ProjectID,
		entry.Description,
		entry.Cost,
		entry.MarkupPercent,
		entry.RecordedAt,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListAgentCosts(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.AgentCostEntry, error) {
	var entries []domain.AgentCostEntry
	stmt := applyFilter(db.WithContext(ctx).Model(&domain.AgentCostEntry{}), filter)
	if filter.ProjectID != nil {
		stmt = stmt.Where("project_id = ?", *filter.ProjectID)
	}
	if err := stmt.Order("recorded_at ASC").Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListUnbilledAgentCostIDs(ctx context.Context, db *gorm.DB, customerID snowflake.ID, projectID *snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	stmt := db.WithContext(ctx).
		Model(&domain.AgentCostEntry{}).
		Where("customer_id = ? AND invoice_id IS NULL", customerID)
	if projectID != nil {
		stmt = stmt.Where("project_id = ?", *projectID)
	}
	err := stmt.Order("recorded_at ASC").Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

func (r *repo) ClaimAgentCosts(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE agent_cost_entries SET invoice_id = ? WHERE id IN ? AND invoice_id IS NULL`,
		invoiceID,
		ids,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListAgentCostsByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.AgentCostEntry, error) {
	var entries []domain.AgentCostEntry
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("recorded_at ASC").
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func applyFilter(stmt *gorm.DB, filter domain.ListFilter) *gorm.DB {
	if filter.CustomerID != nil {
		stmt = stmt.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.InvoiceID != nil {
		stmt = stmt.Where("invoice_id = ?", *filter.InvoiceID)
	}
	switch filter.State {
	case domain.StateFilterUnbilled:
		stmt = stmt.Where("invoice_id IS NULL")
	case domain.StateFilterBilled:
		stmt = stmt.Where("invoice_id IS NOT NULL")
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	return stmt
}
