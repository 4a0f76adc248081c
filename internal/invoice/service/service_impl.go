package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientbilling/internal/clock"
	"github.com/smallbiznis/clientbilling/internal/config"
	invoicedomain "github.com/smallbiznis/clientbilling/internal/invoice/domain"
	"github.com/smallbiznis/clientbilling/internal/notification"
	"github.com/smallbiznis/clientbilling/internal/observability/metrics"
	workdomain "github.com/smallbiznis/clientbilling/internal/workentry/domain"
	"github.com/smallbiznis/clientbilling/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Billing  *config.BillingConfigHolder `optional:"true"`
	Repo     invoicedomain.Repository
	WorkRepo workdomain.Repository
	Notifier notification.Notifier `optional:"true"`
	Metrics  *metrics.Metrics      `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	billing  *config.BillingConfigHolder
	repo     invoicedomain.Repository
	workRepo workdomain.Repository
	notifier notification.Notifier
	metrics  *metrics.Metrics
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		billing:  p.Billing,
		repo:     p.Repo,
		workRepo: p.WorkRepo,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

// MarkOverdue flips pending invoices past their due date. Running it again
// without a state change touches nothing.
func (s *Service) MarkOverdue(ctx context.Context) (int64, error) {
	changed, err := s.repo.MarkOverdue(ctx, s.db, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.log.Info("invoices marked overdue", zap.Int64("count", changed))
		s.metrics.RecordInvoiceStatus(ctx, string(invoicedomain.InvoiceStatusOverdue), changed)
	}
	return changed, nil
}

// SetStatus is the direct admin transition. Illegal transitions are
// rejected by the HTTP boundary, not here.
func (s *Service) SetStatus(ctx context.Context, id string, status invoicedomain.InvoiceStatus, opts ...invoicedomain.SetStatusOption) (*invoicedomain.Invoice, error) {
	invoiceID, err := parseID(id, invoicedomain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, invoicedomain.ErrInvalidStatus
	}
	var o invoicedomain.SetStatusOptions
	for _, opt := range opts {
		opt(&o)
	}

	var updated *invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}

		now := s.clock.Now()
		var paidAt *time.Time
		if status == invoicedomain.InvoiceStatusPaid {
			paidAt = invoice.PaidAt
			if paidAt == nil {
				paidAt = &now
			}
		}
		changed, err := s.repo.UpdateStatus(ctx, tx, invoice.ID, status, paidAt, now, o.KeepPaid)
		if err != nil {
			return err
		}
		if !changed && o.KeepPaid && status != invoicedomain.InvoiceStatusPaid {
			current, err := s.repo.FindByID(ctx, tx, invoice.ID)
			if err != nil {
				return err
			}
			if current != nil && current.Status == invoicedomain.InvoiceStatusPaid {
				return invoicedomain.ErrPaidRegression
			}
		}

		invoice.Status = status
		invoice.PaidAt = paidAt
		invoice.UpdatedAt = now
		updated = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice status set",
		zap.String("invoice_id", updated.ID.String()),
		zap.String("status", string(status)),
	)
	s.metrics.RecordInvoiceStatus(ctx, string(status), 1)
	return updated, nil
}

func (s *Service) MarkPaid(ctx context.Context, tx *gorm.DB, id string, paidAt time.Time) (bool, error) {
	invoiceID, err := parseID(id, invoicedomain.ErrInvalidID)
	if err != nil {
		return false, err
	}
	if tx == nil {
		tx = s.db
	}
	changed, err := s.repo.MarkPaid(ctx, tx, invoiceID, paidAt.UTC())
	if err != nil {
		return false, err
	}
	if changed {
		s.metrics.RecordInvoiceStatus(ctx, string(invoicedomain.InvoiceStatusPaid), 1)
	}
	return changed, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	invoiceID, err := parseID(id, invoicedomain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	if _, err := s.MarkOverdue(ctx); err != nil {
		return nil, err
	}

	invoice, err := s.repo.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrNotFound
	}
	items, err := s.repo.ListLineItems(ctx, s.db, invoice.ID)
	if err != nil {
		return nil, err
	}
	invoice.LineItems = items
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	filter := invoicedomain.ListFilter{}
	if strings.TrimSpace(req.CustomerID) != "" {
		id, err := parseID(req.CustomerID, invoicedomain.ErrInvalidCustomer)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, err
		}
		filter.CustomerID = &id
	}
	if strings.TrimSpace(req.ProjectID) != "" {
		id, err := parseID(req.ProjectID, invoicedomain.ErrInvalidProject)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, err
		}
		filter.ProjectID = &id
	}
	if status := strings.ToLower(strings.TrimSpace(req.Status)); status != "" {
		filter.Status = invoicedomain.InvoiceStatus(status)
		if !filter.Status.Valid() {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidStatus
		}
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		cursorID, err := parseID(cursor.ID, invoicedomain.ErrInvalidPageToken)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, err
		}
		filter.CursorCreatedAt = &createdAt
		filter.CursorID = cursorID
	}

	size := req.Size()
	filter.Limit = size + 1

	if _, err := s.MarkOverdue(ctx); err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	rows, pageInfo, err := pagination.BuildCursorPageInfo(rows, size, func(inv *invoicedomain.Invoice) pagination.Cursor {
		return pagination.Cursor{
			ID:        inv.ID.String(),
			CreatedAt: inv.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	invoices := make([]invoicedomain.Invoice, 0, len(rows))
	for _, inv := range rows {
		invoices = append(invoices, *inv)
	}
	return invoicedomain.ListInvoiceResponse{PageInfo: pageInfo, Invoices: invoices}, nil
}

// Delete removes a draft invoice and its line items. Drafts that still have
// billed work or a payment plan pointing at them are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	invoiceID, err := parseID(id, invoicedomain.ErrInvalidID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}
		if invoice.Status != invoicedomain.InvoiceStatusDraft {
			return invoicedomain.ErrNotDraft
		}
		refs, err := s.repo.CountReferences(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		if refs > 0 {
			return invoicedomain.ErrHasBilledWork
		}
		return s.repo.Delete(ctx, tx, invoice.ID)
	})
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, invalid
	}
	return snowflake.ID(value), nil
}

func isNothingToBill(err error) bool {
	return errors.Is(err, errNothingClaimed)
}
