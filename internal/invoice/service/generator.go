package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clientbilling/internal/config"
	invoicedomain "github.com/smallbiznis/clientbilling/internal/invoice/domain"
	"github.com/smallbiznis/clientbilling/internal/notification"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxNumberAttempts = 5

// errNothingClaimed rolls the generation transaction back when there was no
// unbilled work left to claim.
var errNothingClaimed = errors.New("nothing_claimed")

var hundred = decimal.NewFromInt(100)

type terms struct {
	taxRate   decimal.Decimal
	dueInDays int
	currency  string
	prefix    string
}

func (s *Service) GenerateForProject(ctx context.Context, req invoicedomain.GenerateRequest) (*invoicedomain.Invoice, error) {
	projectID, err := parseID(req.ProjectID, invoicedomain.ErrInvalidProject)
	if err != nil {
		return nil, err
	}
	t, err := s.resolveTerms(req.TaxRate, req.DueInDays)
	if err != nil {
		return nil, err
	}

	var invoice *invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := s.workRepo.ListUnbilledIDs(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return errNothingClaimed
		}
		first, err := s.workRepo.FindByID(ctx, tx, ids[0])
		if err != nil {
			return err
		}
		if first == nil {
			return errNothingClaimed
		}

		inv, err := s.openInvoice(ctx, tx, first.CustomerID, &projectID, invoicedomain.InvoiceSourceWork, t)
		if err != nil {
			return err
		}

		claimed, err := s.workRepo.Claim(ctx, tx, ids, inv.ID)
		if err != nil {
			return err
		}
		if claimed == 0 {
			return errNothingClaimed
		}

		rows, err := s.workRepo.ListBilledWork(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		if int64(len(rows)) != claimed {
			return fmt.Errorf("claimed %d work entries but loaded %d", claimed, len(rows))
		}

		items := make([]invoicedomain.InvoiceLineItem, 0, len(rows))
		for _, row := range rows {
			entryID := row.ID
			unitPrice := decimal.NewFromInt(row.UnitPrice)
			items = append(items, invoicedomain.InvoiceLineItem{
				ID:          s.genID.Generate(),
				InvoiceID:   inv.ID,
				WorkEntryID: &entryID,
				Description: workDescription(row.RateName, row.Description),
				Quantity:    row.Quantity,
				UnitPrice:   row.UnitPrice,
				LineTotal:   row.Quantity.Mul(unitPrice).Round(0).IntPart(),
				CreatedAt:   inv.CreatedAt,
			})
		}

		if err := s.closeInvoice(ctx, tx, inv, items); err != nil {
			return err
		}
		invoice = inv
		return nil
	})
	if isNothingToBill(err) {
		s.log.Debug("no unbilled work", zap.String("project_id", projectID.String()))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.afterGenerate(ctx, invoice)
	return invoice, nil
}

func (s *Service) GenerateForAgentCosts(ctx context.Context, req invoicedomain.AgentCostRequest) (*invoicedomain.Invoice, error) {
	customerID, err := parseID(req.CustomerID, invoicedomain.ErrInvalidCustomer)
	if err != nil {
		return nil, err
	}
	var projectID *snowflake.ID
	if strings.TrimSpace(req.ProjectID) != "" {
		id, err := parseID(req.ProjectID, invoicedomain.ErrInvalidProject)
		if err != nil {
			return nil, err
		}
		projectID = &id
	}
	t, err := s.resolveTerms(req.TaxRate, req.DueInDays)
	if err != nil {
		return nil, err
	}

	var invoice *invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := s.workRepo.ListUnbilledAgentCostIDs(ctx, tx, customerID, projectID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return errNothingClaimed
		}

		inv, err := s.openInvoice(ctx, tx, customerID, projectID, invoicedomain.InvoiceSourceAgentCost, t)
		if err != nil {
			return err
		}

		claimed, err := s.workRepo.ClaimAgentCosts(ctx, tx, ids, inv.ID)
		if err != nil {
			return err
		}
		if claimed == 0 {
			return errNothingClaimed
		}

		entries, err := s.workRepo.ListAgentCostsByInvoice(ctx, tx, inv.ID)
		if err != nil {
			return err
		}

		items := make([]invoicedomain.InvoiceLineItem, 0, len(entries))
		for _, entry := range entries {
			entryID := entry.ID
			amount := entry.BilledAmount()
			description := entry.Description
			if entry.MarkupPercent.IsPositive() {
				description = fmt.Sprintf("%s (+%s%% markup)", description, entry.MarkupPercent.String())
			}
			items = append(items, invoicedomain.InvoiceLineItem{
				ID:          s.genID.Generate(),
				InvoiceID:   inv.ID,
				AgentCostID: &entryID,
				Description: description,
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   amount,
				LineTotal:   amount,
				CreatedAt:   inv.CreatedAt,
			})
		}

		if err := s.closeInvoice(ctx, tx, inv, items); err != nil {
			return err
		}
		invoice = inv
		return nil
	})
	if isNothingToBill(err) {
		s.log.Debug("no unbilled agent costs", zap.String("customer_id", customerID.String()))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.afterGenerate(ctx, invoice)
	return invoice, nil
}

func (s *Service) resolveTerms(taxRate *decimal.Decimal, dueInDays int) (terms, error) {
	cfg := config.DefaultBillingConfig()
	if s.billing != nil {
		cfg = s.billing.Get()
	}

	t := terms{
		taxRate:   cfg.TaxRate(),
		dueInDays: cfg.DueInDays,
		currency:  strings.ToLower(strings.TrimSpace(cfg.Currency)),
		prefix:    strings.TrimSpace(cfg.InvoicePrefix),
	}
	if taxRate != nil {
		t.taxRate = *taxRate
	}
	if t.taxRate.IsNegative() {
		return terms{}, invoicedomain.ErrInvalidTaxRate
	}
	if dueInDays < 0 {
		return terms{}, invoicedomain.ErrInvalidDueDays
	}
	if dueInDays > 0 {
		t.dueInDays = dueInDays
	}
	if t.prefix == "" {
		t.prefix = "INV"
	}
	return t, nil
}

// openInvoice inserts the pending invoice header. The sequence comes from
// the invoice count; a number taken by a concurrent generation moves on to
// the next one.
func (s *Service) openInvoice(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, projectID *snowflake.ID, source invoicedomain.InvoiceSource, t terms) (*invoicedomain.Invoice, error) {
	count, err := s.repo.Count(ctx, tx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	inv := &invoicedomain.Invoice{
		ID:         s.genID.Generate(),
		CustomerID: customerID,
		ProjectID:  projectID,
		Status:     invoicedomain.InvoiceStatusPending,
		Source:     source,
		IssuedAt:   now,
		DueDate:    now.AddDate(0, 0, t.dueInDays),
		TaxRate:    t.taxRate,
		Currency:   t.currency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for attempt := int64(0); attempt < maxNumberAttempts; attempt++ {
		inv.InvoiceNumber = formatInvoiceNumber(t.prefix, now.Year(), count+1+attempt)
		inserted, err := s.repo.Insert(ctx, tx, inv)
		if err != nil {
			return nil, err
		}
		if inserted {
			return inv, nil
		}
		s.log.Debug("invoice number taken, retrying", zap.String("invoice_number", inv.InvoiceNumber))
	}
	return nil, invoicedomain.ErrNumberExhausted
}

// closeInvoice writes the line items and the totals derived from them.
func (s *Service) closeInvoice(ctx context.Context, tx *gorm.DB, inv *invoicedomain.Invoice, items []invoicedomain.InvoiceLineItem) error {
	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotal
	}
	tax := decimal.NewFromInt(subtotal).Mul(inv.TaxRate).Div(hundred).Round(0).IntPart()

	inv.Subtotal = subtotal
	inv.Tax = tax
	inv.Total = subtotal + tax
	inv.UpdatedAt = s.clock.Now()
	inv.LineItems = items

	if err := s.repo.InsertLineItems(ctx, tx, items); err != nil {
		return err
	}
	return s.repo.UpdateTotals(ctx, tx, inv)
}

func (s *Service) afterGenerate(ctx context.Context, inv *invoicedomain.Invoice) {
	s.log.Info("invoice generated",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("source", string(inv.Source)),
		zap.Int("line_items", len(inv.LineItems)),
		zap.Int64("total", inv.Total),
	)
	s.metrics.RecordInvoiceGenerated(ctx, string(inv.Source))

	if s.notifier != nil {
		s.notifier.InvoiceCreated(ctx, notification.InvoiceCreated{
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			CustomerID:    inv.CustomerID,
			Total:         inv.Total,
			Currency:      inv.Currency,
			DueDate:       inv.DueDate,
		})
	}
}

func formatInvoiceNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq)
}

func workDescription(rateName, description string) string {
	rateName = strings.TrimSpace(rateName)
	description = strings.TrimSpace(description)
	if description == "" {
		return rateName
	}
	return rateName + ": " + description
}
