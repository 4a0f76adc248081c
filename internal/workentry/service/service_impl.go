package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clientbilling/internal/clock"
	ratedomain "github.com/smallbiznis/clientbilling/internal/rate/domain"
	workdomain "github.com/smallbiznis/clientbilling/internal/workentry/domain"
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
	Repo     workdomain.Repository
	RateRepo ratedomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     workdomain.Repository
	rateRepo ratedomain.Repository
}

func New(p Params) workdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("workentry.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		rateRepo: p.RateRepo,
	}
}

// Record appends a work entry. Entries are always created unbilled.
func (s *Service) Record(ctx context.Context, req workdomain.RecordRequest) (*workdomain.WorkEntry, error) {
	projectID, err := parseID(req.ProjectID, workdomain.ErrInvalidProject)
	if err != nil {
		return nil, err
	}
	customerID, err := parseID(req.CustomerID, workdomain.ErrInvalidCustomer)
	if err != nil {
		return nil, err
	}
	rateID, err := parseID(req.RateID, workdomain.ErrInvalidRate)
	if err != nil {
		return nil, err
	}
	if !req.Quantity.IsPositive() {
		return nil, workdomain.ErrInvalidQuantity
	}

	rate, err := s.rateRepo.FindByID(ctx, s.db, rateID)
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return nil, workdomain.ErrInvalidRate
	}
	if !rate.Active {
		return nil, workdomain.ErrRateInactive
	}

	now := s.clock.Now()
	recordedAt := now
	if req.RecordedAt != nil && !req.RecordedAt.IsZero() {
		recordedAt = req.RecordedAt.UTC()
	}

	entry := &workdomain.WorkEntry{
		ID:          s.genID.Generate(),
		ProjectID:   projectID,
		CustomerID:  customerID,
		RateID:      rate.ID,
		Quantity:    req.Quantity,
		Description: strings.TrimSpace(req.Description),
		RecordedAt:  recordedAt,
		CreatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) Get(ctx context.Context, id string) (*workdomain.WorkEntry, error) {
	entryID, err := parseID(id, workdomain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	entry, err := s.repo.FindByID(ctx, s.db, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, workdomain.ErrNotFound
	}
	return entry, nil
}

func (s *Service) List(ctx context.Context, req workdomain.ListRequest) ([]workdomain.WorkEntry, error) {
	filter, err := buildFilter(req)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) RecordAgentCost(ctx context.Context, req workdomain.RecordAgentCostRequest) (*workdomain.AgentCostEntry, error) {
	customerID, err := parseID(req.CustomerID, workdomain.ErrInvalidCustomer)
	if err != nil {
		return nil, err
	}
	var projectID *snowflake.ID
	if strings.TrimSpace(req.ProjectID) != "" {
		id, err := parseID(req.ProjectID, workdomain.ErrInvalidProject)
		if err != nil {
			return nil, err
		}
		projectID = &id
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Agent usage"
	}
	if req.Cost < 0 {
		return nil, workdomain.ErrInvalidCost
	}
	if req.MarkupPercent.IsNegative() {
		return nil, workdomain.ErrInvalidMarkup
	}

	now := s.clock.Now()
	recordedAt := now
	if req.RecordedAt != nil && !req.RecordedAt.IsZero() {
		recordedAt = req.RecordedAt.UTC()
	}

	entry := &workdomain.AgentCostEntry{
		ID:            s.genID.Generate(),
		CustomerID:    customerID,
		ProjectID:     projectID,
		Description:   description,
		Cost:          req.Cost,
		MarkupPercent: req.MarkupPercent.Round(4),
		RecordedAt:    recordedAt,
		CreatedAt:     now,
	}
	if entry.MarkupPercent.Equal(decimal.Zero) {
		entry.MarkupPercent = decimal.Zero
	}
	if err := s.repo.InsertAgentCost(ctx, s.db, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) ListAgentCosts(ctx context.Context, req workdomain.ListRequest) ([]workdomain.AgentCostEntry, error) {
	filter, err := buildFilter(req)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAgentCosts(ctx, s.db, filter)
}

func buildFilter(req workdomain.ListRequest) (workdomain.ListFilter, error) {
	filter := workdomain.ListFilter{Limit: req.PageSize}
	if strings.TrimSpace(req.ProjectID) != "" {
		id, err := parseID(req.ProjectID, workdomain.ErrInvalidProject)
		if err != nil {
			return filter, err
		}
		filter.ProjectID = &id
	}
	if strings.TrimSpace(req.CustomerID) != "" {
		id, err := parseID(req.CustomerID, workdomain.ErrInvalidCustomer)
		if err != nil {
			return filter, err
		}
		filter.CustomerID = &id
	}
	if strings.TrimSpace(req.InvoiceID) != "" {
		id, err := parseID(req.InvoiceID, workdomain.ErrInvalidID)
		if err != nil {
			return filter, err
		}
		filter.InvoiceID = &id
	}
	switch req.State {
	case workdomain.StateFilterAll, workdomain.StateFilterUnbilled, workdomain.StateFilterBilled:
		filter.State = req.State
	default:
		return filter, workdomain.ErrInvalidState
	}
	return filter, nil
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, invalid
	}
	return snowflake.ID(value), nil
}
