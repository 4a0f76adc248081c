package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/clientbilling/internal/clock"
	"github.com/smallbiznis/clientbilling/internal/config"
	ratedomain "github.com/smallbiznis/clientbilling/internal/rate/domain"
	"github.com/smallbiznis/clientbilling/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Billing *config.BillingConfigHolder `optional:"true"`
	Repo    ratedomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	billing *config.BillingConfigHolder
	repo    ratedomain.Repository
}

func New(p Params) ratedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("rate.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		billing: p.Billing,
		repo:    p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req ratedomain.CreateRequest) (*ratedomain.Rate, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ratedomain.ErrInvalidName
	}
	unitLabel := strings.TrimSpace(req.UnitLabel)
	if unitLabel == "" {
		return nil, ratedomain.ErrInvalidUnitLabel
	}
	if req.UnitPrice < 0 {
		return nil, ratedomain.ErrInvalidUnitPrice
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = name
	}
	code = slug.Make(code)
	if code == "" {
		return nil, ratedomain.ErrInvalidCode
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = strings.ToLower(s.billing.Get().Currency)
	}
	if len(currency) != 3 {
		return nil, ratedomain.ErrInvalidCurrency
	}

	existing, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ratedomain.ErrCodeTaken
	}

	now := s.clock.Now()
	rate := &ratedomain.Rate{
		ID:        s.genID.Generate(),
		Code:      code,
		Name:      name,
		UnitLabel: unitLabel,
		UnitPrice: req.UnitPrice,
		Currency:  currency,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, rate); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, ratedomain.ErrCodeTaken
		}
		return nil, err
	}

	s.log.Info("rate created",
		zap.String("rate_id", rate.ID.String()),
		zap.String("code", rate.Code),
		zap.Int64("unit_price", rate.UnitPrice),
	)
	return rate, nil
}

func (s *Service) Get(ctx context.Context, id string) (*ratedomain.Rate, error) {
	rateID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	rate, err := s.repo.FindByID(ctx, s.db, rateID)
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return nil, ratedomain.ErrNotFound
	}
	return rate, nil
}

func (s *Service) List(ctx context.Context, req ratedomain.ListRequest) ([]ratedomain.Rate, error) {
	return s.repo.List(ctx, s.db, req.ActiveOnly)
}

// Update applies the requested fields. A referenced rate only accepts
// activation changes.
func (s *Service) Update(ctx context.Context, id string, req ratedomain.UpdateRequest) (*ratedomain.Rate, error) {
	rateID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var updated *ratedomain.Rate
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rate, err := s.repo.FindByID(ctx, tx, rateID)
		if err != nil {
			return err
		}
		if rate == nil {
			return ratedomain.ErrNotFound
		}

		changesPricing := false
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return ratedomain.ErrInvalidName
			}
			changesPricing = changesPricing || name != rate.Name
			rate.Name = name
		}
		if req.UnitLabel != nil {
			label := strings.TrimSpace(*req.UnitLabel)
			if label == "" {
				return ratedomain.ErrInvalidUnitLabel
			}
			changesPricing = changesPricing || label != rate.UnitLabel
			rate.UnitLabel = label
		}
		if req.UnitPrice != nil {
			if *req.UnitPrice < 0 {
				return ratedomain.ErrInvalidUnitPrice
			}
			changesPricing = changesPricing || *req.UnitPrice != rate.UnitPrice
			rate.UnitPrice = *req.UnitPrice
		}
		if req.Active != nil {
			rate.Active = *req.Active
		}

		if changesPricing {
			refs, err := s.repo.CountReferences(ctx, tx, rate.ID)
			if err != nil {
				return err
			}
			if refs > 0 {
				return ratedomain.ErrRateInUse
			}
		}

		rate.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, rate); err != nil {
			return err
		}
		updated = rate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	rateID, err := parseID(id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rate, err := s.repo.FindByID(ctx, tx, rateID)
		if err != nil {
			return err
		}
		if rate == nil {
			return ratedomain.ErrNotFound
		}
		refs, err := s.repo.CountReferences(ctx, tx, rate.ID)
		if err != nil {
			return err
		}
		if refs > 0 {
			return ratedomain.ErrRateInUse
		}
		return s.repo.Delete(ctx, tx, rate.ID)
	})
}

func parseID(raw string) (snowflake.ID, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, ratedomain.ErrInvalidID
	}
	return snowflake.ID(value), nil
}
