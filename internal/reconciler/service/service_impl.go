package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientbilling/internal/clock"
	invoicedomain "github.com/smallbiznis/clientbilling/internal/invoice/domain"
	"github.com/smallbiznis/clientbilling/internal/observability/metrics"
	plandomain "github.com/smallbiznis/clientbilling/internal/paymentplan/domain"
	paymentdomain "github.com/smallbiznis/clientbilling/internal/providers/payment/domain"
	"github.com/smallbiznis/clientbilling/internal/reconciler/domain"
	"github.com/smallbiznis/clientbilling/pkg/db"
	"github.com/smallbiznis/clientbilling/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errAlreadyRecorded rolls back an event that a concurrent delivery
// recorded first.
var errAlreadyRecorded = errors.New("event_already_recorded")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Events   repository.Repository[domain.PaymentEvent]
	Plans    plandomain.Repository
	Invoices invoicedomain.Service
	Parser   paymentdomain.WebhookParser `optional:"true"`
	Provider paymentdomain.Provider      `optional:"true"`
	Metrics  *metrics.Metrics            `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	events   repository.Repository[domain.PaymentEvent]
	plans    plandomain.Repository
	invoices invoicedomain.Service
	parser   paymentdomain.WebhookParser
	provider paymentdomain.Provider
	metrics  *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("reconciler.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		events:   p.Events,
		plans:    p.Plans,
		invoices: p.Invoices,
		parser:   p.Parser,
		provider: p.Provider,
		metrics:  p.Metrics,
	}
}

func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) ([]domain.Result, error) {
	if s.parser == nil {
		return nil, domain.ErrNotConfigured
	}
	events, err := s.parser.ParseWebhook(payload, signature)
	if err != nil {
		s.log.Warn("webhook rejected", zap.Error(err))
		s.metrics.RecordWebhookEvent(ctx, s.providerName(), "unknown", "rejected")
		return nil, err
	}
	return s.Apply(ctx, events...)
}

func (s *Service) Apply(ctx context.Context, events ...paymentdomain.Event) ([]domain.Result, error) {
	results := make([]domain.Result, 0, len(events))
	var errs []error
	for _, evt := range events {
		result, err := s.applyOne(ctx, evt)
		if err != nil {
			s.log.Error("webhook event failed",
				zap.String("event_id", evt.ID),
				zap.String("event_type", evt.RawType),
				zap.Error(err),
			)
			s.metrics.RecordWebhookEvent(ctx, evt.Provider, string(evt.Type), "error")
			errs = append(errs, fmt.Errorf("event %s: %w", evt.ID, err))
			continue
		}
		s.metrics.RecordWebhookEvent(ctx, evt.Provider, string(evt.Type), string(result.Outcome))
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

// effect is what handling one event decided: the outcome to record and any
// provider calls to make once the transaction has committed.
type effect struct {
	outcome      domain.Outcome
	reason       string
	planID       *snowflake.ID
	cancelSubIDs []string
	transitions  [][2]plandomain.PlanStatus
}

func dropped(reason string) effect {
	return effect{outcome: domain.OutcomeDropped, reason: reason}
}

func (s *Service) applyOne(ctx context.Context, evt paymentdomain.Event) (domain.Result, error) {
	result := domain.Result{EventID: evt.ID, Type: evt.RawType}
	if evt.Type == paymentdomain.EventIgnored {
		result.Outcome = domain.OutcomeIgnored
		return result, nil
	}
	if strings.TrimSpace(evt.ID) == "" {
		result.Outcome = domain.OutcomeDropped
		result.Reason = "missing event id"
		return result, nil
	}

	var eff effect
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events := s.events.WithTrx(tx)
		seen, err := events.FindOne(ctx, &domain.PaymentEvent{Provider: evt.Provider, EventID: evt.ID})
		if err != nil {
			return err
		}
		if seen != nil {
			eff = effect{outcome: domain.OutcomeDuplicate}
			return nil
		}

		eff, err = s.route(ctx, tx, evt)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		record := &domain.PaymentEvent{
			ID:          s.genID.Generate(),
			Provider:    evt.Provider,
			EventID:     evt.ID,
			EventType:   evt.RawType,
			PlanID:      eff.planID,
			Outcome:     string(eff.outcome),
			Payload:     datatypes.JSON(evt.Payload),
			ReceivedAt:  now,
			ProcessedAt: now,
		}
		if err := events.Create(ctx, record); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errAlreadyRecorded
			}
			return err
		}
		return nil
	})
	if errors.Is(err, errAlreadyRecorded) {
		eff = effect{outcome: domain.OutcomeDuplicate}
		err = nil
	}
	if err != nil {
		return result, err
	}

	for _, t := range eff.transitions {
		s.metrics.RecordPlanTransition(ctx, string(t[0]), string(t[1]))
	}
	for _, subID := range eff.cancelSubIDs {
		s.cancelSubscription(ctx, subID)
	}

	fields := []zap.Field{
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.RawType),
		zap.String("outcome", string(eff.outcome)),
	}
	if eff.reason != "" {
		fields = append(fields, zap.String("reason", eff.reason))
	}
	if eff.planID != nil {
		fields = append(fields, zap.String("plan_id", eff.planID.String()))
	}
	s.log.Info("webhook event handled", fields...)

	result.Outcome = eff.outcome
	result.Reason = eff.reason
	return result, nil
}

func (s *Service) route(ctx context.Context, tx *gorm.DB, evt paymentdomain.Event) (effect, error) {
	switch evt.Type {
	case paymentdomain.EventCheckoutCompleted:
		return s.onCheckoutCompleted(ctx, tx, evt)
	case paymentdomain.EventInvoicePaid:
		return s.onInvoicePaid(ctx, tx, evt)
	case paymentdomain.EventSubscriptionDeleted:
		return s.onSubscriptionDeleted(ctx, tx, evt)
	default:
		return effect{outcome: domain.OutcomeIgnored}, nil
	}
}

// cancelSubscription runs after commit. A failure leaves a subscription at
// the provider that no local plan tracks; it is logged for follow-up.
func (s *Service) cancelSubscription(ctx context.Context, subscriptionID string) {
	if s.provider == nil {
		s.log.Warn("cannot cancel provider subscription, provider not configured",
			zap.String("subscription_id", subscriptionID))
		return
	}
	if err := s.provider.CancelSubscription(context.WithoutCancel(ctx), subscriptionID); err != nil {
		s.log.Error("provider subscription cancel failed",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err),
		)
		return
	}
	s.log.Info("provider subscription cancelled", zap.String("subscription_id", subscriptionID))
}

func (s *Service) providerName() string {
	if s.provider == nil {
		return "unknown"
	}
	return s.provider.Name()
}

func eventTime(evt paymentdomain.Event, now time.Time) time.Time {
	if evt.OccurredAt.IsZero() {
		return now
	}
	return evt.OccurredAt.UTC()
}
