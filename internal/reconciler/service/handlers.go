package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/clientbilling/internal/paymentplan/domain"
	paymentdomain "github.com/smallbiznis/clientbilling/internal/providers/payment/domain"
	"github.com/smallbiznis/clientbilling/internal/reconciler/domain"
	"gorm.io/gorm"
)

// onCheckoutCompleted confirms the subscription handshake. Installments are
// only counted by paid charges.
func (s *Service) onCheckoutCompleted(ctx context.Context, tx *gorm.DB, evt paymentdomain.Event) (effect, error) {
	if evt.Mode != "" && evt.Mode != "subscription" {
		return dropped("checkout is not a subscription"), nil
	}
	plan, err := s.planFromMetadata(ctx, tx, evt.PlanID)
	if err != nil {
		return effect{}, err
	}
	if plan == nil {
		return dropped("no payment plan for checkout"), nil
	}
	eff := effect{planID: &plan.ID}
	subID := strings.TrimSpace(evt.SubscriptionID)
	if subID == "" {
		eff.outcome, eff.reason = domain.OutcomeDropped, "checkout without subscription"
		return eff, nil
	}

	switch plan.Status {
	case plandomain.PlanStatusPending:
	case plandomain.PlanStatusCancelled, plandomain.PlanStatusFailed:
		// The plan was abandoned locally while the customer was still in
		// checkout; nothing should keep charging them.
		if plan.ExternalSubscriptionID == nil {
			eff.outcome, eff.reason = domain.OutcomeDropped, "plan closed before checkout completed"
			eff.cancelSubIDs = []string{subID}
			return eff, nil
		}
		eff.outcome, eff.reason = domain.OutcomeDropped, "plan already closed"
		return eff, nil
	default:
		eff.outcome, eff.reason = domain.OutcomeDropped, "plan already "+string(plan.Status)
		return eff, nil
	}

	changed, err := s.plans.Activate(ctx, tx, plan.ID, subID, s.clock.Now())
	if err != nil {
		return effect{}, err
	}
	if !changed {
		eff.outcome, eff.reason = domain.OutcomeDropped, "plan no longer pending"
		return eff, nil
	}
	eff.outcome = domain.OutcomeApplied
	eff.transitions = append(eff.transitions, [2]plandomain.PlanStatus{plandomain.PlanStatusPending, plandomain.PlanStatusActive})
	return eff, nil
}

// onInvoicePaid counts one installment. The subscription's first invoice is
// skipped.
func (s *Service) onInvoicePaid(ctx context.Context, tx *gorm.DB, evt paymentdomain.Event) (effect, error) {
	if evt.BillingReason == paymentdomain.BillingReasonSubscriptionCreate {
		return effect{outcome: domain.OutcomeIgnored, reason: "initial subscription invoice"}, nil
	}
	plan, err := s.planForSubscription(ctx, tx, evt)
	if err != nil {
		return effect{}, err
	}
	if plan == nil {
		return dropped("no payment plan for subscription"), nil
	}
	eff := effect{planID: &plan.ID}
	if plan.Status != plandomain.PlanStatusActive {
		eff.outcome, eff.reason = domain.OutcomeDropped, "plan is "+string(plan.Status)
		return eff, nil
	}

	now := eventTime(evt, s.clock.Now())
	changed, err := s.plans.IncrementInstallments(ctx, tx, plan.ID, now)
	if err != nil {
		return effect{}, err
	}
	if !changed {
		eff.outcome, eff.reason = domain.OutcomeDropped, "all installments already paid"
		return eff, nil
	}
	eff.outcome = domain.OutcomeApplied

	if plan.InstallmentsPaid+1 >= plan.Installments {
		if err := s.completePlan(ctx, tx, plan, now, &eff); err != nil {
			return effect{}, err
		}
		if plan.ExternalSubscriptionID != nil {
			eff.cancelSubIDs = append(eff.cancelSubIDs, *plan.ExternalSubscriptionID)
		}
	}
	return eff, nil
}

// onSubscriptionDeleted closes the plan on the provider's word. A plan that
// was cancelled locally only gets its cancellation confirmed.
func (s *Service) onSubscriptionDeleted(ctx context.Context, tx *gorm.DB, evt paymentdomain.Event) (effect, error) {
	plan, err := s.planFromMetadata(ctx, tx, evt.PlanID)
	if err != nil {
		return effect{}, err
	}
	if plan == nil {
		plan, err = s.plans.FindBySubscriptionID(ctx, tx, evt.SubscriptionID)
		if err != nil {
			return effect{}, err
		}
	}
	if plan == nil {
		return dropped("no payment plan for subscription"), nil
	}
	eff := effect{planID: &plan.ID}
	now := eventTime(evt, s.clock.Now())

	switch plan.Status {
	case plandomain.PlanStatusActive:
		if plan.InstallmentsPaid >= plan.Installments {
			if err := s.completePlan(ctx, tx, plan, now, &eff); err != nil {
				return effect{}, err
			}
			eff.outcome = domain.OutcomeApplied
			return eff, nil
		}
		changed, err := s.plans.Cancel(ctx, tx, plan.ID, plandomain.PlanStatusActive, now, true)
		if err != nil {
			return effect{}, err
		}
		if !changed {
			eff.outcome, eff.reason = domain.OutcomeDropped, "plan no longer active"
			return eff, nil
		}
		eff.outcome = domain.OutcomeApplied
		eff.transitions = append(eff.transitions, [2]plandomain.PlanStatus{plandomain.PlanStatusActive, plandomain.PlanStatusCancelled})
		return eff, nil
	case plandomain.PlanStatusCancelled:
		changed, err := s.plans.ConfirmCancel(ctx, tx, plan.ID, now)
		if err != nil {
			return effect{}, err
		}
		if !changed {
			eff.outcome, eff.reason = domain.OutcomeDropped, "cancellation already confirmed"
			return eff, nil
		}
		eff.outcome = domain.OutcomeApplied
		return eff, nil
	default:
		eff.outcome, eff.reason = domain.OutcomeDropped, "plan is "+string(plan.Status)
		return eff, nil
	}
}

// completePlan closes a fully paid plan and settles its invoice in the same
// transaction.
func (s *Service) completePlan(ctx context.Context, tx *gorm.DB, plan *plandomain.PaymentPlan, at time.Time, eff *effect) error {
	completed, err := s.plans.Complete(ctx, tx, plan.ID, at)
	if err != nil {
		return err
	}
	if !completed {
		return nil
	}
	eff.transitions = append(eff.transitions, [2]plandomain.PlanStatus{plandomain.PlanStatusActive, plandomain.PlanStatusCompleted})
	if _, err := s.invoices.MarkPaid(ctx, tx, plan.InvoiceID.String(), at); err != nil {
		return err
	}
	return nil
}

func (s *Service) planForSubscription(ctx context.Context, tx *gorm.DB, evt paymentdomain.Event) (*plandomain.PaymentPlan, error) {
	plan, err := s.plans.FindBySubscriptionID(ctx, tx, evt.SubscriptionID)
	if err != nil || plan != nil {
		return plan, err
	}
	return s.planFromMetadata(ctx, tx, evt.PlanID)
}

func (s *Service) planFromMetadata(ctx context.Context, tx *gorm.DB, raw string) (*plandomain.PaymentPlan, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return nil, nil
	}
	return s.plans.FindByID(ctx, tx, snowflake.ID(value))
}
