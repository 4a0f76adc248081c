package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clientbilling/internal/clock"
	ratedomain "github.com/smallbiznis/clientbilling/internal/rate/domain"
	raterepository "github.com/smallbiznis/clientbilling/internal/rate/repository"
	"github.com/smallbiznis/clientbilling/internal/testutil"
	workdomain "github.com/smallbiznis/clientbilling/internal/workentry/domain"
	"github.com/smallbiznis/clientbilling/internal/workentry/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   workdomain.Service
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
}

func setupWorkService(t *testing.T) fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		RateRepo: raterepository.Provide(),
	})
	return fixture{svc: svc, db: db, node: node, clock: clk}
}

func (f fixture) seedRate(t *testing.T, active bool) *ratedomain.Rate {
	t.Helper()
	now := f.clock.Now()
	rate := &ratedomain.Rate{
		ID:        f.node.Generate(),
		Code:      "rate-" + f.node.Generate().String(),
		Name:      "Engineering",
		UnitLabel: "hour",
		UnitPrice: 5000,
		Currency:  "usd",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, raterepository.Provide().Insert(context.Background(), f.db, rate))
	if !active {
		require.NoError(t, f.db.Model(&ratedomain.Rate{}).Where("id = ?", rate.ID).Update("active", false).Error)
	}
	return rate
}

func TestRecordWorkEntryStartsUnbilled(t *testing.T) {
	f := setupWorkService(t)
	ctx := context.Background()
	rate := f.seedRate(t, true)

	entry, err := f.svc.Record(ctx, workdomain.RecordRequest{
		ProjectID:   "101",
		CustomerID:  "202",
		RateID:      rate.ID.String(),
		Quantity:    decimal.RequireFromString("1.5"),
		Description: "API review",
	})
	require.NoError(t, err)
	assert.False(t, entry.State().IsBilled())
	assert.Equal(t, f.clock.Now(), entry.RecordedAt)

	got, err := f.svc.Get(ctx, entry.ID.String())
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(decimal.RequireFromString("1.5")))
	assert.Nil(t, got.InvoiceID)
}

func TestRecordWorkEntryValidation(t *testing.T) {
	f := setupWorkService(t)
	ctx := context.Background()
	active := f.seedRate(t, true)
	inactive := f.seedRate(t, false)

	cases := []struct {
		name string
		req  workdomain.RecordRequest
		want error
	}{
		{name: "bad project", req: workdomain.RecordRequest{ProjectID: "x", CustomerID: "1", RateID: active.ID.String(), Quantity: decimal.NewFromInt(1)}, want: workdomain.ErrInvalidProject},
		{name: "bad customer", req: workdomain.RecordRequest{ProjectID: "1", CustomerID: "0", RateID: active.ID.String(), Quantity: decimal.NewFromInt(1)}, want: workdomain.ErrInvalidCustomer},
		{name: "zero quantity", req: workdomain.RecordRequest{ProjectID: "1", CustomerID: "1", RateID: active.ID.String(), Quantity: decimal.Zero}, want: workdomain.ErrInvalidQuantity},
		{name: "unknown rate", req: workdomain.RecordRequest{ProjectID: "1", CustomerID: "1", RateID: "999", Quantity: decimal.NewFromInt(1)}, want: workdomain.ErrInvalidRate},
		{name: "inactive rate", req: workdomain.RecordRequest{ProjectID: "1", CustomerID: "1", RateID: inactive.ID.String(), Quantity: decimal.NewFromInt(1)}, want: workdomain.ErrRateInactive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Record(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestListFiltersByBillingState(t *testing.T) {
	f := setupWorkService(t)
	ctx := context.Background()
	rate := f.seedRate(t, true)

	var entries []*workdomain.WorkEntry
	for i := 0; i < 3; i++ {
		entry, err := f.svc.Record(ctx, workdomain.RecordRequest{
			ProjectID:  "77",
			CustomerID: "88",
			RateID:     rate.ID.String(),
			Quantity:   decimal.NewFromInt(1),
		})
		require.NoError(t, err)
		entries = append(entries, entry)
	}

	invoiceID := f.node.Generate()
	claimed, err := repository.Provide().Claim(ctx, f.db, []snowflake.ID{entries[0].ID}, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claimed)

	// A second claim on the same entry changes nothing.
	claimed, err = repository.Provide().Claim(ctx, f.db, []snowflake.ID{entries[0].ID}, f.node.Generate())
	require.NoError(t, err)
	assert.Equal(t, int64(0), claimed)

	unbilled, err := f.svc.List(ctx, workdomain.ListRequest{ProjectID: "77", State: workdomain.StateFilterUnbilled})
	require.NoError(t, err)
	assert.Len(t, unbilled, 2)

	billed, err := f.svc.List(ctx, workdomain.ListRequest{ProjectID: "77", State: workdomain.StateFilterBilled})
	require.NoError(t, err)
	require.Len(t, billed, 1)
	id, ok := billed[0].State().InvoiceID()
	assert.True(t, ok)
	assert.Equal(t, invoiceID, id)

	_, err = f.svc.List(ctx, workdomain.ListRequest{State: "settled"})
	assert.ErrorIs(t, err, workdomain.ErrInvalidState)
}

func TestRecordAgentCost(t *testing.T) {
	f := setupWorkService(t)
	ctx := context.Background()

	entry, err := f.svc.RecordAgentCost(ctx, workdomain.RecordAgentCostRequest{
		CustomerID:    "55",
		Cost:          1000,
		MarkupPercent: decimal.NewFromInt(20),
	})
	require.NoError(t, err)
	assert.Equal(t, "Agent usage", entry.Description)
	assert.Nil(t, entry.ProjectID)
	assert.Equal(t, int64(1200), entry.BilledAmount())

	_, err = f.svc.RecordAgentCost(ctx, workdomain.RecordAgentCostRequest{CustomerID: "55", Cost: -1})
	assert.ErrorIs(t, err, workdomain.ErrInvalidCost)
	_, err = f.svc.RecordAgentCost(ctx, workdomain.RecordAgentCostRequest{CustomerID: "55", MarkupPercent: decimal.NewFromInt(-5)})
	assert.ErrorIs(t, err, workdomain.ErrInvalidMarkup)

	listed, err := f.svc.ListAgentCosts(ctx, workdomain.ListRequest{CustomerID: "55"})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestBilledAmountRoundsHalfAwayFromZero(t *testing.T) {
	entry := workdomain.AgentCostEntry{Cost: 333, MarkupPercent: decimal.RequireFromString("15")}
	// 333 * 1.15 = 382.95
	assert.Equal(t, int64(383), entry.BilledAmount())
}
