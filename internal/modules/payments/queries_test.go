package payments

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/idempotency"
)

func TestPaymentStatusVisibility(t *testing.T) {
	f := newFixture(t)
	res := f.payRent(15000)

	v, err := f.eng.Queries.PaymentStatus(f.ctx, tenantID, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, v.Status)
	assert.False(t, f.mr.Exists(idempotency.PaymentStatusCacheKey(res.PaymentID)), "pending is not cached")

	f.settle(KindRent, res.PaymentID, 15000, "R1")

	v, err = f.eng.Queries.PaymentStatus(f.ctx, tenantID, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, v.Status)
	assert.Equal(t, "R1", v.Receipt)
	assert.True(t, v.Amount.Equal(decimal.NewFromInt(15000)))
	assert.True(t, f.mr.Exists(idempotency.PaymentStatusCacheKey(res.PaymentID)))

	v, err = f.eng.Queries.PaymentStatus(f.ctx, landlordID, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, v.Status)

	_, err = f.eng.Queries.PaymentStatus(f.ctx, strangerID, res.PaymentID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.eng.Queries.PaymentStatus(f.ctx, tenantID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptionStatusOwnerOnly(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(InitiateInput{ActorID: landlordID, Kind: KindSubscription, Plan: "professional"})

	v, err := f.eng.Queries.SubscriptionStatus(f.ctx, landlordID, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "professional", v.Plan)
	assert.Equal(t, KindSubscription, v.Kind)

	_, err = f.eng.Queries.SubscriptionStatus(f.ctx, tenantID, res.PaymentID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListPaymentsByRole(t *testing.T) {
	f := newFixture(t)
	rent := f.payRent(15000)
	f.settle(KindRent, rent.PaymentID, 15000, "R1")
	f.initiate(InitiateInput{ActorID: tenant2ID, Kind: KindDeposit, UnitID: freeUnitID})

	mine, err := f.eng.Queries.ListPayments(f.ctx, tenantID, ListFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, rent.PaymentID, mine[0].ID)

	all, err := f.eng.Queries.ListPayments(f.ctx, landlordID, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := f.eng.Queries.ListPayments(f.ctx, landlordID, ListFilter{Status: StatusPending, Kind: KindDeposit})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, tenant2ID, pending[0].TenantID)

	none, err := f.eng.Queries.ListPayments(f.ctx, strangerID, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.eng.Queries.ListPayments(f.ctx, "ghost", ListFilter{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListSubscriptionPaymentsAndSummary(t *testing.T) {
	f := newFixture(t)
	f.initiate(InitiateInput{ActorID: landlordID, Kind: KindSubscription, Plan: "basic"})
	rent := f.payRent(15000)
	f.settle(KindRent, rent.PaymentID, 15000, "R1")

	subs, err := f.eng.Queries.ListSubscriptionPayments(f.ctx, landlordID, ListFilter{})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "basic", subs[0].Plan)

	sum, err := f.eng.Queries.RentSummary(f.ctx, landlordID)
	require.NoError(t, err)
	require.Len(t, sum.Units, 2)
	assert.True(t, sum.TotalPaid.Equal(decimal.NewFromInt(15000)))
	assert.True(t, sum.TotalRemaining.Equal(decimal.NewFromInt(15000)))

	_, err = f.eng.Queries.RentSummary(f.ctx, tenantID)
	assert.ErrorIs(t, err, ErrForbidden)
}
