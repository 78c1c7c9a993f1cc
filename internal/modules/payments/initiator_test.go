package payments

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/idempotency"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/mpesa"
)

func TestInitiateRentOpensPendingAndPushes(t *testing.T) {
	f := newFixture(t)

	res := f.payRent(15000)
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, "ws_CO_1", res.CorrelationID)

	p := f.payment(res.PaymentID)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, KindRent, p.PaymentType)
	assert.Equal(t, "254722000222", p.Phone)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(15000)))
	require.NotNil(t, p.CorrelationID)
	assert.Equal(t, "ws_CO_1", *p.CorrelationID)

	push := f.gw.lastPush()
	assert.Equal(t, int64(15000), push.Amount)
	assert.Equal(t, "254722000222", push.Phone)
	assert.Equal(t, res.PaymentID, push.AccountReference)
	assert.Equal(t, "https://api.example.com/callbacks/rent", push.CallbackURL)

	got, err := f.mr.Get(idempotency.PendingKey(tenantID, homeUnitID))
	require.NoError(t, err)
	assert.Equal(t, res.PaymentID, got)
	got, err = f.mr.Get(idempotency.CorrelationKey("ws_CO_1"))
	require.NoError(t, err)
	assert.Equal(t, res.PaymentID, got)

	// no ledger effect before the callback
	assert.True(t, f.unit(homeUnitID).RentPaid.IsZero())
}

func TestInitiateSuppressesDuplicates(t *testing.T) {
	f := newFixture(t)
	f.payRent(15000)

	_, err := f.eng.Initiator.Initiate(f.ctx, InitiateInput{ActorID: tenantID, Kind: KindRent, UnitID: homeUnitID, Amount: decimal.NewFromInt(15000)})
	assert.ErrorIs(t, err, ErrAlreadyPending)

	// with the dedup key gone the pending row still blocks
	f.mr.Del(idempotency.PendingKey(tenantID, homeUnitID))
	_, err = f.eng.Initiator.Initiate(f.ctx, InitiateInput{ActorID: tenantID, Kind: KindRent, UnitID: homeUnitID, Amount: decimal.NewFromInt(15000)})
	assert.ErrorIs(t, err, ErrAlreadyPending)
	assert.False(t, f.mr.Exists(idempotency.PendingKey(tenantID, homeUnitID)))

	var n int64
	require.NoError(t, f.db.Model(&Payment{}).Where("tenant_id = ? AND unit_id = ? AND status = ?", tenantID, homeUnitID, StatusPending).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name  string
		in    InitiateInput
		want  error
		field string
	}{
		{"rent below one period", InitiateInput{ActorID: tenantID, Kind: KindRent, UnitID: homeUnitID, Amount: decimal.NewFromInt(14999)}, ErrValidationFailed, "amount"},
		{"rent above cap", InitiateInput{ActorID: tenantID, Kind: KindRent, UnitID: homeUnitID, Amount: decimal.NewFromInt(15000 * 13)}, ErrValidationFailed, "amount"},
		{"rent with cents", InitiateInput{ActorID: tenantID, Kind: KindRent, UnitID: homeUnitID, Amount: decimal.RequireFromString("15000.40")}, ErrValidationFailed, "amount"},
		{"deposit with cents", InitiateInput{ActorID: tenant2ID, Kind: KindDeposit, UnitID: freeUnitID, Amount: decimal.RequireFromString("5000.50")}, ErrValidationFailed, "amount"},
		{"rent zero", InitiateInput{ActorID: tenantID, Kind: KindRent, UnitID: homeUnitID}, ErrValidationFailed, "amount"},
		{"rent on someone else's unit", InitiateInput{ActorID: strangerID, Kind: KindRent, UnitID: homeUnitID, Amount: decimal.NewFromInt(15000)}, ErrForbidden, ""},
		{"unknown unit", InitiateInput{ActorID: tenantID, Kind: KindRent, UnitID: "nope", Amount: decimal.NewFromInt(15000)}, ErrNotFound, ""},
		{"deposit wrong amount", InitiateInput{ActorID: tenant2ID, Kind: KindDeposit, UnitID: freeUnitID, Amount: decimal.NewFromInt(4000)}, ErrValidationFailed, "amount"},
		{"deposit on taken unit", InitiateInput{ActorID: tenant2ID, Kind: KindDeposit, UnitID: homeUnitID}, ErrValidationFailed, "unit_id"},
		{"landlord paying rent", InitiateInput{ActorID: landlordID, Kind: KindRent, UnitID: homeUnitID, Amount: decimal.NewFromInt(15000)}, ErrForbidden, ""},
		{"free plan", InitiateInput{ActorID: landlordID, Kind: KindSubscription, Plan: "free"}, ErrValidationFailed, "plan"},
		{"unknown plan", InitiateInput{ActorID: landlordID, Kind: KindSubscription, Plan: "gold"}, ErrValidationFailed, "plan"},
		{"tenant buying plan", InitiateInput{ActorID: tenantID, Kind: KindSubscription, Plan: "starter"}, ErrForbidden, ""},
		{"bad phone", InitiateInput{ActorID: landlordID, Kind: KindSubscription, Plan: "starter", Phone: "12345"}, ErrValidationFailed, "phone"},
		{"unknown kind", InitiateInput{ActorID: tenantID, Kind: "refund"}, ErrValidationFailed, "kind"},
		{"anonymous", InitiateInput{Kind: KindRent}, ErrForbidden, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.eng.Initiator.Initiate(f.ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
			if tc.field != "" {
				var ve *ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, tc.field, ve.Field)
			}
		})
	}

	var n int64
	require.NoError(t, f.db.Model(&Payment{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Empty(t, f.gw.pushes)
}

func TestInitiateRateLimited(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.RateLimitPerMinute = 2 })

	in := InitiateInput{ActorID: tenantID, Kind: KindRent, UnitID: homeUnitID, Amount: decimal.NewFromInt(1)}
	for i := 0; i < 2; i++ {
		_, err := f.eng.Initiator.Initiate(f.ctx, in)
		require.ErrorIs(t, err, ErrValidationFailed)
	}
	_, err := f.eng.Initiator.Initiate(f.ctx, in)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestInitiateGatewayUnavailableKeepsPending(t *testing.T) {
	f := newFixture(t)
	f.gw.setPushErr(mpesa.ErrUnavailable)

	res, err := f.eng.Initiator.Initiate(f.ctx, InitiateInput{ActorID: tenantID, Kind: KindRent, UnitID: homeUnitID, Amount: decimal.NewFromInt(15000)})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	require.NotEmpty(t, res.PaymentID)
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, StatusPending, f.payment(res.PaymentID).Status)
	assert.True(t, f.mr.Exists(idempotency.PendingKey(tenantID, homeUnitID)))
}

func TestInitiateGatewayRejectionFailsRow(t *testing.T) {
	f := newFixture(t)
	f.gw.setPushErr(&mpesa.RejectedError{Code: "400.002.02", Message: "Invalid PhoneNumber"})

	res, err := f.eng.Initiator.Initiate(f.ctx, InitiateInput{ActorID: landlordID, Kind: KindSubscription, Plan: "starter"})
	require.ErrorIs(t, err, ErrGatewayRejected)
	assert.Equal(t, StatusFailed, res.Status)

	var sp SubscriptionPayment
	require.NoError(t, f.db.First(&sp, "id = ?", res.PaymentID).Error)
	assert.Equal(t, StatusFailed, sp.Status)
	require.NotNil(t, sp.ErrorMessage)
	assert.Contains(t, *sp.ErrorMessage, "Invalid PhoneNumber")
	assert.False(t, f.mr.Exists(idempotency.PendingKey(landlordID, KindSubscription)))
	assert.Equal(t, 1, f.pub.count("payments.failed"))

	// the key is free again
	f.gw.setPushErr(nil)
	f.initiate(InitiateInput{ActorID: landlordID, Kind: KindSubscription, Plan: "starter"})
}

func TestInitiateDepositUsesUnitDeposit(t *testing.T) {
	f := newFixture(t)

	res := f.initiate(InitiateInput{ActorID: tenant2ID, Kind: KindDeposit, UnitID: freeUnitID})
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(5000)))
	push := f.gw.lastPush()
	assert.Equal(t, int64(5000), push.Amount)
	assert.Equal(t, "254722000333", push.Phone)
	assert.Equal(t, "https://api.example.com/callbacks/deposit", push.CallbackURL)
}

// The gateway only moves whole shillings, so the row, the push and the
// ledger credit must all carry the same integer amount.
func TestInitiateRejectsFractionalRent(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.Initiator.Initiate(f.ctx, InitiateInput{ActorID: tenantID, Kind: KindRent, UnitID: homeUnitID, Amount: decimal.RequireFromString("15000.40")})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "amount", ve.Field)
	assert.Equal(t, "must be whole shillings", ve.Msg)
	assert.Empty(t, f.gw.pushes)
	assert.False(t, f.mr.Exists(idempotency.PendingKey(tenantID, homeUnitID)))

	res := f.payRent(15001)
	assert.Equal(t, int64(15001), f.gw.lastPush().Amount)
	assert.True(t, f.payment(res.PaymentID).Amount.Equal(decimal.NewFromInt(15001)))
}
