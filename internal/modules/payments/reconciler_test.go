package payments

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/idempotency"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/rental"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/mpesa"
)

func TestRentCallbackSettlesLedger(t *testing.T) {
	f := newFixture(t)
	res := f.payRent(15000)

	out := f.settle(KindRent, res.PaymentID, 15000, "R1")
	assert.Equal(t, OutcomeSettled, out.Outcome)
	assert.Equal(t, viaReference, out.Method)

	p := f.payment(res.PaymentID)
	assert.Equal(t, StatusSuccess, p.Status)
	require.NotNil(t, p.GatewayReceipt)
	assert.Equal(t, "R1", *p.GatewayReceipt)
	assert.NotNil(t, p.ResolvedAt)

	u := f.unit(homeUnitID)
	assert.True(t, u.RentPaid.Equal(decimal.NewFromInt(15000)))
	assert.True(t, u.RentRemaining.IsZero())
	assert.Equal(t, int64(1), u.Version)

	assert.False(t, f.mr.Exists(idempotency.PendingKey(tenantID, homeUnitID)))
	assert.False(t, f.mr.Exists(idempotency.CorrelationKey("ws_CO_1")))
	assert.Equal(t, 1, f.pub.count("payments.settled"))
}

func TestDuplicateCallbackAppliesOnce(t *testing.T) {
	f := newFixture(t)
	res := f.payRent(15000)

	body, err := mpesa.BuildSTKCallback(mpesa.STKCallbackInput{
		CheckoutRequestID: "ws_CO_1",
		Amount:            decimal.NewFromInt(15000),
		Receipt:           "R1",
		AccountReference:  res.PaymentID,
	})
	require.NoError(t, err)

	first, err := f.eng.Reconciler.HandleSTK(f.ctx, KindRent, body)
	require.NoError(t, err)
	second, err := f.eng.Reconciler.HandleSTK(f.ctx, KindRent, body)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSettled, first.Outcome)
	assert.Equal(t, OutcomeAlreadyTerminal, second.Outcome)
	assert.True(t, f.unit(homeUnitID).RentPaid.Equal(decimal.NewFromInt(15000)))
	assert.Equal(t, 1, f.pub.count("payments.settled"))

	var archived []CallbackEvent
	require.NoError(t, f.db.Order("received_at ASC, outcome DESC").Find(&archived).Error)
	require.Len(t, archived, 2)
	for _, ev := range archived {
		require.NotNil(t, ev.ResolvedID)
		assert.Equal(t, res.PaymentID, *ev.ResolvedID)
	}
}

func TestRentRemainingNeverNegative(t *testing.T) {
	f := newFixture(t)

	res := f.payRent(30000)
	f.settle(KindRent, res.PaymentID, 30000, "R1")
	res = f.payRent(15000)
	f.settle(KindRent, res.PaymentID, 15000, "R2")

	u := f.unit(homeUnitID)
	assert.True(t, u.RentPaid.Equal(decimal.NewFromInt(45000)))
	assert.True(t, u.RentRemaining.IsZero())
}

func TestFailedCallbackReleasesDedup(t *testing.T) {
	f := newFixture(t)
	res := f.payRent(15000)

	out, err := f.callback(KindRent, mpesa.STKCallbackInput{
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Outcome)
	assert.Equal(t, viaCheckout, out.Method)

	p := f.payment(res.PaymentID)
	assert.Equal(t, StatusFailed, p.Status)
	require.NotNil(t, p.ErrorMessage)
	assert.Equal(t, "Request cancelled by user", *p.ErrorMessage)
	assert.True(t, f.unit(homeUnitID).RentPaid.IsZero())
	assert.Equal(t, 1, f.pub.count("payments.failed"))

	f.payRent(15000)
}

func TestCallbackResolvesByCheckoutID(t *testing.T) {
	f := newFixture(t)
	res := f.payRent(15000)

	// correlation cache lost; the column still matches
	f.mr.Del(idempotency.CorrelationKey("ws_CO_1"))

	out, err := f.callback(KindRent, mpesa.STKCallbackInput{
		CheckoutRequestID: "ws_CO_1",
		Amount:            decimal.NewFromInt(15000),
		Receipt:           "R9",
	})
	require.NoError(t, err)
	assert.Equal(t, viaCheckout, out.Method)
	assert.Equal(t, res.PaymentID, out.PaymentID)
	assert.Equal(t, StatusSuccess, f.payment(res.PaymentID).Status)
}

func TestCallbackFallbackMatchesPhoneAndAmount(t *testing.T) {
	for _, reported := range []string{"0722000222", "254722000222", "+254722000222"} {
		t.Run(reported, func(t *testing.T) {
			f := newFixture(t)
			res := f.payRent(15000)

			out, err := f.callback(KindRent, mpesa.STKCallbackInput{
				CheckoutRequestID: "ws_CO_unknown",
				Amount:            decimal.NewFromInt(15000),
				Receipt:           "R1",
				Phone:             reported,
			})
			require.NoError(t, err)
			assert.Equal(t, viaFallback, out.Method)
			assert.Equal(t, res.PaymentID, out.PaymentID)
		})
	}
}

func TestCallbackFallbackRespectsWindowAndAmount(t *testing.T) {
	f := newFixture(t)
	f.payRent(15000)

	_, err := f.callback(KindRent, mpesa.STKCallbackInput{
		CheckoutRequestID: "ws_CO_unknown",
		Amount:            decimal.NewFromInt(14000),
		Receipt:           "R1",
		Phone:             "254722000222",
	})
	assert.ErrorIs(t, err, ErrReconciliationMismatch)

	f.clock.Advance(11 * time.Minute)
	_, err = f.callback(KindRent, mpesa.STKCallbackInput{
		CheckoutRequestID: "ws_CO_unknown",
		Amount:            decimal.NewFromInt(15000),
		Receipt:           "R1",
		Phone:             "254722000222",
	})
	assert.ErrorIs(t, err, ErrReconciliationMismatch)

	var ev CallbackEvent
	require.NoError(t, f.db.Order("received_at DESC").First(&ev).Error)
	assert.Equal(t, OutcomeMismatch, ev.Outcome)
	assert.Nil(t, ev.ResolvedID)
}

func TestMalformedCallbackIsArchived(t *testing.T) {
	f := newFixture(t)

	out, err := f.eng.Reconciler.HandleSTK(f.ctx, KindRent, []byte("not json"))
	require.Error(t, err)
	assert.Equal(t, OutcomeInvalidPayload, out.Outcome)

	var ev CallbackEvent
	require.NoError(t, f.db.First(&ev).Error)
	assert.Equal(t, OutcomeInvalidPayload, ev.Outcome)
	assert.JSONEq(t, `"not json"`, string(ev.Payload))
}

func TestDepositCallbackAssignsTenant(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(InitiateInput{ActorID: tenant2ID, Kind: KindDeposit, UnitID: freeUnitID, Amount: decimal.NewFromInt(5000)})
	assert.Equal(t, StatusPending, f.payment(res.PaymentID).Status)

	out := f.settle(KindDeposit, res.PaymentID, 5000, "R1")
	assert.Equal(t, OutcomeSettled, out.Outcome)

	u := f.unit(freeUnitID)
	require.NotNil(t, u.TenantID)
	assert.Equal(t, tenant2ID, *u.TenantID)
	assert.False(t, u.IsAvailable)
	assert.Equal(t, StatusSuccess, f.payment(res.PaymentID).Status)
	assert.Nil(t, f.payment(res.PaymentID).Anomaly)

	// deposits never disburse
	f.eng.Wait()
	assert.Zero(t, f.gw.payoutCount())
}

func TestConcurrentDepositsFlagConflict(t *testing.T) {
	f := newFixture(t)
	first := f.initiate(InitiateInput{ActorID: tenant2ID, Kind: KindDeposit, UnitID: freeUnitID})
	second := f.initiate(InitiateInput{ActorID: tenant3ID, Kind: KindDeposit, UnitID: freeUnitID})

	f.settle(KindDeposit, first.PaymentID, 5000, "R1")
	out := f.settle(KindDeposit, second.PaymentID, 5000, "R2")
	assert.Equal(t, OutcomeSettled, out.Outcome)

	u := f.unit(freeUnitID)
	require.NotNil(t, u.TenantID)
	assert.Equal(t, tenant2ID, *u.TenantID)

	p := f.payment(second.PaymentID)
	assert.Equal(t, StatusSuccess, p.Status)
	require.NotNil(t, p.Anomaly)
	assert.Equal(t, AnomalyAssignmentConflict, *p.Anomaly)
}

func TestSubscriptionCallbackActivatesPlan(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(InitiateInput{ActorID: landlordID, Kind: KindSubscription, Plan: "starter", Phone: "+254722000111"})
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "https://api.example.com/callbacks/subscription", f.gw.lastPush().CallbackURL)

	out := f.settle(KindSubscription, res.PaymentID, 1000, "S1")
	assert.Equal(t, OutcomeSettled, out.Outcome)

	var sub rental.Subscription
	require.NoError(t, f.db.First(&sub, "user_id = ?", landlordID).Error)
	assert.Equal(t, "starter", sub.Plan)
	require.NotNil(t, sub.ExpiryDate)
	assert.WithinDuration(t, f.clock.Now().AddDate(0, 0, 30), *sub.ExpiryDate, time.Second)
	assert.False(t, f.mr.Exists(idempotency.PendingKey(landlordID, KindSubscription)))

	// upgrade replaces the plan in place
	res = f.initiate(InitiateInput{ActorID: landlordID, Kind: KindSubscription, Plan: "onetime"})
	f.settle(KindSubscription, res.PaymentID, 10000, "S2")
	var subs []rental.Subscription
	require.NoError(t, f.db.Find(&subs, "user_id = ?", landlordID).Error)
	require.Len(t, subs, 1)
	assert.Equal(t, "onetime", subs[0].Plan)
	assert.Nil(t, subs[0].ExpiryDate)
}

func TestSubscriptionPayerResolvedByAnyPhoneSpelling(t *testing.T) {
	for _, reported := range []string{"0722000111", "254722000111", "+254722000111"} {
		t.Run(reported, func(t *testing.T) {
			f := newFixture(t)
			now := f.clock.Now()
			sp := SubscriptionPayment{
				ID: "11111111-1111-1111-1111-111111111111", Phone: "254722000111",
				Amount: decimal.NewFromInt(2000), Plan: "basic", Status: StatusPending,
				CreatedAt: now, UpdatedAt: now,
			}
			require.NoError(t, f.db.Create(&sp).Error)

			out, err := f.callback(KindSubscription, mpesa.STKCallbackInput{
				CheckoutRequestID: "ws_CO_legacy",
				Amount:            decimal.NewFromInt(2000),
				Receipt:           "S1",
				Phone:             reported,
				AccountReference:  sp.ID,
			})
			require.NoError(t, err)
			assert.Equal(t, OutcomeSettled, out.Outcome)

			var got SubscriptionPayment
			require.NoError(t, f.db.First(&got, "id = ?", sp.ID).Error)
			require.NotNil(t, got.UserID)
			assert.Equal(t, landlordID, *got.UserID)

			var sub rental.Subscription
			require.NoError(t, f.db.First(&sub, "user_id = ?", landlordID).Error)
			assert.Equal(t, "basic", sub.Plan)
		})
	}
}

func TestDuplicateSubscriptionReceiptIsNoop(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(InitiateInput{ActorID: landlordID, Kind: KindSubscription, Plan: "starter"})
	f.settle(KindSubscription, res.PaymentID, 1000, "S1")

	now := f.clock.Now()
	other := SubscriptionPayment{
		ID: "22222222-2222-2222-2222-222222222222", Phone: "254722000111",
		Amount: decimal.NewFromInt(1000), Plan: "starter", Status: StatusPending,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(&other).Error)

	out := f.settle(KindSubscription, other.ID, 1000, "S1")
	assert.Equal(t, OutcomeDuplicateReceipt, out.Outcome)

	var got SubscriptionPayment
	require.NoError(t, f.db.First(&got, "id = ?", other.ID).Error)
	assert.Equal(t, StatusPending, got.Status)
}
