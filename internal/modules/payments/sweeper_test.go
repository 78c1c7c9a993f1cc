package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/idempotency"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/mpesa"
)

func TestSweepFailsStaleAndIgnoresLateCallback(t *testing.T) {
	f := newFixture(t)
	res := f.payRent(15000)

	rep, err := f.eng.Sweeper.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Payments, "fresh rows are left alone")

	f.clock.Advance(11 * time.Minute)
	rep, err = f.eng.Sweeper.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Payments)

	p := f.payment(res.PaymentID)
	assert.Equal(t, StatusFailed, p.Status)
	require.NotNil(t, p.ErrorMessage)
	assert.Equal(t, timeoutMessage, *p.ErrorMessage)
	assert.False(t, f.mr.Exists(idempotency.PendingKey(tenantID, homeUnitID)))
	assert.Equal(t, 1, f.pub.count("payments.failed"))

	out := f.settle(KindRent, res.PaymentID, 15000, "LATE1")
	assert.Equal(t, OutcomeLateAfterTerminal, out.Outcome)
	p = f.payment(res.PaymentID)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Nil(t, p.GatewayReceipt)
	assert.True(t, f.unit(homeUnitID).RentPaid.IsZero())

	rep, err = f.eng.Sweeper.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Payments)
}

func TestSweepExpiresSubscriptionPayments(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(InitiateInput{ActorID: landlordID, Kind: KindSubscription, Plan: "basic"})

	f.clock.Advance(10*time.Minute + time.Second)
	rep, err := f.eng.Sweeper.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.SubscriptionPayments)

	var sp SubscriptionPayment
	require.NoError(t, f.db.First(&sp, "id = ?", res.PaymentID).Error)
	assert.Equal(t, StatusFailed, sp.Status)
	assert.False(t, f.mr.Exists(idempotency.PendingKey(landlordID, KindSubscription)))
}

// The callback and the sweeper race on the same row; whichever commits
// first wins and the other must change nothing.
func TestCallbackAndSweepRace(t *testing.T) {
	f := newFixture(t)

	successes := 0
	for i := 0; i < 8; i++ {
		res := f.payRent(15000)
		f.clock.Advance(11 * time.Minute)

		body, err := mpesa.BuildSTKCallback(mpesa.STKCallbackInput{
			CheckoutRequestID: res.CorrelationID,
			Amount:            decimal.NewFromInt(15000),
			Receipt:           "RACE",
			AccountReference:  res.PaymentID,
		})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.eng.Reconciler.HandleSTK(f.ctx, KindRent, body)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.eng.Sweeper.Sweep(f.ctx)
		}()
		wg.Wait()

		p := f.payment(res.PaymentID)
		require.Contains(t, []string{StatusSuccess, StatusFailed}, p.Status)
		if p.Status == StatusSuccess {
			successes++
		}
	}

	u := f.unit(homeUnitID)
	want := decimal.NewFromInt(int64(15000 * successes))
	assert.True(t, u.RentPaid.Equal(want), "rent_paid %s, want %s", u.RentPaid, want)
	assert.True(t, u.RentRemaining.Equal(decimal.Max(u.Rent.Sub(u.RentPaid), decimal.Zero)))
	assert.Equal(t, 8, f.pub.count("payments.settled")+f.pub.count("payments.failed"))
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)

	done := make(chan struct{})
	go func() {
		f.eng.Sweeper.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
