package payments

import (
	"context"
	"time"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/idempotency"
)

const (
	sweepBatch           = 500
	timeoutMessage       = "timed out waiting for gateway callback"
	payoutTimeoutMessage = "no payout result before deadline"
)

// Sweeper fails Pending rows whose callback never came. It races the
// Reconciler on the same conditional update, so either may win.
type Sweeper struct {
	*core
	disburser *Disburser
}

type SweepReport struct {
	Payments             int
	SubscriptionPayments int
	// StaleDisbursements counts Pending payouts failed for lack of a result.
	StaleDisbursements int
	Disbursements      int
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	s.logger.InfoContext(ctx, "sweeper_started", "interval", interval.String(), "deadline", s.settings.PendingDeadline.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper_stopped")
			return
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "sweep_failed", "err", err)
			}
		}
	}
}

// Sweep makes one pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	cutoff := s.now().Add(-s.settings.PendingDeadline)

	var stale []Payment
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", StatusPending, cutoff).
		Order("created_at ASC").
		Limit(sweepBatch).
		Find(&stale).Error; err != nil {
		return rep, err
	}
	for _, p := range stale {
		ok, err := s.expire(ctx, &Payment{}, p.ID)
		if err != nil {
			return rep, err
		}
		if !ok {
			continue
		}
		rep.Payments++
		s.releasePending(ctx, idempotency.PendingKey(p.TenantID, pendingTarget(p.PaymentType, p.UnitID)), p.ID)
		s.expireCorrelation(ctx, p.CorrelationID, p.ID)
		p.Status = StatusFailed
		msg := timeoutMessage
		p.ErrorMessage = &msg
		s.publishPayment(ctx, p)
	}

	var staleSubs []SubscriptionPayment
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", StatusPending, cutoff).
		Order("created_at ASC").
		Limit(sweepBatch).
		Find(&staleSubs).Error; err != nil {
		return rep, err
	}
	for _, sp := range staleSubs {
		ok, err := s.expire(ctx, &SubscriptionPayment{}, sp.ID)
		if err != nil {
			return rep, err
		}
		if !ok {
			continue
		}
		rep.SubscriptionPayments++
		if sp.UserID != nil {
			s.releasePending(ctx, idempotency.PendingKey(*sp.UserID, KindSubscription), sp.ID)
		}
		s.expireCorrelation(ctx, sp.CorrelationID, sp.ID)
		sp.Status = StatusFailed
		msg := timeoutMessage
		sp.ErrorMessage = &msg
		s.publishSubscription(ctx, sp)
	}

	expired, err := s.disburser.ExpireStale(ctx)
	rep.StaleDisbursements = expired
	if err != nil {
		return rep, err
	}
	n, err := s.disburser.RetryFailed(ctx)
	rep.Disbursements = n
	if err != nil {
		return rep, err
	}

	if rep != (SweepReport{}) {
		s.logger.InfoContext(ctx, "sweep_completed",
			"payments_failed", rep.Payments,
			"subscription_payments_failed", rep.SubscriptionPayments,
			"disbursements_expired", rep.StaleDisbursements,
			"disbursements_retried", rep.Disbursements,
		)
	}
	return rep, nil
}

func (s *Sweeper) expire(ctx context.Context, model any, id string) (bool, error) {
	now := s.now()
	upd := s.db.WithContext(ctx).Model(model).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":        StatusFailed,
			"error_message": timeoutMessage,
			"resolved_at":   &now,
			"updated_at":    now,
		})
	return upd.RowsAffected == 1, upd.Error
}

func (s *Sweeper) expireCorrelation(ctx context.Context, checkoutID *string, id string) {
	keys := []string{idempotency.PaymentStatusCacheKey(id)}
	if checkoutID != nil {
		keys = append(keys, idempotency.CorrelationKey(*checkoutID))
	}
	s.invalidate(ctx, keys...)
}
