// Package payments is the settlement engine: it opens Pending payments,
// pushes them to the gateway, reconciles callbacks into exactly one
// terminal transition and applies the resulting ledger effects.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/events"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/idempotency"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/rental"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/shared/money"
)

type Deps struct {
	DB        *gorm.DB
	Store     idempotency.Store
	Gateway   Gateway
	Publisher events.Publisher
	Rental    *rental.Repo
	Settings  Settings
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine bundles the settlement components around one shared core.
type Engine struct {
	Initiator  *Initiator
	Reconciler *Reconciler
	Ledger     *Ledger
	Disburser  *Disburser
	Sweeper    *Sweeper
	Queries    *Queries

	core *core
}

func NewEngine(d Deps) (*Engine, error) {
	if d.DB == nil || d.Store == nil || d.Gateway == nil {
		return nil, errors.New("payments: DB, Store and Gateway are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Rental == nil {
		d.Rental = rental.NewRepo(d.DB, d.Store, d.Logger)
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	settings := d.Settings.withDefaults()
	for code, p := range settings.Plans {
		if !money.IsWhole(p.Amount) {
			return nil, fmt.Errorf("payments: plan %q amount %s is not whole shillings", code, p.Amount)
		}
	}

	c := &core{
		db:       d.DB,
		store:    d.Store,
		gateway:  d.Gateway,
		pub:      d.Publisher,
		rental:   d.Rental,
		settings: settings,
		logger:   d.Logger,
		now:      d.Now,
	}

	ledger := &Ledger{core: c}
	disburser := &Disburser{core: c}
	e := &Engine{
		Initiator:  &Initiator{core: c, limiter: idempotency.NewRateLimiter(d.Store, settings.RateLimitPerMinute)},
		Reconciler: &Reconciler{core: c, ledger: ledger, disburser: disburser},
		Ledger:     ledger,
		Disburser:  disburser,
		Sweeper:    &Sweeper{core: c, disburser: disburser},
		Queries:    &Queries{core: c},
		core:       c,
	}
	return e, nil
}

// Wait blocks until background disbursements started by callbacks finish.
func (e *Engine) Wait() { e.core.bg.Wait() }

type core struct {
	db       *gorm.DB
	store    idempotency.Store
	gateway  Gateway
	pub      events.Publisher
	rental   *rental.Repo
	settings Settings
	logger   *slog.Logger
	now      func() time.Time

	bg sync.WaitGroup
}

// goBackground runs fn detached from the request's cancellation.
func (c *core) goBackground(ctx context.Context, fn func(ctx context.Context)) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn(context.WithoutCancel(ctx))
	}()
}

// releasePending drops the dedup key, but only while it still points at id.
func (c *core) releasePending(ctx context.Context, key, id string) {
	if _, err := c.store.DelIfValue(ctx, key, id); err != nil {
		c.logger.WarnContext(ctx, "dedup_release_failed", "key", key, "payment_id", id, "err", err)
	}
}

func (c *core) invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.store.Del(ctx, keys...); err != nil {
		c.logger.WarnContext(ctx, "cache_invalidate_failed", "keys", keys, "err", err)
	}
}

func (c *core) publish(ctx context.Context, topic, key string, v any) {
	if err := c.pub.Publish(ctx, topic, key, v); err != nil {
		c.logger.WarnContext(ctx, "event_publish_failed", "topic", topic, "key", key, "err", err)
	}
}

func (c *core) publishPayment(ctx context.Context, p Payment) {
	ev := events.PaymentEvent{
		PaymentID: p.ID,
		Kind:      p.PaymentType,
		Status:    p.Status,
		Amount:    p.Amount.StringFixed(2),
		TenantID:  p.TenantID,
		UnitID:    p.UnitID,
		At:        c.now(),
	}
	if p.GatewayReceipt != nil {
		ev.Receipt = *p.GatewayReceipt
	}
	if p.ErrorMessage != nil {
		ev.Reason = *p.ErrorMessage
	}
	c.publish(ctx, topicFor(p.Status), p.ID, ev)
}

func (c *core) publishSubscription(ctx context.Context, sp SubscriptionPayment) {
	ev := events.PaymentEvent{
		PaymentID: sp.ID,
		Kind:      KindSubscription,
		Status:    sp.Status,
		Amount:    sp.Amount.StringFixed(2),
		Plan:      sp.Plan,
		At:        c.now(),
	}
	if sp.UserID != nil {
		ev.UserID = *sp.UserID
	}
	if sp.GatewayReceipt != nil {
		ev.Receipt = *sp.GatewayReceipt
	}
	if sp.ErrorMessage != nil {
		ev.Reason = *sp.ErrorMessage
	}
	c.publish(ctx, topicFor(sp.Status), sp.ID, ev)
}

func topicFor(status string) string {
	if status == StatusSuccess {
		return events.TopicPaymentSettled
	}
	return events.TopicPaymentFailed
}

// pendingTarget is the second half of the dedup key.
func pendingTarget(kind, unitID string) string {
	if kind == KindSubscription {
		return KindSubscription
	}
	return unitID
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
