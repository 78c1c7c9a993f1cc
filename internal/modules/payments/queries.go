package payments

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/idempotency"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/rental"
)

const statusCacheTTL = 10 * time.Minute

type Queries struct {
	*core
}

type StatusView struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Receipt    string          `json:"receipt,omitempty"`
	Plan       string          `json:"plan,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// statusEntry is what the status cache holds: the view plus who may read it.
type statusEntry struct {
	View    StatusView `json:"view"`
	Readers []string   `json:"readers"`
}

func (e statusEntry) readableBy(actorID string) bool {
	for _, r := range e.Readers {
		if r != "" && r == actorID {
			return true
		}
	}
	return false
}

// PaymentStatus reports a rent or deposit payment to its tenant or to the
// unit's landlord. Only terminal states are cached.
func (q *Queries) PaymentStatus(ctx context.Context, actorID, id string) (StatusView, error) {
	key := idempotency.PaymentStatusCacheKey(id)
	if e, ok := q.cachedStatus(ctx, key); ok {
		if !e.readableBy(actorID) {
			return StatusView{}, ErrForbidden
		}
		return e.View, nil
	}

	var p Payment
	if err := q.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StatusView{}, ErrNotFound
		}
		return StatusView{}, err
	}

	e := statusEntry{View: paymentView(p), Readers: []string{p.TenantID}}
	if landlord, err := q.rental.UnitLandlord(ctx, p.UnitID); err == nil {
		e.Readers = append(e.Readers, landlord.ID)
	}
	if p.Status != StatusPending {
		q.cacheStatus(ctx, key, e)
	}
	if !e.readableBy(actorID) {
		return StatusView{}, ErrForbidden
	}
	return e.View, nil
}

func (q *Queries) SubscriptionStatus(ctx context.Context, actorID, id string) (StatusView, error) {
	key := idempotency.PaymentStatusCacheKey(id)
	if e, ok := q.cachedStatus(ctx, key); ok {
		if !e.readableBy(actorID) {
			return StatusView{}, ErrForbidden
		}
		return e.View, nil
	}

	var sp SubscriptionPayment
	if err := q.db.WithContext(ctx).First(&sp, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StatusView{}, ErrNotFound
		}
		return StatusView{}, err
	}

	e := statusEntry{View: subscriptionView(sp)}
	if sp.UserID != nil {
		e.Readers = []string{*sp.UserID}
	}
	if sp.Status != StatusPending {
		q.cacheStatus(ctx, key, e)
	}
	if !e.readableBy(actorID) {
		return StatusView{}, ErrForbidden
	}
	return e.View, nil
}

type ListFilter struct {
	Status string
	Kind   string
	Limit  int
	Offset int
}

func (f ListFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Kind != "" {
		q = q.Where("payment_type = ?", f.Kind)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	return q.Order("created_at DESC").Limit(limit).Offset(offset)
}

// ListPayments returns a tenant's own payments, or for a landlord the
// payments made on their units.
func (q *Queries) ListPayments(ctx context.Context, actorID string, f ListFilter) ([]Payment, error) {
	actor, err := q.rental.GetUser(ctx, actorID)
	if errors.Is(err, rental.ErrNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, err
	}

	db := q.db.WithContext(ctx).Model(&Payment{})
	switch actor.Role {
	case rental.RoleTenant:
		db = db.Where("tenant_id = ?", actor.ID)
	case rental.RoleLandlord:
		owned := q.db.WithContext(ctx).Table("units").
			Select("units.id").
			Joins("JOIN properties ON properties.id = units.property_id").
			Where("properties.landlord_id = ?", actor.ID)
		db = db.Where("unit_id IN (?)", owned)
	default:
		return nil, ErrForbidden
	}

	out := []Payment{}
	if err := f.apply(db).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queries) ListSubscriptionPayments(ctx context.Context, actorID string, f ListFilter) ([]SubscriptionPayment, error) {
	f.Kind = ""
	out := []SubscriptionPayment{}
	err := f.apply(q.db.WithContext(ctx).Where("user_id = ?", actorID)).Find(&out).Error
	return out, err
}

// RentSummary totals rent collection across a landlord's units.
func (q *Queries) RentSummary(ctx context.Context, actorID string) (rental.RentSummary, error) {
	actor, err := q.rental.GetUser(ctx, actorID)
	if errors.Is(err, rental.ErrNotFound) {
		return rental.RentSummary{}, ErrForbidden
	}
	if err != nil {
		return rental.RentSummary{}, err
	}
	if actor.Role != rental.RoleLandlord {
		return rental.RentSummary{}, ErrForbidden
	}
	return q.rental.RentSummary(ctx, actor.ID)
}

func (q *Queries) cachedStatus(ctx context.Context, key string) (statusEntry, bool) {
	var e statusEntry
	hit, err := idempotency.GetJSON(ctx, q.store, key, &e)
	if err != nil {
		q.logger.WarnContext(ctx, "cache_read_failed", "key", key, "err", err)
	}
	return e, hit
}

func (q *Queries) cacheStatus(ctx context.Context, key string, e statusEntry) {
	if err := idempotency.SetJSON(ctx, q.store, key, e, statusCacheTTL); err != nil {
		q.logger.WarnContext(ctx, "cache_write_failed", "key", key, "err", err)
	}
}

func paymentView(p Payment) StatusView {
	v := StatusView{
		ID:         p.ID,
		Kind:       p.PaymentType,
		Status:     p.Status,
		Amount:     p.Amount,
		CreatedAt:  p.CreatedAt,
		ResolvedAt: p.ResolvedAt,
	}
	if p.GatewayReceipt != nil {
		v.Receipt = *p.GatewayReceipt
	}
	if p.ErrorMessage != nil {
		v.Error = *p.ErrorMessage
	}
	return v
}

func subscriptionView(sp SubscriptionPayment) StatusView {
	v := StatusView{
		ID:         sp.ID,
		Kind:       KindSubscription,
		Status:     sp.Status,
		Amount:     sp.Amount,
		Plan:       sp.Plan,
		CreatedAt:  sp.CreatedAt,
		ResolvedAt: sp.ResolvedAt,
	}
	if sp.GatewayReceipt != nil {
		v.Receipt = *sp.GatewayReceipt
	}
	if sp.ErrorMessage != nil {
		v.Error = *sp.ErrorMessage
	}
	return v
}
