package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/idempotency"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/rental"
)

const maxLedgerAttempts = 3

var errStaleVersion = errors.New("unit version changed")

// Ledger applies the financial effect of a successful payment. Callers run
// it inside the transaction that made the payment terminal, so it executes
// at most once per payment.
type Ledger struct {
	*core
}

// Effect describes what a ledger write touched.
type Effect struct {
	InvalidateKeys []string
	Anomaly        string
}

func (l *Ledger) ApplyPayment(ctx context.Context, tx *gorm.DB, p Payment) (Effect, error) {
	var (
		eff Effect
		err error
	)
	for attempt := 1; attempt <= maxLedgerAttempts; attempt++ {
		switch p.PaymentType {
		case KindRent:
			eff, err = l.applyRent(ctx, tx, p)
		case KindDeposit:
			eff, err = l.applyDeposit(ctx, tx, p)
		default:
			return Effect{}, fmt.Errorf("ledger: unknown payment type %q", p.PaymentType)
		}
		if !errors.Is(err, errStaleVersion) {
			break
		}
		l.logger.WarnContext(ctx, "ledger_retry", "payment_id", p.ID, "unit_id", p.UnitID, "attempt", attempt)
	}
	if err != nil {
		return Effect{}, err
	}

	eff.InvalidateKeys = append(eff.InvalidateKeys,
		idempotency.UnitCacheKey(p.UnitID),
		idempotency.UserCacheKey(p.TenantID),
	)
	if landlord, lerr := rental.UnitLandlordTx(ctx, tx, p.UnitID); lerr == nil {
		eff.InvalidateKeys = append(eff.InvalidateKeys, idempotency.UserCacheKey(landlord.ID))
	}
	return eff, nil
}

func (l *Ledger) applyRent(ctx context.Context, tx *gorm.DB, p Payment) (Effect, error) {
	unit, err := lockUnit(ctx, tx, p.UnitID)
	if err != nil {
		return Effect{}, err
	}

	paid := unit.RentPaid.Add(p.Amount)
	remaining := decimal.Max(unit.Rent.Sub(paid), decimal.Zero)

	res := tx.WithContext(ctx).Model(&rental.Unit{}).
		Where("id = ? AND version = ?", unit.ID, unit.Version).
		Updates(map[string]any{
			"rent_paid":      paid,
			"rent_remaining": remaining,
			"version":        unit.Version + 1,
			"updated_at":     l.now(),
		})
	if res.Error != nil {
		return Effect{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Effect{}, errStaleVersion
	}

	l.logger.InfoContext(ctx, "rent_applied",
		"payment_id", p.ID,
		"unit_id", unit.ID,
		"rent_paid", paid.StringFixed(2),
		"rent_remaining", remaining.StringFixed(2),
	)
	return Effect{}, nil
}

func (l *Ledger) applyDeposit(ctx context.Context, tx *gorm.DB, p Payment) (Effect, error) {
	unit, err := lockUnit(ctx, tx, p.UnitID)
	if err != nil {
		return Effect{}, err
	}

	if unit.OccupiedBy(p.TenantID) {
		return Effect{}, nil
	}
	if unit.TenantID != nil {
		// money is collected; an operator decides between refund and reassignment
		l.logger.ErrorContext(ctx, "deposit_assignment_conflict",
			"alert", true,
			"payment_id", p.ID,
			"unit_id", unit.ID,
			"payer_id", p.TenantID,
			"current_tenant_id", *unit.TenantID,
			"err", ErrAssignmentConflict,
		)
		return Effect{Anomaly: AnomalyAssignmentConflict}, nil
	}

	res := tx.WithContext(ctx).Model(&rental.Unit{}).
		Where("id = ? AND version = ? AND tenant_id IS NULL", unit.ID, unit.Version).
		Updates(map[string]any{
			"tenant_id":    p.TenantID,
			"is_available": false,
			"version":      unit.Version + 1,
			"updated_at":   l.now(),
		})
	if res.Error != nil {
		return Effect{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Effect{}, errStaleVersion
	}

	l.logger.InfoContext(ctx, "tenant_assigned", "payment_id", p.ID, "unit_id", unit.ID, "tenant_id", p.TenantID)
	return Effect{}, nil
}

// ApplySubscription moves the landlord onto plan, starting now.
func (l *Ledger) ApplySubscription(ctx context.Context, tx *gorm.DB, userID, planCode string) (Effect, error) {
	plan, ok := l.settings.Plans[planCode]
	if !ok {
		return Effect{}, fmt.Errorf("ledger: unknown plan %q", planCode)
	}

	now := l.now()
	sub := rental.Subscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		Plan:      planCode,
		StartDate: now,
		UpdatedAt: now,
	}
	if plan.Days > 0 {
		exp := now.AddDate(0, 0, plan.Days)
		sub.ExpiryDate = &exp
	}

	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"plan", "start_date", "expiry_date", "updated_at"}),
		}).
		Create(&sub).Error
	if err != nil {
		return Effect{}, err
	}

	l.logger.InfoContext(ctx, "subscription_applied", "user_id", userID, "plan", planCode, "expiry", sub.ExpiryDate)
	return Effect{InvalidateKeys: []string{idempotency.UserCacheKey(userID)}}, nil
}

func lockUnit(ctx context.Context, tx *gorm.DB, id string) (rental.Unit, error) {
	var u rental.Unit
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rental.Unit{}, fmt.Errorf("ledger: unit %s: %w", id, ErrNotFound)
	}
	return u, err
}
