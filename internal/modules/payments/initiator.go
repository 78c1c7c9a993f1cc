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
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/mpesa"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/shared/money"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/shared/phone"
)

type Initiator struct {
	*core
	limiter *idempotency.RateLimiter
}

type InitiateInput struct {
	ActorID string
	Kind    string // rent | deposit | subscription
	UnitID  string
	Plan    string
	// Amount is required for rent; for deposits it must match the unit's
	// deposit when given.
	Amount decimal.Decimal
	// Phone overrides the actor's stored number.
	Phone string
}

type InitiateResult struct {
	PaymentID     string
	Kind          string
	Status        string
	Amount        decimal.Decimal
	CorrelationID string
	Message       string
}

// checkout is a validated request, ready to become a Pending row.
type checkout struct {
	kind   string
	actor  rental.User
	unitID string
	plan   string
	amount decimal.Decimal
	phone  string
}

// Initiate opens a Pending payment and pushes it to the payer's handset.
// It returns once the gateway accepts the push; the outcome arrives later
// through the Reconciler. On ErrGatewayUnavailable the result is still
// valid: the row stays Pending until a callback or the sweeper resolves it.
func (s *Initiator) Initiate(ctx context.Context, in InitiateInput) (InitiateResult, error) {
	if in.ActorID == "" {
		return InitiateResult{}, ErrForbidden
	}
	switch in.Kind {
	case KindRent, KindDeposit, KindSubscription:
	default:
		return InitiateResult{}, invalid("kind", "unknown payment kind %q", in.Kind)
	}

	allowed, err := s.limiter.Allow(ctx, in.ActorID)
	if err != nil {
		s.logger.WarnContext(ctx, "rate_limit_unavailable", "actor_id", in.ActorID, "err", err)
		allowed = true
	}
	if !allowed {
		return InitiateResult{}, ErrRateLimited
	}

	co, err := s.validate(ctx, in)
	if err != nil {
		return InitiateResult{}, err
	}

	paymentID := uuid.NewString()
	dedupKey := idempotency.PendingKey(in.ActorID, pendingTarget(co.kind, co.unitID))
	ok, err := s.store.SetNX(ctx, dedupKey, paymentID, s.settings.PendingTTL)
	if err != nil {
		// the pending-row check below still holds the line
		s.logger.WarnContext(ctx, "dedup_store_unavailable", "key", dedupKey, "err", err)
		ok = true
	}
	if !ok {
		return InitiateResult{}, ErrAlreadyPending
	}

	if err := s.open(ctx, co, paymentID); err != nil {
		s.releasePending(ctx, dedupKey, paymentID)
		return InitiateResult{}, err
	}

	res := InitiateResult{PaymentID: paymentID, Kind: co.kind, Status: StatusPending, Amount: co.amount}

	resp, perr := s.gateway.Push(ctx, mpesa.PushRequest{
		Amount:           money.Whole(co.amount),
		Phone:            co.phone,
		CallbackURL:      s.settings.Callbacks.forKind(co.kind),
		AccountReference: paymentID,
		Description:      pushDescription(co),
	})

	var rejected *mpesa.RejectedError
	switch {
	case errors.As(perr, &rejected):
		msg := truncate("gateway rejected: "+rejected.Error(), 250)
		if err := s.failRow(ctx, co.kind, paymentID, msg); err != nil {
			return res, err
		}
		s.releasePending(ctx, dedupKey, paymentID)
		s.logger.WarnContext(ctx, "push_rejected", "payment_id", paymentID, "kind", co.kind, "code", rejected.Code)
		res.Status = StatusFailed
		res.Message = rejected.Message
		return res, fmt.Errorf("%w: %s", ErrGatewayRejected, rejected.Message)

	case perr != nil:
		s.logger.ErrorContext(ctx, "push_unavailable", "payment_id", paymentID, "kind", co.kind, "err", perr)
		res.Message = "Payment request recorded; the prompt may be delayed."
		return res, fmt.Errorf("%w: %v", ErrGatewayUnavailable, perr)
	}

	res.CorrelationID = resp.CheckoutRequestID
	res.Message = resp.CustomerMessage
	if resp.CheckoutRequestID != "" {
		if err := s.db.WithContext(ctx).Model(rowModel(co.kind)).
			Where("id = ?", paymentID).
			Updates(map[string]any{"correlation_id": resp.CheckoutRequestID, "updated_at": s.now()}).Error; err != nil {
			// the AccountReference still correlates
			s.logger.WarnContext(ctx, "correlation_persist_failed", "payment_id", paymentID, "err", err)
		}
		if err := s.store.Set(ctx, idempotency.CorrelationKey(resp.CheckoutRequestID), paymentID, s.settings.PendingDeadline); err != nil {
			s.logger.WarnContext(ctx, "correlation_cache_failed", "payment_id", paymentID, "err", err)
		}
	}

	s.logger.InfoContext(ctx, "push_accepted",
		"payment_id", paymentID,
		"kind", co.kind,
		"amount", co.amount.String(),
		"checkout_request_id", resp.CheckoutRequestID,
	)
	return res, nil
}

func (s *Initiator) validate(ctx context.Context, in InitiateInput) (checkout, error) {
	actor, err := s.rental.GetUser(ctx, in.ActorID)
	if errors.Is(err, rental.ErrNotFound) {
		return checkout{}, ErrForbidden
	}
	if err != nil {
		return checkout{}, err
	}

	co := checkout{kind: in.Kind, actor: actor, unitID: in.UnitID, plan: in.Plan}

	switch in.Kind {
	case KindRent, KindDeposit:
		if actor.Role != rental.RoleTenant {
			return checkout{}, ErrForbidden
		}
		if in.UnitID == "" {
			return checkout{}, invalid("unit_id", "is required")
		}
		unit, err := s.rental.GetUnit(ctx, in.UnitID)
		if errors.Is(err, rental.ErrNotFound) {
			return checkout{}, ErrNotFound
		}
		if err != nil {
			return checkout{}, err
		}
		if in.Kind == KindRent {
			co.amount, err = s.rentAmount(unit, actor.ID, in.Amount)
		} else {
			co.amount, err = depositAmount(unit, actor.ID, in.Amount)
		}
		if err != nil {
			return checkout{}, err
		}

	case KindSubscription:
		if actor.Role != rental.RoleLandlord {
			return checkout{}, ErrForbidden
		}
		plan, ok := s.settings.Plans[in.Plan]
		if !ok {
			return checkout{}, invalid("plan", "unknown plan %q", in.Plan)
		}
		if !plan.Amount.IsPositive() {
			return checkout{}, invalid("plan", "plan %q cannot be purchased", in.Plan)
		}
		co.amount = plan.Amount
	}

	raw := in.Phone
	if raw == "" {
		raw = actor.Phone
	}
	co.phone, err = phone.Normalize(raw)
	if err != nil {
		return checkout{}, invalid("phone", "%v", err)
	}
	return co, nil
}

func (s *Initiator) rentAmount(unit rental.Unit, tenantID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !unit.OccupiedBy(tenantID) {
		return decimal.Zero, ErrForbidden
	}
	if !amount.IsPositive() {
		return decimal.Zero, invalid("amount", "must be greater than zero")
	}
	if !money.IsWhole(amount) {
		return decimal.Zero, invalid("amount", "must be whole shillings")
	}
	if !unit.Rent.IsPositive() {
		return decimal.Zero, invalid("unit_id", "unit has no rent configured")
	}
	ceiling := unit.Rent.Mul(decimal.NewFromInt(int64(s.settings.MaxRentPeriods)))
	if amount.LessThan(unit.Rent) || amount.GreaterThan(ceiling) {
		return decimal.Zero, invalid("amount", "must be between %s and %s", unit.Rent.StringFixed(2), ceiling.StringFixed(2))
	}
	return amount, nil
}

func depositAmount(unit rental.Unit, tenantID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if unit.OccupiedBy(tenantID) {
		return decimal.Zero, invalid("unit_id", "unit is already assigned to you")
	}
	if unit.TenantID != nil || !unit.IsAvailable {
		return decimal.Zero, invalid("unit_id", "unit is not available")
	}
	if !unit.Deposit.IsPositive() {
		return decimal.Zero, invalid("unit_id", "unit has no deposit configured")
	}
	if !money.IsWhole(unit.Deposit) {
		return decimal.Zero, invalid("unit_id", "unit deposit %s is not whole shillings", unit.Deposit.String())
	}
	if !amount.IsZero() && !money.IsWhole(amount) {
		return decimal.Zero, invalid("amount", "must be whole shillings")
	}
	if !amount.IsZero() && !amount.Equal(unit.Deposit) {
		return decimal.Zero, invalid("amount", "must equal the unit deposit of %s", unit.Deposit.StringFixed(2))
	}
	return unit.Deposit, nil
}

// open inserts the Pending row after re-checking, under the target row's
// lock, that no other Pending row exists for the same actor and target.
func (s *Initiator) open(ctx context.Context, co checkout, id string) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if co.kind == KindSubscription {
			var u rental.User
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, "id = ?", co.actor.ID).Error; err != nil {
				return err
			}
			var n int64
			if err := tx.Model(&SubscriptionPayment{}).
				Where("user_id = ? AND status = ?", co.actor.ID, StatusPending).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return ErrAlreadyPending
			}
			userID := co.actor.ID
			return tx.Create(&SubscriptionPayment{
				ID:        id,
				UserID:    &userID,
				Phone:     co.phone,
				Amount:    co.amount,
				Plan:      co.plan,
				Status:    StatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			}).Error
		}

		var unit rental.Unit
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&unit, "id = ?", co.unitID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var n int64
		if err := tx.Model(&Payment{}).
			Where("tenant_id = ? AND unit_id = ? AND status = ?", co.actor.ID, co.unitID, StatusPending).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyPending
		}
		return tx.Create(&Payment{
			ID:          id,
			TenantID:    co.actor.ID,
			UnitID:      co.unitID,
			PaymentType: co.kind,
			Amount:      co.amount,
			Phone:       co.phone,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}).Error
	})
}

// failRow moves a still-Pending row to Failed. A row that already left
// Pending is left alone.
func (s *Initiator) failRow(ctx context.Context, kind, id, msg string) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(rowModel(kind)).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":        StatusFailed,
			"error_message": msg,
			"resolved_at":   &now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		s.publishFailed(ctx, kind, id)
	}
	return nil
}

func (c *core) publishFailed(ctx context.Context, kind, id string) {
	if kind == KindSubscription {
		var sp SubscriptionPayment
		if err := c.db.WithContext(ctx).First(&sp, "id = ?", id).Error; err == nil {
			c.publishSubscription(ctx, sp)
		}
		return
	}
	var p Payment
	if err := c.db.WithContext(ctx).First(&p, "id = ?", id).Error; err == nil {
		c.publishPayment(ctx, p)
	}
}

func rowModel(kind string) any {
	if kind == KindSubscription {
		return &SubscriptionPayment{}
	}
	return &Payment{}
}

func pushDescription(co checkout) string {
	switch co.kind {
	case KindRent:
		return "Rent payment"
	case KindDeposit:
		return "Deposit payment"
	default:
		return fmt.Sprintf("Subscription %s", co.plan)
	}
}
