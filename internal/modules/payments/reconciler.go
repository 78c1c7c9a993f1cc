package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/database"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/idempotency"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/rental"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/mpesa"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/shared/phone"
)

// Callback outcomes, recorded on the archived CallbackEvent.
const (
	OutcomeReceived          = "received"
	OutcomeSettled           = "settled"
	OutcomeFailed            = "failed"
	OutcomeAlreadyTerminal   = "already_terminal"
	OutcomeLateAfterTerminal = "late_after_terminal"
	OutcomeMismatch          = "mismatch"
	OutcomeDuplicateReceipt  = "duplicate_receipt"
	OutcomeInvalidPayload    = "invalid_payload"
)

// Resolution methods, in the order they are tried.
const (
	viaReference = "account_reference"
	viaCheckout  = "checkout_id"
	viaFallback  = "fallback"
)

var errAlreadyResolved = errors.New("already resolved")

type Reconciler struct {
	*core
	ledger    *Ledger
	disburser *Disburser
}

type Reconciliation struct {
	PaymentID string
	Outcome   string
	Method    string
}

// HandleSTK reconciles one STK callback for kind. Every error is for
// logging only; the gateway is acknowledged regardless.
func (r *Reconciler) HandleSTK(ctx context.Context, kind string, body []byte) (Reconciliation, error) {
	res, perr := mpesa.ParseSTKCallback(body)
	eventID := r.archive(ctx, kind, res, body)

	out, err := r.reconcile(ctx, kind, res, perr)
	r.finishArchive(ctx, eventID, out)

	attrs := []any{
		"kind", kind,
		"checkout_request_id", res.CheckoutRequestID,
		"result_code", res.ResultCode,
		"payment_id", out.PaymentID,
		"outcome", out.Outcome,
		"method", out.Method,
	}
	switch {
	case errors.Is(err, ErrReconciliationMismatch):
		r.logger.ErrorContext(ctx, "callback_unmatched", append(attrs, "alert", true, "phone", res.Phone, "amount", res.Amount.String())...)
	case err != nil:
		r.logger.ErrorContext(ctx, "callback_failed", append(attrs, "err", err)...)
	case out.Outcome == OutcomeLateAfterTerminal:
		r.logger.WarnContext(ctx, "callback_late", append(attrs, "alert", true, "receipt", res.Receipt)...)
	default:
		r.logger.InfoContext(ctx, "callback_processed", attrs...)
	}
	return out, err
}

func (r *Reconciler) reconcile(ctx context.Context, kind string, res mpesa.STKResult, perr error) (Reconciliation, error) {
	if perr != nil {
		return Reconciliation{Outcome: OutcomeInvalidPayload}, perr
	}
	switch kind {
	case KindRent, KindDeposit:
		return r.reconcilePayment(ctx, kind, res)
	case KindSubscription:
		return r.reconcileSubscription(ctx, res)
	default:
		return Reconciliation{Outcome: OutcomeInvalidPayload}, fmt.Errorf("unknown callback kind %q", kind)
	}
}

func (r *Reconciler) reconcilePayment(ctx context.Context, kind string, res mpesa.STKResult) (Reconciliation, error) {
	p, method, err := r.resolvePayment(ctx, kind, res)
	if err != nil {
		return Reconciliation{Outcome: OutcomeMismatch}, err
	}
	out := Reconciliation{PaymentID: p.ID, Method: method}

	if p.Status != StatusPending {
		out.Outcome = terminalOutcome(p.Status, res)
		return out, nil
	}

	if !res.Succeeded() {
		ok, err := r.failPayment(ctx, p.ID, res.ResultDesc)
		if err != nil {
			return out, err
		}
		if !ok {
			out.Outcome = OutcomeAlreadyTerminal
			return out, nil
		}
		out.Outcome = OutcomeFailed
		r.afterPayment(ctx, p.ID, res)
		return out, nil
	}

	if res.HasAmount && !res.Amount.Equal(p.Amount) {
		r.logger.WarnContext(ctx, "callback_amount_differs", "payment_id", p.ID, "expected", p.Amount.String(), "reported", res.Amount.String())
	}

	var eff Effect
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now()
		upd := tx.Model(&Payment{}).
			Where("id = ? AND status = ?", p.ID, StatusPending).
			Updates(map[string]any{
				"status":          StatusSuccess,
				"gateway_receipt": strPtr(res.Receipt),
				"resolved_at":     &now,
				"updated_at":      now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return errAlreadyResolved
		}

		var lerr error
		eff, lerr = r.ledger.ApplyPayment(ctx, tx, p)
		if lerr != nil {
			return lerr
		}
		if eff.Anomaly != "" {
			return tx.Model(&Payment{}).Where("id = ?", p.ID).Update("anomaly", eff.Anomaly).Error
		}
		return nil
	})
	if errors.Is(err, errAlreadyResolved) {
		out.Outcome = OutcomeAlreadyTerminal
		return out, nil
	}
	if err != nil {
		return out, err
	}

	out.Outcome = OutcomeSettled
	r.invalidate(ctx, eff.InvalidateKeys...)
	settled := r.afterPayment(ctx, p.ID, res)

	if settled.PaymentType == KindRent {
		r.goBackground(ctx, func(ctx context.Context) {
			if err := r.disburser.Disburse(ctx, settled.ID); err != nil {
				r.logger.ErrorContext(ctx, "disbursement_failed", "alert", true, "payment_id", settled.ID, "err", err)
			}
		})
	}
	return out, nil
}

// afterPayment releases coordination keys and announces the terminal
// state. It returns the row as committed.
func (r *Reconciler) afterPayment(ctx context.Context, id string, res mpesa.STKResult) Payment {
	var p Payment
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		r.logger.WarnContext(ctx, "payment_reload_failed", "payment_id", id, "err", err)
		return Payment{ID: id}
	}
	r.releasePending(ctx, idempotency.PendingKey(p.TenantID, pendingTarget(p.PaymentType, p.UnitID)), p.ID)
	r.dropCorrelation(ctx, res.CheckoutRequestID, p.CorrelationID)
	r.invalidate(ctx, idempotency.PaymentStatusCacheKey(p.ID))
	r.publishPayment(ctx, p)
	return p
}

func (r *Reconciler) failPayment(ctx context.Context, id, desc string) (bool, error) {
	now := r.now()
	upd := r.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":        StatusFailed,
			"error_message": truncate(failureMessage(desc), 250),
			"resolved_at":   &now,
			"updated_at":    now,
		})
	return upd.RowsAffected == 1, upd.Error
}

func (r *Reconciler) resolvePayment(ctx context.Context, kind string, res mpesa.STKResult) (Payment, string, error) {
	db := r.db.WithContext(ctx)
	var p Payment

	if ref := res.AccountReference; isID(ref) {
		err := db.First(&p, "id = ? AND payment_type = ?", ref, kind).Error
		if err == nil {
			return p, viaReference, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Payment{}, "", err
		}
	}

	if res.CheckoutRequestID != "" {
		if id := r.correlated(ctx, res.CheckoutRequestID); id != "" {
			err := db.First(&p, "id = ? AND payment_type = ?", id, kind).Error
			if err == nil {
				return p, viaCheckout, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return Payment{}, "", err
			}
		}
		err := db.First(&p, "correlation_id = ? AND payment_type = ?", res.CheckoutRequestID, kind).Error
		if err == nil {
			return p, viaCheckout, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Payment{}, "", err
		}
	}

	if !res.HasAmount || res.Phone == "" {
		return Payment{}, "", ErrReconciliationMismatch
	}
	variants := phone.Variants(res.Phone)
	since := r.now().Add(-r.settings.FallbackWindow)
	err := db.
		Where("payment_type = ? AND status = ? AND phone IN ? AND amount = ? AND created_at >= ?",
			kind, StatusPending, variants, res.Amount, since).
		Order("created_at DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Payment{}, "", ErrReconciliationMismatch
	}
	if err != nil {
		return Payment{}, "", err
	}
	r.logger.WarnContext(ctx, "callback_fallback_match", "payment_id", p.ID, "phone", res.Phone, "amount", res.Amount.String())
	return p, viaFallback, nil
}

func (r *Reconciler) reconcileSubscription(ctx context.Context, res mpesa.STKResult) (Reconciliation, error) {
	sp, method, err := r.resolveSubscription(ctx, res)
	if err != nil {
		return Reconciliation{Outcome: OutcomeMismatch}, err
	}
	out := Reconciliation{PaymentID: sp.ID, Method: method}

	if sp.Status != StatusPending {
		out.Outcome = terminalOutcome(sp.Status, res)
		return out, nil
	}

	if !res.Succeeded() {
		now := r.now()
		upd := r.db.WithContext(ctx).Model(&SubscriptionPayment{}).
			Where("id = ? AND status = ?", sp.ID, StatusPending).
			Updates(map[string]any{
				"status":        StatusFailed,
				"error_message": truncate(failureMessage(res.ResultDesc), 250),
				"resolved_at":   &now,
				"updated_at":    now,
			})
		if upd.Error != nil {
			return out, upd.Error
		}
		if upd.RowsAffected == 0 {
			out.Outcome = OutcomeAlreadyTerminal
			return out, nil
		}
		out.Outcome = OutcomeFailed
		r.afterSubscription(ctx, sp.ID, res)
		return out, nil
	}

	var eff Effect
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userID := ""
		if sp.UserID != nil {
			userID = *sp.UserID
		} else {
			raw := sp.Phone
			if res.Phone != "" {
				raw = res.Phone
			}
			landlord, lerr := rental.FindByPhoneTx(ctx, tx, raw, rental.RoleLandlord)
			if lerr != nil && !errors.Is(lerr, rental.ErrNotFound) {
				return lerr
			}
			userID = landlord.ID
		}

		now := r.now()
		updates := map[string]any{
			"status":          StatusSuccess,
			"gateway_receipt": strPtr(res.Receipt),
			"resolved_at":     &now,
			"updated_at":      now,
		}
		if userID != "" {
			updates["user_id"] = userID
		}
		upd := tx.Model(&SubscriptionPayment{}).
			Where("id = ? AND status = ?", sp.ID, StatusPending).
			Updates(updates)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return errAlreadyResolved
		}

		if userID == "" {
			r.logger.ErrorContext(ctx, "subscription_payer_unknown", "alert", true, "subscription_payment_id", sp.ID, "phone", sp.Phone)
			return nil
		}
		var lerr error
		eff, lerr = r.ledger.ApplySubscription(ctx, tx, userID, sp.Plan)
		return lerr
	})
	switch {
	case errors.Is(err, errAlreadyResolved):
		out.Outcome = OutcomeAlreadyTerminal
		return out, nil
	case database.IsDuplicate(err):
		// the receipt already settled another row; this one times out
		out.Outcome = OutcomeDuplicateReceipt
		return out, nil
	case err != nil:
		return out, err
	}

	out.Outcome = OutcomeSettled
	r.invalidate(ctx, eff.InvalidateKeys...)
	r.afterSubscription(ctx, sp.ID, res)
	return out, nil
}

func (r *Reconciler) afterSubscription(ctx context.Context, id string, res mpesa.STKResult) {
	var sp SubscriptionPayment
	if err := r.db.WithContext(ctx).First(&sp, "id = ?", id).Error; err != nil {
		r.logger.WarnContext(ctx, "subscription_payment_reload_failed", "subscription_payment_id", id, "err", err)
		return
	}
	if sp.UserID != nil {
		r.releasePending(ctx, idempotency.PendingKey(*sp.UserID, KindSubscription), sp.ID)
	}
	r.dropCorrelation(ctx, res.CheckoutRequestID, sp.CorrelationID)
	r.invalidate(ctx, idempotency.PaymentStatusCacheKey(sp.ID))
	r.publishSubscription(ctx, sp)
}

func (r *Reconciler) resolveSubscription(ctx context.Context, res mpesa.STKResult) (SubscriptionPayment, string, error) {
	db := r.db.WithContext(ctx)
	var sp SubscriptionPayment

	if ref := res.AccountReference; isID(ref) {
		err := db.First(&sp, "id = ?", ref).Error
		if err == nil {
			return sp, viaReference, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return SubscriptionPayment{}, "", err
		}
	}

	if res.CheckoutRequestID != "" {
		if id := r.correlated(ctx, res.CheckoutRequestID); id != "" {
			err := db.First(&sp, "id = ?", id).Error
			if err == nil {
				return sp, viaCheckout, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return SubscriptionPayment{}, "", err
			}
		}
		err := db.First(&sp, "correlation_id = ?", res.CheckoutRequestID).Error
		if err == nil {
			return sp, viaCheckout, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return SubscriptionPayment{}, "", err
		}
	}

	if !res.HasAmount || res.Phone == "" {
		return SubscriptionPayment{}, "", ErrReconciliationMismatch
	}
	since := r.now().Add(-r.settings.FallbackWindow)
	err := db.
		Where("status = ? AND phone IN ? AND amount = ? AND created_at >= ?",
			StatusPending, phone.Variants(res.Phone), res.Amount, since).
		Order("created_at DESC").
		First(&sp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SubscriptionPayment{}, "", ErrReconciliationMismatch
	}
	if err != nil {
		return SubscriptionPayment{}, "", err
	}
	r.logger.WarnContext(ctx, "callback_fallback_match", "subscription_payment_id", sp.ID, "phone", res.Phone, "amount", res.Amount.String())
	return sp, viaFallback, nil
}

func (r *Reconciler) correlated(ctx context.Context, checkoutID string) string {
	id, ok, err := r.store.Get(ctx, idempotency.CorrelationKey(checkoutID))
	if err != nil {
		r.logger.WarnContext(ctx, "correlation_lookup_failed", "checkout_request_id", checkoutID, "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return id
}

func (r *Reconciler) dropCorrelation(ctx context.Context, fromCallback string, stored *string) {
	var keys []string
	if fromCallback != "" {
		keys = append(keys, idempotency.CorrelationKey(fromCallback))
	}
	if stored != nil && *stored != fromCallback {
		keys = append(keys, idempotency.CorrelationKey(*stored))
	}
	r.invalidate(ctx, keys...)
}

// archive stores the raw body before anything else happens. It returns ""
// when the archive write fails; processing continues regardless.
func (c *core) archive(ctx context.Context, kind string, res mpesa.STKResult, body []byte) string {
	return c.archiveEvent(ctx, kind, res.CheckoutRequestID, res.ResultCode, body)
}

func (c *core) archiveEvent(ctx context.Context, kind, checkoutID string, code int, body []byte) string {
	payload := datatypes.JSON(body)
	if !json.Valid(body) {
		raw, _ := json.Marshal(string(body))
		payload = datatypes.JSON(raw)
	}
	ev := CallbackEvent{
		ID:                uuid.NewString(),
		Kind:              kind,
		CheckoutRequestID: truncate(checkoutID, 64),
		ResultCode:        code,
		Payload:           payload,
		Outcome:           OutcomeReceived,
		ReceivedAt:        c.now(),
	}
	if err := c.db.WithContext(ctx).Create(&ev).Error; err != nil {
		c.logger.ErrorContext(ctx, "callback_archive_failed", "kind", kind, "checkout_request_id", checkoutID, "err", err)
		return ""
	}
	return ev.ID
}

func (c *core) finishArchive(ctx context.Context, eventID string, out Reconciliation) {
	if eventID == "" {
		return
	}
	if err := c.db.WithContext(ctx).Model(&CallbackEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]any{"outcome": out.Outcome, "resolved_id": strPtr(out.PaymentID)}).Error; err != nil {
		c.logger.WarnContext(ctx, "callback_archive_update_failed", "event_id", eventID, "err", err)
	}
}

// terminalOutcome classifies a callback for a row that already left
// Pending. A success arriving after the row failed is late: the failure
// stands.
func terminalOutcome(status string, res mpesa.STKResult) string {
	if status == StatusFailed && res.Succeeded() {
		return OutcomeLateAfterTerminal
	}
	return OutcomeAlreadyTerminal
}

func failureMessage(desc string) string {
	if desc == "" {
		return "payment failed"
	}
	return desc
}

func isID(s string) bool {
	_, err := uuid.Parse(s)
	return s != "" && err == nil
}
