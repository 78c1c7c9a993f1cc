package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/database"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/events"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/rental"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/mpesa"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/shared/money"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/shared/phone"
)

// Disburser forwards collected rent to the landlord. It never touches the
// Payment row: a failed payout leaves the tenant's payment settled.
type Disburser struct {
	*core
}

// Disburse creates the disbursement for a settled rent payment and submits
// it. Calling it again for the same payment is a no-op unless the previous
// attempt failed.
func (d *Disburser) Disburse(ctx context.Context, paymentID string) error {
	var p Payment
	if err := d.db.WithContext(ctx).First(&p, "id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if p.PaymentType != KindRent || p.Status != StatusSuccess {
		return fmt.Errorf("disburse %s: payment is %s %s", p.ID, p.PaymentType, p.Status)
	}

	landlord, err := d.rental.UnitLandlord(ctx, p.UnitID)
	if err != nil {
		return fmt.Errorf("disburse %s: landlord: %w", p.ID, err)
	}
	dest, destType, err := payoutDestination(landlord)
	if err != nil {
		return fmt.Errorf("disburse %s: %w", p.ID, err)
	}

	now := d.now()
	row := Disbursement{
		ID:              uuid.NewString(),
		PaymentID:       p.ID,
		LandlordID:      landlord.ID,
		Amount:          p.Amount,
		Destination:     dest,
		DestinationType: destType,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		if !database.IsDuplicate(err) {
			return err
		}
		var existing Disbursement
		if err := d.db.WithContext(ctx).First(&existing, "payment_id = ?", p.ID).Error; err != nil {
			return err
		}
		if existing.Status != StatusFailed {
			return nil
		}
		return d.retry(ctx, existing)
	}
	return d.send(ctx, row)
}

// ExpireStale fails Pending disbursements that have had no result within
// PayoutDeadline: either the result callback never came or the process died
// before the payout was sent. Expired rows are picked up by RetryFailed.
func (d *Disburser) ExpireStale(ctx context.Context) (int, error) {
	cutoff := d.now().Add(-d.settings.PayoutDeadline)
	var rows []Disbursement
	if err := d.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", StatusPending, cutoff).
		Order("updated_at ASC").
		Limit(100).
		Find(&rows).Error; err != nil {
		return 0, err
	}

	n := 0
	for _, row := range rows {
		upd := d.db.WithContext(ctx).Model(&Disbursement{}).
			Where("id = ? AND status = ? AND updated_at < ?", row.ID, StatusPending, cutoff).
			Updates(map[string]any{
				"status":      StatusFailed,
				"result_desc": payoutTimeoutMessage,
				"updated_at":  d.now(),
			})
		if upd.Error != nil {
			return n, upd.Error
		}
		if upd.RowsAffected == 0 {
			continue
		}
		n++
		attrs := []any{"disbursement_id", row.ID, "payment_id", row.PaymentID, "attempts", row.Attempts}
		if row.Attempts >= d.settings.DisbursementMaxAttempts {
			d.logger.ErrorContext(ctx, "payout_abandoned", append(attrs, "alert", true)...)
			continue
		}
		d.logger.WarnContext(ctx, "payout_result_overdue", attrs...)
	}
	return n, nil
}

// RetryFailed resubmits failed disbursements that still have attempts
// left. It returns how many were resubmitted.
func (d *Disburser) RetryFailed(ctx context.Context) (int, error) {
	var rows []Disbursement
	if err := d.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", StatusFailed, d.settings.DisbursementMaxAttempts).
		Order("created_at ASC").
		Limit(100).
		Find(&rows).Error; err != nil {
		return 0, err
	}

	n := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := d.retry(ctx, row); err != nil {
			d.logger.WarnContext(ctx, "disbursement_retry_failed", "disbursement_id", row.ID, "err", err)
			continue
		}
		n++
	}
	return n, nil
}

func (d *Disburser) retry(ctx context.Context, row Disbursement) error {
	if row.Attempts >= d.settings.DisbursementMaxAttempts {
		return fmt.Errorf("disbursement %s: attempts exhausted", row.ID)
	}
	upd := d.db.WithContext(ctx).Model(&Disbursement{}).
		Where("id = ? AND status = ?", row.ID, StatusFailed).
		Updates(map[string]any{"status": StatusPending, "updated_at": d.now()})
	if upd.Error != nil {
		return upd.Error
	}
	if upd.RowsAffected == 0 {
		// another worker claimed it
		return nil
	}
	row.Status = StatusPending
	return d.send(ctx, row)
}

func (d *Disburser) send(ctx context.Context, row Disbursement) error {
	if err := d.db.WithContext(ctx).Model(&Disbursement{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{"attempts": gorm.Expr("attempts + 1"), "updated_at": d.now()}).Error; err != nil {
		return err
	}

	resp, err := d.gateway.Payout(ctx, mpesa.PayoutRequest{
		OriginatorConversationID: row.ID,
		Amount:                   money.Whole(row.Amount),
		Destination:              row.Destination,
		DestinationType:          row.DestinationType,
		Remarks:                  "Rent " + row.PaymentID,
		ResultURL:                d.settings.Callbacks.PayoutResult,
		TimeoutURL:               d.settings.Callbacks.PayoutQueue,
	})
	now := d.now()
	if err != nil {
		if uerr := d.db.WithContext(ctx).Model(&Disbursement{}).
			Where("id = ? AND status = ?", row.ID, StatusPending).
			Updates(map[string]any{
				"status":      StatusFailed,
				"result_desc": truncate(err.Error(), 250),
				"updated_at":  now,
			}).Error; uerr != nil {
			return uerr
		}
		return fmt.Errorf("payout %s: %w", row.ID, err)
	}

	if err := d.db.WithContext(ctx).Model(&Disbursement{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{"conversation_id": strPtr(resp.ConversationID), "updated_at": now}).Error; err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "payout_submitted",
		"disbursement_id", row.ID,
		"payment_id", row.PaymentID,
		"landlord_id", row.LandlordID,
		"destination_type", row.DestinationType,
		"conversation_id", resp.ConversationID,
	)
	return nil
}

// HandleResult applies a payout result callback.
func (d *Disburser) HandleResult(ctx context.Context, body []byte) (Reconciliation, error) {
	res, perr := mpesa.ParsePayoutResult(body)
	eventID := d.archiveEvent(ctx, KindPayout, res.ConversationID, res.ResultCode, body)

	out, err := d.applyResult(ctx, res, perr)
	d.finishArchive(ctx, eventID, out)

	attrs := []any{"conversation_id", res.ConversationID, "result_code", res.ResultCode, "disbursement_id", out.PaymentID, "outcome", out.Outcome}
	switch {
	case err != nil:
		d.logger.ErrorContext(ctx, "payout_result_failed", append(attrs, "alert", true, "err", err)...)
	case out.Outcome == OutcomeFailed:
		d.logger.ErrorContext(ctx, "payout_failed", append(attrs, "alert", true, "result_desc", res.ResultDesc)...)
	default:
		d.logger.InfoContext(ctx, "payout_result", attrs...)
	}
	return out, err
}

func (d *Disburser) applyResult(ctx context.Context, res mpesa.PayoutResult, perr error) (Reconciliation, error) {
	if perr != nil {
		return Reconciliation{Outcome: OutcomeInvalidPayload}, perr
	}

	var row Disbursement
	q := d.db.WithContext(ctx)
	err := gorm.ErrRecordNotFound
	if res.ConversationID != "" {
		err = q.First(&row, "conversation_id = ?", res.ConversationID).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) && isID(res.OriginatorConversationID) {
		err = q.First(&row, "id = ?", res.OriginatorConversationID).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Reconciliation{Outcome: OutcomeMismatch}, ErrReconciliationMismatch
	}
	if err != nil {
		return Reconciliation{Outcome: OutcomeMismatch}, err
	}

	out := Reconciliation{PaymentID: row.ID, Method: viaCheckout}
	if row.Status != StatusPending {
		out.Outcome = OutcomeAlreadyTerminal
		return out, nil
	}

	status := StatusSuccess
	if !res.Succeeded() {
		status = StatusFailed
	}
	upd := d.db.WithContext(ctx).Model(&Disbursement{}).
		Where("id = ? AND status = ?", row.ID, StatusPending).
		Updates(map[string]any{
			"status":         status,
			"transaction_id": strPtr(res.TransactionID),
			"result_desc":    truncate(res.ResultDesc, 250),
			"updated_at":     d.now(),
		})
	if upd.Error != nil {
		return out, upd.Error
	}
	if upd.RowsAffected == 0 {
		out.Outcome = OutcomeAlreadyTerminal
		return out, nil
	}

	if status == StatusFailed {
		out.Outcome = OutcomeFailed
		return out, nil
	}
	out.Outcome = OutcomeSettled
	d.publish(ctx, events.TopicDisbursementCompleted, row.ID, events.DisbursementEvent{
		DisbursementID: row.ID,
		PaymentID:      row.PaymentID,
		LandlordID:     row.LandlordID,
		Amount:         row.Amount.StringFixed(2),
		Status:         status,
		TransactionID:  res.TransactionID,
		At:             d.now(),
	})
	return out, nil
}

// payoutDestination prefers the landlord's till over their phone.
func payoutDestination(landlord rental.User) (string, string, error) {
	if landlord.TillNumber != nil && *landlord.TillNumber != "" {
		return *landlord.TillNumber, mpesa.DestinationTill, nil
	}
	p, err := phone.Normalize(landlord.Phone)
	if err != nil {
		return "", "", fmt.Errorf("landlord %s has no payout destination: %w", landlord.ID, err)
	}
	return p, mpesa.DestinationPhone, nil
}
