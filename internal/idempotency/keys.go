package idempotency

import "fmt"

func PendingKey(actorID, targetID string) string {
	return fmt.Sprintf("pending:%s:%s", actorID, targetID)
}

func RateKey(actorID string) string { return "rl:" + actorID }

// CorrelationKey maps a gateway checkout id back to the payment row.
func CorrelationKey(checkoutID string) string { return "corr:" + checkoutID }

func UnitCacheKey(unitID string) string { return "cache:unit:" + unitID }

func UserCacheKey(userID string) string { return "cache:user:" + userID }

func PaymentStatusCacheKey(paymentID string) string { return "cache:payment:" + paymentID }
