package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/config"
)

type Plan struct {
	Amount decimal.Decimal
	Days   int // 0 = lifetime
}

type CallbackURLs struct {
	Rent         string
	Deposit      string
	Subscription string
	PayoutResult string
	PayoutQueue  string
}

func (u CallbackURLs) forKind(kind string) string {
	switch kind {
	case KindRent:
		return u.Rent
	case KindDeposit:
		return u.Deposit
	default:
		return u.Subscription
	}
}

type Settings struct {
	PendingTTL              time.Duration
	PendingDeadline         time.Duration
	FallbackWindow          time.Duration
	RateLimitPerMinute      int
	MaxRentPeriods          int
	DisbursementMaxAttempts int
	PayoutDeadline          time.Duration // wait for a payout result before failing it
	Plans                   map[string]Plan
	Callbacks               CallbackURLs
}

// SettingsFrom maps the process configuration onto engine settings.
func SettingsFrom(cfg config.Config) Settings {
	plans := make(map[string]Plan, len(cfg.Plans))
	for code, p := range cfg.Plans {
		plans[code] = Plan{Amount: decimal.NewFromFloat(p.Amount), Days: p.Days}
	}
	return Settings{
		PendingTTL:              cfg.PendingTTL,
		PendingDeadline:         cfg.PendingDeadline,
		FallbackWindow:          cfg.FallbackWindow,
		RateLimitPerMinute:      cfg.RateLimitPerMinute,
		MaxRentPeriods:          cfg.MaxRentPeriods,
		DisbursementMaxAttempts: cfg.DisbursementMax,
		PayoutDeadline:          cfg.PayoutDeadline,
		Plans:                   plans,
		Callbacks: CallbackURLs{
			Rent:         cfg.CallbackURL("/callbacks/rent"),
			Deposit:      cfg.CallbackURL("/callbacks/deposit"),
			Subscription: cfg.CallbackURL("/callbacks/subscription"),
			PayoutResult: cfg.CallbackURL("/callbacks/b2c"),
			PayoutQueue:  cfg.CallbackURL("/callbacks/b2c"),
		},
	}
}

func (s Settings) withDefaults() Settings {
	if s.PendingTTL <= 0 {
		s.PendingTTL = 5 * time.Minute
	}
	if s.PendingDeadline <= 0 {
		s.PendingDeadline = 10 * time.Minute
	}
	if s.FallbackWindow <= 0 {
		s.FallbackWindow = s.PendingDeadline
	}
	if s.RateLimitPerMinute <= 0 {
		s.RateLimitPerMinute = 5
	}
	if s.MaxRentPeriods <= 0 {
		s.MaxRentPeriods = 12
	}
	if s.DisbursementMaxAttempts <= 0 {
		s.DisbursementMaxAttempts = 3
	}
	if s.PayoutDeadline <= 0 {
		s.PayoutDeadline = s.PendingDeadline
	}
	if s.Plans == nil {
		s.Plans = map[string]Plan{}
	}
	return s
}
