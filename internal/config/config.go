package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr string
	BaseURL  string

	DB    DB
	Redis Redis

	KafkaBrokers []string
	JWTSecret    string

	Mpesa Mpesa

	PendingTTL         time.Duration
	PendingDeadline    time.Duration
	SweepInterval      time.Duration
	FallbackWindow     time.Duration
	RateLimitPerMinute int
	MaxRentPeriods     int
	DisbursementMax    int
	PayoutDeadline     time.Duration

	Plans map[string]Plan
}

type DB struct {
	Driver string // mysql | postgres | sqlite
	DSN    string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Mpesa struct {
	Env                string
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	Shortcode          string
	Passkey            string
	B2CShortcode       string
	InitiatorName      string
	SecurityCredential string
}

// Plan prices a subscription plan in whole shillings. Days == 0 means the
// plan never expires.
type Plan struct {
	Amount float64 `mapstructure:"amount"`
	Days   int   `mapstructure:"days"`
}

func defaultPlans() map[string]Plan {
	return map[string]Plan{
		"free":         {Amount: 0, Days: 60},
		"starter":      {Amount: 1000, Days: 30},
		"basic":        {Amount: 2000, Days: 30},
		"professional": {Amount: 3000, Days: 30},
		"onetime":      {Amount: 10000, Days: 0},
	}
}

// Load reads .env (if present), the process environment and the optional
// YAML file named by CONFIG_FILE. Later sources win.
func Load() (Config, error) {
	// prod runs without a .env file
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("CALLBACK_BASE_URL", "http://localhost:8080")
	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MPESA_ENV", "sandbox")
	v.SetDefault("PENDING_TTL", 5*time.Minute)
	v.SetDefault("PENDING_DEADLINE", 10*time.Minute)
	v.SetDefault("SWEEP_INTERVAL", time.Minute)
	v.SetDefault("FALLBACK_WINDOW", 10*time.Minute)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 5)
	v.SetDefault("MAX_RENT_PERIODS", 12)
	v.SetDefault("DISBURSEMENT_MAX_ATTEMPTS", 3)
	v.SetDefault("PAYOUT_DEADLINE", 10*time.Minute)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPAddr: v.GetString("HTTP_ADDR"),
		BaseURL:  strings.TrimRight(v.GetString("CALLBACK_BASE_URL"), "/"),
		DB: DB{
			Driver: v.GetString("DB_DRIVER"),
			DSN:    v.GetString("DB_DSN"),
		},
		Redis: Redis{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		JWTSecret:    v.GetString("JWT_SECRET"),
		Mpesa: Mpesa{
			Env:                v.GetString("MPESA_ENV"),
			BaseURL:            v.GetString("MPESA_BASE_URL"),
			ConsumerKey:        v.GetString("MPESA_CONSUMER_KEY"),
			ConsumerSecret:     v.GetString("MPESA_CONSUMER_SECRET"),
			Shortcode:          v.GetString("MPESA_SHORTCODE"),
			Passkey:            v.GetString("MPESA_PASSKEY"),
			B2CShortcode:       v.GetString("MPESA_B2C_SHORTCODE"),
			InitiatorName:      v.GetString("MPESA_INITIATOR_NAME"),
			SecurityCredential: v.GetString("MPESA_SECURITY_CREDENTIAL"),
		},
		PendingTTL:         v.GetDuration("PENDING_TTL"),
		PendingDeadline:    v.GetDuration("PENDING_DEADLINE"),
		SweepInterval:      v.GetDuration("SWEEP_INTERVAL"),
		FallbackWindow:     v.GetDuration("FALLBACK_WINDOW"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		MaxRentPeriods:     v.GetInt("MAX_RENT_PERIODS"),
		DisbursementMax:    v.GetInt("DISBURSEMENT_MAX_ATTEMPTS"),
		PayoutDeadline:     v.GetDuration("PAYOUT_DEADLINE"),
	}

	// the YAML table overlays the built-in plans entry by entry
	cfg.Plans = defaultPlans()
	var overlay map[string]Plan
	if err := v.UnmarshalKey("plans", &overlay); err != nil {
		return Config{}, fmt.Errorf("decode plans: %w", err)
	}
	for code, p := range overlay {
		cfg.Plans[strings.ToLower(code)] = p
	}
	if cfg.Mpesa.BaseURL == "" {
		cfg.Mpesa.BaseURL = mpesaBaseURL(cfg.Mpesa.Env)
	}
	if cfg.Mpesa.B2CShortcode == "" {
		cfg.Mpesa.B2CShortcode = cfg.Mpesa.Shortcode
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.DB.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.PendingDeadline < c.PendingTTL {
		return fmt.Errorf("PENDING_DEADLINE (%s) must not be shorter than PENDING_TTL (%s)", c.PendingDeadline, c.PendingTTL)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.MaxRentPeriods < 1 {
		return fmt.Errorf("MAX_RENT_PERIODS must be at least 1")
	}
	if len(c.Plans) == 0 {
		return fmt.Errorf("no subscription plans configured")
	}
	for code, p := range c.Plans {
		if p.Amount < 0 || p.Amount != math.Trunc(p.Amount) {
			return fmt.Errorf("plans.%s.amount must be whole shillings, got %v", code, p.Amount)
		}
	}
	return nil
}

// CallbackURL joins the public base URL with a callback path.
func (c Config) CallbackURL(path string) string {
	return c.BaseURL + path
}

func mpesaBaseURL(env string) string {
	if env == "production" {
		return "https://api.safaricom.co.ke"
	}
	return "https://sandbox.safaricom.co.ke"
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
