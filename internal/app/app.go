// Package app assembles the settlement engine from configuration. Both the
// HTTP server and the operator CLI start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/config"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/database"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/events"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/idempotency"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/payments"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/rental"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/mpesa"
)

type App struct {
	Config    config.Config
	Logger    *slog.Logger
	DB        *gorm.DB
	Redis     *redis.Client
	Publisher events.Publisher
	Engine    *payments.Engine
}

// Models lists every table the service owns, in migration order.
func Models() []any {
	return append(rental.Models(), payments.Models()...)
}

// OpenDB connects to the configured database without building the rest.
func OpenDB(cfg config.Config) (*gorm.DB, error) {
	return database.Open(cfg.DB.Driver, cfg.DB.DSN)
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// dedup and rate limiting fail open; the database still guards settlement
		logger.Warn("redis_unreachable", slog.String("addr", cfg.Redis.Addr), slog.Any("err", err))
	}

	var pub events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, logger)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("kafka: %w", err)
		}
		pub = kp
	}

	gw := mpesa.NewClient(mpesa.Config{
		BaseURL:            cfg.Mpesa.BaseURL,
		ConsumerKey:        cfg.Mpesa.ConsumerKey,
		ConsumerSecret:     cfg.Mpesa.ConsumerSecret,
		Shortcode:          cfg.Mpesa.Shortcode,
		Passkey:            cfg.Mpesa.Passkey,
		B2CShortcode:       cfg.Mpesa.B2CShortcode,
		InitiatorName:      cfg.Mpesa.InitiatorName,
		SecurityCredential: cfg.Mpesa.SecurityCredential,
		Timeout:            15 * time.Second,
	})

	eng, err := payments.NewEngine(payments.Deps{
		DB:        db,
		Store:     idempotency.NewRedisStore(rdb),
		Gateway:   gw,
		Publisher: pub,
		Settings:  payments.SettingsFrom(cfg),
		Logger:    logger,
	})
	if err != nil {
		_ = pub.Close()
		_ = rdb.Close()
		return nil, err
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Publisher: pub,
		Engine:    eng,
	}, nil
}

// Close waits for background disbursements, then releases connections.
func (a *App) Close() error {
	a.Engine.Wait()

	var errs []error
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("publisher: %w", err))
	}
	if err := a.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis: %w", err))
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
