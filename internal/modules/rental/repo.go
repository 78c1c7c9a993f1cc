package rental

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/idempotency"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/shared/phone"
)

var ErrNotFound = errors.New("not found")

const cacheTTL = 5 * time.Minute

// Repo is a read-through view over the rental tables. The cache is
// optional; a nil store reads straight from the database.
type Repo struct {
	db     *gorm.DB
	cache  idempotency.Store
	logger *slog.Logger
}

func NewRepo(db *gorm.DB, cache idempotency.Store, logger *slog.Logger) *Repo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repo{db: db, cache: cache, logger: logger}
}

// DB returns the underlying database connection for direct queries.
func (r *Repo) DB() *gorm.DB { return r.db }

func (r *Repo) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := r.readThrough(ctx, idempotency.UserCacheKey(id), &u, func() error {
		return r.db.WithContext(ctx).First(&u, "id = ?", id).Error
	})
	return u, err
}

func (r *Repo) GetUnit(ctx context.Context, id string) (Unit, error) {
	var u Unit
	err := r.readThrough(ctx, idempotency.UnitCacheKey(id), &u, func() error {
		return r.db.WithContext(ctx).First(&u, "id = ?", id).Error
	})
	return u, err
}

// UnitLandlord returns the landlord owning the unit's property.
func (r *Repo) UnitLandlord(ctx context.Context, unitID string) (User, error) {
	return UnitLandlordTx(ctx, r.db, unitID)
}

// UnitLandlordTx is UnitLandlord on an explicit connection or transaction.
func UnitLandlordTx(ctx context.Context, db *gorm.DB, unitID string) (User, error) {
	var u User
	err := db.WithContext(ctx).
		Joins("JOIN properties ON properties.landlord_id = users.id").
		Joins("JOIN units ON units.property_id = properties.id").
		Where("units.id = ?", unitID).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	return u, err
}

// FindByPhone matches any stored spelling of raw (0722…, 254722…, +254722…).
func (r *Repo) FindByPhone(ctx context.Context, raw, role string) (User, error) {
	return FindByPhoneTx(ctx, r.db, raw, role)
}

func FindByPhoneTx(ctx context.Context, db *gorm.DB, raw, role string) (User, error) {
	variants := phone.Variants(raw)
	if len(variants) == 0 {
		return User{}, ErrNotFound
	}
	q := db.WithContext(ctx).Where("phone IN ?", variants)
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var u User
	err := q.Order("created_at ASC").First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (r *Repo) GetSubscription(ctx context.Context, userID string) (Subscription, error) {
	var s Subscription
	err := r.db.WithContext(ctx).First(&s, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Subscription{}, ErrNotFound
	}
	return s, err
}

// EnsureDefaultSubscription gives a new landlord the trial plan unless a
// subscription already exists. Called by account creation.
func (r *Repo) EnsureDefaultSubscription(ctx context.Context, userID, plan string, days int) error {
	now := time.Now()
	sub := Subscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		Plan:      plan,
		StartDate: now,
		UpdatedAt: now,
	}
	if days > 0 {
		exp := now.AddDate(0, 0, days)
		sub.ExpiryDate = &exp
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&sub).Error
}

type UnitSummary struct {
	UnitID        string          `json:"unit_id"`
	UnitNumber    string          `json:"unit_number"`
	PropertyName  string          `json:"property_name"`
	TenantID      *string         `json:"tenant_id,omitempty"`
	Rent          decimal.Decimal `json:"rent"`
	RentPaid      decimal.Decimal `json:"rent_paid"`
	RentRemaining decimal.Decimal `json:"rent_remaining"`
}

type RentSummary struct {
	Units          []UnitSummary   `json:"units"`
	TotalRent      decimal.Decimal `json:"total_rent"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	TotalRemaining decimal.Decimal `json:"total_remaining"`
}

func (r *Repo) RentSummary(ctx context.Context, landlordID string) (RentSummary, error) {
	var rows []UnitSummary
	err := r.db.WithContext(ctx).
		Table("units").
		Select("units.id AS unit_id, units.unit_number, properties.name AS property_name, units.tenant_id, units.rent, units.rent_paid, units.rent_remaining").
		Joins("JOIN properties ON properties.id = units.property_id").
		Where("properties.landlord_id = ?", landlordID).
		Order("properties.name ASC, units.unit_number ASC").
		Scan(&rows).Error
	if err != nil {
		return RentSummary{}, err
	}

	out := RentSummary{Units: rows}
	for _, u := range rows {
		out.TotalRent = out.TotalRent.Add(u.Rent)
		out.TotalPaid = out.TotalPaid.Add(u.RentPaid)
		out.TotalRemaining = out.TotalRemaining.Add(u.RentRemaining)
	}
	if out.Units == nil {
		out.Units = []UnitSummary{}
	}
	return out, nil
}

func (r *Repo) readThrough(ctx context.Context, key string, dst any, load func() error) error {
	if r.cache != nil {
		hit, err := idempotency.GetJSON(ctx, r.cache, key, dst)
		if err != nil {
			r.logger.WarnContext(ctx, "cache_read_failed", "key", key, "err", err)
		}
		if hit {
			return nil
		}
	}

	if err := load(); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if r.cache != nil {
		if err := idempotency.SetJSON(ctx, r.cache, key, dst, cacheTTL); err != nil {
			r.logger.WarnContext(ctx, "cache_write_failed", "key", key, "err", err)
		}
	}
	return nil
}
