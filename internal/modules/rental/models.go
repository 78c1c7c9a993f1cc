// Package rental holds the rental-domain entities the settlement engine
// reads and, through the ledger, mutates. CRUD for these lives elsewhere.
package rental

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleLandlord = "landlord"
	RoleTenant   = "tenant"
)

type User struct {
	ID         string    `gorm:"type:char(36);primaryKey" json:"id"`
	Email      string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email" json:"email"`
	FirstName  string    `gorm:"type:varchar(64);not null" json:"first_name"`
	LastName   string    `gorm:"type:varchar(64);not null" json:"last_name"`
	Role       string    `gorm:"type:varchar(16);not null" json:"role"`
	Phone      string    `gorm:"type:varchar(20);index:ix_users_phone" json:"phone"`
	TillNumber *string   `gorm:"type:varchar(20)" json:"till_number,omitempty"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

type Property struct {
	ID         string    `gorm:"type:char(36);primaryKey" json:"id"`
	LandlordID string    `gorm:"type:char(36);not null;index:ix_properties_landlord_id" json:"landlord_id"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	City       string    `gorm:"type:varchar(100)" json:"city"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (Property) TableName() string { return "properties" }

// Unit carries the rent ledger. RentRemaining is derived and only ever
// written together with RentPaid; Version guards every ledger write.
type Unit struct {
	ID            string          `gorm:"type:char(36);primaryKey" json:"id"`
	PropertyID    string          `gorm:"type:char(36);not null;index:ix_units_property_id" json:"property_id"`
	UnitNumber    string          `gorm:"type:varchar(16);not null" json:"unit_number"`
	UnitCode      string          `gorm:"type:varchar(32);not null" json:"unit_code"`
	Rent          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"rent"`
	RentPaid      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"rent_paid"`
	RentRemaining decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"rent_remaining"`
	Deposit       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"deposit"`
	TenantID      *string         `gorm:"type:char(36);index:ix_units_tenant_id" json:"tenant_id,omitempty"`
	IsAvailable   bool            `gorm:"not null" json:"is_available"`
	Version       int64           `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
}

func (Unit) TableName() string { return "units" }

func (u Unit) OccupiedBy(userID string) bool {
	return u.TenantID != nil && *u.TenantID == userID
}

// Subscription is the landlord's plan. A nil ExpiryDate never expires.
type Subscription struct {
	ID         string     `gorm:"type:char(36);primaryKey" json:"id"`
	UserID     string     `gorm:"type:char(36);not null;uniqueIndex:ux_subscriptions_user_id" json:"user_id"`
	Plan       string     `gorm:"type:varchar(32);not null" json:"plan"`
	StartDate  time.Time  `gorm:"not null" json:"start_date"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (s Subscription) IsActive(now time.Time) bool {
	return s.ExpiryDate == nil || s.ExpiryDate.After(now)
}

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&User{}, &Property{}, &Unit{}, &Subscription{}}
}
