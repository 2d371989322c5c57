package models

import "time"

type Role string

const (
	RoleUser   Role = "user"
	RoleHelper Role = "helper"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// CanAdminister reports whether the role may perform admin mutations.
func (r Role) CanAdminister() bool {
	return r == RoleAdmin || r == RoleOwner
}

type PlanCode string

const (
	PlanFree    PlanCode = "free"
	PlanMonthly PlanCode = "monthly"
	PlanPro     PlanCode = "pro"
)

type User struct {
	ID                  int64
	Email               string
	PasswordHash        string
	FullName            string
	Plan                string
	Role                Role
	IsBanned            bool
	StripeCustomerID    string
	ReferralCode        string
	ReferredBy          string
	ReferralsCount      int
	ResetToken          string
	ResetTokenCreatedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Balance is the derived credit position for one user. It is never
// stored; it is always recomputed from grants minus spends.
type Balance struct {
	CV int `json:"cv"`
	AI int `json:"ai"`
}

// CreditGrant is an immutable credit-issuance record. Source is the
// idempotency key: globally unique, insert-ignored on conflict.
type CreditGrant struct {
	ID        int64
	UserID    int64
	Source    string
	CVAmount  int
	AIAmount  int
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// CreditSpend is an immutable consumption record. Source is a free-text
// label describing the action, not a unique key.
type CreditSpend struct {
	ID        int64
	UserID    int64
	Source    string
	CVAmount  int
	AIAmount  int
	CreatedAt time.Time
}

// Subscription mirrors the latest webhook-reported Stripe state for
// display. Stripe is the authority; credit checks never consult this.
type Subscription struct {
	ID                   int64
	UserID               int64
	StripeCustomerID     string
	StripeSubscriptionID string
	Plan                 string
	Status               string
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Plan struct {
	ID              int64
	Code            PlanCode
	Title           string
	StripePriceID   string
	Currency        string
	PriceMinorUnits int
	CVCredits       int
	AICredits       int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
