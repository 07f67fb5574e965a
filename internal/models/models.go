package models

import (
	"time"
)

// Tenant is one gym sharing the deployment. Loaded from configuration at
// startup and never mutated afterwards.
type Tenant struct {
	ID             string  `json:"id" mapstructure:"id"`
	Name           string  `json:"name" mapstructure:"name"`
	BotToken       string  `json:"-" mapstructure:"bot_token"`
	AdminChatID    int64   `json:"admin_chat_id" mapstructure:"admin_chat_id"`
	WelcomeMessage string  `json:"welcome_message" mapstructure:"welcome_message"`
	PriceToman     int64   `json:"price_toman" mapstructure:"price_toman"`
	PriceTon       float64 `json:"price_ton" mapstructure:"price_ton"`
	BankCard       string  `json:"bank_card" mapstructure:"bank_card"`
	CardOwner      string  `json:"card_owner" mapstructure:"card_owner"`
	TonWallet      string  `json:"ton_wallet" mapstructure:"ton_wallet"`
}

// Profile holds the collected fitness profile for one user within one tenant.
type Profile struct {
	TenantID            string    `json:"tenant_id"`
	UserID              int64     `json:"user_id"`
	ChatID              int64     `json:"chat_id"`
	Username            string    `json:"username"`
	FullName            string    `json:"full_name"`
	Age                 int       `json:"age"`
	HeightCm            float64   `json:"height_cm"`
	WeightKg            float64   `json:"weight_kg"`
	Gender              string    `json:"gender"`
	Goal                string    `json:"goal"`
	DietaryRestrictions string    `json:"dietary_restrictions"`
	PreferredFoods      string    `json:"preferred_foods"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// PlanType selects what kind of program is generated for a fingerprint.
type PlanType string

const (
	PlanWorkout   PlanType = "workout"
	PlanNutrition PlanType = "nutrition"
)

// EntitlementSource is the payment rail a claim arrived on.
type EntitlementSource string

const (
	SourceCard   EntitlementSource = "card"
	SourceWallet EntitlementSource = "wallet"
)

// EntitlementStatus is the lifecycle state of an entitlement.
//
// pending -> {approved, rejected}; approved -> {consumed, expired}.
// rejected, consumed and expired are terminal.
type EntitlementStatus string

const (
	StatusPending  EntitlementStatus = "pending"
	StatusApproved EntitlementStatus = "approved"
	StatusRejected EntitlementStatus = "rejected"
	StatusConsumed EntitlementStatus = "consumed"
	StatusExpired  EntitlementStatus = "expired"
)

// Terminal reports whether no further transition is allowed from s.
func (s EntitlementStatus) Terminal() bool {
	return s == StatusRejected || s == StatusConsumed || s == StatusExpired
}

// Entitlement authorizes one user to receive exactly one delivered plan,
// cache hit or miss.
type Entitlement struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	UserID      int64             `json:"user_id"`
	PlanType    PlanType          `json:"plan_type"`
	Source      EntitlementSource `json:"source"`
	Status      EntitlementStatus `json:"status"`
	AmountToman int64             `json:"amount_toman"`
	AmountTon   float64           `json:"amount_ton"`
	Reference   string            `json:"reference"`
	CreatedAt   time.Time         `json:"created_at"`
	DecidedAt   *time.Time        `json:"decided_at,omitempty"`
}

// Usable reports whether the entitlement can still pay for a delivery.
func (e *Entitlement) Usable() bool {
	return e != nil && e.Status == StatusApproved
}

// Plan is a generated program, immutable once stored. A changed profile
// produces a new fingerprint and therefore a new Plan.
type Plan struct {
	Fingerprint string    `json:"fingerprint"`
	TenantID    string    `json:"tenant_id"`
	UserID      int64     `json:"user_id"`
	PlanType    PlanType  `json:"plan_type"`
	Text        string    `json:"text"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
}

// GenerationClaim marks a fingerprint as having a generation call in flight.
// Stored alongside plans so every worker sees it; expired claims may be
// re-acquired.
type GenerationClaim struct {
	Fingerprint string    `json:"fingerprint"`
	TenantID    string    `json:"tenant_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
