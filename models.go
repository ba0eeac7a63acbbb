package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role is a coarse-grained account role.
type Role = string

const (
	// RoleEmployee is the default role assigned at creation.
	RoleEmployee Role = "EMPLOYEE"
	// RoleProjectManager can manage project assignments.
	RoleProjectManager Role = "PROJECT_MANAGER"
	// RoleAdmin can provision, approve, and reject accounts.
	RoleAdmin Role = "ADMIN"
	// RoleGeneralManager has full access.
	RoleGeneralManager Role = "GENERAL_MANAGER"
)

// AccountState is a derived, read-only view over the status flags. It exists
// for display and debugging; transitions operate on the flags themselves and
// only through AccountLifecycle operations.
type AccountState string

const (
	StatePendingRegistration AccountState = "PENDING_REGISTRATION"
	StatePendingActivation   AccountState = "PENDING_ACTIVATION"
	StateActive              AccountState = "ACTIVE"
	StateDisabled            AccountState = "DISABLED"
	StateLocked              AccountState = "LOCKED"
)

// Account is the subject of the lifecycle.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID           uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	EmployeeCode string    `bun:"employee_code,unique" json:"employee_code,omitempty"`
	FirstName    string    `bun:"first_name" json:"first_name,omitempty"`
	LastName     string    `bun:"last_name" json:"last_name,omitempty"`
	Username     string    `bun:"username,unique" json:"username,omitempty"`
	Email        string    `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone        string    `bun:"phone_number" json:"phone_number,omitempty"`
	NationalID   string    `bun:"national_id" json:"national_id,omitempty"`
	Roles        []Role    `bun:"roles" json:"roles,omitempty"`
	PasswordHash string    `bun:"password_hash" json:"-"`

	// Status flags. These are independent booleans for storage compatibility;
	// their valid combinations are constrained by the lifecycle operations.
	RegistrationPending bool `bun:"registration_pending" json:"registration_pending"`
	Enabled             bool `bun:"enabled" json:"enabled"`
	Active              bool `bun:"active" json:"active"`
	AccountLocked       bool `bun:"account_locked" json:"account_locked"`

	// ActivationToken holds the last issued activation token. The stored
	// expiry is checked in addition to the token's own cryptographic expiry,
	// so clearing these fields invalidates a token server-side.
	ActivationToken       string     `bun:"activation_token" json:"-"`
	ActivationTokenExpiry *time.Time `bun:"activation_token_expiry,nullzero" json:"-"`

	LoginAttempts  int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at,nullzero" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`

	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// State derives the display state from the flag combination.
func (a *Account) State() AccountState {
	switch {
	case a.AccountLocked:
		return StateLocked
	case a.RegistrationPending:
		return StatePendingRegistration
	case !a.Enabled:
		return StatePendingActivation
	case !a.Active:
		return StateDisabled
	default:
		return StateActive
	}
}

// CanLogin reports whether the flag combination permits authentication.
func (a *Account) CanLogin() bool {
	return a.Enabled && a.Active && !a.AccountLocked && !a.RegistrationPending
}

// HasRole checks role membership.
func (a *Account) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// EnsureDefaults normalizes a record before persisting: lowercased email,
// at least one role, a generated id.
func (a *Account) EnsureDefaults() {
	a.Email = CanonicalEmail(a.Email)

	if len(a.Roles) == 0 {
		a.Roles = []Role{RoleEmployee}
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
}

// CanonicalEmail normalizes an email for use as the canonical login
// identifier. Lookups and uniqueness checks always go through this.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
