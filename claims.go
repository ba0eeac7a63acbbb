package accounts

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind discriminates the purpose of a signed token. A token of one kind
// must never be accepted where the other is required.
type TokenKind = string

const (
	// KindAccess marks short-lived session tokens. Issued lowercase; older
	// issuers used "ACCESS", so comparisons are case-insensitive.
	KindAccess TokenKind = "access"
	// KindActivation marks single-use account activation tokens.
	KindActivation TokenKind = "ACCOUNT_ACTIVATION"
)

// KindMatches compares token kinds case-insensitively. An empty kind matches
// nothing: a token missing its kind claim belongs to no kind at all.
func KindMatches(a, b TokenKind) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// TokenClaims is the payload carried by every token this module signs.
type TokenClaims struct {
	jwt.RegisteredClaims
	Kind         TokenKind `json:"type,omitempty"`
	UID          string    `json:"uid,omitempty"`
	Email        string    `json:"email,omitempty"`
	EmployeeCode string    `json:"employee_code,omitempty"`
	Roles        []string  `json:"roles,omitempty"`
}

// Subject returns the subject claim, the canonical login identifier.
func (c *TokenClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// AccountID returns the account id claim, falling back to the subject.
func (c *TokenClaims) AccountID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// IsKind checks the kind discriminator case-insensitively.
func (c *TokenClaims) IsKind(kind TokenKind) bool {
	return KindMatches(c.Kind, kind)
}

// HasRole checks role membership on the token.
func (c *TokenClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// IsAtLeast checks the token's strongest role against a minimum.
func (c *TokenClaims) IsAtLeast(minRole string) bool {
	return RoleAtLeast(HighestRole(c.Roles), minRole)
}

// Expires returns the expiration time, zero when absent.
func (c *TokenClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issuance time, zero when absent.
func (c *TokenClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
