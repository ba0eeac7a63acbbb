package accounts

import (
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// RegistrationFlow selects how new accounts come into existence.
type RegistrationFlow string

const (
	// FlowAdminProvisioned creates accounts through a privileged actor; the
	// activation email goes out immediately with a temporary password.
	FlowAdminProvisioned RegistrationFlow = "admin-provisioned"
	// FlowSelfRegistration creates pending accounts that need an explicit
	// approval before the activation email is sent.
	FlowSelfRegistration RegistrationFlow = "self-registration"
)

// Config holds the options consumed by the codec, gateway, and middleware.
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetActivationTokenTTL() time.Duration
	GetClockSkew() time.Duration
	GetAuthScheme() string
	GetContextKey() string
	GetPublicRoutes() []string
	GetRegistrationFlow() RegistrationFlow
}

// SimpleConfig is a plain-struct Config implementation for consumers that
// do not bring their own configuration layer.
type SimpleConfig struct {
	SigningKey         string
	Issuer             string
	Audience           []string
	AccessTokenTTL     time.Duration
	ActivationTokenTTL time.Duration
	ClockSkew          time.Duration
	AuthScheme         string
	ContextKey         string
	PublicRoutes       []string
	RegistrationFlow   RegistrationFlow
}

var _ Config = (*SimpleConfig)(nil)

func (c *SimpleConfig) GetSigningKey() string { return c.SigningKey }
func (c *SimpleConfig) GetIssuer() string     { return c.Issuer }
func (c *SimpleConfig) GetAudience() []string { return c.Audience }

func (c *SimpleConfig) GetAccessTokenTTL() time.Duration {
	if c.AccessTokenTTL <= 0 {
		return time.Hour
	}
	return c.AccessTokenTTL
}

func (c *SimpleConfig) GetActivationTokenTTL() time.Duration {
	if c.ActivationTokenTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.ActivationTokenTTL
}

func (c *SimpleConfig) GetClockSkew() time.Duration {
	if c.ClockSkew <= 0 {
		return 60 * time.Second
	}
	return c.ClockSkew
}

func (c *SimpleConfig) GetAuthScheme() string {
	if c.AuthScheme == "" {
		return "Bearer"
	}
	return c.AuthScheme
}

func (c *SimpleConfig) GetContextKey() string {
	if c.ContextKey == "" {
		return "user"
	}
	return c.ContextKey
}

func (c *SimpleConfig) GetPublicRoutes() []string { return c.PublicRoutes }

func (c *SimpleConfig) GetRegistrationFlow() RegistrationFlow {
	if c.RegistrationFlow == "" {
		return FlowSelfRegistration
	}
	return c.RegistrationFlow
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ACCOUNTS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ACCOUNTS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
