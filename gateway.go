package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

const (
	defaultMaxLoginAttempts = 5
	defaultAttemptWindow    = "15m"
)

// LoginResult is what a successful authentication yields.
type LoginResult struct {
	Account     *Account
	AccessToken string
}

// AuthenticationGateway is the credential front door: it verifies passwords,
// enforces state gating and attempt throttling, and exchanges valid
// credentials for access tokens.
type AuthenticationGateway struct {
	repo        RepositoryManager
	codec       *TokenCodec
	passwords   *PasswordPolicy
	revocations RevocationRegistry
	activity    ActivitySink
	logger      Logger

	maxAttempts   int
	attemptWindow string
}

type GatewayOption func(*AuthenticationGateway)

// WithGatewayLogger overrides the gateway logger.
func WithGatewayLogger(logger Logger) GatewayOption {
	return func(g *AuthenticationGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGatewayActivitySink sets the audit sink.
func WithGatewayActivitySink(s ActivitySink) GatewayOption {
	return func(g *AuthenticationGateway) {
		g.activity = s
	}
}

// WithGatewayPasswordPolicy overrides the password policy.
func WithGatewayPasswordPolicy(p *PasswordPolicy) GatewayOption {
	return func(g *AuthenticationGateway) {
		if p != nil {
			g.passwords = p
		}
	}
}

// WithLoginThrottle tunes the failed attempt threshold and the window
// expression ("15m", "1h") inside which the threshold applies.
func WithLoginThrottle(maxAttempts int, window string) GatewayOption {
	return func(g *AuthenticationGateway) {
		if maxAttempts > 0 {
			g.maxAttempts = maxAttempts
		}
		if window != "" {
			g.attemptWindow = window
		}
	}
}

// NewAuthenticationGateway wires the gateway.
func NewAuthenticationGateway(repo RepositoryManager, codec *TokenCodec, revocations RevocationRegistry, opts ...GatewayOption) (*AuthenticationGateway, error) {
	if repo == nil {
		return nil, goerrors.New("gateway requires a repository manager", goerrors.CategoryBadInput)
	}
	if codec == nil {
		return nil, goerrors.New("gateway requires a token codec", goerrors.CategoryBadInput)
	}
	if revocations == nil {
		return nil, goerrors.New("gateway requires a revocation registry", goerrors.CategoryBadInput)
	}

	g := &AuthenticationGateway{
		repo:          repo,
		codec:         codec,
		revocations:   revocations,
		passwords:     NewPasswordPolicy(),
		logger:        defLogger{},
		maxAttempts:   defaultMaxLoginAttempts,
		attemptWindow: defaultAttemptWindow,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	g.activity = normalizeActivitySink(g.activity)

	return g, nil
}

// Login authenticates an identifier and password pair. The only accepted
// identifier is the canonical one, the lowercased email; anything else is
// treated as unknown. An unknown identifier and a wrong password both come
// back as ErrInvalidCredentials so callers cannot probe which accounts
// exist. State gating happens only after the password has been proven, in a
// fixed order: locked, pending activation, disabled.
func (g *AuthenticationGateway) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	account, err := g.repo.Accounts().GetByEmail(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			g.recordFailure(ctx, identifier, "unknown identifier")
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
	}

	if err := g.checkThrottle(account); err != nil {
		g.recordFailure(ctx, identifier, "too many attempts")
		return nil, err
	}

	if err := g.passwords.Verify(password, account.PasswordHash); err != nil {
		if trackErr := g.repo.Accounts().TrackAttemptedLogin(ctx, account); trackErr != nil {
			g.logger.Error("failed to track login attempt: %v", trackErr)
		}
		g.recordFailure(ctx, identifier, "wrong password")
		return nil, ErrInvalidCredentials
	}

	if account.AccountLocked {
		g.recordFailure(ctx, identifier, "account locked")
		return nil, ErrAccountLocked
	}

	if account.RegistrationPending || !account.Enabled {
		g.recordFailure(ctx, identifier, "not activated")
		return nil, ErrAccountNotActivated
	}

	if !account.Active {
		g.recordFailure(ctx, identifier, "disabled")
		return nil, ErrAccountInactive
	}

	token, err := g.codec.IssueAccessToken(account)
	if err != nil {
		return nil, err
	}

	if err := g.repo.Accounts().TrackSuccessfulLogin(ctx, account); err != nil {
		g.logger.Error("failed to track successful login: %v", err)
	}

	g.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: account.ID.String(), Email: account.Email, Kind: "account"},
		AccountID: account.ID.String(),
	})

	return &LoginResult{Account: account, AccessToken: token}, nil
}

// Logout revokes the presented token. Revoking a token that is already
// revoked, expired, or unknown is not an error.
func (g *AuthenticationGateway) Logout(ctx context.Context, token string) {
	if token == "" {
		return
	}

	g.revocations.Revoke(token)

	event := ActivityEvent{EventType: ActivityEventLogout}
	if claims, err := g.codec.Verify(token); err == nil {
		event.Actor = ActorRef{ID: claims.AccountID(), Email: claims.Email, Kind: "account"}
		event.AccountID = claims.AccountID()
	}
	g.record(ctx, event)
}

// checkThrottle rejects logins when the failed attempt counter crossed the
// threshold inside the configured window. Outside the window the counter is
// stale and the attempt proceeds.
func (g *AuthenticationGateway) checkThrottle(account *Account) error {
	if account.LoginAttempts < g.maxAttempts || account.LoginAttemptAt == nil {
		return nil
	}

	within, err := IsWithinThresholdPeriod(*account.LoginAttemptAt, g.attemptWindow)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "invalid login throttle window")
	}

	if within {
		return ErrTooManyLoginAttempts
	}

	return nil
}

func (g *AuthenticationGateway) recordFailure(ctx context.Context, identifier, reason string) {
	g.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Metadata: map[string]any{
			"identifier": identifier,
			"reason":     reason,
		},
	})
}

func (g *AuthenticationGateway) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := g.activity.Record(ctx, event); err != nil {
		g.logger.Error("failed to record activity event %s: %v", event.EventType, err)
	}
}
