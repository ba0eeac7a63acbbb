package accounts

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// RequestAuthenticator guards incoming requests: it extracts bearer tokens,
// verifies them, enforces the access kind, consults the revocation registry,
// and exposes the resulting claims to handlers.
type RequestAuthenticator struct {
	codec       *TokenCodec
	revocations RevocationRegistry
	accounts    Accounts
	logger      Logger

	scheme       string
	contextKey   string
	publicRoutes []string

	ErrorHandler func(router.Context, error) error
}

type RequestAuthOption func(*RequestAuthenticator)

// WithRequestAuthLogger overrides the authenticator logger.
func WithRequestAuthLogger(logger Logger) RequestAuthOption {
	return func(r *RequestAuthenticator) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAccountSource enables the subject recheck: verified tokens are matched
// against the stored account so a token minted before an email change stops
// working once the canonical identifier moves.
func WithAccountSource(accounts Accounts) RequestAuthOption {
	return func(r *RequestAuthenticator) {
		r.accounts = accounts
	}
}

// WithPublicRoutes adds path prefixes that bypass authentication entirely.
func WithPublicRoutes(prefixes ...string) RequestAuthOption {
	return func(r *RequestAuthenticator) {
		r.publicRoutes = append(r.publicRoutes, prefixes...)
	}
}

// NewRequestAuthenticator wires the request guard.
func NewRequestAuthenticator(cfg Config, codec *TokenCodec, revocations RevocationRegistry, opts ...RequestAuthOption) (*RequestAuthenticator, error) {
	if codec == nil {
		return nil, goerrors.New("request authenticator requires a token codec", goerrors.CategoryBadInput)
	}
	if revocations == nil {
		return nil, goerrors.New("request authenticator requires a revocation registry", goerrors.CategoryBadInput)
	}

	r := &RequestAuthenticator{
		codec:        codec,
		revocations:  revocations,
		logger:       defLogger{},
		scheme:       cfg.GetAuthScheme(),
		contextKey:   cfg.GetContextKey(),
		publicRoutes: append([]string(nil), cfg.GetPublicRoutes()...),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	if r.ErrorHandler == nil {
		r.ErrorHandler = r.defaultErrHandler
	}

	return r, nil
}

// Authenticate validates a raw token and returns its claims. The token must
// verify, carry the access kind, and not be revoked. This is the transport
// agnostic core; the middleware is a thin wrapper over it.
func (r *RequestAuthenticator) Authenticate(ctx context.Context, raw string) (*TokenClaims, error) {
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	if r.revocations.IsRevoked(raw) {
		return nil, ErrTokenInvalid.WithMetadata(map[string]any{
			"reason": "token has been revoked",
		})
	}

	claims, err := r.codec.Verify(raw)
	if err != nil {
		return nil, err
	}

	if !claims.IsKind(KindAccess) {
		return nil, ErrTokenInvalid.WithMetadata(map[string]any{
			"reason": "wrong token kind",
		})
	}

	if r.accounts != nil {
		account, err := r.accounts.GetByIdentifier(ctx, claims.AccountID())
		if err != nil {
			return nil, ErrTokenInvalid.WithMetadata(map[string]any{
				"reason": "unknown subject",
			})
		}

		if claims.Subject() != CanonicalEmail(account.Email) {
			return nil, ErrTokenInvalid.WithMetadata(map[string]any{
				"reason": "subject no longer matches the account",
			})
		}
	}

	return claims, nil
}

// TokenFromHeader strips the auth scheme prefix from an Authorization header
// value. The scheme comparison is case-insensitive.
func (r *RequestAuthenticator) TokenFromHeader(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	if r.scheme == "" {
		return header, true
	}

	prefix := r.scheme + " "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}

	return strings.TrimSpace(header[len(prefix):]), true
}

// IsPublicRoute reports whether the path is covered by the allow-list. The
// match is prefix-based so "/auth" covers "/auth/login".
func (r *RequestAuthenticator) IsPublicRoute(path string) bool {
	for _, prefix := range r.publicRoutes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ProtectedRoute is the go-router middleware. Public routes pass through
// before any token inspection. Requests without an Authorization header pass
// through unauthenticated so downstream authorization can decide whether
// identity was required; requests that do present a token must present a
// valid, unrevoked access token. Verified claims land in the router locals
// under the configured context key and in the request context.
func (r *RequestAuthenticator) ProtectedRoute() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if r.IsPublicRoute(ctx.Path()) {
				return next(ctx)
			}

			header := ctx.GetString(router.HeaderAuthorization, "")
			if header == "" {
				return next(ctx)
			}

			raw, ok := r.TokenFromHeader(header)
			if !ok {
				return r.ErrorHandler(ctx, ErrTokenInvalid.WithMetadata(map[string]any{
					"reason": "malformed authorization header",
				}))
			}

			claims, err := r.Authenticate(ctx.Context(), raw)
			if err != nil {
				return r.ErrorHandler(ctx, err)
			}

			ctx.Locals(r.contextKey, claims)
			ctx.SetContext(WithClaimsContext(ctx.Context(), claims))

			return next(ctx)
		}
	}
}

// RequireRole layers a role check on top of ProtectedRoute. It expects the
// claims to already be present in the router locals.
func (r *RequestAuthenticator) RequireRole(minRole Role) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			claims, ok := GetRouterClaims(ctx, r.contextKey)
			if !ok {
				return r.ErrorHandler(ctx, ErrTokenInvalid)
			}

			if !claims.IsAtLeast(minRole) {
				return r.ErrorHandler(ctx, goerrors.New("insufficient role", goerrors.CategoryAuthz).
					WithCode(goerrors.CodeForbidden).
					WithMetadata(map[string]any{
						"required": minRole,
					}))
			}

			return next(ctx)
		}
	}
}

func (r *RequestAuthenticator) defaultErrHandler(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryAuth, "authentication failed").
			WithCode(goerrors.CodeUnauthorized)
	}

	r.logger.Info("request rejected path=%s text_code=%s: %s", ctx.Path(), richErr.TextCode, richErr.Message)

	return respondWithError(ctx, richErr)
}
