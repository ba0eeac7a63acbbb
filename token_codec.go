package accounts

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// minSigningKeyBytes is the floor for HMAC signing keys: 256 bits. A weaker
// configured secret is replaced with a random key, never signed with as-is.
const minSigningKeyBytes = 32

// TokenCodec signs, parses, and validates the bearer tokens this module
// issues: access tokens and single-purpose activation tokens.
type TokenCodec struct {
	signingKey    []byte
	accessTTL     time.Duration
	activationTTL time.Duration
	skew          time.Duration
	issuer        string
	audience      jwt.ClaimStrings
	logger        Logger
	now           func() time.Time
}

type TokenCodecOption func(*TokenCodec)

// WithCodecLogger overrides the codec logger.
func WithCodecLogger(logger Logger) TokenCodecOption {
	return func(tc *TokenCodec) {
		if logger != nil {
			tc.logger = logger
		}
	}
}

// WithCodecClock injects a custom clock (useful for tests).
func WithCodecClock(clock func() time.Time) TokenCodecOption {
	return func(tc *TokenCodec) {
		if clock != nil {
			tc.now = clock
		}
	}
}

// NewTokenCodec creates a TokenCodec from configuration.
func NewTokenCodec(cfg Config, opts ...TokenCodecOption) *TokenCodec {
	tc := &TokenCodec{
		accessTTL:     cfg.GetAccessTokenTTL(),
		activationTTL: cfg.GetActivationTokenTTL(),
		skew:          cfg.GetClockSkew(),
		issuer:        cfg.GetIssuer(),
		audience:      jwt.ClaimStrings(cfg.GetAudience()),
		logger:        defLogger{},
		now:           time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(tc)
		}
	}

	tc.signingKey = resolveSigningKey(cfg.GetSigningKey(), tc.logger)

	return tc
}

// resolveSigningKey decodes the configured secret, trying Base64 first and
// falling back to raw bytes. Secrets below 256 bits are replaced with a
// random key so the codec never signs with a weak one.
func resolveSigningKey(secret string, logger Logger) []byte {
	if secret == "" {
		logger.Warn("signing secret is not set, generating a random 256 bit key")
		return randomSigningKey()
	}

	keyBytes, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		keyBytes = []byte(secret)
	}

	if len(keyBytes) < minSigningKeyBytes {
		logger.Warn("signing secret is too weak (%d bits), generating a random 256 bit key", len(keyBytes)*8)
		return randomSigningKey()
	}

	return keyBytes
}

func randomSigningKey() []byte {
	key := make([]byte, minSigningKeyBytes)
	if _, err := rand.Read(key); err != nil {
		// crypto/rand failing means the process has no usable entropy source
		panic(fmt.Sprintf("accounts: unable to generate signing key: %v", err))
	}
	return key
}

// IssueAccessToken issues a short-lived access token for an authenticated
// account. The subject is the canonical login identifier (email).
func (tc *TokenCodec) IssueAccessToken(account *Account) (string, error) {
	if account == nil {
		return "", errors.New("account must not be nil", errors.CategoryBadInput)
	}

	now := tc.now()
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tc.issuer,
			Subject:   CanonicalEmail(account.Email),
			Audience:  tc.claimAudience(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tc.accessTTL)),
		},
		Kind:         KindAccess,
		UID:          account.ID.String(),
		Email:        CanonicalEmail(account.Email),
		EmployeeCode: account.EmployeeCode,
		Roles:        append([]string(nil), account.Roles...),
	}

	return tc.SignClaims(claims)
}

// IssueActivationToken issues a long-lived, single-purpose token tying an
// unactivated account to its activation request.
func (tc *TokenCodec) IssueActivationToken(accountID uuid.UUID, email string) (string, error) {
	now := tc.now()
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tc.issuer,
			Subject:   CanonicalEmail(email),
			Audience:  tc.claimAudience(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tc.activationTTL)),
		},
		Kind:  KindActivation,
		UID:   accountID.String(),
		Email: CanonicalEmail(email),
	}

	return tc.SignClaims(claims)
}

// IssueWithClaims signs an arbitrary claim set with the configured key.
// Collaborators (password reset flows and the like) reuse this rather than
// holding the key themselves.
func (tc *TokenCodec) IssueWithClaims(extra map[string]any, subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("token TTL must be positive", errors.CategoryBadInput)
	}

	now := tc.now()
	claims := jwt.MapClaims{
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}
	if tc.issuer != "" {
		claims["iss"] = tc.issuer
	}
	if len(tc.audience) > 0 {
		claims["aud"] = tc.claimAudience()
	}
	for k, v := range extra {
		claims[k] = v
	}
	if subject != "" {
		claims["sub"] = subject
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tc.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign token")
	}

	return signed, nil
}

// SignClaims signs structured claims using the configured signing key.
func (tc *TokenCodec) SignClaims(claims *TokenClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(tc.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign token")
	}

	return signed, nil
}

// Verify parses and validates a token string. It returns an explicit error
// on malformed structure, bad signature, and on expiry beyond the clock skew
// allowance; a token whose expiry sits exactly at now-skew is expired.
func (tc *TokenCodec) Verify(tokenString string) (*TokenClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(tc.now),
		jwt.WithLeeway(tc.skew),
	}
	if tc.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(tc.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			tc.logger.Error("verify encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tc.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenInvalid.Category, ErrTokenInvalid.Message).WithTextCode(ErrTokenInvalid.TextCode)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		tc.logger.Error("verify could not decode claims")
		return nil, ErrTokenInvalid
	}

	// The skew boundary is exclusive on the valid side: exp == now-skew is
	// already expired, regardless of how the library rounds its leeway.
	if exp := claims.Expires(); !exp.IsZero() && !tc.now().Before(exp.Add(tc.skew)) {
		return nil, ErrTokenExpired
	}

	// jwt.WithAudience takes a single expected value; the configured list is
	// checked here so any match passes.
	if len(tc.audience) > 0 && !hasAnyAudience(claims.Audience, tc.audience) {
		return nil, ErrTokenInvalid.WithMetadata(map[string]any{
			"reason": "audience mismatch",
		})
	}

	return claims, nil
}

func hasAnyAudience(got, want jwt.ClaimStrings) bool {
	for _, w := range want {
		for _, g := range got {
			if g == w {
				return true
			}
		}
	}
	return false
}

// Claim extracts a single claim without validating the token. It never
// errors; any parse failure reports the claim as absent. Callers that need
// trust must use Verify.
func (tc *TokenCodec) Claim(tokenString, key string) (any, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, false
	}

	value, ok := claims[key]
	return value, ok
}

// IsKind reports whether the token carries the given kind discriminator.
// The comparison is case-insensitive; a missing kind claim matches no kind.
func (tc *TokenCodec) IsKind(tokenString string, kind TokenKind) bool {
	raw, ok := tc.Claim(tokenString, "type")
	if !ok {
		return false
	}
	s, ok := raw.(string)
	if !ok {
		return false
	}
	return KindMatches(s, kind)
}

// MatchesSubject reports whether the token's subject claim equals the
// account's canonical login identifier. Used to reject tokens whose holder
// changed identifiers after issuance.
func (tc *TokenCodec) MatchesSubject(tokenString string, account *Account) bool {
	if account == nil {
		return false
	}

	claims, err := tc.Verify(tokenString)
	if err != nil {
		return false
	}

	return claims.Subject() == CanonicalEmail(account.Email)
}

// RemainingTime returns how long until the token's embedded expiry, zero for
// expired or unreadable tokens.
func (tc *TokenCodec) RemainingTime(tokenString string) time.Duration {
	raw, ok := tc.Claim(tokenString, "exp")
	if !ok {
		return 0
	}

	seconds, ok := raw.(float64)
	if !ok {
		return 0
	}

	remaining := time.Unix(int64(seconds), 0).Sub(tc.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (tc *TokenCodec) claimAudience() jwt.ClaimStrings {
	if len(tc.audience) == 0 {
		return nil
	}
	aud := make(jwt.ClaimStrings, len(tc.audience))
	copy(aud, tc.audience)
	return aud
}
