package accounts

import (
	"crypto/rand"
	"math/big"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
	"golang.org/x/crypto/bcrypt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultBcryptCost       = 14
	defaultTempPasswordLen  = 12
	defaultMinPasswordScore = 2

	passwordUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	passwordLowercase = "abcdefghijklmnopqrstuvwxyz"
	passwordDigits    = "0123456789"
	passwordSpecial   = "!@#$%"
)

// HashPassword generates a password hash with the default cost.
func HashPassword(password string) (string, error) {
	return hashPasswordWithCost(password, defaultBcryptCost)
}

func hashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(h), nil
}

// ComparePasswordAndHash validates the given cleartext password against the
// stored hash. The comparison is constant-time by construction.
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if goerrors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}

// PasswordPolicy generates temporary passwords and wraps the hash/verify
// calls with a configurable cost and strength floor.
type PasswordPolicy struct {
	cost       int
	tempLength int
	minScore   int
}

type PasswordPolicyOption func(*PasswordPolicy)

// WithBcryptCost overrides the hashing cost (mostly for tests).
func WithBcryptCost(cost int) PasswordPolicyOption {
	return func(p *PasswordPolicy) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			p.cost = cost
		}
	}
}

// WithTempPasswordLength overrides the generated temporary password length.
func WithTempPasswordLength(n int) PasswordPolicyOption {
	return func(p *PasswordPolicy) {
		if n >= 8 {
			p.tempLength = n
		}
	}
}

// WithMinPasswordScore sets the minimum zxcvbn score (0-4) a user-chosen
// password must reach. Zero disables the check.
func WithMinPasswordScore(score int) PasswordPolicyOption {
	return func(p *PasswordPolicy) {
		if score >= 0 && score <= 4 {
			p.minScore = score
		}
	}
}

// NewPasswordPolicy returns a policy with the default cost, length, and
// strength floor.
func NewPasswordPolicy(opts ...PasswordPolicyOption) *PasswordPolicy {
	p := &PasswordPolicy{
		cost:       defaultBcryptCost,
		tempLength: defaultTempPasswordLen,
		minScore:   defaultMinPasswordScore,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// Hash hashes a plaintext password.
func (p *PasswordPolicy) Hash(password string) (string, error) {
	return hashPasswordWithCost(password, p.cost)
}

// Verify checks a plaintext password against a stored hash.
func (p *PasswordPolicy) Verify(password, hash string) error {
	return ComparePasswordAndHash(password, hash)
}

// CheckStrength rejects user-chosen passwords below the minimum score. The
// account's own identifiers count against the password so "jdoe2024!" scores
// what it deserves.
func (p *PasswordPolicy) CheckStrength(password string, userInputs ...string) error {
	if p.minScore <= 0 {
		return nil
	}

	strength := zxcvbn.PasswordStrength(password, userInputs)
	if strength.Score < p.minScore {
		return ErrWeakPassword.WithMetadata(map[string]any{
			"score":     strength.Score,
			"min_score": p.minScore,
		})
	}
	return nil
}

// GenerateTemporaryPassword produces a random password guaranteed to contain
// at least one uppercase letter, lowercase letter, digit, and special
// character, shuffled so the guaranteed characters sit at random positions.
func (p *PasswordPolicy) GenerateTemporaryPassword() (string, error) {
	return GenerateTemporaryPassword(p.tempLength)
}

// GenerateTemporaryPassword is the package-level generator used by the
// default policy.
func GenerateTemporaryPassword(length int) (string, error) {
	if length < 8 {
		length = defaultTempPasswordLen
	}

	all := passwordUppercase + passwordLowercase + passwordDigits + passwordSpecial

	chars := make([]byte, 0, length)
	for _, class := range []string{passwordUppercase, passwordLowercase, passwordDigits, passwordSpecial} {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	for len(chars) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	// Fisher-Yates with crypto/rand
	for i := len(chars) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		chars[i], chars[j] = chars[j], chars[i]
	}

	return string(chars), nil
}

func randomChar(class string) (byte, error) {
	i, err := randomInt(len(class))
	if err != nil {
		return 0, err
	}
	return class[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read random bytes")
	}
	return int(v.Int64()), nil
}
