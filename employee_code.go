package accounts

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultEmployeeCodePrefix   = "EMP"
	defaultEmployeeCodeDigits   = 5
	defaultEmployeeCodeAttempts = 10
)

// EmployeeCodeGenerator produces unique, human-readable employee codes like
// "EMP-04821". Uniqueness is checked against the repository; generation
// retries a bounded number of times before giving up.
type EmployeeCodeGenerator struct {
	prefix   string
	digits   int
	attempts int
}

type EmployeeCodeOption func(*EmployeeCodeGenerator)

// WithEmployeeCodePrefix overrides the code prefix.
func WithEmployeeCodePrefix(prefix string) EmployeeCodeOption {
	return func(g *EmployeeCodeGenerator) {
		if prefix != "" {
			g.prefix = prefix
		}
	}
}

// WithEmployeeCodeDigits overrides the number of random digits.
func WithEmployeeCodeDigits(n int) EmployeeCodeOption {
	return func(g *EmployeeCodeGenerator) {
		if n >= 3 && n <= 12 {
			g.digits = n
		}
	}
}

// WithEmployeeCodeAttempts bounds how many candidates are tried before the
// generator reports exhaustion.
func WithEmployeeCodeAttempts(n int) EmployeeCodeOption {
	return func(g *EmployeeCodeGenerator) {
		if n > 0 {
			g.attempts = n
		}
	}
}

func NewEmployeeCodeGenerator(opts ...EmployeeCodeOption) *EmployeeCodeGenerator {
	g := &EmployeeCodeGenerator{
		prefix:   defaultEmployeeCodePrefix,
		digits:   defaultEmployeeCodeDigits,
		attempts: defaultEmployeeCodeAttempts,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// Next returns a code not currently in use. The check-then-use window is
// closed by the unique constraint on the employee_code column; this loop only
// keeps the happy path collision-free.
func (g *EmployeeCodeGenerator) Next(ctx context.Context, repo Accounts) (string, error) {
	for i := 0; i < g.attempts; i++ {
		code, err := g.candidate()
		if err != nil {
			return "", err
		}

		taken, err := repo.ExistsByEmployeeCode(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}

	return "", goerrors.New(
		"exhausted employee code generation attempts",
		goerrors.CategoryInternal,
	).WithMetadata(map[string]any{
		"attempts": g.attempts,
	})
}

func (g *EmployeeCodeGenerator) candidate() (string, error) {
	max := 1
	for i := 0; i < g.digits; i++ {
		max *= 10
	}

	n, err := randomInt(max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%0*d", g.prefix, g.digits, n), nil
}
