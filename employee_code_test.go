package accounts_test

import (
	"context"
	"regexp"
	"testing"

	accounts "github.com/praxishr/go-accounts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmployeeCodeFormat(t *testing.T) {
	gen := accounts.NewEmployeeCodeGenerator()
	repo := newFakeAccounts()

	pattern := regexp.MustCompile(`^EMP-\d{5}$`)

	for i := 0; i < 10; i++ {
		code, err := gen.Next(context.Background(), repo)
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
	}
}

func TestEmployeeCodeCustomPrefix(t *testing.T) {
	gen := accounts.NewEmployeeCodeGenerator(
		accounts.WithEmployeeCodePrefix("HR"),
		accounts.WithEmployeeCodeDigits(4),
	)

	code, err := gen.Next(context.Background(), newFakeAccounts())
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^HR-\d{4}$`), code)
}

func TestEmployeeCodeSkipsTakenCodes(t *testing.T) {
	repo := newFakeAccounts()
	gen := accounts.NewEmployeeCodeGenerator()

	code, err := gen.Next(context.Background(), repo)
	require.NoError(t, err)

	account := &accounts.Account{Email: "jane@example.com", EmployeeCode: code}
	_, err = repo.Create(context.Background(), account)
	require.NoError(t, err)

	next, err := gen.Next(context.Background(), repo)
	require.NoError(t, err)
	assert.NotEqual(t, code, next)
}

func TestEmployeeCodeGivesUpAfterBoundedAttempts(t *testing.T) {
	repo := newFakeAccounts()
	gen := accounts.NewEmployeeCodeGenerator(
		accounts.WithEmployeeCodeDigits(3),
		accounts.WithEmployeeCodeAttempts(3),
	)

	taken := &allTakenAccounts{fakeAccounts: repo}

	_, err := gen.Next(context.Background(), taken)
	assert.Error(t, err)
}

// allTakenAccounts reports every candidate code as taken.
type allTakenAccounts struct {
	*fakeAccounts
}

func (a *allTakenAccounts) ExistsByEmployeeCode(context.Context, string) (bool, error) {
	return true, nil
}
