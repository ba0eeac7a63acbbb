package accounts_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	accounts "github.com/praxishr/go-accounts"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

const sqliteCreateAccounts = `CREATE TABLE accounts (
    id TEXT NOT NULL PRIMARY KEY,
    employee_code TEXT UNIQUE,
    first_name TEXT,
    last_name TEXT,
    username TEXT UNIQUE,
    email TEXT NOT NULL UNIQUE,
    phone_number TEXT,
    national_id TEXT,
    roles TEXT,
    password_hash TEXT,
    registration_pending BOOLEAN NOT NULL DEFAULT FALSE,
    enabled BOOLEAN NOT NULL DEFAULT FALSE,
    active BOOLEAN NOT NULL DEFAULT FALSE,
    account_locked BOOLEAN NOT NULL DEFAULT FALSE,
    activation_token TEXT,
    activation_token_expiry TIMESTAMP NULL,
    login_attempts INTEGER NOT NULL DEFAULT 0,
    login_attempt_at TIMESTAMP NULL,
    loggedin_at TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP
);`

type integrationFixture struct {
	repo        accounts.RepositoryManager
	codec       *accounts.TokenCodec
	lifecycle   *accounts.AccountLifecycle
	gateway     *accounts.AuthenticationGateway
	authn       *accounts.RequestAuthenticator
	revocations *accounts.InMemoryRevocationRegistry
	mailer      *recordingMailer
	sink        *recordingSink
}

func setupIntegration(t *testing.T) *integrationFixture {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = bunDB.Close()
		_ = sqldb.Close()
	})

	_, err = bunDB.Exec(sqliteCreateAccounts)
	require.NoError(t, err)

	cfg := &accounts.SimpleConfig{
		SigningKey: strongSecret,
		Issuer:     "accounts-integration",
	}

	codec := accounts.NewTokenCodec(cfg)
	repo := accounts.NewRepositoryManager(bunDB)
	mailer := &recordingMailer{}
	sink := &recordingSink{}
	revocations := accounts.NewRevocationRegistry()

	policy := accounts.NewPasswordPolicy(accounts.WithBcryptCost(bcrypt.MinCost))

	lifecycle, err := accounts.NewAccountLifecycle(cfg, repo, codec,
		accounts.WithLifecycleMailer(mailer),
		accounts.WithLifecycleActivitySink(sink),
		accounts.WithLifecyclePasswordPolicy(policy),
	)
	require.NoError(t, err)

	gateway, err := accounts.NewAuthenticationGateway(repo, codec, revocations,
		accounts.WithGatewayActivitySink(sink),
		accounts.WithGatewayPasswordPolicy(policy),
	)
	require.NoError(t, err)

	authn, err := accounts.NewRequestAuthenticator(cfg, codec, revocations)
	require.NoError(t, err)

	return &integrationFixture{
		repo:        repo,
		codec:       codec,
		lifecycle:   lifecycle,
		gateway:     gateway,
		authn:       authn,
		revocations: revocations,
		mailer:      mailer,
		sink:        sink,
	}
}

func TestAccountFlowEndToEnd(t *testing.T) {
	f := setupIntegration(t)
	ctx := context.Background()

	const email = "ivy@example.com"
	const chosenPassword = "quartz-velvet-meadow-7"

	// self registration lands in the pending queue
	account, err := f.lifecycle.Register(ctx, accounts.RegisterInput{
		FirstName: "Ivy",
		LastName:  "Stone",
		Email:     email,
		Password:  strongPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, accounts.StatePendingRegistration, account.State())

	// no login before approval
	_, err = f.gateway.Login(ctx, email, strongPassword)
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, accounts.ErrAccountNotActivated))

	// approval assigns an employee code and issues an activation token
	approved, err := f.lifecycle.Approve(ctx, accounts.SystemActor, account.ID)
	require.NoError(t, err)
	assert.False(t, approved.RegistrationPending)
	assert.Regexp(t, regexp.MustCompile(`^EMP-\d{5}$`), approved.EmployeeCode)
	require.NotEmpty(t, approved.ActivationToken)
	require.NotNil(t, approved.ActivationTokenExpiry)

	require.NoError(t, f.lifecycle.ValidateActivationToken(ctx, approved.ActivationToken))

	// activation sets the password and auto-logs in
	result, err := f.lifecycle.Activate(ctx, accounts.ActivationRequest{
		Token:           approved.ActivationToken,
		Password:        chosenPassword,
		ConfirmPassword: chosenPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, accounts.StateActive, result.Account.State())
	assert.Empty(t, result.Account.ActivationToken)

	claims, err := f.authn.Authenticate(ctx, result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, email, claims.Subject())

	// the registration password was replaced during activation
	_, err = f.gateway.Login(ctx, email, strongPassword)
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, accounts.ErrInvalidCredentials))

	stored, err := f.repo.Accounts().GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.LoginAttempts)
	require.NotNil(t, stored.LoginAttemptAt)

	// a good login works by the canonical email and resets the counter
	login, err := f.gateway.Login(ctx, email, chosenPassword)
	require.NoError(t, err)

	// the employee code is not a login identifier
	_, err = f.gateway.Login(ctx, approved.EmployeeCode, chosenPassword)
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, accounts.ErrInvalidCredentials))

	stored, err = f.repo.Accounts().GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.LoginAttempts)
	require.NotNil(t, stored.LoggedInAt)

	// logout revokes the access token
	f.gateway.Logout(ctx, login.AccessToken)
	assert.True(t, f.revocations.IsRevoked(login.AccessToken))
	_, err = f.authn.Authenticate(ctx, login.AccessToken)
	require.Error(t, err)

	// the consumed activation token cannot be replayed
	_, err = f.lifecycle.Activate(ctx, accounts.ActivationRequest{
		Token:           approved.ActivationToken,
		Password:        chosenPassword,
		ConfirmPassword: chosenPassword,
	})
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, accounts.ErrTokenReplay))

	assert.Eventually(t, func() bool {
		return f.mailer.Count(accounts.MailAccountApproved) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProvisionFlowEndToEnd(t *testing.T) {
	f := setupIntegration(t)
	ctx := context.Background()

	const email = "mara@example.com"

	account, tempPassword, err := f.lifecycle.Provision(ctx, accounts.SystemActor, accounts.ProvisionInput{
		FirstName: "Mara",
		LastName:  "Quill",
		Email:     email,
		Roles:     []string{accounts.RoleAdmin},
	})
	require.NoError(t, err)
	require.NotEmpty(t, tempPassword)
	assert.Equal(t, accounts.StatePendingActivation, account.State())
	assert.Regexp(t, regexp.MustCompile(`^EMP-\d{5}$`), account.EmployeeCode)

	stored, err := f.repo.Accounts().GetByEmail(ctx, email)
	require.NoError(t, err)
	require.NotEmpty(t, stored.ActivationToken)
	require.NoError(t, accounts.ComparePasswordAndHash(tempPassword, stored.PasswordHash))

	const chosenPassword = "copper-lantern-orchid-3"
	result, err := f.lifecycle.Activate(ctx, accounts.ActivationRequest{
		Token:           stored.ActivationToken,
		Password:        chosenPassword,
		ConfirmPassword: chosenPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, accounts.StateActive, result.Account.State())
	assert.True(t, result.Account.HasRole(accounts.RoleAdmin))

	login, err := f.gateway.Login(ctx, email, chosenPassword)
	require.NoError(t, err)

	claims, err := f.authn.Authenticate(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.HasRole(accounts.RoleAdmin))
}

func TestLockUnlockRoundTripsThroughStorage(t *testing.T) {
	f := setupIntegration(t)
	ctx := context.Background()

	const email = "nadia@example.com"
	const chosenPassword = "maple-circuit-harbor-5"

	account, err := f.lifecycle.Register(ctx, accounts.RegisterInput{
		FirstName: "Nadia",
		LastName:  "Reyes",
		Email:     email,
		Password:  strongPassword,
	})
	require.NoError(t, err)

	approved, err := f.lifecycle.Approve(ctx, accounts.SystemActor, account.ID)
	require.NoError(t, err)

	_, err = f.lifecycle.Activate(ctx, accounts.ActivationRequest{
		Token:           approved.ActivationToken,
		Password:        chosenPassword,
		ConfirmPassword: chosenPassword,
	})
	require.NoError(t, err)

	require.NoError(t, f.lifecycle.Lock(ctx, accounts.SystemActor, account.ID))

	_, err = f.gateway.Login(ctx, email, chosenPassword)
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, accounts.ErrAccountLocked))

	require.NoError(t, f.lifecycle.Unlock(ctx, accounts.SystemActor, account.ID))

	_, err = f.gateway.Login(ctx, email, chosenPassword)
	require.NoError(t, err)
}
