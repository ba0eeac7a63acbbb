package accounts

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProvisionInput is the admin-provisioned account creation request. A
// temporary password is generated when none is supplied.
type ProvisionInput struct {
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	NationalID string
	Roles      []Role
	Username   string
}

// RegisterInput is the self-service registration request. The chosen
// password is hashed immediately; the account stays pending until an
// administrator approves it.
type RegisterInput struct {
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	NationalID string
	Username   string
	Password   string
}

// ActivationRequest carries everything needed to complete activation. The
// username is optional: left empty, the account keeps the one assigned at
// creation.
type ActivationRequest struct {
	Token           string
	Username        string
	Password        string
	ConfirmPassword string
}

// ActivationResult reports the outcome of a successful activation, including
// a fresh access token so the account is logged in immediately.
type ActivationResult struct {
	Account     *Account
	AccessToken string
}

// AccountLifecycle owns every state transition an account can undergo:
// provisioning, self registration, approval, rejection, activation, and the
// administrative enable, disable, lock, and unlock switches.
type AccountLifecycle struct {
	repo      RepositoryManager
	codec     *TokenCodec
	passwords *PasswordPolicy
	codes     *EmployeeCodeGenerator
	mailer    Mailer
	activity  ActivitySink
	logger    Logger
	now       func() time.Time
	flow      RegistrationFlow
}

type LifecycleOption func(*AccountLifecycle)

// WithLifecycleLogger overrides the lifecycle logger.
func WithLifecycleLogger(logger Logger) LifecycleOption {
	return func(l *AccountLifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLifecycleClock injects a custom clock.
func WithLifecycleClock(clock func() time.Time) LifecycleOption {
	return func(l *AccountLifecycle) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithLifecycleMailer sets the notification mailer.
func WithLifecycleMailer(m Mailer) LifecycleOption {
	return func(l *AccountLifecycle) {
		l.mailer = m
	}
}

// WithLifecycleActivitySink sets the audit sink.
func WithLifecycleActivitySink(s ActivitySink) LifecycleOption {
	return func(l *AccountLifecycle) {
		l.activity = s
	}
}

// WithLifecyclePasswordPolicy overrides the password policy.
func WithLifecyclePasswordPolicy(p *PasswordPolicy) LifecycleOption {
	return func(l *AccountLifecycle) {
		if p != nil {
			l.passwords = p
		}
	}
}

// WithLifecycleCodeGenerator overrides the employee code generator.
func WithLifecycleCodeGenerator(g *EmployeeCodeGenerator) LifecycleOption {
	return func(l *AccountLifecycle) {
		if g != nil {
			l.codes = g
		}
	}
}

// NewAccountLifecycle wires the lifecycle service.
func NewAccountLifecycle(cfg Config, repo RepositoryManager, codec *TokenCodec, opts ...LifecycleOption) (*AccountLifecycle, error) {
	if repo == nil {
		return nil, goerrors.New("lifecycle requires a repository manager", goerrors.CategoryBadInput)
	}
	if codec == nil {
		return nil, goerrors.New("lifecycle requires a token codec", goerrors.CategoryBadInput)
	}

	l := &AccountLifecycle{
		repo:      repo,
		codec:     codec,
		passwords: NewPasswordPolicy(),
		codes:     NewEmployeeCodeGenerator(),
		logger:    defLogger{},
		now:       time.Now,
		flow:      cfg.GetRegistrationFlow(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	l.mailer = normalizeMailer(l.mailer)
	l.activity = normalizeActivitySink(l.activity)

	return l, nil
}

// Provision creates an account on behalf of an administrator. The account is
// born approved but not yet enabled; activation remains the holder's step.
// The generated temporary password is returned so the caller can surface it
// through an out-of-band channel.
func (l *AccountLifecycle) Provision(ctx context.Context, actor ActorRef, input ProvisionInput) (*Account, string, error) {
	if err := ValidateRoles(input.Roles); err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	account := &Account{
		FirstName:  input.FirstName,
		LastName:   input.LastName,
		Email:      CanonicalEmail(input.Email),
		Phone:      input.Phone,
		NationalID: input.NationalID,
		Username:   getUsername(input.Username, input.Email),
		Roles:      input.Roles,

		RegistrationPending: false,
		Enabled:             false,
		Active:              false,
	}

	tempPassword, err := l.passwords.GenerateTemporaryPassword()
	if err != nil {
		return nil, "", err
	}

	var activationToken string

	err = l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := l.rejectDuplicatesTx(ctx, account); err != nil {
			return err
		}

		if err := l.ensureUsernameTx(ctx, account, input.Username == ""); err != nil {
			return err
		}

		code, err := l.codes.Next(ctx, l.repo.Accounts())
		if err != nil {
			return err
		}
		account.EmployeeCode = code

		hash, err := l.passwords.Hash(tempPassword)
		if err != nil {
			return err
		}
		account.PasswordHash = hash

		if account, err = l.repo.Accounts().CreateTx(ctx, tx, account); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
		}

		activationToken, err = l.issueAndStoreActivationTx(ctx, tx, account)
		return err
	})

	if err != nil {
		return nil, "", wrapLifecycleErr(err, "account provisioning failed")
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountProvisioned,
		Actor:     actor,
		AccountID: account.ID.String(),
		ToState:   account.State(),
	})

	l.sendMail(MailActivation, account.Email, map[string]any{
		"first_name":       account.FirstName,
		"activation_token": activationToken,
		"employee_code":    account.EmployeeCode,
	})
	l.sendMail(MailTemporaryPassword, account.Email, map[string]any{
		"temporary_password": tempPassword,
	})

	return account, tempPassword, nil
}

// Register submits a self-service registration. The account is created with
// the registration pending flag set and stays invisible to login until an
// administrator approves it.
func (l *AccountLifecycle) Register(ctx context.Context, input RegisterInput) (*Account, error) {
	if l.flow != FlowSelfRegistration {
		return nil, ErrInvalidState.WithMetadata(map[string]any{
			"reason": "self registration is not enabled",
		})
	}

	if err := l.passwords.CheckStrength(input.Password, input.Email, input.Username, input.FirstName, input.LastName); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	account := &Account{
		FirstName:  input.FirstName,
		LastName:   input.LastName,
		Email:      CanonicalEmail(input.Email),
		Phone:      input.Phone,
		NationalID: input.NationalID,
		Username:   getUsername(input.Username, input.Email),
		Roles:      []Role{RoleEmployee},

		RegistrationPending: true,
		Enabled:             false,
		Active:              false,
	}

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := l.rejectDuplicatesTx(ctx, account); err != nil {
			return err
		}

		if err := l.ensureUsernameTx(ctx, account, input.Username == ""); err != nil {
			return err
		}

		hash, err := l.passwords.Hash(input.Password)
		if err != nil {
			return err
		}
		account.PasswordHash = hash

		if account, err = l.repo.Accounts().CreateTx(ctx, tx, account); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
		}

		return nil
	})

	if err != nil {
		return nil, wrapLifecycleErr(err, "registration failed")
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventRegistrationSubmitted,
		Actor:     ActorRef{ID: account.ID.String(), Email: account.Email, Kind: "account"},
		AccountID: account.ID.String(),
		ToState:   account.State(),
	})

	return account, nil
}

// Approve moves a pending registration forward: the pending flag clears, an
// employee code is assigned if missing, and an activation token goes out.
// Approving a non-pending account fails, so concurrent approvals of the same
// registration succeed exactly once.
func (l *AccountLifecycle) Approve(ctx context.Context, actor ActorRef, accountID uuid.UUID) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var account *Account
	var activationToken string

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = l.repo.Accounts().GetByIdentifierTx(ctx, tx, accountID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrAccountNotFound
			}
			return err
		}

		if !account.RegistrationPending {
			return ErrInvalidState.WithMetadata(map[string]any{
				"state":  account.State(),
				"reason": "registration is not pending",
			})
		}

		account.RegistrationPending = false

		if account.EmployeeCode == "" {
			code, err := l.codes.Next(ctx, l.repo.Accounts())
			if err != nil {
				return err
			}
			account.EmployeeCode = code
		}

		if account, err = l.repo.Accounts().UpdateTx(ctx, tx, account, repository.UpdateByID(account.ID.String())); err != nil {
			return err
		}

		activationToken, err = l.issueAndStoreActivationTx(ctx, tx, account)
		return err
	})

	if err != nil {
		return nil, wrapLifecycleErr(err, "registration approval failed")
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventRegistrationApproved,
		Actor:     actor,
		AccountID: account.ID.String(),
		FromState: StatePendingRegistration,
		ToState:   account.State(),
	})

	l.sendMail(MailAccountApproved, account.Email, map[string]any{
		"first_name":       account.FirstName,
		"activation_token": activationToken,
		"employee_code":    account.EmployeeCode,
	})

	return account, nil
}

// Reject declines a pending registration and deletes the record outright, so
// the applicant can resubmit with the same identifiers later.
func (l *AccountLifecycle) Reject(ctx context.Context, actor ActorRef, accountID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var email, firstName string

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := l.repo.Accounts().GetByIdentifierTx(ctx, tx, accountID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrAccountNotFound
			}
			return err
		}

		if !account.RegistrationPending {
			return ErrInvalidState.WithMetadata(map[string]any{
				"state":  account.State(),
				"reason": "registration is not pending",
			})
		}

		email = account.Email
		firstName = account.FirstName

		return l.repo.Accounts().HardDeleteTx(ctx, tx, account.ID)
	})

	if err != nil {
		return wrapLifecycleErr(err, "registration rejection failed")
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventRegistrationRejected,
		Actor:     actor,
		AccountID: accountID.String(),
		FromState: StatePendingRegistration,
	})

	l.sendMail(MailAccountRejected, email, map[string]any{
		"first_name": firstName,
	})

	return nil
}

// Activate completes the account setup from an activation token. All checks
// run before any mutation: password confirmation first, then token validity
// and kind, password strength, account state, byte equality with the stored
// token, the stored expiry, and uniqueness of a requested username. On
// success the account becomes enabled and active, the stored token is
// cleared, and a fresh access token is returned.
func (l *AccountLifecycle) Activate(ctx context.Context, req ActivationRequest) (*ActivationResult, error) {
	if req.Password != req.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	claims, err := l.checkActivationToken(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	if err := l.passwords.CheckStrength(req.Password, claims.Email); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var account *Account

	err = l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = l.loadActivationSubjectTx(ctx, tx, claims, req.Token)
		if err != nil {
			return err
		}

		if err := l.applyActivationUsernameTx(ctx, tx, account, req.Username); err != nil {
			return err
		}

		hash, err := l.passwords.Hash(req.Password)
		if err != nil {
			return err
		}

		if err := l.repo.Accounts().ActivateTx(ctx, tx, account.ID, hash); err != nil {
			return err
		}

		account.RegistrationPending = false
		account.Enabled = true
		account.Active = true
		account.PasswordHash = hash
		account.ActivationToken = ""
		account.ActivationTokenExpiry = nil

		return nil
	})

	if err != nil {
		return nil, wrapLifecycleErr(err, "account activation failed")
	}

	accessToken, err := l.codec.IssueAccessToken(account)
	if err != nil {
		return nil, err
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountActivated,
		Actor:     ActorRef{ID: account.ID.String(), Email: account.Email, Kind: "account"},
		AccountID: account.ID.String(),
		FromState: StatePendingActivation,
		ToState:   StateActive,
	})

	return &ActivationResult{Account: account, AccessToken: accessToken}, nil
}

// ValidateActivationToken runs every activation precondition without
// mutating anything. UIs call this before showing the password form.
func (l *AccountLifecycle) ValidateActivationToken(ctx context.Context, token string) error {
	claims, err := l.checkActivationToken(ctx, token)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	return l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := l.loadActivationSubjectTx(ctx, tx, claims, token)
		return err
	})
}

// ResendActivation issues a fresh activation token for an account stuck in
// the pending activation state. The previous stored token stops matching and
// is thereby invalidated.
func (l *AccountLifecycle) ResendActivation(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var account *Account
	var activationToken string

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = l.repo.Accounts().GetByEmailTx(ctx, tx, email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrAccountNotFound
			}
			return err
		}

		if account.RegistrationPending {
			return ErrInvalidState.WithMetadata(map[string]any{
				"state":  account.State(),
				"reason": "registration has not been approved",
			})
		}

		if account.Enabled {
			return ErrInvalidState.WithMetadata(map[string]any{
				"state":  account.State(),
				"reason": "account is already activated",
			})
		}

		activationToken, err = l.issueAndStoreActivationTx(ctx, tx, account)
		return err
	})

	if err != nil {
		return wrapLifecycleErr(err, "activation resend failed")
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventActivationResent,
		Actor:     ActorRef{ID: account.ID.String(), Email: account.Email, Kind: "account"},
		AccountID: account.ID.String(),
	})

	l.sendMail(MailActivationResend, account.Email, map[string]any{
		"first_name":       account.FirstName,
		"activation_token": activationToken,
	})

	return nil
}

// ResetTemporaryPassword replaces the password with a newly generated
// temporary one. Used by administrators when a holder is locked out of an
// unactivated account.
func (l *AccountLifecycle) ResetTemporaryPassword(ctx context.Context, actor ActorRef, accountID uuid.UUID) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	tempPassword, err := l.passwords.GenerateTemporaryPassword()
	if err != nil {
		return "", err
	}

	var account *Account

	err = l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = l.repo.Accounts().GetByIdentifierTx(ctx, tx, accountID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrAccountNotFound
			}
			return err
		}

		hash, err := l.passwords.Hash(tempPassword)
		if err != nil {
			return err
		}

		return l.repo.Accounts().ResetPasswordTx(ctx, tx, account.ID, hash)
	})

	if err != nil {
		return "", wrapLifecycleErr(err, "temporary password reset failed")
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordReset,
		Actor:     actor,
		AccountID: account.ID.String(),
	})

	l.sendMail(MailTemporaryPassword, account.Email, map[string]any{
		"temporary_password": tempPassword,
	})

	return tempPassword, nil
}

// GetAccount returns the stored account for an id. Read-only helper for
// surfaces that already authenticated the holder.
func (l *AccountLifecycle) GetAccount(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	account, err := l.repo.Accounts().GetByIdentifier(ctx, accountID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// ChangePassword lets an authenticated holder replace their own password.
// The current password must verify before the new one is accepted.
func (l *AccountLifecycle) ChangePassword(ctx context.Context, accountID uuid.UUID, current, newPassword, confirm string) error {
	if newPassword != confirm {
		return ErrPasswordMismatch
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var account *Account

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = l.repo.Accounts().GetByIdentifierTx(ctx, tx, accountID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrAccountNotFound
			}
			return err
		}

		if err := l.passwords.Verify(current, account.PasswordHash); err != nil {
			return ErrInvalidCredentials
		}

		if err := l.passwords.CheckStrength(newPassword, account.Email, account.Username, account.FirstName, account.LastName); err != nil {
			return err
		}

		hash, err := l.passwords.Hash(newPassword)
		if err != nil {
			return err
		}

		return l.repo.Accounts().ResetPasswordTx(ctx, tx, account.ID, hash)
	})

	if err != nil {
		return wrapLifecycleErr(err, "password change failed")
	}

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     ActorRef{ID: account.ID.String(), Email: account.Email, Kind: "account"},
		AccountID: account.ID.String(),
	})

	return nil
}

// DisableLogin turns off the active flag; the account keeps its data but can
// no longer authenticate.
func (l *AccountLifecycle) DisableLogin(ctx context.Context, actor ActorRef, accountID uuid.UUID) error {
	return l.setFlag(ctx, actor, accountID, ActivityEventAccountDisabled, func(a *Account) error {
		a.Active = false
		return nil
	})
}

// EnableLogin turns the active flag back on. It fails for accounts that never
// completed activation; re-enabling is not a substitute for approval.
func (l *AccountLifecycle) EnableLogin(ctx context.Context, actor ActorRef, accountID uuid.UUID) error {
	return l.setFlag(ctx, actor, accountID, ActivityEventAccountEnabled, func(a *Account) error {
		if !a.Enabled {
			return ErrInvalidState.WithMetadata(map[string]any{
				"state":  a.State(),
				"reason": "account has never been activated",
			})
		}
		a.Active = true
		return nil
	})
}

// Lock freezes the account regardless of its other flags.
func (l *AccountLifecycle) Lock(ctx context.Context, actor ActorRef, accountID uuid.UUID) error {
	return l.setFlag(ctx, actor, accountID, ActivityEventAccountLocked, func(a *Account) error {
		a.AccountLocked = true
		return nil
	})
}

// Unlock releases a locked account and resets the failed attempt counter.
func (l *AccountLifecycle) Unlock(ctx context.Context, actor ActorRef, accountID uuid.UUID) error {
	return l.setFlag(ctx, actor, accountID, ActivityEventAccountUnlocked, func(a *Account) error {
		a.AccountLocked = false
		a.LoginAttempts = 0
		a.LoginAttemptAt = nil
		return nil
	})
}

func (l *AccountLifecycle) setFlag(ctx context.Context, actor ActorRef, accountID uuid.UUID, event ActivityEventType, mutate func(*Account) error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var from, to AccountState

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := l.repo.Accounts().GetByIdentifierTx(ctx, tx, accountID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrAccountNotFound
			}
			return err
		}

		from = account.State()
		if err := mutate(account); err != nil {
			return err
		}
		to = account.State()

		_, err = l.repo.Accounts().UpdateTx(ctx, tx, account, repository.UpdateByID(account.ID.String()))
		return err
	})

	if err != nil {
		return wrapLifecycleErr(err, "account state change failed")
	}

	l.record(ctx, ActivityEvent{
		EventType: event,
		Actor:     actor,
		AccountID: accountID.String(),
		FromState: from,
		ToState:   to,
	})

	return nil
}

// checkActivationToken validates everything the token itself can prove:
// signature, expiry, and kind.
func (l *AccountLifecycle) checkActivationToken(_ context.Context, token string) (*TokenClaims, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}

	claims, err := l.codec.Verify(token)
	if err != nil {
		return nil, err
	}

	if !claims.IsKind(KindActivation) {
		return nil, ErrTokenInvalid.WithMetadata(map[string]any{
			"reason": "wrong token kind",
		})
	}

	return claims, nil
}

// loadActivationSubjectTx resolves the account behind an activation token
// and enforces the database-side checks: the account exists, is not yet
// enabled, the presented token matches the stored one byte for byte, and the
// stored expiry has not passed.
func (l *AccountLifecycle) loadActivationSubjectTx(ctx context.Context, tx bun.IDB, claims *TokenClaims, token string) (*Account, error) {
	account, err := l.repo.Accounts().GetByEmailTx(ctx, tx, claims.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if account.Enabled {
		return nil, ErrTokenReplay.WithMetadata(map[string]any{
			"reason": "account is already activated",
		})
	}

	if account.ActivationToken == "" ||
		subtle.ConstantTimeCompare([]byte(account.ActivationToken), []byte(token)) != 1 {
		return nil, ErrTokenReplay.WithMetadata(map[string]any{
			"reason": "token does not match the latest issued token",
		})
	}

	if account.ActivationTokenExpiry == nil || !l.now().Before(*account.ActivationTokenExpiry) {
		return nil, ErrTokenExpired
	}

	return account, nil
}

// applyActivationUsernameTx lets the holder pick a username while activating.
// The holder's own employee code is always allowed as a username; anything
// else must be unclaimed, both as a username and as another account's
// employee code.
func (l *AccountLifecycle) applyActivationUsernameTx(ctx context.Context, tx bun.IDB, account *Account, username string) error {
	if username == "" || username == account.Username {
		return nil
	}

	if username != account.EmployeeCode {
		taken, err := l.repo.Accounts().ExistsByUsername(ctx, username)
		if err != nil {
			return err
		}
		if !taken {
			taken, err = l.repo.Accounts().ExistsByEmployeeCode(ctx, username)
			if err != nil {
				return err
			}
		}
		if taken {
			return ErrDuplicateIdentity.WithMetadata(map[string]any{
				"field": "username",
			})
		}
	}

	account.Username = username
	_, err := l.repo.Accounts().UpdateTx(ctx, tx, account, repository.UpdateByID(account.ID.String()))
	return err
}

func (l *AccountLifecycle) issueAndStoreActivationTx(ctx context.Context, tx bun.IDB, account *Account) (string, error) {
	token, err := l.codec.IssueActivationToken(account.ID, account.Email)
	if err != nil {
		return "", err
	}

	expiry := l.now().Add(l.codec.activationTTL)
	if err := l.repo.Accounts().StoreActivationTokenTx(ctx, tx, account.ID, token, expiry); err != nil {
		return "", err
	}

	account.ActivationToken = token
	account.ActivationTokenExpiry = &expiry

	return token, nil
}

func (l *AccountLifecycle) rejectDuplicatesTx(ctx context.Context, account *Account) error {
	checks := []struct {
		field  string
		value  string
		exists func(context.Context, string) (bool, error)
	}{
		{"email", account.Email, l.repo.Accounts().ExistsByEmail},
		{"national_id", account.NationalID, l.repo.Accounts().ExistsByNationalID},
	}

	for _, check := range checks {
		if check.value == "" {
			continue
		}
		taken, err := check.exists(ctx, check.value)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateIdentity.WithMetadata(map[string]any{
				"field": check.field,
			})
		}
	}

	return nil
}

// usernameSuffixLimit bounds the disambiguation loop for derived usernames.
const usernameSuffixLimit = 100

// ensureUsernameTx settles the username before insert. A caller-supplied
// username must be free; a username derived from the email local part gets a
// numeric suffix until it is, so two holders sharing a local part at
// different domains can both register.
func (l *AccountLifecycle) ensureUsernameTx(ctx context.Context, account *Account, derived bool) error {
	taken, err := l.repo.Accounts().ExistsByUsername(ctx, account.Username)
	if err != nil {
		return err
	}
	if !taken {
		return nil
	}

	if !derived {
		return ErrDuplicateIdentity.WithMetadata(map[string]any{
			"field": "username",
		})
	}

	base := account.Username
	for i := 2; i <= usernameSuffixLimit; i++ {
		candidate := fmt.Sprintf("%s%d", base, i)
		taken, err := l.repo.Accounts().ExistsByUsername(ctx, candidate)
		if err != nil {
			return err
		}
		if !taken {
			account.Username = candidate
			return nil
		}
	}

	return ErrDuplicateIdentity.WithMetadata(map[string]any{
		"field": "username",
	})
}

// sendMail delivers asynchronously so a slow or broken relay never blocks a
// lifecycle transition. Failures are logged, not returned.
func (l *AccountLifecycle) sendMail(template MailTemplate, recipient string, data map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
		defer cancel()

		if err := l.mailer.Send(ctx, template, recipient, data); err != nil {
			l.logger.Error("failed to send %s mail to %s: %v", template, recipient, err)
		}
	}()
}

func (l *AccountLifecycle) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = l.now()
	}

	if err := l.activity.Record(ctx, event); err != nil {
		l.logger.Error("failed to record activity event %s: %v", event.EventType, err)
	}
}

func wrapLifecycleErr(err error, msg string) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}
