package accounts

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ActivateAccountSQL = `UPDATE "accounts" AS "acc"
SET
	"registration_pending" = FALSE,
	"enabled" = TRUE,
	"active" = TRUE,
	"password_hash" = ?,
	"activation_token" = NULL,
	"activation_token_expiry" = NULL
WHERE
	"acc"."id" = ?
RETURNING *;`

var ResetAccountPasswordSQL = `UPDATE "accounts" AS "acc"
SET
	"password_hash" = ?
WHERE
	"acc"."id" = ?
RETURNING *;`

type Accounts interface {
	repository.Repository[*Account]

	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)

	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmployeeCode(ctx context.Context, code string) (bool, error)
	ExistsByNationalID(ctx context.Context, nationalID string) (bool, error)

	TrackAttemptedLogin(ctx context.Context, account *Account) error
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, account *Account) error
	TrackSuccessfulLogin(ctx context.Context, account *Account) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, account *Account) error

	Register(ctx context.Context, account *Account) (*Account, error)
	RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error)

	StoreActivationToken(ctx context.Context, id uuid.UUID, token string, expiry time.Time) error
	StoreActivationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expiry time.Time) error

	Activate(ctx context.Context, id uuid.UUID, passwordHash string) error
	ActivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error

	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error

	HardDelete(ctx context.Context, id uuid.UUID) error
	HardDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

type accountsRepo struct {
	repository.Repository[*Account]
	db               *bun.DB
	deterministicIDs bool
}

var (
	_ Accounts                        = (*accountsRepo)(nil)
	_ repository.Repository[*Account] = (*accountsRepo)(nil)
)

type AccountsOption func(*accountsRepo)

// WithDeterministicIDs derives ids from the canonical email via hashid
// instead of random UUIDs. Useful for idempotent provisioning imports.
func WithDeterministicIDs() AccountsOption {
	return func(a *accountsRepo) {
		a.deterministicIDs = true
	}
}

func NewAccountsRepository(db *bun.DB, opts ...AccountsOption) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoAccounts := &accountsRepo{
		Repository: repo,
		db:         db,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoAccounts)
		}
	}

	return repoAccounts
}

func (a *accountsRepo) Register(ctx context.Context, account *Account) (*Account, error) {
	return a.RegisterTx(ctx, a.db, account)
}

func (a *accountsRepo) RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	return a.CreateTx(ctx, tx, account)
}

func (a *accountsRepo) Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *accountsRepo) CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	a.prepareDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *accountsRepo) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *accountsRepo) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().Model(record).
		Where("?TableAlias.email = ?", CanonicalEmail(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"email": CanonicalEmail(email),
				})
		}
		return nil, err
	}

	return record, nil
}

// GetByIdentifier resolves an account by id, email, employee code, or
// username, in that order.
func (a *accountsRepo) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *accountsRepo) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	options := resolveAccountIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &Account{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *accountsRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return a.existsWhere(ctx, "email", CanonicalEmail(email))
}

func (a *accountsRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return a.existsWhere(ctx, "username", strings.TrimSpace(username))
}

func (a *accountsRepo) ExistsByEmployeeCode(ctx context.Context, code string) (bool, error) {
	return a.existsWhere(ctx, "employee_code", strings.TrimSpace(code))
}

func (a *accountsRepo) ExistsByNationalID(ctx context.Context, nationalID string) (bool, error) {
	return a.existsWhere(ctx, "national_id", strings.TrimSpace(nationalID))
}

func (a *accountsRepo) existsWhere(ctx context.Context, column, value string) (bool, error) {
	if value == "" {
		return false, nil
	}

	return a.db.NewSelect().Model((*Account)(nil)).
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Exists(ctx)
}

func (a *accountsRepo) TrackSuccessfulLogin(ctx context.Context, account *Account) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, account)
}

func (a *accountsRepo) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, account *Account) error {
	// NOTE: Updating using the ORM fails due to a bug, it wont reset
	// login_attempt_at, login_attempts fields.
	loggedInAt := time.Now()
	_, err := tx.NewRaw(`
		UPDATE "accounts" AS "acc"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE
			("acc".id = ?);
	`, loggedInAt, account.ID).Exec(ctx)

	return err
}

func (a *accountsRepo) TrackAttemptedLogin(ctx context.Context, account *Account) error {
	return a.TrackAttemptedLoginTx(ctx, a.db, account)
}

func (a *accountsRepo) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, account *Account) error {
	criteria := []repository.UpdateCriteria{
		repository.UpdateByID(account.ID.String()),
	}

	record := &Account{}
	record.ID = account.ID
	record.LoginAttempts = account.LoginAttempts + 1
	now := time.Now()
	record.LoginAttemptAt = &now

	_, err := a.Repository.UpdateTx(ctx, tx, record, criteria...)

	return err
}

func (a *accountsRepo) StoreActivationToken(ctx context.Context, id uuid.UUID, token string, expiry time.Time) error {
	return a.StoreActivationTokenTx(ctx, a.db, id, token, expiry)
}

func (a *accountsRepo) StoreActivationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expiry time.Time) error {
	_, err := tx.NewRaw(`
		UPDATE "accounts" AS "acc"
		SET
			"activation_token" = ?,
			"activation_token_expiry" = ?
		WHERE
			("acc".id = ?);
	`, token, expiry, id).Exec(ctx)

	return err
}

// Activate flips the account into its live state and clears the stored
// activation token in the same statement, so a token can never be replayed
// against an already activated account.
func (a *accountsRepo) Activate(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ActivateTx(ctx, a.db, id, passwordHash)
}

func (a *accountsRepo) ActivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := a.Repository.RawTx(ctx, tx, ActivateAccountSQL, passwordHash, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *accountsRepo) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *accountsRepo) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := a.Repository.RawTx(ctx, tx, ResetAccountPasswordSQL, passwordHash, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *accountsRepo) HardDelete(ctx context.Context, id uuid.UUID) error {
	return a.HardDeleteTx(ctx, a.db, id)
}

// HardDeleteTx removes the row outright. Rejected registrations leave no
// trace so the same identifiers can be resubmitted.
func (a *accountsRepo) HardDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewDelete().Model((*Account)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)

	return err
}

func (a *accountsRepo) prepareDefaults(record *Account) {
	if record == nil {
		return
	}

	record.EnsureDefaults()

	if a.deterministicIDs && record.Email != "" {
		if id, err := hashid.NewUUID(record.Email); err == nil {
			record.ID = id
		}
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveAccountIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 4)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  CanonicalEmail(trimmed),
		})
	}

	options = append(options,
		identifierOption{
			column: "employee_code",
			value:  trimmed,
		},
		identifierOption{
			column: "username",
			value:  trimmed,
		},
	)

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
