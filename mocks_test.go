package accounts_test

import (
	"context"
	"database/sql"
	"io"
	"mime/multipart"
	"strings"
	"sync"
	"time"

	accounts "github.com/praxishr/go-accounts"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// fakeAccounts is an in-memory Accounts implementation. The embedded
// interface covers the generic repository surface; anything the code under
// test actually calls is overridden below.
type fakeAccounts struct {
	repository.Repository[*accounts.Account]

	mu   sync.Mutex
	byID map[uuid.UUID]*accounts.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byID: map[uuid.UUID]*accounts.Account{}}
}

func newRandomID() uuid.UUID {
	return uuid.New()
}

func cloneAccount(a *accounts.Account) *accounts.Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Roles = append([]accounts.Role(nil), a.Roles...)
	if a.ActivationTokenExpiry != nil {
		t := *a.ActivationTokenExpiry
		c.ActivationTokenExpiry = &t
	}
	if a.LoginAttemptAt != nil {
		t := *a.LoginAttemptAt
		c.LoginAttemptAt = &t
	}
	return &c
}

func (f *fakeAccounts) get(id uuid.UUID) *accounts.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneAccount(f.byID[id])
}

func (f *fakeAccounts) put(a *accounts.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[a.ID] = cloneAccount(a)
}

func (f *fakeAccounts) Create(ctx context.Context, record *accounts.Account, criteria ...repository.InsertCriteria) (*accounts.Account, error) {
	return f.CreateTx(ctx, nil, record, criteria...)
}

func (f *fakeAccounts) CreateTx(_ context.Context, _ bun.IDB, record *accounts.Account, _ ...repository.InsertCriteria) (*accounts.Account, error) {
	record.EnsureDefaults()
	f.put(record)
	return cloneAccount(record), nil
}

func (f *fakeAccounts) Register(ctx context.Context, record *accounts.Account) (*accounts.Account, error) {
	return f.CreateTx(ctx, nil, record)
}

func (f *fakeAccounts) RegisterTx(ctx context.Context, tx bun.IDB, record *accounts.Account) (*accounts.Account, error) {
	return f.CreateTx(ctx, tx, record)
}

func (f *fakeAccounts) Update(ctx context.Context, record *accounts.Account, criteria ...repository.UpdateCriteria) (*accounts.Account, error) {
	return f.UpdateTx(ctx, nil, record, criteria...)
}

func (f *fakeAccounts) UpdateTx(_ context.Context, _ bun.IDB, record *accounts.Account, _ ...repository.UpdateCriteria) (*accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[record.ID]; !ok {
		return nil, repository.NewRecordNotFound()
	}
	f.byID[record.ID] = cloneAccount(record)
	return cloneAccount(record), nil
}

func (f *fakeAccounts) GetByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	return f.GetByEmailTx(ctx, nil, email)
}

func (f *fakeAccounts) GetByEmailTx(_ context.Context, _ bun.IDB, email string) (*accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = accounts.CanonicalEmail(email)
	for _, a := range f.byID {
		if a.Email == email {
			return cloneAccount(a), nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeAccounts) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*accounts.Account, error) {
	return f.GetByIdentifierTx(ctx, nil, identifier, criteria...)
}

func (f *fakeAccounts) GetByIdentifierTx(_ context.Context, _ bun.IDB, identifier string, _ ...repository.SelectCriteria) (*accounts.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.ID.String() == identifier ||
			a.Email == accounts.CanonicalEmail(identifier) ||
			(a.Username != "" && a.Username == identifier) ||
			(a.EmployeeCode != "" && a.EmployeeCode == identifier) {
			return cloneAccount(a), nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeAccounts) ExistsByEmail(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = accounts.CanonicalEmail(email)
	for _, a := range f.byID {
		if a.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccounts) ExistsByUsername(_ context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.Username != "" && strings.EqualFold(a.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccounts) ExistsByEmployeeCode(_ context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.EmployeeCode != "" && a.EmployeeCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccounts) ExistsByNationalID(_ context.Context, nationalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.NationalID != "" && a.NationalID == nationalID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccounts) TrackAttemptedLogin(ctx context.Context, account *accounts.Account) error {
	return f.TrackAttemptedLoginTx(ctx, nil, account)
}

func (f *fakeAccounts) TrackAttemptedLoginTx(_ context.Context, _ bun.IDB, account *accounts.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[account.ID]
	if !ok {
		return repository.NewRecordNotFound()
	}
	a.LoginAttempts++
	now := time.Now()
	a.LoginAttemptAt = &now
	return nil
}

func (f *fakeAccounts) TrackSuccessfulLogin(ctx context.Context, account *accounts.Account) error {
	return f.TrackSuccessfulLoginTx(ctx, nil, account)
}

func (f *fakeAccounts) TrackSuccessfulLoginTx(_ context.Context, _ bun.IDB, account *accounts.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[account.ID]
	if !ok {
		return repository.NewRecordNotFound()
	}
	now := time.Now()
	a.LoggedInAt = &now
	a.LoginAttempts = 0
	a.LoginAttemptAt = nil
	return nil
}

func (f *fakeAccounts) StoreActivationToken(ctx context.Context, id uuid.UUID, token string, expiry time.Time) error {
	return f.StoreActivationTokenTx(ctx, nil, id, token, expiry)
}

func (f *fakeAccounts) StoreActivationTokenTx(_ context.Context, _ bun.IDB, id uuid.UUID, token string, expiry time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return repository.NewRecordNotFound()
	}
	a.ActivationToken = token
	a.ActivationTokenExpiry = &expiry
	return nil
}

func (f *fakeAccounts) Activate(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return f.ActivateTx(ctx, nil, id, passwordHash)
}

func (f *fakeAccounts) ActivateTx(_ context.Context, _ bun.IDB, id uuid.UUID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return repository.NewRecordNotFound()
	}
	a.RegistrationPending = false
	a.Enabled = true
	a.Active = true
	a.PasswordHash = passwordHash
	a.ActivationToken = ""
	a.ActivationTokenExpiry = nil
	return nil
}

func (f *fakeAccounts) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return f.ResetPasswordTx(ctx, nil, id, passwordHash)
}

func (f *fakeAccounts) ResetPasswordTx(_ context.Context, _ bun.IDB, id uuid.UUID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return repository.NewRecordNotFound()
	}
	a.PasswordHash = passwordHash
	return nil
}

func (f *fakeAccounts) HardDelete(ctx context.Context, id uuid.UUID) error {
	return f.HardDeleteTx(ctx, nil, id)
}

func (f *fakeAccounts) HardDeleteTx(_ context.Context, _ bun.IDB, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}

// fakeRepoManager serializes transactions with a mutex so concurrent callers
// observe each other's committed writes, mirroring serializable isolation.
type fakeRepoManager struct {
	mu       sync.Mutex
	accounts *fakeAccounts
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{accounts: newFakeAccounts()}
}

func (m *fakeRepoManager) Accounts() accounts.Accounts { return m.accounts }

func (m *fakeRepoManager) Validate() error { return nil }

func (m *fakeRepoManager) MustValidate() {}

func (m *fakeRepoManager) RunInTx(ctx context.Context, _ *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return f(ctx, bun.Tx{})
	}
}

// recordingMailer captures outgoing messages.
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

type sentMail struct {
	Template  accounts.MailTemplate
	Recipient string
	Data      map[string]any
}

func (m *recordingMailer) Send(_ context.Context, template accounts.MailTemplate, recipient string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{Template: template, Recipient: recipient, Data: data})
	return nil
}

func (m *recordingMailer) Count(template accounts.MailTemplate) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.Template == template {
			n++
		}
	}
	return n
}

// recordingSink captures activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event accounts.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Has(eventType accounts.ActivityEventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

// MockContext mocks the router.Context
type MockContext struct {
	mock.Mock
	NextCalled bool
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) SendString(s string) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockContext) Send(b []byte) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, val any) error {
	args := m.Called(code, val)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) Render(name string, bind any, layout ...string) error {
	if len(layout) > 0 {
		args := m.Called(name, bind, layout[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Redirect(path string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(path, status)
		return args.Error(0)
	}
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, data, status[0])
		return args.Error(0)
	}
	args := m.Called(name, data)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, val string) router.Context {
	m.Called(key, val)
	return m
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Get(key string, defaultValue any) any {
	args := m.Called(key, defaultValue)
	return args.Get(0)
}

func (m *MockContext) GetBool(key string, defaultValue bool) bool {
	args := m.Called(key, defaultValue)
	return args.Bool(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) Set(key string, val any) {
	m.Called(key, val)
}

func (m *MockContext) Bind(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindJSON(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindXML(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindQuery(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) CookieParser(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) FormFile(key string) (*multipart.FileHeader, error) {
	args := m.Called(key)
	if fh, ok := args.Get(0).(*multipart.FileHeader); ok {
		return fh, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) QueryValues(key string) []string {
	args := m.Called(key)
	if v, ok := args.Get(0).([]string); ok {
		return v
	}
	return nil
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) GetString(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		return nil
	}
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OnNext(callback func() error) {
	m.Called(callback)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) FormValue(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) IP() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) LocalsMerge(key any, value map[string]any) map[string]any {
	args := m.Called(key, value)
	if v, ok := args.Get(0).(map[string]any); ok {
		return v
	}
	return nil
}

func (m *MockContext) RouteName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) RouteParams() map[string]string {
	args := m.Called()
	if v, ok := args.Get(0).(map[string]string); ok {
		return v
	}
	return nil
}

func (m *MockContext) SendStatus(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) SendStream(r io.Reader) error {
	args := m.Called(r)
	return args.Error(0)
}
