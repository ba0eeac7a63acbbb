package accounts

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// RegisterAuthRoutes mounts the account endpoints on the given router. The
// admin-only routes must additionally be guarded by
// RequestAuthenticator.RequireRole at mount time.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {

	controller := NewAuthController(opts...)

	app.Post(controller.Routes.Login, controller.Login).
		SetName("auth.login")
	app.Post(controller.Routes.Logout, controller.Logout).
		SetName("auth.logout")
	app.Get(controller.Routes.Me, controller.Me).
		SetName("auth.me")
	app.Post(controller.Routes.ChangePassword, controller.ChangePassword).
		SetName("auth.change-password")

	app.Post(controller.Routes.Register, controller.Register).
		SetName("auth.register")
	app.Post(controller.Routes.Provision, controller.Provision).
		SetName("auth.provision")

	app.Post(fmt.Sprintf("%s/:id", controller.Routes.Approve), controller.Approve).
		SetName("auth.approve")
	app.Post(fmt.Sprintf("%s/:id", controller.Routes.Reject), controller.Reject).
		SetName("auth.reject")

	app.Post(controller.Routes.Activate, controller.Activate).
		SetName("auth.activate")
	app.Post(controller.Routes.ResendActivation, controller.ResendActivation).
		SetName("auth.resend-activation")
	app.Get(fmt.Sprintf("%s/:token", controller.Routes.ValidateActivation), controller.ValidateActivationToken).
		SetName("auth.validate-activation")
}

type AuthControllerRoutes struct {
	Login              string
	Logout             string
	Me                 string
	ChangePassword     string
	Register           string
	Provision          string
	Approve            string
	Reject             string
	Activate           string
	ResendActivation   string
	ValidateActivation string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Gateway      *AuthenticationGateway
	Lifecycle    *AccountLifecycle
	Routes       *AuthControllerRoutes
	ContextKey   string
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerGateway(g *AuthenticationGateway) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Gateway = g
		return c
	}
}

func WithControllerLifecycle(l *AccountLifecycle) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Lifecycle = l
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		ErrorHandler: respondWithError,
		ContextKey:   "user",
		Routes: &AuthControllerRoutes{
			Login:              "/auth/login",
			Logout:             "/auth/logout",
			Me:                 "/auth/me",
			ChangePassword:     "/auth/change-password",
			Register:           "/auth/register",
			Provision:          "/auth/provision",
			Approve:            "/auth/approve-registration",
			Reject:             "/auth/reject-registration",
			Activate:           "/auth/activate",
			ResendActivation:   "/auth/resend-activation",
			ValidateActivation: "/auth/validate-activation-token",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Gateway == nil {
		panic("Missing AuthenticationGateway in auth controller...")
	}

	if c.Lifecycle == nil {
		panic("Missing AccountLifecycle in auth controller...")
	}

	return c
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.badPayload(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= AUTH LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=========================")
	}

	result, err := a.Gateway.Login(ctx.Context(), payload.Identifier, payload.Password)
	if err != nil {
		a.Logger.Error("login error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"access_token": result.AccessToken,
		"account":      result.Account,
	})
}

func (a *AuthController) Logout(ctx router.Context) error {
	raw := ctx.GetString(router.HeaderAuthorization, "")
	if token, ok := stripAuthScheme(raw); ok {
		a.Gateway.Logout(ctx.Context(), token)
	}

	return ctx.NoContent(router.StatusNoContent)
}

// Me returns the authenticated holder's own account.
func (a *AuthController) Me(ctx router.Context) error {
	id, err := a.holderID(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	account, err := a.Lifecycle.GetAccount(ctx.Context(), id)
	if err != nil {
		a.Logger.Error("me error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"account": account,
		"state":   account.State(),
	})
}

// ChangePasswordPayload is the authenticated self-service password change.
type ChangePasswordPayload struct {
	CurrentPassword string `form:"current_password" json:"current_password"`
	NewPassword     string `form:"new_password" json:"new_password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r ChangePasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.NewPassword)),
		),
	)
}

func (a *AuthController) ChangePassword(ctx router.Context) error {
	id, err := a.holderID(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(ChangePasswordPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.badPayload(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(ctx, err)
	}

	if err := a.Lifecycle.ChangePassword(ctx.Context(), id, payload.CurrentPassword, payload.NewPassword, payload.ConfirmPassword); err != nil {
		a.Logger.Error("change password error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.NoContent(router.StatusNoContent)
}

// holderID resolves the authenticated account id from the claims placed in
// the router locals by the middleware.
func (a *AuthController) holderID(ctx router.Context) (uuid.UUID, error) {
	claims, ok := GetRouterClaims(ctx, a.ContextKey)
	if !ok {
		return uuid.Nil, ErrTokenInvalid
	}

	id, err := uuid.Parse(claims.AccountID())
	if err != nil {
		return uuid.Nil, ErrTokenInvalid
	}

	return id, nil
}

// RegistrationCreatePayload is the self registration payload
type RegistrationCreatePayload struct {
	FirstName       string `form:"first_name" json:"first_name"`
	LastName        string `form:"last_name" json:"last_name"`
	Email           string `form:"email" json:"email"`
	Phone           string `form:"phone_number" json:"phone_number"`
	NationalID      string `form:"national_id" json:"national_id"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.By(ValidatePhoneNumber)),
		validation.Field(&r.NationalID, validation.Length(0, 30)),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) Register(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		return a.badPayload(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(ctx, err)
	}

	account, err := a.Lifecycle.Register(ctx.Context(), RegisterInput{
		FirstName:  payload.FirstName,
		LastName:   payload.LastName,
		Email:      payload.Email,
		Phone:      payload.Phone,
		NationalID: payload.NationalID,
		Password:   payload.Password,
	})
	if err != nil {
		a.Logger.Error("register error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusCreated, router.ViewContext{
		"account": account,
		"state":   account.State(),
	})
}

// ProvisionPayload is the admin provisioning payload
type ProvisionPayload struct {
	FirstName  string   `form:"first_name" json:"first_name"`
	LastName   string   `form:"last_name" json:"last_name"`
	Email      string   `form:"email" json:"email"`
	Phone      string   `form:"phone_number" json:"phone_number"`
	NationalID string   `form:"national_id" json:"national_id"`
	Roles      []string `form:"roles" json:"roles"`
}

// Validate will validate the payload
func (r ProvisionPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.By(ValidatePhoneNumber)),
		validation.Field(&r.NationalID, validation.Length(0, 30)),
	)
}

func (a *AuthController) Provision(ctx router.Context) error {
	payload := new(ProvisionPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.badPayload(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= AUTH PROVISION ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=============================")
	}

	account, tempPassword, err := a.Lifecycle.Provision(ctx.Context(), a.actor(ctx), ProvisionInput{
		FirstName:  payload.FirstName,
		LastName:   payload.LastName,
		Email:      payload.Email,
		Phone:      payload.Phone,
		NationalID: payload.NationalID,
		Roles:      payload.Roles,
	})
	if err != nil {
		a.Logger.Error("provision error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusCreated, router.ViewContext{
		"account":            account,
		"temporary_password": tempPassword,
	})
}

func (a *AuthController) Approve(ctx router.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return a.ErrorHandler(ctx, goerrors.New("invalid account id", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest))
	}

	account, err := a.Lifecycle.Approve(ctx.Context(), a.actor(ctx), id)
	if err != nil {
		a.Logger.Error("approve error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"account": account,
		"state":   account.State(),
	})
}

func (a *AuthController) Reject(ctx router.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return a.ErrorHandler(ctx, goerrors.New("invalid account id", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest))
	}

	if err := a.Lifecycle.Reject(ctx.Context(), a.actor(ctx), id); err != nil {
		a.Logger.Error("reject error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.NoContent(router.StatusNoContent)
}

// ActivationPayload carries the activation token, an optional username, and
// the chosen password.
type ActivationPayload struct {
	Token           string `form:"token" json:"token"`
	Username        string `form:"username" json:"username"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r ActivationPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Username, validation.Length(3, 100)),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) Activate(ctx router.Context) error {
	payload := new(ActivationPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.badPayload(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(ctx, err)
	}

	result, err := a.Lifecycle.Activate(ctx.Context(), ActivationRequest{
		Token:           payload.Token,
		Username:        payload.Username,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
	})
	if err != nil {
		a.Logger.Error("activate error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"access_token": result.AccessToken,
		"account":      result.Account,
	})
}

// ResendActivationPayload identifies the account waiting for activation.
type ResendActivationPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r ResendActivationPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) ResendActivation(ctx router.Context) error {
	payload := new(ResendActivationPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.badPayload(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(ctx, err)
	}

	if err := a.Lifecycle.ResendActivation(ctx.Context(), payload.Email); err != nil {
		a.Logger.Error("resend activation error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.NoContent(router.StatusAccepted)
}

func (a *AuthController) ValidateActivationToken(ctx router.Context) error {
	token := ctx.Param("token")

	if err := a.Lifecycle.ValidateActivationToken(ctx.Context(), token); err != nil {
		a.Logger.Error("validate activation token error: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"valid": true,
	})
}

func (a *AuthController) actor(ctx router.Context) ActorRef {
	claims, ok := GetRouterClaims(ctx, a.ContextKey)
	if !ok {
		return SystemActor
	}

	return ActorRef{
		ID:    claims.AccountID(),
		Email: claims.Email,
		Kind:  "account",
	}
}

func (a *AuthController) badPayload(ctx router.Context, err error) error {
	a.Logger.Error("failed to parse payload: ", "error", err)
	return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse payload").
		WithCode(goerrors.CodeBadRequest))
}

func (a *AuthController) invalidPayload(ctx router.Context, err error) error {
	a.Logger.Error("failed to validate payload: ", "error", err)
	return ctx.JSON(router.StatusBadRequest, router.ViewContext{
		"error":      "validation failed",
		"validation": FormatValidationErrorToMap(err),
	})
}

// ValidateStringEquals builds an ozzo rule asserting equality with another
// field, used for password confirmation.
func ValidateStringEquals(expected string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != expected {
			return fmt.Errorf("value does not match")
		}
		return nil
	}
}

// ValidatePhoneNumber is an ozzo rule that accepts empty values and otherwise
// requires a parseable phone number, either E.164 or a recognizable national
// format.
func ValidatePhoneNumber(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}

	num, err := phonenumbers.Parse(s, "ZZ")
	if err != nil {
		return fmt.Errorf("invalid phone number")
	}

	if !phonenumbers.IsValidNumber(num) {
		return fmt.Errorf("invalid phone number")
	}

	return nil
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field-to-message map for JSON responses.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}

	var verrs validation.Errors
	if goerrors.As(err, &verrs) {
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}

	if err != nil {
		out["error"] = err.Error()
	}
	return out
}

// stripAuthScheme extracts the token from a Bearer authorization header. A
// header without the scheme is rejected, never truncated into a bogus token.
func stripAuthScheme(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// respondWithError maps rich errors to HTTP status codes and a stable JSON
// error shape.
func respondWithError(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "internal error").
			WithCode(goerrors.CodeInternal)
	}

	status := richErr.Code
	if status == 0 {
		status = categoryStatus(richErr.Category)
	}

	return ctx.JSON(status, router.ViewContext{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}

func categoryStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryAuth:
		return router.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return router.StatusForbidden
	case goerrors.CategoryNotFound:
		return router.StatusNotFound
	case goerrors.CategoryConflict:
		return router.StatusConflict
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return router.StatusBadRequest
	case goerrors.CategoryRateLimit:
		return router.StatusTooManyRequests
	default:
		return router.StatusInternalServerError
	}
}
