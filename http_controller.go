package auth

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RegisterAuthRoutes mounts the auth endpoints on app
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)
	routes := controller.Routes
	protected := controller.HTTP.ProtectedRoute()
	limit := controller.limit()

	app.Post(routes.Login, controller.LoginPost, limit).SetName("auth.login")
	app.Post(routes.Register, controller.RegistrationCreate, limit).SetName("auth.register")
	app.Post(routes.RegisterWithOrg, controller.RegistrationWithOrganizationCreate, limit).SetName("auth.register-with-org")
	app.Post(routes.Refresh, controller.RefreshPost, limit).SetName("auth.refresh")
	app.Post(routes.Logout, controller.LogOut).SetName("auth.logout")
	app.Get(routes.Me, controller.Me, protected).SetName("auth.me")
	app.Get(routes.JWKS, controller.JWKS).SetName("auth.jwks")
	app.Get(routes.Users,
		protected(controller.HTTP.RequireCapability(CapabilityManageUsers)(controller.ListUsers)),
	).SetName("users.list")

	return controller
}

type AuthControllerRoutes struct {
	Login           string
	Register        string
	RegisterWithOrg string
	Refresh         string
	Logout          string
	Me              string
	JWKS            string
	Users           string
}

type AuthController struct {
	Debug   bool
	Logger  Logger
	Repo    RepositoryManager
	Routes  *AuthControllerRoutes
	Auther  *Auther
	HTTP    *RouteAuthenticator
	Limiter router.MiddlewareFunc
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Logger = resolveLogger(logger)
		return ac
	}
}

func WithControllerRepository(repo RepositoryManager) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Repo = repo
		return ac
	}
}

func WithControllerAuther(auther *Auther, http *RouteAuthenticator) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Auther = auther
		ac.HTTP = http
		return ac
	}
}

// WithControllerRateLimiter guards the credential endpoints with mw
func WithControllerRateLimiter(mw router.MiddlewareFunc) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Limiter = mw
		return ac
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Debug = debug
		return ac
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: &AuthControllerRoutes{
			Login:           "/auth/login",
			Register:        "/auth/register",
			RegisterWithOrg: "/auth/register-with-org",
			Refresh:         "/auth/refresh",
			Logout:          "/auth/logout",
			Me:              "/auth/me",
			JWKS:            "/auth/.well-known/jwks.json",
			Users:           "/users",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil || c.HTTP == nil {
		panic("Missing Authenticator in auth controller...")
	}

	return c
}

func (a *AuthController) limit() router.MiddlewareFunc {
	if a.Limiter != nil {
		return a.Limiter
	}
	return func(next router.HandlerFunc) router.HandlerFunc {
		return next
	}
}

// AuthResponse is returned by login and both registration endpoints
type AuthResponse struct {
	User         UserSnapshot  `json:"user"`
	Token        string        `json:"token"`
	ExpiresIn    int64         `json:"expiresIn"`
	Organization *Organization `json:"organization,omitempty"`
}

// RefreshResponse is returned by the refresh endpoint
type RefreshResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// MeResponse describes the caller
type MeResponse struct {
	User         UserSnapshot `json:"user"`
	Capabilities []Capability `json:"capabilities"`
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// RegistrationCreatePayload is the register payload
type RegistrationCreatePayload struct {
	Email          string `form:"email" json:"email"`
	Password       string `form:"password" json:"password"`
	Name           string `form:"name" json:"name"`
	OrganizationID string `form:"organizationId" json:"organizationId"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 72)),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.OrganizationID, is.UUID),
	)
}

// RegistrationWithOrganizationPayload creates an organization and its owner
type RegistrationWithOrganizationPayload struct {
	Email                   string `form:"email" json:"email"`
	Password                string `form:"password" json:"password"`
	Name                    string `form:"name" json:"name"`
	OrganizationName        string `form:"organizationName" json:"organizationName"`
	OrganizationDescription string `form:"organizationDescription" json:"organizationDescription"`
	ParentID                string `form:"parentId" json:"parentId"`
}

func (r RegistrationWithOrganizationPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 72)),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.OrganizationName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.OrganizationDescription, validation.Length(0, 1000)),
		validation.Field(&r.ParentID, is.UUID),
	)
}

func (a *AuthController) LoginPost(c router.Context) error {
	payload := new(LoginRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	res, err := a.Auther.Login(c.Context(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	a.HTTP.SetRefreshCookie(c, res.Tokens.RefreshToken)
	return c.JSON(router.StatusOK, newAuthResponse(res))
}

func (a *AuthController) RegistrationCreate(c router.Context) error {
	payload := new(RegistrationCreatePayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	msg := RegisterUserMessage{
		Email:    payload.Email,
		Password: payload.Password,
		Name:     payload.Name,
	}
	if payload.OrganizationID != "" {
		msg.OrganizationID = uuid.MustParse(payload.OrganizationID)
	}

	res, err := a.Auther.Register(c.Context(), msg)
	if err != nil {
		a.Logger.Error("register user", "error", err)
		return err
	}

	a.HTTP.SetRefreshCookie(c, res.Tokens.RefreshToken)
	return c.JSON(router.StatusCreated, newAuthResponse(res))
}

func (a *AuthController) RegistrationWithOrganizationCreate(c router.Context) error {
	payload := new(RegistrationWithOrganizationPayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	msg := RegisterOrganizationUserMessage{
		Email:                   payload.Email,
		Password:                payload.Password,
		Name:                    payload.Name,
		OrganizationName:        payload.OrganizationName,
		OrganizationDescription: payload.OrganizationDescription,
	}
	if payload.ParentID != "" {
		msg.ParentID = uuid.MustParse(payload.ParentID)
	}

	res, err := a.Auther.RegisterWithOrganization(c.Context(), msg)
	if err != nil {
		a.Logger.Error("register organization", "error", err)
		return err
	}

	a.HTTP.SetRefreshCookie(c, res.Tokens.RefreshToken)
	return c.JSON(router.StatusCreated, newAuthResponse(res))
}

func (a *AuthController) RefreshPost(c router.Context) error {
	presented := a.HTTP.RefreshTokenFromRequest(c)
	if presented == "" {
		return ErrInvalidRefreshToken
	}

	res, err := a.Auther.Refresh(c.Context(), presented)
	if err != nil {
		a.HTTP.ClearRefreshCookie(c)
		return err
	}

	a.HTTP.SetRefreshCookie(c, res.Tokens.RefreshToken)
	return c.JSON(router.StatusOK, RefreshResponse{
		Token:     res.Tokens.AccessToken,
		ExpiresIn: res.Tokens.ExpiresIn,
	})
}

func (a *AuthController) LogOut(c router.Context) error {
	err := a.Auther.Logout(c.Context(), a.HTTP.RefreshTokenFromRequest(c))
	a.HTTP.ClearRefreshCookie(c)
	if err != nil {
		return err
	}
	return c.JSON(router.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (a *AuthController) Me(c router.Context) error {
	claims, ok := GetRouterClaims(c, a.HTTP.cfg.GetContextKey())
	if !ok {
		return ErrUnauthorized
	}

	identity, err := a.Auther.provider.FindIdentityByID(c.Context(), claims.UserID())
	if err != nil {
		if HasTextCode(err, TextCodeIdentityNotFound) {
			return ErrUnauthorized
		}
		return err
	}

	return c.JSON(router.StatusOK, MeResponse{
		User:         NewUserSnapshot(identity),
		Capabilities: CapabilitiesOf(UserRole(identity.Role())),
	})
}

func (a *AuthController) JWKS(c router.Context) error {
	publisher, ok := a.Auther.TokenService().(interface {
		JWKS() (JSONWebKeySet, bool)
	})
	if !ok {
		return ErrNotFound
	}

	set, ok := publisher.JWKS()
	if !ok {
		return ErrNotFound
	}

	c.SetHeader("Cache-Control", "public, max-age=300")
	return c.JSON(router.StatusOK, set)
}

// ListUsers returns the users in the caller organization
func (a *AuthController) ListUsers(c router.Context) error {
	claims, ok := GetRouterClaims(c, a.HTTP.cfg.GetContextKey())
	if !ok {
		return ErrUnauthorized
	}

	out := make([]UserSnapshot, 0)
	orgID, err := uuid.Parse(claims.OrganizationID())
	if err != nil {
		return c.JSON(router.StatusOK, map[string][]UserSnapshot{"users": out})
	}

	records, err := a.Repo.Users().ListByOrganization(c.Context(), orgID)
	if err != nil {
		return err
	}

	for _, record := range records {
		out = append(out, NewUserSnapshot(newAuthIdentity(record)))
	}

	return c.JSON(router.StatusOK, map[string][]UserSnapshot{"users": out})
}

type validatable interface {
	Validate() error
}

func (a *AuthController) bind(c router.Context, payload validatable) error {
	if err := c.Bind(payload); err != nil {
		a.Logger.Info("parse payload", "path", c.Path(), "error", err)
		return NewValidationError("Invalid request body", nil)
	}

	if err := payload.Validate(); err != nil {
		fields := FormatValidationErrorToMap(err)
		if a.Debug {
			a.Logger.Debug("validate payload", "path", c.Path(), "errors", print.MaybePrettyJSON(fields))
		}
		return NewValidationError("Validation failed", fields)
	}

	return nil
}

func newAuthResponse(res *AuthResult) AuthResponse {
	return AuthResponse{
		User:         res.User,
		Token:        res.Tokens.AccessToken,
		ExpiresIn:    res.Tokens.ExpiresIn,
		Organization: res.Organization,
	}
}

// FormatValidationErrorToMap flattens ozzo validation errors to field messages
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		out["_"] = err.Error()
		return out
	}

	for field, ferr := range verrs {
		if ferr != nil {
			out[field] = ferr.Error()
		}
	}
	return out
}
