package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"

	"github.com/goliatone/go-taskauth/middleware/jwtware"
)

const DefaultRefreshCookieName = "refreshToken"

// RouteAuthenticator holds the HTTP glue: refresh cookie handling,
// bearer protection and error rendering.
type RouteAuthenticator struct {
	auth       *Auther
	cfg        Config
	cookieName string
	cookieTTL  time.Duration
	Logger     Logger
}

func NewHTTPAuthenticator(auther *Auther, cfg Config) *RouteAuthenticator {
	cookieName := cfg.GetRefreshCookieName()
	if cookieName == "" {
		cookieName = DefaultRefreshCookieName
	}

	cookieTTL := DefaultRefreshTokenTTL
	if auther != nil && auther.Issuer() != nil {
		cookieTTL = auther.Issuer().RefreshTTL()
	}

	return &RouteAuthenticator{
		auth:       auther,
		cfg:        cfg,
		cookieName: cookieName,
		cookieTTL:  cookieTTL,
		Logger:     defLogger{},
	}
}

func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	a.Logger = resolveLogger(logger)
	return a
}

// CookieName returns the name of the refresh credential cookie
func (a *RouteAuthenticator) CookieName() string {
	return a.cookieName
}

// RefreshTokenFromRequest reads the refresh credential cookie
func (a *RouteAuthenticator) RefreshTokenFromRequest(c router.Context) string {
	return c.Cookies(a.cookieName)
}

// SetRefreshCookie writes the refresh credential as an http only cookie
func (a *RouteAuthenticator) SetRefreshCookie(c router.Context, token string) {
	c.Cookie(&router.Cookie{
		Name:     a.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.cookieTTL / time.Second),
		Expires:  time.Now().Add(a.cookieTTL),
		HTTPOnly: true,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: "Strict",
	})
}

// ClearRefreshCookie expires the refresh credential cookie
func (a *RouteAuthenticator) ClearRefreshCookie(c router.Context) {
	c.Cookie(&router.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: "Strict",
	})
}

// ProtectedRoute returns a bearer token middleware. Extra jwtware options,
// like a required capability, can be set through mutate.
func (a *RouteAuthenticator) ProtectedRoute(mutate ...func(*jwtware.Config)) router.MiddlewareFunc {
	validator := a.auth.Validator()
	cfg := jwtware.Config{
		TokenValidator: jwtware.TokenValidatorFunc(func(raw string) (jwtware.AuthClaims, error) {
			claims, err := validator.Validate(raw)
			if err != nil {
				return nil, err
			}
			return claims, nil
		}),
		ErrorHandler:    a.authErrorHandler,
		ContextKey:      a.cfg.GetContextKey(),
		TokenLookup:     a.cfg.GetTokenLookup(),
		AuthScheme:      a.cfg.GetAuthScheme(),
		ContextEnricher: ContextEnricherAdapter,
	}
	for _, fn := range mutate {
		if fn != nil {
			fn(&cfg)
		}
	}
	return jwtware.New(cfg)
}

// RequireCapability must wrap a handler already guarded by ProtectedRoute
func (a *RouteAuthenticator) RequireCapability(capability Capability) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			claims, ok := GetRouterClaims(c, a.cfg.GetContextKey())
			if !ok {
				return ErrUnauthorized
			}
			if !claims.Can(string(capability)) {
				a.Logger.Info("capability check failed",
					"user_id", claims.UserID(),
					"role", claims.Role(),
					"capability", string(capability),
				)
				return ErrForbidden
			}
			return next(c)
		}
	}
}

func (a *RouteAuthenticator) authErrorHandler(c router.Context, err error) error {
	switch {
	case errors.Is(err, jwtware.ErrJWTMissingOrMalformed):
		return ErrUnauthorized
	case errors.Is(err, jwtware.ErrAccessDenied):
		return ErrForbidden
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && (richErr.Category == goerrors.CategoryAuth || richErr.Category == goerrors.CategoryAuthz) {
		return richErr
	}

	a.Logger.Debug("bearer token rejected", "error", err)
	return ErrUnauthorized
}

// ErrorHandler renders any error as an ErrorResponse. Use it as the
// fiber.Config ErrorHandler of the app behind the router adapter, handler
// errors bubble up to it.
func (a *RouteAuthenticator) ErrorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		err = fromFiberError(fiberErr)
	}

	status, res := ToErrorResponse(err)

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		a.Logger.Info(
			"request failed",
			"path", c.Path(),
			"status", status,
			"error", richErr.Message,
			"category", richErr.Category,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	} else {
		a.Logger.Error("request failed", "path", c.Path(), "status", status, "error", err)
	}

	return c.Status(status).JSON(res)
}

func fromFiberError(err *fiber.Error) error {
	switch err.Code {
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return goerrors.New(err.Message, goerrors.CategoryNotFound).
			WithTextCode(TextCodeNotFound).
			WithCode(goerrors.CodeNotFound)
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity, fiber.StatusRequestEntityTooLarge:
		return goerrors.New(err.Message, goerrors.CategoryBadInput).
			WithTextCode(TextCodeValidation).
			WithCode(goerrors.CodeBadRequest)
	case fiber.StatusUnauthorized:
		return ErrUnauthorized
	case fiber.StatusForbidden:
		return ErrForbidden
	case fiber.StatusTooManyRequests:
		return ErrRateLimited
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, err.Message)
}

// ContextEnricherAdapter adapts jwtware.AuthClaims to auth.AuthClaims and stores
// claims and actor in the standard context for downstream use.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return c
	}

	ctxWithClaims := WithClaimsContext(c, authClaims)

	if actor := ActorContextFromClaims(authClaims); actor != nil {
		return WithActorContext(ctxWithClaims, actor)
	}

	return ctxWithClaims
}
