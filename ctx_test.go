package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-taskauth"
)

func viewerClaims(t *testing.T) auth.AuthClaims {
	t.Helper()
	identity := testOwner()
	identity.role = string(auth.RoleViewer)
	return auth.NewJWTClaims(identity, "taskauth-test", []string{"taskauth"}, time.Now(), time.Hour)
}

func TestClaimsContext(t *testing.T) {
	ctx := context.Background()

	_, ok := auth.GetClaims(ctx)
	assert.False(t, ok)
	assert.False(t, auth.CanFromContext(ctx, auth.CapabilityViewTasks))

	claims := viewerClaims(t)
	ctx = auth.WithClaimsContext(ctx, claims)

	got, ok := auth.GetClaims(ctx)
	require.True(t, ok)
	assert.Equal(t, claims.UserID(), got.UserID())
	assert.True(t, auth.CanFromContext(ctx, auth.CapabilityManageTasks))
	assert.False(t, auth.CanFromContext(ctx, auth.CapabilityManageUsers))
}

func TestActorContext(t *testing.T) {
	assert.Nil(t, auth.ActorContextFromClaims(nil))

	claims := viewerClaims(t)
	actor := auth.ActorContextFromClaims(claims)
	require.NotNil(t, actor)
	assert.Equal(t, claims.UserID(), actor.ID)
	assert.Equal(t, "user", actor.Type)

	ctx := auth.WithActorContext(context.Background(), actor)
	got, ok := auth.ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, actor.ID, got.ID)

	_, ok = auth.ActorFromContext(context.Background())
	assert.False(t, ok)
}

func TestRouterClaims(t *testing.T) {
	claims := viewerClaims(t)

	srv := router.NewFiberAdapter()
	srv.Router().Get("/with", func(c router.Context) error {
		c.Locals("user", claims)
		got, ok := auth.GetRouterClaims(c, "")
		if !ok || got.UserID() != claims.UserID() {
			return c.Status(http.StatusTeapot).SendString("claims")
		}
		if !auth.CanFromRouter(c, "user", auth.CapabilityViewTasks) {
			return c.Status(http.StatusForbidden).SendString("view")
		}
		if auth.CanFromRouter(c, "user", auth.CapabilityManageUsers) {
			return c.Status(http.StatusConflict).SendString("manage")
		}
		return c.Status(http.StatusNoContent).SendString("")
	})
	srv.Router().Get("/without", func(c router.Context) error {
		if _, ok := auth.GetRouterClaims(c, "user"); ok {
			return c.Status(http.StatusTeapot).SendString("claims")
		}
		if auth.CanFromRouter(c, "user", auth.CapabilityViewTasks) {
			return c.Status(http.StatusConflict).SendString("view")
		}
		return c.Status(http.StatusNoContent).SendString("")
	})
	srv.Init()
	app := srv.WrappedRouter()

	for _, path := range []string{"/with", "/without"} {
		res, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, res.StatusCode, path)
	}
}

func TestContextEnricherAdapter(t *testing.T) {
	stack := newTestStack(t)
	stack.seedUser(t, "viewer@acme.io", auth.RoleViewer, uuid.Nil, true)

	var seen auth.AuthClaims
	var actor *auth.ActorRef
	stack.server.Router().Get("/whoami", func(c router.Context) error {
		seen, _ = auth.GetClaims(c.Context())
		actor, _ = auth.ActorFromContext(c.Context())
		return c.Status(http.StatusNoContent).SendString("")
	}, stack.http.ProtectedRoute())

	out, _ := stack.login(t, "viewer@acme.io")

	res := stack.do(t, http.MethodGet, "/whoami", "", withBearer(out.Token))
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.NotNil(t, seen)
	assert.Equal(t, out.User.ID, seen.UserID())
	require.NotNil(t, actor)
	assert.Equal(t, out.User.ID, actor.ID)
}

func TestRequireCapability(t *testing.T) {
	stack := newTestStack(t)
	stack.seedUser(t, "viewer@acme.io", auth.RoleViewer, uuid.Nil, true)

	guarded := stack.http.ProtectedRoute()(
		stack.http.RequireCapability(auth.CapabilityManageTasks)(func(c router.Context) error {
			return c.SendString("ok")
		}),
	)
	stack.server.Router().Get("/tasks-admin", guarded)
	stack.server.Router().Get("/users-admin", stack.http.ProtectedRoute()(
		stack.http.RequireCapability(auth.CapabilityManageUsers)(func(c router.Context) error {
			return c.SendString("ok")
		}),
	))

	out, _ := stack.login(t, "viewer@acme.io")

	res := stack.do(t, http.MethodGet, "/tasks-admin", "", withBearer(out.Token))
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = stack.do(t, http.MethodGet, "/users-admin", "", withBearer(out.Token))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, auth.TextCodeForbidden, decode[auth.ErrorResponse](t, res).Code)
}
