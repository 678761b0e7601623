package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/goliatone/go-taskauth"
)

const (
	testSigningKey    = "0123456789abcdef0123456789abcdef"
	testRefreshSecret = "fedcba9876543210fedcba9876543210"
	testPassword      = "secret1"
)

type testConfig struct {
	signingMethod string
	privateKeyPEM string
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func (c testConfig) GetSigningKey() string { return testSigningKey }
func (c testConfig) GetSigningMethod() string {
	if c.signingMethod == "" {
		return "HS256"
	}
	return c.signingMethod
}
func (c testConfig) GetPrivateKeyPEM() string      { return c.privateKeyPEM }
func (c testConfig) GetRefreshTokenSecret() string { return testRefreshSecret }
func (c testConfig) GetAccessTokenTTL() time.Duration {
	if c.accessTTL == 0 {
		return time.Hour
	}
	return c.accessTTL
}
func (c testConfig) GetRefreshTokenTTL() time.Duration {
	if c.refreshTTL == 0 {
		return auth.DefaultRefreshTokenTTL
	}
	return c.refreshTTL
}
func (c testConfig) GetIssuer() string            { return "taskauth-test" }
func (c testConfig) GetAudience() []string        { return []string{"taskauth"} }
func (c testConfig) GetContextKey() string        { return "user" }
func (c testConfig) GetTokenLookup() string       { return "header:Authorization" }
func (c testConfig) GetAuthScheme() string        { return "Bearer" }
func (c testConfig) GetRefreshCookieName() string { return "refreshToken" }
func (c testConfig) GetCookieSecure() bool        { return true }

func quietLogger() auth.Logger {
	return auth.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := "file:" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "_" + uuid.NewString() + "?mode=memory&cache=shared"
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, auth.CreateSchema(context.Background(), db))
	return db
}

type eventRecorder struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *eventRecorder) Record(_ context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types() []auth.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type testStack struct {
	db     *bun.DB
	repo   auth.RepositoryManager
	auther *auth.Auther
	http   *auth.RouteAuthenticator
	server router.Server[*fiber.App]
	events *eventRecorder

	initOnce sync.Once
	app      *fiber.App
}

func newTestStack(t *testing.T, cfgs ...testConfig) *testStack {
	t.Helper()

	cfg := testConfig{}
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}

	db := newTestDB(t)
	repo := auth.NewRepositoryManager(db)
	require.NoError(t, repo.Validate())

	logger := quietLogger()
	auther, err := auth.NewAutherFromConfig(cfg, repo, logger)
	require.NoError(t, err)

	events := &eventRecorder{}
	auther.WithActivitySink(events)

	httpAuth := auth.NewHTTPAuthenticator(auther, cfg).WithLogger(logger)

	server := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		return fiber.New(fiber.Config{ErrorHandler: httpAuth.ErrorHandler})
	})
	auth.RegisterAuthRoutes(server.Router(),
		auth.WithControllerLogger(logger),
		auth.WithControllerRepository(repo),
		auth.WithControllerAuther(auther, httpAuth),
	)

	return &testStack{
		db:     db,
		repo:   repo,
		auther: auther,
		http:   httpAuth,
		server: server,
		events: events,
	}
}

func (s *testStack) seedOrganization(t *testing.T, name string) *auth.Organization {
	t.Helper()
	org, err := s.repo.Organizations().CreateOrganizationTx(context.Background(), s.db, &auth.Organization{Name: name})
	require.NoError(t, err)
	return org
}

func (s *testStack) seedUser(t *testing.T, email string, role auth.UserRole, orgID uuid.UUID, active bool) *auth.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	user, err := s.repo.Users().Register(context.Background(), &auth.User{
		Email:          email,
		PasswordHash:   string(hash),
		Name:           "Test User",
		Role:           role,
		OrganizationID: orgID,
		IsActive:       true,
	})
	require.NoError(t, err)

	if !active {
		require.NoError(t, s.repo.Users().SetActive(context.Background(), user.ID, false))
		user.IsActive = false
	}
	return user
}

func (s *testStack) do(t *testing.T, method, path, body string, opts ...func(*http.Request)) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for _, opt := range opts {
		opt(req)
	}

	res, err := s.handler().Test(req, -1)
	require.NoError(t, err)
	return res
}

// handler initializes the adapter on first use, extra routes must be
// registered on s.server before the first request.
func (s *testStack) handler() *fiber.App {
	s.initOnce.Do(func() {
		s.server.Init()
		s.app = s.server.WrappedRouter()
	})
	return s.app
}

func (s *testStack) login(t *testing.T, email string) (auth.AuthResponse, *http.Cookie) {
	t.Helper()

	res := s.do(t, http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	out := decode[auth.AuthResponse](t, res)
	cookie := findCookie(res, "refreshToken")
	require.NotNil(t, cookie)
	return out, cookie
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		if c != nil {
			r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
}

func findCookie(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func newRSAKeyPEM(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	raw := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, string(raw)
}

type staticIdentity struct {
	id     string
	email  string
	name   string
	role   string
	orgID  string
	active bool
}

func (i staticIdentity) ID() string             { return i.id }
func (i staticIdentity) Username() string       { return i.email }
func (i staticIdentity) Email() string          { return i.email }
func (i staticIdentity) Name() string           { return i.name }
func (i staticIdentity) Role() string           { return i.role }
func (i staticIdentity) OrganizationID() string { return i.orgID }
func (i staticIdentity) IsActive() bool         { return i.active }
