package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-taskauth/client"
)

func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		if body["password"] != "secret1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"INVALID_CREDENTIALS","message":"Invalid credentials"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "refreshToken", Value: "rt-1", HttpOnly: true, Path: "/"})
		_, _ = w.Write([]byte(`{"user":{"id":"u1","email":"a@b.co","role":"owner"},"token":"tok-1","expiresIn":3600}`))
	})

	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("refreshToken")
		if err != nil || cookie.Value != "rt-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"INVALID_REFRESH_TOKEN","message":"Invalid or expired refresh token"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "refreshToken", Value: "rt-2", HttpOnly: true, Path: "/"})
		_, _ = w.Write([]byte(`{"token":"tok-2","expiresIn":3600}`))
	})

	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Logged out successfully"}`))
	})

	mux.HandleFunc("/slow/auth/login", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	mux.HandleFunc("/conflict/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPTransport_LoginRefreshLogout(t *testing.T) {
	srv := newAuthServer(t)
	transport := client.NewHTTPTransport(srv.URL + "/")
	ctx := context.Background()

	res, err := transport.Login(ctx, "a@b.co", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "u1", res.User.ID)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.Equal(t, "rt-1", res.RefreshToken)

	refreshed, err := transport.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", refreshed.Token)
	assert.Equal(t, "rt-2", refreshed.RefreshToken)

	require.NoError(t, transport.Logout(ctx, refreshed.RefreshToken))
}

func TestHTTPTransport_ErrorMapping(t *testing.T) {
	srv := newAuthServer(t)
	ctx := context.Background()

	_, err := client.NewHTTPTransport(srv.URL).Login(ctx, "a@b.co", "wrong")
	require.Error(t, err)
	var authErr *client.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, client.KindUnauthorized, authErr.Kind)
	assert.Equal(t, "INVALID_CREDENTIALS", authErr.Code)
	assert.Equal(t, "Invalid credentials", authErr.Message)

	_, err = client.NewHTTPTransport(srv.URL).Refresh(ctx, "stale")
	assert.True(t, client.IsKind(err, client.KindUnauthorized))

	_, err = client.NewHTTPTransport(srv.URL + "/conflict").Login(ctx, "a@b.co", "secret1")
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, client.KindConflict, authErr.Kind)
	assert.Equal(t, "Conflict", authErr.Message, "status text when the body is empty")
}

func TestHTTPTransport_Timeout(t *testing.T) {
	srv := newAuthServer(t)
	transport := client.NewHTTPTransport(srv.URL+"/slow", client.WithTimeout(20*time.Millisecond))
	assert.Equal(t, 20*time.Millisecond, transport.Timeout())

	_, err := transport.Login(context.Background(), "a@b.co", "secret1")
	assert.True(t, client.IsKind(err, client.KindNetworkError))
}

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, client.KindUnauthorized, client.KindForStatus(401))
	assert.Equal(t, client.KindForbidden, client.KindForStatus(403))
	assert.Equal(t, client.KindConflict, client.KindForStatus(409))
	assert.Equal(t, client.KindValidationError, client.KindForStatus(400))
	assert.Equal(t, client.KindUnknown, client.KindForStatus(500))
}
