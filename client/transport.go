package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	auth "github.com/goliatone/go-taskauth"
)

const DefaultTimeout = 10 * time.Second

// LoginResponse is the result of a successful login
type LoginResponse struct {
	User         auth.UserSnapshot `json:"user"`
	Token        string            `json:"token"`
	ExpiresIn    int64             `json:"expiresIn"`
	RefreshToken string            `json:"-"`
}

// RefreshResponse is the result of a successful refresh
type RefreshResponse struct {
	Token        string `json:"token"`
	ExpiresIn    int64  `json:"expiresIn"`
	RefreshToken string `json:"-"`
}

// Transport talks to the auth server
type Transport interface {
	Login(ctx context.Context, email, password string) (*LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error)
	Logout(ctx context.Context, refreshToken string) error
}

// HTTPTransport is a Transport over the server JSON API. The refresh
// credential travels in a cookie, as a browser would send it.
type HTTPTransport struct {
	baseURL    string
	client     *http.Client
	cookieName string
}

var _ Transport = (*HTTPTransport)(nil)

type TransportOption func(*HTTPTransport)

func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		if c != nil {
			t.client = c
		}
	}
}

func WithTimeout(timeout time.Duration) TransportOption {
	return func(t *HTTPTransport) {
		if timeout > 0 {
			t.client.Timeout = timeout
		}
	}
}

func WithRefreshCookieName(name string) TransportOption {
	return func(t *HTTPTransport) {
		if name != "" {
			t.cookieName = name
		}
	}
}

func NewHTTPTransport(baseURL string, opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: DefaultTimeout},
		cookieName: auth.DefaultRefreshCookieName,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Timeout returns the bound applied to every request
func (t *HTTPTransport) Timeout() time.Duration {
	return t.client.Timeout
}

func (t *HTTPTransport) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	body := map[string]string{"email": email, "password": password}

	out := &LoginResponse{}
	res, err := t.do(ctx, http.MethodPost, "/auth/login", body, "", out)
	if err != nil {
		return nil, err
	}

	out.RefreshToken = t.refreshCookie(res)
	return out, nil
}

func (t *HTTPTransport) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	out := &RefreshResponse{}
	res, err := t.do(ctx, http.MethodPost, "/auth/refresh", nil, refreshToken, out)
	if err != nil {
		return nil, err
	}

	out.RefreshToken = t.refreshCookie(res)
	return out, nil
}

func (t *HTTPTransport) Logout(ctx context.Context, refreshToken string) error {
	_, err := t.do(ctx, http.MethodPost, "/auth/logout", nil, refreshToken, nil)
	return err
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, payload any, refreshToken string, out any) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, NormalizeError(err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, NormalizeError(err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if refreshToken != "" {
		req.AddCookie(&http.Cookie{Name: t.cookieName, Value: refreshToken})
	}

	res, err := t.client.Do(req)
	if err != nil {
		return nil, &AuthError{Kind: KindNetworkError, Message: "request failed", Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, &AuthError{Kind: KindNetworkError, Message: "failed to read response", Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, errorFromResponse(res.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, &AuthError{Kind: KindUnknown, Status: res.StatusCode, Message: "invalid response body", Err: err}
		}
	}

	return res, nil
}

func (t *HTTPTransport) refreshCookie(res *http.Response) string {
	for _, c := range res.Cookies() {
		if c.Name == t.cookieName {
			return c.Value
		}
	}
	return ""
}
