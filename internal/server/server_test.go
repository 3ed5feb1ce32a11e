package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/map-markers/internal/auth"
	"github.com/sakif/map-markers/internal/config"
	"github.com/sakif/map-markers/internal/model"
)

// ============================================================================
// Test helpers
// ============================================================================

func fakeNominatim(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			_, _ = io.WriteString(w, `[
				{"display_name":"B","lat":"1","lon":"1","importance":0.1},
				{"display_name":"A","lat":"2","lon":"2","importance":0.9}
			]`)
		case "/reverse":
			_, _ = io.WriteString(w, `{"display_name":"Somewhere","lat":"1","lon":"2","category":"amenity","type":"cafe",
				"address":{"amenity":"Corner Cafe","city":"Moscow"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	cfg.Auth.JWTSecret = "server-test-secret-0123456789"
	cfg.Auth.BcryptCost = 4
	cfg.Auth.AdminUsername = "admin"
	cfg.Auth.AdminPassword = "qwerty"
	cfg.Geocoding.BaseURL = fakeNominatim(t).URL
	cfg.Geocoding.RequestsPerSecond = 1000
	cfg.Geocoding.Burst = 100
	return cfg
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newTestServer(t *testing.T, cfg *config.Config) *client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, base: ts.URL, http: &http.Client{Jar: jar}}
}

func (c *client) do(method, path, body string) (int, []byte) {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, out
}

func (c *client) login() {
	c.t.Helper()
	status, body := c.do(http.MethodPost, "/api/auth/login", `{"username":"admin","password":"qwerty"}`)
	require.Equal(c.t, http.StatusOK, status, string(body))
}

// ============================================================================
// End-to-end flows
// ============================================================================

func TestServer_Health(t *testing.T) {
	c := newTestServer(t, testConfig(t))

	status, body := c.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestServer_MarkersRequireSession(t *testing.T) {
	c := newTestServer(t, testConfig(t))

	status, body := c.do(http.MethodGet, "/api/markers", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, string(body), "unauthorized")

	status, _ = c.do(http.MethodGet, "/api/geocode?q=moscow", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestServer_TokenForUnknownAccount(t *testing.T) {
	cfg := testConfig(t)
	c := newTestServer(t, cfg)

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, 0)
	require.NoError(t, err)
	token, err := tokens.Generate("no-such-user")
	require.NoError(t, err)

	base, err := url.Parse(c.base)
	require.NoError(t, err)
	c.http.Jar.SetCookies(base, []*http.Cookie{{Name: auth.CookieName, Value: token, Path: "/"}})

	status, body := c.do(http.MethodGet, "/api/markers", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, string(body), "unauthorized")

	status, _ = c.do(http.MethodPost, "/api/markers", `{"title":"x","latitude":1,"longitude":2}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = c.do(http.MethodGet, "/api/auth/session", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestServer_MarkerLifecycle(t *testing.T) {
	c := newTestServer(t, testConfig(t))
	c.login()

	status, body := c.do(http.MethodPost, "/api/markers", `{"title":"Cafe","latitude":55.75,"longitude":37.61}`)
	require.Equal(t, http.StatusCreated, status, string(body))
	var created model.Marker
	require.NoError(t, json.Unmarshal(body, &created))

	status, body = c.do(http.MethodPatch, "/api/markers/"+created.ID, `{"description":"open late"}`)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = c.do(http.MethodGet, "/api/markers", "")
	require.Equal(t, http.StatusOK, status)
	var list []model.Marker
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Description)
	assert.Equal(t, "open late", *list[0].Description)

	status, _ = c.do(http.MethodDelete, "/api/markers/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = c.do(http.MethodGet, "/api/markers/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_SessionAndLogout(t *testing.T) {
	c := newTestServer(t, testConfig(t))

	status, _ := c.do(http.MethodGet, "/api/auth/session", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	c.login()
	status, body := c.do(http.MethodGet, "/api/auth/session", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"username":"admin"`)

	status, _ = c.do(http.MethodPost, "/api/auth/logout", "")
	require.Equal(t, http.StatusOK, status)

	status, _ = c.do(http.MethodGet, "/api/auth/session", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestServer_Geocode(t *testing.T) {
	c := newTestServer(t, testConfig(t))
	c.login()

	status, body := c.do(http.MethodGet, "/api/geocode?q=moscow", "")
	require.Equal(t, http.StatusOK, status, string(body))
	var search struct {
		Results []struct {
			DisplayName string `json:"display_name"`
		} `json:"results"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &search))
	require.Equal(t, 2, search.Count)
	assert.Equal(t, "A", search.Results[0].DisplayName)

	status, body = c.do(http.MethodGet, "/api/geocode/reverse?lat=1&lon=2", "")
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"address":"Corner Cafe, Moscow"`)

	status, _ = c.do(http.MethodGet, "/api/geocode?q=ab", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_LoginRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.LoginRateLimit = 2
	c := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		status, _ := c.do(http.MethodPost, "/api/auth/login", `{"username":"admin","password":"wrong"}`)
		assert.Equal(t, http.StatusUnauthorized, status)
	}

	status, body := c.do(http.MethodPost, "/api/auth/login", `{"username":"admin","password":"qwerty"}`)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Contains(t, string(body), "rate_limited")
}

func TestServer_GitHubRoutesOnlyWhenConfigured(t *testing.T) {
	c := newTestServer(t, testConfig(t))
	status, _ := c.do(http.MethodGet, "/auth/github/login", "")
	assert.Equal(t, http.StatusNotFound, status)

	cfg := testConfig(t)
	cfg.GitHub.ClientID = "id"
	cfg.GitHub.ClientSecret = "secret"
	c = newTestServer(t, cfg)
	c.http.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	status, _ = c.do(http.MethodGet, "/auth/github/login", "")
	assert.Equal(t, http.StatusTemporaryRedirect, status)
}

func TestServer_Metrics(t *testing.T) {
	c := newTestServer(t, testConfig(t))
	c.login()
	c.do(http.MethodGet, "/api/markers", "")

	status, body := c.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, status)
	text := string(body)
	assert.True(t, strings.Contains(text, "http_requests_total"))
	assert.True(t, strings.Contains(text, `marker_operations_total{operation="list",outcome="ok"}`))
}

func TestServer_EphemeralSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = ""
	c := newTestServer(t, cfg)
	c.login()

	status, _ := c.do(http.MethodGet, "/api/markers", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_CORSPreflight(t *testing.T) {
	c := newTestServer(t, testConfig(t))

	req, err := http.NewRequest(http.MethodOptions, c.base+"/api/markers", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)

	resp, err := c.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}
