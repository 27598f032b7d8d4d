package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moodring/server/app"
	"github.com/kasuganosora/moodring/server/cache"
	"github.com/kasuganosora/moodring/server/config"
	"github.com/kasuganosora/moodring/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// TestServer wraps a real HTTP server with every subsystem wired the way
// main wires them.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	App    *app.App
	Cfg    *config.Config
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	client *http.Client
}

// NewTestServer creates a fully wired server for integration testing.
// tweak may adjust the configuration before the server is built.
func NewTestServer(t *testing.T, tweak ...func(*config.Config)) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)

	cfg := config.Defaults()
	cfg.Security.JWTSecret = "integration-test-secret"
	cfg.Security.JWTTTLH = 72 * time.Hour
	cfg.Security.RateLimitRPS = 1000
	cfg.Security.RateLimitBurst = 2000
	cfg.Server.AdminKey = "integration-admin"
	cfg.Repair.Interval = 0
	for _, f := range tweak {
		f(cfg)
	}

	a, err := app.New(cfg, db, c, pubsub, zap.NewNop(), app.Options{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err, "NewTestServer: app.New")

	server := httptest.NewServer(a.Router)
	return &TestServer{
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		App:    a,
		Cfg:    cfg,
		Server: server,
		URL:    server.URL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Close shuts down the HTTP server and the background workers.
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.App.Close()
}

func (ts *TestServer) do(t *testing.T, method, path string, body any, token string, headers ...string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST with a JSON body.
func (ts *TestServer) PostJSON(t *testing.T, path string, body any, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, token)
}

func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, token)
}

func (ts *TestServer) Put(t *testing.T, path string, body any, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, path, body, token)
}

func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodDelete, path, nil, token)
}

// Admin sends a request to the admin API with the configured key.
func (ts *TestServer) Admin(t *testing.T, method, path string) *http.Response {
	t.Helper()
	return ts.do(t, method, path, nil, "", "X-Admin-Key", ts.Cfg.Server.AdminKey)
}

// ReadJSON decodes the response body into target and closes it.
func ReadJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, target), "body: %s", body)
}

// Expect asserts the status code, decodes the body into target when it is
// non-nil, and closes the body.
func Expect(t *testing.T, resp *http.Response, status int, target any) {
	t.Helper()
	if resp.StatusCode != status {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.Failf(t, "unexpected status", "want %d, got %d: %s", status, resp.StatusCode, b)
	}
	if target == nil {
		resp.Body.Close()
		return
	}
	ReadJSON(t, resp, target)
}

// Register opens an account and returns its session token.
func (ts *TestServer) Register(t *testing.T, username string) string {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/register", map[string]string{
		"username": username,
		"password": "testpass1234",
	}, "")
	var out struct {
		Token string `json:"token"`
	}
	Expect(t, resp, http.StatusCreated, &out)
	require.NotEmpty(t, out.Token)
	return out.Token
}

// Login authenticates and returns a fresh session token.
func (ts *TestServer) Login(t *testing.T, username, password string) string {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	var out struct {
		Token string `json:"token"`
	}
	Expect(t, resp, http.StatusOK, &out)
	return out.Token
}

// Follow makes from follow to through the request/accept flow.
func (ts *TestServer) Follow(t *testing.T, fromToken, to, toToken, from string) {
	t.Helper()
	Expect(t, ts.PostJSON(t, "/api/follow-requests", map[string]string{"to": to}, fromToken), http.StatusCreated, nil)
	Expect(t, ts.PostJSON(t, "/api/follow-requests/"+from+"/accept", nil, toToken), http.StatusOK, nil)
}

// Post creates a mood event and returns its id.
func (ts *TestServer) Post(t *testing.T, token string, body map[string]any) string {
	t.Helper()
	var ev struct {
		ID string `json:"id"`
	}
	Expect(t, ts.PostJSON(t, "/api/mood-events", body, token), http.StatusCreated, &ev)
	require.NotEmpty(t, ev.ID)
	return ev.ID
}

var testCounter uint64

// UniqueID returns a username-safe identifier unique within the test run.
func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
