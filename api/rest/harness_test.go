package rest_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moodring/server/app"
	"github.com/kasuganosora/moodring/server/config"
	"github.com/kasuganosora/moodring/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const adminKey = "admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	t   *testing.T
	app *app.App
	db  *gorm.DB
}

func newServer(t *testing.T, tweak ...func(*config.Config)) *server {
	t.Helper()
	cfg := config.Defaults()
	cfg.Security.JWTSecret = "test-secret"
	cfg.Security.RateLimitRPS = 0
	cfg.Server.AdminKey = adminKey
	cfg.Repair.Interval = 0
	for _, f := range tweak {
		f(cfg)
	}

	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	a, err := app.New(cfg, db, c, ps, zap.NewNop(), app.Options{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return &server{t: t, app: a, db: db}
}

// do sends a request. body is JSON-encoded unless it is nil.
func (s *server) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, req)
	return w
}

// register opens an account and returns its session token.
func (s *server) register(username string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"password": "secret123",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	decode(s.t, w, &out)
	require.NotEmpty(s.t, out.Token)
	return out.Token
}

// follow makes from follow to through the request flow.
func (s *server) follow(fromToken, to, toToken, from string) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/follow-requests", fromToken, map[string]string{"to": to})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/api/follow-requests/"+from+"/accept", toToken, nil)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
