package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newWhitelistRouter(entries []string) *gin.Engine {
	r := gin.New()
	r.Use(IPWhitelist(entries, zap.NewNop()))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func ping(r *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Real-IP", ip)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestIPWhitelist_Empty_AllowsAll(t *testing.T) {
	r := newWhitelistRouter(nil)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "1.2.3.4:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIPWhitelist(t *testing.T) {
	r := newWhitelistRouter([]string{"10.0.0.1", " 192.168.4.0/24 ", "fd00::/8", "garbage", "10.0.0.0/99"})

	for ip, want := range map[string]int{
		"10.0.0.1":      http.StatusOK,
		"10.0.0.2":      http.StatusForbidden,
		"192.168.4.200": http.StatusOK,
		"192.168.5.1":   http.StatusForbidden,
		"fd12::1":       http.StatusOK,
		"2001:db8::1":   http.StatusForbidden,
	} {
		assert.Equal(t, want, ping(r, ip), ip)
	}
}

func TestIPWhitelist_OnlyMalformedEntries_DeniesAll(t *testing.T) {
	r := newWhitelistRouter([]string{"nope"})
	assert.Equal(t, http.StatusForbidden, ping(r, "10.0.0.1"))
}
