package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moodring/server/config"
	"github.com/kasuganosora/moodring/server/journal"
	mw "github.com/kasuganosora/moodring/server/middleware"
	"github.com/kasuganosora/moodring/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSec = config.SecurityConfig{JWTSecret: "sse-test-secret", JWTTTLH: time.Hour}

type follows map[string]bool

func (f follows) IsFollowing(_ context.Context, a, b string) (bool, error) {
	return f[a+">"+b], nil
}

type streamFixture struct {
	h      *Handler
	server *httptest.Server
	token  string
	pub    func(author string)
}

func newStream(t *testing.T) *streamFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, ps := testutil.SetupTestCache(t)

	h := NewHandler(ps, follows{"alice>bob": true}, c, testSec, zap.NewNop())
	h.keepAlive = 20 * time.Millisecond
	r := gin.New()
	r.GET("/stream", h.ServeSSE)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	token, err := mw.GenerateToken("alice", testSec.JWTSecret, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), mw.SessionKey(token), "alice", time.Hour))

	return &streamFixture{
		h:      h,
		server: srv,
		token:  token,
		pub: func(author string) {
			require.NoError(t, ps.Publish(context.Background(), journal.ChannelCreated, author))
		},
	}
}

// open connects and returns a channel of received lines.
func (f *streamFixture) open(t *testing.T, query string) (*http.Response, <-chan string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/stream"+query, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return resp, lines
}

func nextEvent(t *testing.T, lines <-chan string) (event, data string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case l, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			switch {
			case strings.HasPrefix(l, "event: "):
				event = strings.TrimPrefix(l, "event: ")
			case strings.HasPrefix(l, "data: "):
				data = strings.TrimPrefix(l, "data: ")
			case l == "" && event != "":
				return event, data
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestServeSSE_FollowedAuthorsOnly(t *testing.T) {
	f := newStream(t)
	resp, lines := f.open(t, "?token="+f.token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	ev, _ := nextEvent(t, lines)
	require.Equal(t, "connected", ev)

	f.pub("carol")
	f.pub("alice")
	f.pub("bob")
	ev, data := nextEvent(t, lines)
	assert.Equal(t, "feed_update", ev)
	assert.JSONEq(t, `{"participant":"bob"}`, data)
}

func TestServeSSE_KeepAlive(t *testing.T) {
	f := newStream(t)
	_, lines := f.open(t, "?token="+f.token)
	ev, _ := nextEvent(t, lines)
	require.Equal(t, "connected", ev)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case l := <-lines:
			if l == ": keepalive" {
				return
			}
		case <-deadline:
			t.Fatal("no keepalive")
		}
	}
}

func TestServeSSE_Rejections(t *testing.T) {
	f := newStream(t)
	other, err := mw.GenerateToken("alice", testSec.JWTSecret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		query string
	}{
		{"missing", ""},
		{"invalid", "?token=garbage"},
		{"no session", "?token=" + other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(f.server.URL + "/stream" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}
