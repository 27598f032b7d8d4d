package rest_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/kasuganosora/moodring/server/config"
	"github.com/kasuganosora/moodring/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminAuth(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/admin/scheduler", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/admin/scheduler", "", nil, "X-Admin-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/admin/scheduler", "", nil, "X-Admin-Key", adminKey).Code)

	off := newServer(t, func(c *config.Config) { c.Server.AdminKey = "" })
	assert.Equal(t, http.StatusServiceUnavailable, off.do(http.MethodGet, "/api/admin/scheduler", "", nil, "X-Admin-Key", "").Code)
}

func TestAdminIPWhitelist(t *testing.T) {
	s := newServer(t, func(c *config.Config) { c.Server.AdminIPs = []string{"10.9.0.0/16"} })

	w := s.do(http.MethodGet, "/api/admin/scheduler", "", nil, "X-Admin-Key", adminKey, "X-Real-IP", "10.9.3.4")
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, "/api/admin/scheduler", "", nil, "X-Admin-Key", adminKey, "X-Real-IP", "10.8.3.4")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminRecount(t *testing.T) {
	s := newServer(t)
	alice := s.register("alice")
	bob := s.register("bob")
	s.follow(alice, "bob", bob, "alice")

	require.NoError(t, s.db.Model(&model.Participant{}).Where("username = ?", "bob").
		Update("follower_count", 7).Error)

	w := s.do(http.MethodPost, "/api/admin/recount/bob", "", nil, "X-Admin-Key", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Counts struct {
			Followers int64 `json:"follower_count"`
		} `json:"counts"`
		Repaired bool `json:"repaired"`
		Drift    struct {
			Stored int64 `json:"stored_followers"`
		} `json:"drift"`
	}
	decode(t, w, &out)
	assert.True(t, out.Repaired)
	assert.Equal(t, int64(1), out.Counts.Followers)
	assert.Equal(t, int64(7), out.Drift.Stored)

	w = s.do(http.MethodPost, "/api/admin/recount/bob", "", nil, "X-Admin-Key", adminKey)
	decode(t, w, &out)
	assert.False(t, out.Repaired)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/admin/recount/ghost", "", nil, "X-Admin-Key", adminKey).Code)
}

func TestAdminRepair(t *testing.T) {
	s := newServer(t, func(c *config.Config) {
		c.Repair.Interval = time.Hour
		c.Repair.LockTTL = time.Minute
	})
	s.register("alice")
	require.NoError(t, s.db.Model(&model.Participant{}).Where("username = ?", "alice").
		Update("following_count", 3).Error)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/admin/repair", "", nil, "X-Admin-Key", adminKey).Code)

	var p model.Participant
	require.NoError(t, s.db.Take(&p, "username = ?", "alice").Error)
	assert.Zero(t, p.FollowingCount)

	w := s.do(http.MethodGet, "/api/admin/scheduler", "", nil, "X-Admin-Key", adminKey)
	var out struct {
		Tasks []struct {
			Name string `json:"name"`
			Runs int64  `json:"runs"`
		} `json:"tasks"`
	}
	decode(t, w, &out)
	require.Len(t, out.Tasks, 1)
	assert.Equal(t, "counter_repair", out.Tasks[0].Name)
	assert.Equal(t, int64(1), out.Tasks[0].Runs)
}

func TestAdminRepair_NotScheduled(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/admin/repair", "", nil, "X-Admin-Key", adminKey).Code)
}

func TestAdminAudit(t *testing.T) {
	s := newServer(t)
	alice := s.register("alice")
	bob := s.register("bob")
	s.follow(alice, "bob", bob, "alice")
	s.app.Audit.Stop()

	w := s.do(http.MethodGet, "/api/admin/audit?actor=bob", "", nil, "X-Admin-Key", adminKey, "X-Trace-ID", "t-1")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Entries []model.AuditLog `json:"entries"`
	}
	decode(t, w, &out)
	require.Len(t, out.Entries, 2, "accept and the follow it creates")
	for _, e := range out.Entries {
		assert.Equal(t, "alice", e.Target)
		assert.NotEmpty(t, e.TraceID, "trace id comes from the request that made the change")
	}
}
