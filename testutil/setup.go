package testutil

import (
	"testing"

	"github.com/kasuganosora/moodring/server/cache"
	dbsqlite "github.com/kasuganosora/moodring/server/db/sqlite"
	"github.com/kasuganosora/moodring/server/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB creates a private in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbsqlite.OpenMemory()
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// SeedParticipants inserts bare participants with the given usernames.
func SeedParticipants(t *testing.T, db *gorm.DB, usernames ...string) {
	t.Helper()
	for _, u := range usernames {
		require.NoError(t, db.Create(&model.Participant{Username: u, PasswordHash: "x"}).Error)
	}
}
