package db

import (
	"fmt"

	"github.com/kasuganosora/moodring/server/config"
	dbmysql "github.com/kasuganosora/moodring/server/db/mysql"
	dbpostgres "github.com/kasuganosora/moodring/server/db/postgres"
	dbsqlite "github.com/kasuganosora/moodring/server/db/sqlite"
	"gorm.io/gorm"
)

const (
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	pool := Pool{
		MaxOpen: cfg.MaxOpenConns,
		MaxIdle: cfg.MaxIdleConns,
		MaxLife: cfg.ConnMaxLife,
	}
	switch cfg.Mode {
	case ModeSQLite, "":
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMySQL:
		db, err := dbmysql.Open(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		return db, pool.Apply(db)
	case ModePostgres:
		db, err := dbpostgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return db, pool.Apply(db)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
