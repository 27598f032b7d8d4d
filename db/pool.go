package db

import (
	"time"

	"gorm.io/gorm"
)

// Pool holds connection pool limits for networked drivers.
type Pool struct {
	MaxOpen int
	MaxIdle int
	MaxLife time.Duration
}

// Apply sets the pool limits on the underlying *sql.DB. Zero values keep
// the driver defaults.
func (p Pool) Apply(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if p.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(p.MaxOpen)
	}
	if p.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(p.MaxIdle)
	}
	if p.MaxLife > 0 {
		sqlDB.SetConnMaxLifetime(p.MaxLife)
	}
	return nil
}
