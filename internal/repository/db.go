package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"salesflow/internal/config"
	"salesflow/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured database. SQLite is limited to a single
// connection so that transactions are serialized.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(mysqlDSN(cfg.DSN, cfg.LockTimeout))
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.QueueEntry{},
		&model.Session{},
		&model.Lead{},
		&model.MessageLog{},
		&model.AdminAudit{},
	)
}

// mysqlDSN bounds row lock waits through the innodb_lock_wait_timeout
// session variable, which the driver accepts as a DSN parameter.
func mysqlDSN(dsn string, lockTimeout time.Duration) string {
	if lockTimeout <= 0 || strings.Contains(dsn, "innodb_lock_wait_timeout") {
		return dsn
	}
	secs := int(lockTimeout.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sinnodb_lock_wait_timeout=%d", dsn, sep, secs)
}

// supportsRowLocks reports whether the dialect understands
// SELECT ... FOR UPDATE. SQLite serializes writers instead.
func supportsRowLocks(db *gorm.DB) bool {
	return db.Dialector.Name() != "sqlite"
}

// applyLockTimeout bounds lock waits for the current transaction on
// Postgres. MySQL gets it from the DSN.
func applyLockTimeout(tx *gorm.DB, timeout time.Duration) error {
	if timeout <= 0 || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())).Error
}
