package stats

import (
	"strings"
	"sync"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openDBs caches database handles by DSN so components pointed at the
// same database share one pool.
var (
	openMu  sync.Mutex
	openDBs = make(map[string]*gorm.DB)
)

// Open returns a database handle for dsn, reusing a previously opened
// one when available. The dialect is inferred from the DSN shape:
// postgres:// URLs and key=value DSNs open Postgres, user@tcp(...) DSNs
// open MySQL, and everything else is treated as an SQLite path.
func Open(dsn string) (*gorm.DB, error) {
	openMu.Lock()
	defer openMu.Unlock()
	if db, ok := openDBs[dsn]; ok {
		return db, nil
	}

	db, err := gorm.Open(dialectorFor(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	openDBs[dsn] = db
	return db, nil
}

// CloseAll closes every cached handle and empties the cache.
func CloseAll() error {
	openMu.Lock()
	defer openMu.Unlock()

	var firstErr error
	for dsn, db := range openDBs {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		delete(openDBs, dsn)
	}
	return firstErr
}

func dialectorFor(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, "postgres://"),
		strings.HasPrefix(dsn, "postgresql://"),
		strings.Contains(dsn, "host="):
		return postgres.Open(dsn)
	case strings.Contains(dsn, "@tcp("):
		return mysql.Open(dsn)
	default:
		return sqlite.Open(dsn)
	}
}
