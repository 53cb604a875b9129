// Package storage provides the persistent user store backends.
package storage

import (
	"errors"
	"strings"
	"time"

	"gardenbot/internal/user"
	logx "gardenbot/pkg/logx"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store, lost on restart (tests/dev only)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured user store.
func Open(cfg Config, log logx.Logger) (user.Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return user.NewMemoryStore(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
