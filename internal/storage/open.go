package storage

import (
	"fmt"
	"strings"

	logx "trackerd/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (*SQLiteStore, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		return openSQLite(cfg.Path, cfg.BusyTimeout, log)
	case "memory":
		return openSQLite(":memory:", cfg.BusyTimeout, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
