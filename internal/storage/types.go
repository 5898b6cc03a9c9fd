package storage

import "time"

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "memory": private in-memory SQLite database (tests, demos)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}
