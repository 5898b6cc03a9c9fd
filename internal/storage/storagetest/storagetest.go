// Package storagetest provides an in-memory store for tests.
package storagetest

import (
	"testing"

	"trackerd/internal/storage"
	logx "trackerd/pkg/logx"
)

// New opens a fresh in-memory store that is closed when the test ends.
func New(tb testing.TB) *storage.SQLiteStore {
	tb.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		tb.Fatalf("open test store: %v", err)
	}
	tb.Cleanup(func() { _ = st.Close() })
	return st
}
