// Package storage is the SQLite-backed persistence layer.
//
// It implements the ports consumed by the maintenance sweep (expired windows,
// project deactivation) and the notification service (insert, list, mark
// read). All timestamps are stored as UTC unix milliseconds so range
// comparisons stay numeric.
package storage
