package model

import "errors"

// ErrNotFound is returned when a record does not exist or is not visible to
// the requesting recipient.
var ErrNotFound = errors.New("not found")
