package store

import "github.com/google/uuid"

// NewID returns a fresh random identifier for a new row. Exported so
// callers outside this package (e.g. the objects service, which assigns
// a bucket's id before inserting it) can generate store-compatible IDs
// without importing google/uuid themselves.
func NewID() string {
	return uuid.NewString()
}
