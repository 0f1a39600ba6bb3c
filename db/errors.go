package db

import (
	"strings"

	"github.com/teranos/gnis/errors"
)

// ErrDatabaseClosed is returned when a store is used after its database was
// closed, typically while the CLI is shutting down.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection is closed. The
// sqlite driver returns its own errors, so the message is checked as well.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
