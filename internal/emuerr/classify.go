package emuerr

import (
	"context"
	"errors"
	"strings"

	"github.com/docker/docker/errdefs"
)

// ClassifySQLite maps a SQLite driver error, surfaced as a plain error
// string by modernc.org/sqlite, to a Kind. SQLite does not expose typed
// error values across the database/sql boundary the way googleapi.Error
// does for the real cloud APIs, so classification is done on the
// well-known constraint-violation message fragments it produces.
func ClassifySQLite(err error) Kind {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return AlreadyExists
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return FailedPrecondition
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "database table is locked"):
		return Aborted
	default:
		return Internal
	}
}

// ClassifyDriver maps an error returned by the container driver (Docker
// Engine API client) to a Kind, mirroring the teacher's
// gcp.IsErrorNotFound/IsErrorAlreadyExists classification of
// *googleapi.Error.
func ClassifyDriver(err error) Kind {
	if err == nil {
		return ""
	}
	switch {
	case errdefs.IsNotFound(err):
		return NotFound
	case errdefs.IsConflict(err), errdefs.IsAlreadyExists(err):
		return AlreadyExists
	case errdefs.IsInvalidParameter(err):
		return InvalidArgument
	case errdefs.IsUnavailable(err), errdefs.IsDeadline(err):
		return Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return Cancelled
	default:
		return Unavailable
	}
}
