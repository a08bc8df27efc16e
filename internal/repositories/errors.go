package repositories

import (
	"errors"

	"github.com/moodflow/backend/internal/mirror"
)

// ErrNotFound indicates the requested record does not exist. It matches
// mirror.ErrNotFound so callers of the mirror interface need not import
// this package.
var ErrNotFound = mirror.ErrNotFound

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
