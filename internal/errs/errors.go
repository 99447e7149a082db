// Package errs defines the closed set of error codes the storage core can
// return. Every layer surfaces failures as tagged result values — a plain
// Go error wrapping one of these sentinels with %w — never by panicking or
// threading a hidden "last error" through control flow.
package errs

import "errors"

var (
	ErrOutOfMemory         = errors.New("out of memory")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrIO                  = errors.New("i/o error")
	ErrKeyNotFound         = errors.New("key not found")
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrCacheFull           = errors.New("cache full")
	ErrDatabaseAlreadyOpen = errors.New("database already open")
	ErrCursorIsNil         = errors.New("cursor is nil")
	ErrLimitsReached       = errors.New("limits reached")
	ErrInternal            = errors.New("internal error")
)
