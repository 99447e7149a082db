package lanterndb

import "github.com/lanterndb/lanterndb/internal/errs"

// Sentinel errors returned by this package, re-exported from internal/errs
// so callers outside the module never need to import an internal package to
// use errors.Is against them.
var (
	ErrOutOfMemory         = errs.ErrOutOfMemory
	ErrInvalidParameter    = errs.ErrInvalidParameter
	ErrIO                  = errs.ErrIO
	ErrKeyNotFound         = errs.ErrKeyNotFound
	ErrDuplicateKey        = errs.ErrDuplicateKey
	ErrCacheFull           = errs.ErrCacheFull
	ErrDatabaseAlreadyOpen = errs.ErrDatabaseAlreadyOpen
	ErrCursorIsNil         = errs.ErrCursorIsNil
	ErrLimitsReached       = errs.ErrLimitsReached
	ErrInternal            = errs.ErrInternal
)
