package lanterndb

// InsertFlags controls Database.Insert.
type InsertFlags uint32

const (
	// InsertOverwrite replaces the duplicate list of an existing key with a
	// single value instead of returning ErrDuplicateKey.
	InsertOverwrite InsertFlags = 1 << iota
	// InsertDuplicate appends value as a new duplicate under an existing
	// key instead of returning ErrDuplicateKey.
	InsertDuplicate

	// InsertDuplicateFirst, InsertDuplicateBefore, and InsertDuplicateAfter
	// refine InsertDuplicate's placement. Without one, a duplicate insert
	// is placed last, matching DUPLICATE_INSERT_LAST's default.
	InsertDuplicateFirst
	InsertDuplicateBefore
	InsertDuplicateAfter
)

// EraseFlags controls Database.Erase.
type EraseFlags uint32

const (
	// EraseAll drops every duplicate stored under a key. Without it, Erase
	// removes only the single duplicate a cursor or index names.
	EraseAll EraseFlags = 1 << iota
)

// FindFlags controls Database.Find.
type FindFlags uint32

const (
	// FindExact requires an exact key match (the default behavior, named
	// for parity with the flag sets of other operations).
	FindExact FindFlags = 0
)

// CursorMoveFlags controls Cursor.Move.
type CursorMoveFlags int

const (
	CursorFirst CursorMoveFlags = iota
	CursorLast
	CursorNext
	CursorPrevious
)

// OpenFlags controls Environment.Create and Environment.Open.
type OpenFlags uint32

const (
	// InMemoryDB runs the environment with no backing file: nothing
	// survives process exit, and path is ignored.
	InMemoryDB OpenFlags = 1 << iota
	// UseMmap backs pages with a memory mapping instead of positional
	// read/write. Ignored together with InMemoryDB.
	UseMmap
	// WriteThrough is accepted for parity with the reference engine's flag
	// set; this engine always fsyncs its WAL on every append, so the flag
	// has no further effect.
	WriteThrough
	// EnableTransactions allows Environment.Begin; without it, Begin
	// returns ErrInvalidParameter.
	EnableTransactions
	// AutoCleanup is accepted for parity with the reference engine's flag
	// set; closing a database always closes any cursors still open on it,
	// so the flag has no further effect.
	AutoCleanup
	// KeyUserAlloc and RecordUserAlloc are accepted for parity with the
	// reference engine's flag set; Go's garbage collector makes both a
	// no-op here.
	KeyUserAlloc
	RecordUserAlloc
	// UseHash is reserved and currently rejected by Environment.Create.
	UseHash
	// IgnoreFreelist is accepted at the environment level for parity; the
	// per-call pageio.AllocFlags is what actually takes effect.
	IgnoreFreelist
)

// CloseFlags controls Environment.Close and Database.Close.
type CloseFlags uint32
