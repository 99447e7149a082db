package lanterndb

const (
	defaultPageSize    = 4096
	defaultCacheSize   = 64 * defaultPageSize
	defaultOrder       = 64
	defaultExtkeyBucks = 128
	defaultKeySize     = 16 // inline key bytes before a key is extended
)

// config accumulates Option settings before Environment.Create/Open applies
// them. Zero value means "use the default".
type config struct {
	pageSize     int
	cacheSize    int
	order        int
	extkeyBucket int
}

// Option configures an Environment at creation time, following the
// functional-option idiom the teacher's buffer pool and pager constructors
// use for their own tunables.
type Option func(*config)

// WithPageSize sets the fixed page size in bytes. Only meaningful on
// Environment.Create; Environment.Open reads the size recorded on disk.
func WithPageSize(size int) Option {
	return func(c *config) { c.pageSize = size }
}

// WithCacheSize sets the combined page-cache/extkey-cache byte budget.
func WithCacheSize(size int) Option {
	return func(c *config) { c.cacheSize = size }
}

// WithOrder sets the order value handed to every B-tree. Nodes split when
// their encoding no longer fits in one page; the order does not bound a
// node's entry count.
func WithOrder(order int) Option {
	return func(c *config) { c.order = order }
}

// WithExtkeyBuckets sets the extended-key cache's bucket count (rounded up
// to a power of two).
func WithExtkeyBuckets(n int) Option {
	return func(c *config) { c.extkeyBucket = n }
}

func newConfig(opts []Option) config {
	c := config{
		pageSize:     defaultPageSize,
		cacheSize:    defaultCacheSize,
		order:        defaultOrder,
		extkeyBucket: defaultExtkeyBucks,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// dbConfig accumulates DBOption settings for CreateDB/OpenDB.
type dbConfig struct {
	keySize int
}

// DBOption configures a single named database.
type DBOption func(*dbConfig)

// WithKeySize sets the number of key bytes kept inline in the B-tree
// before the remainder is pushed to the blob store as an extended key.
// Keys at or under this length never touch the blob store.
func WithKeySize(size int) DBOption {
	return func(c *dbConfig) { c.keySize = size }
}

func newDBConfig(opts []DBOption) dbConfig {
	c := dbConfig{keySize: defaultKeySize}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
