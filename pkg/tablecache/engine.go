package tablecache

// Engine physically opens tables. It is implemented by the table storage
// layer (see package tablefile); tablecache only orchestrates the lifecycle of
// what it returns.
//
// Open may block on I/O and lock acquisition. It is called with the registry
// mutex held, so an Engine must not call back into the [Controller].
type Engine interface {
	Open(loc Location, mode LockMode) (Table, error)
}

// Table is one physically open table.
type Table interface {
	// Reopen changes the table's lock mode in place. tablecache only ever calls
	// it to upgrade a read-only table to [ReadWrite]. On error the table must
	// keep its previous mode.
	Reopen(mode LockMode) error

	// Close flushes and releases the table. On error the table must stay open
	// so the close can be retried.
	Close() error

	// IsWritable reports whether the table currently holds write access.
	IsWritable() bool
}
