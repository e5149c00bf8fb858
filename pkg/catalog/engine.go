package catalog

import "context"

// RecordLocation is an engine-opaque handle identifying a record inside a
// record store, stable for the record's lifetime except across an update
// that relocates it.
type RecordLocation string

// RecordStore is the narrow interface the catalog uses to manipulate a
// collection's physical storage, keyed only by its ident (§4.6).
type RecordStore interface {
	Insert(ctx context.Context, ru RecoveryUnit, data []byte) (RecordLocation, error)
	Update(ctx context.Context, ru RecoveryUnit, loc RecordLocation, data []byte) error
	Delete(ctx context.Context, ru RecoveryUnit, loc RecordLocation) error
	DataFor(ctx context.Context, loc RecordLocation) ([]byte, bool, error)
	Iterate(ctx context.Context, forward bool) (RecordIterator, error)
	Truncate(ctx context.Context, ru RecoveryUnit) error
}

// RecordIterator walks a RecordStore's records in insertion or reverse
// order.
type RecordIterator interface {
	Next() (RecordLocation, []byte, bool)
	Close() error
}

// SortedDataInterface is the narrow interface the catalog uses for a single
// index, keyed only by its ident (§4.6). For non-unique indexes the index
// key is (user-key, location) so duplicates order by record location; for
// unique indexes the key is the user-key alone and the stored value carries
// one or more locations.
type SortedDataInterface interface {
	Insert(ctx context.Context, ru RecoveryUnit, key []byte, loc RecordLocation, dupsAllowed bool) error
	Remove(ctx context.Context, ru RecoveryUnit, key []byte, loc RecordLocation, dupsAllowed bool) error
	Cursor(forward bool) (IndexCursor, error)
}

// IndexCursor walks a SortedDataInterface's entries, with exact and
// inexact ("nearest in the iteration direction") seek semantics.
type IndexCursor interface {
	Seek(key []byte, exact bool) bool
	Next() ([]byte, RecordLocation, bool)
	Close() error
}

// CollectionOptionsForEngine carries the subset of collection options the
// engine needs to create a record store (capped settings).
type CollectionOptionsForEngine struct {
	Capped     bool
	CappedSize int64
	CappedMax  int64
}

// Engine is the contract the catalog consumes from a concrete storage
// backend. A concrete backend is specified only at the level of these
// methods; pkg/storageengine/boltengine is one implementation.
type Engine interface {
	NewRecoveryUnit() RecoveryUnit

	// CreateRecordStore and DropRecordStore take the caller's RecoveryUnit so
	// the bucket create/delete lands in the same bbolt transaction as the
	// catalog record write that accompanies it (§4.5); ru may be nil, in
	// which case the call opens and commits its own transaction.
	CreateRecordStore(ctx context.Context, ru RecoveryUnit, ident string, options CollectionOptionsForEngine) error
	GetRecordStore(ctx context.Context, ident string, ns string, options CollectionOptionsForEngine) (RecordStore, error)
	DropRecordStore(ctx context.Context, ru RecoveryUnit, ident string) error

	CreateSortedDataInterface(ctx context.Context, ru RecoveryUnit, ident string, descriptor IndexDescriptor) error
	GetSortedDataInterface(ctx context.Context, ident string, descriptor IndexDescriptor) (SortedDataInterface, error)
	DropSortedDataInterface(ctx context.Context, ru RecoveryUnit, ident string) error
}
