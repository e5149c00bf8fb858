package catalog

// IndexDescriptor is an index's immutable definition: key pattern,
// uniqueness, and ordering. The concrete key-pattern encoding is opaque to
// the catalog; it is passed through to the engine's sorted-data interface
// unmodified.
type IndexDescriptor struct {
	Name       string         `json:"name"`
	KeyPattern map[string]int `json:"keyPattern"`
	Unique     bool           `json:"unique"`
}

// IndexMetadata is one index's entry inside a collection's catalog record.
type IndexMetadata struct {
	Spec     IndexDescriptor `json:"spec"`
	Ready    bool            `json:"ready"`
	Head     string          `json:"head"`
	Multikey bool            `json:"multikey"`
}

// CollectionOptions are the user-facing options a collection was created
// with (capped size, validators, etc). The catalog stores them opaquely.
type CollectionOptions struct {
	Capped     bool  `json:"capped,omitempty"`
	CappedSize int64 `json:"cappedSize,omitempty"`
	CappedMax  int64 `json:"cappedMax,omitempty"`
	Temp       bool  `json:"temp,omitempty"`
}

// Metadata is the md sub-document of a catalog record.
type Metadata struct {
	NS      string            `json:"ns"`
	Options CollectionOptions `json:"options"`
	Indexes []IndexMetadata   `json:"indexes"`
}

// Record is the catalog record document layout, one per collection,
// persisted in the reserved _mdb_catalog record store. Field names are the
// wire contract and must not change without a migration.
type Record struct {
	NS       string            `json:"ns"`
	Ident    string            `json:"ident"`
	MD       Metadata          `json:"md"`
	IdxIdent map[string]string `json:"idxIdent"`
}

// CatalogStoreName is the reserved record store name backing the catalog.
// It must never collide with a user namespace.
const CatalogStoreName = "_mdb_catalog"
