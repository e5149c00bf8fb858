package catalog

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	bucketCatalog       = []byte(CatalogStoreName)
	bucketPendingDrops  = []byte("_mdb_catalog.pendingDrops")
)

// CatalogRecordStore is the reserved record store holding one document per
// collection (§4.5), backed by a dedicated bbolt bucket. Record locations
// are namespace strings: bbolt's own key order makes the namespace the
// natural, stable "location" for a catalog entry.
type CatalogRecordStore struct {
	db *bbolt.DB
}

// OpenCatalogRecordStore opens (creating if absent) the catalog buckets.
func OpenCatalogRecordStore(db *bbolt.DB) (*CatalogRecordStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCatalog); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketPendingDrops); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &CatalogRecordStore{db: db}, nil
}

func txFor(db *bbolt.DB, ru RecoveryUnit) (*bbolt.Tx, bool, error) {
	if ru != nil {
		if tx := ru.Tx(); tx != nil {
			return tx, false, nil
		}
	}
	tx, err := db.Begin(true)
	if err != nil {
		return nil, false, err
	}
	return tx, true, nil
}

// Insert writes a new catalog record for rec.NS. Fails if one already
// exists.
func (s *CatalogRecordStore) Insert(ru RecoveryUnit, rec Record) error {
	tx, owns, err := txFor(s.db, ru)
	if err != nil {
		return err
	}
	b := tx.Bucket(bucketCatalog)
	if b.Get([]byte(rec.NS)) != nil {
		if owns {
			_ = tx.Rollback()
		}
		return fmt.Errorf("catalog: record for %q already exists", rec.NS)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		if owns {
			_ = tx.Rollback()
		}
		return err
	}
	if err := b.Put([]byte(rec.NS), data); err != nil {
		if owns {
			_ = tx.Rollback()
		}
		return err
	}
	if owns {
		return tx.Commit()
	}
	return nil
}

// Get reads the catalog record for ns.
func (s *CatalogRecordStore) Get(ns string) (Record, bool, error) {
	var rec Record
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCatalog)
		data := b.Get([]byte(ns))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

// Put overwrites the catalog record stored at ns (used by putMetaData,
// renameCollection).
func (s *CatalogRecordStore) Put(ru RecoveryUnit, ns string, rec Record) error {
	tx, owns, err := txFor(s.db, ru)
	if err != nil {
		return err
	}
	b := tx.Bucket(bucketCatalog)
	data, err := json.Marshal(rec)
	if err != nil {
		if owns {
			_ = tx.Rollback()
		}
		return err
	}
	if err := b.Put([]byte(ns), data); err != nil {
		if owns {
			_ = tx.Rollback()
		}
		return err
	}
	if owns {
		return tx.Commit()
	}
	return nil
}

// Delete removes the catalog record at ns.
func (s *CatalogRecordStore) Delete(ru RecoveryUnit, ns string) error {
	tx, owns, err := txFor(s.db, ru)
	if err != nil {
		return err
	}
	b := tx.Bucket(bucketCatalog)
	if err := b.Delete([]byte(ns)); err != nil {
		if owns {
			_ = tx.Rollback()
		}
		return err
	}
	if owns {
		return tx.Commit()
	}
	return nil
}

// ForEach walks every catalog record, in bbolt key (namespace) order. Used
// at Open to rebuild the in-memory namespace map. A record that does not
// decode is skipped and the walk goes on; the first such decode error is
// returned once every other record has been passed to fn.
func (s *CatalogRecordStore) ForEach(fn func(Record) error) error {
	var firstCorrupt error
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCatalog)
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				if firstCorrupt == nil {
					firstCorrupt = fmt.Errorf("catalog: corrupt record for %q: %w", k, err)
				}
				return nil
			}
			return fn(rec)
		})
	})
	if err != nil {
		return err
	}
	return firstCorrupt
}

// MarkPendingDrop records ident as delete-pending before the physical store
// is dropped, so a crash between the catalog-record delete and the physical
// drop leaves the ident listed by PendingDrops (§7 orphan idents). Opening
// the catalog does not read this list; no code here reclaims a listed ident.
func (s *CatalogRecordStore) MarkPendingDrop(ident string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPendingDrops)
		return b.Put([]byte(ident), []byte{1})
	})
}

// ClearPendingDrop removes ident from the delete-pending set once the
// physical store has actually been dropped.
func (s *CatalogRecordStore) ClearPendingDrop(ident string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPendingDrops)
		return b.Delete([]byte(ident))
	})
}

// PendingDrops lists every ident recorded as delete-pending and not yet
// reclaimed.
func (s *CatalogRecordStore) PendingDrops() ([]string, error) {
	var idents []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPendingDrops)
		return b.ForEach(func(k, v []byte) error {
			idents = append(idents, string(k))
			return nil
		})
	})
	return idents, err
}
