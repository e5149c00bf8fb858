// Package boltengine is the bbolt-backed Engine implementation of
// pkg/catalog's storage contract: every record store and index is its own
// top-level bbolt bucket, named by the ident the catalog handed out, in the
// same bucket-per-resource layout the node's other bbolt-backed stores use.
package boltengine

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/replsetd/replsetd/pkg/catalog"
)

const (
	recordBucketPrefix = "rs:"
	indexBucketPrefix  = "idx:"
)

func recordBucketName(ident string) []byte { return []byte(recordBucketPrefix + ident) }
func indexBucketName(ident string) []byte  { return []byte(indexBucketPrefix + ident) }

// Engine is the bbolt-backed catalog.Engine.
type Engine struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path and returns an
// Engine over it.
func Open(path string) (*Engine, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltengine: open %s: %w", path, err)
	}
	return &Engine{db: db}, nil
}

// DB exposes the underlying handle, e.g. for OpenCatalogRecordStore.
func (e *Engine) DB() *bbolt.DB { return e.db }

// Close closes the underlying database file.
func (e *Engine) Close() error { return e.db.Close() }

func (e *Engine) NewRecoveryUnit() catalog.RecoveryUnit {
	return catalog.NewBoltRecoveryUnit(e.db)
}

func (e *Engine) CreateRecordStore(ctx context.Context, ru catalog.RecoveryUnit, ident string, options catalog.CollectionOptionsForEngine) (err error) {
	tx, owns, err := txFor(e.db, ru)
	if err != nil {
		return err
	}
	defer finish(tx, owns, &err)

	_, err = tx.CreateBucketIfNotExists(recordBucketName(ident))
	return err
}

func (e *Engine) GetRecordStore(ctx context.Context, ident string, ns string, options catalog.CollectionOptionsForEngine) (catalog.RecordStore, error) {
	err := e.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(recordBucketName(ident)) == nil {
			return fmt.Errorf("boltengine: no record store for ident %q", ident)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &recordStore{db: e.db, bucket: recordBucketName(ident), capped: options}, nil
}

func (e *Engine) DropRecordStore(ctx context.Context, ru catalog.RecoveryUnit, ident string) (err error) {
	tx, owns, err := txFor(e.db, ru)
	if err != nil {
		return err
	}
	defer finish(tx, owns, &err)

	name := recordBucketName(ident)
	if tx.Bucket(name) == nil {
		return nil
	}
	return tx.DeleteBucket(name)
}

func (e *Engine) CreateSortedDataInterface(ctx context.Context, ru catalog.RecoveryUnit, ident string, descriptor catalog.IndexDescriptor) (err error) {
	tx, owns, err := txFor(e.db, ru)
	if err != nil {
		return err
	}
	defer finish(tx, owns, &err)

	_, err = tx.CreateBucketIfNotExists(indexBucketName(ident))
	return err
}

func (e *Engine) GetSortedDataInterface(ctx context.Context, ident string, descriptor catalog.IndexDescriptor) (catalog.SortedDataInterface, error) {
	err := e.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(indexBucketName(ident)) == nil {
			return fmt.Errorf("boltengine: no index for ident %q", ident)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sortedData{db: e.db, bucket: indexBucketName(ident), unique: descriptor.Unique}, nil
}

func (e *Engine) DropSortedDataInterface(ctx context.Context, ru catalog.RecoveryUnit, ident string) (err error) {
	tx, owns, err := txFor(e.db, ru)
	if err != nil {
		return err
	}
	defer finish(tx, owns, &err)

	name := indexBucketName(ident)
	if tx.Bucket(name) == nil {
		return nil
	}
	return tx.DeleteBucket(name)
}
