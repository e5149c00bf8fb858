package boltengine

import (
	"context"
	"encoding/binary"

	"go.etcd.io/bbolt"

	"github.com/replsetd/replsetd/pkg/catalog"
)

// locationKey and its inverse give RecordLocation the same "monotonically
// increasing, comparable" property bbolt's own bucket sequence has, so
// insertion order and location order coincide.
func locationKey(seq uint64) catalog.RecordLocation {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return catalog.RecordLocation(b[:])
}

func txFor(db *bbolt.DB, ru catalog.RecoveryUnit) (tx *bbolt.Tx, owns bool, err error) {
	if ru != nil {
		if t := ru.Tx(); t != nil {
			return t, false, nil
		}
	}
	tx, err = db.Begin(true)
	return tx, true, err
}

func finish(tx *bbolt.Tx, owns bool, err *error) {
	if !owns {
		return
	}
	if *err != nil {
		_ = tx.Rollback()
		return
	}
	*err = tx.Commit()
}

// recordStore is a catalog.RecordStore over one bbolt bucket, keyed by an
// 8-byte big-endian sequence number per record.
type recordStore struct {
	db     *bbolt.DB
	bucket []byte
	capped catalog.CollectionOptionsForEngine
}

func (r *recordStore) Insert(ctx context.Context, ru catalog.RecoveryUnit, data []byte) (loc catalog.RecordLocation, err error) {
	tx, owns, err := txFor(r.db, ru)
	if err != nil {
		return "", err
	}
	defer finish(tx, owns, &err)

	b := tx.Bucket(r.bucket)
	seq, err := b.NextSequence()
	if err != nil {
		return "", err
	}
	loc = locationKey(seq)
	if err = b.Put([]byte(loc), data); err != nil {
		return "", err
	}
	if r.capped.Capped {
		if err = r.enforceCap(b); err != nil {
			return "", err
		}
	}
	return loc, nil
}

func (r *recordStore) Update(ctx context.Context, ru catalog.RecoveryUnit, loc catalog.RecordLocation, data []byte) (err error) {
	tx, owns, err := txFor(r.db, ru)
	if err != nil {
		return err
	}
	defer finish(tx, owns, &err)

	return tx.Bucket(r.bucket).Put([]byte(loc), data)
}

func (r *recordStore) Delete(ctx context.Context, ru catalog.RecoveryUnit, loc catalog.RecordLocation) (err error) {
	tx, owns, err := txFor(r.db, ru)
	if err != nil {
		return err
	}
	defer finish(tx, owns, &err)

	return tx.Bucket(r.bucket).Delete([]byte(loc))
}

func (r *recordStore) DataFor(ctx context.Context, loc catalog.RecordLocation) ([]byte, bool, error) {
	var data []byte
	err := r.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(r.bucket).Get([]byte(loc))
		if v == nil {
			return nil
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, data != nil, err
}

func (r *recordStore) Truncate(ctx context.Context, ru catalog.RecoveryUnit) (err error) {
	tx, owns, err := txFor(r.db, ru)
	if err != nil {
		return err
	}
	defer finish(tx, owns, &err)

	if err = tx.DeleteBucket(r.bucket); err != nil {
		return err
	}
	_, err = tx.CreateBucket(r.bucket)
	return err
}

func (r *recordStore) Iterate(ctx context.Context, forward bool) (catalog.RecordIterator, error) {
	tx, err := r.db.Begin(false)
	if err != nil {
		return nil, err
	}
	cur := tx.Bucket(r.bucket).Cursor()
	it := &recordIterator{tx: tx, cur: cur, forward: forward, started: false}
	return it, nil
}

// enforceCap drops the oldest records once the store exceeds CappedMax
// documents or CappedSize total bytes, mirroring a capped collection's
// insert-time eviction.
func (r *recordStore) enforceCap(b *bbolt.Bucket) error {
	if r.capped.CappedMax > 0 {
		for int64(b.Stats().KeyN) > r.capped.CappedMax {
			k, _ := b.Cursor().First()
			if k == nil {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
	}
	if r.capped.CappedSize > 0 {
		for totalSize(b) > r.capped.CappedSize {
			k, _ := b.Cursor().First()
			if k == nil {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

func totalSize(b *bbolt.Bucket) int64 {
	var sz int64
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		sz += int64(len(k) + len(v))
	}
	return sz
}

type recordIterator struct {
	tx      *bbolt.Tx
	cur     *bbolt.Cursor
	forward bool
	started bool
}

func (it *recordIterator) Next() (catalog.RecordLocation, []byte, bool) {
	var k, v []byte
	if !it.started {
		it.started = true
		if it.forward {
			k, v = it.cur.First()
		} else {
			k, v = it.cur.Last()
		}
	} else if it.forward {
		k, v = it.cur.Next()
	} else {
		k, v = it.cur.Prev()
	}
	if k == nil {
		return "", nil, false
	}
	return catalog.RecordLocation(k), v, true
}

func (it *recordIterator) Close() error {
	return it.tx.Rollback()
}
