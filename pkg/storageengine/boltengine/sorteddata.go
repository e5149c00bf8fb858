package boltengine

import (
	"bytes"
	"context"

	"go.etcd.io/bbolt"

	"github.com/replsetd/replsetd/pkg/catalog"
)

// sortedData is a catalog.SortedDataInterface over one bbolt bucket. Unique
// indexes store key -> location directly; non-unique indexes append the
// 8-byte location to the user key so duplicates sort by (key, location) and
// every entry gets its own bucket key.
type sortedData struct {
	db     *bbolt.DB
	bucket []byte
	unique bool
}

func compositeKey(userKey []byte, loc catalog.RecordLocation) []byte {
	k := make([]byte, 0, len(userKey)+len(loc))
	k = append(k, userKey...)
	k = append(k, []byte(loc)...)
	return k
}

func splitCompositeKey(stored []byte) (userKey []byte, loc catalog.RecordLocation) {
	if len(stored) < 8 {
		return stored, ""
	}
	split := len(stored) - 8
	return stored[:split], catalog.RecordLocation(stored[split:])
}

func (s *sortedData) Insert(ctx context.Context, ru catalog.RecoveryUnit, key []byte, loc catalog.RecordLocation, dupsAllowed bool) (err error) {
	tx, owns, err := txFor(s.db, ru)
	if err != nil {
		return err
	}
	defer finish(tx, owns, &err)

	b := tx.Bucket(s.bucket)
	if dupsAllowed {
		return b.Put(compositeKey(key, loc), []byte(loc))
	}
	return b.Put(key, []byte(loc))
}

func (s *sortedData) Remove(ctx context.Context, ru catalog.RecoveryUnit, key []byte, loc catalog.RecordLocation, dupsAllowed bool) (err error) {
	tx, owns, err := txFor(s.db, ru)
	if err != nil {
		return err
	}
	defer finish(tx, owns, &err)

	b := tx.Bucket(s.bucket)
	if dupsAllowed {
		return b.Delete(compositeKey(key, loc))
	}
	return b.Delete(key)
}

func (s *sortedData) Cursor(forward bool) (catalog.IndexCursor, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &indexCursor{tx: tx, cur: tx.Bucket(s.bucket).Cursor(), forward: forward, unique: s.unique}, nil
}

type indexCursor struct {
	tx      *bbolt.Tx
	cur     *bbolt.Cursor
	forward bool
	unique  bool
	started bool
}

// Seek positions the cursor at key. exact requires an exact user-key match;
// otherwise it lands on the nearest entry in the iteration direction, the
// way a range-bound index scan starts.
func (c *indexCursor) Seek(key []byte, exact bool) bool {
	c.started = true
	k, _ := c.cur.Seek(key)
	if k == nil {
		if c.forward || exact {
			return false
		}
		// Every stored key is below target, so the last entry is already
		// the nearest key <= target for a reverse scan.
		k, _ = c.cur.Last()
		return k != nil
	}
	if exact {
		userKey, _ := c.entryKey(k)
		return bytes.Equal(userKey, key)
	}
	if !c.forward && !bytes.HasPrefix(k, key) {
		// Seek lands at the first key >= target; stepping back one entry
		// gives the nearest key <= target for a reverse scan.
		prevK, _ := c.cur.Prev()
		if prevK == nil {
			c.cur.Seek(k)
			return false
		}
	}
	return true
}

func (c *indexCursor) entryKey(stored []byte) ([]byte, catalog.RecordLocation) {
	if c.unique {
		return stored, ""
	}
	return splitCompositeKey(stored)
}

func (c *indexCursor) Next() ([]byte, catalog.RecordLocation, bool) {
	var k, v []byte
	if !c.started {
		c.started = true
		if c.forward {
			k, v = c.cur.First()
		} else {
			k, v = c.cur.Last()
		}
	} else if c.forward {
		k, v = c.cur.Next()
	} else {
		k, v = c.cur.Prev()
	}
	if k == nil {
		return nil, "", false
	}
	userKey, loc := c.entryKey(k)
	if c.unique {
		loc = catalog.RecordLocation(v)
	}
	return userKey, loc, true
}

func (c *indexCursor) Close() error {
	return c.tx.Rollback()
}
