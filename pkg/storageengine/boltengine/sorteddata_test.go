package boltengine

import (
	"bytes"
	"context"
	"testing"

	"github.com/replsetd/replsetd/pkg/catalog"
)

func openTestIndex(t *testing.T, ident string, unique bool) catalog.SortedDataInterface {
	t.Helper()
	e := openTestEngine(t)
	ctx := context.Background()
	desc := catalog.IndexDescriptor{Name: "idx", Unique: unique}
	if err := e.CreateSortedDataInterface(ctx, nil, ident, desc); err != nil {
		t.Fatal(err)
	}
	idx, err := e.GetSortedDataInterface(ctx, ident, desc)
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestSortedDataUniqueInsertAndScan(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, "idx-1", true)

	if err := idx.Insert(ctx, nil, []byte("b"), catalog.RecordLocation("loc-b"), false); err != nil {
		t.Fatal(err)
	}
	if err := idx.Insert(ctx, nil, []byte("a"), catalog.RecordLocation("loc-a"), false); err != nil {
		t.Fatal(err)
	}

	cur, err := idx.Cursor(true)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()

	k1, loc1, ok := cur.Next()
	if !ok || string(k1) != "a" || loc1 != "loc-a" {
		t.Fatalf("first entry = %q/%q, want a/loc-a", k1, loc1)
	}
	k2, loc2, ok := cur.Next()
	if !ok || string(k2) != "b" || loc2 != "loc-b" {
		t.Fatalf("second entry = %q/%q, want b/loc-b", k2, loc2)
	}
	if _, _, ok := cur.Next(); ok {
		t.Fatal("expected no more entries")
	}
}

func TestSortedDataNonUniqueAllowsDuplicateKeys(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, "idx-1", false)

	key := []byte("dup")
	if err := idx.Insert(ctx, nil, key, catalog.RecordLocation([]byte{0, 0, 0, 0, 0, 0, 0, 1}), true); err != nil {
		t.Fatal(err)
	}
	if err := idx.Insert(ctx, nil, key, catalog.RecordLocation([]byte{0, 0, 0, 0, 0, 0, 0, 2}), true); err != nil {
		t.Fatal(err)
	}

	cur, err := idx.Cursor(true)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()

	count := 0
	for {
		k, _, ok := cur.Next()
		if !ok {
			break
		}
		if !bytes.Equal(k, key) {
			t.Errorf("user key = %q, want %q", k, key)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2 duplicate entries preserved", count)
	}
}

func TestSortedDataRemove(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, "idx-1", true)

	key := []byte("k")
	loc := catalog.RecordLocation("loc-1")
	if err := idx.Insert(ctx, nil, key, loc, false); err != nil {
		t.Fatal(err)
	}
	if err := idx.Remove(ctx, nil, key, loc, false); err != nil {
		t.Fatal(err)
	}

	cur, err := idx.Cursor(true)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()
	if _, _, ok := cur.Next(); ok {
		t.Fatal("expected the index to be empty after Remove")
	}
}

func TestSortedDataCursorSeekExact(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, "idx-1", true)

	idx.Insert(ctx, nil, []byte("apple"), catalog.RecordLocation("loc-apple"), false)
	idx.Insert(ctx, nil, []byte("banana"), catalog.RecordLocation("loc-banana"), false)

	cur, err := idx.Cursor(true)
	if err != nil {
		t.Fatal(err)
	}
	defer cur.Close()

	if !cur.Seek([]byte("banana"), true) {
		t.Fatal("expected exact seek to find an existing key")
	}
	if cur.Seek([]byte("cherry"), true) {
		t.Fatal("expected exact seek for a missing key to fail")
	}
}
