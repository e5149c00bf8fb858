package boltengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/replsetd/replsetd/pkg/catalog"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	e, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestRecordStoreInsertAndDataFor(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	if err := e.CreateRecordStore(ctx, nil, "ident-1", catalog.CollectionOptionsForEngine{}); err != nil {
		t.Fatal(err)
	}
	rs, err := e.GetRecordStore(ctx, "ident-1", "db.coll", catalog.CollectionOptionsForEngine{})
	if err != nil {
		t.Fatal(err)
	}

	loc, err := rs.Insert(ctx, nil, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	data, found, err := rs.DataFor(ctx, loc)
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(data) != "hello" {
		t.Fatalf("DataFor = %q, %v, want hello, true", data, found)
	}
}

func TestRecordStoreLocationsPreserveInsertionOrder(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	e.CreateRecordStore(ctx, nil, "ident-1", catalog.CollectionOptionsForEngine{})
	rs, err := e.GetRecordStore(ctx, "ident-1", "db.coll", catalog.CollectionOptionsForEngine{})
	if err != nil {
		t.Fatal(err)
	}

	var locs []catalog.RecordLocation
	for i := 0; i < 5; i++ {
		loc, err := rs.Insert(ctx, nil, []byte{byte(i)})
		if err != nil {
			t.Fatal(err)
		}
		locs = append(locs, loc)
	}
	for i := 1; i < len(locs); i++ {
		if !(locs[i-1] < locs[i]) {
			t.Fatalf("location order not monotonic: %q then %q", locs[i-1], locs[i])
		}
	}
}

func TestRecordStoreUpdateAndDelete(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	e.CreateRecordStore(ctx, nil, "ident-1", catalog.CollectionOptionsForEngine{})
	rs, _ := e.GetRecordStore(ctx, "ident-1", "db.coll", catalog.CollectionOptionsForEngine{})

	loc, err := rs.Insert(ctx, nil, []byte("v1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := rs.Update(ctx, nil, loc, []byte("v2")); err != nil {
		t.Fatal(err)
	}
	data, _, err := rs.DataFor(ctx, loc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v2" {
		t.Fatalf("DataFor after Update = %q, want v2", data)
	}

	if err := rs.Delete(ctx, nil, loc); err != nil {
		t.Fatal(err)
	}
	_, found, err := rs.DataFor(ctx, loc)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected record to be gone after Delete")
	}
}

func TestRecordStoreIterateForwardAndBackward(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	e.CreateRecordStore(ctx, nil, "ident-1", catalog.CollectionOptionsForEngine{})
	rs, _ := e.GetRecordStore(ctx, "ident-1", "db.coll", catalog.CollectionOptionsForEngine{})

	for i := 0; i < 3; i++ {
		if _, err := rs.Insert(ctx, nil, []byte{byte('a' + i)}); err != nil {
			t.Fatal(err)
		}
	}

	it, err := rs.Iterate(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	var forward []byte
	for {
		_, v, ok := it.Next()
		if !ok {
			break
		}
		forward = append(forward, v...)
	}
	if string(forward) != "abc" {
		t.Fatalf("forward order = %q, want abc", forward)
	}

	itRev, err := rs.Iterate(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	defer itRev.Close()
	var backward []byte
	for {
		_, v, ok := itRev.Next()
		if !ok {
			break
		}
		backward = append(backward, v...)
	}
	if string(backward) != "cba" {
		t.Fatalf("backward order = %q, want cba", backward)
	}
}

func TestRecordStoreTruncate(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	e.CreateRecordStore(ctx, nil, "ident-1", catalog.CollectionOptionsForEngine{})
	rs, _ := e.GetRecordStore(ctx, "ident-1", "db.coll", catalog.CollectionOptionsForEngine{})
	rs.Insert(ctx, nil, []byte("x"))
	rs.Insert(ctx, nil, []byte("y"))

	if err := rs.Truncate(ctx, nil); err != nil {
		t.Fatal(err)
	}

	it, err := rs.Iterate(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	if _, _, ok := it.Next(); ok {
		t.Fatal("expected no records after Truncate")
	}
}

func TestRecordStoreCappedMaxEvictsOldest(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	opts := catalog.CollectionOptionsForEngine{Capped: true, CappedMax: 2}
	e.CreateRecordStore(ctx, nil, "ident-1", opts)
	rs, err := e.GetRecordStore(ctx, "ident-1", "db.coll", opts)
	if err != nil {
		t.Fatal(err)
	}

	var locs []catalog.RecordLocation
	for i := 0; i < 4; i++ {
		loc, err := rs.Insert(ctx, nil, []byte{byte('a' + i)})
		if err != nil {
			t.Fatal(err)
		}
		locs = append(locs, loc)
	}

	if _, found, _ := rs.DataFor(ctx, locs[0]); found {
		t.Error("the oldest record must be evicted once CappedMax is exceeded")
	}
	if _, found, _ := rs.DataFor(ctx, locs[3]); !found {
		t.Error("the newest record must survive capped eviction")
	}

	it, err := rs.Iterate(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	count := 0
	for {
		if _, _, ok := it.Next(); !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("remaining record count = %d, want 2 (CappedMax)", count)
	}
}

func TestRecordStoreCappedSizeEvictsOldest(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	// Each record is 8 bytes of key + 4 bytes of value = 12 bytes; cap at 20
	// bytes leaves room for only one record at a time.
	opts := catalog.CollectionOptionsForEngine{Capped: true, CappedSize: 20}
	e.CreateRecordStore(ctx, nil, "ident-1", opts)
	rs, err := e.GetRecordStore(ctx, "ident-1", "db.coll", opts)
	if err != nil {
		t.Fatal(err)
	}

	rs.Insert(ctx, nil, []byte("aaaa"))
	loc2, _ := rs.Insert(ctx, nil, []byte("bbbb"))

	it, err := rs.Iterate(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	count := 0
	var lastVal []byte
	for {
		_, v, ok := it.Next()
		if !ok {
			break
		}
		count++
		lastVal = v
	}
	if count != 1 {
		t.Fatalf("remaining record count = %d, want 1 under a tight CappedSize", count)
	}
	if string(lastVal) != "bbbb" {
		t.Errorf("surviving record = %q, want bbbb", lastVal)
	}
	_ = loc2
}
