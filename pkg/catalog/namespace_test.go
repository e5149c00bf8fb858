package catalog

import "testing"

func TestOpenNamespaceRebuildsFromRecordStore(t *testing.T) {
	db := openTestDB(t)
	store, err := OpenCatalogRecordStore(db)
	if err != nil {
		t.Fatal(err)
	}
	rec := Record{NS: "db.coll", Ident: "db.coll-1", IdxIdent: map[string]string{"_id_": "db.coll-1$_id_-1"}}
	if err := store.Insert(nil, rec); err != nil {
		t.Fatal(err)
	}

	ns, err := OpenNamespace(store)
	if err != nil {
		t.Fatal(err)
	}
	if !ns.Has("db.coll") {
		t.Fatal("expected OpenNamespace to rebuild the entry from the record store")
	}
	if got := ns.Ident("db.coll"); got != "db.coll-1" {
		t.Errorf("Ident = %q, want db.coll-1", got)
	}
	if got := ns.IndexIdent("db.coll", "_id_"); got != "db.coll-1$_id_-1" {
		t.Errorf("IndexIdent = %q, want db.coll-1$_id_-1", got)
	}
}

func TestNamespaceHasFalseForUnknown(t *testing.T) {
	db := openTestDB(t)
	store, err := OpenCatalogRecordStore(db)
	if err != nil {
		t.Fatal(err)
	}
	ns, err := OpenNamespace(store)
	if err != nil {
		t.Fatal(err)
	}
	if ns.Has("db.nope") {
		t.Fatal("expected Has to report false for an unknown namespace")
	}
}

func TestNamespaceIdentPanicsOnUnknown(t *testing.T) {
	db := openTestDB(t)
	store, _ := OpenCatalogRecordStore(db)
	ns, _ := OpenNamespace(store)

	defer func() {
		if recover() == nil {
			t.Fatal("expected Ident to panic for an unknown namespace")
		}
	}()
	ns.Ident("db.nope")
}

func TestNamespaceIndexIdentPanicsOnUnknownIndex(t *testing.T) {
	db := openTestDB(t)
	store, _ := OpenCatalogRecordStore(db)
	store.Insert(nil, Record{NS: "db.coll", Ident: "db.coll-1", IdxIdent: map[string]string{}})
	ns, _ := OpenNamespace(store)

	defer func() {
		if recover() == nil {
			t.Fatal("expected IndexIdent to panic for an unknown index name")
		}
	}()
	ns.IndexIdent("db.coll", "missing")
}

func TestNamespaceInstallGetEraseMove(t *testing.T) {
	db := openTestDB(t)
	store, _ := OpenCatalogRecordStore(db)
	ns, err := OpenNamespace(store)
	if err != nil {
		t.Fatal(err)
	}

	entry := &nsEntry{ident: "db.coll-1", recordLocation: "db.coll", idxIdent: map[string]string{}}
	ns.install("db.coll", entry)

	got, ok := ns.get("db.coll")
	if !ok || got != entry {
		t.Fatal("expected get to return the installed entry")
	}

	ns.move("db.coll", "db.coll2")
	if ns.Has("db.coll") {
		t.Fatal("expected the old namespace to be gone after move")
	}
	if !ns.Has("db.coll2") {
		t.Fatal("expected the new namespace to exist after move")
	}
	if got := ns.Ident("db.coll2"); got != "db.coll-1" {
		t.Errorf("Ident after move = %q, want db.coll-1", got)
	}

	ns.erase("db.coll2")
	if ns.Has("db.coll2") {
		t.Fatal("expected the namespace to be gone after erase")
	}
}
