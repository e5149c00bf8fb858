package catalog_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/replsetd/replsetd/pkg/catalog"
	"github.com/replsetd/replsetd/pkg/repl"
	"github.com/replsetd/replsetd/pkg/storageengine/boltengine"
)

type testStack struct {
	db     *catalog.Database
	store  *catalog.CatalogRecordStore
	engine *boltengine.Engine
}

// newTestStack shares one bbolt handle between the catalog store and the
// engine, the same way cmd/replnode wires catalog.OpenCatalogRecordStore
// over boltengine's own engine.DB() — anything else would let a
// RecoveryUnit opened against one *bbolt.DB be handed to the other's
// buckets, which bbolt does not support.
func newTestStack(t *testing.T) *testStack {
	t.Helper()
	dir := t.TempDir()

	engine, err := boltengine.Open(filepath.Join(dir, "engine.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Close() })

	store, err := catalog.OpenCatalogRecordStore(engine.DB())
	if err != nil {
		t.Fatal(err)
	}
	ns, err := catalog.OpenNamespace(store)
	if err != nil {
		t.Fatal(err)
	}

	return &testStack{db: catalog.NewDatabase(ns, store, engine), store: store, engine: engine}
}

func TestDatabaseNewCollectionCreatesEntryAndStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)

	ident, err := s.db.NewCollection(ctx, nil, "db.coll", catalog.CollectionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if ident == "" {
		t.Fatal("expected a non-empty ident")
	}
	if got := s.db.GetCollectionIdent("db.coll"); got != ident {
		t.Errorf("GetCollectionIdent = %q, want %q", got, ident)
	}
}

func TestDatabaseNewCollectionRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	if _, err := s.db.NewCollection(ctx, nil, "db.coll", catalog.CollectionOptions{}); err != nil {
		t.Fatal(err)
	}
	_, err := s.db.NewCollection(ctx, nil, "db.coll", catalog.CollectionOptions{})
	if !repl.HasCode(err, repl.CodeNamespaceExists) {
		t.Fatalf("err = %v, want CodeNamespaceExists", err)
	}
}

func TestDatabasePutMetaDataPreservesExistingIndexIdents(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	if _, err := s.db.NewCollection(ctx, nil, "db.coll", catalog.CollectionOptions{}); err != nil {
		t.Fatal(err)
	}

	md := catalog.Metadata{Indexes: []catalog.IndexMetadata{{Spec: catalog.IndexDescriptor{Name: "by_email"}}}}
	if err := s.db.PutMetaData(nil, "db.coll", md); err != nil {
		t.Fatal(err)
	}
	firstIdent := s.db.GetIndexIdent("db.coll", "by_email")
	if firstIdent == "" {
		t.Fatal("expected a non-empty index ident")
	}

	// Re-applying the same index name must keep the same ident.
	if err := s.db.PutMetaData(nil, "db.coll", md); err != nil {
		t.Fatal(err)
	}
	if got := s.db.GetIndexIdent("db.coll", "by_email"); got != firstIdent {
		t.Errorf("index ident changed across PutMetaData calls: %q -> %q", firstIdent, got)
	}

	// A new index name gets a fresh ident.
	md2 := catalog.Metadata{Indexes: []catalog.IndexMetadata{
		{Spec: catalog.IndexDescriptor{Name: "by_email"}},
		{Spec: catalog.IndexDescriptor{Name: "by_age"}},
	}}
	if err := s.db.PutMetaData(nil, "db.coll", md2); err != nil {
		t.Fatal(err)
	}
	if got := s.db.GetIndexIdent("db.coll", "by_email"); got != firstIdent {
		t.Errorf("by_email ident changed after adding a second index: %q -> %q", firstIdent, got)
	}
	if s.db.GetIndexIdent("db.coll", "by_age") == "" {
		t.Fatal("expected by_age to get a fresh ident")
	}
}

func TestDatabaseRenameCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	ident, err := s.db.NewCollection(ctx, nil, "db.old", catalog.CollectionOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.db.RenameCollection(nil, "db.old", "db.new", false); err != nil {
		t.Fatal(err)
	}
	if got := s.db.GetCollectionIdent("db.new"); got != ident {
		t.Errorf("GetCollectionIdent(db.new) = %q, want %q", got, ident)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected GetCollectionIdent(db.old) to panic after rename")
		}
	}()
	s.db.GetCollectionIdent("db.old")
}

func TestDatabaseRenameCollectionRejectsExistingTarget(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	if _, err := s.db.NewCollection(ctx, nil, "db.a", catalog.CollectionOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.NewCollection(ctx, nil, "db.b", catalog.CollectionOptions{}); err != nil {
		t.Fatal(err)
	}
	err := s.db.RenameCollection(nil, "db.a", "db.b", false)
	if !repl.HasCode(err, repl.CodeNamespaceExists) {
		t.Fatalf("err = %v, want CodeNamespaceExists", err)
	}
}

func TestDatabaseDropCollectionRemovesEntryAndStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	if _, err := s.db.NewCollection(ctx, nil, "db.coll", catalog.CollectionOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := s.db.DropCollection(ctx, nil, "db.coll"); err != nil {
		t.Fatal(err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected GetCollectionIdent to panic for a dropped collection")
		}
	}()
	s.db.GetCollectionIdent("db.coll")
}

func TestDatabaseNewCollectionSharesCallerSuppliedUnitOfWork(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)

	ru := s.engine.NewRecoveryUnit()
	if err := ru.BeginUnitOfWork(); err != nil {
		t.Fatal(err)
	}
	ident, err := s.db.NewCollection(ctx, ru, "db.coll", catalog.CollectionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// Roll back the caller's unit of work before it ever commits: since
	// NewCollection wrote the catalog record and created the physical
	// record store inside this same transaction, rolling back must undo
	// both, leaving no catalog entry and no orphan store.
	if err := ru.Rollback(); err != nil {
		t.Fatal(err)
	}

	rec, found, err := s.store.Get("db.coll")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatalf("catalog record for db.coll survived rollback: %+v", rec)
	}

	if _, err := s.engine.GetRecordStore(ctx, ident, "db.coll", catalog.CollectionOptionsForEngine{}); err == nil {
		t.Fatal("expected the physical record store to have been rolled back along with the catalog record")
	}
}

func TestDatabaseDropCollectionUnknownNamespace(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	err := s.db.DropCollection(ctx, nil, "db.nope")
	if !repl.HasCode(err, repl.CodeNamespaceNotFound) {
		t.Fatalf("err = %v, want CodeNamespaceNotFound", err)
	}
}
