package catalog

import (
	"context"

	"github.com/replsetd/replsetd/pkg/repl"
)

// Database owns a set of collection entries and is the only component that
// mutates the Namespace map; Engine owns the physical record stores the
// entries point at (§9 "ownership of collection entries").
type Database struct {
	ns     *Namespace
	store  *CatalogRecordStore
	engine Engine
}

// NewDatabase builds a Database catalog over an already-opened Namespace.
func NewDatabase(ns *Namespace, store *CatalogRecordStore, engine Engine) *Database {
	return &Database{ns: ns, store: store, engine: engine}
}

// runInUnitOfWork begins (or, if ru already has an open transaction, nests
// into) a unit of work, allocating a fresh one over the engine's shared
// bbolt handle when the caller didn't supply one, runs fn, and commits on
// success or rolls back on failure. This is what keeps a catalog record
// write and its accompanying engine store create/drop in one bbolt
// transaction instead of two separate commits.
func (d *Database) runInUnitOfWork(ru RecoveryUnit, fn func(RecoveryUnit) error) error {
	if ru == nil {
		ru = d.engine.NewRecoveryUnit()
	}
	if err := ru.BeginUnitOfWork(); err != nil {
		return err
	}
	if err := fn(ru); err != nil {
		_ = ru.Rollback()
		return err
	}
	return ru.CommitUnitOfWork()
}

// NewCollection implements §4.5 newCollection: fails with NamespaceExists if
// already present, otherwise allocates a fresh ident, persists the catalog
// record and creates the physical record store within a single
// unit-of-work, and only then installs the in-memory entry — so a crash
// before commit leaves neither a catalog entry nor an orphan store.
func (d *Database) NewCollection(ctx context.Context, ru RecoveryUnit, ns string, opts CollectionOptions) (string, error) {
	if d.ns.Has(ns) {
		return "", repl.NewError(repl.CodeNamespaceExists, ns)
	}

	ident := d.ns.idents.next(ns)
	rec := Record{
		NS:       ns,
		Ident:    ident,
		MD:       Metadata{NS: ns, Options: opts},
		IdxIdent: map[string]string{},
	}
	engineOpts := CollectionOptionsForEngine{Capped: opts.Capped, CappedSize: opts.CappedSize, CappedMax: opts.CappedMax}

	err := d.runInUnitOfWork(ru, func(tx RecoveryUnit) error {
		if err := d.store.Insert(tx, rec); err != nil {
			return err
		}
		return d.engine.CreateRecordStore(ctx, tx, ident, engineOpts)
	})
	if err != nil {
		return "", err
	}

	d.ns.install(ns, &nsEntry{ident: ident, recordLocation: ns, idxIdent: map[string]string{}})
	return ident, nil
}

// PutMetaData implements §4.5 putMetaData: rebuilds the index-ident mapping,
// keeping existing mappings for indexes still present in md.Indexes and
// allocating fresh idents for any new index. The collection's own ident is
// never regenerated.
func (d *Database) PutMetaData(ru RecoveryUnit, ns string, md Metadata) error {
	entry, ok := d.ns.get(ns)
	if !ok {
		return repl.NewError(repl.CodeNamespaceNotFound, ns)
	}

	rec, found, err := d.store.Get(ns)
	if err != nil {
		return err
	}
	if !found {
		return repl.NewError(repl.CodeNamespaceNotFound, ns)
	}

	newIdxIdent := make(map[string]string, len(md.Indexes))
	for _, idx := range md.Indexes {
		if existing, ok := entry.idxIdent[idx.Spec.Name]; ok {
			newIdxIdent[idx.Spec.Name] = existing
			continue
		}
		newIdxIdent[idx.Spec.Name] = d.ns.idents.nextIndex(entry.ident, idx.Spec.Name)
	}

	rec.MD = md
	rec.MD.NS = ns
	rec.IdxIdent = newIdxIdent
	if err := d.store.Put(ru, ns, rec); err != nil {
		return err
	}

	entry.idxIdent = newIdxIdent
	return nil
}

// RenameCollection implements §4.5 renameCollection: rewrites ns and md.ns,
// clears the temp flag unless stayTemp is set, and atomically moves the
// in-memory entry.
func (d *Database) RenameCollection(ru RecoveryUnit, from, to string, stayTemp bool) error {
	if !d.ns.Has(from) {
		return repl.NewError(repl.CodeNamespaceNotFound, from)
	}
	if d.ns.Has(to) {
		return repl.NewError(repl.CodeNamespaceExists, to)
	}

	rec, found, err := d.store.Get(from)
	if err != nil {
		return err
	}
	if !found {
		return repl.NewError(repl.CodeNamespaceNotFound, from)
	}

	rec.NS = to
	rec.MD.NS = to
	if !stayTemp {
		rec.MD.Options.Temp = false
	}

	if err := d.store.Delete(ru, from); err != nil {
		return err
	}
	if err := d.store.Put(ru, to, rec); err != nil {
		return err
	}

	d.ns.move(from, to)
	return nil
}

// DropCollection implements §4.5 dropCollection: marks the ident
// delete-pending, then drops the physical store and removes the catalog
// record within a single unit-of-work so the two can never land as separate
// commits, and finally clears the delete-pending mark. A crash between the
// pending-drop mark and the clear leaves the ident listed by PendingDrops
// (§7 orphan idents). OpenNamespace does not read that list, so such an
// entry is neither reclaimed nor cleared when the catalog is next opened.
func (d *Database) DropCollection(ctx context.Context, ru RecoveryUnit, ns string) error {
	entry, ok := d.ns.get(ns)
	if !ok {
		return repl.NewError(repl.CodeNamespaceNotFound, ns)
	}

	if err := d.store.MarkPendingDrop(entry.ident); err != nil {
		return err
	}

	err := d.runInUnitOfWork(ru, func(tx RecoveryUnit) error {
		if err := d.engine.DropRecordStore(ctx, tx, entry.ident); err != nil {
			return err
		}
		return d.store.Delete(tx, ns)
	})
	if err != nil {
		return err
	}

	if err := d.store.ClearPendingDrop(entry.ident); err != nil {
		return err
	}

	d.ns.erase(ns)
	return nil
}

// GetCollectionIdent implements §4.5 getCollectionIdent.
func (d *Database) GetCollectionIdent(ns string) string {
	return d.ns.Ident(ns)
}

// GetIndexIdent implements §4.5 getIndexIdent.
func (d *Database) GetIndexIdent(ns, indexName string) string {
	return d.ns.IndexIdent(ns, indexName)
}
