package catalog

import (
	"sync"

	"github.com/replsetd/replsetd/pkg/rlog"
)

// nsEntry is one namespace's in-memory catalog entry: its ident and the
// record location (namespace string, for the bolt-backed catalog store) it
// was read from.
type nsEntry struct {
	ident          string
	recordLocation string
	idxIdent       map[string]string
}

// Namespace is the in-memory ns -> entry map, the runtime source of truth,
// rebuilt from the catalog record store on start (§4.5 Open).
type Namespace struct {
	mu      sync.RWMutex
	entries map[string]*nsEntry
	store   *CatalogRecordStore
	idents  *identGenerator
}

// OpenNamespace scans the catalog record store and populates the in-memory
// map. A corrupt entry logs a warning and is skipped rather than aborting
// startup — the tolerant-open behavior carried over from the original
// engine's constructor (see SPEC_FULL.md §3).
func OpenNamespace(store *CatalogRecordStore) (*Namespace, error) {
	gen, err := newIdentGenerator()
	if err != nil {
		return nil, err
	}
	ns := &Namespace{
		entries: make(map[string]*nsEntry),
		store:   store,
		idents:  gen,
	}

	log := rlog.WithComponent("catalog")
	err = store.ForEach(func(rec Record) error {
		entry := &nsEntry{
			ident:          rec.Ident,
			recordLocation: rec.NS,
			idxIdent:       rec.IdxIdent,
		}
		ns.entries[rec.NS] = entry
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("catalog scan encountered a corrupt entry, continuing tolerant open")
	}
	return ns, nil
}

// Has reports whether ns is currently a known namespace.
func (n *Namespace) Has(namespace string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.entries[namespace]
	return ok
}

// Ident returns the ident for namespace, panicking if it is not known — the
// catalog is the source of truth and callers must have materialized the
// entry first (§4.5 getCollectionIdent).
func (n *Namespace) Ident(namespace string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.entries[namespace]
	if !ok {
		panic("catalog: Ident called for unknown namespace " + namespace)
	}
	return e.ident
}

// IndexIdent returns the ident for namespace's index name, panicking if
// either is not known.
func (n *Namespace) IndexIdent(namespace, indexName string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.entries[namespace]
	if !ok {
		panic("catalog: IndexIdent called for unknown namespace " + namespace)
	}
	ident, ok := e.idxIdent[indexName]
	if !ok {
		panic("catalog: IndexIdent called for unknown index " + indexName + " on " + namespace)
	}
	return ident
}

func (n *Namespace) get(namespace string) (*nsEntry, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.entries[namespace]
	return e, ok
}

func (n *Namespace) install(namespace string, e *nsEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries[namespace] = e
}

func (n *Namespace) erase(namespace string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.entries, namespace)
}

func (n *Namespace) move(from, to string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e := n.entries[from]
	delete(n.entries, from)
	n.entries[to] = e
}
