// Package catalog implements the in-process namespace catalog: the mapping
// from logical namespaces to durable per-collection identifiers, backed by
// a reserved catalog record store.
package catalog

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

// identGenerator produces idents of the form <ns>-<node-random>-<counter>,
// where node-random is a cryptographically strong value fixed for the
// lifetime of the process and counter is a monotonic sequence. The pairing
// guarantees a freshly created collection cannot collide with a ghost
// identifier from a previous life, even across crash restarts, as long as
// the random component differs with overwhelming probability each boot.
type identGenerator struct {
	nodeRandom string
	counter    uint64
}

func newIdentGenerator() (*identGenerator, error) {
	random, err := randomHex(8)
	if err != nil {
		return nil, err
	}
	return &identGenerator{nodeRandom: random}, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// next returns the next ident for a brand-new collection in namespace ns.
func (g *identGenerator) next(ns string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-%s-%d", ns, g.nodeRandom, n)
}

// nextIndex returns the next ident for an index belonging to collectionIdent.
func (g *identGenerator) nextIndex(collectionIdent, indexName string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s$%s-%s-%d", collectionIdent, indexName, g.nodeRandom, n)
}
