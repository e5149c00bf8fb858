package catalog

import (
	"strings"
	"testing"
)

func TestIdentGeneratorNextIsMonotonicAndUnique(t *testing.T) {
	g, err := newIdentGenerator()
	if err != nil {
		t.Fatal(err)
	}
	a := g.next("db.coll")
	b := g.next("db.coll")
	if a == b {
		t.Fatal("two calls to next() for the same namespace must not collide")
	}
	if !strings.HasPrefix(a, "db.coll-") || !strings.HasPrefix(b, "db.coll-") {
		t.Errorf("idents must be prefixed with their namespace: %q, %q", a, b)
	}
}

func TestIdentGeneratorNextIndexNamespacesUnderCollection(t *testing.T) {
	g, err := newIdentGenerator()
	if err != nil {
		t.Fatal(err)
	}
	collIdent := g.next("db.coll")
	idxIdent := g.nextIndex(collIdent, "by_email")
	if !strings.HasPrefix(idxIdent, collIdent+"$by_email-") {
		t.Errorf("index ident %q must be namespaced under its collection ident %q", idxIdent, collIdent)
	}
}

func TestIdentGeneratorDistinctInstancesDiffer(t *testing.T) {
	g1, err := newIdentGenerator()
	if err != nil {
		t.Fatal(err)
	}
	g2, err := newIdentGenerator()
	if err != nil {
		t.Fatal(err)
	}
	if g1.nodeRandom == g2.nodeRandom {
		t.Fatal("two independently created generators must not share a random node tag (with overwhelming probability)")
	}
}
