package repl

import (
	"sync"

	"github.com/google/uuid"
)

// RID is a stable per-node identifier used to key the progress map. It
// survives reconfiguration; the member id does not need to.
type RID string

// NewRID generates a fresh, node-stable identifier, used the first time a
// node is handshaken into the progress map.
func NewRID() RID {
	return RID(uuid.NewString())
}

// ProgressEntry is one member's last known applied position.
type ProgressEntry struct {
	RID         RID
	MemberID    int
	HostAndPort string
	OpTime      OpTime
}

// ProgressMap tracks the applied position of every member currently
// handshaken into the replica set, keyed by RID. It is safe for concurrent
// use: every method takes the internal mutex for its own duration, so a
// multi-entry view is consistent only within a single method call.
type ProgressMap struct {
	mu      sync.RWMutex
	entries map[RID]*ProgressEntry
}

// NewProgressMap builds an empty progress map.
func NewProgressMap() *ProgressMap {
	return &ProgressMap{entries: make(map[RID]*ProgressEntry)}
}

// Ensure creates an entry for rid if absent, returning the existing or new
// entry.
func (p *ProgressMap) Ensure(rid RID, memberID int, hostAndPort string) *ProgressEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[rid]; ok {
		return e
	}
	e := &ProgressEntry{RID: rid, MemberID: memberID, HostAndPort: hostAndPort}
	p.entries[rid] = e
	return e
}

// Get returns the entry for rid, or false if it has not been handshaken.
func (p *ProgressMap) Get(rid RID) (ProgressEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[rid]
	if !ok {
		return ProgressEntry{}, false
	}
	return *e, true
}

// Advance sets rid's applied position to t. For any RID other than self it
// is rejected (returns false) if t does not advance the existing position —
// progress for remote members is monotonic non-decreasing. Self's entry may
// move backward to support rollback; callers distinguish self by passing
// selfRID.
func (p *ProgressMap) Advance(rid RID, selfRID RID, t OpTime) (advanced bool, found bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[rid]
	if !ok {
		return false, false
	}
	if rid == selfRID {
		if t == e.OpTime {
			return false, true
		}
		e.OpTime = t
		return true, true
	}
	if e.OpTime.GreaterOrEqual(t) {
		return false, true
	}
	e.OpTime = t
	return true, true
}

// UpdateIdentity rewrites rid's MemberID and HostAndPort without touching
// its applied position, used when a reconfig changes self's member id.
func (p *ProgressMap) UpdateIdentity(rid RID, memberID int, hostAndPort string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[rid]; ok {
		e.MemberID = memberID
		e.HostAndPort = hostAndPort
	}
}

// Remove deletes rid's entry, used when a member is pruned from the
// configuration at reconfig.
func (p *ProgressMap) Remove(rid RID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, rid)
}

// CountAtLeast returns the number of distinct entries whose applied position
// is at least t.
func (p *ProgressMap) CountAtLeast(t OpTime) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, e := range p.entries {
		if e.OpTime.GreaterOrEqual(t) {
			n++
		}
	}
	return n
}

// TagsAtLeast returns the tag sets of every member (resolved via cfg) whose
// progress entry is at least t — used to feed the write-concern tag matcher.
func (p *ProgressMap) TagsAtLeast(cfg Config, t OpTime) []map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []map[string]string
	for _, e := range p.entries {
		if !e.OpTime.GreaterOrEqual(t) {
			continue
		}
		if m, ok := cfg.MemberByID(e.MemberID); ok {
			out = append(out, m.Tags)
		}
	}
	return out
}

// CountElectableCaughtUp returns the number of handshaken members, other
// than selfRID, that are electable under cfg and at or past t. This is the
// predicate stepDown needs to decide whether another electable secondary
// could take over immediately.
func (p *ProgressMap) CountElectableCaughtUp(cfg Config, t OpTime, selfRID RID) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, m := range cfg.ElectableMembers() {
		if cfg.HasSelf() && m.ID == cfg.Self().ID {
			continue
		}
		for _, e := range p.entries {
			if e.RID == selfRID {
				continue
			}
			if e.MemberID == m.ID && e.OpTime.GreaterOrEqual(t) {
				n++
				break
			}
		}
	}
	return n
}

// Snapshot returns a copy of every entry, for tests and diagnostics.
func (p *ProgressMap) Snapshot() []ProgressEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ProgressEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	return out
}
