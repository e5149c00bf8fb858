package repl

import (
	"fmt"
	"time"
)

// MemberConfig describes one member of a replica-set configuration.
type MemberConfig struct {
	ID           int
	Host         string
	VoteWeight   int
	Priority     float64
	Tags         map[string]string
	BuildIndexes bool
	SlaveDelay   time.Duration
	Arbiter      bool
	Hidden       bool
}

// Votes reports the effective vote weight, never negative.
func (m MemberConfig) Votes() int {
	if m.VoteWeight < 0 {
		return 0
	}
	return m.VoteWeight
}

// Electable reports whether this member may become primary: it must carry a
// non-zero priority and not be an arbiter.
func (m MemberConfig) Electable() bool {
	return !m.Arbiter && m.Priority > 0
}

// TagPattern is one named entry of a custom write-concern mode: a set of
// tag-key -> minimum distinct-value-count requirements.
type TagPattern map[string]int

// Config is an immutable replica-set configuration snapshot.
type Config struct {
	Version    int64
	SetName    string
	Members    []MemberConfig
	WriteModes map[string]TagPattern
	// SelfIndex is the index into Members identifying the local node, or -1
	// if the local node is not part of this configuration.
	SelfIndex int
}

// Validate checks the structural invariants spec §3 requires of a
// configuration: exactly one self member when SelfIndex >= 0, unique member
// ids, and at least one voting member.
func (c Config) Validate() error {
	if c.SetName == "" {
		return NewError(CodeInternalError, "config set name must not be empty")
	}
	if len(c.Members) == 0 {
		return NewError(CodeInternalError, "config must have at least one member")
	}
	if c.SelfIndex >= len(c.Members) {
		return NewError(CodeInternalError, "selfIndex out of range")
	}
	seen := make(map[int]bool, len(c.Members))
	totalVotes := 0
	for _, m := range c.Members {
		if seen[m.ID] {
			return NewError(CodeInternalError, fmt.Sprintf("duplicate member id %d", m.ID))
		}
		seen[m.ID] = true
		totalVotes += m.Votes()
	}
	if totalVotes == 0 {
		return NewError(CodeInternalError, "config must have at least one voting member")
	}
	return nil
}

// MajorityVoteCount returns the number of votes required for a majority
// write concern or election quorum under this configuration.
func (c Config) MajorityVoteCount() int {
	total := 0
	for _, m := range c.Members {
		total += m.Votes()
	}
	return total/2 + 1
}

// CustomWriteMode looks up a named tag pattern. The second return value is
// false if the mode is not defined in this configuration.
func (c Config) CustomWriteMode(name string) (TagPattern, bool) {
	p, ok := c.WriteModes[name]
	return p, ok
}

// MemberByID returns the member config with the given id, or false if none
// matches.
func (c Config) MemberByID(id int) (MemberConfig, bool) {
	for _, m := range c.Members {
		if m.ID == id {
			return m, true
		}
	}
	return MemberConfig{}, false
}

// Self returns the local member's config. Panics if SelfIndex < 0 — callers
// must check HasSelf first.
func (c Config) Self() MemberConfig {
	if c.SelfIndex < 0 {
		panic("repl: Self() called on a config with no self member")
	}
	return c.Members[c.SelfIndex]
}

// HasSelf reports whether the local node is a member of this configuration.
func (c Config) HasSelf() bool {
	return c.SelfIndex >= 0 && c.SelfIndex < len(c.Members)
}

// ElectableMembers returns the members eligible to become primary.
func (c Config) ElectableMembers() []MemberConfig {
	out := make([]MemberConfig, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Electable() {
			out = append(out, m)
		}
	}
	return out
}
