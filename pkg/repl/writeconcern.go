package repl

// WriteConcern is the durability predicate a write must satisfy: either a
// numeric node count, the named "majority" mode, or a tagged custom mode.
type WriteConcern struct {
	WMode      string // "", "majority", or a custom mode name
	WNumNodes  int    // meaningful only when WMode == ""
	WTimeoutMS int64
}

// IsMajority reports whether wc asks for the majority write mode.
func (wc WriteConcern) IsMajority() bool { return wc.WMode == "majority" }

// IsNumeric reports whether wc is a plain numeric write concern.
func (wc WriteConcern) IsNumeric() bool { return wc.WMode == "" }

// IsCustom reports whether wc names a custom tagged write mode.
func (wc WriteConcern) IsCustom() bool { return wc.WMode != "" && wc.WMode != "majority" }

// tagMatcher tracks, for one tag pattern, how many distinct values have been
// seen per tag key. It matches spec §9's instruction to preserve greedy
// first-match semantics: a member's tag set is consumed against the pattern
// in the lexicographic order of the pattern's keys, and the first key it can still
// contribute a new value to is credited — a member is never evaluated
// against more than one pattern entry's remaining need in a single pass.
type tagMatcher struct {
	pattern TagPattern
	keys    []string
	seen    map[string]map[string]bool // tag key -> set of distinct values observed
}

func newTagMatcher(pattern TagPattern, keyOrder []string) *tagMatcher {
	seen := make(map[string]map[string]bool, len(pattern))
	for k := range pattern {
		seen[k] = make(map[string]bool)
	}
	return &tagMatcher{pattern: pattern, keys: keyOrder, seen: seen}
}

// Add folds one member's tag set into the matcher. It walks the pattern's
// keys in lexicographic order and, for the first key present in tags whose
// required distinct-value count has not yet been met, records the value.
// This is the greedy first-match behavior: a member carrying tags relevant
// to more than one pattern entry only ever advances the first unmet one.
func (m *tagMatcher) Add(tags map[string]string) {
	for _, key := range m.keys {
		need := m.pattern[key]
		if len(m.seen[key]) >= need {
			continue
		}
		val, ok := tags[key]
		if !ok {
			continue
		}
		m.seen[key][val] = true
		return
	}
}

// Satisfied reports whether every pattern entry has reached its required
// distinct-value count.
func (m *tagMatcher) Satisfied() bool {
	for _, key := range m.keys {
		if len(m.seen[key]) < m.pattern[key] {
			return false
		}
	}
	return true
}

func sortedKeys(pattern TagPattern) []string {
	// Sort the keys lexicographically without importing sort for a handful
	// of keys; tag patterns are small (typically <10 entries) so an
	// insertion sort is sufficient and keeps the greedy match
	// deterministic across runs for a given pattern value.
	keys := make([]string, 0, len(pattern))
	for k := range pattern {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// IsSatisfiedBy reports whether the members' tag sets (each belonging to a
// member whose applied position already meets the awaited position) jointly
// satisfy pattern, using the preserved greedy first-match rule.
func (pattern TagPattern) IsSatisfiedBy(tagSets []map[string]string) bool {
	keys := sortedKeys(pattern)
	matcher := newTagMatcher(pattern, keys)
	for _, tags := range tagSets {
		matcher.Add(tags)
		if matcher.Satisfied() {
			return true
		}
	}
	return matcher.Satisfied()
}

// Done implements the write-concern predicate done(p, wc) from spec §4.4.
// cfg and progress describe the current configuration and per-member
// progress; selfRID identifies the local node's entry within progress.
func Done(p OpTime, wc WriteConcern, cfg Config, progress *ProgressMap, selfRID RID) (bool, error) {
	selfEntry, ok := progress.Get(selfRID)
	if !ok || selfEntry.OpTime.Less(p) {
		return false, nil
	}

	switch {
	case wc.WMode == "":
		return progress.CountAtLeast(p) >= wc.WNumNodes, nil
	case wc.WMode == "majority":
		return progress.CountAtLeast(p) >= cfg.MajorityVoteCount(), nil
	case wc.WMode == kStepDownCheckWriteConcernModeName:
		return progress.CountElectableCaughtUp(cfg, p, selfRID) >= 1, nil
	default:
		pattern, found := cfg.CustomWriteMode(wc.WMode)
		if !found {
			// Missing pattern: unblock the waiter so the caller's final
			// status check reports UnknownReplWriteConcern instead of
			// hanging indefinitely.
			return true, nil
		}
		tagSets := progress.TagsAtLeast(cfg, p)
		return pattern.IsSatisfiedBy(tagSets), nil
	}
}

// kStepDownCheckWriteConcernModeName is the synthetic write-concern mode
// name stepDown uses internally to require "at least one other electable
// member caught up", reusing the awaitReplication predicate machinery
// rather than a bespoke check.
const kStepDownCheckWriteConcernModeName = "$stepDownCheck"
