package repl

// MemberState is the externally visible state of a replica-set member.
type MemberState string

const (
	MemberStartup    MemberState = "STARTUP"
	MemberStartup2   MemberState = "STARTUP2"
	MemberPrimary    MemberState = "PRIMARY"
	MemberSecondary  MemberState = "SECONDARY"
	MemberRecovering MemberState = "RECOVERING"
	MemberRollback   MemberState = "ROLLBACK"
	MemberArbiter    MemberState = "ARBITER"
	MemberDown       MemberState = "DOWN"
	MemberRemoved    MemberState = "REMOVED"
	MemberUnknown    MemberState = "UNKNOWN"
)

// Primary reports whether the state is PRIMARY.
func (s MemberState) Primary() bool { return s == MemberPrimary }

// Secondary reports whether the state is SECONDARY.
func (s MemberState) Secondary() bool { return s == MemberSecondary }

// Removed reports whether the state is REMOVED.
func (s MemberState) Removed() bool { return s == MemberRemoved }

// CanVote reports whether a member in this state participates in elections
// as a candidate or voter. Arbiters vote but never become primary; that
// distinction is carried on the member config, not the state.
func (s MemberState) CanVote() bool {
	switch s {
	case MemberSecondary, MemberPrimary, MemberArbiter:
		return true
	default:
		return false
	}
}

// Role is the internal topology role, distinct from MemberState.
type Role string

const (
	RoleFollower  Role = "follower"
	RoleCandidate Role = "candidate"
	RoleLeader    Role = "leader"
)

// ReplicationMode gates fast-path behavior for awaitReplication and the
// legacy master/slave surface. Master/slave is an explicit spec non-goal;
// ModeMasterSlave exists only as a gate, no behavior implements it.
type ReplicationMode int

const (
	ModeNone ReplicationMode = iota
	ModeReplSet
	ModeMasterSlave
)

// UsingReplSets reports whether replica-set mode fast paths apply.
func (m ReplicationMode) UsingReplSets() bool { return m == ModeReplSet }
