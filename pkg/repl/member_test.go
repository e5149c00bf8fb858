package repl

import "testing"

func TestMemberStatePredicates(t *testing.T) {
	if !MemberPrimary.Primary() {
		t.Error("PRIMARY must report Primary()")
	}
	if MemberSecondary.Primary() {
		t.Error("SECONDARY must not report Primary()")
	}
	if !MemberSecondary.Secondary() {
		t.Error("SECONDARY must report Secondary()")
	}
	if !MemberRemoved.Removed() {
		t.Error("REMOVED must report Removed()")
	}
}

func TestMemberStateCanVote(t *testing.T) {
	voters := []MemberState{MemberSecondary, MemberPrimary, MemberArbiter}
	for _, s := range voters {
		if !s.CanVote() {
			t.Errorf("%s must be able to vote", s)
		}
	}
	nonVoters := []MemberState{MemberStartup, MemberStartup2, MemberRecovering, MemberRollback, MemberDown, MemberRemoved, MemberUnknown}
	for _, s := range nonVoters {
		if s.CanVote() {
			t.Errorf("%s must not be able to vote", s)
		}
	}
}

func TestReplicationModeUsingReplSets(t *testing.T) {
	if !ModeReplSet.UsingReplSets() {
		t.Error("ModeReplSet must report UsingReplSets")
	}
	if ModeMasterSlave.UsingReplSets() {
		t.Error("ModeMasterSlave must not report UsingReplSets")
	}
	if ModeNone.UsingReplSets() {
		t.Error("ModeNone must not report UsingReplSets")
	}
}
