package chatwire

import (
	"testing"
)

func TestMembershipJoinLeave(t *testing.T) {
	m := newMembership()

	m.join("c1", "conn1")

	m.join("c1", "conn1")

	m.join("c1", "conn2")

	if got := len(m.members("c1")); got != 2 {
		t.Errorf("expected 2 members after idempotent joins, got %d", got)
	}
	if !m.contains("c1", "conn1") {
		t.Error("expected conn1 in c1")
	}

	m.leave("c1", "conn1")

	if m.contains("c1", "conn1") {
		t.Error("expected conn1 removed from c1")
	}

	// Leaving again, or leaving an unknown room, must not disturb anything.
	m.leave("c1", "conn1")

	m.leave("nowhere", "conn1")

	if got := len(m.members("c1")); got != 1 {
		t.Errorf("expected 1 member, got %d", got)
	}

	m.leave("c1", "conn2")

	if m.members("c1") != nil {
		t.Error("expected empty room to be deleted")
	}
	if _, ok := m.rooms["c1"]; ok {
		t.Error("expected room entry removed from the forward index")
	}
}

func TestMembershipLeaveAll(t *testing.T) {
	m := newMembership()

	m.join("c1", "conn1")

	m.join("c2", "conn1")

	m.join("c1", "conn2")

	affected := m.leaveAll("conn1")

	if len(affected) != 2 {
		t.Errorf("expected 2 affected rooms, got %v", affected)
	}
	if m.roomsOf("conn1") != nil {
		t.Error("expected reverse index cleared")
	}
	if got := len(m.members("c1")); got != 1 {
		t.Errorf("expected conn2 left in c1, got %d members", got)
	}
	if m.members("c2") != nil {
		t.Error("expected emptied c2 deleted")
	}

	if m.leaveAll("conn1") != nil {
		t.Error("expected repeat leaveAll to return nothing")
	}
}
