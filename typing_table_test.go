package chatwire

import (
	"testing"
	"time"
)

func TestTypingTableGenerations(t *testing.T) {
	table := newTypingTable()

	key := typingKey{userID: "U1", conversationID: "c1"}

	gen1 := table.start(key, "alice", time.Now())

	table.arm(key, gen1, time.NewTimer(time.Hour))

	gen2 := table.start(key, "alice", time.Now())

	table.arm(key, gen2, time.NewTimer(time.Hour))

	if gen2 <= gen1 {
		t.Fatalf("expected generations to increase, got %d then %d", gen1, gen2)
	}

	// The superseded generation must not expire the live entry.
	if _, ok := table.expire(key, gen1); ok {
		t.Error("expected stale generation to be a no-op")
	}
	if !table.active(key) {
		t.Error("expected entry still active")
	}

	username, ok := table.expire(key, gen2)

	if !ok || username != "alice" {
		t.Errorf("expected live generation to expire with username, got %q %v", username, ok)
	}
	if table.active(key) {
		t.Error("expected entry gone after expiry")
	}
}

func TestTypingTableStop(t *testing.T) {
	table := newTypingTable()

	key := typingKey{userID: "U1", conversationID: "c1"}

	gen := table.start(key, "alice", time.Now())

	table.arm(key, gen, time.NewTimer(time.Hour))

	username, ok := table.stop(key)

	if !ok || username != "alice" {
		t.Errorf("expected captured username, got %q %v", username, ok)
	}
	if _, ok := table.stop(key); ok {
		t.Error("expected second stop to report no entry")
	}
}

func TestTypingTableQueries(t *testing.T) {
	table := newTypingTable()

	now := time.Now()

	table.start(typingKey{userID: "U1", conversationID: "c1"}, "alice", now.Add(-20*time.Second))

	table.start(typingKey{userID: "U1", conversationID: "c2"}, "alice", now)

	table.start(typingKey{userID: "U2", conversationID: "c1"}, "bob", now)

	if got := len(table.keysFor("U1")); got != 2 {
		t.Errorf("expected 2 keys for U1, got %d", got)
	}
	stale := table.stale(10*time.Second, now)

	if len(stale) != 1 || stale[0].conversationID != "c1" || stale[0].userID != "U1" {
		t.Errorf("expected one stale key for U1/c1, got %v", stale)
	}

	table.stopAll()

	if len(table.entries) != 0 {
		t.Errorf("expected table drained, got %d entries", len(table.entries))
	}
}
