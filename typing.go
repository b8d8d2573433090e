// This file contains the typing indicator table. Each (user, conversation)
// pair holds at most one active entry with an armed expiry timer. Entries
// carry a generation counter so a timer that loses the race against an
// explicit stop or a replacement start fires as a safe no-op. All methods run
// under the coordinator mutex; timers re-enter through Coordinator.expireTyping.
package chatwire

import "time"

type typingKey struct {
	userID         string
	conversationID string
}

type typingEntry struct {
	username  string
	startedAt time.Time
	gen       uint64
	timer     *time.Timer
}

type typingTable struct {
	entries map[typingKey]*typingEntry
	nextGen uint64
}

func newTypingTable() *typingTable {
	return &typingTable{entries: make(map[typingKey]*typingEntry)}
}

// start creates or replaces the entry for key, cancelling any prior timer.
// The caller arms the replacement timer with the returned generation.
func (t *typingTable) start(key typingKey, username string, now time.Time) uint64 {
	if prev, ok := t.entries[key]; ok {
		prev.timer.Stop()
	}
	t.nextGen++
	t.entries[key] = &typingEntry{
		username:  username,
		startedAt: now,
		gen:       t.nextGen,
	}
	return t.nextGen
}

func (t *typingTable) arm(key typingKey, gen uint64, timer *time.Timer) {
	if entry, ok := t.entries[key]; ok && entry.gen == gen {
		entry.timer = timer
	}
}

// stop removes the entry for key if present, cancelling its timer.
// Returns the username captured at start and whether an entry existed.
func (t *typingTable) stop(key typingKey) (string, bool) {
	entry, ok := t.entries[key]
	if !ok {
		return "", false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(t.entries, key)
	return entry.username, true
}

// expire removes the entry only if its generation still matches, turning a
// timer that lost a cancellation race into a no-op.
func (t *typingTable) expire(key typingKey, gen uint64) (string, bool) {
	entry, ok := t.entries[key]
	if !ok || entry.gen != gen {
		return "", false
	}
	delete(t.entries, key)
	return entry.username, true
}

// keysFor returns every active key owned by a user, across all conversations.
func (t *typingTable) keysFor(userID string) []typingKey {
	var keys []typingKey
	for key := range t.entries {
		if key.userID == userID {
			keys = append(keys, key)
		}
	}
	return keys
}

// stale returns keys whose entries are older than threshold. Used by the
// defensive sweep as a backstop against lost timer callbacks.
func (t *typingTable) stale(threshold time.Duration, now time.Time) []typingKey {
	var keys []typingKey
	for key, entry := range t.entries {
		if now.Sub(entry.startedAt) > threshold {
			keys = append(keys, key)
		}
	}
	return keys
}

func (t *typingTable) active(key typingKey) bool {
	_, ok := t.entries[key]
	return ok
}

func (t *typingTable) stopAll() {
	for key, entry := range t.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(t.entries, key)
	}
}
