// This file contains the room membership tracker. Membership is
// per-connection, not per-user, and is indexed both ways: room to connections
// for fan-out, connection to rooms for the disconnect cascade. Room entries
// exist exactly while non-empty. All methods run under the coordinator mutex.
package chatwire

type membership struct {
	rooms map[string]stringSet
	conns map[string]stringSet
}

func newMembership() *membership {
	return &membership{
		rooms: make(map[string]stringSet),
		conns: make(map[string]stringSet),
	}
}

// join is idempotent; joining a room twice is a no-op.
func (m *membership) join(conversationID, connectionID string) {
	room, ok := m.rooms[conversationID]
	if !ok {
		room = newStringSet()
		m.rooms[conversationID] = room
	}
	room.add(connectionID)

	joined, ok := m.conns[connectionID]
	if !ok {
		joined = newStringSet()
		m.conns[connectionID] = joined
	}
	joined.add(conversationID)
}

// leave removes a connection from one room, deleting the room if it empties.
// Leaving a room the connection is not in is a no-op.
func (m *membership) leave(conversationID, connectionID string) {
	if room, ok := m.rooms[conversationID]; ok {
		room.remove(connectionID)
		if len(room) == 0 {
			delete(m.rooms, conversationID)
		}
	}
	if joined, ok := m.conns[connectionID]; ok {
		joined.remove(conversationID)
		if len(joined) == 0 {
			delete(m.conns, connectionID)
		}
	}
}

// leaveAll detaches a connection from every room it joined and returns the
// affected conversation ids. Rooms that empty out are deleted.
func (m *membership) leaveAll(connectionID string) []string {
	joined, ok := m.conns[connectionID]
	if !ok {
		return nil
	}
	affected := make([]string, 0, len(joined))
	for conversationID := range joined {
		affected = append(affected, conversationID)
		if room, ok := m.rooms[conversationID]; ok {
			room.remove(connectionID)
			if len(room) == 0 {
				delete(m.rooms, conversationID)
			}
		}
	}
	delete(m.conns, connectionID)
	return affected
}

func (m *membership) members(conversationID string) []string {
	room, ok := m.rooms[conversationID]
	if !ok {
		return nil
	}
	return room.values()
}

func (m *membership) contains(conversationID, connectionID string) bool {
	room, ok := m.rooms[conversationID]
	return ok && room.has(connectionID)
}

func (m *membership) roomsOf(connectionID string) []string {
	joined, ok := m.conns[connectionID]
	if !ok {
		return nil
	}
	return joined.values()
}
