package chatwire

// socketBroadcaster delivers coordinator emissions over the gateway's live
// websocket connections. A send to a connection that already left the table
// is a benign race with the disconnect cascade and resolves to a no-op.
type socketBroadcaster struct {
	conns   *store[*Conn]
	members func(conversationID string) []string
}

func newSocketBroadcaster(conns *store[*Conn], members func(string) []string) *socketBroadcaster {
	return &socketBroadcaster{
		conns:   conns,
		members: members,
	}
}

func (b *socketBroadcaster) SendTo(connectionID, event string, payload interface{}) error {
	conn, err := b.conns.Read(connectionID)

	if err != nil {
		return nil
	}
	return conn.SendEvent(event, payload)
}

// SendToRoom resolves the room membership and fans the event out to every
// joined connection except the excluded ids. The coordinator never calls this
// (it resolves recipients itself); it exists for application code holding a
// Broadcaster capability.
func (b *socketBroadcaster) SendToRoom(conversationID, event string, payload interface{}, exclude ...string) error {
	skip := newStringSet()

	for _, id := range exclude {
		skip.add(id)
	}

	var errs error
	for _, connectionID := range b.members(conversationID) {
		if skip.has(connectionID) {
			continue
		}
		errs = addError(errs, b.SendTo(connectionID, event, payload))
	}
	return errs
}
