// This file contains the Coordinator which owns the connection registry, the
// room membership tracker, and the typing table. All state mutations serialize
// through a single event-loop goroutine; outbound sends are resolved into
// emissions on the loop and flushed through the Broadcaster from there, so no
// state map ever sees overlapping mutations. Typing timers and the periodic
// sweep funnel through the same loop.
package chatwire

import (
	"context"
	"log/slog"
	"time"
)

type Coordinator struct {
	registry    *registry
	rooms       *membership
	typing      *typingTable
	broadcaster Broadcaster
	relay       MessageRelay
	hooks       *Hooks
	log         *slog.Logger

	typingTTL      time.Duration
	sweepInterval  time.Duration
	sweepThreshold time.Duration

	queue  chan func()
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCoordinator creates a coordinator and starts its event loop and periodic
// typing sweep. Config.Broadcaster is required; every other field defaults.
// Close the coordinator to stop the loop and cancel armed timers.
func NewCoordinator(ctx context.Context, config Config) *Coordinator {
	coordCtx, cancel := context.WithCancel(ctx)

	c := &Coordinator{
		registry:       newRegistry(),
		rooms:          newMembership(),
		typing:         newTypingTable(),
		broadcaster:    config.Broadcaster,
		relay:          config.Relay,
		hooks:          config.Hooks,
		log:            config.Logger,
		typingTTL:      config.TypingTTL,
		sweepInterval:  config.SweepInterval,
		sweepThreshold: config.SweepThreshold,
		queue:          make(chan func(), 256),
		ctx:            coordCtx,
		cancel:         cancel,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.relay == nil {
		c.relay = noopRelay{}
	}
	if c.typingTTL <= 0 {
		c.typingTTL = defaultTypingTTL
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = defaultSweepInterval
	}
	if c.sweepThreshold <= 0 {
		c.sweepThreshold = defaultSweepThreshold
	}
	if c.broadcaster == nil {
		c.log.Warn("coordinator created without broadcaster, outbound events will be dropped")
		c.broadcaster = discardBroadcaster{}
	}

	go c.run()

	return c
}

// run is the single event-processing stream. Foreground operations, timer
// callbacks, and the sweep all funnel through this goroutine, so the four
// state maps never see overlapping mutations.
func (c *Coordinator) run() {
	ticker := time.NewTicker(c.sweepInterval)

	defer ticker.Stop()

	for {
		select {
		case fn := <-c.queue:
			fn()
		case now := <-ticker.C:
			c.sweepTyping(now)
		case <-c.ctx.Done():
			c.typing.stopAll()

			return
		}
	}
}

// dispatch queues an operation onto the event loop and waits for it to run.
// Events submitted from one connection's read loop therefore complete in
// receipt order. Returns without running if the coordinator is shutting down.
func (c *Coordinator) dispatch(fn func()) {
	done := make(chan struct{})

	wrapped := func() {
		defer close(done)

		fn()
	}
	select {
	case c.queue <- wrapped:
	case <-c.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-c.ctx.Done():
	}
}

// Close stops the event loop, cancels armed typing timers, and releases the
// periodic sweep. It is safe to call more than once.
func (c *Coordinator) Close() {
	c.cancel()
}

// Register binds a connection to a user, caching the supplied profile for
// message enrichment. Re-registering a live connection under a new user
// detaches the prior mapping first, including its presence transition and
// typing cleanup when that was the prior user's last connection. Fires
// user-status-change only on the offline-to-online transition.
func (c *Coordinator) Register(connectionID string, p RegisterPayload) {
	if connectionID == "" || p.UserID == "" {
		c.dropEvent(connectionID, EventRegister, "missing userId")

		return
	}
	c.dispatch(func() {
		now := time.Now()

		var ems []emission
		detached, detachedOffline, wentOnline := c.registry.bind(connectionID, p.UserID)

		if detachedOffline {
			ems = append(ems, c.stopTypingFor(detached, "")...)

			ems = append(ems, c.presenceEmissions(detached, false, now)...)
		}
		if p.Username != "" || p.Name != "" || p.Surname != "" || p.Avatar != "" {
			c.registry.setProfile(p.UserID, Profile{
				Username:  p.Username,
				Name:      p.Name,
				Surname:   p.Surname,
				AvatarURL: p.Avatar,
			})
		}
		if wentOnline {
			ems = append(ems, c.presenceEmissions(p.UserID, true, now)...)
		}
		c.log.Debug("connection registered", "connId", connectionID, "userId", p.UserID, "wentOnline", wentOnline)

		c.flush(ems)
	})
}

// Disconnect unwinds a lost connection from every map: registry first, then a
// single forced stop per active typing key owned by the user, then room
// membership. The offline transition fires only when this was the user's last
// connection. The typing cleanup runs exactly once per key regardless of how
// many rooms the connection had joined.
func (c *Coordinator) Disconnect(connectionID string) {
	if connectionID == "" {
		return
	}
	c.dispatch(func() {
		now := time.Now()

		var ems []emission
		userID, wentOffline, ok := c.registry.unregister(connectionID)

		if ok {
			ems = append(ems, c.stopTypingFor(userID, "", connectionID)...)
		}
		rooms := c.rooms.leaveAll(connectionID)

		if wentOffline {
			ems = append(ems, c.presenceEmissions(userID, false, now)...)
		}
		c.log.Debug("connection unwound", "connId", connectionID, "userId", userID, "rooms", len(rooms), "wentOffline", wentOffline)

		c.flush(ems)
	})
}

// Join adds a connection to a conversation room. Idempotent.
func (c *Coordinator) Join(connectionID, conversationID string) {
	if conversationID == "" {
		c.dropEvent(connectionID, EventJoin, "missing conversationId")

		return
	}
	c.dispatch(func() {
		c.rooms.join(conversationID, connectionID)
	})
}

// Leave removes a connection from a conversation room. Any typing session the
// connection's user holds in that conversation is force-stopped, with its
// broadcast, before the membership is removed. Leaving an unjoined room is a
// no-op.
func (c *Coordinator) Leave(connectionID, conversationID string) {
	if conversationID == "" {
		c.dropEvent(connectionID, EventLeave, "missing conversationId")

		return
	}
	c.dispatch(func() {
		var ems []emission
		if userID, ok := c.registry.userOf(connectionID); ok {
			ems = c.stopTypingFor(userID, conversationID)
		}
		c.rooms.leave(conversationID, connectionID)

		c.flush(ems)
	})
}

// StartTyping opens or extends the typing session for (user, conversation).
// A session already active is cancelled and replaced, so rapid repeats extend
// the expiry window instead of stacking timers. The user-typing broadcast goes
// to the other room members immediately; the armed timer fires a
// user-stop-typing after the TTL unless something cancels it first.
func (c *Coordinator) StartTyping(connectionID string, p TypingPayload) {
	if p.UserID == "" || p.ConversationID == "" || p.Username == "" {
		c.dropEvent(connectionID, EventTyping, "missing userId, conversationId or username")

		return
	}
	c.dispatch(func() {
		key := typingKey{userID: p.UserID, conversationID: p.ConversationID}

		gen := c.typing.start(key, p.Username, time.Now())

		timer := time.AfterFunc(c.typingTTL, func() {
			c.expireTyping(key, gen)
		})
		c.typing.arm(key, gen, timer)

		exclude := append(c.registry.connectionsOf(p.UserID), connectionID)

		ems := c.roomEmissions(p.ConversationID, EventUserTyping, typingEventPayload{
			UserID:         p.UserID,
			Username:       p.Username,
			ConversationID: p.ConversationID,
		}, exclude...)

		if c.hooks != nil && c.hooks.Metrics != nil {
			c.hooks.Metrics.TypingStarted(p.UserID, p.ConversationID)
		}
		c.flush(ems)
	})
}

// StopTyping cancels the typing session and broadcasts user-stop-typing. The
// broadcast fires even when no session was active: the username falls back
// from the explicit payload to the one captured at start to a placeholder.
// That always-broadcast behavior is intentional and load-bearing for clients
// that reset their indicator on it.
func (c *Coordinator) StopTyping(connectionID string, p TypingPayload) {
	if p.UserID == "" || p.ConversationID == "" {
		c.dropEvent(connectionID, EventStopTyping, "missing userId or conversationId")

		return
	}
	c.dispatch(func() {
		key := typingKey{userID: p.UserID, conversationID: p.ConversationID}

		captured, existed := c.typing.stop(key)

		username := p.Username
		if username == "" {
			username = captured
		}
		if username == "" {
			username = placeholderName
		}
		exclude := append(c.registry.connectionsOf(p.UserID), connectionID)

		ems := c.roomEmissions(p.ConversationID, EventUserStopTyping, typingEventPayload{
			UserID:         p.UserID,
			Username:       username,
			ConversationID: p.ConversationID,
		}, exclude...)

		if existed && c.hooks != nil && c.hooks.Metrics != nil {
			c.hooks.Metrics.TypingStopped(p.UserID, p.ConversationID, false)
		}
		c.flush(ems)
	})
}

// MarkRead relays a read receipt to the other room members with a server
// timestamp and forwards it to the relay for durable receipt tracking.
func (c *Coordinator) MarkRead(connectionID string, p ReadPayload) {
	if p.ConversationID == "" || p.UserID == "" {
		c.dropEvent(connectionID, EventMarkRead, "missing conversationId or userId")

		return
	}
	c.dispatch(func() {
		receipt := ReadReceipt{
			ConversationID: p.ConversationID,
			UserID:         p.UserID,
			Timestamp:      wireTime(time.Now()),
		}
		ems := c.roomEmissions(p.ConversationID, EventMessageRead, receipt, connectionID)

		c.flush(ems)

		go c.relayReceipt(receipt)
	})
}

// OnlineUsers replies to the requesting connection with the online user ids.
func (c *Coordinator) OnlineUsers(connectionID string) {
	c.dispatch(func() {
		ids := c.registry.onlineUsers()

		c.flush([]emission{{
			connectionID: connectionID,
			event:        EventOnlineList,
			payload:      onlineUsersPayload{IDs: ids},
		}})
	})
}

// Ping replies with a pong carrying the server timestamp.
func (c *Coordinator) Ping(connectionID string) {
	c.flush([]emission{{
		connectionID: connectionID,
		event:        EventPong,
		payload:      pongPayload{Timestamp: wireTime(time.Now())},
	}})
}

// IsOnline reports whether the user has at least one registered connection.
func (c *Coordinator) IsOnline(userID string) bool {
	var online bool
	c.dispatch(func() {
		online = c.registry.isOnline(userID)
	})
	return online
}

// ListOnlineUsers returns a snapshot of the online user ids.
func (c *Coordinator) ListOnlineUsers() []string {
	var ids []string
	c.dispatch(func() {
		ids = c.registry.onlineUsers()
	})
	return ids
}

// MembersOf returns a snapshot of the connection ids joined to a conversation.
func (c *Coordinator) MembersOf(conversationID string) []string {
	var members []string
	c.dispatch(func() {
		members = c.rooms.members(conversationID)
	})
	return members
}

// expireTyping is the timer callback for an armed typing session. It funnels
// through the event loop and validates the generation there, so a timer that
// lost the race against an explicit stop or a replacement start is a no-op.
func (c *Coordinator) expireTyping(key typingKey, gen uint64) {
	c.dispatch(func() {
		username, ok := c.typing.expire(key, gen)

		if !ok {
			return
		}
		exclude := c.registry.connectionsOf(key.userID)

		ems := c.roomEmissions(key.conversationID, EventUserStopTyping, typingEventPayload{
			UserID:         key.userID,
			Username:       username,
			ConversationID: key.conversationID,
		}, exclude...)

		if c.hooks != nil && c.hooks.Metrics != nil {
			c.hooks.Metrics.TypingStopped(key.userID, key.conversationID, false)
		}
		c.flush(ems)
	})
}

// sweepTyping force-expires entries older than the safety threshold. This is
// a backstop for lost timer callbacks; under normal operation it finds
// nothing, because the per-entry TTL is well below the threshold.
func (c *Coordinator) sweepTyping(now time.Time) {
	keys := c.typing.stale(c.sweepThreshold, now)

	var ems []emission
	for _, key := range keys {
		username, ok := c.typing.stop(key)

		if !ok {
			continue
		}
		if username == "" {
			username = placeholderName
		}
		c.log.Warn("typing entry force-expired by sweep", "userId", key.userID, "conversationId", key.conversationID)

		exclude := c.registry.connectionsOf(key.userID)

		ems = append(ems, c.roomEmissions(key.conversationID, EventUserStopTyping, typingEventPayload{
			UserID:         key.userID,
			Username:       username,
			ConversationID: key.conversationID,
		}, exclude...)...)

		if c.hooks != nil && c.hooks.Metrics != nil {
			c.hooks.Metrics.TypingStopped(key.userID, key.conversationID, true)
		}
	}
	c.flush(ems)
}

// stopTypingFor force-stops typing sessions owned by a user, scoped to one
// conversation when onlyConversation is set, otherwise across all of them.
// Each stopped key produces exactly one broadcast.
func (c *Coordinator) stopTypingFor(userID, onlyConversation string, extraExclude ...string) []emission {
	var keys []typingKey
	if onlyConversation != "" {
		key := typingKey{userID: userID, conversationID: onlyConversation}
		if c.typing.active(key) {
			keys = append(keys, key)
		}
	} else {
		keys = c.typing.keysFor(userID)
	}

	var ems []emission
	for _, key := range keys {
		username, ok := c.typing.stop(key)

		if !ok {
			continue
		}
		if username == "" {
			username = placeholderName
		}
		exclude := append(c.registry.connectionsOf(userID), extraExclude...)

		ems = append(ems, c.roomEmissions(key.conversationID, EventUserStopTyping, typingEventPayload{
			UserID:         key.userID,
			Username:       username,
			ConversationID: key.conversationID,
		}, exclude...)...)

		if c.hooks != nil && c.hooks.Metrics != nil {
			c.hooks.Metrics.TypingStopped(key.userID, key.conversationID, true)
		}
	}
	return ems
}

// presenceEmissions builds the user-status-change broadcast for an
// online/offline transition. Presence goes to every registered connection;
// receivers filter their own id themselves.
func (c *Coordinator) presenceEmissions(userID string, isOnline bool, now time.Time) []emission {
	payload := statusChangePayload{
		UserID:   userID,
		IsOnline: isOnline,
	}
	if !isOnline {
		payload.Timestamp = wireTime(now)
	}

	conns := c.registry.connections()

	ems := make([]emission, 0, len(conns))

	for _, connectionID := range conns {
		ems = append(ems, emission{
			connectionID: connectionID,
			event:        EventUserStatus,
			payload:      payload,
		})
	}
	return ems
}

// roomEmissions resolves a room broadcast into per-connection emissions,
// skipping excluded connection ids. Unknown rooms resolve to nothing.
func (c *Coordinator) roomEmissions(conversationID, event string, payload interface{}, exclude ...string) []emission {
	members := c.rooms.members(conversationID)

	if len(members) == 0 {
		return nil
	}
	skip := newStringSet()

	for _, id := range exclude {
		if id != "" {
			skip.add(id)
		}
	}

	var ems []emission
	for _, connectionID := range members {
		if skip.has(connectionID) {
			continue
		}
		ems = append(ems, emission{
			connectionID: connectionID,
			event:        event,
			payload:      payload,
		})
	}
	return ems
}

func (c *Coordinator) flush(ems []emission) {
	counts := make(map[string]int)

	for _, em := range ems {
		if err := c.broadcaster.SendTo(em.connectionID, em.event, em.payload); err != nil {
			c.reportError("broadcast", err)

			continue
		}
		counts[em.event]++
	}
	if c.hooks != nil && c.hooks.Metrics != nil {
		for event, n := range counts {
			c.hooks.Metrics.Broadcast(event, n)
		}
	}
}

// dropEvent records a malformed inbound event. Dropped events yield no
// acknowledgment; the sender infers failure from silence.
func (c *Coordinator) dropEvent(connectionID, event, reason string) {
	c.log.Warn("dropping malformed event", "connId", connectionID, "event", event, "reason", reason)

	if c.hooks != nil && c.hooks.Metrics != nil {
		c.hooks.Metrics.EventDropped(connectionID, event, reason)
	}
}

func (c *Coordinator) reportError(component string, err error) {
	if err == nil || c.hooks == nil || c.hooks.Metrics == nil {
		return
	}
	c.hooks.Metrics.Error(component, err)
}

func wireTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// discardBroadcaster is installed when no Broadcaster is configured.
type discardBroadcaster struct{}

func (discardBroadcaster) SendTo(string, string, interface{}) error { return nil }

func (discardBroadcaster) SendToRoom(string, string, interface{}, ...string) error { return nil }
