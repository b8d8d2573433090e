// This file contains the Gateway which upgrades HTTP requests to websocket
// connections, decodes inbound envelopes, applies the rate limiting hook, and
// dispatches events to the coordinator. It also owns the live connection
// table that the broadcaster delivers through.
package chatwire

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Gateway struct {
	coordinator *Coordinator
	conns       *store[*Conn]
	upgrader    websocket.Upgrader
	options     *Options
	log         *slog.Logger
	ctx         context.Context
}

// DefaultOptions returns an Options struct with sensible defaults:
// no origin checking, 1KB buffers, 512KB max message size, 30s ping interval,
// 60s pong wait, 256 send buffer, 5s typing expiry, 30s sweep with a 10s
// stale threshold.
func DefaultOptions() *Options {
	return &Options{
		CheckOrigin:       false,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		MaxMessageSize:    512 * 1024,
		PingInterval:      30 * time.Second,
		PongWait:          60 * time.Second,
		WriteWait:         10 * time.Second,
		EnableCompression: false,
		SendChannelBuffer: 256,
		TypingTTL:         defaultTypingTTL,
		SweepInterval:     defaultSweepInterval,
		SweepThreshold:    defaultSweepThreshold,
	}
}

func createOriginChecker(opts *Options) func(*http.Request) bool {
	var compiledRegexps []*regexp.Regexp
	if opts.CheckOrigin && len(opts.AllowedOriginRegexps) > 0 {
		compiledRegexps = make([]*regexp.Regexp, 0, len(opts.AllowedOriginRegexps))

		for _, pattern := range opts.AllowedOriginRegexps {
			compiledRegexps = append(compiledRegexps, pattern)
		}
	}
	return func(r *http.Request) bool {
		if !opts.CheckOrigin {
			return true
		}
		origin := r.Header.Get("Origin")

		if origin == "" {
			return false
		}
		for _, allowed := range opts.AllowedOrigins {
			if allowed == "*" {
				return true
			}
			if allowed == origin {
				return true
			}
		}
		for _, pattern := range compiledRegexps {
			if pattern.MatchString(origin) {
				return true
			}
		}
		return false
	}
}

// NewGateway creates a gateway with its own coordinator. If no options are
// provided, defaults are used.
func NewGateway(ctx context.Context, options ...Options) *Gateway {
	opts := DefaultOptions()

	if len(options) > 0 {
		opts = &options[0]
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:    opts.ReadBufferSize,
		WriteBufferSize:   opts.WriteBufferSize,
		CheckOrigin:       createOriginChecker(opts),
		EnableCompression: opts.EnableCompression,
	}

	g := &Gateway{
		conns:    newStore[*Conn](),
		upgrader: upgrader,
		options:  opts,
		log:      opts.Logger,
		ctx:      ctx,
	}

	broadcaster := newSocketBroadcaster(g.conns, func(conversationID string) []string {
		return g.coordinator.MembersOf(conversationID)
	})

	g.coordinator = NewCoordinator(ctx, Config{
		Broadcaster:    broadcaster,
		Relay:          opts.Relay,
		Hooks:          opts.Hooks,
		Logger:         opts.Logger,
		TypingTTL:      opts.TypingTTL,
		SweepInterval:  opts.SweepInterval,
		SweepThreshold: opts.SweepThreshold,
	})

	return g
}

// Coordinator exposes the gateway's coordinator for direct use and tests.
func (g *Gateway) Coordinator() *Coordinator {
	return g.coordinator
}

// ConnectionCount returns the number of live websocket connections.
func (g *Gateway) ConnectionCount() int {
	return g.conns.Len()
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := g.upgrader.Upgrade(w, r, nil)

	if err != nil {
		g.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)

		return
	}
	connectionID := uuid.NewString()

	conn, err := newConn(g.ctx, wsConn, connectionID, g.options)

	if err != nil {
		g.reportError("connection_setup", err)

		_ = wsConn.Close()

		return
	}
	if err := g.conns.Create(connectionID, conn); err != nil {
		g.reportError("connection_store", err)

		conn.Close()

		return
	}

	if g.options.Hooks != nil && g.options.Hooks.OnConnect != nil {
		if err := g.options.Hooks.OnConnect(conn); err != nil {
			g.log.Warn("connection rejected by hook", "connId", connectionID, "error", err)

			_ = g.conns.Delete(connectionID)

			conn.Close()

			return
		}
	}

	conn.onEnvelope(g.dispatch)

	conn.OnClose(g.onDisconnect)

	if g.options.Hooks != nil && g.options.Hooks.Metrics != nil {
		g.options.Hooks.Metrics.ConnectionOpened(connectionID)
	}
	g.log.Debug("connection opened", "connId", connectionID, "remote", r.RemoteAddr)

	conn.start()
}

// onDisconnect is the transport's disconnect signal. It is the only trigger
// for the cleanup cascade; transport errors alone never start it.
func (g *Gateway) onDisconnect(conn *Conn) {
	_ = g.conns.Delete(conn.ID)

	g.coordinator.Disconnect(conn.ID)

	if g.options.Hooks != nil {
		if g.options.Hooks.Metrics != nil {
			g.options.Hooks.Metrics.ConnectionClosed(conn.ID, conn.Age())
		}
		if g.options.Hooks.OnDisconnect != nil {
			g.options.Hooks.OnDisconnect(conn)
		}
	}
	g.log.Debug("connection closed", "connId", conn.ID)
}

// dispatch routes one inbound envelope to the coordinator operation for its
// event name. Malformed payloads are dropped here or inside the coordinator;
// either way the client sees no acknowledgment.
func (g *Gateway) dispatch(env Envelope, conn *Conn) {
	if g.options.Hooks != nil && g.options.Hooks.Metrics != nil {
		g.options.Hooks.Metrics.EventReceived(conn.ID, env.Event, len(env.Payload))
	}
	if !g.allow(conn, env.Event) {
		return
	}

	switch env.Event {
	case EventRegister:
		p, ok := decodeRegister(env.Payload)
		if !ok {
			g.dropEvent(conn.ID, env.Event, "undecodable payload")

			return
		}
		g.coordinator.Register(conn.ID, p)
	case EventJoin:
		g.coordinator.Join(conn.ID, decodeConversationID(env.Payload))
	case EventLeave:
		g.coordinator.Leave(conn.ID, decodeConversationID(env.Payload))
	case EventSendMessage:
		var p MessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			g.dropEvent(conn.ID, env.Event, "undecodable payload")

			return
		}
		g.coordinator.SendMessage(conn.ID, p)
	case EventTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			g.dropEvent(conn.ID, env.Event, "undecodable payload")

			return
		}
		g.coordinator.StartTyping(conn.ID, p)
	case EventStopTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			g.dropEvent(conn.ID, env.Event, "undecodable payload")

			return
		}
		g.coordinator.StopTyping(conn.ID, p)
	case EventMarkRead:
		var p ReadPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			g.dropEvent(conn.ID, env.Event, "undecodable payload")

			return
		}
		g.coordinator.MarkRead(conn.ID, p)
	case EventOnlineUsers:
		g.coordinator.OnlineUsers(conn.ID)
	case EventPing:
		g.coordinator.Ping(conn.ID)
	default:
		g.dropEvent(conn.ID, env.Event, "unknown event")
	}
}

func (g *Gateway) allow(conn *Conn, event string) bool {
	if g.options.Hooks == nil || g.options.Hooks.RateLimiter == nil {
		return true
	}
	allowed, err := g.options.Hooks.RateLimiter.Allow(g.ctx, conn.ID)

	if err != nil {
		g.reportError("rate_limiter", err)

		return true
	}
	if !allowed {
		g.dropEvent(conn.ID, event, "rate limited")

		return false
	}
	return true
}

func (g *Gateway) dropEvent(connectionID, event, reason string) {
	g.log.Warn("dropping event", "connId", connectionID, "event", event, "reason", reason)

	if g.options.Hooks != nil && g.options.Hooks.Metrics != nil {
		g.options.Hooks.Metrics.EventDropped(connectionID, event, reason)
	}
}

func (g *Gateway) reportError(component string, err error) {
	if err == nil || g.options.Hooks == nil || g.options.Hooks.Metrics == nil {
		return
	}
	g.options.Hooks.Metrics.Error(component, err)
}

// decodeRegister accepts either the object form or the legacy bare user-id
// string that older clients still send.
func decodeRegister(raw json.RawMessage) (RegisterPayload, bool) {
	var p RegisterPayload
	if err := json.Unmarshal(raw, &p); err == nil && p.UserID != "" {
		return p, true
	}

	var legacy string
	if err := json.Unmarshal(raw, &legacy); err == nil && legacy != "" {
		return RegisterPayload{UserID: legacy}, true
	}
	return RegisterPayload{}, false
}

// decodeConversationID accepts either a bare string or {conversationId: ...}.
func decodeConversationID(raw json.RawMessage) string {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}

	var obj struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ConversationID
	}
	return ""
}
