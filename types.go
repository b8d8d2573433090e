// This file contains type definitions for chatwire including the wire envelope,
// inbound and outbound event names, payload structures, configuration options,
// and the Broadcaster capability used by the coordinator to reach connections.
package chatwire

import (
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"regexp"
	"time"
)

// Envelope is the wire frame exchanged with clients. Every frame carries an
// event name and an event-specific JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks that the Envelope carries an event name.
// Payload-less events (ping, get-online-users) are still valid.
func (e *Envelope) Validate() bool {
	return e.Event != ""
}

// Inbound event names accepted by the gateway.
const (
	EventRegister    = "register-user"
	EventJoin        = "join-conversation"
	EventLeave       = "leave-conversation"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
	EventStopTyping  = "stop-typing"
	EventMarkRead    = "mark-as-read"
	EventOnlineUsers = "get-online-users"
	EventPing        = "ping"
)

// Outbound event names emitted to clients.
const (
	EventUserStatus     = "user-status-change"
	EventUserTyping     = "user-typing"
	EventUserStopTyping = "user-stop-typing"
	EventReceiveMessage = "receive-message"
	EventMessageSent    = "message-sent"
	EventMessageRead    = "message-read"
	EventOnlineList     = "online-users"
	EventPong           = "pong"
)

// Profile is the denormalized user profile cached while a user has at least
// one live connection. It exists only to enrich outgoing messages.
type Profile struct {
	Username  string `json:"username,omitempty"`
	Name      string `json:"name,omitempty"`
	Surname   string `json:"surname,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// RegisterPayload binds a connection to a user identity. The user id is
// accepted as given; verification happens upstream of this coordinator.
type RegisterPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Surname  string `json:"surname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// MessagePayload is an inbound send-message request.
type MessagePayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content,omitempty"`
	Type           string `json:"type,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

// TypingPayload carries typing and stop-typing events.
// Username is optional on stop-typing only.
type TypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	Username       string `json:"username,omitempty"`
}

// ReadPayload marks a conversation as read by a user. Persistence of the
// receipt is an external concern; the coordinator relays it with a timestamp.
type ReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type statusChangePayload struct {
	UserID    string `json:"userId"`
	IsOnline  bool   `json:"isOnline"`
	Timestamp string `json:"timestamp,omitempty"`
}

type typingEventPayload struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	ConversationID string `json:"conversationId"`
}

type deliveryReceipt struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadReceipt is the message-read relay record: who read a conversation and
// when, stamped by the server. It is both broadcast to room members and handed
// to the MessageRelay for durable receipt tracking.
type ReadReceipt struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Timestamp      string `json:"timestamp"`
}

type onlineUsersPayload struct {
	IDs []string `json:"ids"`
}

type pongPayload struct {
	Timestamp string `json:"timestamp"`
}

// Broadcaster abstracts the transport used to deliver outbound events.
// SendTo targets one connection; SendToRoom targets every connection joined
// to a conversation, minus any excluded connection ids. Implementations must
// not call back into the Coordinator.
type Broadcaster interface {
	SendTo(connectionID, event string, payload interface{}) error
	SendToRoom(conversationID, event string, payload interface{}, exclude ...string) error
}

// emission is one outbound send resolved under the coordinator lock and
// flushed after the lock is released.
type emission struct {
	connectionID string
	event        string
	payload      interface{}
}

const (
	defaultTypingTTL      = 5 * time.Second
	defaultSweepInterval  = 30 * time.Second
	defaultSweepThreshold = 10 * time.Second

	statusDelivered = "delivered"

	// placeholderName is used when no profile data can produce a display name.
	placeholderName = "Unknown"
)

type entity string

const (
	gatewayEntity     entity = "GATEWAY"
	coordinatorEntity entity = "COORDINATOR"
)

// Config tunes a Coordinator instance. Every field except Broadcaster has a
// usable default.
type Config struct {
	Broadcaster    Broadcaster
	Relay          MessageRelay
	Hooks          *Hooks
	Logger         *slog.Logger
	TypingTTL      time.Duration
	SweepInterval  time.Duration
	SweepThreshold time.Duration
}

// Options configures gateway behavior and connection parameters.
type Options struct {
	CheckOrigin          bool
	AllowedOrigins       []string
	AllowedOriginRegexps []*regexp.Regexp
	ReadBufferSize       int
	WriteBufferSize      int
	MaxMessageSize       int64
	PingInterval         time.Duration
	PongWait             time.Duration
	WriteWait            time.Duration
	EnableCompression    bool
	SendChannelBuffer    int
	TypingTTL            time.Duration
	SweepInterval        time.Duration
	SweepThreshold       time.Duration
	Hooks                *Hooks
	Relay                MessageRelay
	Logger               *slog.Logger
}

// ServerOptions configures the HTTP server hosting the websocket gateway.
type ServerOptions struct {
	Options            *Options
	ServerAddr         string
	Path               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	ServerTLSConfig    *tls.Config
}
