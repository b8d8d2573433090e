// This file contains the MessageRelay which forwards enriched messages and
// read receipts to external collaborators over a message broker. Persistence
// and receipt tracking happen outside this process; the relay only feeds them.
// Fan-out to connected clients stays local and never goes through the relay.
package chatwire

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// MessageRelay hands coordinator output to external services. Implementations
// must be safe for concurrent use; the coordinator calls them off its event
// loop and treats failures as log-and-continue.
type MessageRelay interface {
	PublishMessage(ctx context.Context, conversationID string, message map[string]interface{}) error
	PublishReceipt(ctx context.Context, receipt ReadReceipt) error
}

type noopRelay struct{}

func (noopRelay) PublishMessage(ctx context.Context, conversationID string, message map[string]interface{}) error {
	return nil
}

func (noopRelay) PublishReceipt(ctx context.Context, receipt ReadReceipt) error {
	return nil
}

// NATSRelay publishes to subjects under a prefix: <prefix>.message.<conversation>
// for enriched messages and <prefix>.receipt.<conversation> for read receipts.
// A persist worker and a read-receipt service consume these subjects.
type NATSRelay struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSRelay creates a relay over an established NATS connection.
// An empty prefix defaults to "chat".
func NewNATSRelay(nc *nats.Conn, prefix string) *NATSRelay {
	if prefix == "" {
		prefix = "chat"
	}
	return &NATSRelay{
		nc:     nc,
		prefix: prefix,
	}
}

func (r *NATSRelay) PublishMessage(ctx context.Context, conversationID string, message map[string]interface{}) error {
	data, err := json.Marshal(message)

	if err != nil {
		return wrapF(err, "failed to encode message for conversation %s", conversationID)
	}
	return r.nc.Publish(r.messageSubject(conversationID), data)
}

func (r *NATSRelay) PublishReceipt(ctx context.Context, receipt ReadReceipt) error {
	data, err := json.Marshal(receipt)

	if err != nil {
		return wrapF(err, "failed to encode receipt for conversation %s", receipt.ConversationID)
	}
	return r.nc.Publish(r.receiptSubject(receipt.ConversationID), data)
}

func (r *NATSRelay) messageSubject(conversationID string) string {
	return r.prefix + ".message." + conversationID
}

func (r *NATSRelay) receiptSubject(conversationID string) string {
	return r.prefix + ".receipt." + conversationID
}
