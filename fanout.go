// This file contains message fan-out: profile enrichment, the implied
// stop-typing, broadcast to the room minus the sender's connection, and the
// delivery receipt back to the sender. Durable storage is not performed here;
// the enriched record is handed to the relay for external persistence.
package chatwire

import (
	"context"
	"strings"
	"time"
)

// SendMessage enriches and fans out a message. The sender's cached profile is
// resolved to a display name and avatar, createdAt defaults to now, and any
// active typing session the sender holds in the conversation is force-stopped
// before the message broadcast. Every other room member receives
// receive-message; the sender's own connection receives only the
// message-sent delivery receipt.
func (c *Coordinator) SendMessage(connectionID string, p MessagePayload) {
	if p.ID == "" || p.ConversationID == "" || p.SenderID == "" {
		c.dropEvent(connectionID, EventSendMessage, "missing id, conversationId or senderId")

		return
	}
	if p.Content == "" && p.MediaURL == "" {
		c.dropEvent(connectionID, EventSendMessage, "empty message body")

		return
	}
	c.dispatch(func() {
		now := time.Now()

		var ems []emission
		ems = append(ems, c.stopTypingFor(p.SenderID, p.ConversationID)...)

		enriched := c.enrich(p, now)

		ems = append(ems, c.roomEmissions(p.ConversationID, EventReceiveMessage, enriched, connectionID)...)

		ems = append(ems, emission{
			connectionID: connectionID,
			event:        EventMessageSent,
			payload: deliveryReceipt{
				MessageID: p.ID,
				Status:    statusDelivered,
				Timestamp: wireTime(now),
			},
		})
		c.flush(ems)

		go c.relayMessage(p.ConversationID, enriched)
	})
}

// enrich merges the inbound payload with sender display fields derived from
// the cached profile. Runs on the event loop.
func (c *Coordinator) enrich(p MessagePayload, now time.Time) map[string]interface{} {
	profile, _ := c.registry.profile(p.SenderID)

	messageType := p.Type
	if messageType == "" {
		messageType = "text"
	}
	createdAt := p.CreatedAt
	if createdAt == "" {
		createdAt = wireTime(now)
	}
	enriched := map[string]interface{}{
		"id":             p.ID,
		"conversationId": p.ConversationID,
		"senderId":       p.SenderID,
		"content":        p.Content,
		"type":           messageType,
		"createdAt":      createdAt,
		"senderName":     displayName(profile),
	}
	if profile.Username != "" {
		enriched["senderUsername"] = profile.Username
	}
	if profile.AvatarURL != "" {
		enriched["senderAvatar"] = profile.AvatarURL
	}
	if p.MediaURL != "" {
		enriched["mediaUrl"] = p.MediaURL
	}
	return enriched
}

// displayName prefers "name surname", then username, then a placeholder.
func displayName(p Profile) string {
	full := strings.TrimSpace(strings.TrimSpace(p.Name) + " " + strings.TrimSpace(p.Surname))

	if full != "" {
		return full
	}
	if p.Username != "" {
		return p.Username
	}
	return placeholderName
}

func (c *Coordinator) relayMessage(conversationID string, enriched map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	defer cancel()

	if err := c.relay.PublishMessage(ctx, conversationID, enriched); err != nil {
		c.log.Warn("message relay failed", "conversationId", conversationID, "error", err)

		c.reportError("relay", err)
	}
}

func (c *Coordinator) relayReceipt(receipt ReadReceipt) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	defer cancel()

	if err := c.relay.PublishReceipt(ctx, receipt); err != nil {
		c.log.Warn("receipt relay failed", "conversationId", receipt.ConversationID, "error", err)

		c.reportError("relay", err)
	}
}
