package chatwire

import (
	"testing"
)

func TestDisplayName(t *testing.T) {
	testCases := []struct {
		name     string
		profile  Profile
		expected string
	}{
		{"full name", Profile{Name: "Alice", Surname: "Smith", Username: "alice"}, "Alice Smith"},
		{"name only", Profile{Name: "Alice"}, "Alice"},
		{"surname only", Profile{Surname: "Smith"}, "Smith"},
		{"username fallback", Profile{Username: "alice"}, "alice"},
		{"whitespace name falls through", Profile{Name: "  ", Username: "alice"}, "alice"},
		{"empty profile", Profile{}, placeholderName},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := displayName(tc.profile); got != tc.expected {
				t.Errorf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestEnrichWithoutProfile(t *testing.T) {
	c, rec := newTestCoordinator(t, Config{})

	c.Register("conn1", RegisterPayload{UserID: "U1"})

	c.Register("conn2", RegisterPayload{UserID: "U2"})

	c.Join("conn1", "c1")

	c.Join("conn2", "c1")

	c.SendMessage("conn1", MessagePayload{ID: "m1", ConversationID: "c1", SenderID: "U1", Content: "hi", CreatedAt: "2026-08-30T10:00:00Z"})

	received := rec.byEvent(EventReceiveMessage)

	if len(received) != 1 {
		t.Fatalf("expected one receive-message, got %d", len(received))
	}
	enriched := received[0].payload.(map[string]interface{})

	if enriched["senderName"] != placeholderName {
		t.Errorf("expected placeholder sender name, got %v", enriched["senderName"])
	}
	if enriched["createdAt"] != "2026-08-30T10:00:00Z" {
		t.Errorf("expected client timestamp preserved, got %v", enriched["createdAt"])
	}
	if _, ok := enriched["senderUsername"]; ok {
		t.Error("expected no senderUsername without a profile")
	}
	if _, ok := enriched["senderAvatar"]; ok {
		t.Error("expected no senderAvatar without a profile")
	}
	if _, ok := enriched["mediaUrl"]; ok {
		t.Error("expected no mediaUrl for a text message")
	}
}
