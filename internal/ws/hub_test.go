package ws

import (
	"encoding/json"
	"testing"
)

func TestBroadcastStampsUniqueEventID(t *testing.T) {
	h := NewHub()

	h.Broadcast("IncreasePosition", map[string]any{"account": "alice"})
	h.Broadcast("IncreasePosition", map[string]any{"account": "bob"})

	var first, second Message
	if err := json.Unmarshal(<-h.broadcast, &first); err != nil {
		t.Fatalf("unmarshal first: %v", err)
	}
	if err := json.Unmarshal(<-h.broadcast, &second); err != nil {
		t.Fatalf("unmarshal second: %v", err)
	}

	if first.EventID == "" || second.EventID == "" {
		t.Fatalf("expected non-empty event IDs")
	}
	if first.EventID == second.EventID {
		t.Fatalf("expected distinct event IDs per broadcast")
	}
	if first.Type != "IncreasePosition" {
		t.Fatalf("expected type IncreasePosition, got %s", first.Type)
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	h := NewHub()
	h.broadcast = make(chan []byte, 1)

	h.Broadcast("A", nil)
	h.Broadcast("B", nil) // must not block even though the buffer is full

	if len(h.broadcast) != 1 {
		t.Fatalf("expected exactly one buffered message, got %d", len(h.broadcast))
	}
}
