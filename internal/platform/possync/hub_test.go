package possync

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHub_RegisterTerminal(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "terminal-1",
		Models: []string{ModelPendingItem},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 terminal, got %d", hub.ClientCount())
	}
	if hub.ModelCount(ModelPendingItem) != 1 {
		t.Fatalf("expected 1 terminal on pending_item, got %d", hub.ModelCount(ModelPendingItem))
	}
}

func TestHub_UnregisterTerminal(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "terminal-2",
		Models: []string{ModelEncounter},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 terminals, got %d", hub.ClientCount())
	}
	if hub.ModelCount(ModelEncounter) != 0 {
		t.Fatalf("expected 0 terminals on encounter, got %d", hub.ModelCount(ModelEncounter))
	}
}

func TestHub_NotifyReachesSubscribersOnly(t *testing.T) {
	hub := NewHub()

	subscriber := &Client{
		ID:     "sub-1",
		Models: []string{ModelPendingItem},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	nonSubscriber := &Client{
		ID:     "non-sub-1",
		Models: []string{ModelRoom},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(subscriber)
	hub.Register(nonSubscriber)

	hub.Notify(ModelPendingItem, OpUpdate, map[string]string{"id": "abc", "state": "processed"})

	select {
	case raw := <-subscriber.Send:
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("failed to unmarshal message: %v", err)
		}
		if msg.Type != TypeCriticalUpdate {
			t.Errorf("expected critical_update, got %s", msg.Type)
		}
		if msg.Operation != OpUpdate {
			t.Errorf("expected update operation, got %s", msg.Operation)
		}
		if len(msg.Records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(msg.Records))
		}
		var rec map[string]string
		if err := json.Unmarshal(msg.Records[0], &rec); err != nil {
			t.Fatalf("failed to unmarshal record: %v", err)
		}
		if rec["state"] != "processed" {
			t.Errorf("expected record state processed, got %s", rec["state"])
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive delta")
	}

	select {
	case <-nonSubscriber.Send:
		t.Fatal("non-subscriber should not have received delta")
	default:
		// expected
	}
}

func TestHub_NotifyBatch(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "batch-1",
		Models: []string{ModelRoom},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	rows := []json.RawMessage{
		json.RawMessage(`{"id":"r1","capacity":2}`),
		json.RawMessage(`{"id":"r2","capacity":1}`),
	}
	hub.NotifyBatch(ModelRoom, rows)

	select {
	case raw := <-client.Send:
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("failed to unmarshal message: %v", err)
		}
		if msg.Type != TypeBatchSync {
			t.Errorf("expected batch_sync, got %s", msg.Type)
		}
		if len(msg.Records) != 2 {
			t.Errorf("expected 2 records, got %d", len(msg.Records))
		}
	case <-time.After(time.Second):
		t.Fatal("terminal did not receive batch")
	}
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:   "dyn-1",
		Send: make(chan []byte, 256),
		hub:  hub,
	}
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Models: []string{ModelParty, ModelAppointment}})
	if hub.ModelCount(ModelParty) != 1 || hub.ModelCount(ModelAppointment) != 1 {
		t.Fatal("subscribe did not register models")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Models: []string{ModelParty}})
	if hub.ModelCount(ModelParty) != 0 {
		t.Error("unsubscribe did not remove party subscription")
	}
	if hub.ModelCount(ModelAppointment) != 1 {
		t.Error("unsubscribe removed an unrelated model")
	}
}

func TestHub_SlowTerminalDoesNotBlock(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "slow-1",
		Models: []string{ModelEncounter},
		Send:   make(chan []byte, 1),
		hub:    hub,
	}
	hub.Register(client)

	// Fill the buffer, then broadcast again; the hub must drop, not hang.
	hub.Notify(ModelEncounter, OpCreate, map[string]int{"n": 1})

	done := make(chan struct{})
	go func() {
		hub.Notify(ModelEncounter, OpCreate, map[string]int{"n": 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow terminal")
	}
}
