package runtime

import (
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/worksim/internal/persona"
	"github.com/antigravity-dev/worksim/internal/store"
)

func newRuntimeFixture(t *testing.T) (*store.Store, *Manager, *persona.Persona) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "rt.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	p := &persona.Persona{Name: "alice", Role: "Developer", EmailAddress: "alice@example.com", ChatHandle: "@alice", WorkHours: "09:00-17:00"}
	if err := s.InsertPerson(p); err != nil {
		t.Fatal(err)
	}

	m := NewManager(s, nil)
	if err := m.Sync([]*persona.Persona{p}); err != nil {
		t.Fatal(err)
	}
	return s, m, p
}

func TestQueueAndDrainFIFO(t *testing.T) {
	_, m, p := newRuntimeFixture(t)

	for _, subj := range []string{"one", "two", "three"} {
		err := m.QueueMessage(p, &store.InboundMessage{
			RecipientID: p.ID, SenderName: "system", Subject: subj,
			MessageType: "update", Channel: "email", Tick: 1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if got := m.Pending(p); got != 3 {
		t.Fatalf("expected 3 pending, got %d", got)
	}

	msgs := m.Drain(p)
	if len(msgs) != 3 || msgs[0].Subject != "one" || msgs[2].Subject != "three" {
		t.Fatalf("expected FIFO drain, got %+v", msgs)
	}
	if m.Pending(p) != 0 {
		t.Error("drain should empty the in-memory queue")
	}
	for _, msg := range msgs {
		if msg.MessageID == "" {
			t.Error("queued messages should carry generated ids")
		}
	}
}

func TestQueuePersistsAcrossSync(t *testing.T) {
	s, m, p := newRuntimeFixture(t)

	if err := m.QueueMessage(p, &store.InboundMessage{
		RecipientID: p.ID, SenderName: "system", Subject: "survives",
		MessageType: "update", Channel: "email", Tick: 2,
	}); err != nil {
		t.Fatal(err)
	}

	// A fresh manager over the same store reloads the pending message.
	m2 := NewManager(s, nil)
	if err := m2.Sync([]*persona.Persona{p}); err != nil {
		t.Fatal(err)
	}
	msgs := m2.Drain(p)
	if len(msgs) != 1 || msgs[0].Subject != "survives" {
		t.Fatalf("expected persisted message after resync, got %+v", msgs)
	}
}

func TestRemoveMessagesDeletesRows(t *testing.T) {
	s, m, p := newRuntimeFixture(t)

	if err := m.QueueMessage(p, &store.InboundMessage{
		RecipientID: p.ID, SenderName: "system", Subject: "gone",
		MessageType: "update", Channel: "email", Tick: 1,
	}); err != nil {
		t.Fatal(err)
	}
	msgs := m.Drain(p)
	if err := m.RemoveMessages([]int64{msgs[0].ID}); err != nil {
		t.Fatal(err)
	}

	rows, err := s.InboundMessagesFor(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no persisted rows after removal, got %d", len(rows))
	}
}

func TestSyncEvictsDepartedPersonas(t *testing.T) {
	s, m, p := newRuntimeFixture(t)

	other := &persona.Persona{Name: "bob", Role: "Designer", EmailAddress: "bob@example.com", ChatHandle: "@bob", WorkHours: "09:00-17:00"}
	if err := s.InsertPerson(other); err != nil {
		t.Fatal(err)
	}
	if err := m.Sync([]*persona.Persona{p, other}); err != nil {
		t.Fatal(err)
	}
	if m.Get(other) == nil {
		t.Fatal("bob should have a runtime after sync")
	}

	// Shrinking the roster drops bob's runtime.
	if err := m.Sync([]*persona.Persona{p}); err != nil {
		t.Fatal(err)
	}
	if m.Get(p) == nil {
		t.Error("alice should survive")
	}
}
