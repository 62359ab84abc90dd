// Package runtime maintains the per-persona durable inboxes. Messages queue
// here until the planning pipeline drains them; rows survive restarts.
package runtime

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/antigravity-dev/worksim/internal/persona"
	"github.com/antigravity-dev/worksim/internal/store"
)

// WorkerRuntime is the in-memory inbox for one persona.
type WorkerRuntime struct {
	Person *persona.Persona
	queue  []store.InboundMessage
}

// Manager synchronizes the runtime set with the active-persona list and keeps
// the in-memory queues mirrored in the store.
type Manager struct {
	store  *store.Store
	logger *slog.Logger

	mu       sync.Mutex
	runtimes map[int64]*WorkerRuntime
}

// NewManager builds an empty runtime manager.
func NewManager(s *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, logger: logger, runtimes: make(map[int64]*WorkerRuntime)}
}

// Sync loads persisted messages for newly seen personas and evicts runtimes
// for personas no longer active.
func (m *Manager) Sync(people []*persona.Persona) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make(map[int64]bool, len(people))
	for _, p := range people {
		active[p.ID] = true
		if _, ok := m.runtimes[p.ID]; ok {
			m.runtimes[p.ID].Person = p
			continue
		}
		msgs, err := m.store.InboundMessagesFor(p.ID)
		if err != nil {
			return fmt.Errorf("runtime: sync %s: %w", p.Name, err)
		}
		m.runtimes[p.ID] = &WorkerRuntime{Person: p, queue: msgs}
	}
	for id := range m.runtimes {
		if !active[id] {
			delete(m.runtimes, id)
		}
	}
	return nil
}

// Get returns the runtime for a persona, creating one on demand.
func (m *Manager) Get(p *persona.Persona) *WorkerRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[p.ID]
	if !ok {
		rt = &WorkerRuntime{Person: p}
		m.runtimes[p.ID] = rt
	}
	return rt
}

// QueueMessage persists msg and appends it to the recipient's queue. The
// assigned storage id and a message id are written back into msg.
func (m *Manager) QueueMessage(recipient *persona.Persona, msg *store.InboundMessage) error {
	msg.RecipientID = recipient.ID
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if err := m.store.InsertInboundMessage(msg); err != nil {
		return fmt.Errorf("runtime: queue for %s: %w", recipient.Name, err)
	}

	m.mu.Lock()
	rt, ok := m.runtimes[recipient.ID]
	if !ok {
		rt = &WorkerRuntime{Person: recipient}
		m.runtimes[recipient.ID] = rt
	}
	rt.queue = append(rt.queue, *msg)
	m.mu.Unlock()
	return nil
}

// Drain returns and clears a persona's queued messages in FIFO order. The
// persistent rows remain until RemoveMessages is called with the ids, so a
// crash between drain and plan replays the messages.
func (m *Manager) Drain(p *persona.Persona) []store.InboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[p.ID]
	if !ok || len(rt.queue) == 0 {
		return nil
	}
	out := rt.queue
	rt.queue = nil
	return out
}

// Pending reports how many messages are queued without draining them.
func (m *Manager) Pending(p *persona.Persona) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.runtimes[p.ID]; ok {
		return len(rt.queue)
	}
	return 0
}

// RemoveMessages deletes consumed rows from the store.
func (m *Manager) RemoveMessages(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.store.DeleteInboundMessages(ids); err != nil {
		return fmt.Errorf("runtime: remove messages: %w", err)
	}
	return nil
}

// ClearAll drops every in-memory queue and truncates the backing table.
func (m *Manager) ClearAll() error {
	m.mu.Lock()
	m.runtimes = make(map[int64]*WorkerRuntime)
	m.mu.Unlock()
	if err := m.store.ClearInboundMessages(); err != nil {
		return fmt.Errorf("runtime: clear all: %w", err)
	}
	return nil
}
