package store

import (
	"fmt"
	"strings"
)

// InboundMessage is one durable inbox row delivered to a persona for
// consumption at its next planning opportunity.
type InboundMessage struct {
	ID          int64
	RecipientID int64
	SenderID    int64
	SenderName  string
	Subject     string
	Summary     string
	ActionItem  string
	MessageType string // update, ack, event
	Channel     string // email, chat, system, email+chat
	Tick        int
	MessageID   string
}

// InsertInboundMessage persists an inbox row and writes back its id.
func (s *Store) InsertInboundMessage(m *InboundMessage) error {
	res, err := s.db.Exec(`
		INSERT INTO worker_runtime_messages (
			recipient_id, sender_id, sender_name, subject, summary,
			action_item, message_type, channel, tick, message_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RecipientID, m.SenderID, m.SenderName, m.Subject, m.Summary,
		nullIfEmpty(m.ActionItem), m.MessageType, m.Channel, m.Tick, m.MessageID,
	)
	if err != nil {
		return fmt.Errorf("store: insert inbound message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: insert inbound message: id: %w", err)
	}
	return nil
}

// InboundMessagesFor returns a recipient's queued messages in insertion order.
func (s *Store) InboundMessagesFor(recipientID int64) ([]InboundMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, recipient_id, sender_id, sender_name, subject, summary,
			COALESCE(action_item, ''), message_type, channel, tick, message_id
		FROM worker_runtime_messages WHERE recipient_id = ? ORDER BY id`,
		recipientID)
	if err != nil {
		return nil, fmt.Errorf("store: inbound messages: %w", err)
	}
	defer rows.Close()

	var out []InboundMessage
	for rows.Next() {
		var m InboundMessage
		if err := rows.Scan(
			&m.ID, &m.RecipientID, &m.SenderID, &m.SenderName, &m.Subject,
			&m.Summary, &m.ActionItem, &m.MessageType, &m.Channel, &m.Tick, &m.MessageID,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteInboundMessages removes consumed rows by id.
func (s *Store) DeleteInboundMessages(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(
		`DELETE FROM worker_runtime_messages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("store: delete inbound messages: %w", err)
	}
	return nil
}

// ClearInboundMessages truncates all runtime inboxes.
func (s *Store) ClearInboundMessages() error {
	if _, err := s.db.Exec(`DELETE FROM worker_runtime_messages`); err != nil {
		return fmt.Errorf("store: clear inbound messages: %w", err)
	}
	return nil
}

// StatusOverride is a temporary worker status valid until a tick.
type StatusOverride struct {
	WorkerID  int64
	Status    string
	UntilTick int
	Reason    string
}

// SetStatusOverride upserts the override for one worker.
func (s *Store) SetStatusOverride(o StatusOverride) error {
	_, err := s.db.Exec(`
		INSERT INTO worker_status_overrides (worker_id, status, until_tick, reason)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (worker_id) DO UPDATE SET
			status = excluded.status,
			until_tick = excluded.until_tick,
			reason = excluded.reason`,
		o.WorkerID, o.Status, o.UntilTick, o.Reason,
	)
	if err != nil {
		return fmt.Errorf("store: set status override: %w", err)
	}
	return nil
}

// ClearStatusOverride removes the override for one worker; idempotent.
func (s *Store) ClearStatusOverride(workerID int64) error {
	if _, err := s.db.Exec(`DELETE FROM worker_status_overrides WHERE worker_id = ?`, workerID); err != nil {
		return fmt.Errorf("store: clear status override: %w", err)
	}
	return nil
}

// ListStatusOverrides returns all live overrides keyed by worker id.
func (s *Store) ListStatusOverrides() (map[int64]StatusOverride, error) {
	rows, err := s.db.Query(`SELECT worker_id, status, until_tick, reason FROM worker_status_overrides`)
	if err != nil {
		return nil, fmt.Errorf("store: list status overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]StatusOverride)
	for rows.Next() {
		var o StatusOverride
		if err := rows.Scan(&o.WorkerID, &o.Status, &o.UntilTick, &o.Reason); err != nil {
			return nil, err
		}
		out[o.WorkerID] = o
	}
	return out, rows.Err()
}

// ExpireStatusOverrides clears overrides whose until_tick has passed and
// returns the affected worker ids.
func (s *Store) ExpireStatusOverrides(currentTick int) ([]int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: expire overrides: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT worker_id FROM worker_status_overrides WHERE until_tick <= ?`, currentTick)
	if err != nil {
		return nil, fmt.Errorf("store: expire overrides: select: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) > 0 {
		if _, err := tx.Exec(`DELETE FROM worker_status_overrides WHERE until_tick <= ?`, currentTick); err != nil {
			return nil, fmt.Errorf("store: expire overrides: delete: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}
