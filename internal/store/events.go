package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Event is one write-once injected or generated event.
type Event struct {
	ID              int64
	Type            string
	TargetIDs       []int64
	ProjectID       int64 // 0 when not project-scoped
	AtTick          int   // -1 when unscheduled
	DeliveredAtTick int   // -1 until an unscheduled event is delivered
	Payload         map[string]any
}

// InsertEvent stores an event and writes back its id. Events are write-once;
// there is no update path.
func (s *Store) InsertEvent(e *Event) error {
	targets, err := json.Marshal(e.TargetIDs)
	if err != nil {
		return fmt.Errorf("store: insert event: targets: %w", err)
	}
	payload := "{}"
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("store: insert event: payload: %w", err)
		}
		payload = string(raw)
	}

	var projectID, atTick any
	if e.ProjectID > 0 {
		projectID = e.ProjectID
	}
	if e.AtTick >= 0 {
		atTick = e.AtTick
	}

	res, err := s.db.Exec(
		`INSERT INTO events (event_type, target_ids, project_id, at_tick, payload) VALUES (?, ?, ?, ?, ?)`,
		e.Type, string(targets), projectID, atTick, payload,
	)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: insert event: id: %w", err)
	}
	return nil
}

// ListEvents returns all events in insertion order.
func (s *Store) ListEvents() ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, event_type, target_ids, project_id, at_tick, delivered_at_tick, payload FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var targets, payload string
		var projectID, atTick, deliveredAt sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Type, &targets, &projectID, &atTick, &deliveredAt, &payload); err != nil {
			return nil, err
		}
		if projectID.Valid {
			e.ProjectID = projectID.Int64
		}
		e.AtTick = -1
		if atTick.Valid {
			e.AtTick = int(atTick.Int64)
		}
		e.DeliveredAtTick = -1
		if deliveredAt.Valid {
			e.DeliveredAtTick = int(deliveredAt.Int64)
		}
		_ = json.Unmarshal([]byte(targets), &e.TargetIDs)
		_ = json.Unmarshal([]byte(payload), &e.Payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventsAtTick returns events pinned to the given tick plus unscheduled
// events not yet delivered. Callers mark delivery with MarkEventDelivered so
// an unscheduled event fires exactly once.
func (s *Store) EventsAtTick(tick int) ([]Event, error) {
	all, err := s.ListEvents()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range all {
		if e.AtTick == tick || (e.AtTick < 0 && e.DeliveredAtTick < 0) {
			out = append(out, e)
		}
	}
	return out, nil
}

// MarkEventDelivered records the tick an unscheduled event was converted at.
func (s *Store) MarkEventDelivered(id int64, tick int) error {
	if _, err := s.db.Exec(
		`UPDATE events SET delivered_at_tick = ? WHERE id = ?`, tick, id,
	); err != nil {
		return fmt.Errorf("store: mark event delivered: %w", err)
	}
	return nil
}
