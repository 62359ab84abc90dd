package store

import (
	"database/sql"
	"fmt"
)

// ExchangeRecord mirrors every outgoing email or chat so replay and rewind can
// reconstruct traffic without reading the gateways.
type ExchangeRecord struct {
	ID         int64
	Tick       int
	Channel    string // email, dm, room
	Sender     string
	Recipients string // comma-joined, sorted
	Subject    string
	Body       string
	ThreadID   string
	SentAt     string // ISO-8601
}

// AppendExchange records one dispatched communication.
func (s *Store) AppendExchange(r *ExchangeRecord) error {
	res, err := s.db.Exec(`
		INSERT INTO worker_exchange_log (tick, channel, sender, recipients, subject, body, thread_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Tick, r.Channel, r.Sender, r.Recipients, r.Subject, r.Body, r.ThreadID, r.SentAt,
	)
	if err != nil {
		return fmt.Errorf("store: append exchange: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: append exchange: id: %w", err)
	}
	return nil
}

// ExchangesAtTick returns the communications logged for one tick, in send order.
func (s *Store) ExchangesAtTick(tick int) ([]ExchangeRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, tick, channel, sender, recipients, subject, body, thread_id, sent_at
		FROM worker_exchange_log WHERE tick = ? ORDER BY id`, tick)
	if err != nil {
		return nil, fmt.Errorf("store: exchanges at tick: %w", err)
	}
	defer rows.Close()

	var out []ExchangeRecord
	for rows.Next() {
		var r ExchangeRecord
		if err := rows.Scan(&r.ID, &r.Tick, &r.Channel, &r.Sender, &r.Recipients, &r.Subject, &r.Body, &r.ThreadID, &r.SentAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MaxExchangeTick returns the largest logged tick, or 0 when the log is empty.
func (s *Store) MaxExchangeTick() (int, error) {
	var tick sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(tick) FROM worker_exchange_log`).Scan(&tick); err != nil {
		return 0, fmt.Errorf("store: max exchange tick: %w", err)
	}
	if !tick.Valid {
		return 0, nil
	}
	return int(tick.Int64), nil
}

// CountExchanges returns total logged communications per channel.
func (s *Store) CountExchanges(channel string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM worker_exchange_log WHERE channel = ?`, channel).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count exchanges: %w", err)
	}
	return n, nil
}
