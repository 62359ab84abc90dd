package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/antigravity-dev/worksim/internal/persona"
)

// ScheduleBlock is one labelled block in a persona's recurring day schedule,
// in minutes of day. Rendered into the daily report outline.
type ScheduleBlock struct {
	ID          int64
	PersonID    int64
	Label       string
	StartMinute int
	EndMinute   int
}

// InsertPerson stores a persona and writes back its assigned id.
func (s *Store) InsertPerson(p *persona.Persona) error {
	vocab, err := json.Marshal(p.StatusVocabulary)
	if err != nil {
		return fmt.Errorf("store: insert person: vocab: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO people (
			name, role, timezone, email_address, chat_handle, work_hours,
			break_frequency, communication_style, skills, personality,
			objectives, metrics, planning_guidelines, event_playbook,
			status_vocabulary, is_department_head, markdown_profile
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Role, p.Timezone, p.EmailAddress, p.ChatHandle, p.WorkHours,
		p.BreakFrequency, p.CommunicationStyle, p.Skills, p.Personality,
		p.Objectives, p.Metrics, p.PlanningGuidelines, p.EventPlaybook,
		string(vocab), boolInt(p.IsDepartmentHead), p.MarkdownProfile,
	)
	if err != nil {
		return fmt.Errorf("store: insert person %s: %w", p.Name, err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: insert person %s: id: %w", p.Name, err)
	}
	return nil
}

// UpdatePerson rewrites all mutable persona fields by id.
func (s *Store) UpdatePerson(p *persona.Persona) error {
	vocab, err := json.Marshal(p.StatusVocabulary)
	if err != nil {
		return fmt.Errorf("store: update person: vocab: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE people SET
			name = ?, role = ?, timezone = ?, email_address = ?, chat_handle = ?,
			work_hours = ?, break_frequency = ?, communication_style = ?, skills = ?,
			personality = ?, objectives = ?, metrics = ?, planning_guidelines = ?,
			event_playbook = ?, status_vocabulary = ?, is_department_head = ?,
			markdown_profile = ?
		WHERE id = ?`,
		p.Name, p.Role, p.Timezone, p.EmailAddress, p.ChatHandle,
		p.WorkHours, p.BreakFrequency, p.CommunicationStyle, p.Skills,
		p.Personality, p.Objectives, p.Metrics, p.PlanningGuidelines,
		p.EventPlaybook, string(vocab), boolInt(p.IsDepartmentHead),
		p.MarkdownProfile, p.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update person %s: %w", p.Name, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: update person: id %d not found", p.ID)
	}
	return nil
}

// DeletePersonByName removes a persona and (via cascade) its schedule blocks
// and project assignments.
func (s *Store) DeletePersonByName(name string) error {
	res, err := s.db.Exec(`DELETE FROM people WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("store: delete person %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: delete person: %q not found", name)
	}
	return nil
}

// GetPersonByName loads one persona by exact name, or nil if absent.
func (s *Store) GetPersonByName(name string) (*persona.Persona, error) {
	row := s.db.QueryRow(personSelect+` WHERE name = ?`, name)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get person %q: %w", name, err)
	}
	return p, nil
}

// ListPeople returns the full roster ordered by id.
func (s *Store) ListPeople() ([]*persona.Persona, error) {
	rows, err := s.db.Query(personSelect + ` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list people: %w", err)
	}
	defer rows.Close()

	var out []*persona.Persona
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const personSelect = `
	SELECT id, name, role, timezone, email_address, chat_handle, work_hours,
		break_frequency, communication_style, skills, personality, objectives,
		metrics, planning_guidelines, event_playbook, status_vocabulary,
		is_department_head, markdown_profile
	FROM people`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(r rowScanner) (*persona.Persona, error) {
	var p persona.Persona
	var vocab string
	var head int
	err := r.Scan(
		&p.ID, &p.Name, &p.Role, &p.Timezone, &p.EmailAddress, &p.ChatHandle,
		&p.WorkHours, &p.BreakFrequency, &p.CommunicationStyle, &p.Skills,
		&p.Personality, &p.Objectives, &p.Metrics, &p.PlanningGuidelines,
		&p.EventPlaybook, &vocab, &head, &p.MarkdownProfile,
	)
	if err != nil {
		return nil, err
	}
	p.IsDepartmentHead = head != 0
	if err := json.Unmarshal([]byte(vocab), &p.StatusVocabulary); err != nil {
		p.StatusVocabulary = nil
	}
	return &p, nil
}

// ReplaceScheduleBlocks swaps a persona's schedule blocks in one transaction.
func (s *Store) ReplaceScheduleBlocks(personID int64, blocks []ScheduleBlock) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: schedule blocks: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM schedule_blocks WHERE person_id = ?`, personID); err != nil {
		return fmt.Errorf("store: schedule blocks: clear: %w", err)
	}
	for _, b := range blocks {
		if _, err := tx.Exec(
			`INSERT INTO schedule_blocks (person_id, label, start_minute, end_minute) VALUES (?, ?, ?, ?)`,
			personID, b.Label, b.StartMinute, b.EndMinute,
		); err != nil {
			return fmt.Errorf("store: schedule blocks: insert: %w", err)
		}
	}
	return tx.Commit()
}

// ScheduleBlocks returns a persona's blocks ordered by start minute.
func (s *Store) ScheduleBlocks(personID int64) ([]ScheduleBlock, error) {
	rows, err := s.db.Query(
		`SELECT id, person_id, label, start_minute, end_minute
		 FROM schedule_blocks WHERE person_id = ? ORDER BY start_minute`, personID)
	if err != nil {
		return nil, fmt.Errorf("store: schedule blocks: %w", err)
	}
	defer rows.Close()

	var out []ScheduleBlock
	for rows.Next() {
		var b ScheduleBlock
		if err := rows.Scan(&b.ID, &b.PersonID, &b.Label, &b.StartMinute, &b.EndMinute); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
