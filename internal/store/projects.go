package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ProjectPlan is one stored project plan row.
type ProjectPlan struct {
	ID             int64
	ProjectName    string
	ProjectSummary string
	Plan           string
	GeneratedBy    int64 // persona id, 0 when unset
	StartWeek      int
	DurationWeeks  int
	ModelUsed      string
}

// ProjectChatRoom is the group-chat room record for a project.
type ProjectChatRoom struct {
	ProjectID  int64
	RoomSlug   string
	RoomName   string
	IsActive   bool
	ArchivedAt string // ISO-8601, empty while active
}

// InsertProjectPlan stores a plan plus its assignment rows in one transaction
// and writes back the project id. An empty assignee list means team-wide.
func (s *Store) InsertProjectPlan(p *ProjectPlan, assigneeIDs []int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: insert project plan: begin: %w", err)
	}
	defer tx.Rollback()

	var generatedBy any
	if p.GeneratedBy > 0 {
		generatedBy = p.GeneratedBy
	}
	res, err := tx.Exec(`
		INSERT INTO project_plans (project_name, project_summary, plan, generated_by, start_week, duration_weeks, model_used)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ProjectName, p.ProjectSummary, p.Plan, generatedBy, p.StartWeek, p.DurationWeeks, p.ModelUsed,
	)
	if err != nil {
		return fmt.Errorf("store: insert project plan %s: %w", p.ProjectName, err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: insert project plan: id: %w", err)
	}

	for _, personID := range assigneeIDs {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO project_assignments (project_id, person_id) VALUES (?, ?)`,
			p.ID, personID,
		); err != nil {
			return fmt.Errorf("store: insert project assignment: %w", err)
		}
	}
	return tx.Commit()
}

// GetProjectPlan loads one project by id.
func (s *Store) GetProjectPlan(id int64) (*ProjectPlan, error) {
	row := s.db.QueryRow(projectSelect+` WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// LatestProjectPlan returns the most recently inserted project, or nil.
func (s *Store) LatestProjectPlan() (*ProjectPlan, error) {
	row := s.db.QueryRow(projectSelect + ` ORDER BY id DESC LIMIT 1`)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListProjectPlans returns all projects ordered by start week then id.
func (s *Store) ListProjectPlans() ([]*ProjectPlan, error) {
	rows, err := s.db.Query(projectSelect + ` ORDER BY start_week, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list project plans: %w", err)
	}
	defer rows.Close()

	var out []*ProjectPlan
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const projectSelect = `
	SELECT id, project_name, project_summary, plan, COALESCE(generated_by, 0),
		start_week, duration_weeks, model_used
	FROM project_plans`

func scanProject(r rowScanner) (*ProjectPlan, error) {
	var p ProjectPlan
	err := r.Scan(
		&p.ID, &p.ProjectName, &p.ProjectSummary, &p.Plan, &p.GeneratedBy,
		&p.StartWeek, &p.DurationWeeks, &p.ModelUsed,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AssignmentsFor returns the explicitly assigned person ids for a project, in
// persona-id order. Empty means team-wide.
func (s *Store) AssignmentsFor(projectID int64) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT person_id FROM project_assignments WHERE project_id = ? ORDER BY person_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: assignments: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ProjectIDsAssignedTo returns the ids of projects with an explicit assignment
// for the persona.
func (s *Store) ProjectIDsAssignedTo(personID int64) (map[int64]bool, error) {
	rows, err := s.db.Query(
		`SELECT project_id FROM project_assignments WHERE person_id = ?`, personID)
	if err != nil {
		return nil, fmt.Errorf("store: assigned projects: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// HasAnyAssignments reports whether a project has explicit assignment rows.
func (s *Store) HasAnyAssignments(projectID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM project_assignments WHERE project_id = ?`, projectID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: has assignments: %w", err)
	}
	return n > 0, nil
}

// UpsertProjectChatRoom records the room created for a project.
func (s *Store) UpsertProjectChatRoom(r ProjectChatRoom) error {
	_, err := s.db.Exec(`
		INSERT INTO project_chat_rooms (project_id, room_slug, room_name, is_active, archived_at)
		VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT (project_id) DO UPDATE SET
			room_slug = excluded.room_slug,
			room_name = excluded.room_name,
			is_active = excluded.is_active,
			archived_at = NULL`,
		r.ProjectID, r.RoomSlug, r.RoomName, boolInt(r.IsActive),
	)
	if err != nil {
		return fmt.Errorf("store: upsert chat room: %w", err)
	}
	return nil
}

// GetProjectChatRoom returns the room for a project, or nil.
func (s *Store) GetProjectChatRoom(projectID int64) (*ProjectChatRoom, error) {
	var r ProjectChatRoom
	var active int
	var archived sql.NullString
	err := s.db.QueryRow(`
		SELECT project_id, room_slug, room_name, is_active, archived_at
		FROM project_chat_rooms WHERE project_id = ?`, projectID,
	).Scan(&r.ProjectID, &r.RoomSlug, &r.RoomName, &active, &archived)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get chat room: %w", err)
	}
	r.IsActive = active != 0
	r.ArchivedAt = archived.String
	return &r, nil
}

// ArchiveProjectChatRoom deactivates the room if still active; idempotent.
func (s *Store) ArchiveProjectChatRoom(projectID int64) error {
	_, err := s.db.Exec(`
		UPDATE project_chat_rooms
		SET is_active = 0, archived_at = ?
		WHERE project_id = ? AND is_active = 1`,
		time.Now().UTC().Format(time.RFC3339), projectID,
	)
	if err != nil {
		return fmt.Errorf("store: archive chat room: %w", err)
	}
	return nil
}
