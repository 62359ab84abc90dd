package store

import (
	"database/sql"
	"fmt"
)

// WorkerPlan is one persisted daily or hourly plan row.
type WorkerPlan struct {
	ID         int64
	PersonID   int64
	Tick       int
	PlanType   string // "daily" or "hourly"
	Content    string
	ModelUsed  string
	TokensUsed int
	Context    string
}

// HourlySummary aggregates the hourly plans of one wall-clock hour.
type HourlySummary struct {
	ID        int64
	PersonID  int64
	HourIndex int
	Summary   string
	ModelUsed string
}

// DailyReport is the end-of-day aggregation for one persona.
type DailyReport struct {
	ID              int64
	PersonID        int64
	DayIndex        int
	Report          string
	ScheduleOutline string
	ModelUsed       string
}

// UpsertWorkerPlan inserts or replaces the plan row keyed by
// (person_id, tick, plan_type). Exact-tick match keeps planning idempotent.
func (s *Store) UpsertWorkerPlan(p *WorkerPlan) error {
	res, err := s.db.Exec(`
		INSERT INTO worker_plans (person_id, tick, plan_type, content, model_used, tokens_used, context)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (person_id, tick, plan_type) DO UPDATE SET
			content = excluded.content,
			model_used = excluded.model_used,
			tokens_used = excluded.tokens_used,
			context = excluded.context`,
		p.PersonID, p.Tick, p.PlanType, p.Content, p.ModelUsed, p.TokensUsed, nullIfEmpty(p.Context),
	)
	if err != nil {
		return fmt.Errorf("store: upsert worker plan: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		p.ID = id
	}
	return nil
}

// GetWorkerPlan fetches a plan by its exact key, or nil if absent.
func (s *Store) GetWorkerPlan(personID int64, tick int, planType string) (*WorkerPlan, error) {
	var p WorkerPlan
	var ctx sql.NullString
	err := s.db.QueryRow(`
		SELECT id, person_id, tick, plan_type, content, model_used, tokens_used, context
		FROM worker_plans WHERE person_id = ? AND tick = ? AND plan_type = ?`,
		personID, tick, planType,
	).Scan(&p.ID, &p.PersonID, &p.Tick, &p.PlanType, &p.Content, &p.ModelUsed, &p.TokensUsed, &ctx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get worker plan: %w", err)
	}
	p.Context = ctx.String
	return &p, nil
}

// HourlyPlansInRange returns hourly plans for a persona with tick in
// [fromTick, toTick], ordered by tick.
func (s *Store) HourlyPlansInRange(personID int64, fromTick, toTick int) ([]WorkerPlan, error) {
	rows, err := s.db.Query(`
		SELECT id, person_id, tick, plan_type, content, model_used, tokens_used, COALESCE(context, '')
		FROM worker_plans
		WHERE person_id = ? AND plan_type = 'hourly' AND tick BETWEEN ? AND ?
		ORDER BY tick`,
		personID, fromTick, toTick)
	if err != nil {
		return nil, fmt.Errorf("store: hourly plans in range: %w", err)
	}
	defer rows.Close()

	var out []WorkerPlan
	for rows.Next() {
		var p WorkerPlan
		if err := rows.Scan(&p.ID, &p.PersonID, &p.Tick, &p.PlanType, &p.Content, &p.ModelUsed, &p.TokensUsed, &p.Context); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountWorkerPlans returns the number of plan rows of one type for a persona.
func (s *Store) CountWorkerPlans(personID int64, planType string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM worker_plans WHERE person_id = ? AND plan_type = ?`,
		personID, planType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count worker plans: %w", err)
	}
	return n, nil
}

// UpsertHourlySummary stores the summary keyed by (person_id, hour_index).
func (s *Store) UpsertHourlySummary(sum *HourlySummary) error {
	_, err := s.db.Exec(`
		INSERT INTO hourly_summaries (person_id, hour_index, summary, model_used)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (person_id, hour_index) DO UPDATE SET
			summary = excluded.summary,
			model_used = excluded.model_used`,
		sum.PersonID, sum.HourIndex, sum.Summary, sum.ModelUsed,
	)
	if err != nil {
		return fmt.Errorf("store: upsert hourly summary: %w", err)
	}
	return nil
}

// GetHourlySummary returns the summary for (personID, hourIndex), or nil.
func (s *Store) GetHourlySummary(personID int64, hourIndex int) (*HourlySummary, error) {
	var sum HourlySummary
	err := s.db.QueryRow(`
		SELECT id, person_id, hour_index, summary, model_used
		FROM hourly_summaries WHERE person_id = ? AND hour_index = ?`,
		personID, hourIndex,
	).Scan(&sum.ID, &sum.PersonID, &sum.HourIndex, &sum.Summary, &sum.ModelUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get hourly summary: %w", err)
	}
	return &sum, nil
}

// HourlySummariesForDay returns a persona's summaries with hour_index in
// [fromHour, toHour], ordered by hour.
func (s *Store) HourlySummariesForDay(personID int64, fromHour, toHour int) ([]HourlySummary, error) {
	rows, err := s.db.Query(`
		SELECT id, person_id, hour_index, summary, model_used
		FROM hourly_summaries
		WHERE person_id = ? AND hour_index BETWEEN ? AND ?
		ORDER BY hour_index`,
		personID, fromHour, toHour)
	if err != nil {
		return nil, fmt.Errorf("store: hourly summaries: %w", err)
	}
	defer rows.Close()

	var out []HourlySummary
	for rows.Next() {
		var sum HourlySummary
		if err := rows.Scan(&sum.ID, &sum.PersonID, &sum.HourIndex, &sum.Summary, &sum.ModelUsed); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// UpsertDailyReport stores the report keyed by (person_id, day_index).
func (s *Store) UpsertDailyReport(r *DailyReport) error {
	_, err := s.db.Exec(`
		INSERT INTO daily_reports (person_id, day_index, report, schedule_outline, model_used)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (person_id, day_index) DO UPDATE SET
			report = excluded.report,
			schedule_outline = excluded.schedule_outline,
			model_used = excluded.model_used`,
		r.PersonID, r.DayIndex, r.Report, r.ScheduleOutline, r.ModelUsed,
	)
	if err != nil {
		return fmt.Errorf("store: upsert daily report: %w", err)
	}
	return nil
}

// GetDailyReport returns the report for (personID, dayIndex), or nil.
func (s *Store) GetDailyReport(personID int64, dayIndex int) (*DailyReport, error) {
	var r DailyReport
	err := s.db.QueryRow(`
		SELECT id, person_id, day_index, report, schedule_outline, model_used
		FROM daily_reports WHERE person_id = ? AND day_index = ?`,
		personID, dayIndex,
	).Scan(&r.ID, &r.PersonID, &r.DayIndex, &r.Report, &r.ScheduleOutline, &r.ModelUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get daily report: %w", err)
	}
	return &r, nil
}

// MaxDailyReportDay returns the largest stored day_index, or -1 when empty.
func (s *Store) MaxDailyReportDay() (int, error) {
	var day sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(day_index) FROM daily_reports`).Scan(&day); err != nil {
		return -1, fmt.Errorf("store: max daily report day: %w", err)
	}
	if !day.Valid {
		return -1, nil
	}
	return int(day.Int64), nil
}

// InsertSimulationReport stores a run-level report.
func (s *Store) InsertSimulationReport(label, body string) error {
	_, err := s.db.Exec(`INSERT INTO simulation_reports (label, body) VALUES (?, ?)`, label, body)
	if err != nil {
		return fmt.Errorf("store: insert simulation report: %w", err)
	}
	return nil
}

// RewindDerived deletes plan/report/log/event rows beyond the cutoff, as one
// transaction. Hour and day bounds are derived from the cutoff by the caller
// so the store stays free of tick arithmetic.
func (s *Store) RewindDerived(cutoffTick, maxHourIndex, maxDayIndex int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: rewind: begin: %w", err)
	}
	defer tx.Rollback()

	steps := []struct {
		q    string
		args []any
	}{
		{`DELETE FROM worker_plans WHERE plan_type = 'hourly' AND tick > ?`, []any{cutoffTick}},
		{`DELETE FROM worker_plans WHERE plan_type = 'daily' AND tick > ?`, []any{maxDayIndex}},
		{`DELETE FROM hourly_summaries WHERE hour_index > ?`, []any{maxHourIndex}},
		{`DELETE FROM daily_reports WHERE day_index > ?`, []any{maxDayIndex}},
		{`DELETE FROM worker_exchange_log WHERE tick > ?`, []any{cutoffTick}},
		{`DELETE FROM tick_log WHERE tick > ?`, []any{cutoffTick}},
		{`DELETE FROM events WHERE at_tick IS NOT NULL AND at_tick > ?`, []any{cutoffTick}},
		{`UPDATE events SET delivered_at_tick = NULL WHERE delivered_at_tick > ?`, []any{cutoffTick}},
		{`UPDATE simulation_state SET current_tick = ? WHERE id = 1`, []any{cutoffTick}},
	}
	for _, st := range steps {
		if _, err := tx.Exec(st.q, st.args...); err != nil {
			return fmt.Errorf("store: rewind: %w", err)
		}
	}
	return tx.Commit()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
