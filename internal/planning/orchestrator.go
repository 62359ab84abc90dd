// Package planning drives the three-level plan hierarchy: project plans at
// start, one daily plan per persona per day, and hourly plans generated on
// trigger. Generation is idempotent per (persona, tick) and optionally fans
// out over a bounded worker pool.
package planning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antigravity-dev/worksim/internal/comms"
	"github.com/antigravity-dev/worksim/internal/persona"
	"github.com/antigravity-dev/worksim/internal/planner"
	"github.com/antigravity-dev/worksim/internal/store"
	"github.com/antigravity-dev/worksim/internal/tick"
)

// PlanResult is what one generation call produces.
type PlanResult struct {
	Content    string
	ModelUsed  string
	TokensUsed int
}

// HourlyTask describes one persona's hourly-plan generation for a tick.
type HourlyTask struct {
	Person            *persona.Persona
	PrimaryProject    *store.ProjectPlan
	AllActiveProjects []*store.ProjectPlan
	DailyPlanText     string
	Tick              int
	Reason            string
	Team              []*persona.Persona
	Adjustments       []string
	InboxMessages     []store.InboundMessage
	ModelHint         string
}

// Timeouts for the three generation classes.
type Timeouts struct {
	Plan    time.Duration
	Summary time.Duration
	Report  time.Duration
}

// DefaultTimeouts match the documented per-task budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{Plan: 240 * time.Second, Summary: 30 * time.Second, Report: 60 * time.Second}
}

// Orchestrator generates and persists plans, summaries, and reports.
type Orchestrator struct {
	store    *store.Store
	svc      *planner.Service
	hub      *comms.Hub
	ticks    *tick.Manager
	logger   *slog.Logger
	model    string
	workers  int
	timeouts Timeouts

	limiter *attemptLimiter
}

// NewOrchestrator builds the orchestrator. workers bounds the parallel plan
// pool; 1 forces sequential generation.
func NewOrchestrator(s *store.Store, svc *planner.Service, hub *comms.Hub, ticks *tick.Manager, model string, workers, maxPlansPerMinute int, timeouts Timeouts, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		store:    s,
		svc:      svc,
		hub:      hub,
		ticks:    ticks,
		logger:   logger,
		model:    model,
		workers:  workers,
		timeouts: timeouts,
		limiter:  newAttemptLimiter(maxPlansPerMinute),
	}
}

// Workers reports the parallel plan pool size.
func (o *Orchestrator) Workers() int { return o.workers }

// GenerateProjectPlan produces the top-level plan for a project.
func (o *Orchestrator) GenerateProjectPlan(ctx context.Context, projectName, summary string, durationWeeks int, lead *persona.Persona, team []*persona.Persona, modelHint string) (PlanResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\nDuration: %d week(s)\n", projectName, durationWeeks)
	if summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", summary)
	}
	if lead != nil {
		fmt.Fprintf(&b, "Lead: %s (%s)\n", lead.Name, lead.Role)
	}
	b.WriteString(teamRoster(team))
	b.WriteString("\nWrite a week-by-week project plan with milestones and per-role responsibilities.\n")

	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Plan)
	defer cancel()
	res, err := o.svc.Call(ctx, planner.MethodProjectPlan, planner.Request{
		Messages: []planner.Message{{Role: "user", Content: b.String()}},
		Model:    o.pickModel(modelHint),
		Context:  fmt.Sprintf("project_plan:%s", projectName),
	})
	if err != nil {
		return PlanResult{}, fmt.Errorf("planning: project plan %s: %w", projectName, err)
	}
	return PlanResult(res), nil
}

// EnsureDailyPlan returns the existing daily plan for (person, dayIndex) or
// generates and persists one. Repeat calls perform at most one planner call.
func (o *Orchestrator) EnsureDailyPlan(ctx context.Context, p *persona.Persona, dayIndex int, project *store.ProjectPlan, team []*persona.Persona, modelHint string) (string, error) {
	existing, err := o.store.GetWorkerPlan(p.ID, dayIndex, "daily")
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.Content, nil
	}

	var b strings.Builder
	b.WriteString(p.MarkdownProfile)
	if project != nil {
		fmt.Fprintf(&b, "\nProject: %s\n%s\n", project.ProjectName, project.Plan)
	}
	b.WriteString(teamRoster(team))
	fmt.Fprintf(&b, "\nWrite %s's plan for day %d: morning, midday, afternoon blocks tied to the project plan.\n", p.Name, dayIndex+1)

	genCtx, cancel := context.WithTimeout(ctx, o.timeouts.Plan)
	defer cancel()
	res, err := o.svc.Call(genCtx, planner.MethodDailyPlan, planner.Request{
		Messages: []planner.Message{{Role: "user", Content: b.String()}},
		Model:    o.pickModel(modelHint),
		Context:  fmt.Sprintf("daily_plan:%s:d%d", p.Name, dayIndex),
	})
	if err != nil {
		return "", fmt.Errorf("planning: daily plan %s day %d: %w", p.Name, dayIndex, err)
	}

	if err := o.store.UpsertWorkerPlan(&store.WorkerPlan{
		PersonID:   p.ID,
		Tick:       dayIndex,
		PlanType:   "daily",
		Content:    res.Content,
		ModelUsed:  res.ModelUsed,
		TokensUsed: res.TokensUsed,
	}); err != nil {
		return "", err
	}
	return res.Content, nil
}

// GenerateHourlyPlan produces (without persisting) one hourly plan. The
// engine batch-persists all plans for a tick after the planning phase.
func (o *Orchestrator) GenerateHourlyPlan(ctx context.Context, t HourlyTask) (PlanResult, error) {
	prompt := o.buildHourlyPrompt(t)

	genCtx, cancel := context.WithTimeout(ctx, o.timeouts.Plan)
	defer cancel()
	res, err := o.svc.Call(genCtx, planner.MethodHourlyPlan, planner.Request{
		Messages: []planner.Message{{Role: "user", Content: prompt}},
		Model:    o.pickModel(t.ModelHint),
		Context:  fmt.Sprintf("hourly_plan:%s:t%d", t.Person.Name, t.Tick),
	})
	if err != nil {
		return PlanResult{}, fmt.Errorf("planning: hourly plan %s tick %d: %w", t.Person.Name, t.Tick, err)
	}

	content := res.Content
	if len(t.Adjustments) > 0 {
		var b strings.Builder
		b.WriteString(content)
		b.WriteString("\n\nLive collaboration adjustments:\n")
		for _, adj := range t.Adjustments {
			fmt.Fprintf(&b, "- %s\n", adj)
		}
		content = b.String()
	}
	return PlanResult{Content: content, ModelUsed: res.ModelUsed, TokensUsed: res.TokensUsed}, nil
}

func (o *Orchestrator) buildHourlyPrompt(t HourlyTask) string {
	var b strings.Builder
	b.WriteString(t.Person.MarkdownProfile)
	fmt.Fprintf(&b, "\nSimulated time: %s (reason: %s)\n", o.ticks.FormatSimTime(t.Tick), t.Reason)

	if t.PrimaryProject != nil {
		fmt.Fprintf(&b, "\nPrimary project: %s\n", t.PrimaryProject.ProjectName)
	}
	if len(t.AllActiveProjects) > 1 {
		b.WriteString("Also active this week:\n")
		for _, pr := range t.AllActiveProjects {
			if t.PrimaryProject != nil && pr.ID == t.PrimaryProject.ID {
				continue
			}
			fmt.Fprintf(&b, "- %s (weeks %d-%d)\n", pr.ProjectName, pr.StartWeek, pr.StartWeek+pr.DurationWeeks-1)
		}
	}

	b.WriteString(teamRoster(t.Team))

	if recent := o.hub.RecentEmails(t.Person.ID); len(recent) > 0 {
		b.WriteString("\nRecent emails (usable with `Reply at HH:MM to [email-id]`):\n")
		for _, e := range recent {
			fmt.Fprintf(&b, "- [%s] from %s: %s\n", e.EmailID, e.From, e.Subject)
		}
	}

	if len(t.InboxMessages) > 0 {
		b.WriteString("\nNew inbox messages:\n")
		for _, m := range t.InboxMessages {
			fmt.Fprintf(&b, "- from %s (%s): %s — %s\n", m.SenderName, m.Channel, m.Subject, m.Summary)
			if m.ActionItem != "" {
				fmt.Fprintf(&b, "  action: %s\n", m.ActionItem)
			}
		}
	}

	if t.DailyPlanText != "" {
		fmt.Fprintf(&b, "\nToday's plan:\n%s\n", t.DailyPlanText)
	}

	b.WriteString("\nWrite the plan for this hour. Schedule any emails or chats under a `Scheduled communications` header using:\n")
	b.WriteString("- Email at HH:MM to TARGET: Subject | Body\n")
	b.WriteString("- Reply at HH:MM to [email-id]: Subject | Body\n")
	b.WriteString("- Chat at HH:MM to TARGET: Message\n")
	b.WriteString("Use EXACT email addresses from the team roster above.\n")
	return b.String()
}

// teamRoster renders the team with exact addressing handles so the model
// cannot invent recipients.
func teamRoster(team []*persona.Persona) string {
	if len(team) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nTeam:\n")
	for _, m := range team {
		fmt.Fprintf(&b, "- %s (%s) — email %s, chat @%s\n", m.Name, m.Role, m.EmailAddress, m.NormalizedHandle())
	}
	return b.String()
}

// HourlyOutcome pairs a task with its generation result.
type HourlyOutcome struct {
	Task   HourlyTask
	Result PlanResult
}

// GenerateHourlyPlansParallel runs the tasks through the bounded pool and
// returns outcomes preserving input order. A single failure or timeout yields
// an empty PlanResult for that task only.
func (o *Orchestrator) GenerateHourlyPlansParallel(ctx context.Context, tasks []HourlyTask) []HourlyOutcome {
	outcomes := make([]HourlyOutcome, len(tasks))
	for i, t := range tasks {
		outcomes[i].Task = t
	}
	if len(tasks) == 0 {
		return outcomes
	}

	if o.workers <= 1 || len(tasks) == 1 {
		for i, t := range tasks {
			res, err := o.GenerateHourlyPlan(ctx, t)
			if err != nil {
				o.logger.Warn("hourly plan failed", "person", t.Person.Name, "tick", t.Tick, "error", err)
				continue
			}
			outcomes[i].Result = res
		}
		return outcomes
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := range tasks {
		g.Go(func() error {
			t := tasks[i]
			res, err := o.GenerateHourlyPlan(gctx, t)
			if err != nil {
				o.logger.Warn("hourly plan failed", "person", t.Person.Name, "tick", t.Tick, "error", err)
				return nil // one failure never sinks the tick
			}
			outcomes[i].Result = res
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// PersistHourlyPlans batch-writes the generated plans for a tick, in task
// order. Empty results (failed tasks) are skipped.
func (o *Orchestrator) PersistHourlyPlans(outcomes []HourlyOutcome) error {
	for _, oc := range outcomes {
		if oc.Result.Content == "" {
			continue
		}
		if err := o.store.UpsertWorkerPlan(&store.WorkerPlan{
			PersonID:   oc.Task.Person.ID,
			Tick:       oc.Task.Tick,
			PlanType:   "hourly",
			Content:    oc.Result.Content,
			ModelUsed:  oc.Result.ModelUsed,
			TokensUsed: oc.Result.TokensUsed,
			Context:    oc.Task.Reason,
		}); err != nil {
			return err
		}
	}
	return nil
}

// GenerateHourlySummary concatenates the hour's hourly plans and summarizes
// them, upserting one row per (person, hour).
func (o *Orchestrator) GenerateHourlySummary(ctx context.Context, p *persona.Persona, hourIndex int) (PlanResult, error) {
	fromTick := (hourIndex-1)*60 + 1
	toTick := hourIndex * 60
	plans, err := o.store.HourlyPlansInRange(p.ID, fromTick, toTick)
	if err != nil {
		return PlanResult{}, err
	}
	if len(plans) == 0 {
		return PlanResult{}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summarize %s's last hour in 2-3 sentences.\n\n", p.Name)
	for _, pl := range plans {
		fmt.Fprintf(&b, "Tick %d:\n%s\n\n", pl.Tick, pl.Content)
	}

	genCtx, cancel := context.WithTimeout(ctx, o.timeouts.Summary)
	defer cancel()
	res, err := o.svc.Call(genCtx, planner.MethodHourlySummary, planner.Request{
		Messages: []planner.Message{{Role: "user", Content: b.String()}},
		Model:    o.model,
		Context:  fmt.Sprintf("hourly_summary:%s:h%d", p.Name, hourIndex),
	})
	if err != nil {
		return PlanResult{}, fmt.Errorf("planning: hourly summary %s hour %d: %w", p.Name, hourIndex, err)
	}

	if err := o.store.UpsertHourlySummary(&store.HourlySummary{
		PersonID:  p.ID,
		HourIndex: hourIndex,
		Summary:   res.Content,
		ModelUsed: res.ModelUsed,
	}); err != nil {
		return PlanResult{}, err
	}
	return PlanResult(res), nil
}

// GenerateDailyReport aggregates the day into a report plus a minute-level
// schedule outline rendered from the persona's schedule blocks. Precomputed
// hourly summaries are preferred; raw hourly plans are the fallback.
func (o *Orchestrator) GenerateDailyReport(ctx context.Context, p *persona.Persona, dayIndex int, project *store.ProjectPlan, dailyPlanText string) (PlanResult, error) {
	h := o.ticks.HoursPerDay()
	fromHour := (dayIndex*h)/60 + 1
	toHour := ((dayIndex + 1) * h) / 60

	var source strings.Builder
	summaries, err := o.store.HourlySummariesForDay(p.ID, fromHour, toHour)
	if err != nil {
		return PlanResult{}, err
	}
	if len(summaries) > 0 {
		for _, sum := range summaries {
			fmt.Fprintf(&source, "Hour %d: %s\n", sum.HourIndex, sum.Summary)
		}
	} else {
		plans, err := o.store.HourlyPlansInRange(p.ID, dayIndex*h+1, (dayIndex+1)*h)
		if err != nil {
			return PlanResult{}, err
		}
		for _, pl := range plans {
			fmt.Fprintf(&source, "%s: %s\n", o.ticks.FormatSimTime(pl.Tick), firstLine(pl.Content))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write %s's end-of-day report for day %d.\n", p.Name, dayIndex+1)
	if project != nil {
		fmt.Fprintf(&b, "Project: %s\n", project.ProjectName)
	}
	if dailyPlanText != "" {
		fmt.Fprintf(&b, "\nPlanned:\n%s\n", dailyPlanText)
	}
	if source.Len() > 0 {
		fmt.Fprintf(&b, "\nActivity:\n%s", source.String())
	}

	genCtx, cancel := context.WithTimeout(ctx, o.timeouts.Report)
	defer cancel()
	res, err := o.svc.Call(genCtx, planner.MethodDailyReport, planner.Request{
		Messages: []planner.Message{{Role: "user", Content: b.String()}},
		Model:    o.model,
		Context:  fmt.Sprintf("daily_report:%s:d%d", p.Name, dayIndex),
	})
	if err != nil {
		return PlanResult{}, fmt.Errorf("planning: daily report %s day %d: %w", p.Name, dayIndex, err)
	}

	outline, err := o.scheduleOutline(p)
	if err != nil {
		return PlanResult{}, err
	}
	if err := o.store.UpsertDailyReport(&store.DailyReport{
		PersonID:        p.ID,
		DayIndex:        dayIndex,
		Report:          res.Content,
		ScheduleOutline: outline,
		ModelUsed:       res.ModelUsed,
	}); err != nil {
		return PlanResult{}, err
	}
	return PlanResult(res), nil
}

// scheduleOutline renders the persona's recurring schedule blocks.
func (o *Orchestrator) scheduleOutline(p *persona.Persona) (string, error) {
	blocks, err := o.store.ScheduleBlocks(p.ID)
	if err != nil {
		return "", err
	}
	if len(blocks) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, blk := range blocks {
		fmt.Fprintf(&b, "%02d:%02d-%02d:%02d %s\n",
			blk.StartMinute/60, blk.StartMinute%60,
			blk.EndMinute/60, blk.EndMinute%60,
			blk.Label)
	}
	return b.String(), nil
}

func (o *Orchestrator) pickModel(hint string) string {
	if hint != "" {
		return hint
	}
	return o.model
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
