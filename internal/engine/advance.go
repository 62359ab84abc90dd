package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/antigravity-dev/worksim/internal/event"
	"github.com/antigravity-dev/worksim/internal/persona"
	"github.com/antigravity-dev/worksim/internal/planning"
	"github.com/antigravity-dev/worksim/internal/store"
	"github.com/antigravity-dev/worksim/internal/tick"
)

// Advance moves the simulation forward by n ticks under the advance lock.
// Each tick runs the full pipeline: events, inbox drain with acks, planning,
// dispatch, persistence, and boundary aggregation. Partial progress is kept
// on error; the failing tick is not recorded.
func (e *Engine) Advance(n int, reason string) error {
	if n < 1 {
		return fmt.Errorf("engine: advance: tick count must be >= 1")
	}
	if reason == "" {
		reason = "manual"
	}
	return e.ticks.WithAdvanceLock(func() error {
		for i := 0; i < n; i++ {
			if err := e.advanceOne(reason); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) advanceOne(reason string) error {
	ctx := context.Background()

	state, err := e.store.GetSimulationState()
	if err != nil {
		return err
	}
	if !state.IsRunning {
		return fmt.Errorf("engine: advance: simulation is not running")
	}
	next := state.CurrentTick + 1
	tod := e.ticks.TickOfDay(next)
	dayIndex := e.ticks.DayIndex(next)
	week := e.weekOfTick(next)

	e.hub.BeginTick(next)

	if _, err := e.store.ExpireStatusOverrides(next); err != nil {
		return err
	}
	overrides, err := e.store.ListStatusOverrides()
	if err != nil {
		return err
	}

	people, err := e.Roster()
	if err != nil {
		return err
	}
	if err := e.runtime.Sync(people); err != nil {
		return err
	}

	adjustments, err := e.events.ProcessTick(next, people, overrides)
	if err != nil {
		return err
	}

	// Phase 1: drain inboxes and acknowledge inbound email.
	drained := make(map[int64][]store.InboundMessage, len(people))
	for _, p := range people {
		if isSidelined(overrides, p.ID) {
			continue
		}
		msgs := e.runtime.Drain(p)
		if len(msgs) == 0 {
			continue
		}
		drained[p.ID] = msgs
		e.sendAcks(ctx, p, people, msgs, next)
		ids := make([]int64, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		if err := e.runtime.RemoveMessages(ids); err != nil {
			return err
		}
	}

	// Phase 2: plan. Daily plans are ensured lazily; hourly plans fan out
	// over the worker pool for personas the trigger policy selects.
	tasks, err := e.buildHourlyTasks(ctx, people, overrides, adjustments, drained, next, tod, dayIndex, week, reason)
	if err != nil {
		return err
	}
	outcomes := e.orch.GenerateHourlyPlansParallel(ctx, tasks)
	if err := e.orch.PersistHourlyPlans(outcomes); err != nil {
		return err
	}

	scheduled := make(map[int64]int, len(outcomes))
	for _, oc := range outcomes {
		if oc.Result.Content == "" {
			continue
		}
		scheduled[oc.Task.Person.ID] = e.hub.ScheduleFromPlan(oc.Task.Person.ID, oc.Result.Content, next)
	}

	// Phase 3: dispatch due sends, day-1 kickoffs, and quiet-plan fallbacks.
	for _, p := range people {
		if isSidelined(overrides, p.ID) {
			continue
		}
		emails, chats := e.hub.DispatchDue(ctx, p, next)
		if dayIndex == 0 {
			e.sendKickoffs(ctx, p, people, next, tod, week)
		}
		if n, planned := scheduled[p.ID]; planned && n == 0 && emails+chats == 0 {
			e.sendFallback(ctx, p, people, next, week)
		}
	}

	if err := e.store.SetTick(next, reason); err != nil {
		return err
	}

	if next%60 == 0 {
		e.runHourBoundary(ctx, people, overrides, next/60)
	}
	if h := e.ticks.HoursPerDay(); next%h == 0 {
		e.runDayBoundary(ctx, people, overrides, next/h-1, week)
	}
	return nil
}

func isSidelined(overrides map[int64]store.StatusOverride, id int64) bool {
	o, ok := overrides[id]
	return ok && o.Status == event.StatusSickLeave
}

// sendAcks replies to inbound email-channel messages through the hub gates,
// so duplicate or rapid-fire acks are suppressed like any other send.
func (e *Engine) sendAcks(ctx context.Context, p *persona.Persona, people []*persona.Persona, msgs []store.InboundMessage, tickNo int) {
	byID := make(map[int64]*persona.Persona, len(people))
	for _, o := range people {
		byID[o.ID] = o
	}
	for _, m := range msgs {
		if m.MessageType == "ack" || m.SenderID == 0 {
			continue
		}
		sender, ok := byID[m.SenderID]
		if !ok {
			continue
		}
		if m.Channel != "email" && m.Channel != "email+chat" {
			continue
		}
		subject := e.loc.AckSubjectPrefix + " " + m.Subject
		e.hub.SendEmail(ctx, p, []string{sender.EmailAddress}, nil, nil, subject, e.loc.AckBody, "", tickNo)
	}
}

func (e *Engine) buildHourlyTasks(ctx context.Context, people []*persona.Persona, overrides map[int64]store.StatusOverride, adjustments map[int64][]string, drained map[int64][]store.InboundMessage, tickNo, tod, dayIndex, week int, reason string) ([]planning.HourlyTask, error) {
	var tasks []planning.HourlyTask
	for _, p := range people {
		if isSidelined(overrides, p.ID) {
			continue
		}
		w, err := persona.SplitWorkHours(p.WorkHours)
		if err == nil && !e.ticks.IsWithinWorkHours(w, tickNo) {
			continue
		}
		adj := adjustments[p.ID]
		msgs := drained[p.ID]
		if !planning.ShouldPlanHourly(len(msgs), len(adj), reason, tod) {
			continue
		}
		if !e.orch.AllowPlan(p.ID, dayIndex, tod) {
			e.logger.Warn("plan attempt rate-limited", "person", p.Name, "tick", tickNo)
			continue
		}

		projs, err := e.projects.ActiveProjectsForPerson(p.ID, week)
		if err != nil {
			return nil, err
		}
		var primary *store.ProjectPlan
		if len(projs) > 0 {
			primary = projs[0]
		}

		daily := ""
		if primary != nil {
			daily, err = e.orch.EnsureDailyPlan(ctx, p, dayIndex, primary, people, "")
			if err != nil {
				e.logger.Warn("daily plan failed", "person", p.Name, "day", dayIndex, "error", err)
			}
		}

		tasks = append(tasks, planning.HourlyTask{
			Person:            p,
			PrimaryProject:    primary,
			AllActiveProjects: projs,
			DailyPlanText:     daily,
			Tick:              tickNo,
			Reason:            reason,
			Team:              people,
			Adjustments:       adj,
			InboxMessages:     msgs,
		})
	}
	return tasks, nil
}

// sendKickoffs posts the day-1 morning chat and kickoff email when the tick
// hits the persona's offsets from work start.
func (e *Engine) sendKickoffs(ctx context.Context, p *persona.Persona, people []*persona.Persona, tickNo, tod, week int) {
	if tod == e.kickoffChat[p.ID] {
		if slug := e.roomSlugFor(p.ID, week); slug != "" {
			e.hub.SendRoomMessage(ctx, p, slug, e.loc.KickoffChatMessage, tickNo)
		}
	}
	if tod == e.kickoffEmail[p.ID] {
		collabs := e.collaborators(p, people, week, 2)
		if len(collabs) == 0 {
			return
		}
		to := []string{collabs[0].EmailAddress}
		cc := e.hub.SuggestCC(p, collabs[0])
		if len(collabs) > 1 {
			to = append(to, collabs[1].EmailAddress)
		}
		e.hub.SendEmail(ctx, p, to, cc, nil, e.loc.KickoffEmailSubject, e.loc.KickoffEmailBody, "", tickNo)
	}
}

// sendFallback keeps a quiet hour visible: one status email to the primary
// collaborator and a heads-up DM to the second.
func (e *Engine) sendFallback(ctx context.Context, p *persona.Persona, people []*persona.Persona, tickNo, week int) {
	collabs := e.collaborators(p, people, week, 2)
	if len(collabs) == 0 {
		return
	}
	cc := e.hub.SuggestCC(p, collabs[0])
	e.hub.SendEmail(ctx, p, []string{collabs[0].EmailAddress}, cc, nil, e.loc.FallbackEmailSubject, e.loc.FallbackEmailBody, "", tickNo)
	if len(collabs) > 1 {
		e.hub.SendDM(ctx, p, collabs[1], e.loc.FallbackChatMessage, tickNo)
	}
}

// collaborators returns up to max teammates sharing the persona's primary
// project, name-sorted; the whole roster when no project is active.
func (e *Engine) collaborators(p *persona.Persona, people []*persona.Persona, week, max int) []*persona.Persona {
	team := people
	if projs, err := e.projects.ActiveProjectsForPerson(p.ID, week); err == nil && len(projs) > 0 {
		if with, err := e.projects.ActiveProjectsWithAssignments(week, people); err == nil {
			for _, pw := range with {
				if pw.Plan.ID == projs[0].ID {
					team = pw.Team
					break
				}
			}
		}
	}
	var out []*persona.Persona
	for _, m := range team {
		if m.ID == p.ID {
			continue
		}
		out = append(out, m)
		if len(out) == max {
			break
		}
	}
	return out
}

func (e *Engine) roomSlugFor(personID int64, week int) string {
	projs, err := e.projects.ActiveProjectsForPerson(personID, week)
	if err != nil || len(projs) == 0 {
		return ""
	}
	slug, err := e.projects.ActiveRoomSlug(projs[0].ID)
	if err != nil {
		return ""
	}
	return slug
}

func (e *Engine) runHourBoundary(ctx context.Context, people []*persona.Persona, overrides map[int64]store.StatusOverride, hourIndex int) {
	var g errgroup.Group
	g.SetLimit(e.orch.Workers())
	for _, p := range people {
		if isSidelined(overrides, p.ID) {
			continue
		}
		g.Go(func() error {
			if _, err := e.orch.GenerateHourlySummary(ctx, p, hourIndex); err != nil {
				e.logger.Warn("hourly summary failed", "person", p.Name, "hour", hourIndex, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

func (e *Engine) runDayBoundary(ctx context.Context, people []*persona.Persona, overrides map[int64]store.StatusOverride, dayIndex, week int) {
	var g errgroup.Group
	g.SetLimit(e.orch.Workers())
	for _, p := range people {
		if isSidelined(overrides, p.ID) {
			continue
		}
		g.Go(func() error {
			projs, err := e.projects.ActiveProjectsForPerson(p.ID, week)
			if err != nil {
				e.logger.Warn("daily report project lookup failed", "person", p.Name, "error", err)
				return nil
			}
			var primary *store.ProjectPlan
			if len(projs) > 0 {
				primary = projs[0]
			}
			daily := ""
			if wp, err := e.store.GetWorkerPlan(p.ID, dayIndex, "daily"); err == nil && wp != nil {
				daily = wp.Content
			}
			if _, err := e.orch.GenerateDailyReport(ctx, p, dayIndex, primary, daily); err != nil {
				e.logger.Warn("daily report failed", "person", p.Name, "day", dayIndex, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// StartAutoTick spawns the wall-clock scheduler loop.
func (e *Engine) StartAutoTick() error {
	return e.ticks.StartAutoTick(tick.AutoTickHooks{
		ReadState: func() (bool, bool, error) {
			st, err := e.store.GetSimulationState()
			if err != nil {
				return false, false, err
			}
			return st.IsRunning, st.AutoTick, nil
		},
		CheckAutoPause: e.checkAutoPause,
		Advance: func() error {
			return e.Advance(1, "auto")
		},
		DisableAutoTick: func() {
			if err := e.store.SetAutoTick(false); err != nil {
				e.logger.Error("disable auto-tick failed", "error", err)
			}
		},
	})
}

// StopAutoTick halts the scheduler loop and persists the flag.
func (e *Engine) StopAutoTick() error {
	e.ticks.StopAutoTick()
	return e.store.SetAutoTick(false)
}

// checkAutoPause stops automatic progression once every project window has
// closed and nothing is queued to start. Chat rooms are archived on the way
// out. The running flag stays set so manual advances remain possible.
func (e *Engine) checkAutoPause() bool {
	if !e.autoPause {
		return false
	}
	state, err := e.store.GetSimulationState()
	if err != nil {
		return false
	}
	week := e.weekOfTick(state.CurrentTick + 1)
	active, upcoming, err := e.projects.CountActiveAndUpcoming(week)
	if err != nil || active > 0 || upcoming > 0 {
		return false
	}

	all, err := e.store.ListProjectPlans()
	if err == nil {
		for _, pr := range all {
			if err := e.projects.ArchiveProjectChatRoom(pr.ID); err != nil {
				e.logger.Warn("room archive failed", "project", pr.ProjectName, "error", err)
			}
		}
	}
	if err := e.store.SetAutoTick(false); err != nil {
		e.logger.Error("auto-pause persist failed", "error", err)
	}
	e.logger.Info("auto-paused: all project windows closed", "week", week)
	return true
}
