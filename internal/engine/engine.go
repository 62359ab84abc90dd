// Package engine owns the simulation lifecycle: start, tick advancement with
// its three phases (inbox drain, planning, dispatch), boundary aggregation,
// auto-pause supervision, and the reset/rewind/replay controls.
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antigravity-dev/worksim/internal/comms"
	"github.com/antigravity-dev/worksim/internal/event"
	"github.com/antigravity-dev/worksim/internal/gateway"
	"github.com/antigravity-dev/worksim/internal/locale"
	"github.com/antigravity-dev/worksim/internal/persona"
	"github.com/antigravity-dev/worksim/internal/planning"
	"github.com/antigravity-dev/worksim/internal/project"
	"github.com/antigravity-dev/worksim/internal/runtime"
	"github.com/antigravity-dev/worksim/internal/store"
	"github.com/antigravity-dev/worksim/internal/tick"
)

// workdaysPerWeek maps simulated days onto project weeks. Weekends are not
// simulated; five consecutive days make a week.
const workdaysPerWeek = 5

// kickoff offsets from each persona's work-window start, in simulated minutes.
const (
	kickoffChatOffsetMin  = 5
	kickoffEmailOffsetMin = 35
)

// Engine wires every subsystem together and drives ticks.
type Engine struct {
	store    *store.Store
	ticks    *tick.Manager
	hub      *comms.Hub
	orch     *planning.Orchestrator
	events   *event.System
	projects *project.Manager
	runtime  *runtime.Manager
	email    *gateway.EmailClient
	chat     *gateway.ChatClient
	logger   *slog.Logger
	loc      locale.Strings

	autoPause bool

	// roster filter, set at Start. Empty include means everyone.
	include map[string]bool
	exclude map[string]bool

	// kickoff tick-of-day per persona, valid for day 1 of the session.
	kickoffChat  map[int64]int
	kickoffEmail map[int64]int
}

// Deps collects the engine's collaborators.
type Deps struct {
	Store    *store.Store
	Ticks    *tick.Manager
	Hub      *comms.Hub
	Orch     *planning.Orchestrator
	Events   *event.System
	Projects *project.Manager
	Runtime  *runtime.Manager
	Email    *gateway.EmailClient
	Chat     *gateway.ChatClient
	Locale   locale.Strings
	Logger   *slog.Logger

	AutoPauseOnProjectEnd bool
}

// New builds the engine and wires the hub's roster and room lookups.
func New(d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	e := &Engine{
		store:        d.Store,
		ticks:        d.Ticks,
		hub:          d.Hub,
		orch:         d.Orch,
		events:       d.Events,
		projects:     d.Projects,
		runtime:      d.Runtime,
		email:        d.Email,
		chat:         d.Chat,
		logger:       d.Logger,
		loc:          d.Locale,
		autoPause:    d.AutoPauseOnProjectEnd,
		kickoffChat:  make(map[int64]int),
		kickoffEmail: make(map[int64]int),
	}
	e.hub.SetRoster(func() []*persona.Persona {
		people, err := e.Roster()
		if err != nil {
			e.logger.Error("roster load failed", "error", err)
			return nil
		}
		return people
	})
	e.hub.SetActiveRoomLookup(func(personID int64) string {
		state, err := e.store.GetSimulationState()
		if err != nil {
			return ""
		}
		week := e.weekOfTick(state.CurrentTick + 1)
		projs, err := e.projects.ActiveProjectsForPerson(personID, week)
		if err != nil || len(projs) == 0 {
			return ""
		}
		slug, err := e.projects.ActiveRoomSlug(projs[0].ID)
		if err != nil {
			return ""
		}
		return slug
	})
	return e
}

// ProjectSpec is one project to initialize at start.
type ProjectSpec struct {
	Name          string
	Summary       string
	StartWeek     int // 1-based; 0 means week 1
	DurationWeeks int
	AssigneeNames []string // empty means the whole roster
}

// StartOptions controls session initialization.
type StartOptions struct {
	Projects        []ProjectSpec
	IncludePersonas []string
	ExcludePersonas []string
	Seed            int64 // 0 derives the seed from the first project name
	AutoTick        bool
	Model           string
}

// Start initializes a session: seeds the PRNG, resolves the roster, generates
// project plans, provisions gateway accounts and rooms, and marks the
// simulation running. The current tick is left wherever it was (0 on a fresh
// database).
func (e *Engine) Start(ctx context.Context, opts StartOptions) error {
	if len(opts.Projects) == 0 {
		return fmt.Errorf("engine: start: at least one project required")
	}
	for _, ps := range opts.Projects {
		if strings.TrimSpace(ps.Name) == "" {
			return fmt.Errorf("engine: start: project name required")
		}
		if ps.DurationWeeks < 1 {
			return fmt.Errorf("engine: start: project %q: duration must be >= 1 week", ps.Name)
		}
	}

	e.setRosterFilter(opts.IncludePersonas, opts.ExcludePersonas)
	people, err := e.Roster()
	if err != nil {
		return err
	}
	if len(people) == 0 {
		return fmt.Errorf("engine: start: no active personas match the filter")
	}

	seed := opts.Seed
	if seed == 0 {
		seed = deriveSeed(opts.Projects[0].Name)
	}
	e.events.Seed(seed)
	e.logger.Info("session seed", "seed", seed)

	e.hub.ResetRuntime()
	if err := e.runtime.Sync(people); err != nil {
		return err
	}

	if err := e.provisionGateways(ctx, people); err != nil {
		return err
	}

	byName := persona.ByName(people)
	lead := persona.DepartmentHead(people)
	if err := e.initProjects(ctx, opts.Projects, people, byName, lead, opts.Model); err != nil {
		return err
	}

	e.ticks.SetBase(time.Now().UTC().Truncate(time.Minute))
	e.planKickoffs(people)

	if err := e.store.SetRunning(true); err != nil {
		return err
	}
	if err := e.store.SetAutoTick(opts.AutoTick); err != nil {
		return err
	}
	if opts.AutoTick {
		if err := e.StartAutoTick(); err != nil {
			return err
		}
	}
	e.logger.Info("session started", "projects", len(opts.Projects), "personas", len(people), "auto_tick", opts.AutoTick)
	return nil
}

// initProjects resolves each project's team, generates the plans (in parallel
// over the plan pool when several projects start together), then stores plans
// and opens chat rooms in input order.
func (e *Engine) initProjects(ctx context.Context, specs []ProjectSpec, people []*persona.Persona, byName map[string]*persona.Persona, lead *persona.Persona, model string) error {
	teams := make([][]*persona.Persona, len(specs))
	assignees := make([][]int64, len(specs))
	for i, ps := range specs {
		teams[i] = people
		if len(ps.AssigneeNames) == 0 {
			continue
		}
		teams[i] = nil
		for _, name := range ps.AssigneeNames {
			p, ok := byName[name]
			if !ok {
				return fmt.Errorf("engine: start: project %q: unknown assignee %q", ps.Name, name)
			}
			teams[i] = append(teams[i], p)
			assignees[i] = append(assignees[i], p.ID)
		}
	}

	results := make([]planning.PlanResult, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.orch.Workers())
	for i, ps := range specs {
		g.Go(func() error {
			res, err := e.orch.GenerateProjectPlan(gctx, ps.Name, ps.Summary, ps.DurationWeeks, lead, teams[i], model)
			if err != nil {
				return fmt.Errorf("engine: start: project %q: %w", ps.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, ps := range specs {
		startWeek := ps.StartWeek
		if startWeek < 1 {
			startWeek = 1
		}
		plan := &store.ProjectPlan{
			ProjectName:    ps.Name,
			ProjectSummary: ps.Summary,
			Plan:           results[i].Content,
			StartWeek:      startWeek,
			DurationWeeks:  ps.DurationWeeks,
			ModelUsed:      results[i].ModelUsed,
		}
		if lead != nil {
			plan.GeneratedBy = lead.ID
		}
		if err := e.projects.StoreProjectPlan(plan, assignees[i]); err != nil {
			return err
		}
		if err := e.projects.CreateProjectChatRoom(plan.ID, ps.Name, teams[i]); err != nil {
			return err
		}
	}
	return nil
}

// provisionGateways ensures a mailbox and chat account per persona. A backend
// that never comes up fails the start.
func (e *Engine) provisionGateways(ctx context.Context, people []*persona.Persona) error {
	if err := e.email.WaitReady(ctx); err != nil {
		return fmt.Errorf("engine: email backend: %w", err)
	}
	if err := e.chat.WaitReady(ctx); err != nil {
		return fmt.Errorf("engine: chat backend: %w", err)
	}
	for _, p := range people {
		if err := e.email.EnsureMailbox(ctx, p.EmailAddress, p.Name); err != nil {
			return err
		}
		if err := e.chat.EnsureUser(ctx, p.NormalizedHandle(), p.Name); err != nil {
			return err
		}
	}
	return nil
}

// planKickoffs computes each persona's day-1 kickoff ticks from their work
// window.
func (e *Engine) planKickoffs(people []*persona.Persona) {
	e.kickoffChat = make(map[int64]int, len(people))
	e.kickoffEmail = make(map[int64]int, len(people))
	for _, p := range people {
		w, err := persona.SplitWorkHours(p.WorkHours)
		if err != nil {
			w = persona.WorkWindow{StartMinute: 9 * 60, EndMinute: 17 * 60}
		}
		e.kickoffChat[p.ID] = e.ticks.NearestTickOfDay(w.StartMinute + kickoffChatOffsetMin)
		e.kickoffEmail[p.ID] = e.ticks.NearestTickOfDay(w.StartMinute + kickoffEmailOffsetMin)
	}
}

func (e *Engine) setRosterFilter(include, exclude []string) {
	e.include = make(map[string]bool, len(include))
	for _, n := range include {
		e.include[strings.ToLower(strings.TrimSpace(n))] = true
	}
	e.exclude = make(map[string]bool, len(exclude))
	for _, n := range exclude {
		e.exclude[strings.ToLower(strings.TrimSpace(n))] = true
	}
}

// Roster returns the personas in this session, name-sorted for deterministic
// iteration order.
func (e *Engine) Roster() ([]*persona.Persona, error) {
	all, err := e.store.ListPeople()
	if err != nil {
		return nil, err
	}
	var out []*persona.Persona
	for _, p := range all {
		key := strings.ToLower(p.Name)
		if len(e.include) > 0 && !e.include[key] {
			continue
		}
		if e.exclude[key] {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// weekOfTick maps a tick onto the 1-based project week.
func (e *Engine) weekOfTick(t int) int {
	if t < 1 {
		return 1
	}
	return e.ticks.DayIndex(t)/workdaysPerWeek + 1
}

// deriveSeed hashes a project name into a deterministic PRNG seed.
func deriveSeed(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
