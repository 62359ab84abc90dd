// Package project stores project plans, resolves per-persona active-project
// sets for a given week, and manages per-project group-chat rooms.
package project

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/antigravity-dev/worksim/internal/persona"
	"github.com/antigravity-dev/worksim/internal/store"
)

// RoomCreator is the slice of the chat gateway the project manager needs.
type RoomCreator interface {
	CreateRoom(name string, participants []string, slug string) error
}

// ProjectWithTeam pairs a project with its resolved team member list.
type ProjectWithTeam struct {
	Plan *store.ProjectPlan
	Team []*persona.Persona
}

const latestPlanKey = "latest-plan"

// Manager resolves assignments and owns chat-room lifecycle.
type Manager struct {
	store  *store.Store
	chat   RoomCreator
	logger *slog.Logger
	cache  *gocache.Cache
}

// NewManager builds a project manager. chat may be nil in tests; room creation
// is then skipped.
func NewManager(s *store.Store, chat RoomCreator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  s,
		chat:   chat,
		logger: logger,
		cache:  gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// ActiveInWeek reports whether a project is active in week w.
func ActiveInWeek(p *store.ProjectPlan, w int) bool {
	return p.StartWeek <= w && w <= p.StartWeek+p.DurationWeeks-1
}

// IsProjectComplete reports whether the project's window ended before the
// current week.
func IsProjectComplete(p *store.ProjectPlan, currentWeek int) bool {
	return currentWeek > p.StartWeek+p.DurationWeeks-1
}

// StoreProjectPlan inserts a plan plus assignments transactionally and caches
// it as the latest plan.
func (m *Manager) StoreProjectPlan(p *store.ProjectPlan, assigneeIDs []int64) error {
	if err := m.store.InsertProjectPlan(p, assigneeIDs); err != nil {
		return fmt.Errorf("project: store plan: %w", err)
	}
	m.cache.Set(latestPlanKey, p, gocache.DefaultExpiration)
	return nil
}

// LatestPlan returns the most recently stored project plan, consulting the
// in-memory cache first.
func (m *Manager) LatestPlan() (*store.ProjectPlan, error) {
	if v, ok := m.cache.Get(latestPlanKey); ok {
		return v.(*store.ProjectPlan), nil
	}
	p, err := m.store.LatestProjectPlan()
	if err != nil {
		return nil, fmt.Errorf("project: latest plan: %w", err)
	}
	if p != nil {
		m.cache.Set(latestPlanKey, p, gocache.DefaultExpiration)
	}
	return p, nil
}

// ActiveProjectsForPerson returns the projects the persona works on in week w:
// those with an explicit assignment plus team-wide projects (no assignment
// rows at all). Ordered by start week ascending.
func (m *Manager) ActiveProjectsForPerson(personID int64, week int) ([]*store.ProjectPlan, error) {
	all, err := m.store.ListProjectPlans()
	if err != nil {
		return nil, fmt.Errorf("project: active for person: %w", err)
	}
	assigned, err := m.store.ProjectIDsAssignedTo(personID)
	if err != nil {
		return nil, fmt.Errorf("project: active for person: %w", err)
	}

	var out []*store.ProjectPlan
	for _, p := range all {
		if !ActiveInWeek(p, week) {
			continue
		}
		if assigned[p.ID] {
			out = append(out, p)
			continue
		}
		hasAny, err := m.store.HasAnyAssignments(p.ID)
		if err != nil {
			return nil, fmt.Errorf("project: active for person: %w", err)
		}
		if !hasAny {
			out = append(out, p)
		}
	}
	return out, nil
}

// ActiveProjectsWithAssignments returns every project active in week w with
// its resolved team: explicit assignees when present, otherwise all personas.
func (m *Manager) ActiveProjectsWithAssignments(week int, roster []*persona.Persona) ([]ProjectWithTeam, error) {
	all, err := m.store.ListProjectPlans()
	if err != nil {
		return nil, fmt.Errorf("project: active with assignments: %w", err)
	}
	byID := make(map[int64]*persona.Persona, len(roster))
	for _, p := range roster {
		byID[p.ID] = p
	}

	var out []ProjectWithTeam
	for _, pl := range all {
		if !ActiveInWeek(pl, week) {
			continue
		}
		ids, err := m.store.AssignmentsFor(pl.ID)
		if err != nil {
			return nil, fmt.Errorf("project: active with assignments: %w", err)
		}
		var team []*persona.Persona
		if len(ids) == 0 {
			team = roster
		} else {
			for _, id := range ids {
				if p, ok := byID[id]; ok {
					team = append(team, p)
				}
			}
		}
		out = append(out, ProjectWithTeam{Plan: pl, Team: team})
	}
	return out, nil
}

// CountActiveAndUpcoming returns how many projects are active in week w and
// how many start after it. Both zero means nothing left to simulate.
func (m *Manager) CountActiveAndUpcoming(week int) (active, upcoming int, err error) {
	all, err := m.store.ListProjectPlans()
	if err != nil {
		return 0, 0, fmt.Errorf("project: count active: %w", err)
	}
	for _, p := range all {
		if ActiveInWeek(p, week) {
			active++
		}
		if p.StartWeek > week {
			upcoming++
		}
	}
	return active, upcoming, nil
}

// RoomSlug derives the canonical group-chat slug for a project.
func RoomSlug(projectID int64, name string) string {
	return fmt.Sprintf("project-%d-%s", projectID, Slugify(name))
}

// Slugify lowercases and dashes a project name for use in a room slug.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// CreateProjectChatRoom creates the group room at the chat gateway and records
// the mapping. Gateway failure is logged and non-fatal to start.
func (m *Manager) CreateProjectChatRoom(projectID int64, name string, team []*persona.Persona) error {
	slug := RoomSlug(projectID, name)
	roomName := fmt.Sprintf("Project: %s", name)

	if m.chat != nil {
		handles := make([]string, 0, len(team))
		for _, p := range team {
			handles = append(handles, p.NormalizedHandle())
		}
		if err := m.chat.CreateRoom(roomName, handles, slug); err != nil {
			m.logger.Warn("project: chat room creation failed", "project", name, "slug", slug, "error", err)
		}
	}

	if err := m.store.UpsertProjectChatRoom(store.ProjectChatRoom{
		ProjectID: projectID,
		RoomSlug:  slug,
		RoomName:  roomName,
		IsActive:  true,
	}); err != nil {
		return fmt.Errorf("project: record chat room: %w", err)
	}
	return nil
}

// ActiveRoomSlug returns the active room slug for a project, or "".
func (m *Manager) ActiveRoomSlug(projectID int64) (string, error) {
	room, err := m.store.GetProjectChatRoom(projectID)
	if err != nil {
		return "", fmt.Errorf("project: active room: %w", err)
	}
	if room == nil || !room.IsActive {
		return "", nil
	}
	return room.RoomSlug, nil
}

// ArchiveProjectChatRoom deactivates a project's room; idempotent.
func (m *Manager) ArchiveProjectChatRoom(projectID int64) error {
	if err := m.store.ArchiveProjectChatRoom(projectID); err != nil {
		return fmt.Errorf("project: archive room: %w", err)
	}
	return nil
}
