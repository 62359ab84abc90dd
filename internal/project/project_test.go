package project

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/worksim/internal/persona"
	"github.com/antigravity-dev/worksim/internal/store"
)

func tempStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addPerson(t *testing.T, s *store.Store, name string) *persona.Persona {
	t.Helper()
	p := &persona.Persona{
		Name:         name,
		Role:         "Developer",
		EmailAddress: name + "@example.com",
		ChatHandle:   "@" + name,
		WorkHours:    "09:00-17:00",
	}
	if err := s.InsertPerson(p); err != nil {
		t.Fatalf("InsertPerson failed: %v", err)
	}
	return p
}

func addPlan(t *testing.T, m *Manager, name string, startWeek, duration int, assignees []int64) *store.ProjectPlan {
	t.Helper()
	p := &store.ProjectPlan{
		ProjectName:   name,
		Plan:          "plan for " + name,
		StartWeek:     startWeek,
		DurationWeeks: duration,
	}
	if err := m.StoreProjectPlan(p, assignees); err != nil {
		t.Fatalf("StoreProjectPlan failed: %v", err)
	}
	return p
}

type recordingRooms struct {
	slugs []string
	fail  bool
}

func (r *recordingRooms) CreateRoom(name string, participants []string, slug string) error {
	if r.fail {
		return errors.New("room backend down")
	}
	r.slugs = append(r.slugs, slug)
	return nil
}

func TestActiveInWeekBounds(t *testing.T) {
	p := &store.ProjectPlan{StartWeek: 2, DurationWeeks: 3}
	for w, want := range map[int]bool{1: false, 2: true, 3: true, 4: true, 5: false} {
		if got := ActiveInWeek(p, w); got != want {
			t.Errorf("week %d: active = %v, want %v", w, got, want)
		}
	}
}

func TestProjectCompleteBoundary(t *testing.T) {
	p := &store.ProjectPlan{StartWeek: 1, DurationWeeks: 2}
	if IsProjectComplete(p, 2) {
		t.Error("project should still be active in its final week")
	}
	if !IsProjectComplete(p, 3) {
		t.Error("project should be complete the week after its window")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Apollo Launch!":  "apollo-launch",
		"  Big   Data  ":  "big-data",
		"v2.0 (rewrite)":  "v2-0-rewrite",
		"---":             "",
		"Already-Slugged": "already-slugged",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
	if got := RoomSlug(7, "Apollo"); got != "project-7-apollo" {
		t.Errorf("RoomSlug = %q", got)
	}
}

func TestActiveProjectsForPersonUnion(t *testing.T) {
	s := tempStore(t)
	m := NewManager(s, nil, nil)
	alice := addPerson(t, s, "alice")
	bob := addPerson(t, s, "bob")

	assigned := addPlan(t, m, "Assigned", 1, 1, []int64{alice.ID})
	shared := addPlan(t, m, "Shared", 1, 2, nil)
	other := addPlan(t, m, "Other", 1, 1, []int64{bob.ID})

	got, err := m.ActiveProjectsForPerson(alice.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	ids := make(map[int64]bool)
	for _, p := range got {
		ids[p.ID] = true
	}
	if len(got) != 2 || !ids[assigned.ID] || !ids[shared.ID] {
		t.Fatalf("alice week 1: expected assigned+shared, got %d projects %v", len(got), ids)
	}
	if ids[other.ID] {
		t.Error("alice should not see bob's project")
	}

	got, err = m.ActiveProjectsForPerson(alice.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != shared.ID {
		t.Fatalf("alice week 2: expected only the shared project, got %d", len(got))
	}
}

func TestCountActiveAndUpcoming(t *testing.T) {
	s := tempStore(t)
	m := NewManager(s, nil, nil)
	addPlan(t, m, "Now", 1, 1, nil)
	addPlan(t, m, "Later", 3, 1, nil)

	cases := []struct {
		week, active, upcoming int
	}{
		{1, 1, 1},
		{2, 0, 1},
		{3, 1, 0},
		{4, 0, 0},
	}
	for _, c := range cases {
		active, upcoming, err := m.CountActiveAndUpcoming(c.week)
		if err != nil {
			t.Fatal(err)
		}
		if active != c.active || upcoming != c.upcoming {
			t.Errorf("week %d: got active=%d upcoming=%d, want %d/%d", c.week, active, upcoming, c.active, c.upcoming)
		}
	}
}

func TestChatRoomLifecycle(t *testing.T) {
	s := tempStore(t)
	rooms := &recordingRooms{}
	m := NewManager(s, rooms, nil)
	alice := addPerson(t, s, "alice")
	plan := addPlan(t, m, "Apollo", 1, 1, nil)

	if err := m.CreateProjectChatRoom(plan.ID, "Apollo", []*persona.Persona{alice}); err != nil {
		t.Fatal(err)
	}
	want := RoomSlug(plan.ID, "Apollo")
	if len(rooms.slugs) != 1 || rooms.slugs[0] != want {
		t.Fatalf("expected room %q created, got %v", want, rooms.slugs)
	}
	slug, err := m.ActiveRoomSlug(plan.ID)
	if err != nil || slug != want {
		t.Fatalf("ActiveRoomSlug = %q, %v", slug, err)
	}

	if err := m.ArchiveProjectChatRoom(plan.ID); err != nil {
		t.Fatal(err)
	}
	slug, err = m.ActiveRoomSlug(plan.ID)
	if err != nil || slug != "" {
		t.Fatalf("archived room should resolve empty, got %q, %v", slug, err)
	}
	if err := m.ArchiveProjectChatRoom(plan.ID); err != nil {
		t.Errorf("second archive should be a no-op, got %v", err)
	}
}

func TestCreateRoomGatewayFailureNonFatal(t *testing.T) {
	s := tempStore(t)
	m := NewManager(s, &recordingRooms{fail: true}, nil)
	plan := addPlan(t, m, "Apollo", 1, 1, nil)

	if err := m.CreateProjectChatRoom(plan.ID, "Apollo", nil); err != nil {
		t.Fatalf("gateway failure should not fail room setup: %v", err)
	}
	slug, err := m.ActiveRoomSlug(plan.ID)
	if err != nil || slug == "" {
		t.Fatalf("room mapping should still be recorded, got %q, %v", slug, err)
	}
}

func TestLatestPlanCache(t *testing.T) {
	s := tempStore(t)
	m := NewManager(s, nil, nil)
	addPlan(t, m, "First", 1, 1, nil)
	second := addPlan(t, m, "Second", 2, 1, nil)

	got, err := m.LatestPlan()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != second.ID {
		t.Fatalf("expected cached latest plan %d, got %+v", second.ID, got)
	}

	// A fresh manager on the same database resolves through SQLite.
	cold := NewManager(s, nil, nil)
	got, err = cold.LatestPlan()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ProjectName != "Second" {
		t.Fatalf("expected latest plan from store, got %+v", got)
	}
}
