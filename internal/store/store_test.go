package store

import (
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/worksim/internal/persona"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPerson(t *testing.T, s *Store, name string) *persona.Persona {
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

func TestSimulationStateDefaults(t *testing.T) {
	s := tempStore(t)
	state, err := s.GetSimulationState()
	if err != nil {
		t.Fatal(err)
	}
	if state.CurrentTick != 0 || state.IsRunning || state.AutoTick {
		t.Fatalf("fresh state should be zeroed, got %+v", state)
	}
}

func TestSetTickWritesLog(t *testing.T) {
	s := tempStore(t)

	if err := s.SetTick(1, "manual"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTick(2, "auto"); err != nil {
		t.Fatal(err)
	}

	state, err := s.GetSimulationState()
	if err != nil {
		t.Fatal(err)
	}
	if state.CurrentTick != 2 {
		t.Fatalf("expected tick 2, got %d", state.CurrentTick)
	}

	entries, err := s.TickLog(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Tick != 2 || entries[0].Reason != "auto" {
		t.Errorf("expected newest entry first, got %+v", entries[0])
	}
}

func TestPeopleCRUD(t *testing.T) {
	s := tempStore(t)
	p := testPerson(t, s, "alice")
	if p.ID == 0 {
		t.Fatal("expected assigned id")
	}

	got, err := s.GetPersonByName("alice")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.EmailAddress != "alice@example.com" {
		t.Fatalf("unexpected person: %+v", got)
	}

	got.Role = "Designer"
	if err := s.UpdatePerson(got); err != nil {
		t.Fatal(err)
	}
	updated, _ := s.GetPersonByName("alice")
	if updated.Role != "Designer" {
		t.Errorf("expected updated role, got %s", updated.Role)
	}

	if err := s.DeletePersonByName("alice"); err != nil {
		t.Fatal(err)
	}
	gone, _ := s.GetPersonByName("alice")
	if gone != nil {
		t.Error("expected person deleted")
	}
}

func TestWorkerPlanUpsertIdempotent(t *testing.T) {
	s := tempStore(t)
	p := testPerson(t, s, "bob")

	plan := &WorkerPlan{PersonID: p.ID, Tick: 5, PlanType: "hourly", Content: "first"}
	if err := s.UpsertWorkerPlan(plan); err != nil {
		t.Fatal(err)
	}
	plan.Content = "second"
	if err := s.UpsertWorkerPlan(plan); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetWorkerPlan(p.ID, 5, "hourly")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "second" {
		t.Errorf("expected upserted content, got %q", got.Content)
	}
	n, _ := s.CountWorkerPlans(p.ID, "hourly")
	if n != 1 {
		t.Errorf("expected a single row, got %d", n)
	}
}

func TestGetWorkerPlanMissingIsNil(t *testing.T) {
	s := tempStore(t)
	got, err := s.GetWorkerPlan(99, 1, "daily")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing plan, got %+v", got)
	}
}

func TestStatusOverrideExpiry(t *testing.T) {
	s := tempStore(t)
	p := testPerson(t, s, "carol")

	if err := s.SetStatusOverride(StatusOverride{WorkerID: p.ID, Status: "SickLeave", UntilTick: 10}); err != nil {
		t.Fatal(err)
	}

	overrides, err := s.ListStatusOverrides()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := overrides[p.ID]; !ok {
		t.Fatal("expected override present")
	}

	expired, err := s.ExpireStatusOverrides(9)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 0 {
		t.Fatalf("override should survive tick 9, expired %v", expired)
	}

	expired, err = s.ExpireStatusOverrides(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0] != p.ID {
		t.Fatalf("expected override expired at tick 10, got %v", expired)
	}
	overrides, _ = s.ListStatusOverrides()
	if len(overrides) != 0 {
		t.Error("expected no overrides after expiry")
	}
}

func TestProjectPlansAndAssignments(t *testing.T) {
	s := tempStore(t)
	alice := testPerson(t, s, "alice")
	bob := testPerson(t, s, "bob")

	p := &ProjectPlan{ProjectName: "Apollo", Plan: "week 1: build", StartWeek: 1, DurationWeeks: 2}
	if err := s.InsertProjectPlan(p, []int64{alice.ID}); err != nil {
		t.Fatal(err)
	}
	if p.ID == 0 {
		t.Fatal("expected project id")
	}

	ids, err := s.AssignmentsFor(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != alice.ID {
		t.Fatalf("unexpected assignments: %v", ids)
	}

	assigned, err := s.ProjectIDsAssignedTo(bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if assigned[p.ID] {
		t.Error("bob should not be assigned")
	}

	latest, err := s.LatestProjectPlan()
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.ProjectName != "Apollo" {
		t.Fatalf("unexpected latest plan: %+v", latest)
	}
}

func TestProjectChatRoomLifecycle(t *testing.T) {
	s := tempStore(t)
	p := &ProjectPlan{ProjectName: "Apollo", Plan: "x", StartWeek: 1, DurationWeeks: 1}
	if err := s.InsertProjectPlan(p, nil); err != nil {
		t.Fatal(err)
	}

	room := ProjectChatRoom{ProjectID: p.ID, RoomSlug: "project-1-apollo", RoomName: "Apollo", IsActive: true}
	if err := s.UpsertProjectChatRoom(room); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetProjectChatRoom(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.IsActive {
		t.Fatalf("expected active room, got %+v", got)
	}

	if err := s.ArchiveProjectChatRoom(p.ID); err != nil {
		t.Fatal(err)
	}
	// Idempotent.
	if err := s.ArchiveProjectChatRoom(p.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetProjectChatRoom(p.ID)
	if got.IsActive || got.ArchivedAt == "" {
		t.Errorf("expected archived room, got %+v", got)
	}
}

func TestExchangeLogAndMaxTick(t *testing.T) {
	s := tempStore(t)

	for _, tick := range []int{3, 7, 7} {
		err := s.AppendExchange(&ExchangeRecord{
			Tick: tick, Channel: "email", Sender: "a@example.com",
			Recipients: "b@example.com", Subject: "s", Body: "b",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.ExchangesAtTick(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 exchanges at tick 7, got %d", len(recs))
	}

	max, err := s.MaxExchangeTick()
	if err != nil {
		t.Fatal(err)
	}
	if max != 7 {
		t.Errorf("expected max tick 7, got %d", max)
	}

	n, _ := s.CountExchanges("email")
	if n != 3 {
		t.Errorf("expected 3 email exchanges, got %d", n)
	}
}

func TestRewindDerived(t *testing.T) {
	s := tempStore(t)
	p := testPerson(t, s, "dana")

	// Hourly plans at ticks 1..10, daily plans for days 0 and 1,
	// summaries for hours 1 and 2, reports for days 0 and 1.
	for tick := 1; tick <= 10; tick++ {
		if err := s.UpsertWorkerPlan(&WorkerPlan{PersonID: p.ID, Tick: tick, PlanType: "hourly", Content: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	for day := 0; day <= 1; day++ {
		if err := s.UpsertWorkerPlan(&WorkerPlan{PersonID: p.ID, Tick: day, PlanType: "daily", Content: "d"}); err != nil {
			t.Fatal(err)
		}
		if err := s.UpsertDailyReport(&DailyReport{PersonID: p.ID, DayIndex: day, Report: "r"}); err != nil {
			t.Fatal(err)
		}
	}
	for hour := 1; hour <= 2; hour++ {
		if err := s.UpsertHourlySummary(&HourlySummary{PersonID: p.ID, HourIndex: hour, Summary: "s"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetTick(10, "manual"); err != nil {
		t.Fatal(err)
	}

	// Cutoff tick 5 with an 8-hour day: no completed hours or days survive
	// past hour 0 / day 0.
	if err := s.RewindDerived(5, 0, 0); err != nil {
		t.Fatal(err)
	}

	n, _ := s.CountWorkerPlans(p.ID, "hourly")
	if n != 5 {
		t.Errorf("expected 5 hourly plans after rewind, got %d", n)
	}
	if plan, _ := s.GetWorkerPlan(p.ID, 1, "daily"); plan != nil {
		t.Error("day 1 daily plan should be gone")
	}
	if plan, _ := s.GetWorkerPlan(p.ID, 0, "daily"); plan == nil {
		t.Error("day 0 daily plan should survive")
	}
	if sum, _ := s.GetHourlySummary(p.ID, 1); sum != nil {
		t.Error("hour 1 summary should be gone")
	}
	if rep, _ := s.GetDailyReport(p.ID, 1); rep != nil {
		t.Error("day 1 report should be gone")
	}
	state, _ := s.GetSimulationState()
	if state.CurrentTick != 5 {
		t.Errorf("expected tick 5 after rewind, got %d", state.CurrentTick)
	}
}

func TestResetPreservesPersonas(t *testing.T) {
	s := tempStore(t)
	p := testPerson(t, s, "erin")
	if err := s.UpsertWorkerPlan(&WorkerPlan{PersonID: p.ID, Tick: 1, PlanType: "hourly", Content: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTick(3, "manual"); err != nil {
		t.Fatal(err)
	}

	if err := s.ResetSimulation(true); err != nil {
		t.Fatal(err)
	}

	state, _ := s.GetSimulationState()
	if state.CurrentTick != 0 || state.IsRunning {
		t.Errorf("expected zeroed state, got %+v", state)
	}
	n, _ := s.CountWorkerPlans(p.ID, "hourly")
	if n != 0 {
		t.Error("plans should be wiped")
	}
	if kept, _ := s.GetPersonByName("erin"); kept == nil {
		t.Error("personas should survive a preserving reset")
	}

	if err := s.ResetSimulation(false); err != nil {
		t.Fatal(err)
	}
	if gone, _ := s.GetPersonByName("erin"); gone != nil {
		t.Error("personas should be wiped by a full reset")
	}
}

func TestEventsRoundTrip(t *testing.T) {
	s := tempStore(t)

	e := &Event{Type: "client_feature_request", TargetIDs: []int64{1, 2}, AtTick: 4, Payload: map[string]any{"feature": "exports"}}
	if err := s.InsertEvent(e); err != nil {
		t.Fatal(err)
	}
	unscheduled := &Event{Type: "sick_leave", AtTick: -1}
	if err := s.InsertEvent(unscheduled); err != nil {
		t.Fatal(err)
	}

	at, err := s.EventsAtTick(4)
	if err != nil {
		t.Fatal(err)
	}
	if len(at) != 2 {
		t.Fatalf("expected pinned plus unscheduled event at tick 4, got %+v", at)
	}
	if at[0].Type != "client_feature_request" || at[1].Type != "sick_leave" {
		t.Fatalf("unexpected events at tick 4: %+v", at)
	}

	if err := s.MarkEventDelivered(unscheduled.ID, 4); err != nil {
		t.Fatal(err)
	}
	at, _ = s.EventsAtTick(5)
	if len(at) != 0 {
		t.Fatalf("delivered unscheduled event should not reappear, got %+v", at)
	}

	all, _ := s.ListEvents()
	if len(all) != 2 {
		t.Fatalf("expected 2 events, got %d", len(all))
	}
	if all[1].AtTick != -1 {
		t.Errorf("unscheduled event should read back as -1, got %d", all[1].AtTick)
	}
	if all[1].DeliveredAtTick != 4 {
		t.Errorf("expected delivery recorded at tick 4, got %d", all[1].DeliveredAtTick)
	}
}

func TestInboundMessagesFIFO(t *testing.T) {
	s := tempStore(t)
	p := testPerson(t, s, "frank")

	for i, subj := range []string{"first", "second", "third"} {
		err := s.InsertInboundMessage(&InboundMessage{
			RecipientID: p.ID, SenderName: "system", Subject: subj,
			MessageType: "update", Channel: "email", Tick: i + 1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.InboundMessagesFor(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Subject != "first" || msgs[2].Subject != "third" {
		t.Errorf("expected FIFO order, got %q..%q", msgs[0].Subject, msgs[2].Subject)
	}

	if err := s.DeleteInboundMessages([]int64{msgs[0].ID}); err != nil {
		t.Fatal(err)
	}
	msgs, _ = s.InboundMessagesFor(p.ID)
	if len(msgs) != 2 || msgs[0].Subject != "second" {
		t.Errorf("unexpected messages after delete: %+v", msgs)
	}
}
