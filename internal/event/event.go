// Package event accepts injected events, generates random ones (sick leave,
// client feature requests), and converts them into plan adjustments and inbox
// messages for the affected personas.
package event

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/antigravity-dev/worksim/internal/locale"
	"github.com/antigravity-dev/worksim/internal/persona"
	"github.com/antigravity-dev/worksim/internal/runtime"
	"github.com/antigravity-dev/worksim/internal/store"
)

// Status values used in worker status overrides.
const (
	StatusSickLeave = "SickLeave"
)

// Event type names recorded in the events table.
const (
	TypeSickLeave      = "sick_leave"
	TypeFeatureRequest = "client_feature_request"
)

// System owns event generation. All methods are called under the advance
// mutex; the seeded PRNG is therefore not separately locked.
type System struct {
	store   *store.Store
	runtime *runtime.Manager
	logger  *slog.Logger

	rng                *rand.Rand
	hoursPerDay        int
	loc                locale.Strings
	sickProbability    float64
	featureProbability float64
}

// NewSystem builds the event system with documented default probabilities.
func NewSystem(s *store.Store, rt *runtime.Manager, hoursPerDay int, loc locale.Strings, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{
		store:              s,
		runtime:            rt,
		logger:             logger,
		rng:                rand.New(rand.NewSource(1)),
		hoursPerDay:        hoursPerDay,
		loc:                loc,
		sickProbability:    0.05,
		featureProbability: 0.10,
	}
}

// SetProbabilities overrides the random-event probabilities.
func (s *System) SetProbabilities(sick, feature float64) {
	s.sickProbability = sick
	s.featureProbability = feature
}

// Seed re-seeds the PRNG. The engine calls this on start so identical inputs
// reproduce the same event sequence.
func (s *System) Seed(seed int64) {
	s.rng = rand.New(rand.NewSource(seed))
}

// Inject stores an operator-supplied event.
func (s *System) Inject(eventType string, targetIDs []int64, projectID int64, atTick int, payload map[string]any) (*store.Event, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event: type is required")
	}
	e := &store.Event{
		Type:      eventType,
		TargetIDs: targetIDs,
		ProjectID: projectID,
		AtTick:    atTick,
		Payload:   payload,
	}
	if err := s.store.InsertEvent(e); err != nil {
		return nil, err
	}
	s.logger.Info("event injected", "type", eventType, "targets", len(targetIDs), "at_tick", atTick)
	return e, nil
}

// sickCheckTickOfDay is the once-per-day slot (mid-morning proxy) where the
// sick-leave roll happens.
func (s *System) sickCheckTickOfDay() int {
	return int(math.Round(60 * float64(s.hoursPerDay) / 480))
}

// featureIntervalTicks is the cadence of the client-feature-request roll.
func (s *System) featureIntervalTicks() int {
	n := int(math.Round(120 * float64(s.hoursPerDay) / 480))
	if n < 1 {
		n = 1
	}
	return n
}

// ProcessTick runs injected-event conversion plus the random event rolls for
// one tick, queueing inbox messages and returning per-persona plan
// adjustments.
func (s *System) ProcessTick(tick int, people []*persona.Persona, overrides map[int64]store.StatusOverride) (map[int64][]string, error) {
	adjustments := make(map[int64][]string)

	injected, err := s.store.EventsAtTick(tick)
	if err != nil {
		return nil, fmt.Errorf("event: process tick: %w", err)
	}
	byID := make(map[int64]*persona.Persona, len(people))
	for _, p := range people {
		byID[p.ID] = p
	}
	for _, e := range injected {
		// Generated events are stored with at_tick for audit and would
		// otherwise double-fire on the tick that recorded them.
		if e.Type == TypeSickLeave || e.Type == TypeFeatureRequest {
			continue
		}
		if e.AtTick < 0 {
			if err := s.store.MarkEventDelivered(e.ID, tick); err != nil {
				return nil, fmt.Errorf("event: process tick: %w", err)
			}
		}
		targets := e.TargetIDs
		if len(targets) == 0 {
			for _, p := range people {
				targets = append(targets, p.ID)
			}
		}
		for _, id := range targets {
			p, ok := byID[id]
			if !ok {
				continue
			}
			if adj := ConvertEventToAdjustment(&e, p); adj != "" {
				adjustments[id] = append(adjustments[id], adj)
			}
		}
	}

	tickOfDay := 0
	if tick >= 1 {
		tickOfDay = (tick - 1) % s.hoursPerDay
	}

	if tickOfDay == s.sickCheckTickOfDay() && s.rng.Float64() < s.sickProbability {
		if err := s.rollSickLeave(tick, people, overrides); err != nil {
			return nil, err
		}
	}

	if tick%s.featureIntervalTicks() == 0 && s.rng.Float64() < s.featureProbability {
		if err := s.rollFeatureRequest(tick, people); err != nil {
			return nil, err
		}
	}

	return adjustments, nil
}

func (s *System) rollSickLeave(tick int, people []*persona.Persona, overrides map[int64]store.StatusOverride) error {
	var candidates []*persona.Persona
	for _, p := range people {
		if o, ok := overrides[p.ID]; ok && o.Status == StatusSickLeave {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil
	}
	sick := candidates[s.rng.Intn(len(candidates))]

	if err := s.store.SetStatusOverride(store.StatusOverride{
		WorkerID:  sick.ID,
		Status:    StatusSickLeave,
		UntilTick: tick + s.hoursPerDay,
		Reason:    "random sick leave",
	}); err != nil {
		return err
	}
	overrides[sick.ID] = store.StatusOverride{WorkerID: sick.ID, Status: StatusSickLeave, UntilTick: tick + s.hoursPerDay}

	if err := s.runtime.QueueMessage(sick, &store.InboundMessage{
		SenderName:  "HR",
		Subject:     s.loc.SickLeaveSubject,
		Summary:     s.loc.SickLeaveBody,
		MessageType: "event",
		Channel:     "system",
		Tick:        tick,
	}); err != nil {
		return err
	}

	if head := persona.DepartmentHead(people); head != nil && head.ID != sick.ID {
		if err := s.runtime.QueueMessage(head, &store.InboundMessage{
			SenderID:    sick.ID,
			SenderName:  sick.Name,
			Subject:     s.loc.CoverRequestSubject,
			Summary:     fmt.Sprintf(s.loc.CoverRequestBody, sick.Name),
			ActionItem:  fmt.Sprintf("Arrange cover for %s", sick.Name),
			MessageType: "event",
			Channel:     "system",
			Tick:        tick,
		}); err != nil {
			return err
		}
	}

	e := &store.Event{
		Type:      TypeSickLeave,
		TargetIDs: []int64{sick.ID},
		AtTick:    tick,
		Payload:   map[string]any{"until_tick": tick + s.hoursPerDay},
	}
	if err := s.store.InsertEvent(e); err != nil {
		return err
	}
	s.logger.Info("sick leave generated", "person", sick.Name, "until_tick", tick+s.hoursPerDay)
	return nil
}

func (s *System) rollFeatureRequest(tick int, people []*persona.Persona) error {
	if len(people) == 0 || len(s.loc.Features) == 0 {
		return nil
	}
	feature := s.loc.Features[s.rng.Intn(len(s.loc.Features))]
	head := persona.DepartmentHead(people)
	if head == nil {
		head = people[0]
	}

	e := &store.Event{
		Type:      TypeFeatureRequest,
		TargetIDs: []int64{head.ID},
		AtTick:    tick,
		Payload:   map[string]any{"feature": feature},
	}
	if err := s.store.InsertEvent(e); err != nil {
		return err
	}

	if err := s.runtime.QueueMessage(head, &store.InboundMessage{
		SenderName:  "Client",
		Subject:     fmt.Sprintf("%s: %s", s.loc.FeatureRequestPrefix, feature),
		Summary:     fmt.Sprintf("A client asked for: %s. Assess effort and slot it into the plan.", feature),
		ActionItem:  fmt.Sprintf("Triage feature request: %s", feature),
		MessageType: "event",
		Channel:     "system",
		Tick:        tick,
	}); err != nil {
		return err
	}

	var peers []*persona.Persona
	for _, p := range people {
		if p.ID != head.ID {
			peers = append(peers, p)
		}
	}
	if len(peers) > 0 {
		peer := peers[s.rng.Intn(len(peers))]
		if err := s.runtime.QueueMessage(peer, &store.InboundMessage{
			SenderID:    head.ID,
			SenderName:  head.Name,
			Subject:     s.loc.CollabPromptSubject,
			Summary:     fmt.Sprintf("Work with %s on the new client request: %s.", head.Name, feature),
			MessageType: "event",
			Channel:     "system",
			Tick:        tick,
		}); err != nil {
			return err
		}
	}

	s.logger.Info("feature request generated", "feature", feature, "owner", head.Name)
	return nil
}

// ConvertEventToAdjustment maps an event to the short planning adjustment
// string the orchestrator appends to hourly plans.
func ConvertEventToAdjustment(e *store.Event, p *persona.Persona) string {
	switch e.Type {
	case TypeSickLeave:
		return "A teammate is out sick today; pick up urgent items from their queue."
	case TypeFeatureRequest:
		if f, ok := e.Payload["feature"].(string); ok && f != "" {
			return fmt.Sprintf("New client feature request to triage: %s.", f)
		}
		return "New client feature request to triage."
	default:
		if note, ok := e.Payload["note"].(string); ok && note != "" {
			return note
		}
		return fmt.Sprintf("Respond to %s event.", e.Type)
	}
}
