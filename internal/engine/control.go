package engine

import (
	"context"
	"fmt"

	"github.com/antigravity-dev/worksim/internal/event"
	"github.com/antigravity-dev/worksim/internal/store"
)

// Stop halts the scheduler and clears the running flag. Durable state is
// untouched; a later Start resumes from the current tick.
func (e *Engine) Stop() error {
	e.ticks.StopAutoTick()
	if err := e.store.SetAutoTick(false); err != nil {
		return err
	}
	return e.store.SetRunning(false)
}

// Reset wipes derived simulation state and returns the tick to zero. Personas
// and their schedule blocks survive when preservePersonas is set. Gateway
// backends are not touched; ResetFull does that.
func (e *Engine) Reset(preservePersonas bool) error {
	e.ticks.StopAutoTick()
	return e.ticks.WithAdvanceLock(func() error {
		if err := e.store.ResetSimulation(preservePersonas); err != nil {
			return err
		}
		e.hub.ResetRuntime()
		e.kickoffChat = make(map[int64]int)
		e.kickoffEmail = make(map[int64]int)
		if err := e.runtime.ClearAll(); err != nil {
			return err
		}
		e.logger.Info("simulation reset", "preserve_personas", preservePersonas)
		return nil
	})
}

// ResetFull recreates the database from scratch and truncates both gateway
// backends. Gateway failures are logged, not fatal: the local state is
// already gone and a dangling backend row is harmless.
func (e *Engine) ResetFull(ctx context.Context) error {
	e.ticks.StopAutoTick()
	return e.ticks.WithAdvanceLock(func() error {
		if err := e.store.HardReset(); err != nil {
			return err
		}
		e.hub.ResetRuntime()
		e.kickoffChat = make(map[int64]int)
		e.kickoffEmail = make(map[int64]int)
		if err := e.email.TruncateAll(ctx); err != nil {
			e.logger.Warn("email truncate failed", "error", err)
		}
		if err := e.chat.TruncateAll(ctx); err != nil {
			e.logger.Warn("chat truncate failed", "error", err)
		}
		e.logger.Info("full reset complete")
		return nil
	})
}

// Rewind stops auto-tick and rolls the simulation back to cutoff: derived
// rows past the cutoff are deleted locally and on the gateway backends, and
// the current tick is set to the cutoff. A cutoff at or past the current
// tick is a no-op.
func (e *Engine) Rewind(ctx context.Context, cutoff int) error {
	if cutoff < 0 {
		return fmt.Errorf("engine: rewind: cutoff must be >= 0")
	}
	e.ticks.StopAutoTick()
	if err := e.store.SetAutoTick(false); err != nil {
		return err
	}
	return e.ticks.WithAdvanceLock(func() error {
		state, err := e.store.GetSimulationState()
		if err != nil {
			return err
		}
		if cutoff >= state.CurrentTick {
			return nil
		}

		h := e.ticks.HoursPerDay()
		maxHour := cutoff / 60
		maxDay := -1
		if cutoff > 0 {
			maxDay = (cutoff - 1) / h
		}
		if err := e.store.RewindDerived(cutoff, maxHour, maxDay); err != nil {
			return err
		}
		e.hub.ResetRuntime()

		cutoffTime := e.ticks.SimDatetimeForTick(cutoff)
		if err := e.email.DeleteEmailsAfter(ctx, cutoffTime); err != nil {
			e.logger.Warn("email rewind delete failed", "error", err)
		}
		if err := e.chat.DeleteMessagesAfter(ctx, cutoffTime); err != nil {
			e.logger.Warn("chat rewind delete failed", "error", err)
		}
		e.logger.Info("rewound", "from", state.CurrentTick, "to", cutoff)
		return nil
	})
}

// Replay modes reported by Status and ExchangesAt.
const (
	ModeLive   = "live"
	ModeReplay = "replay"
)

// Status is the control-plane snapshot served by the admin API.
type Status struct {
	CurrentTick int    `json:"current_tick"`
	SimTime     string `json:"sim_time"`
	IsRunning   bool   `json:"is_running"`
	AutoTick    bool   `json:"auto_tick"`
	LoopAlive   bool   `json:"loop_alive"`
	MaxSeenTick int    `json:"max_seen_tick"`
	Mode        string `json:"mode"`
}

// CurrentStatus reads the state row plus replay metadata.
func (e *Engine) CurrentStatus() (Status, error) {
	state, err := e.store.GetSimulationState()
	if err != nil {
		return Status{}, err
	}
	maxSeen, err := e.store.MaxExchangeTick()
	if err != nil {
		return Status{}, err
	}
	mode := ModeLive
	if state.CurrentTick < maxSeen {
		mode = ModeReplay
	}
	return Status{
		CurrentTick: state.CurrentTick,
		SimTime:     e.ticks.FormatSimTime(state.CurrentTick),
		IsRunning:   state.IsRunning,
		AutoTick:    state.AutoTick,
		LoopAlive:   e.ticks.AutoTickRunning(),
		MaxSeenTick: maxSeen,
		Mode:        mode,
	}, nil
}

// ExchangesAt returns the recorded sends in [fromTick, toTick] for replay.
// Ranges past the highest recorded tick are refused; replay never fabricates.
func (e *Engine) ExchangesAt(fromTick, toTick int) ([]store.ExchangeRecord, error) {
	if fromTick < 1 || toTick < fromTick {
		return nil, fmt.Errorf("engine: replay: invalid range %d..%d", fromTick, toTick)
	}
	maxSeen, err := e.store.MaxExchangeTick()
	if err != nil {
		return nil, err
	}
	if toTick > maxSeen {
		return nil, fmt.Errorf("engine: replay: tick %d beyond recorded history (max %d)", toTick, maxSeen)
	}
	var out []store.ExchangeRecord
	for t := fromTick; t <= toTick; t++ {
		recs, err := e.store.ExchangesAtTick(t)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// SetEventProbabilities updates the random-event odds for subsequent ticks.
func (e *Engine) SetEventProbabilities(sick, feature float64) {
	e.events.SetProbabilities(sick, feature)
}

// InjectEvent records an external event. atTick < 0 fires on the next
// advance; a future tick defers it.
func (e *Engine) InjectEvent(eventType string, targetNames []string, projectID int64, atTick int, payload map[string]any) (*store.Event, error) {
	people, err := e.Roster()
	if err != nil {
		return nil, err
	}
	var targetIDs []int64
	for _, name := range targetNames {
		found := false
		for _, p := range people {
			if p.Name == name {
				targetIDs = append(targetIDs, p.ID)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("engine: inject: unknown persona %q", name)
		}
	}
	return e.events.Inject(eventType, targetIDs, projectID, atTick, payload)
}

// OverrideStatus forces a worker status until the given tick and notifies the
// worker's inbox so the change shows up in their next plan.
func (e *Engine) OverrideStatus(workerName, status string, untilTick int, reason string) error {
	p, err := e.store.GetPersonByName(workerName)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("engine: override: unknown persona %q", workerName)
	}
	if err := e.store.SetStatusOverride(store.StatusOverride{
		WorkerID:  p.ID,
		Status:    status,
		UntilTick: untilTick,
		Reason:    reason,
	}); err != nil {
		return err
	}
	if status != event.StatusSickLeave {
		state, err := e.store.GetSimulationState()
		if err != nil {
			return err
		}
		return e.runtime.QueueMessage(p, &store.InboundMessage{
			RecipientID: p.ID,
			SenderName:  "system",
			Subject:     "Status changed: " + status,
			Summary:     reason,
			MessageType: "event",
			Channel:     "system",
			Tick:        state.CurrentTick + 1,
		})
	}
	return nil
}

// ClearOverride removes a worker's status override.
func (e *Engine) ClearOverride(workerName string) error {
	p, err := e.store.GetPersonByName(workerName)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("engine: override: unknown persona %q", workerName)
	}
	return e.store.ClearStatusOverride(p.ID)
}
