// Package tick is the single source of truth for simulated time. It converts
// ticks to (day, clock) positions and wall-clock datetimes, owns the advance
// mutex, and runs the auto-tick scheduler goroutine.
package tick

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antigravity-dev/worksim/internal/persona"
)

// One tick is one simulated minute inside the workday window. HoursPerDay
// ticks form a simulated day; the day still spans 24h of simulated wall-clock,
// so tick-of-day maps linearly onto [0, 1440) minutes.

// Manager owns tick arithmetic, the advance mutex, and the auto-tick loop.
type Manager struct {
	hoursPerDay int
	interval    time.Duration
	logger      *slog.Logger

	advanceMu sync.Mutex

	mu       sync.Mutex
	base     time.Time // wall-clock base captured at start
	loopStop chan struct{}
	loopDone chan struct{}
}

// NewManager builds a Manager for the given workday length. intervalSeconds is
// the auto-tick cadence; 0 means maximum speed.
func NewManager(hoursPerDay int, intervalSeconds float64, logger *slog.Logger) *Manager {
	if hoursPerDay < 1 {
		hoursPerDay = 1
	}
	interval := time.Duration(intervalSeconds * float64(time.Second))
	if interval <= 0 {
		interval = time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{hoursPerDay: hoursPerDay, interval: interval, logger: logger}
}

// HoursPerDay returns the configured workday length in ticks.
func (m *Manager) HoursPerDay() int { return m.hoursPerDay }

// SetBase captures the wall-clock base datetime established on start.
func (m *Manager) SetBase(t time.Time) {
	m.mu.Lock()
	m.base = t.UTC()
	m.mu.Unlock()
}

// Base returns the wall-clock base datetime.
func (m *Manager) Base() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.base
}

// WithAdvanceLock runs fn while holding the advance mutex so concurrent
// advances and resets serialize engine-wide.
func (m *Manager) WithAdvanceLock(fn func() error) error {
	m.advanceMu.Lock()
	defer m.advanceMu.Unlock()
	return fn()
}

// TickOfDay returns the position of tick within its workday, in [0, H).
func (m *Manager) TickOfDay(tick int) int {
	if tick < 1 {
		return 0
	}
	return (tick - 1) % m.hoursPerDay
}

// DayIndex returns the zero-based day containing tick.
func (m *Manager) DayIndex(tick int) int {
	if tick < 1 {
		return 0
	}
	return (tick - 1) / m.hoursPerDay
}

// FirstTickOfDay returns the tick with tick-of-day zero on tick's day.
func (m *Manager) FirstTickOfDay(tick int) int {
	return m.DayIndex(tick)*m.hoursPerDay + 1
}

// MinuteOfDay maps a tick-of-day onto simulated minutes since midnight.
func (m *Manager) MinuteOfDay(tickOfDay int) int {
	return tickOfDay * 1440 / m.hoursPerDay
}

// ParseTimeToTick converts "HH:MM" to a tick-of-day, flooring by default and
// ceiling with roundUp. The result is clamped to [0, H].
func (m *Manager) ParseTimeToTick(clock string, roundUp bool) (int, error) {
	minutes, err := persona.ParseClock(clock)
	if err != nil {
		return 0, fmt.Errorf("tick: %w", err)
	}
	return m.minuteToTick(minutes, roundUp), nil
}

func (m *Manager) minuteToTick(minutes int, roundUp bool) int {
	n := minutes * m.hoursPerDay
	t := n / 1440
	if roundUp && n%1440 != 0 {
		t++
	}
	if t < 0 {
		t = 0
	}
	if t > m.hoursPerDay {
		t = m.hoursPerDay
	}
	return t
}

// NearestTickOfDay rounds a minute-of-day to the closest tick-of-day.
func (m *Manager) NearestTickOfDay(minutes int) int {
	t := (minutes*m.hoursPerDay + 720) / 1440
	if t < 0 {
		t = 0
	}
	if t > m.hoursPerDay {
		t = m.hoursPerDay
	}
	return t
}

// WorkWindowTicks converts a persona work-hours window into tick-of-day
// bounds. A window covering the whole day yields [0, H).
func (m *Manager) WorkWindowTicks(w persona.WorkWindow) (start, end int) {
	if w.StartMinute == w.EndMinute || (w.StartMinute == 0 && w.EndMinute >= 1439) {
		return 0, m.hoursPerDay
	}
	return m.minuteToTick(w.StartMinute, false), m.minuteToTick(w.EndMinute, true)
}

// IsWithinWorkHours reports whether tick falls inside the window. Wrap-around
// windows (night shifts) are honored.
func (m *Manager) IsWithinWorkHours(w persona.WorkWindow, tick int) bool {
	start, end := m.WorkWindowTicks(w)
	tod := m.TickOfDay(tick)
	if start < end {
		return tod >= start && tod < end
	}
	if start == end {
		return false
	}
	return tod >= start || tod < end
}

// FormatSimTime renders a tick as "Day N HH:MM" with 1-indexed days.
func (m *Manager) FormatSimTime(tick int) string {
	day := m.DayIndex(tick) + 1
	minutes := m.MinuteOfDay(m.TickOfDay(tick))
	return fmt.Sprintf("Day %d %02d:%02d", day, minutes/60, minutes%60)
}

// SimDatetimeForTick maps a tick onto a concrete datetime relative to the
// wall-clock base captured at start.
func (m *Manager) SimDatetimeForTick(tick int) time.Time {
	base := m.Base()
	return base.
		AddDate(0, 0, m.DayIndex(tick)).
		Add(time.Duration(m.MinuteOfDay(m.TickOfDay(tick))) * time.Minute)
}

// AutoTickHooks are the callbacks the auto-tick loop drives. All of them are
// invoked from the loop goroutine.
type AutoTickHooks struct {
	// ReadState re-reads running/auto-tick flags before each advance.
	ReadState func() (running, autoTick bool, err error)
	// CheckAutoPause runs the auto-pause supervisor; returning true stops the loop.
	CheckAutoPause func() (paused bool)
	// Advance performs one advance(1, "auto"). It must take the advance mutex itself.
	Advance func() error
	// DisableAutoTick persists auto_tick=false after a loop failure.
	DisableAutoTick func()
}

// StartAutoTick spawns the scheduler goroutine. At most one loop is alive at a
// time; starting while one runs is an error.
func (m *Manager) StartAutoTick(hooks AutoTickHooks) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loopStop != nil {
		return fmt.Errorf("tick: auto-tick already running")
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.loopStop = stop
	m.loopDone = done

	go m.runLoop(hooks, stop, done)
	m.logger.Info("auto-tick started", "interval", m.interval)
	return nil
}

func (m *Manager) runLoop(hooks AutoTickHooks, stop, done chan struct{}) {
	defer close(done)
	defer m.clearLoop(stop)

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		running, autoTick, err := hooks.ReadState()
		if err != nil {
			m.logger.Error("auto-tick: read state failed", "error", err)
			timer.Reset(m.interval)
			continue
		}
		if !running || !autoTick {
			m.logger.Info("auto-tick: disabled in state, stopping", "running", running, "auto_tick", autoTick)
			return
		}
		if hooks.CheckAutoPause != nil && hooks.CheckAutoPause() {
			m.logger.Info("auto-tick: auto-pause engaged, stopping")
			return
		}
		if err := hooks.Advance(); err != nil {
			m.logger.Error("auto-tick: advance failed, disabling", "error", err)
			if hooks.DisableAutoTick != nil {
				hooks.DisableAutoTick()
			}
			return
		}
		timer.Reset(m.interval)
	}
}

// clearLoop releases loop bookkeeping when the goroutine exits on its own.
func (m *Manager) clearLoop(stop chan struct{}) {
	m.mu.Lock()
	if m.loopStop == stop {
		m.loopStop = nil
		m.loopDone = nil
	}
	m.mu.Unlock()
}

// StopAutoTick signals the loop and joins it with a bounded timeout. Safe to
// call when no loop is running.
func (m *Manager) StopAutoTick() {
	m.mu.Lock()
	stop := m.loopStop
	done := m.loopDone
	if stop != nil {
		m.loopStop = nil
		m.loopDone = nil
	}
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		m.logger.Warn("auto-tick: stop timed out waiting for loop exit")
	}
}

// AutoTickRunning reports whether the scheduler goroutine is alive.
func (m *Manager) AutoTickRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loopStop != nil
}
