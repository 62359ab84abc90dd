package planning

import "sync"

// ShouldPlanHourly decides whether a persona needs a fresh hourly plan this
// tick. Quiet mid-day ticks with nothing new reuse the previous plan.
func ShouldPlanHourly(drained, adjustments int, reason string, tickOfDay int) bool {
	if drained > 0 || adjustments > 0 {
		return true
	}
	if reason != "auto" {
		return true
	}
	return tickOfDay == 0
}

// attemptKey identifies one persona's plan attempt within a simulated minute.
type attemptKey struct {
	personID  int64
	dayIndex  int
	tickOfDay int
}

// attemptLimiter caps plan attempts per persona per simulated minute so a
// re-entered tick (manual advance over the same range) cannot loop the
// planner. Attempts are recorded before generation, so failures count too.
type attemptLimiter struct {
	mu    sync.Mutex
	max   int
	seen  map[attemptKey]int
	stamp attemptKey
}

func newAttemptLimiter(max int) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	return &attemptLimiter{max: max, seen: make(map[attemptKey]int)}
}

// Allow records an attempt for (personID, dayIndex, tickOfDay) and reports
// whether it is within the cap. Moving to a new simulated minute prunes the
// previous minute's counters.
func (l *attemptLimiter) Allow(personID int64, dayIndex, tickOfDay int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := attemptKey{dayIndex: dayIndex, tickOfDay: tickOfDay}
	if cur.dayIndex != l.stamp.dayIndex || cur.tickOfDay != l.stamp.tickOfDay {
		l.seen = make(map[attemptKey]int)
		l.stamp = cur
	}
	k := attemptKey{personID: personID, dayIndex: dayIndex, tickOfDay: tickOfDay}
	if l.seen[k] >= l.max {
		return false
	}
	l.seen[k]++
	return true
}

// AllowPlan is the orchestrator-level gate used by the engine before queueing
// a persona's hourly-plan task.
func (o *Orchestrator) AllowPlan(personID int64, dayIndex, tickOfDay int) bool {
	return o.limiter.Allow(personID, dayIndex, tickOfDay)
}
