package planner

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Generation methods recorded in metrics and used by the stub to shape output.
const (
	MethodProjectPlan   = "project_plan"
	MethodDailyPlan     = "daily_plan"
	MethodHourlyPlan    = "hourly_plan"
	MethodHourlySummary = "hourly_summary"
	MethodDailyReport   = "daily_report"
)

// metricsCap bounds the in-memory call ring.
const metricsCap = 200

// CallMetric is one recorded planner invocation.
type CallMetric struct {
	Timestamp     time.Time
	Method        string
	Planner       string
	ResultPlanner string
	Model         string
	DurationMS    int64
	Fallback      bool
	Error         string
	Context       string
}

// Service routes calls to the primary planner with stub fallback. With strict
// mode on, primary errors propagate instead of falling back.
type Service struct {
	primary  Planner
	fallback Planner
	strict   bool
	logger   *slog.Logger

	mu      sync.Mutex
	metrics []CallMetric
	next    int
	filled  bool
}

// NewService builds the wrapper. primary may be the stub itself when no
// gateway is configured.
func NewService(primary Planner, strict bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if primary == nil {
		primary = StubPlanner{}
	}
	return &Service{
		primary:  primary,
		fallback: StubPlanner{},
		strict:   strict,
		logger:   logger,
		metrics:  make([]CallMetric, metricsCap),
	}
}

// Call tries the primary planner; on error, if strict mode is off and the
// primary is not already the stub, falls back to the deterministic stub.
func (s *Service) Call(ctx context.Context, method string, req Request) (Result, error) {
	start := time.Now()
	res, err := s.primary.Generate(ctx, method, req)

	m := CallMetric{
		Timestamp:     start,
		Method:        method,
		Planner:       s.primary.Name(),
		ResultPlanner: s.primary.Name(),
		Model:         req.Model,
		Context:       req.Context,
	}

	if err != nil {
		m.Error = err.Error()
		if s.strict || s.primary.Name() == s.fallback.Name() {
			m.DurationMS = time.Since(start).Milliseconds()
			s.record(m)
			return Result{}, err
		}
		s.logger.Warn("planner fallback engaged", "method", method, "context", req.Context, "error", err)
		res, err = s.fallback.Generate(ctx, method, req)
		m.Fallback = true
		m.ResultPlanner = s.fallback.Name()
		if err != nil {
			m.DurationMS = time.Since(start).Milliseconds()
			s.record(m)
			return Result{}, err
		}
	}

	if res.ModelUsed == "" {
		res.ModelUsed = req.Model
	}
	m.DurationMS = time.Since(start).Milliseconds()
	s.record(m)
	return res, nil
}

func (s *Service) record(m CallMetric) {
	s.mu.Lock()
	s.metrics[s.next] = m
	s.next++
	if s.next == metricsCap {
		s.next = 0
		s.filled = true
	}
	s.mu.Unlock()
}

// Metrics returns recorded calls, oldest first.
func (s *Service) Metrics() []CallMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filled {
		out := make([]CallMetric, s.next)
		copy(out, s.metrics[:s.next])
		return out
	}
	out := make([]CallMetric, 0, metricsCap)
	out = append(out, s.metrics[s.next:]...)
	out = append(out, s.metrics[:s.next]...)
	return out
}
