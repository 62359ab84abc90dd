// Package api provides the HTTP control plane: session lifecycle, tick
// advancement, event injection, replay queries, and persona management.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antigravity-dev/worksim/internal/config"
	"github.com/antigravity-dev/worksim/internal/engine"
	"github.com/antigravity-dev/worksim/internal/persona"
	"github.com/antigravity-dev/worksim/internal/planner"
	"github.com/antigravity-dev/worksim/internal/store"
)

// Server is the HTTP control-plane server.
type Server struct {
	cfgs       config.Manager
	cfgPath    string
	store      *store.Store
	engine     *engine.Engine
	planners   *planner.Service
	logger     *slog.Logger
	startTime  time.Time
	httpServer *http.Server
}

// NewServer creates the control-plane server. cfgPath is the file that
// POST /config/reload re-reads; empty disables reloads.
func NewServer(cfgs config.Manager, cfgPath string, s *store.Store, eng *engine.Engine, planners *planner.Service, logger *slog.Logger) *Server {
	return &Server{
		cfgs:      cfgs,
		cfgPath:   cfgPath,
		store:     s,
		engine:    eng,
		planners:  planners,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Start begins listening on the configured bind address. Blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ticks", s.handleTickLog)
	mux.HandleFunc("/replay", s.handleReplay)
	mux.HandleFunc("/planner/metrics", s.handlePlannerMetrics)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/config/reload", s.handleConfigReload)

	mux.HandleFunc("/simulation/start", s.handleStart)
	mux.HandleFunc("/simulation/stop", s.handleStop)
	mux.HandleFunc("/simulation/advance", s.handleAdvance)
	mux.HandleFunc("/simulation/auto-tick", s.handleAutoTick)
	mux.HandleFunc("/simulation/reset", s.handleReset)
	mux.HandleFunc("/simulation/reset-full", s.handleResetFull)
	mux.HandleFunc("/simulation/rewind", s.handleRewind)

	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/overrides", s.handleOverrides)
	mux.HandleFunc("/overrides/", s.handleOverrideDetail)

	mux.HandleFunc("/personas", s.handlePersonas)
	mux.HandleFunc("/personas/", s.handlePersonaDetail)

	bind := s.cfgs.Get().API.Bind
	s.httpServer = &http.Server{
		Addr:        bind,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "bind", bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return false
	}
	return true
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"healthy":  true,
		"uptime_s": time.Since(s.startTime).Seconds(),
	})
}

// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.CurrentStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, st)
}

// GET /ticks?limit=N
func (s *Server) handleTickLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.store.TickLog(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, entries)
}

// GET /replay?from=N&to=M
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	from, err1 := strconv.Atoi(r.URL.Query().Get("from"))
	to, err2 := strconv.Atoi(r.URL.Query().Get("to"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "from and to tick parameters required")
		return
	}
	recs, err := s.engine.ExchangesAt(from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"from":      from,
		"to":        to,
		"exchanges": recs,
	})
}

// GET /planner/metrics
func (s *Server) handlePlannerMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.planners.Metrics())
}

// GET /config
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cfgs.Get())
}

// POST /config/reload
func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if s.cfgPath == "" {
		writeError(w, http.StatusConflict, "no config file to reload from")
		return
	}
	if err := s.cfgs.Reload(s.cfgPath); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := s.cfgs.Get()
	s.engine.SetEventProbabilities(cfg.Events.SickLeaveProbability, cfg.Events.FeatureRequestProbability)
	s.logger.Info("config reloaded", "path", s.cfgPath)
	writeJSON(w, map[string]any{"reloaded": true, "path": s.cfgPath})
}

type startRequest struct {
	Projects []struct {
		Name          string   `json:"name"`
		Summary       string   `json:"summary"`
		StartWeek     int      `json:"start_week"`
		DurationWeeks int      `json:"duration_weeks"`
		Assignees     []string `json:"assignees"`
	} `json:"projects"`
	Include  []string `json:"include_personas"`
	Exclude  []string `json:"exclude_personas"`
	Seed     int64    `json:"seed"`
	AutoTick bool     `json:"auto_tick"`
	Model    string   `json:"model"`
}

// POST /simulation/start
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opts := engine.StartOptions{
		IncludePersonas: req.Include,
		ExcludePersonas: req.Exclude,
		Seed:            req.Seed,
		AutoTick:        req.AutoTick,
		Model:           req.Model,
	}
	for _, p := range req.Projects {
		opts.Projects = append(opts.Projects, engine.ProjectSpec{
			Name:          p.Name,
			Summary:       p.Summary,
			StartWeek:     p.StartWeek,
			DurationWeeks: p.DurationWeeks,
			AssigneeNames: p.Assignees,
		})
	}
	if err := s.engine.Start(r.Context(), opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, _ := s.engine.CurrentStatus()
	writeJSON(w, st)
}

// POST /simulation/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.engine.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "stopped"})
}

// POST /simulation/advance
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Ticks  int    `json:"ticks"`
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Ticks < 1 {
		req.Ticks = 1
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}
	if err := s.engine.Advance(req.Ticks, req.Reason); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	st, _ := s.engine.CurrentStatus()
	writeJSON(w, st)
}

// POST /simulation/auto-tick
func (s *Server) handleAutoTick(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled {
		if err := s.store.SetAutoTick(true); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := s.engine.StartAutoTick(); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	} else {
		if err := s.engine.StopAutoTick(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, map[string]bool{"auto_tick": req.Enabled})
}

// POST /simulation/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		PreservePersonas bool `json:"preserve_personas"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.Reset(req.PreservePersonas); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "reset"})
}

// POST /simulation/reset-full
func (s *Server) handleResetFull(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.engine.ResetFull(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "reset"})
}

// POST /simulation/rewind
func (s *Server) handleRewind(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Tick int `json:"tick"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.Rewind(r.Context(), req.Tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, _ := s.engine.CurrentStatus()
	writeJSON(w, st)
}

// GET lists recorded events; POST injects one.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		events, err := s.store.ListEvents()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, events)
	case http.MethodPost:
		var req struct {
			Type      string         `json:"type"`
			Targets   []string       `json:"targets"`
			ProjectID int64          `json:"project_id"`
			AtTick    *int           `json:"at_tick"`
			Payload   map[string]any `json:"payload"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Type) == "" {
			writeError(w, http.StatusBadRequest, "event type required")
			return
		}
		atTick := -1
		if req.AtTick != nil {
			atTick = *req.AtTick
		}
		ev, err := s.engine.InjectEvent(req.Type, req.Targets, req.ProjectID, atTick, req.Payload)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, ev)
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or POST required")
	}
}

// GET lists active overrides; POST sets one.
func (s *Server) handleOverrides(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		overrides, err := s.store.ListStatusOverrides()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]store.StatusOverride, 0, len(overrides))
		for _, o := range overrides {
			out = append(out, o)
		}
		writeJSON(w, out)
	case http.MethodPost:
		var req struct {
			Worker    string `json:"worker"`
			Status    string `json:"status"`
			UntilTick int    `json:"until_tick"`
			Reason    string `json:"reason"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Worker == "" || req.Status == "" {
			writeError(w, http.StatusBadRequest, "worker and status required")
			return
		}
		if err := s.engine.OverrideStatus(req.Worker, req.Status, req.UntilTick, req.Reason); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, map[string]string{"status": "set"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or POST required")
	}
}

// DELETE /overrides/{name}
func (s *Server) handleOverrideDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "DELETE required")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/overrides/")
	if name == "" {
		writeError(w, http.StatusBadRequest, "persona name required")
		return
	}
	if err := s.engine.ClearOverride(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "cleared"})
}

// GET lists personas; POST creates one.
func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		people, err := s.store.ListPeople()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, people)
	case http.MethodPost:
		var p persona.Persona
		if !decodeBody(w, r, &p) {
			return
		}
		if err := p.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p.MarkdownProfile = p.RenderMarkdown()
		if err := s.store.InsertPerson(&p); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, p)
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or POST required")
	}
}

// GET, PUT, DELETE /personas/{name}
func (s *Server) handlePersonaDetail(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/personas/")
	if name == "" {
		writeError(w, http.StatusBadRequest, "persona name required")
		return
	}
	existing, err := s.store.GetPersonByName(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "persona not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, existing)
	case http.MethodPut:
		var p persona.Persona
		if !decodeBody(w, r, &p) {
			return
		}
		p.ID = existing.ID
		p.Name = existing.Name
		if err := p.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p.MarkdownProfile = p.RenderMarkdown()
		if err := s.store.UpdatePerson(&p); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, p)
	case http.MethodDelete:
		if err := s.store.DeletePersonByName(name); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET, PUT, or DELETE required")
	}
}
