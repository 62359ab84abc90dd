// Package config loads and validates the worksim TOML configuration and
// applies environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	General  General  `toml:"general"`
	Planner  Planner  `toml:"planner"`
	Gateways Gateways `toml:"gateways"`
	Events   Events   `toml:"events"`
	API      API      `toml:"api"`
}

type General struct {
	HoursPerDay             int      `toml:"hours_per_day"`
	TickIntervalSeconds     float64  `toml:"tick_interval_seconds"`
	ContactCooldownTicks    int      `toml:"contact_cooldown_ticks"`
	MaxHourlyPlansPerMinute int      `toml:"max_hourly_plans_per_minute"`
	MaxPlanningWorkers      int      `toml:"max_planning_workers"`
	AutoPauseOnProjectEnd   bool     `toml:"auto_pause_on_project_end"`
	Locale                  string   `toml:"locale"`
	ExternalStakeholders    []string `toml:"external_stakeholders"`
	LogLevel                string   `toml:"log_level"`
	StateDB                 string   `toml:"state_db"`
}

type Planner struct {
	BaseURL        string   `toml:"base_url"`
	Model          string   `toml:"model"`
	Strict         bool     `toml:"strict"`
	RequestTimeout Duration `toml:"request_timeout"`
	PlanTimeout    Duration `toml:"plan_timeout"`
	ReportTimeout  Duration `toml:"report_timeout"`
	SummaryTimeout Duration `toml:"summary_timeout"`
}

type Gateways struct {
	EmailBaseURL string   `toml:"email_base_url"`
	ChatBaseURL  string   `toml:"chat_base_url"`
	HTTPTimeout  Duration `toml:"http_timeout"`
}

type Events struct {
	SickLeaveProbability      float64 `toml:"sick_leave_probability"`
	FeatureRequestProbability float64 `toml:"feature_request_probability"`
}

type API struct {
	Bind string `toml:"bind"`
}

// Default returns a config populated with documented defaults.
func Default() *Config {
	return &Config{
		General: General{
			HoursPerDay:             8,
			TickIntervalSeconds:     5,
			ContactCooldownTicks:    10,
			MaxHourlyPlansPerMinute: 10,
			MaxPlanningWorkers:      4,
			AutoPauseOnProjectEnd:   true,
			Locale:                  "en",
			LogLevel:                "info",
			StateDB:                 "worksim.db",
		},
		Planner: Planner{
			Model:          "sim-planner-1",
			RequestTimeout: Duration{30 * time.Second},
			PlanTimeout:    Duration{240 * time.Second},
			ReportTimeout:  Duration{60 * time.Second},
			SummaryTimeout: Duration{30 * time.Second},
		},
		Gateways: Gateways{
			HTTPTimeout: Duration{10 * time.Second},
		},
		Events: Events{
			SickLeaveProbability:      0.05,
			FeatureRequestProbability: 0.10,
		},
		API: API{Bind: "127.0.0.1:8600"},
	}
}

// Load reads a TOML config file, applies environment overrides, and validates.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the documented environment variables. Environment wins
// over the file so containerized deployments can override without editing TOML.
func applyEnv(cfg *Config) {
	if v, ok := envInt("HOURS_PER_DAY"); ok {
		cfg.General.HoursPerDay = v
	} else if legacy, ok := envInt("TICKS_PER_DAY"); ok {
		// Legacy installs configured minutes per day directly.
		h := legacy / 60
		if h < 1 {
			h = 1
		}
		cfg.General.HoursPerDay = h
	}
	if v, ok := envFloat("TICK_INTERVAL_SECONDS"); ok {
		cfg.General.TickIntervalSeconds = v
	}
	if v, ok := envInt("CONTACT_COOLDOWN_TICKS"); ok {
		cfg.General.ContactCooldownTicks = v
	}
	if v, ok := envInt("MAX_HOURLY_PLANS_PER_MINUTE"); ok {
		cfg.General.MaxHourlyPlansPerMinute = v
	}
	if v, ok := envInt("MAX_PLANNING_WORKERS"); ok {
		cfg.General.MaxPlanningWorkers = v
	}
	if v, ok := envBool("PLANNER_STRICT"); ok {
		cfg.Planner.Strict = v
	}
	if v, ok := envBool("AUTO_PAUSE_ON_PROJECT_END"); ok {
		cfg.General.AutoPauseOnProjectEnd = v
	}
	if v := strings.TrimSpace(os.Getenv("LOCALE")); v != "" {
		cfg.General.Locale = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("EXTERNAL_STAKEHOLDERS")); v != "" {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
				out = append(out, p)
			}
		}
		cfg.General.ExternalStakeholders = out
	}
	if v := strings.TrimSpace(os.Getenv("WORKSIM_STATE_DB")); v != "" {
		cfg.General.StateDB = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKSIM_EMAIL_BASE_URL")); v != "" {
		cfg.Gateways.EmailBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKSIM_CHAT_BASE_URL")); v != "" {
		cfg.Gateways.ChatBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKSIM_PLANNER_BASE_URL")); v != "" {
		cfg.Planner.BaseURL = v
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envBool(key string) (bool, bool) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return false, false
	case "1", "true", "yes", "on":
		return true, true
	default:
		return false, true
	}
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.General.HoursPerDay < 1 {
		return fmt.Errorf("config: hours_per_day must be >= 1, got %d", c.General.HoursPerDay)
	}
	if c.General.TickIntervalSeconds < 0 {
		return fmt.Errorf("config: tick_interval_seconds must be >= 0")
	}
	if c.General.ContactCooldownTicks < 0 {
		return fmt.Errorf("config: contact_cooldown_ticks must be >= 0")
	}
	if c.General.MaxPlanningWorkers < 1 {
		return fmt.Errorf("config: max_planning_workers must be >= 1")
	}
	if c.General.MaxHourlyPlansPerMinute < 1 {
		return fmt.Errorf("config: max_hourly_plans_per_minute must be >= 1")
	}
	switch c.General.Locale {
	case "en", "ko":
	default:
		return fmt.Errorf("config: locale must be en or ko, got %q", c.General.Locale)
	}
	if c.General.StateDB == "" {
		return fmt.Errorf("config: state_db is required")
	}
	return nil
}
