// Package persona defines the synthetic worker model: identity, addressing
// handles, work policy, and the free-text traits that seed planning prompts.
package persona

import (
	"fmt"
	"sort"
	"strings"
)

// Persona is one synthetic worker. Created once via the admin API and treated
// as immutable during a run; temporary state lives in status overrides.
type Persona struct {
	ID                 int64
	Name               string
	Role               string
	Timezone           string
	EmailAddress       string
	ChatHandle         string
	WorkHours          string // "HH:MM-HH:MM"
	BreakFrequency     string
	CommunicationStyle string
	Skills             string
	Personality        string
	Objectives         string
	Metrics            string
	PlanningGuidelines string
	EventPlaybook      string
	StatusVocabulary   []string
	IsDepartmentHead   bool

	// MarkdownProfile is the precomputed rendering used to seed prompts.
	// Refreshed on create/update, never per tick.
	MarkdownProfile string
}

// NormalizedHandle returns the chat handle without a leading "@".
func (p *Persona) NormalizedHandle() string {
	return strings.TrimPrefix(strings.TrimSpace(p.ChatHandle), "@")
}

// Validate rejects personas the engine could not route messages to.
func (p *Persona) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("persona: name is required")
	}
	if strings.TrimSpace(p.EmailAddress) == "" || !strings.Contains(p.EmailAddress, "@") {
		return fmt.Errorf("persona %s: valid email_address is required", p.Name)
	}
	if p.NormalizedHandle() == "" {
		return fmt.Errorf("persona %s: chat_handle is required", p.Name)
	}
	if _, err := SplitWorkHours(p.WorkHours); err != nil {
		return fmt.Errorf("persona %s: %w", p.Name, err)
	}
	return nil
}

// WorkWindow is a persona's work-hours window in minutes of day.
type WorkWindow struct {
	StartMinute int
	EndMinute   int
}

// SplitWorkHours parses "HH:MM-HH:MM" into minute-of-day bounds. Wrap-around
// windows (night shifts) are allowed; equal bounds mean the full day.
func SplitWorkHours(s string) (WorkWindow, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return WorkWindow{}, fmt.Errorf("work_hours %q must be HH:MM-HH:MM", s)
	}
	start, err := ParseClock(parts[0])
	if err != nil {
		return WorkWindow{}, err
	}
	end, err := ParseClock(parts[1])
	if err != nil {
		return WorkWindow{}, err
	}
	return WorkWindow{StartMinute: start, EndMinute: end}, nil
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return hh*60 + mm, nil
}

// RenderMarkdown builds the prompt-seeding profile. Deterministic so the
// stored rendering stays stable across restarts.
func (p *Persona) RenderMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s — %s\n\n", p.Name, p.Role)
	fmt.Fprintf(&b, "- Email: %s\n", p.EmailAddress)
	fmt.Fprintf(&b, "- Chat: @%s\n", p.NormalizedHandle())
	fmt.Fprintf(&b, "- Timezone: %s\n", orDash(p.Timezone))
	fmt.Fprintf(&b, "- Work hours: %s\n", p.WorkHours)
	if p.BreakFrequency != "" {
		fmt.Fprintf(&b, "- Breaks: %s\n", p.BreakFrequency)
	}
	if p.IsDepartmentHead {
		b.WriteString("- Department head\n")
	}
	section(&b, "Communication style", p.CommunicationStyle)
	section(&b, "Skills", p.Skills)
	section(&b, "Personality", p.Personality)
	section(&b, "Objectives", p.Objectives)
	section(&b, "Metrics", p.Metrics)
	section(&b, "Planning guidelines", p.PlanningGuidelines)
	section(&b, "Event playbook", p.EventPlaybook)
	if len(p.StatusVocabulary) > 0 {
		vocab := append([]string(nil), p.StatusVocabulary...)
		sort.Strings(vocab)
		section(&b, "Status vocabulary", strings.Join(vocab, ", "))
	}
	return b.String()
}

func section(b *strings.Builder, title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	fmt.Fprintf(b, "\n## %s\n%s\n", title, body)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// DepartmentHead returns the first department head in the roster, or nil.
func DepartmentHead(people []*Persona) *Persona {
	for _, p := range people {
		if p.IsDepartmentHead {
			return p
		}
	}
	return nil
}

// ByName indexes a roster by exact name.
func ByName(people []*Persona) map[string]*Persona {
	m := make(map[string]*Persona, len(people))
	for _, p := range people {
		m[p.Name] = p
	}
	return m
}
