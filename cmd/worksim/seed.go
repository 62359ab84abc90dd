package main

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/antigravity-dev/worksim/internal/persona"
	"github.com/antigravity-dev/worksim/internal/store"
)

// seedFile is the persona seed TOML shape: repeated [[personas]] tables with
// optional [[personas.schedule]] blocks.
type seedFile struct {
	Personas []seedPersona `toml:"personas"`
}

type seedPersona struct {
	Name               string   `toml:"name"`
	Role               string   `toml:"role"`
	Timezone           string   `toml:"timezone"`
	EmailAddress       string   `toml:"email_address"`
	ChatHandle         string   `toml:"chat_handle"`
	WorkHours          string   `toml:"work_hours"`
	BreakFrequency     string   `toml:"break_frequency"`
	CommunicationStyle string   `toml:"communication_style"`
	Skills             string   `toml:"skills"`
	Personality        string   `toml:"personality"`
	Objectives         string   `toml:"objectives"`
	Metrics            string   `toml:"metrics"`
	PlanningGuidelines string   `toml:"planning_guidelines"`
	EventPlaybook      string   `toml:"event_playbook"`
	StatusVocabulary   []string `toml:"status_vocabulary"`
	IsDepartmentHead   bool     `toml:"is_department_head"`

	Schedule []seedBlock `toml:"schedule"`
}

type seedBlock struct {
	Label string `toml:"label"`
	Start string `toml:"start"` // "HH:MM"
	End   string `toml:"end"`
}

// seedPersonas upserts personas from a TOML file. Existing personas are
// matched by name and updated in place; schedule blocks are replaced whole.
func seedPersonas(st *store.Store, path string) (int, error) {
	var f seedFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return 0, fmt.Errorf("seed: decode %s: %w", path, err)
	}
	if len(f.Personas) == 0 {
		return 0, fmt.Errorf("seed: %s contains no personas", path)
	}

	for _, sp := range f.Personas {
		p := persona.Persona{
			Name:               sp.Name,
			Role:               sp.Role,
			Timezone:           sp.Timezone,
			EmailAddress:       sp.EmailAddress,
			ChatHandle:         sp.ChatHandle,
			WorkHours:          sp.WorkHours,
			BreakFrequency:     sp.BreakFrequency,
			CommunicationStyle: sp.CommunicationStyle,
			Skills:             sp.Skills,
			Personality:        sp.Personality,
			Objectives:         sp.Objectives,
			Metrics:            sp.Metrics,
			PlanningGuidelines: sp.PlanningGuidelines,
			EventPlaybook:      sp.EventPlaybook,
			StatusVocabulary:   sp.StatusVocabulary,
			IsDepartmentHead:   sp.IsDepartmentHead,
		}
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("seed: persona %q: %w", sp.Name, err)
		}
		p.MarkdownProfile = p.RenderMarkdown()

		existing, err := st.GetPersonByName(p.Name)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			p.ID = existing.ID
			if err := st.UpdatePerson(&p); err != nil {
				return 0, err
			}
		} else if err := st.InsertPerson(&p); err != nil {
			return 0, err
		}

		blocks, err := parseSeedBlocks(p.ID, sp.Schedule)
		if err != nil {
			return 0, fmt.Errorf("seed: persona %q: %w", sp.Name, err)
		}
		if len(blocks) > 0 {
			if err := st.ReplaceScheduleBlocks(p.ID, blocks); err != nil {
				return 0, err
			}
		}
	}
	return len(f.Personas), nil
}

func parseSeedBlocks(personID int64, in []seedBlock) ([]store.ScheduleBlock, error) {
	var out []store.ScheduleBlock
	for _, b := range in {
		start, err := persona.ParseClock(b.Start)
		if err != nil {
			return nil, fmt.Errorf("schedule block %q: %w", b.Label, err)
		}
		end, err := persona.ParseClock(b.End)
		if err != nil {
			return nil, fmt.Errorf("schedule block %q: %w", b.Label, err)
		}
		if end <= start {
			return nil, fmt.Errorf("schedule block %q: end before start", b.Label)
		}
		out = append(out, store.ScheduleBlock{
			PersonID:    personID,
			Label:       b.Label,
			StartMinute: start,
			EndMinute:   end,
		})
	}
	return out, nil
}
