package planner

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// StubPlanner is the deterministic fallback. Output depends only on the
// method and context label, so reruns reproduce identical plans.
type StubPlanner struct{}

func (StubPlanner) Name() string { return "stub" }

var stubFocus = []string{
	"clearing the top item on the board",
	"reviewing yesterday's open threads",
	"pairing on the blocked ticket",
	"writing up findings before standup",
	"closing out small follow-ups",
	"preparing notes for the next sync",
}

// Generate produces plausible plan text without calling any provider.
func (StubPlanner) Generate(_ context.Context, method string, req Request) (Result, error) {
	seed := fnv.New32a()
	seed.Write([]byte(method))
	seed.Write([]byte(req.Context))
	pick := stubFocus[int(seed.Sum32())%len(stubFocus)]

	var b strings.Builder
	switch method {
	case MethodProjectPlan:
		b.WriteString("## Project plan\n\n")
		b.WriteString("Week 1: scope the work, agree interfaces, set up tracking.\n")
		b.WriteString("Following weeks: implement in vertical slices, demo at week end.\n")
		b.WriteString("Final week: hardening, documentation, handover.\n")
	case MethodDailyPlan:
		b.WriteString("## Today\n\n")
		fmt.Fprintf(&b, "- Morning: %s\n", pick)
		b.WriteString("- Midday: core project work\n")
		b.WriteString("- Afternoon: reviews and follow-ups\n")
	case MethodHourlyPlan:
		fmt.Fprintf(&b, "This hour: %s.\n", pick)
		b.WriteString("Then continue with the main project task from the daily plan.\n")
	case MethodHourlySummary:
		fmt.Fprintf(&b, "Spent the hour %s; no blockers.\n", pick)
	case MethodDailyReport:
		b.WriteString("Completed the planned items for the day. ")
		fmt.Fprintf(&b, "Highlight: %s. No open blockers.\n", pick)
	default:
		fmt.Fprintf(&b, "Worked on %s.\n", pick)
	}
	return Result{Content: b.String(), ModelUsed: "stub"}, nil
}
