package persona

import (
	"strings"
	"testing"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
	}
	for _, c := range cases {
		got, err := ParseClock(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseClock(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestSplitWorkHours(t *testing.T) {
	w, err := SplitWorkHours("09:00-17:30")
	if err != nil {
		t.Fatal(err)
	}
	if w.StartMinute != 540 || w.EndMinute != 1050 {
		t.Errorf("unexpected window: %+v", w)
	}

	// Night shift is a valid wrap-around window.
	w, err = SplitWorkHours("22:00-06:00")
	if err != nil {
		t.Fatal(err)
	}
	if w.StartMinute != 1320 || w.EndMinute != 360 {
		t.Errorf("unexpected night window: %+v", w)
	}

	if _, err := SplitWorkHours("nine to five"); err == nil {
		t.Error("expected error for malformed window")
	}
}

func TestNormalizedHandle(t *testing.T) {
	p := Persona{Name: "Alice Chen", ChatHandle: " @alice.chen "}
	if got := p.NormalizedHandle(); got != "alice.chen" {
		t.Errorf("NormalizedHandle = %q", got)
	}
	p = Persona{ChatHandle: "bob"}
	if got := p.NormalizedHandle(); got != "bob" {
		t.Errorf("NormalizedHandle without @ = %q", got)
	}
}

func TestValidate(t *testing.T) {
	p := Persona{
		Name:         "Alice",
		Role:         "Developer",
		EmailAddress: "alice@example.com",
		ChatHandle:   "@alice",
		WorkHours:    "09:00-17:00",
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid persona rejected: %v", err)
	}

	bad := p
	bad.EmailAddress = "not-an-email"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for bad email")
	}

	bad = p
	bad.WorkHours = "banana"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for bad work hours")
	}

	bad = p
	bad.Name = ""
	if err := bad.Validate(); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestDepartmentHead(t *testing.T) {
	people := []*Persona{
		{Name: "Alice", Role: "Developer"},
		{Name: "Bob", Role: "Engineering Manager", IsDepartmentHead: true},
		{Name: "Carol", Role: "Designer"},
	}
	head := DepartmentHead(people)
	if head == nil || head.Name != "Bob" {
		t.Fatalf("expected Bob as head, got %+v", head)
	}
	if DepartmentHead(people[:1]) != nil {
		t.Error("expected nil when no head flagged")
	}
}

func TestRenderMarkdownIncludesAddressing(t *testing.T) {
	p := Persona{
		Name:         "Alice",
		Role:         "Developer",
		EmailAddress: "alice@example.com",
		ChatHandle:   "@alice",
		WorkHours:    "09:00-17:00",
	}
	md := p.RenderMarkdown()
	if !strings.Contains(md, "alice@example.com") {
		t.Error("profile should include the email address")
	}
	if !strings.Contains(md, "@alice") {
		t.Error("profile should include the chat handle")
	}
	// Deterministic rendering.
	if md != p.RenderMarkdown() {
		t.Error("rendering should be stable")
	}
}
