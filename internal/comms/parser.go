// Package comms parses scheduled-communication lines out of hourly plans and
// dispatches emails and chats at their target tick, with per-tick dedup,
// per-contact cooldown, and reply threading.
package comms

import (
	"regexp"
	"strings"
)

// Action kinds produced by the parser.
const (
	KindEmail = "email"
	KindReply = "reply"
	KindChat  = "chat"
)

// ScheduledAction is one future send extracted from plan text.
type ScheduledAction struct {
	Kind           string
	Clock          string // "HH:MM" as written
	Target         string // raw target text (unused for replies)
	ReplyToEmailID string // replies only
	CC             []string
	BCC            []string
	Subject        string // emails/replies only
	Body           string
}

// Plans render the lines under a "Scheduled communications" header, but the
// parser accepts them anywhere: models frequently drop the header while
// keeping the line shape.
var (
	emailLineRe = regexp.MustCompile(`(?i)^[\s\-*>]*email\s+at\s+(\d{1,2}:\d{2})\s+to\s+(.+?)\s*:\s*(.+)$`)
	replyLineRe = regexp.MustCompile(`(?i)^[\s\-*>]*reply\s+at\s+(\d{1,2}:\d{2})\s+to\s+\[([^\]]+)\]\s*(.*?)\s*:\s*(.+)$`)
	chatLineRe  = regexp.MustCompile(`(?i)^[\s\-*>]*chat\s+at\s+(\d{1,2}:\d{2})\s+(?:to|with)\s+(.+?)\s*:\s*(.+)$`)

	ccRe  = regexp.MustCompile(`(?i)\s+cc\s+(.+)$`)
	bccRe = regexp.MustCompile(`(?i)\s+bcc\s+(.+)$`)
)

// ParseScheduledComms extracts every scheduled-communication line from plan
// text. Malformed lines are skipped silently; the rest of the plan is prose.
func ParseScheduledComms(plan string) []ScheduledAction {
	var out []ScheduledAction
	for _, line := range strings.Split(plan, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}
		if a, ok := parseReplyLine(line); ok {
			out = append(out, a)
			continue
		}
		if a, ok := parseEmailLine(line); ok {
			out = append(out, a)
			continue
		}
		if a, ok := parseChatLine(line); ok {
			out = append(out, a)
		}
	}
	return out
}

func parseEmailLine(line string) (ScheduledAction, bool) {
	m := emailLineRe.FindStringSubmatch(line)
	if m == nil {
		return ScheduledAction{}, false
	}
	target, cc, bcc := splitCarbonCopies(m[2])
	subject, body, ok := splitSubjectBody(m[3])
	if !ok || target == "" {
		return ScheduledAction{}, false
	}
	return ScheduledAction{
		Kind:    KindEmail,
		Clock:   m[1],
		Target:  target,
		CC:      cc,
		BCC:     bcc,
		Subject: subject,
		Body:    body,
	}, true
}

func parseReplyLine(line string) (ScheduledAction, bool) {
	m := replyLineRe.FindStringSubmatch(line)
	if m == nil {
		return ScheduledAction{}, false
	}
	_, cc, bcc := splitCarbonCopies(" " + m[3])
	subject, body, ok := splitSubjectBody(m[4])
	if !ok {
		return ScheduledAction{}, false
	}
	return ScheduledAction{
		Kind:           KindReply,
		Clock:          m[1],
		ReplyToEmailID: strings.TrimSpace(m[2]),
		CC:             cc,
		BCC:            bcc,
		Subject:        subject,
		Body:           body,
	}, true
}

func parseChatLine(line string) (ScheduledAction, bool) {
	m := chatLineRe.FindStringSubmatch(line)
	if m == nil {
		return ScheduledAction{}, false
	}
	target := strings.TrimSpace(m[2])
	if target == "" {
		return ScheduledAction{}, false
	}
	return ScheduledAction{
		Kind:   KindChat,
		Clock:  m[1],
		Target: target,
		Body:   strings.TrimSpace(m[3]),
	}, true
}

// splitCarbonCopies strips trailing "cc a,b" / "bcc c,d" clauses off the
// target portion and returns the remaining primary target.
func splitCarbonCopies(raw string) (target string, cc, bcc []string) {
	rest := raw
	if m := bccRe.FindStringSubmatchIndex(rest); m != nil {
		bcc = splitAddressList(rest[m[2]:m[3]])
		rest = rest[:m[0]]
	}
	if m := ccRe.FindStringSubmatchIndex(rest); m != nil {
		cc = splitAddressList(rest[m[2]:m[3]])
		rest = rest[:m[0]]
	}
	return strings.TrimSpace(rest), cc, bcc
}

func splitAddressList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSubjectBody splits "Subject | Body" on the first pipe.
func splitSubjectBody(raw string) (subject, body string, ok bool) {
	idx := strings.Index(raw, "|")
	if idx < 0 {
		return "", "", false
	}
	subject = strings.TrimSpace(raw[:idx])
	body = strings.TrimSpace(raw[idx+1:])
	if subject == "" && body == "" {
		return "", "", false
	}
	return subject, body, true
}

// SameAction reports whether two actions would produce the same send.
// Used to de-duplicate repeated lines targeting the same tick.
func SameAction(a, b ScheduledAction) bool {
	return a.Kind == b.Kind &&
		a.Target == b.Target &&
		a.ReplyToEmailID == b.ReplyToEmailID &&
		a.Subject == b.Subject &&
		strings.TrimSpace(a.Body) == strings.TrimSpace(b.Body)
}
