package comms

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/worksim/internal/gateway"
	"github.com/antigravity-dev/worksim/internal/persona"
	"github.com/antigravity-dev/worksim/internal/store"
	"github.com/antigravity-dev/worksim/internal/tick"
)

// EmailSender is the slice of the email gateway the hub uses.
type EmailSender interface {
	SendEmail(ctx context.Context, req gateway.SendEmailRequest) (gateway.SendEmailResponse, error)
}

// ChatSender is the slice of the chat gateway the hub uses.
type ChatSender interface {
	SendDM(ctx context.Context, sender, recipient, body string, senderPersonaID int64, sentAt time.Time) error
	SendRoomMessage(ctx context.Context, slug, sender, body string, senderPersonaID int64, sentAt time.Time) error
}

// groupKeywords route a chat target to the active group room of the sender's
// first active project.
var groupKeywords = map[string]bool{
	"team":     true,
	"project":  true,
	"group":    true,
	"everyone": true,
}

// Hub schedules, deduplicates, cooldown-limits, and dispatches communications.
// The scheduled map, dedup set, and cooldown map are only touched under the
// engine's advance mutex; the recent-email rings carry their own lock because
// planning tasks read them in parallel.
type Hub struct {
	logger *slog.Logger
	store  *store.Store
	ticks  *tick.Manager
	email  EmailSender
	chat   ChatSender

	cooldownTicks int
	externalAllow map[string]bool

	// Closures keep the dependency graph acyclic: the engine wires them at start.
	rosterFn     func() []*persona.Persona
	activeRoomFn func(personID int64) string

	scheduled map[int64]map[int][]ScheduledAction
	dedup     map[string]bool
	dedupTick int
	cooldown  map[string]int
	rings     *recentRings
}

// NewHub builds a hub. cooldownTicks <= 0 disables the cooldown gate.
func NewHub(s *store.Store, ticks *tick.Manager, email EmailSender, chat ChatSender, cooldownTicks int, externalStakeholders []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	allow := make(map[string]bool, len(externalStakeholders))
	for _, addr := range externalStakeholders {
		allow[strings.ToLower(strings.TrimSpace(addr))] = true
	}
	return &Hub{
		logger:        logger,
		store:         s,
		ticks:         ticks,
		email:         email,
		chat:          chat,
		cooldownTicks: cooldownTicks,
		externalAllow: allow,
		scheduled:     make(map[int64]map[int][]ScheduledAction),
		dedup:         make(map[string]bool),
		dedupTick:     -1,
		cooldown:      make(map[string]int),
		rings:         newRecentRings(),
	}
}

// SetRoster wires the active-roster closure.
func (h *Hub) SetRoster(fn func() []*persona.Persona) { h.rosterFn = fn }

// SetActiveRoomLookup wires the first-active-project room closure.
func (h *Hub) SetActiveRoomLookup(fn func(personID int64) string) { h.activeRoomFn = fn }

// BeginTick clears the per-tick dedup set when the tick changes and drops
// scheduled actions whose tick has already passed. Stale entries accumulate
// when a persona sits out the ticks their actions were due on.
func (h *Hub) BeginTick(tick int) {
	if tick != h.dedupTick {
		h.dedup = make(map[string]bool)
		h.dedupTick = tick
	}
	for personID, byTick := range h.scheduled {
		for at := range byTick {
			if at < tick {
				delete(byTick, at)
			}
		}
		if len(byTick) == 0 {
			delete(h.scheduled, personID)
		}
	}
}

// ResetRuntime drops all ephemeral state: scheduled actions, dedup set,
// cooldown map, recent-email rings.
func (h *Hub) ResetRuntime() {
	h.scheduled = make(map[int64]map[int][]ScheduledAction)
	h.dedup = make(map[string]bool)
	h.dedupTick = -1
	h.cooldown = make(map[string]int)
	h.rings.clear()
}

// RecentEmails returns a copy of a persona's recent-email ring for prompt
// context, newest last.
func (h *Hub) RecentEmails(personID int64) []RecentEmail {
	return h.rings.snapshot(personID)
}

// ScheduleFromPlan parses scheduled-communication lines out of an hourly plan
// and registers future actions for the current day. Lines resolving to the
// current tick-of-day or earlier are dropped, never scheduled retroactively.
// Returns how many actions were scheduled.
func (h *Hub) ScheduleFromPlan(personID int64, planText string, currentTick int) int {
	actions := ParseScheduledComms(planText)
	if len(actions) == 0 {
		return 0
	}

	curTod := h.ticks.TickOfDay(currentTick)
	firstTick := h.ticks.FirstTickOfDay(currentTick)
	scheduled := 0

	for _, a := range actions {
		minutes, err := persona.ParseClock(a.Clock)
		if err != nil {
			continue
		}
		tod := h.ticks.NearestTickOfDay(minutes)
		if tod <= curTod {
			continue
		}
		target := firstTick + tod

		byTick, ok := h.scheduled[personID]
		if !ok {
			byTick = make(map[int][]ScheduledAction)
			h.scheduled[personID] = byTick
		}
		dup := false
		for _, existing := range byTick[target] {
			if SameAction(existing, a) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		byTick[target] = append(byTick[target], a)
		scheduled++
	}
	return scheduled
}

// PendingAt reports how many actions are queued for (personID, tick).
func (h *Hub) PendingAt(personID int64, tick int) int {
	return len(h.scheduled[personID][tick])
}

// DispatchDue pops and dispatches every scheduled action for (person, tick).
func (h *Hub) DispatchDue(ctx context.Context, p *persona.Persona, tick int) (emailsSent, chatsSent int) {
	byTick, ok := h.scheduled[p.ID]
	if !ok {
		return 0, 0
	}
	actions := byTick[tick]
	if len(actions) == 0 {
		return 0, 0
	}
	delete(byTick, tick)

	for _, a := range actions {
		switch a.Kind {
		case KindEmail:
			if h.dispatchEmailAction(ctx, p, a, tick) {
				emailsSent++
			}
		case KindReply:
			if h.dispatchReplyAction(ctx, p, a, tick) {
				emailsSent++
			}
		case KindChat:
			if h.dispatchChatAction(ctx, p, a, tick) {
				chatsSent++
			}
		}
	}
	return emailsSent, chatsSent
}

func (h *Hub) dispatchEmailAction(ctx context.Context, p *persona.Persona, a ScheduledAction, tick int) bool {
	to, ok := h.resolveEmailTargets(p, splitAddressList(a.Target))
	if !ok || len(to) == 0 {
		return false
	}
	cc, _ := h.resolveEmailTargets(p, a.CC)
	bcc, _ := h.resolveEmailTargets(p, a.BCC)
	sent, _ := h.SendEmail(ctx, p, to, cc, bcc, a.Subject, a.Body, "", tick)
	return sent
}

func (h *Hub) dispatchReplyAction(ctx context.Context, p *persona.Persona, a ScheduledAction, tick int) bool {
	orig, found := h.rings.find(p.ID, a.ReplyToEmailID)
	if !found {
		h.logger.Warn("reply directive dropped: email id not in recent ring",
			"sender", p.Name, "email_id", a.ReplyToEmailID)
		return false
	}
	// Reply goes back to the original sender on the original thread.
	cc, _ := h.resolveEmailTargets(p, a.CC)
	bcc, _ := h.resolveEmailTargets(p, a.BCC)
	sent, _ := h.SendEmail(ctx, p, []string{orig.From}, cc, bcc, a.Subject, a.Body, orig.ThreadID, tick)
	return sent
}

func (h *Hub) dispatchChatAction(ctx context.Context, p *persona.Persona, a ScheduledAction, tick int) bool {
	target := strings.TrimSpace(a.Target)
	if groupKeywords[strings.ToLower(target)] {
		slug := ""
		if h.activeRoomFn != nil {
			slug = h.activeRoomFn(p.ID)
		}
		if slug == "" {
			h.logger.Warn("group chat dropped: no active project room", "sender", p.Name)
			return false
		}
		return h.SendRoomMessage(ctx, p, slug, a.Body, tick)
	}

	recipient := h.resolveChatTarget(target)
	if recipient == nil {
		h.logger.Warn("chat target dropped: not in roster", "sender", p.Name, "target", target)
		return false
	}
	return h.SendDM(ctx, p, recipient, a.Body, tick)
}

// resolveEmailTargets maps raw targets to deliverable addresses. A literal
// address outside the roster is accepted only when allow-listed; anything
// else is logged as a hallucination and dropped.
func (h *Hub) resolveEmailTargets(sender *persona.Persona, raw []string) ([]string, bool) {
	roster := h.roster()
	var out []string
	okAll := true
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if p := matchPersona(roster, r); p != nil {
			out = append(out, p.EmailAddress)
			continue
		}
		lower := strings.ToLower(r)
		if strings.Contains(r, "@") && h.externalAllow[lower] {
			out = append(out, r)
			continue
		}
		h.logger.Warn("email target dropped: not in roster or allow-list",
			"sender", sender.Name, "target", r)
		okAll = false
	}
	return out, okAll || len(out) > 0
}

// resolveChatTarget finds a roster persona by handle or name.
func (h *Hub) resolveChatTarget(raw string) *persona.Persona {
	return matchPersona(h.roster(), raw)
}

// matchPersona resolves a raw target against email address, chat handle
// (optional @ prefix), or exact persona name.
func matchPersona(roster []*persona.Persona, raw string) *persona.Persona {
	raw = strings.TrimSpace(raw)
	handle := strings.TrimPrefix(raw, "@")
	for _, p := range roster {
		if strings.EqualFold(p.EmailAddress, raw) {
			return p
		}
		if strings.EqualFold(p.NormalizedHandle(), handle) {
			return p
		}
		if p.Name == raw {
			return p
		}
	}
	return nil
}

func (h *Hub) roster() []*persona.Persona {
	if h.rosterFn == nil {
		return nil
	}
	return h.rosterFn()
}

// SendEmail applies dedup and cooldown, then dispatches through the email
// gateway, logs the exchange, and updates the recent-email rings. Returns
// whether the email was sent plus its backend id.
func (h *Hub) SendEmail(ctx context.Context, sender *persona.Persona, to, cc, bcc []string, subject, body, threadID string, tick int) (bool, string) {
	recipients := dedupeStrings(append(append(append([]string{}, to...), cc...), bcc...))
	if len(recipients) == 0 {
		return false, ""
	}

	key := h.contactKey("email", sender.EmailAddress, recipients)
	if !h.admit(key, subject, body, tick, sender.Name) {
		return false, ""
	}

	if threadID == "" {
		threadID = uuid.NewString()
	}
	sentAt := h.ticks.SimDatetimeForTick(tick)

	resp, err := h.email.SendEmail(ctx, gateway.SendEmailRequest{
		Sender:          sender.EmailAddress,
		To:              to,
		CC:              cc,
		BCC:             bcc,
		Subject:         subject,
		Body:            body,
		ThreadID:        threadID,
		SentAt:          sentAt.Format(time.RFC3339),
		SenderPersonaID: sender.ID,
	})
	if err != nil {
		h.logger.Warn("email send dropped", "sender", sender.Name, "error", err)
		return false, ""
	}

	h.accept(key, subject, body, tick)
	h.logExchange("email", sender.EmailAddress, recipients, subject, body, threadID, tick, sentAt)

	entry := RecentEmail{
		EmailID:    resp.ID,
		From:       sender.EmailAddress,
		To:         to,
		Subject:    subject,
		ThreadID:   threadID,
		SentAtTick: tick,
	}
	h.rings.append(sender.ID, entry)
	roster := h.roster()
	for _, addr := range recipients {
		if p := matchPersona(roster, addr); p != nil && p.ID != sender.ID {
			h.rings.append(p.ID, entry)
		}
	}
	return true, resp.ID
}

// SendDM dispatches a direct chat message. The mirroring guard only lets the
// lexicographically smaller handle initiate, so generated DM pairs collapse
// to a single direction.
func (h *Hub) SendDM(ctx context.Context, sender *persona.Persona, recipient *persona.Persona, body string, tick int) bool {
	senderHandle := sender.NormalizedHandle()
	recipientHandle := recipient.NormalizedHandle()
	if senderHandle > recipientHandle {
		h.logger.Debug("dm suppressed by mirroring guard", "sender", senderHandle, "recipient", recipientHandle)
		return false
	}

	key := h.contactKey("chat", senderHandle, []string{recipientHandle})
	if !h.admit(key, "", body, tick, sender.Name) {
		return false
	}

	sentAt := h.ticks.SimDatetimeForTick(tick)
	if err := h.chat.SendDM(ctx, senderHandle, recipientHandle, body, sender.ID, sentAt); err != nil {
		h.logger.Warn("dm send dropped", "sender", sender.Name, "error", err)
		return false
	}

	h.accept(key, "", body, tick)
	h.logExchange("chat", senderHandle, []string{recipientHandle}, "", body, "", tick, sentAt)
	return true
}

// SendRoomMessage dispatches a group-room message.
func (h *Hub) SendRoomMessage(ctx context.Context, sender *persona.Persona, slug, body string, tick int) bool {
	senderHandle := sender.NormalizedHandle()
	key := h.contactKey("chat", senderHandle, []string{slug})
	if !h.admit(key, "", body, tick, sender.Name) {
		return false
	}

	sentAt := h.ticks.SimDatetimeForTick(tick)
	if err := h.chat.SendRoomMessage(ctx, slug, senderHandle, body, sender.ID, sentAt); err != nil {
		h.logger.Warn("room message dropped", "sender", sender.Name, "slug", slug, "error", err)
		return false
	}

	h.accept(key, "", body, tick)
	h.logExchange("chat", senderHandle, []string{slug}, "", body, "", tick, sentAt)
	return true
}

// SuggestCC implements the fallback-email CC heuristic: the department head
// when distinct from sender and primary, plus one peer by role affinity.
func (h *Hub) SuggestCC(sender *persona.Persona, primary *persona.Persona) []string {
	roster := h.roster()
	var cc []string
	seen := map[string]bool{
		strings.ToLower(sender.EmailAddress): true,
	}
	if primary != nil {
		seen[strings.ToLower(primary.EmailAddress)] = true
	}

	if head := persona.DepartmentHead(roster); head != nil && !seen[strings.ToLower(head.EmailAddress)] {
		cc = append(cc, head.EmailAddress)
		seen[strings.ToLower(head.EmailAddress)] = true
	}

	if partner := affinityPartner(sender.Role); partner != "" {
		for _, p := range roster {
			if seen[strings.ToLower(p.EmailAddress)] {
				continue
			}
			if strings.Contains(strings.ToLower(p.Role), partner) {
				cc = append(cc, p.EmailAddress)
				break
			}
		}
	}
	return cc
}

// affinityPartner maps a role to the role keyword of its natural collaborator.
func affinityPartner(role string) string {
	r := strings.ToLower(role)
	switch {
	case strings.Contains(r, "devops"):
		return "dev"
	case strings.Contains(r, "design"):
		return "dev"
	case strings.Contains(r, "product"), strings.Contains(r, "pm"):
		return "dev"
	case strings.Contains(r, "dev"), strings.Contains(r, "engineer"):
		return "design"
	default:
		return ""
	}
}

// admit runs the dedup and cooldown gates. Blocked sends are a contract, not
// an error.
func (h *Hub) admit(contactKey, subject, body string, tick int, senderName string) bool {
	dedupKey := contactKey + "|" + subject + "|" + strings.TrimSpace(body)
	if h.dedup[dedupKey] {
		h.logger.Debug("send skipped: duplicate in tick", "sender", senderName)
		return false
	}
	if h.cooldownTicks > 0 {
		if last, ok := h.cooldown[contactKey]; ok && tick-last < h.cooldownTicks {
			h.logger.Debug("send skipped: contact cooldown", "sender", senderName, "last_tick", last)
			return false
		}
	}
	return true
}

// accept marks the send in both gates.
func (h *Hub) accept(contactKey, subject, body string, tick int) {
	h.dedup[contactKey+"|"+subject+"|"+strings.TrimSpace(body)] = true
	h.cooldown[contactKey] = tick
}

func (h *Hub) contactKey(channel, sender string, recipients []string) string {
	sorted := append([]string(nil), recipients...)
	for i := range sorted {
		sorted[i] = strings.ToLower(sorted[i])
	}
	sort.Strings(sorted)
	return channel + "|" + strings.ToLower(sender) + "|" + strings.Join(sorted, ",")
}

func (h *Hub) logExchange(channel, sender string, recipients []string, subject, body, threadID string, tick int, sentAt time.Time) {
	sorted := append([]string(nil), recipients...)
	sort.Strings(sorted)
	rec := &store.ExchangeRecord{
		Tick:       tick,
		Channel:    channel,
		Sender:     sender,
		Recipients: strings.Join(sorted, ","),
		Subject:    subject,
		Body:       body,
		ThreadID:   threadID,
		SentAt:     sentAt.UTC().Format(time.RFC3339),
	}
	if err := h.store.AppendExchange(rec); err != nil {
		h.logger.Error("exchange log append failed", "error", err)
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}
