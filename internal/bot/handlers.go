package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"adventbot/internal/advent"
	"adventbot/internal/storage"
	"adventbot/internal/transport"
	"adventbot/internal/transport/telegram/router"
	logx "adventbot/pkg/logx"
)

var plain = &transport.SendOptions{DisablePreview: true}
var markdown = &transport.SendOptions{ParseMode: advent.ParseModeMarkdown}

// fail replies with a generic error and returns err for the request log.
func fail(ctx context.Context, req *router.Request, err error) error {
	_ = req.Reply(ctx, textFailed, plain)
	return err
}

func (b *Bot) setSubscribed(ctx context.Context, req *router.Request, on bool, reply string) error {
	if _, err := b.store.Upsert(ctx, req.Chat.ChatID, &on); err != nil {
		return fail(ctx, req, fmt.Errorf("upsert subscriber: %w", err))
	}
	return req.Reply(ctx, reply, plain)
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	return b.setSubscribed(ctx, req, true, welcomeText(b.engine.Window()))
}

func (b *Bot) cmdSubscribe(ctx context.Context, req *router.Request) error {
	return b.setSubscribed(ctx, req, true, textSubscribed)
}

func (b *Bot) cmdUnsubscribe(ctx context.Context, req *router.Request) error {
	return b.setSubscribed(ctx, req, false, textUnsubscribed)
}

// cmdToday shows today's entry. Outside the window only admins get content.
func (b *Bot) cmdToday(ctx context.Context, req *router.Request) error {
	now := b.now()
	if !req.IsAdmin && !b.engine.IsWindowActive(now) {
		return req.Reply(ctx, inactiveText(b.engine.Window()), plain)
	}
	text, ok, err := b.engine.FormatEntry(ctx, b.engine.Today(now))
	if err != nil {
		return fail(ctx, req, err)
	}
	if !ok {
		return req.Reply(ctx, textNoEntryToday, plain)
	}
	return req.Reply(ctx, text, markdown)
}

func (b *Bot) cmdHelp(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, b.router.HelpText(req.IsAdmin, textHelpTitle, textAdminHelpTitle), plain)
}

func (b *Bot) cmdAdminHelp(ctx context.Context, req *router.Request) error {
	var lines []string
	lines = append(lines, textAdminHelpTitle)
	for _, c := range b.router.Commands() {
		if c.Access != router.AccessAdmin || c.Name == "admin_help" {
			continue
		}
		line := "/" + c.Name
		if c.Usage != "" {
			line = c.Usage
		}
		lines = append(lines, line+" — "+c.Description)
	}
	return req.Reply(ctx, strings.Join(lines, "\n"), plain)
}

// parseAddDay parses "YYYY-MM-DD | title | description". The description
// may itself contain "|".
func parseAddDay(payload string) (d advent.Date, title, description string, ok bool) {
	parts := strings.SplitN(payload, "|", 3)
	if len(parts) != 3 {
		return advent.Date{}, "", "", false
	}
	d, err := advent.ParseDate(strings.TrimSpace(parts[0]))
	if err != nil {
		return advent.Date{}, "", "", false
	}
	return d, strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), true
}

func (b *Bot) cmdAddDay(ctx context.Context, req *router.Request) error {
	d, title, desc, ok := parseAddDay(req.Payload)
	if !ok {
		return req.Reply(ctx, textUsageAddDay, plain)
	}
	start := time.Now()
	e, err := b.store.SetEntry(ctx, d, title, desc)
	b.audit(ctx, req, "add_day", d.String(), start, err)
	if err != nil {
		return fail(ctx, req, fmt.Errorf("set entry: %w", err))
	}
	return req.Reply(ctx, savedText(e), plain)
}

func (b *Bot) cmdListDays(ctx context.Context, req *router.Request) error {
	entries, err := b.store.ListEntries(ctx)
	if err != nil {
		return fail(ctx, req, fmt.Errorf("list entries: %w", err))
	}
	if len(entries) == 0 {
		return req.Reply(ctx, textNoDays, plain)
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Date.String()+": "+e.Title)
	}
	return req.Reply(ctx, strings.Join(lines, "\n"), plain)
}

// dateArg parses the single ISO date argument of show/delete.
func dateArg(req *router.Request) (advent.Date, bool) {
	d, err := advent.ParseDate(req.Payload)
	return d, err == nil
}

func (b *Bot) cmdShowDay(ctx context.Context, req *router.Request) error {
	d, ok := dateArg(req)
	if !ok {
		return req.Reply(ctx, textUsageShowDay, plain)
	}
	e, ok, err := b.store.GetEntry(ctx, d)
	if err != nil {
		return fail(ctx, req, fmt.Errorf("get entry: %w", err))
	}
	if !ok {
		return req.Reply(ctx, notFoundText(d), plain)
	}
	return req.Reply(ctx, advent.FormatEntry(e), markdown)
}

func (b *Bot) cmdDeleteDay(ctx context.Context, req *router.Request) error {
	d, ok := dateArg(req)
	if !ok {
		return req.Reply(ctx, textUsageDeleteDay, plain)
	}
	start := time.Now()
	removed, err := b.store.DeleteEntry(ctx, d)
	b.audit(ctx, req, "delete_day", d.String(), start, err)
	if err != nil {
		return fail(ctx, req, fmt.Errorf("delete entry: %w", err))
	}
	if !removed {
		return req.Reply(ctx, notDeletedText(d), plain)
	}
	return req.Reply(ctx, deletedText(d), plain)
}

func (b *Bot) cmdBroadcastToday(ctx context.Context, req *router.Request) error {
	b.mu.RLock()
	timeout := b.broadcastTimeout
	b.mu.RUnlock()
	// Replies use the handler ctx: the pass may exhaust its own deadline.
	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	rep, err := b.engine.RunManualBroadcast(bctx, b.now())
	b.auditReport(ctx, req, rep, start, err)
	if err != nil {
		if rep.Recipients() == 0 {
			return fail(ctx, req, err)
		}
		_ = req.Reply(ctx, broadcastInterruptedText(rep), plain)
		return err
	}
	switch rep.Skipped {
	case advent.ReasonWindowInactive:
		return req.Reply(ctx, broadcastInactiveText(b.engine.Window()), plain)
	case advent.ReasonNoEntry:
		return req.Reply(ctx, textBroadcastNoEntry, plain)
	}
	return req.Reply(ctx, broadcastDoneText(rep), plain)
}

func (b *Bot) audit(ctx context.Context, req *router.Request, action, target string, start time.Time, err error) {
	e := storage.AuditEntry{Action: action, Target: target, OK: 1}
	if err != nil {
		e.OK, e.Fail, e.Error = 0, 1, err.Error()
	}
	b.appendAudit(ctx, req, e, start)
}

func (b *Bot) auditReport(ctx context.Context, req *router.Request, rep advent.Report, start time.Time, err error) {
	e := storage.AuditEntry{
		Action: "broadcast_today",
		Target: rep.Date.String(),
		OK:     rep.Sent(),
		Fail:   rep.Failed(),
	}
	switch {
	case err != nil:
		e.Error = err.Error()
	case !rep.Ran():
		e.Error = string(rep.Skipped)
	}
	b.appendAudit(ctx, req, e, start)
}

// appendAudit is best-effort: a failed audit write never fails the command.
func (b *Bot) appendAudit(ctx context.Context, req *router.Request, e storage.AuditEntry, start time.Time) {
	e.At = time.Now()
	e.ActorID = req.FromID
	e.ActorUsername = req.FromUsername
	e.ChatID = req.Chat.ChatID
	e.TookMS = time.Since(start).Milliseconds()
	if err := b.store.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		req.Logger.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}
