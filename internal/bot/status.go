package bot

import (
	"context"
	"fmt"
	"strings"

	"adventbot/internal/transport/telegram/router"
)

const statusAuditLimit = 5

func (b *Bot) cmdStatus(ctx context.Context, req *router.Request) error {
	text, err := b.statusText(ctx)
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, text, plain)
}

func (b *Bot) statusText(ctx context.Context) (string, error) {
	now := b.now()
	loc := b.engine.Location()
	w := b.engine.Window()
	today := b.engine.Today(now)

	var sb strings.Builder
	sb.WriteString("Состояние бота\n")

	state := "неактивно"
	if w.Contains(today) {
		state = "активно"
	}
	fmt.Fprintf(&sb, "Период: %s (%s)\n", w.Human(), state)

	e, ok, err := b.store.GetEntry(ctx, today)
	if err != nil {
		return "", fmt.Errorf("get entry: %w", err)
	}
	entry := "не заполнен"
	if ok {
		entry = "«" + e.Title + "»"
	}
	fmt.Fprintf(&sb, "Сегодня: %s, адвент %s\n", today.Display(), entry)

	next := "не запланирована"
	if b.sched != nil {
		if t := b.sched.NextRun(DailyJobName); !t.IsZero() {
			next = t.In(loc).Format("02.01.2006 15:04 MST")
		}
	}
	fmt.Fprintf(&sb, "Следующая рассылка: %s\n", next)

	total, subscribed, err := b.store.CountSubscribers(ctx)
	if err != nil {
		return "", fmt.Errorf("count subscribers: %w", err)
	}
	fmt.Fprintf(&sb, "Подписчики: %d из %d\n", subscribed, total)
	fmt.Fprintf(&sb, "Хранилище: %s\n", b.store.Driver())

	if s, ok := b.LastBroadcast(); ok {
		fmt.Fprintf(&sb, "Последняя рассылка (%s, %s): ", s.Kind, s.Date)
		if s.Skipped != "" {
			fmt.Fprintf(&sb, "пропущена (%s)\n", s.Skipped)
		} else {
			fmt.Fprintf(&sb, "отправлено %d, ошибок %d, уже получили %d\n", s.Sent, s.Failed, s.AlreadyDelivered)
		}
	}

	audit, err := b.store.RecentAudit(ctx, statusAuditLimit)
	if err != nil {
		return "", fmt.Errorf("recent audit: %w", err)
	}
	if len(audit) > 0 {
		sb.WriteString("\nПоследние действия:\n")
		for _, a := range audit {
			actor := fmt.Sprint(a.ActorID)
			if a.ActorUsername != "" {
				actor = "@" + a.ActorUsername
			}
			line := fmt.Sprintf("%s %s %s %s", a.At.In(loc).Format("02.01 15:04"), actor, a.Action, a.Target)
			if a.Error != "" {
				line += " (" + a.Error + ")"
			}
			sb.WriteString(strings.TrimSpace(line) + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
