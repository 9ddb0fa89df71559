package router

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	kit "adventbot/internal/transport"
	logx "adventbot/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
	menu []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text}}
}

// startRouter runs the dispatcher and returns the update channel plus a
// channel receiving every handled request.
func startRouter(t *testing.T, ad *fakeAdapter, admins []int64) (chan kit.Update, chan *Request) {
	t.Helper()
	r := New(ad, logx.Nop(), Options{Workers: 2, UnknownText: "unknown", ForbiddenText: "forbidden"})
	r.SetAdmins(admins)

	handled := make(chan *Request, 8)
	h := func(_ context.Context, req *Request) error {
		handled <- req
		return nil
	}
	r.SetCommands(context.Background(), []Command{
		{Name: "today", Description: "today", Handle: h},
		{Name: "admin_add_day", Aliases: []string{"add"}, Access: AccessAdmin, Handle: h},
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("boom") }},
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates, handled
}

func waitRequest(t *testing.T, ch <-chan *Request) *Request {
	t.Helper()
	select {
	case req := <-ch:
		return req
	case <-time.After(2 * time.Second):
		t.Fatalf("handler was not called")
		return nil
	}
}

func TestRouterPassesPayloadAndArgs(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	updates, handled := startRouter(t, ad, []int64{7})

	updates <- msg(7, "/admin_add_day@advent_bot 2025-12-26 | Game Night | Play \"charades\"")
	req := waitRequest(t, handled)
	if req.Command != "admin_add_day" || !req.IsAdmin {
		t.Fatalf("req=%+v", req)
	}
	if req.Payload != "2025-12-26 | Game Night | Play \"charades\"" {
		t.Fatalf("payload=%q", req.Payload)
	}
	if req.Args[0] != "2025-12-26" || req.Args[len(req.Args)-1] != "charades" {
		t.Fatalf("args=%q", req.Args)
	}

	updates <- msg(7, "/ADD x")
	if req := waitRequest(t, handled); req.Command != "admin_add_day" || req.Payload != "x" {
		t.Fatalf("alias req=%+v", req)
	}
}

func TestRouterRefusesNonAdmin(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	updates, handled := startRouter(t, ad, []int64{7})

	updates <- msg(8, "/admin_add_day 2025-12-26 | a | b")
	updates <- msg(8, "/today")
	req := waitRequest(t, handled)
	if req.Command != "today" || req.IsAdmin {
		t.Fatalf("req=%+v", req)
	}
	select {
	case extra := <-handled:
		t.Fatalf("admin command ran for non-admin: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
	if got := ad.messages(); !slices.Contains(got, "forbidden") {
		t.Fatalf("sent=%q, want refusal", got)
	}
}

func TestRouterUnknownAndPanic(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	updates, handled := startRouter(t, ad, nil)

	updates <- msg(1, "/nope")
	updates <- msg(1, "/boom")
	updates <- msg(1, "plain text")
	updates <- msg(1, "/today")
	if req := waitRequest(t, handled); req.Command != "today" {
		t.Fatalf("req=%+v", req)
	}
	if got := ad.messages(); !slices.Equal(got, []string{"unknown"}) {
		t.Fatalf("sent=%q", got)
	}
}

func TestSetAdminsReplacesList(t *testing.T) {
	t.Parallel()

	r := New(&fakeAdapter{}, logx.Nop(), Options{})
	r.SetAdmins([]int64{1, 2})
	if !r.IsAdmin(1) || r.IsAdmin(3) {
		t.Fatalf("unexpected admin set")
	}
	r.SetAdmins([]int64{3})
	if r.IsAdmin(1) || !r.IsAdmin(3) {
		t.Fatalf("admins not replaced")
	}
}

func TestHelpAndMenuHideAdminCommands(t *testing.T) {
	t.Parallel()

	h := func(context.Context, *Request) error { return nil }
	cmds := []Command{
		{Name: "admin_list_days", Description: "список", Access: AccessAdmin, Handle: h},
		{Name: "today", Description: "сегодня", Handle: h},
		{Name: "secret", Hidden: true, Handle: h},
	}
	menu := buildMenu(cmds)
	if len(menu) != 1 || menu[0].Command != "today" {
		t.Fatalf("menu=%+v", menu)
	}

	r := New(&fakeAdapter{}, logx.Nop(), Options{})
	r.SetCommands(context.Background(), cmds)
	pub := r.HelpText(false, "Команды:", "Админ:")
	if pub != "Команды:\n/today — сегодня" {
		t.Fatalf("public help=%q", pub)
	}
	adm := r.HelpText(true, "Команды:", "Админ:")
	if adm != "Команды:\n/today — сегодня\n\nАдмин:\n/admin_list_days — список" {
		t.Fatalf("admin help=%q", adm)
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, word, payload string
		ok                bool
	}{
		{in: "/today", word: "today", ok: true},
		{in: "  /Today@bot  ", word: "today", ok: true},
		{in: "/admin_show_day 2025-12-26", word: "admin_show_day", payload: "2025-12-26", ok: true},
		{in: "/add\n2025-12-26 | a | b\nc", word: "add", payload: "2025-12-26 | a | b\nc", ok: true},
		{in: "hello", ok: false},
		{in: "/", ok: false},
	}
	for _, tc := range tests {
		word, payload, ok := splitCommand(tc.in)
		if word != tc.word || payload != tc.payload || ok != tc.ok {
			t.Fatalf("splitCommand(%q)=(%q,%q,%v)", tc.in, word, payload, ok)
		}
	}
}

func TestTokenizeAndSanitize(t *testing.T) {
	t.Parallel()

	if got := tokenizeCommandLine(`a "b c" 'd' e\ f`); !slices.Equal(got, []string{"a", "b c", "d", "e f"}) {
		t.Fatalf("tokens=%q", got)
	}
	for in, want := range map[string]string{
		"Admin-Add Day": "admin_add_day",
		"__x__":         "x",
		"день":          "",
	} {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q)=%q, want %q", in, got, want)
		}
	}
}
