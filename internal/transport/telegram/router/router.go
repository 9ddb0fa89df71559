package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "adventbot/internal/runtime/supervisor"
	kit "adventbot/internal/transport"
	logx "adventbot/pkg/logx"
)

// Router maps Telegram commands to handlers, enforces the admin allow-list
// and runs handlers on a bounded worker pool.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	opts    Options

	mu     sync.RWMutex
	byName map[string]*Command
	cmds   []Command
	admins map[int64]struct{}

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func New(adapter kit.Adapter, log logx.Logger, opts Options) *Router {
	if opts.Workers <= 0 {
		opts.Workers = max(2, runtime.NumCPU())
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	return &Router{
		log:     log,
		adapter: adapter,
		opts:    opts,
		byName:  map[string]*Command{},
		admins:  map[int64]struct{}{},
		jobs:    make(chan func(), opts.QueueSize),
	}
}

// SetAdmins replaces the admin allow-list. Safe during hot reload.
func (r *Router) SetAdmins(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	r.mu.Lock()
	r.admins = m
	r.mu.Unlock()
}

func (r *Router) IsAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[id]
	return ok
}

// SetCommands replaces the registry and publishes the public commands to the
// Telegram menu when the adapter supports it.
func (r *Router) SetCommands(ctx context.Context, cmds []Command) {
	byName := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		cc := c
		list = append(list, cc)
		byName[name] = &cc
		for _, a := range c.Aliases {
			if a = sanitizeTelegramCommand(a); a != "" {
				if _, exists := byName[a]; !exists {
					byName[a] = &cc
				}
			}
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Access != list[j].Access {
			return list[i].Access < list[j].Access
		}
		return false
	})

	r.mu.Lock()
	r.byName = byName
	r.cmds = list
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(list)
		go func() {
			mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Commands returns the registered commands, public ones first.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.cmds...)
}

func buildMenu(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if c.Access != AccessEveryone || c.Hidden {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
	}
	return out
}

// HelpText lists the commands visible to the caller.
func (r *Router) HelpText(isAdmin bool, title, adminTitle string) string {
	var pub, adm []string
	for _, c := range r.Commands() {
		if c.Hidden {
			continue
		}
		line := "/" + c.Name
		if u := strings.TrimSpace(c.Usage); u != "" {
			line = u
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " — " + d
		}
		if c.Access == AccessAdmin {
			adm = append(adm, line)
		} else {
			pub = append(pub, line)
		}
	}
	lines := append([]string{title}, pub...)
	if isAdmin && len(adm) > 0 {
		lines = append(lines, "", adminTitle)
		lines = append(lines, adm...)
	}
	return strings.Join(lines, "\n")
}

// Run dispatches updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.setRunning(sup, true)
	r.log.Info("command dispatcher started", logx.Int("workers", r.opts.Workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := range r.opts.Workers {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		r.setRunning(nil, false)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

// Active reports whether the dispatcher is running.
func (r *Router) Active() bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.running
}

func (r *Router) setRunning(sup *rtsup.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

func (r *Router) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	word, payload, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	r.mu.RLock()
	c, found := r.byName[word]
	r.mu.RUnlock()
	if !found {
		// group chats may carry commands meant for other bots
		if !msg.IsGroup {
			r.reply(ctx, chat, r.opts.UnknownText)
		}
		return
	}
	cmd := *c

	isAdmin := r.IsAdmin(msg.FromID)
	if cmd.Access == AccessAdmin && !isAdmin {
		r.log.Info("admin command refused", logx.String("cmd", cmd.Name), logx.Int64("from_id", msg.FromID))
		r.reply(ctx, chat, r.opts.ForbiddenText)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         tokenizeCommandLine(payload),
		Payload:      payload,
		ReqID:        rid,
		IsAdmin:      isAdmin,
		Adapter:      r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = r.opts.DefaultTimeout
	}
	final := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout))

	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		r.log.Warn("command queue full", logx.String("cmd", cmd.Name))
		r.reply(ctx, chat, r.opts.BusyText)
	}
}

func (r *Router) reply(ctx context.Context, chat kit.ChatTarget, text string) {
	if text == "" {
		return
	}
	if _, err := r.adapter.SendText(ctx, chat, text, nil); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", chat.ChatID), logx.Err(err))
	}
}
