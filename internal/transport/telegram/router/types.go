package router

import (
	"context"
	"time"

	kit "adventbot/internal/transport"
	logx "adventbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Name is the command word without the slash, e.g. "admin_add_day".
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	// Timeout overrides the router default; negative disables it.
	Timeout time.Duration
	// Hidden commands are routed but left out of /help and the menu.
	Hidden bool
	Handle HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string // tokenized arguments, quotes honored
	Payload      string   // raw text after the command word
	ReqID        string
	IsAdmin      bool

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

type Options struct {
	// Workers is the size of the handler pool; 0 means max(2, NumCPU).
	Workers int
	// QueueSize bounds pending handler jobs; 0 means 256.
	QueueSize int
	// DefaultTimeout applies to commands without their own; 0 means 30s.
	DefaultTimeout time.Duration

	// Replies for requests that never reach a handler. Empty disables them.
	UnknownText   string
	ForbiddenText string
	BusyText      string
}
