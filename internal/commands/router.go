// Package commands answers the bot's slash commands.
package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	kit "oncallbuzzer/internal/transport"
	logx "oncallbuzzer/pkg/logx"
)

// HandlerFunc returns the plain-text reply of a command.
type HandlerFunc func(ctx context.Context, cmd kit.Command) (string, error)

type Command struct {
	Name        string // "/buzzer-stats"
	Description string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Router struct {
	log     logx.Logger
	timeout time.Duration

	mu   sync.RWMutex
	cmds map[string]Command
}

func NewRouter(log logx.Logger, timeout time.Duration) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Router{log: log, timeout: timeout, cmds: map[string]Command{}}
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" && !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}

// Register adds or replaces a command.
func (r *Router) Register(c Command) error {
	c.Name = normalize(c.Name)
	if c.Name == "" || c.Handle == nil {
		return fmt.Errorf("command %q: name and handler are required", c.Name)
	}
	r.mu.Lock()
	r.cmds[c.Name] = c
	r.mu.Unlock()
	return nil
}

// Commands lists the registered commands sorted by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs the command and returns its reply. It is a
// transport.CommandHandler.
func (r *Router) Dispatch(ctx context.Context, cmd kit.Command) (reply string) {
	name := normalize(cmd.Name)
	r.mu.RLock()
	c, ok := r.cmds[name]
	r.mu.RUnlock()
	if !ok {
		return "Unknown command: " + cmd.Name
	}

	timeout := r.timeout
	if c.Timeout > 0 {
		timeout = c.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := r.log.With(logx.String("command", name), logx.String("user", cmd.UserID))
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("command panicked", logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
			reply = "Command failed"
		}
	}()

	start := time.Now()
	out, err := c.Handle(ctx, cmd)
	if err != nil {
		log.Warn("command failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return "Command failed: " + err.Error()
	}
	log.Debug("command handled", logx.Duration("took", time.Since(start)))
	return out
}
