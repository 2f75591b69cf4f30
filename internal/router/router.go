// Package router dispatches runtime messages from the extension to
// handlers by their action name.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/lotas/perfdebug/internal/applog"
	"github.com/lotas/perfdebug/internal/types"
)

// Kind says whether and how a handler's result is sent back.
type Kind int

const (
	// Status messages are fire-and-forget; no reply is sent.
	Status Kind = iota
	// Query handlers reply with a value.
	Query
	// Command handlers perform a side effect and reply with a
	// CommandResult unless they return a value of their own.
	Command
)

func (k Kind) String() string {
	switch k {
	case Status:
		return "status"
	case Query:
		return "query"
	case Command:
		return "command"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sender identifies where a message came from.
type Sender struct {
	Tab       types.TabID
	Window    types.WindowID
	URL       string
	Extension bool // sent by an extension page rather than a content script
}

// Request is the single context every handler receives.
type Request struct {
	Action  string
	ID      string
	Sender  Sender
	Payload json.RawMessage
}

// Decode unmarshals the request payload into dst. An empty payload leaves
// dst untouched.
func (r *Request) Decode(dst any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", r.Action, err)
	}
	return nil
}

// Handler returns a value to reply with, or an error.
type Handler func(ctx context.Context, req *Request) (any, error)

// CommandResult is the default reply of a command.
type CommandResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Reply is the outcome of a dispatch. Respond is false for status
// messages.
type Reply struct {
	Kind    Kind
	Respond bool
	Value   any
	Err     error
}

type route struct {
	kind    Kind
	handler Handler
}

type Router struct {
	mu     sync.RWMutex
	routes map[string]route
}

func New() *Router {
	return &Router{routes: make(map[string]route)}
}

// Register binds action to h. Registering an action twice replaces the
// earlier handler.
func (r *Router) Register(action string, kind Kind, h Handler) {
	r.mu.Lock()
	r.routes[action] = route{kind: kind, handler: h}
	r.mu.Unlock()
}

// Kind returns the kind registered for action.
func (r *Router) Kind(action string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[action]
	return rt.kind, ok
}

// Actions lists the registered action names.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for a := range r.routes {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler for req.Action. ok is false for an action
// nobody registered; that is not an error and yields no reply.
func (r *Router) Dispatch(ctx context.Context, req *Request) (Reply, bool) {
	r.mu.RLock()
	rt, ok := r.routes[req.Action]
	r.mu.RUnlock()
	if !ok {
		return Reply{}, false
	}

	value, err := rt.handler(ctx, req)
	if err != nil {
		applog.Error("router.handler", err, "action", req.Action, "kind", rt.kind, "tab", req.Sender.Tab)
	}

	switch rt.kind {
	case Status:
		return Reply{Kind: Status, Err: err}, true
	case Query:
		if err != nil {
			value = nil
		}
		return Reply{Kind: Query, Respond: true, Value: value, Err: err}, true
	default:
		if err != nil {
			return Reply{Kind: Command, Respond: true, Value: CommandResult{Error: err.Error()}, Err: err}, true
		}
		if value == nil {
			value = CommandResult{Success: true}
		}
		return Reply{Kind: Command, Respond: true, Value: value}, true
	}
}
