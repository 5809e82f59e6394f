// Package agent orchestrates a user turn: stream the model's reply,
// dispatch requested tools, feed results back, repeat until a terminal
// reply.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CriticalRange/arula-go/internal/llm"
	"github.com/CriticalRange/arula-go/internal/session"
	"github.com/CriticalRange/arula-go/internal/tools"
)

// State is the agent loop's current phase.
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateDispatching
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDispatching:
		return "dispatching"
	case StateCancelling:
		return "cancelling"
	}
	return "unknown"
}

const (
	// DefaultLoopLimit bounds successive tool-use rounds in one turn.
	DefaultLoopLimit = 25

	// DefaultGrace bounds teardown after a cancellation.
	DefaultGrace = 2 * time.Second

	// retryBackoff is the base delay before the single transient retry.
	retryBackoff = 500 * time.Millisecond

	// CancelledNote is the message recorded when a turn is cancelled.
	CancelledNote = "Request cancelled"
)

// Event is one item on a turn's event stream.
type Event struct {
	Type string // "start", "chunk", "tool_start", "tool_result", "done", "error", "cancelled"

	// For chunk events
	Text string

	// For tool events
	ToolID     string
	ToolName   string
	ToolArgs   string
	ToolResult string
	ToolError  bool

	// For done events
	FinalResponse string

	// For error events
	Err error
}

// Config assembles an agent.
type Config struct {
	Backend      llm.Backend
	Registry     *tools.Registry
	Conversation *session.Conversation
	Store        *session.Store // optional autosave target
	Options      llm.Options
	SystemPrompt string
	LoopLimit    int           // 0 = DefaultLoopLimit
	Grace        time.Duration // 0 = DefaultGrace
}

// Agent is the per-session loop. One turn is in flight at a time;
// commits to the conversation happen only on the turn goroutine.
type Agent struct {
	backend  llm.Backend
	registry *tools.Registry
	conv     *session.Conversation
	store    *session.Store
	options  llm.Options

	loopLimit int
	grace     time.Duration

	// Per-session retry budget for transient failures. Consumed across
	// turns, not replenished; only the run goroutine touches it.
	retries    int
	retryDelay time.Duration

	mu         sync.Mutex
	state      State
	cancelTurn context.CancelFunc
}

// New creates an agent. The system prompt, when set and the
// conversation is fresh, becomes the first message.
func New(cfg Config) *Agent {
	a := &Agent{
		backend:    cfg.Backend,
		registry:   cfg.Registry,
		conv:       cfg.Conversation,
		store:      cfg.Store,
		options:    cfg.Options,
		loopLimit:  cfg.LoopLimit,
		grace:      cfg.Grace,
		retries:    1,
		retryDelay: retryBackoff,
	}
	if a.loopLimit <= 0 {
		a.loopLimit = DefaultLoopLimit
	}
	if a.grace <= 0 {
		a.grace = DefaultGrace
	}
	if cfg.SystemPrompt != "" && a.conv.Len() == 0 {
		a.append(llm.Message{Role: llm.RoleSystem, Content: cfg.SystemPrompt})
	}
	return a
}

// Conversation returns the underlying log.
func (a *Agent) Conversation() *session.Conversation {
	return a.conv
}

// State returns the loop's current phase.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Cancel requests cancellation of the in-flight turn. In-flight work is
// torn down cooperatively; the loop reaches idle within the grace
// period.
func (a *Agent) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateIdle || a.cancelTurn == nil {
		return
	}
	a.state = StateCancelling
	a.cancelTurn()
}

// Submit starts one user turn and returns its event stream. The channel
// is closed when the turn reaches a terminal state.
func (a *Agent) Submit(ctx context.Context, text string) <-chan Event {
	events := make(chan Event)

	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		go func() {
			events <- Event{Type: "error", Err: fmt.Errorf("a turn is already in flight")}
			close(events)
		}()
		return events
	}
	turnCtx, cancel := context.WithCancel(ctx)
	a.cancelTurn = cancel
	a.state = StateStreaming
	a.mu.Unlock()

	go a.run(turnCtx, cancel, text, events)
	return events
}

func (a *Agent) run(ctx context.Context, cancel context.CancelFunc, text string, events chan<- Event) {
	defer close(events)
	defer cancel()
	defer a.setState(StateIdle)

	a.append(llm.Message{Role: llm.RoleUser, Content: text})
	events <- Event{Type: "start"}

	round := 0
	for round < a.loopLimit {
		req := llm.Request{
			Messages: a.conv.History(),
			Tools:    a.registry.Advertisement(),
			Options:  a.options,
		}

		stream, err := a.backend.Stream(ctx, req)
		if err != nil {
			serr := asStreamError(err)
			if ctx.Err() != nil {
				a.commitCancelled(events)
				return
			}
			if serr.Transient() && a.retries > 0 {
				a.retries--
				if !sleepOrDone(ctx, a.retryDelay) {
					a.commitCancelled(events)
					return
				}
				a.retryDelay *= 2
				continue
			}
			a.commitError(serr, events)
			return
		}

		var draft strings.Builder
		var calls []llm.ToolCall
		stop := llm.StopComplete
		var endErr *llm.StreamError

		for ev := range stream {
			switch ev.Type {
			case llm.EventText:
				draft.WriteString(ev.Text)
				events <- Event{Type: "chunk", Text: ev.Text}
			case llm.EventEnd:
				stop = ev.Stop
				calls = ev.ToolCalls
				endErr = ev.Err
			}
		}

		switch stop {
		case llm.StopCancelled:
			a.commitCancelled(events)
			return

		case llm.StopError:
			if endErr == nil {
				endErr = &llm.StreamError{Kind: llm.ErrProvider, Message: "stream failed"}
			}
			// A transient mid-stream failure is retried once per
			// session, and only when nothing was streamed yet: a
			// partially-delivered reply must not be silently replayed.
			if endErr.Transient() && a.retries > 0 && draft.Len() == 0 {
				a.retries--
				if !sleepOrDone(ctx, a.retryDelay) {
					a.commitCancelled(events)
					return
				}
				a.retryDelay *= 2
				continue
			}
			a.commitError(endErr, events)
			return

		case llm.StopToolUse:
			a.append(llm.Message{
				Role:      llm.RoleAssistant,
				Content:   draft.String(),
				ToolCalls: calls,
			})

			a.setState(StateDispatching)
			results, cancelled := a.dispatch(ctx, calls, events)
			if cancelled {
				a.commitCancelled(events)
				return
			}

			for i, call := range calls {
				a.append(llm.Message{
					Role:       llm.RoleTool,
					Content:    results[i].Content(),
					ToolCallID: call.ID,
				})
			}

			a.setState(StateStreaming)
			round++
			continue

		default: // complete, length
			final := draft.String()
			a.append(llm.Message{Role: llm.RoleAssistant, Content: final})
			events <- Event{Type: "done", FinalResponse: final}
			return
		}
	}

	// The model kept requesting tools past the bound; end the turn with
	// a terminal note instead of looping forever.
	final := fmt.Sprintf("Stopping: reached the tool loop limit of %d rounds for this request.", a.loopLimit)
	a.append(llm.Message{Role: llm.RoleAssistant, Content: final})
	events <- Event{Type: "done", FinalResponse: final}
}

// dispatch executes the round's tool calls in parallel, all observing
// the turn context, and returns the results indexed in original call
// order regardless of completion order.
func (a *Agent) dispatch(ctx context.Context, calls []llm.ToolCall, events chan<- Event) ([]tools.ToolResult, bool) {
	results := make([]tools.ToolResult, len(calls))

	for _, call := range calls {
		events <- Event{
			Type:     "tool_start",
			ToolID:   call.ID,
			ToolName: call.Function.Name,
			ToolArgs: formatArgs(call),
		}
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c llm.ToolCall) {
			defer wg.Done()
			results[idx] = a.registry.Execute(ctx, c)
		}(i, call)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.setState(StateCancelling)
		// Poll for completion for the grace period; whatever is still
		// running after that is abandoned.
		select {
		case <-done:
		case <-time.After(a.grace):
		}
		return nil, true
	}
	if ctx.Err() != nil {
		return nil, true
	}

	for i, call := range calls {
		events <- Event{
			Type:       "tool_result",
			ToolID:     call.ID,
			ToolName:   call.Function.Name,
			ToolResult: results[i].Content(),
			ToolError:  !results[i].Success,
		}
	}
	return results, false
}

// commitCancelled discards the draft and records the cancellation note.
func (a *Agent) commitCancelled(events chan<- Event) {
	a.append(llm.Message{Role: llm.RoleSystem, Content: CancelledNote})
	events <- Event{Type: "cancelled"}
}

// commitError records a turn-ending failure as an assistant message so
// it is visible in the conversation, with the debug diagnostic appended
// when one was captured.
func (a *Agent) commitError(serr *llm.StreamError, events chan<- Event) {
	content := "Request failed: " + serr.Error() + serr.Diagnostic()
	a.append(llm.Message{Role: llm.RoleAssistant, Content: content})
	events <- Event{Type: "error", Err: serr}
}

func (a *Agent) append(msg llm.Message) {
	a.conv.Append(msg)
	if a.store != nil {
		a.store.Notify()
	}
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateCancelling && s != StateIdle {
		return // cancellation wins until the turn lands back at idle
	}
	a.state = s
	if s == StateIdle {
		a.cancelTurn = nil
	}
}

func asStreamError(err error) *llm.StreamError {
	if serr, ok := err.(*llm.StreamError); ok {
		return serr
	}
	return &llm.StreamError{Kind: llm.ErrNetwork, Message: err.Error()}
}

// sleepOrDone waits for d unless the context ends first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// formatArgs creates a short display string for tool arguments.
func formatArgs(call llm.ToolCall) string {
	args, err := tools.ParseArguments(call.Function.Arguments)
	if err != nil {
		return call.Function.Arguments
	}
	switch call.Function.Name {
	case "run_command":
		if cmd, ok := args["command"].(string); ok {
			return cmd
		}
	case "read_file", "write_file", "edit_file":
		if path, ok := args["path"].(string); ok {
			return path
		}
	case "list_directory":
		if path, ok := args["path"].(string); ok {
			return path
		}
		return "."
	case "glob", "grep":
		if pattern, ok := args["pattern"].(string); ok {
			return pattern
		}
	case "web_fetch":
		if url, ok := args["url"].(string); ok {
			return url
		}
	case "ask_user":
		if q, ok := args["question"].(string); ok {
			return q
		}
	}
	raw, _ := json.Marshal(args)
	return string(raw)
}
