package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CriticalRange/arula-go/internal/llm"
	"github.com/CriticalRange/arula-go/internal/session"
	"github.com/CriticalRange/arula-go/internal/tools"
)

// scriptedTurn describes what the fake backend does for one Stream call.
type scriptedTurn struct {
	openErr          error             // returned from Stream instead of a channel
	events           []llm.StreamEvent // non-terminal events to emit
	end              llm.StreamEvent   // terminal event
	blockUntilCancel bool              // emit events, then hold until ctx is done
}

// scriptedBackend replays turns in order, repeating the last one when
// the script runs out. It records every request it sees.
type scriptedBackend struct {
	mu       sync.Mutex
	turns    []scriptedTurn
	idx      int
	requests []llm.Request
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	turn := b.turns[b.idx]
	if b.idx < len(b.turns)-1 {
		b.idx++
	}
	b.mu.Unlock()

	if turn.openErr != nil {
		return nil, turn.openErr
	}

	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)
		ch <- llm.StreamEvent{Type: llm.EventStart}
		for _, ev := range turn.events {
			ch <- ev
		}
		if turn.blockUntilCancel {
			<-ctx.Done()
			ch <- llm.StreamEvent{Type: llm.EventEnd, Stop: llm.StopCancelled}
			return
		}
		ch <- turn.end
	}()
	return ch, nil
}

func (b *scriptedBackend) requestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func textEnd(stop llm.StopReason) llm.StreamEvent {
	return llm.StreamEvent{Type: llm.EventEnd, Stop: stop}
}

func toolUseEnd(calls ...llm.ToolCall) llm.StreamEvent {
	return llm.StreamEvent{Type: llm.EventEnd, Stop: llm.StopToolUse, ToolCalls: calls}
}

func textDelta(s string) llm.StreamEvent {
	return llm.StreamEvent{Type: llm.EventText, Text: s}
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}}
}

// slowTool returns a fixed payload after a delay, for completion-order
// tests.
type slowTool struct {
	tools.BaseTool
	delay   time.Duration
	payload string
	started chan struct{}
}

func newSlowTool(name string, delay time.Duration, payload string) *slowTool {
	return &slowTool{
		delay:   delay,
		payload: payload,
		started: make(chan struct{}, 8),
		BaseTool: tools.BaseTool{Def: tools.ToolDefinition{
			Name:        name,
			Description: "test tool",
			Parameters:  &tools.JSONSchema{Type: "object"},
		}},
	}
}

func (t *slowTool) Execute(ctx context.Context, args map[string]any) tools.ToolResult {
	t.started <- struct{}{}
	select {
	case <-time.After(t.delay):
	case <-ctx.Done():
		return tools.Failure(tools.ErrKindExecution, "cancelled")
	}
	return tools.ToolResult{Success: true, Output: t.payload}
}

func newTestAgent(t *testing.T, backend llm.Backend, reg *tools.Registry, loopLimit int) *Agent {
	t.Helper()
	if reg == nil {
		reg = tools.NewRegistry()
	}
	return New(Config{
		Backend:      backend,
		Registry:     reg,
		Conversation: session.NewConversation(backend.Name()),
		LoopLimit:    loopLimit,
		Grace:        200 * time.Millisecond,
	})
}

func drain(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func rolesOf(msgs []llm.Message) []string {
	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	return roles
}

func TestPlainTextRoundTrip(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{events: []llm.StreamEvent{textDelta("Hi!")}, end: textEnd(llm.StopComplete)},
	}}
	ag := newTestAgent(t, backend, nil, 0)

	events := drain(ag.Submit(context.Background(), "Hello"))

	last := events[len(events)-1]
	if last.Type != "done" || last.FinalResponse != "Hi!" {
		t.Errorf("final event = %+v, want done with %q", last, "Hi!")
	}

	history := ag.Conversation().History()
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want [user, assistant]", len(history))
	}
	if history[0].Role != llm.RoleUser || history[0].Content != "Hello" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != llm.RoleAssistant || history[1].Content != "Hi!" {
		t.Errorf("history[1] = %+v", history[1])
	}
	if ag.State() != StateIdle {
		t.Errorf("state = %v, want idle", ag.State())
	}
}

func TestSingleToolCall(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{end: toolUseEnd(toolCall("call_1", "lister", `{"path":"/tmp"}`))},
		{events: []llm.StreamEvent{textDelta("I see two files.")}, end: textEnd(llm.StopComplete)},
	}}

	reg := tools.NewRegistry()
	lister := newSlowTool("lister", 0, `{"entries":["a","b"]}`)
	if err := reg.Register(lister); err != nil {
		t.Fatal(err)
	}

	ag := newTestAgent(t, backend, reg, 0)
	drain(ag.Submit(context.Background(), "list files in /tmp"))

	history := ag.Conversation().History()
	wantRoles := []string{"user", "assistant", "tool", "assistant"}
	gotRoles := rolesOf(history)
	if len(gotRoles) != len(wantRoles) {
		t.Fatalf("roles = %v, want %v", gotRoles, wantRoles)
	}
	for i := range wantRoles {
		if gotRoles[i] != wantRoles[i] {
			t.Fatalf("roles = %v, want %v", gotRoles, wantRoles)
		}
	}

	if len(history[1].ToolCalls) != 1 || history[1].Content != "" {
		t.Errorf("assistant turn = %+v, want 1 tool call and empty text", history[1])
	}
	if history[2].ToolCallID != "call_1" {
		t.Errorf("tool message ref = %q, want call_1", history[2].ToolCallID)
	}
	if history[2].Content != `{"entries":["a","b"]}` {
		t.Errorf("tool message content = %q", history[2].Content)
	}
	if history[3].Content != "I see two files." {
		t.Errorf("final reply = %q", history[3].Content)
	}
}

func TestParallelToolCalls_CommitOrder(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{end: toolUseEnd(
			toolCall("call_a", "slow_read", `{}`),
			toolCall("call_b", "fast_read", `{}`),
		)},
		{events: []llm.StreamEvent{textDelta("done")}, end: textEnd(llm.StopComplete)},
	}}

	reg := tools.NewRegistry()
	slow := newSlowTool("slow_read", 150*time.Millisecond, "A")
	fast := newSlowTool("fast_read", 0, "B")
	if err := reg.Register(slow); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(fast); err != nil {
		t.Fatal(err)
	}

	ag := newTestAgent(t, backend, reg, 0)
	start := time.Now()
	drain(ag.Submit(context.Background(), "read both"))
	elapsed := time.Since(start)

	history := ag.Conversation().History()
	// [user, assistant, tool, tool, assistant]
	if len(history) != 5 {
		t.Fatalf("history roles = %v", rolesOf(history))
	}
	if history[2].ToolCallID != "call_a" || history[2].Content != "A" {
		t.Errorf("first tool message = %+v, want call_a/A despite finishing last", history[2])
	}
	if history[3].ToolCallID != "call_b" || history[3].Content != "B" {
		t.Errorf("second tool message = %+v, want call_b/B", history[3])
	}

	// Both tools must have started before the slow one finished.
	if elapsed > 400*time.Millisecond {
		t.Errorf("dispatch took %v, tools do not appear to run in parallel", elapsed)
	}
}

func TestParallelToolCalls_OneFailure(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{end: toolUseEnd(
			toolCall("call_1", "fast_read", `{}`),
			toolCall("call_2", "missing_tool", `{}`),
			toolCall("call_3", "fast_read", `{}`),
		)},
		{events: []llm.StreamEvent{textDelta("recovered")}, end: textEnd(llm.StopComplete)},
	}}

	reg := tools.NewRegistry()
	if err := reg.Register(newSlowTool("fast_read", 0, "ok")); err != nil {
		t.Fatal(err)
	}

	ag := newTestAgent(t, backend, reg, 0)
	drain(ag.Submit(context.Background(), "go"))

	history := ag.Conversation().History()
	// [user, assistant, tool x3, assistant]
	if len(history) != 6 {
		t.Fatalf("history roles = %v", rolesOf(history))
	}
	if history[2].Content != "ok" || history[4].Content != "ok" {
		t.Error("successful tools should still commit around the failure")
	}
	if !strings.Contains(history[3].Content, "unknown_tool") {
		t.Errorf("failed call content = %q, want unknown_tool error payload", history[3].Content)
	}
	if history[3].ToolCallID != "call_2" {
		t.Errorf("failure committed out of order: %+v", history[3])
	}
}

func TestUnknownTool_Payload(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{end: toolUseEnd(toolCall("call_1", "launch_missile", `{}`))},
		{events: []llm.StreamEvent{textDelta("sorry")}, end: textEnd(llm.StopComplete)},
	}}
	ag := newTestAgent(t, backend, nil, 0)
	drain(ag.Submit(context.Background(), "do it"))

	history := ag.Conversation().History()
	var payload struct {
		Error struct {
			Kind string `json:"kind"`
			Name string `json:"name"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(history[2].Content), &payload); err != nil {
		t.Fatalf("tool message is not structured: %q", history[2].Content)
	}
	if payload.Error.Kind != "unknown_tool" || payload.Error.Name != "launch_missile" {
		t.Errorf("payload = %+v", payload)
	}
	if history[len(history)-1].Content != "sorry" {
		t.Error("loop should continue so the model can recover")
	}
}

func TestLoopLimit(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{end: toolUseEnd(toolCall("call_x", "pinger", `{}`))},
	}}
	reg := tools.NewRegistry()
	if err := reg.Register(newSlowTool("pinger", 0, "pong")); err != nil {
		t.Fatal(err)
	}

	const limit = 3
	ag := newTestAgent(t, backend, reg, limit)
	events := drain(ag.Submit(context.Background(), "loop forever"))

	if backend.requestCount() != limit {
		t.Errorf("made %d requests, want exactly %d", backend.requestCount(), limit)
	}

	history := ag.Conversation().History()
	last := history[len(history)-1]
	if last.Role != llm.RoleAssistant || !strings.Contains(last.Content, "tool loop limit") {
		t.Errorf("last message = %+v, want terminal loop-limit note", last)
	}
	if events[len(events)-1].Type != "done" {
		t.Errorf("final event = %+v, want done", events[len(events)-1])
	}
	if ag.State() != StateIdle {
		t.Errorf("state = %v, want idle", ag.State())
	}
}

func TestCancelMidStream(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{events: []llm.StreamEvent{textDelta("partial")}, blockUntilCancel: true},
	}}
	ag := newTestAgent(t, backend, nil, 0)

	events := ag.Submit(context.Background(), "Hello")
	var collected []Event
	for ev := range events {
		collected = append(collected, ev)
		if ev.Type == "chunk" {
			ag.Cancel()
		}
	}

	last := collected[len(collected)-1]
	if last.Type != "cancelled" {
		t.Fatalf("final event = %+v, want cancelled", last)
	}

	history := ag.Conversation().History()
	// [user, cancellation note] — no assistant draft committed.
	if len(history) != 2 {
		t.Fatalf("history roles = %v, want user + note", rolesOf(history))
	}
	for _, msg := range history {
		if msg.Role == llm.RoleAssistant {
			t.Errorf("partial assistant draft was committed: %+v", msg)
		}
	}
	if history[1].Content != CancelledNote {
		t.Errorf("note = %q, want %q", history[1].Content, CancelledNote)
	}
	if ag.State() != StateIdle {
		t.Errorf("state = %v, want idle", ag.State())
	}
}

func TestCancelDuringDispatch(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{end: toolUseEnd(toolCall("call_1", "sleeper", `{}`))},
	}}
	reg := tools.NewRegistry()
	sleeper := newSlowTool("sleeper", 10*time.Second, "never")
	if err := reg.Register(sleeper); err != nil {
		t.Fatal(err)
	}

	ag := newTestAgent(t, backend, reg, 0)
	events := ag.Submit(context.Background(), "run it")

	go func() {
		<-sleeper.started
		ag.Cancel()
	}()

	start := time.Now()
	collected := drain(events)
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Errorf("teardown took %v, want within the grace period", elapsed)
	}
	if collected[len(collected)-1].Type != "cancelled" {
		t.Errorf("final event = %+v, want cancelled", collected[len(collected)-1])
	}

	history := ag.Conversation().History()
	for _, msg := range history {
		if msg.Role == llm.RoleTool {
			t.Errorf("tool result committed after cancellation: %+v", msg)
		}
	}
	if ag.State() != StateIdle {
		t.Errorf("state = %v, want idle", ag.State())
	}
}

func TestTransientRetry(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{openErr: &llm.StreamError{Kind: llm.ErrHTTPStatus, Status: 503, Message: "overloaded"}},
		{events: []llm.StreamEvent{textDelta("Hi!")}, end: textEnd(llm.StopComplete)},
	}}
	ag := newTestAgent(t, backend, nil, 0)

	events := drain(ag.Submit(context.Background(), "Hello"))

	for _, ev := range events {
		if ev.Type == "error" {
			t.Errorf("error surfaced despite successful retry: %+v", ev)
		}
	}

	history := ag.Conversation().History()
	if len(history) != 2 || history[1].Content != "Hi!" {
		t.Errorf("history = %v, want only the successful turn", rolesOf(history))
	}
	if backend.requestCount() != 2 {
		t.Errorf("requests = %d, want 2 (original + one retry)", backend.requestCount())
	}
}

func TestRetryBudgetIsPerSession(t *testing.T) {
	transient := &llm.StreamError{Kind: llm.ErrHTTPStatus, Status: 503, Message: "overloaded"}
	backend := &scriptedBackend{turns: []scriptedTurn{
		{openErr: transient},
		{events: []llm.StreamEvent{textDelta("Hi!")}, end: textEnd(llm.StopComplete)},
		{openErr: transient},
	}}
	ag := newTestAgent(t, backend, nil, 0)

	// Turn 1 consumes the session's only retry.
	drain(ag.Submit(context.Background(), "one"))
	if backend.requestCount() != 2 {
		t.Fatalf("turn 1 made %d requests, want 2", backend.requestCount())
	}

	// Turn 2 hits another transient failure; the budget is spent, so it
	// surfaces without a retry.
	events := drain(ag.Submit(context.Background(), "two"))
	if backend.requestCount() != 3 {
		t.Errorf("turn 2 made %d total requests, want 3 (no fresh retry budget)", backend.requestCount())
	}
	last := events[len(events)-1]
	if last.Type != "error" {
		t.Errorf("final event = %+v, want error", last)
	}
}

func TestAuthErrorNoRetry(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{openErr: &llm.StreamError{Kind: llm.ErrHTTPStatus, Status: 401, Message: "bad key"}},
		{events: []llm.StreamEvent{textDelta("never")}, end: textEnd(llm.StopComplete)},
	}}
	ag := newTestAgent(t, backend, nil, 0)

	events := drain(ag.Submit(context.Background(), "Hello"))

	if backend.requestCount() != 1 {
		t.Errorf("requests = %d, want 1 (no retry on auth failure)", backend.requestCount())
	}
	last := events[len(events)-1]
	if last.Type != "error" {
		t.Errorf("final event = %+v, want error", last)
	}

	history := ag.Conversation().History()
	final := history[len(history)-1]
	if final.Role != llm.RoleAssistant || !strings.Contains(final.Content, "bad key") {
		t.Errorf("failure should end the turn with one assistant message, got %+v", final)
	}
}

func TestEmptyResponse(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{end: textEnd(llm.StopComplete)},
	}}
	ag := newTestAgent(t, backend, nil, 0)
	drain(ag.Submit(context.Background(), "Hello"))

	history := ag.Conversation().History()
	if len(history) != 2 {
		t.Fatalf("history roles = %v", rolesOf(history))
	}
	if history[1].Role != llm.RoleAssistant || history[1].Content != "" {
		t.Errorf("want a single empty assistant message, got %+v", history[1])
	}
}

func TestToolRefsAlwaysResolve(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{end: toolUseEnd(toolCall("call_1", "fast_read", `{}`), toolCall("call_2", "fast_read", `{}`))},
		{end: toolUseEnd(toolCall("call_3", "fast_read", `{}`))},
		{events: []llm.StreamEvent{textDelta("done")}, end: textEnd(llm.StopComplete)},
	}}
	reg := tools.NewRegistry()
	if err := reg.Register(newSlowTool("fast_read", 0, "ok")); err != nil {
		t.Fatal(err)
	}

	ag := newTestAgent(t, backend, reg, 0)
	drain(ag.Submit(context.Background(), "go"))

	known := map[string]bool{}
	for _, msg := range ag.Conversation().History() {
		for _, tc := range msg.ToolCalls {
			known[tc.ID] = true
		}
		if msg.Role == llm.RoleTool {
			if !known[msg.ToolCallID] {
				t.Errorf("tool message references unknown call id %q", msg.ToolCallID)
			}
		}
	}
}

func TestSubmitWhileBusy(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{blockUntilCancel: true},
	}}
	ag := newTestAgent(t, backend, nil, 0)

	first := ag.Submit(context.Background(), "one")
	// Wait until the turn is actually streaming.
	<-first // start event

	second := drain(ag.Submit(context.Background(), "two"))
	if len(second) != 1 || second[0].Type != "error" {
		t.Errorf("second submit = %+v, want a single error event", second)
	}

	ag.Cancel()
	drain(first)
}

func TestSystemPromptSeedsConversation(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedTurn{
		{events: []llm.StreamEvent{textDelta("ok")}, end: textEnd(llm.StopComplete)},
	}}
	reg := tools.NewRegistry()
	ag := New(Config{
		Backend:      backend,
		Registry:     reg,
		Conversation: session.NewConversation("scripted"),
		SystemPrompt: "be helpful",
	})

	drain(ag.Submit(context.Background(), "hi"))

	history := ag.Conversation().History()
	if history[0].Role != llm.RoleSystem || history[0].Content != "be helpful" {
		t.Errorf("history[0] = %+v, want the system prompt", history[0])
	}
}
