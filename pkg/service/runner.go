package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flotilla-dev/flotilla/pkg/agent"
	"github.com/flotilla-dev/flotilla/pkg/compose"
	"github.com/flotilla-dev/flotilla/pkg/sink"
	"github.com/flotilla-dev/flotilla/pkg/trigger"
)

// State is the lifecycle state of one service runner.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

// Router delivers a finished run's result to the service's sink.
type Router interface {
	Route(ctx context.Context, service, runID string, result agent.RunResult) sink.DeliveryRecord
}

// Triggers is the runner-facing surface of a trigger dispatcher.
type Triggers interface {
	StartAll(onEvent trigger.Handler) error
	Running() int
	StopAll(timeout time.Duration)
}

// AuditLog records finished runs. Implementations never return errors;
// failures are swallowed and logged.
type AuditLog interface {
	LogRun(ctx context.Context, service, runID string, triggerType trigger.Type, result agent.RunResult)
}

// Runner wraps one configured agent service. It consumes events from
// its triggers and its inbound delegation queue on a single goroutine,
// executing strictly one event at a time in FIFO order.
type Runner struct {
	def        compose.Service
	agent      agent.Agent
	dispatcher Triggers
	router     Router
	audit      AuditLog

	mu    sync.Mutex
	state State
	queue *eventQueue
	done  chan struct{}
	err   error
}

// NewRunner builds a runner; nothing starts until Start.
func NewRunner(def compose.Service, ag agent.Agent, dispatcher Triggers, router Router, audit AuditLog) *Runner {
	return &Runner{
		def:        def,
		agent:      ag,
		dispatcher: dispatcher,
		router:     router,
		audit:      audit,
		state:      StateStopped,
	}
}

// Name returns the service name.
func (r *Runner) Name() string { return r.def.Name }

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err reports why the event loop died, if it did.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Restart returns the configured restart policy.
func (r *Runner) Restart() compose.RestartPolicy {
	return r.def.Restart
}

// Done is closed when the event loop goroutine exits.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Start brings the service up: triggers first, then the event loop.
// Individual trigger start failures are logged and do not fail the
// service; it can still receive delegated events.
func (r *Runner) Start() error {
	r.mu.Lock()
	if r.state != StateStopped && r.state != StateFailed {
		r.mu.Unlock()
		return fmt.Errorf("service %q already started", r.def.Name)
	}
	r.state = StateStarting
	r.queue = newEventQueue()
	r.done = make(chan struct{})
	r.err = nil
	queue := r.queue
	done := r.done
	r.mu.Unlock()

	if err := r.dispatcher.StartAll(r.enqueue); err != nil {
		slog.Warn("Some triggers failed to start", "service", r.def.Name, "error", err)
	}

	go r.loop(queue, done)

	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()

	slog.Info("Service started", "service", r.def.Name, "triggers", r.dispatcher.Running())
	return nil
}

// Relaunch restarts the event loop after a failure without touching the
// triggers, which keep running across restarts.
func (r *Runner) Relaunch() error {
	r.mu.Lock()
	if r.state != StateFailed {
		r.mu.Unlock()
		return fmt.Errorf("service %q is %s, not failed", r.def.Name, r.state)
	}
	r.queue = newEventQueue()
	r.done = make(chan struct{})
	r.err = nil
	queue := r.queue
	done := r.done
	r.state = StateRunning
	r.mu.Unlock()

	go r.loop(queue, done)
	slog.Info("Service restarted", "service", r.def.Name)
	return nil
}

// MarkFailed transitions to the failed state after the loop died.
func (r *Runner) MarkFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning || r.state == StateStarting {
		r.state = StateFailed
	}
}

// enqueue is the trigger handler: it hands an event to the single
// consumer goroutine and returns immediately.
func (r *Runner) enqueue(event trigger.Event) {
	r.mu.Lock()
	queue := r.queue
	state := r.state
	r.mu.Unlock()

	if queue == nil || (state != StateRunning && state != StateStarting) {
		slog.Debug("Dropping event for inactive service", "service", r.def.Name, "type", event.Type)
		return
	}
	queue.Push(event)
}

// Deliver implements sink.Inbox for delegated events.
func (r *Runner) Deliver(event trigger.Event) bool {
	r.mu.Lock()
	queue := r.queue
	state := r.state
	r.mu.Unlock()

	if queue == nil || (state != StateRunning && state != StateStarting) {
		return false
	}
	return queue.Push(event)
}

// loop drains the inbound queue in FIFO order. A failure inside one
// event's execution is contained; only a crash of the loop itself is a
// service failure subject to the restart policy.
func (r *Runner) loop(queue *eventQueue, done chan struct{}) {
	defer close(done)
	defer func() {
		if p := recover(); p != nil {
			r.mu.Lock()
			r.err = fmt.Errorf("service loop crashed: %v", p)
			r.mu.Unlock()
			slog.Error("Service loop crashed", "service", r.def.Name, "panic", p)
		}
	}()

	for {
		event, ok := queue.Pop()
		if !ok {
			return
		}
		r.execute(event)
	}
}

// execute runs one event through the agent, then replies/audits/routes.
// Chat events reply to the originating channel before any audit or sink
// dispatch; latency to the human channel takes priority.
func (r *Runner) execute(event trigger.Event) {
	runID := uuid.New().String()
	start := time.Now()
	ctx := context.Background()

	result := r.runAgent(ctx, event)

	if event.Type == trigger.TypeChat && event.Reply != nil {
		if err := event.Reply.Send(result.Output); err != nil {
			slog.Error("Failed to send chat reply", "service", r.def.Name, "run_id", runID, "error", err)
		}
	}

	if r.audit != nil {
		r.audit.LogRun(ctx, r.def.Name, runID, event.Type, result)
	}
	if r.router != nil {
		r.router.Route(ctx, r.def.Name, runID, result)
	}

	slog.Info("Run finished",
		"service", r.def.Name,
		"run_id", runID,
		"trigger", event.Type,
		"success", result.Success,
		"duration", time.Since(start).Round(time.Millisecond))
}

// runAgent invokes the agent, containing panics as failed results so
// the service loop keeps going with the next queued event.
func (r *Runner) runAgent(ctx context.Context, event trigger.Event) (result agent.RunResult) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Agent execution panicked", "service", r.def.Name, "panic", p)
			result = agent.Failure(fmt.Sprintf("execution panicked: %v", p))
		}
	}()

	// Chat events always use direct execution.
	autonomous := r.def.Autonomous && event.Type != trigger.TypeChat
	return r.agent.Run(ctx, event.Prompt, autonomous)
}

// Stop requests cessation of new event intake and waits for the loop to
// finish its in-flight execution. The timeout is a single budget shared
// by the trigger join and the loop join. It never aborts a running
// agent call.
func (r *Runner) Stop(timeout time.Duration) {
	r.mu.Lock()
	if r.state != StateRunning && r.state != StateStarting && r.state != StateFailed {
		r.mu.Unlock()
		return
	}
	wasFailed := r.state == StateFailed
	r.state = StateStopping
	queue := r.queue
	done := r.done
	r.mu.Unlock()

	deadline := time.Now().Add(timeout)
	r.dispatcher.StopAll(timeout)
	if queue != nil {
		queue.Close()
	}

	if done != nil && !wasFailed {
		select {
		case <-done:
		case <-time.After(time.Until(deadline)):
			slog.Warn("Service loop did not stop within timeout", "service", r.def.Name)
		}
	}

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()
	slog.Info("Service stopped", "service", r.def.Name)
}
