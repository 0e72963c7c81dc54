package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flotilla-dev/flotilla/pkg/agent"
	"github.com/flotilla-dev/flotilla/pkg/compose"
	"github.com/flotilla-dev/flotilla/pkg/sink"
	"github.com/flotilla-dev/flotilla/pkg/trigger"
)

type recordedCall struct {
	kind    string // "agent", "reply", "audit", "route"
	prompt  string
	autonom bool
}

// callLog records the order of collaborator invocations.
type callLog struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (l *callLog) add(call recordedCall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]string, len(l.calls))
	for i, c := range l.calls {
		kinds[i] = c.kind
	}
	return kinds
}

func (l *callLog) snapshot() []recordedCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedCall(nil), l.calls...)
}

type logRouter struct{ log *callLog }

func (r *logRouter) Route(_ context.Context, service, runID string, _ agent.RunResult) sink.DeliveryRecord {
	r.log.add(recordedCall{kind: "route"})
	return sink.DeliveryRecord{Source: service, RunID: runID, Status: sink.StatusFiltered, Time: time.Now()}
}

type logAudit struct{ log *callLog }

func (a *logAudit) LogRun(context.Context, string, string, trigger.Type, agent.RunResult) {
	a.log.add(recordedCall{kind: "audit"})
}

type logReply struct{ log *callLog }

func (r *logReply) Send(string) error {
	r.log.add(recordedCall{kind: "reply"})
	return nil
}

func emptyDispatcher(t *testing.T, name string) *trigger.Dispatcher {
	t.Helper()
	d, err := trigger.NewDispatcher(trigger.NewRegistry(), name, nil)
	require.NoError(t, err)
	return d
}

func newTestRunner(t *testing.T, def compose.Service, ag agent.Agent, log *callLog) *Runner {
	t.Helper()
	if def.Name == "" {
		def.Name = "svc"
	}
	r := NewRunner(def, ag, emptyDispatcher(t, def.Name), &logRouter{log}, &logAudit{log})
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop(time.Second) })
	return r
}

func waitCalls(t *testing.T, log *callLog, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(log.snapshot()) >= want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRunnerProcessesEventsInFIFOOrder(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	ag := agent.Func(func(_ context.Context, prompt string, autonomous bool) agent.RunResult {
		log.add(recordedCall{kind: "agent", prompt: prompt, autonom: autonomous})
		return agent.RunResult{Output: prompt, Success: true}
	})
	r := newTestRunner(t, compose.Service{}, ag, log)

	for _, prompt := range []string{"first", "second", "third"} {
		require.True(t, r.Deliver(trigger.NewEvent(trigger.TypeDelegate, prompt, nil)))
	}

	waitCalls(t, log, 9) // 3 × (agent, audit, route)
	var prompts []string
	for _, call := range log.snapshot() {
		if call.kind == "agent" {
			prompts = append(prompts, call.prompt)
		}
	}
	assert.Equal(t, []string{"first", "second", "third"}, prompts)
}

func TestRunnerChatRepliesBeforeAuditAndSink(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	ag := agent.Func(func(context.Context, string, bool) agent.RunResult {
		log.add(recordedCall{kind: "agent"})
		return agent.RunResult{Output: "answer", Success: true}
	})
	r := newTestRunner(t, compose.Service{}, ag, log)

	event := trigger.NewEvent(trigger.TypeChat, "hi", nil)
	event.Reply = &logReply{log}
	require.True(t, r.Deliver(event))

	waitCalls(t, log, 4)
	assert.Equal(t, []string{"agent", "reply", "audit", "route"}, log.kinds())
}

func TestRunnerChatForcesDirectExecution(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	ag := agent.Func(func(_ context.Context, _ string, autonomous bool) agent.RunResult {
		log.add(recordedCall{kind: "agent", autonom: autonomous})
		return agent.RunResult{Success: true}
	})
	r := newTestRunner(t, compose.Service{Autonomous: true}, ag, log)

	require.True(t, r.Deliver(trigger.NewEvent(trigger.TypeChat, "hi", nil)))
	require.True(t, r.Deliver(trigger.NewEvent(trigger.TypeCron, "tick", nil)))

	waitCalls(t, log, 6)
	var flags []bool
	for _, call := range log.snapshot() {
		if call.kind == "agent" {
			flags = append(flags, call.autonom)
		}
	}
	// Chat is always direct; cron honors the service's autonomous flag.
	assert.Equal(t, []bool{false, true}, flags)
}

func TestRunnerContainsAgentPanic(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	calls := 0
	ag := agent.Func(func(context.Context, string, bool) agent.RunResult {
		calls++
		log.add(recordedCall{kind: "agent"})
		if calls == 1 {
			panic("tool exploded")
		}
		return agent.RunResult{Output: "recovered", Success: true}
	})
	r := newTestRunner(t, compose.Service{}, ag, log)

	require.True(t, r.Deliver(trigger.NewEvent(trigger.TypeCron, "boom", nil)))
	require.True(t, r.Deliver(trigger.NewEvent(trigger.TypeCron, "next", nil)))

	waitCalls(t, log, 6)
	assert.Equal(t, StateRunning, r.State())
	assert.Equal(t, 2, calls, "loop must continue after a contained panic")
}

func TestRunnerDeliverRejectedWhenStopped(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	ag := agent.Func(func(context.Context, string, bool) agent.RunResult {
		return agent.RunResult{Success: true}
	})
	def := compose.Service{Name: "svc"}
	r := NewRunner(def, ag, emptyDispatcher(t, "svc"), &logRouter{log}, &logAudit{log})

	assert.False(t, r.Deliver(trigger.NewEvent(trigger.TypeDelegate, "early", nil)))

	require.NoError(t, r.Start())
	assert.Equal(t, StateRunning, r.State())

	r.Stop(time.Second)
	assert.Equal(t, StateStopped, r.State())
	assert.False(t, r.Deliver(trigger.NewEvent(trigger.TypeDelegate, "late", nil)))
}

func TestRunnerStartTwiceIsError(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	ag := agent.Func(func(context.Context, string, bool) agent.RunResult {
		return agent.RunResult{Success: true}
	})
	r := newTestRunner(t, compose.Service{}, ag, log)

	err := r.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

// slowTriggers simulates a dispatcher whose trigger join eats most of
// the stop budget.
type slowTriggers struct{ stopDelay time.Duration }

func (s *slowTriggers) StartAll(trigger.Handler) error { return nil }
func (s *slowTriggers) Running() int                   { return 0 }
func (s *slowTriggers) StopAll(time.Duration)          { time.Sleep(s.stopDelay) }

func TestRunnerStopSharesOneBudgetAcrossJoins(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	log := &callLog{}
	ag := agent.Func(func(context.Context, string, bool) agent.RunResult {
		close(started)
		<-release
		return agent.RunResult{Success: true}
	})
	def := compose.Service{Name: "svc"}
	r := NewRunner(def, ag, &slowTriggers{stopDelay: 400 * time.Millisecond}, &logRouter{log}, &logAudit{log})
	require.NoError(t, r.Start())
	t.Cleanup(func() { close(release) })

	require.True(t, r.Deliver(trigger.NewEvent(trigger.TypeCron, "stuck", nil)))
	<-started

	// With a 500ms budget, a 400ms trigger join leaves only 100ms for
	// the loop; the two waits must not stack to 900ms.
	begin := time.Now()
	r.Stop(500 * time.Millisecond)
	elapsed := time.Since(begin)

	assert.Less(t, elapsed, 750*time.Millisecond, "stop must share one deadline across trigger and loop joins")
	assert.Equal(t, StateStopped, r.State())
}

func TestRunnerStopWaitsForInFlightExecution(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	finished := false
	var mu sync.Mutex

	log := &callLog{}
	ag := agent.Func(func(context.Context, string, bool) agent.RunResult {
		close(started)
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
		return agent.RunResult{Success: true}
	})
	def := compose.Service{Name: "svc"}
	r := NewRunner(def, ag, emptyDispatcher(t, "svc"), &logRouter{log}, &logAudit{log})
	require.NoError(t, r.Start())

	require.True(t, r.Deliver(trigger.NewEvent(trigger.TypeCron, "slow", nil)))
	<-started

	stopDone := make(chan struct{})
	go func() {
		defer close(stopDone)
		r.Stop(5 * time.Second)
	}()

	time.Sleep(100 * time.Millisecond)
	close(release)

	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return after in-flight execution finished")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished, "in-flight execution must be allowed to finish")
}
