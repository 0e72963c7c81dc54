package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flotilla-dev/flotilla/pkg/compose"
	"github.com/flotilla-dev/flotilla/pkg/trigger"
)

type fakeInbox struct{}

func newFakeInbox() *fakeInbox { return &fakeInbox{} }

func (f *fakeInbox) Deliver(trigger.Event) bool { return true }

type startLog struct {
	mu    sync.Mutex
	order []string
}

func (l *startLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *startLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

// fakeService simulates a runner; with crash set, its loop dies
// immediately after every (re)start.
type fakeService struct {
	name   string
	policy compose.RestartPolicy
	log    *startLog
	crash  bool

	mu         sync.Mutex
	starts     int
	relaunches int
	stopped    bool
	done       chan struct{}
}

func newFakeService(name string, log *startLog) *fakeService {
	return &fakeService{name: name, log: log}
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.done = make(chan struct{})
	if f.crash {
		close(f.done)
	}
	if f.log != nil {
		f.log.add(f.name)
	}
	return nil
}

func (f *fakeService) Relaunch() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relaunches++
	f.done = make(chan struct{})
	if f.crash {
		close(f.done)
	}
	return nil
}

func (f *fakeService) Stop(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeService) MarkFailed() {}

func (f *fakeService) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *fakeService) Err() error { return errors.New("loop died") }

func (f *fakeService) Restart() compose.RestartPolicy { return f.policy }

func (f *fakeService) counts() (starts, relaunches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.relaunches
}

func cronService(deps ...string) compose.Service {
	return compose.Service{
		Role:      "r.yaml",
		DependsOn: deps,
		Triggers:  []compose.TriggerConfig{{Type: "cron", Schedule: "* * * * *"}},
	}
}

func buildFakes(cfg *compose.Config, log *startLog) map[string]Service {
	services := make(map[string]Service, len(cfg.Services))
	for name := range cfg.Services {
		services[name] = newFakeService(name, log)
	}
	return services
}

func TestStartOrderRespectsDependencies(t *testing.T) {
	t.Parallel()

	cfg := &compose.Config{Services: map[string]compose.Service{
		"collector": cronService(),
		"analyzer":  cronService("collector"),
		"publisher": cronService("analyzer", "collector"),
	}}
	for name, svc := range cfg.Services {
		svc.Name = name
		cfg.Services[name] = svc
	}

	log := &startLog{}
	services := buildFakes(cfg, log)
	s, err := New(cfg, services)
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Start(context.Background()))

	order := log.snapshot()
	require.Len(t, order, 3)
	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	assert.Less(t, pos["collector"], pos["analyzer"])
	assert.Less(t, pos["analyzer"], pos["publisher"])
}

func TestCycleRejectedBeforeAnyStart(t *testing.T) {
	t.Parallel()

	cfg := &compose.Config{Services: map[string]compose.Service{
		"a": cronService("b"),
		"b": cronService("a"),
	}}

	log := &startLog{}
	services := buildFakes(cfg, log)
	s, err := New(cfg, services)
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle")
	assert.Empty(t, log.snapshot(), "no service may start when validation fails")
}

func TestRestartPolicyRetriesThenStops(t *testing.T) {
	t.Parallel()

	cfg := &compose.Config{Services: map[string]compose.Service{"crasher": cronService()}}
	crasher := newFakeService("crasher", nil)
	crasher.crash = true
	crasher.policy = compose.RestartPolicy{
		Condition:    compose.RestartOnFailure,
		MaxRetries:   3,
		DelaySeconds: 0.01,
	}

	s, err := New(cfg, map[string]Service{"crasher": crasher})
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, relaunches := crasher.counts()
		return relaunches == 3
	}, 3*time.Second, 10*time.Millisecond)

	// Give a fourth relaunch time to appear if the budget were ignored.
	time.Sleep(200 * time.Millisecond)
	starts, relaunches := crasher.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 3, relaunches, "exactly max_retries restarts, 4 total attempts")
}

func TestHealthyServiceIsNeverRestarted(t *testing.T) {
	t.Parallel()

	cfg := &compose.Config{Services: map[string]compose.Service{"steady": cronService()}}
	steady := newFakeService("steady", nil)
	steady.policy = compose.RestartPolicy{Condition: compose.RestartAlways, MaxRetries: 5}

	s, err := New(cfg, map[string]Service{"steady": steady})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(200 * time.Millisecond)
	starts, relaunches := steady.counts()
	assert.Equal(t, 1, starts)
	assert.Zero(t, relaunches)

	s.Stop()
}

func TestRestartNeverLeavesServiceDown(t *testing.T) {
	t.Parallel()

	cfg := &compose.Config{Services: map[string]compose.Service{"fragile": cronService()}}
	fragile := newFakeService("fragile", nil)
	fragile.crash = true
	fragile.policy = compose.RestartPolicy{Condition: compose.RestartNever, MaxRetries: 5}

	s, err := New(cfg, map[string]Service{"fragile": fragile})
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Start(context.Background()))

	time.Sleep(200 * time.Millisecond)
	starts, relaunches := fragile.counts()
	assert.Equal(t, 1, starts)
	assert.Zero(t, relaunches)
}

func TestStopStopsEveryService(t *testing.T) {
	t.Parallel()

	cfg := &compose.Config{Services: map[string]compose.Service{
		"a": cronService(),
		"b": cronService(),
	}}
	log := &startLog{}
	services := buildFakes(cfg, log)
	s, err := New(cfg, services)
	require.NoError(t, err)
	s.SetStopTimeout(time.Second)

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop() // idempotent

	for name, svc := range services {
		fake := svc.(*fakeService)
		fake.mu.Lock()
		stopped := fake.stopped
		fake.mu.Unlock()
		assert.True(t, stopped, "service %s must be stopped", name)
	}
}

func TestRunBlocksUntilContextCancelled(t *testing.T) {
	t.Parallel()

	cfg := &compose.Config{Services: map[string]compose.Service{"a": cronService()}}
	services := buildFakes(cfg, &startLog{})
	s, err := New(cfg, services)
	require.NoError(t, err)
	s.SetStopTimeout(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Run returned before context cancellation")
	default:
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestNewRequiresRunnerPerService(t *testing.T) {
	t.Parallel()

	cfg := &compose.Config{Services: map[string]compose.Service{"a": cronService()}}
	_, err := New(cfg, map[string]Service{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no runner for configured service "a"`)
}

func TestSetRegisterAndLookup(t *testing.T) {
	t.Parallel()

	set := NewSet()
	_, ok := set.Lookup("missing")
	assert.False(t, ok)

	fake := newFakeInbox()
	set.Register("svc", fake)
	got, ok := set.Lookup("svc")
	assert.True(t, ok)
	assert.Equal(t, fake, got)
}
