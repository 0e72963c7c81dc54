package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flotilla-dev/flotilla/pkg/compose"
)

// DefaultStopTimeout bounds the join of service and trigger goroutines
// at shutdown.
const DefaultStopTimeout = 5 * time.Second

// Service is the supervisor-facing surface of one service runner.
type Service interface {
	Name() string
	Start() error
	Relaunch() error
	Stop(timeout time.Duration)
	MarkFailed()
	Done() <-chan struct{}
	Err() error
	Restart() compose.RestartPolicy
}

// Supervisor starts services in dependency order, applies each
// service's restart policy when its goroutine dies, and owns the
// signal-driven shutdown sequence.
type Supervisor struct {
	cfg         *compose.Config
	services    map[string]Service
	stopTimeout time.Duration

	mu       sync.Mutex
	started  bool
	stopping bool
	stopCh   chan struct{}
	monitors sync.WaitGroup
}

// New builds a supervisor over pre-built services, one per configured
// service name.
func New(cfg *compose.Config, services map[string]Service) (*Supervisor, error) {
	for name := range cfg.Services {
		if _, ok := services[name]; !ok {
			return nil, fmt.Errorf("no runner for configured service %q", name)
		}
	}
	return &Supervisor{
		cfg:         cfg,
		services:    services,
		stopTimeout: DefaultStopTimeout,
		stopCh:      make(chan struct{}),
	}, nil
}

// SetStopTimeout overrides the shutdown join timeout.
func (s *Supervisor) SetStopTimeout(d time.Duration) {
	s.stopTimeout = d
}

// Start validates the service graph, then starts every service in
// dependency-respecting waves: a service starts only after all of its
// depends_on services have completed their own startup; independent
// services start concurrently. A validation failure aborts with no
// goroutine started.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid service graph: %w", err)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already started")
	}
	s.started = true
	s.mu.Unlock()

	ready := make(map[string]chan struct{}, len(s.services))
	for name := range s.cfg.Services {
		ready[name] = make(chan struct{})
	}

	g, ctx := errgroup.WithContext(ctx)
	for name := range s.cfg.Services {
		svc := s.services[name]
		deps := s.cfg.Services[name].DependsOn

		g.Go(func() error {
			for _, dep := range deps {
				select {
				case <-ready[dep]:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			if err := svc.Start(); err != nil {
				return fmt.Errorf("failed to start service %q: %w", svc.Name(), err)
			}
			close(ready[svc.Name()])

			s.monitors.Add(1)
			go s.monitor(svc)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("All services started", "count", len(s.services))
	return nil
}

// monitor applies the restart policy for one service. A restarted
// service does not re-wait for its dependencies; dependency ordering is
// an initial-startup contract only. Exhausting max_retries leaves the
// service in a terminal failed state; its siblings keep running.
func (s *Supervisor) monitor(svc Service) {
	defer s.monitors.Done()

	retries := 0
	for {
		select {
		case <-svc.Done():
		case <-s.stopCh:
			return
		}

		s.mu.Lock()
		stopping := s.stopping
		s.mu.Unlock()
		if stopping {
			return
		}

		svc.MarkFailed()
		policy := svc.Restart()
		err := svc.Err()
		slog.Error("Service thread died", "service", svc.Name(), "error", err, "restart", policy.Condition)

		switch policy.Condition {
		case compose.RestartAlways, compose.RestartOnFailure:
		default:
			return
		}

		if retries >= policy.MaxRetries {
			slog.Error("Service restart budget exhausted, leaving failed",
				"service", svc.Name(), "retries", retries)
			return
		}

		select {
		case <-time.After(policy.Delay()):
		case <-s.stopCh:
			return
		}

		retries++
		slog.Info("Restarting service", "service", svc.Name(), "attempt", retries, "max", policy.MaxRetries)
		if err := svc.Relaunch(); err != nil {
			slog.Error("Service restart failed", "service", svc.Name(), "error", err)
			return
		}
	}
}

// Stop requests cessation of new event intake everywhere, stops every
// service and its triggers, and joins all goroutines up to the stop
// timeout. In-flight executions are allowed to finish; nothing is
// forcibly aborted.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	close(s.stopCh)
	s.mu.Unlock()

	slog.Info("Stopping all services")

	var wg sync.WaitGroup
	for _, svc := range s.services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Stop(s.stopTimeout)
		}()
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.monitors.Wait()
	}()
	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		slog.Warn("Some service monitors did not exit within timeout")
	}

	slog.Info("Compose stopped")
}

// Run starts the compose and blocks until ctx is cancelled (typically
// by SIGINT/SIGTERM), then runs the shutdown sequence.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}
