package trigger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flotilla-dev/flotilla/pkg/compose"
)

// Dispatcher owns the lifecycle of all triggers for one service. Each
// trigger start is independently fault-isolated: one trigger failing to
// start (a busy port, an unwatchable path) never prevents its siblings
// from starting.
type Dispatcher struct {
	service  string
	triggers []Trigger

	mu      sync.Mutex
	started bool
	running []Trigger
}

// NewDispatcher builds the triggers for a service from its config.
func NewDispatcher(registry *Registry, service string, configs []compose.TriggerConfig) (*Dispatcher, error) {
	triggers := make([]Trigger, 0, len(configs))
	for i, cfg := range configs {
		tr, err := registry.New(service, cfg)
		if err != nil {
			return nil, fmt.Errorf("service %q trigger %d: %w", service, i, err)
		}
		triggers = append(triggers, tr)
	}
	return &Dispatcher{service: service, triggers: triggers}, nil
}

// StartAll starts every trigger on its own goroutine. Starting twice is
// a caller error. Individual start failures are logged and collected;
// the returned error joins them but triggers that did start keep
// running.
func (d *Dispatcher) StartAll(onEvent Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("dispatcher for service %q already started", d.service)
	}
	d.started = true

	var startErrs []error
	for _, tr := range d.triggers {
		if err := tr.Start(onEvent); err != nil {
			slog.Error("Trigger failed to start", "service", d.service, "error", err)
			startErrs = append(startErrs, err)
			continue
		}
		d.running = append(d.running, tr)
	}

	return errors.Join(startErrs...)
}

// Running reports how many triggers started successfully.
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

// StopAll signals every running trigger to stop, then joins each one up
// to the shared timeout. A trigger that fails to exit in time is logged,
// never raised; shutdown proceeds regardless.
func (d *Dispatcher) StopAll(timeout time.Duration) {
	d.mu.Lock()
	running := append([]Trigger(nil), d.running...)
	d.running = nil
	d.mu.Unlock()

	for _, tr := range running {
		tr.Stop()
	}

	deadline := time.Now().Add(timeout)
	for _, tr := range running {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			slog.Warn("Trigger join timeout exhausted", "service", d.service)
			return
		}
		select {
		case <-tr.Done():
		case <-time.After(remaining):
			slog.Warn("Trigger did not stop within timeout", "service", d.service)
		}
	}
}
