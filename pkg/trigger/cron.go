package trigger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flotilla-dev/flotilla/pkg/compose"
)

// cronTrigger fires events on a 5-field cron schedule. The wait loop
// sleeps in one-second increments so Stop is observed promptly instead
// of after a long sleep.
type cronTrigger struct {
	service  string
	expr     string
	prompt   string
	schedule cron.Schedule
	loc      *time.Location

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newCron(service string, cfg compose.TriggerConfig) (Trigger, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}

	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", cfg.Schedule, err)
	}

	return &cronTrigger{
		service:  service,
		expr:     cfg.Schedule,
		prompt:   cfg.Prompt,
		schedule: schedule,
		loc:      loc,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (t *cronTrigger) Start(onEvent Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("cron trigger for service %q already started", t.service)
	}
	t.started = true

	go t.run(onEvent)
	return nil
}

func (t *cronTrigger) run(onEvent Handler) {
	defer close(t.done)

	next := t.schedule.Next(time.Now().In(t.loc))
	slog.Debug("Cron trigger started", "service", t.service, "schedule", t.expr, "next", next)

	for {
		select {
		case <-t.stop:
			return
		case <-time.After(time.Second):
		}

		now := time.Now().In(t.loc)
		if now.Before(next) {
			continue
		}

		// Stop wins over a due fire.
		select {
		case <-t.stop:
			return
		default:
		}

		slog.Info("Cron trigger fired", "service", t.service, "schedule", t.expr)
		onEvent(NewEvent(TypeCron, t.prompt, map[string]string{
			"schedule": t.expr,
		}))

		next = t.schedule.Next(now)
	}
}

func (t *cronTrigger) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *cronTrigger) Done() <-chan struct{} {
	return t.done
}
