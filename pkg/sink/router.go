package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flotilla-dev/flotilla/pkg/agent"
	"github.com/flotilla-dev/flotilla/pkg/compose"
)

// Recorder persists delivery records. Failures must be swallowed by the
// implementation; the router only logs them.
type Recorder interface {
	RecordDelivery(ctx context.Context, record DeliveryRecord)
}

// Router resolves each service's configured sink and delivers run
// results to it. Routing never retries; retry is a property of the
// trigger or restart layer.
type Router struct {
	sinks    map[string]Sink
	recorder Recorder
}

// NewRouter builds one sink per service that configures one. Services
// without a sink route to a filtered no-op.
func NewRouter(cfg *compose.Config, registry *Registry, resolver Resolver, recorder Recorder) (*Router, error) {
	sinks := make(map[string]Sink)
	for name, svc := range cfg.Services {
		if svc.Sink == nil {
			continue
		}
		s, err := registry.New(*svc.Sink, resolver)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		sinks[name] = s
	}
	return &Router{sinks: sinks, recorder: recorder}, nil
}

// Route delivers one run result for the named service and returns the
// resulting record. No sink configured means filtered: an intentional
// no-op, not an error.
func (r *Router) Route(ctx context.Context, service, runID string, result agent.RunResult) DeliveryRecord {
	record := DeliveryRecord{
		Source: service,
		Status: StatusFiltered,
		RunID:  runID,
		Time:   time.Now(),
	}

	if s, ok := r.sinks[service]; ok {
		record.Status, record.Target = s.Deliver(ctx, service, runID, result)
	}

	slog.Debug("Routed run result",
		"source", record.Source,
		"target", record.Target,
		"status", record.Status,
		"run_id", record.RunID)

	if r.recorder != nil {
		r.recorder.RecordDelivery(ctx, record)
	}
	return record
}
