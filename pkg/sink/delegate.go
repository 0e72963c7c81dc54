package sink

import (
	"context"
	"log/slog"

	"github.com/flotilla-dev/flotilla/pkg/agent"
	"github.com/flotilla-dev/flotilla/pkg/compose"
	"github.com/flotilla-dev/flotilla/pkg/trigger"
)

// delegateSink forwards a run's output as a new inbound event on
// another service's queue. The push is non-blocking: a slow downstream
// service can never stall the upstream one.
type delegateSink struct {
	target   string
	resolver Resolver
}

func newDelegate(cfg compose.SinkConfig, resolver Resolver) (Sink, error) {
	return &delegateSink{target: cfg.Target, resolver: resolver}, nil
}

func (s *delegateSink) Deliver(_ context.Context, source, runID string, result agent.RunResult) (Status, string) {
	inbox, ok := s.resolver.Lookup(s.target)
	if !ok {
		slog.Warn("Delegate target not running, dropping result", "source", source, "target", s.target, "run_id", runID)
		return StatusDropped, s.target
	}

	event := trigger.NewEvent(trigger.TypeDelegate, result.Output, map[string]string{
		"source": source,
		"run_id": runID,
	})

	if !inbox.Deliver(event) {
		slog.Warn("Delegate target not accepting events, dropping result", "source", source, "target", s.target, "run_id", runID)
		return StatusDropped, s.target
	}

	return StatusDelivered, s.target
}
