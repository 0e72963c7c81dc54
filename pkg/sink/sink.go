package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/flotilla-dev/flotilla/pkg/agent"
	"github.com/flotilla-dev/flotilla/pkg/compose"
	"github.com/flotilla-dev/flotilla/pkg/trigger"
)

// Status is the outcome of one routing attempt.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusDropped   Status = "dropped"
	StatusFiltered  Status = "filtered"
	StatusError     Status = "error"
)

// DeliveryRecord is an append-only audit entry describing one routing
// attempt. Written once, never updated, and never read back by the
// routing logic itself.
type DeliveryRecord struct {
	Source string    `json:"source_service"`
	Target string    `json:"target_service,omitempty"`
	Status Status    `json:"status"`
	RunID  string    `json:"run_id"`
	Time   time.Time `json:"timestamp"`
}

// Inbox accepts delegated events for a service. Deliver must not block;
// it returns false when the service is not accepting events.
type Inbox interface {
	Deliver(event trigger.Event) bool
}

// Resolver looks up a running service's inbox by name.
type Resolver interface {
	Lookup(service string) (Inbox, bool)
}

// Sink delivers one run result somewhere. Implementations never return
// a Go error to the caller; failures are reported through the status.
type Sink interface {
	Deliver(ctx context.Context, source, runID string, result agent.RunResult) (Status, string)
}

// Constructor builds one sink from its config.
type Constructor func(cfg compose.SinkConfig, resolver Resolver) (Sink, error)

// Registry maps sink type tags to constructors, built in one place from
// a static list.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a registry with all built-in sink kinds.
func NewRegistry() *Registry {
	return &Registry{
		constructors: map[string]Constructor{
			"delegate": newDelegate,
			"file":     newFile,
		},
	}
}

// New builds a sink for the given config, dispatching on the type tag.
func (r *Registry) New(cfg compose.SinkConfig, resolver Resolver) (Sink, error) {
	ctor, ok := r.constructors[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
	return ctor(cfg, resolver)
}
