package trigger

import (
	"fmt"

	"github.com/flotilla-dev/flotilla/pkg/compose"
)

// Constructor builds one trigger for the named service from its config.
type Constructor func(service string, cfg compose.TriggerConfig) (Trigger, error)

// Registry maps trigger type tags to constructors. It is built in one
// place from a static list so the available kinds are enumerable; there
// is no self-registration at import time.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a registry with all built-in trigger kinds.
func NewRegistry() *Registry {
	return &Registry{
		constructors: map[string]Constructor{
			"cron":       newCron,
			"file_watch": newFileWatch,
			"webhook":    newWebhook,
			"chat":       newChat,
		},
	}
}

// Kinds returns the registered type tags.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.constructors))
	for kind := range r.constructors {
		kinds = append(kinds, kind)
	}
	return kinds
}

// New builds a trigger for the given config, dispatching on the type tag.
func (r *Registry) New(service string, cfg compose.TriggerConfig) (Trigger, error) {
	ctor, ok := r.constructors[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown trigger type %q", cfg.Type)
	}
	return ctor(service, cfg)
}
