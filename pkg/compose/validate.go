package compose

import (
	"fmt"
)

var triggerTypes = map[string]bool{
	"cron":       true,
	"file_watch": true,
	"webhook":    true,
	"chat":       true,
}

var sinkTypes = map[string]bool{
	"delegate": true,
	"file":     true,
}

// Validate checks the whole service graph: per-service field validity,
// resolvable depends_on references, and acyclicity. It runs before any
// goroutine is started; a failure here aborts the compose.
func (c *Config) Validate() error {
	for name, svc := range c.Services {
		if err := svc.validate(); err != nil {
			return fmt.Errorf("service %q: %w", name, err)
		}
		for _, dep := range svc.DependsOn {
			if _, ok := c.Services[dep]; !ok {
				return fmt.Errorf("service %q: depends_on references undefined service %q", name, dep)
			}
			if dep == name {
				return fmt.Errorf("service %q: depends_on itself", name)
			}
		}
	}

	if cycle := findCycle(c.Services); cycle != nil {
		return fmt.Errorf("dependency cycle: %w", &CycleError{Path: cycle})
	}

	return nil
}

func (s *Service) validate() error {
	if s.Role == "" {
		return fmt.Errorf("role is required")
	}
	if len(s.Triggers) == 0 {
		return fmt.Errorf("at least one trigger is required")
	}
	for i := range s.Triggers {
		if err := s.Triggers[i].validate(); err != nil {
			return fmt.Errorf("trigger %d: %w", i, err)
		}
	}
	if s.Sink != nil {
		if err := s.Sink.validate(); err != nil {
			return fmt.Errorf("sink: %w", err)
		}
	}
	return s.Restart.validate()
}

func (t *TriggerConfig) validate() error {
	if !triggerTypes[t.Type] {
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}

	switch t.Type {
	case "cron":
		if t.Schedule == "" {
			return fmt.Errorf("cron trigger requires a schedule")
		}
	case "file_watch":
		if len(t.Paths) == 0 {
			return fmt.Errorf("file_watch trigger requires at least one path")
		}
	case "webhook":
		if t.Port <= 0 || t.Port > 65535 {
			return fmt.Errorf("webhook trigger requires a valid port")
		}
	case "chat":
		if t.Token == "" {
			return fmt.Errorf("chat trigger requires a token")
		}
	}

	return nil
}

func (s *SinkConfig) validate() error {
	if !sinkTypes[s.Type] {
		return fmt.Errorf("unknown sink type %q", s.Type)
	}
	switch s.Type {
	case "delegate":
		if s.Target == "" {
			return fmt.Errorf("delegate sink requires a target service")
		}
	case "file":
		if s.Path == "" {
			return fmt.Errorf("file sink requires a path")
		}
	}
	return nil
}

func (r *RestartPolicy) validate() error {
	switch r.Condition {
	case "", RestartNever, RestartOnFailure, RestartAlways:
	default:
		return fmt.Errorf("invalid restart condition %q, must be one of: never, on-failure, always", r.Condition)
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("restart max_retries must not be negative")
	}
	if r.DelaySeconds < 0 {
		return fmt.Errorf("restart delay_seconds must not be negative")
	}
	return nil
}
