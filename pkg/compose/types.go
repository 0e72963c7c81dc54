package compose

import (
	"time"
)

// RestartCondition controls when a dead service is started again.
type RestartCondition string

const (
	RestartNever     RestartCondition = "never"
	RestartOnFailure RestartCondition = "on-failure"
	RestartAlways    RestartCondition = "always"
)

// Config is a parsed compose file: the full static service graph.
type Config struct {
	Version  string             `yaml:"version,omitempty"`
	Services map[string]Service `yaml:"services"`

	// Shared points multiple services at one memory/audit database path.
	Shared SharedConfig `yaml:"shared,omitempty"`
}

// SharedConfig optionally binds services to a common database path.
type SharedConfig struct {
	AuditPath string `yaml:"audit_path,omitempty"`
}

// Service is one entry in the compose file. Name is filled in from the
// map key after parsing and is never empty on a loaded config.
type Service struct {
	Name       string          `yaml:"-"`
	Role       string          `yaml:"role"`
	Autonomous bool            `yaml:"autonomous,omitempty"`
	Triggers   []TriggerConfig `yaml:"triggers"`
	Sink       *SinkConfig     `yaml:"sink,omitempty"`
	DependsOn  []string        `yaml:"depends_on,omitempty"`
	Restart    RestartPolicy   `yaml:"restart,omitempty"`
}

// TriggerConfig is the tagged-variant configuration for one trigger.
// Type selects the variant; the other fields apply per variant.
type TriggerConfig struct {
	Type string `yaml:"type"`

	// Prompt is the static prompt used by cron and file_watch events.
	Prompt string `yaml:"prompt,omitempty"`

	// cron
	Schedule string `yaml:"schedule,omitempty"`
	Timezone string `yaml:"timezone,omitempty"`

	// file_watch
	Paths           []string `yaml:"paths,omitempty"`
	Extensions      []string `yaml:"extensions,omitempty"`
	DebounceSeconds float64  `yaml:"debounce_seconds,omitempty"`
	ProcessExisting bool     `yaml:"process_existing,omitempty"`

	// webhook
	Port   int    `yaml:"port,omitempty"`
	Path   string `yaml:"path,omitempty"`
	Method string `yaml:"method,omitempty"`
	Secret string `yaml:"secret,omitempty"`

	// chat
	Token        string   `yaml:"token,omitempty"`
	AllowedUsers []string `yaml:"allowed_users,omitempty"`
	AllowedChats []int64  `yaml:"allowed_chats,omitempty"`
}

// Debounce returns the configured debounce window, defaulting to 500ms.
func (t TriggerConfig) Debounce() time.Duration {
	if t.DebounceSeconds <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(t.DebounceSeconds * float64(time.Second))
}

// SinkConfig selects where a service's run output is routed.
type SinkConfig struct {
	Type   string `yaml:"type"`
	Target string `yaml:"target,omitempty"` // delegate: service name
	Path   string `yaml:"path,omitempty"`   // file: output file
	Format string `yaml:"format,omitempty"` // file: "json" (default) or "text"
}

// RestartPolicy controls supervisor behavior when a service thread dies.
type RestartPolicy struct {
	Condition    RestartCondition `yaml:"condition,omitempty"`
	MaxRetries   int              `yaml:"max_retries,omitempty"`
	DelaySeconds float64          `yaml:"delay_seconds,omitempty"`
}

// Delay returns the configured restart delay.
func (r RestartPolicy) Delay() time.Duration {
	return time.Duration(r.DelaySeconds * float64(time.Second))
}
