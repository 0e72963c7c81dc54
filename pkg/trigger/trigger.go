package trigger

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the source of an event.
type Type string

const (
	TypeCron      Type = "cron"
	TypeFileWatch Type = "file_watch"
	TypeWebhook   Type = "webhook"
	TypeChat      Type = "chat"

	// TypeDelegate marks events forwarded from another service's sink.
	TypeDelegate Type = "delegate"
)

// ReplyChannel sends a reply back to the endpoint that originated an
// event. Only chat events carry one.
type ReplyChannel interface {
	Send(text string) error
}

// Event is one unit of work for a service. Immutable once created; the
// producing trigger owns it until it is handed to the dispatcher, after
// which the service runner owns it for the duration of one execution.
type Event struct {
	ID       string
	Type     Type
	Prompt   string
	Time     time.Time
	Metadata map[string]string
	Reply    ReplyChannel
}

// NewEvent builds an event with a fresh id and the current time.
func NewEvent(t Type, prompt string, metadata map[string]string) Event {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return Event{
		ID:       uuid.New().String(),
		Type:     t,
		Prompt:   prompt,
		Time:     time.Now(),
		Metadata: metadata,
	}
}

// Handler consumes events produced by a trigger. Implementations must
// not block for long; the service runner enqueues and returns.
type Handler func(Event)

// Trigger is one polymorphic event source. Start begins producing
// events on the trigger's own goroutine and returns immediately;
// starting twice is a caller error. Stop signals the goroutine to exit
// and is idempotent; Done is closed once the goroutine has exited.
type Trigger interface {
	Start(onEvent Handler) error
	Stop()
	Done() <-chan struct{}
}
