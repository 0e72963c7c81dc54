package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/flotilla-dev/flotilla/pkg/agent"
	"github.com/flotilla-dev/flotilla/pkg/compose"
)

// fileSink appends one line per run result to a target file. I/O
// failures are logged and surfaced as an error status, never raised.
type fileSink struct {
	path   string
	format string
}

func newFile(cfg compose.SinkConfig, _ Resolver) (Sink, error) {
	format := cfg.Format
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("unknown file sink format %q", format)
	}
	return &fileSink{path: cfg.Path, format: format}, nil
}

type fileLine struct {
	Service string    `json:"service"`
	RunID   string    `json:"run_id"`
	Time    time.Time `json:"time"`
	Output  string    `json:"output"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

func (s *fileSink) Deliver(_ context.Context, source, runID string, result agent.RunResult) (Status, string) {
	var line []byte
	switch s.format {
	case "text":
		line = []byte(result.Output)
	default:
		encoded, err := json.Marshal(fileLine{
			Service: source,
			RunID:   runID,
			Time:    time.Now(),
			Output:  result.Output,
			Success: result.Success,
			Error:   result.Error,
		})
		if err != nil {
			slog.Error("File sink failed to encode result", "source", source, "run_id", runID, "error", err)
			return StatusError, ""
		}
		line = encoded
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("File sink failed to open target", "source", source, "path", s.path, "error", err)
		return StatusError, ""
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Error("File sink write failed", "source", source, "path", s.path, "error", err)
		return StatusError, ""
	}

	return StatusDelivered, ""
}
