package agent

import "context"

// RunResult is the outcome of one agent execution. Ordinary LLM and
// tool failures are reported through Success and Error, never as a Go
// error; the orchestration layer treats results as data.
type RunResult struct {
	Output      string `json:"output"`
	TokensIn    int    `json:"tokens_in"`
	TokensOut   int    `json:"tokens_out"`
	TokensTotal int    `json:"tokens_total"`
	ToolCalls   int    `json:"tool_calls"`
	DurationMS  int64  `json:"duration_ms"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// Agent executes one prompt synchronously. The call may take arbitrary
// wall-clock time; cancellation is via ctx. Autonomous selects the
// multi-step loop instead of a single direct call.
type Agent interface {
	Run(ctx context.Context, prompt string, autonomous bool) RunResult
}

// Func adapts a plain function to the Agent interface.
type Func func(ctx context.Context, prompt string, autonomous bool) RunResult

func (f Func) Run(ctx context.Context, prompt string, autonomous bool) RunResult {
	return f(ctx, prompt, autonomous)
}

// Failure builds a failed result with the given message.
func Failure(msg string) RunResult {
	return RunResult{Success: false, Error: msg}
}
