package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultModel    = "gpt-4o-mini"
	defaultMaxSteps = 10

	// doneMarker ends the autonomous loop early when the model reports
	// it has finished.
	doneMarker = "DONE"
)

// Runner executes a role's prompts against the OpenAI Chat Completions
// API. In autonomous mode it loops, feeding each step's output back in,
// until the model signals completion or the step budget runs out.
type Runner struct {
	client openai.Client
	role   Role
}

// NewRunner builds a runner for one role. The API key comes from the
// environment (OPENAI_API_KEY); extra request options are for tests.
func NewRunner(role Role, opts ...option.RequestOption) *Runner {
	return &Runner{
		client: openai.NewClient(opts...),
		role:   role,
	}
}

func (r *Runner) model() openai.ChatModel {
	if r.role.Model != "" {
		return openai.ChatModel(r.role.Model)
	}
	return openai.ChatModel(defaultModel)
}

func (r *Runner) maxSteps() int {
	if r.role.MaxSteps > 0 {
		return r.role.MaxSteps
	}
	return defaultMaxSteps
}

// Run implements Agent. LLM errors become RunResult{Success: false}.
func (r *Runner) Run(ctx context.Context, prompt string, autonomous bool) RunResult {
	start := time.Now()

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(prompt),
	}
	if r.role.Instruction != "" {
		messages = append([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(r.role.Instruction),
		}, messages...)
	}

	steps := 1
	if autonomous {
		steps = r.maxSteps()
	}

	var result RunResult
	var outputs []string
	for step := 0; step < steps; step++ {
		completion, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    r.model(),
			Messages: messages,
		})
		if err != nil {
			result.Error = err.Error()
			result.Output = strings.Join(outputs, "\n\n")
			result.DurationMS = time.Since(start).Milliseconds()
			slog.Error("Agent call failed", "role", r.role.Name, "step", step, "error", err)
			return result
		}

		result.TokensIn += int(completion.Usage.PromptTokens)
		result.TokensOut += int(completion.Usage.CompletionTokens)
		result.TokensTotal += int(completion.Usage.TotalTokens)

		if len(completion.Choices) == 0 {
			break
		}
		output := completion.Choices[0].Message.Content
		outputs = append(outputs, strings.TrimSpace(strings.ReplaceAll(output, doneMarker, "")))

		if !autonomous || strings.Contains(output, doneMarker) {
			break
		}

		messages = append(messages,
			openai.AssistantMessage(output),
			openai.UserMessage("Continue working. Reply "+doneMarker+" on its own line when finished."),
		)
	}

	result.Output = strings.TrimSpace(strings.Join(outputs, "\n\n"))
	result.DurationMS = time.Since(start).Milliseconds()
	result.Success = true
	return result
}
