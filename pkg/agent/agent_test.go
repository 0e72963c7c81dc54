package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncAdapter(t *testing.T) {
	t.Parallel()

	var gotPrompt string
	a := Func(func(_ context.Context, prompt string, autonomous bool) RunResult {
		gotPrompt = prompt
		assert.True(t, autonomous)
		return RunResult{Output: "ok", Success: true}
	})

	result := a.Run(context.Background(), "do the thing", true)
	assert.Equal(t, "do the thing", gotPrompt)
	assert.True(t, result.Success)
}

func TestLoadRole(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reporter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: reporter
instruction: Summarize the day's findings.
model: gpt-4o-mini
max_steps: 3
`), 0o644))

	role, err := LoadRole(path)
	require.NoError(t, err)
	assert.Equal(t, "reporter", role.Name)
	assert.Equal(t, "Summarize the day's findings.", role.Instruction)
	assert.Equal(t, 3, role.MaxSteps)
}

func TestLoadRoleRequiresInstruction(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: empty\n"), 0o644))

	_, err := LoadRole(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instruction is required")
}

func TestLoadRoleMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadRole(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestRunnerAPIFailureBecomesResult(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	runner := NewRunner(Role{Name: "r", Instruction: "inst"},
		option.WithBaseURL(server.URL),
		option.WithAPIKey("test"),
		option.WithMaxRetries(0),
	)

	result := runner.Run(context.Background(), "prompt", false)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.GreaterOrEqual(t, result.DurationMS, int64(0))
}
