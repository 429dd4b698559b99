package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitedBufferCapsOutput(t *testing.T) {
	buf := &limitedBuffer{cap: 10}

	n, err := buf.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 16, n, "writes past the cap still report success")
	assert.Equal(t, "0123456789", buf.String())

	n, err = buf.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "0123456789", buf.String())
}

func TestExecuteSuccess(t *testing.T) {
	e := New(Config{Timeout: 30 * time.Second})

	res, err := e.Execute(context.Background(), t.TempDir(), []string{"echo one", "echo two"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []string{"one", "two"}, res.OutputLines())
}

func TestExecuteShortCircuitsOnFailure(t *testing.T) {
	e := New(Config{Timeout: 30 * time.Second})

	res, err := e.Execute(context.Background(), t.TempDir(), []string{"echo before", "exit 3", "echo after"})
	require.NoError(t, err, "non-zero exit is a result, not a Go error")
	assert.False(t, res.Succeeded())
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "before")
	assert.NotContains(t, res.Output, "after")
}

func TestExecuteTimeout(t *testing.T) {
	e := New(Config{Timeout: 200 * time.Millisecond})

	res, err := e.Execute(context.Background(), t.TempDir(), []string{"sleep 5"})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Succeeded())
}

func TestExecuteEmptySteps(t *testing.T) {
	e := New(Config{})
	_, err := e.Execute(context.Background(), t.TempDir(), nil)
	require.Error(t, err)
}

func TestExecuteCapturesStderr(t *testing.T) {
	e := New(Config{Timeout: 30 * time.Second})

	res, err := e.Execute(context.Background(), t.TempDir(), []string{"echo oops >&2"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.True(t, strings.Contains(res.Output, "oops"))
}

func TestExecuteStages(t *testing.T) {
	e := New(Config{Timeout: 30 * time.Second})
	dir := t.TempDir()

	results, err := e.ExecuteStages(context.Background(), dir, []Stage{
		{Name: "publish", Steps: []string{"echo published"}},
		{Name: "deploy", Steps: []string{"echo deployed"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "publish", results[0].Name)
	assert.True(t, results[0].Result.Succeeded())
	assert.Contains(t, results[1].Result.Output, "deployed")

	// A failing stage stops the sequence.
	results, err = e.ExecuteStages(context.Background(), dir, []Stage{
		{Name: "publish", Steps: []string{"exit 2"}},
		{Name: "deploy", Steps: []string{"echo deployed"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Result.ExitCode)

	_, err = e.ExecuteStages(context.Background(), dir, nil)
	require.Error(t, err)
}

func TestResultOutputLines(t *testing.T) {
	res := &Result{Output: "a\r\n\nb\n"}
	assert.Equal(t, []string{"a", "b"}, res.OutputLines())

	res = &Result{Output: ""}
	assert.Empty(t, res.OutputLines())
}
