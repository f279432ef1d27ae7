package toolchain

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandBuilderSuccess(t *testing.T) {
	requireShell(t)
	builder, err := NewCommandBuilder([]string{"sh", "-c", "echo built"}, t.TempDir())
	require.NoError(t, err)

	result, err := builder.Build(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "built\n", result.Stdout)
}

func TestCommandBuilderCapturesStderrOnFailure(t *testing.T) {
	requireShell(t)
	builder, err := NewCommandBuilder([]string{"sh", "-c", "echo 'undefined: foo' >&2; exit 2"}, t.TempDir())
	require.NoError(t, err)

	result, err := builder.Build(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.ExitCode)
	assert.Contains(t, result.Stderr, "undefined: foo")
}

func TestCommandBuilderMissingBinary(t *testing.T) {
	builder, err := NewCommandBuilder([]string{"agentforge-no-such-binary"}, t.TempDir())
	require.NoError(t, err)

	_, err = builder.Build(context.Background())
	assert.Error(t, err)
}

func TestNewCommandValidation(t *testing.T) {
	_, err := NewCommandBuilder(nil, "")
	assert.Error(t, err)
	_, err = NewCommandRunner([]string{" "}, "", 0)
	assert.Error(t, err)
}

func TestCommandRunnerStartAndStop(t *testing.T) {
	requireShell(t)
	runner, err := NewCommandRunner([]string{"sh", "-c", "echo port=$PORT; sleep 30"}, t.TempDir(), 4242)
	require.NoError(t, err)

	proc, err := runner.Start(context.Background())
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if out, _ := proc.Output(); strings.Contains(out, "port=4242") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	out, _ := proc.Output()
	assert.Contains(t, out, "port=4242")

	stopped := make(chan struct{})
	go func() {
		_ = proc.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("process did not stop")
	}
	require.NoError(t, proc.Stop())
}
