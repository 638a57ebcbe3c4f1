package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCommand(t *testing.T) {
	sb := newTestSandbox(t)

	result, err := sb.ExecuteCommand(context.Background(), "echo hello-spindle", "")
	require.NoError(t, err)
	assert.Contains(t, result.Output, "hello-spindle")
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "echo hello-spindle", result.Command)
}

func TestExecuteCommandRealExitCode(t *testing.T) {
	sb := newTestSandbox(t)

	result, err := sb.ExecuteCommand(context.Background(), "bash -c 'exit 3'", "")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)

	result, err = sb.ExecuteCommand(context.Background(), "false", "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
}

func TestExecuteCommandSlowCommandCompletes(t *testing.T) {
	sb := newTestSandbox(t)

	// Longer than any fixed settle delay would tolerate; completion is
	// sentinel-driven, so this still resolves with the full output.
	start := time.Now()
	result, err := sb.ExecuteCommand(context.Background(), "sleep 1 && echo finally-done", "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Contains(t, result.Output, "finally-done")
	assert.Equal(t, 0, result.ExitCode)
}

func TestExecuteCommandWorkdir(t *testing.T) {
	sb := newTestSandbox(t)
	require.NoError(t, sb.WriteFile("projects/marker.txt", "x", false))

	result, err := sb.ExecuteCommand(context.Background(), "ls", "projects")
	require.NoError(t, err)
	assert.Contains(t, result.Output, "marker.txt")
}

func TestExecuteCommandWorkdirEscapeRejected(t *testing.T) {
	sb := newTestSandbox(t)

	_, err := sb.ExecuteCommand(context.Background(), "ls", "../outside")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestExecuteCommandTimeout(t *testing.T) {
	m := newTestManager(t)
	m.cfg.Shell.CommandTimeout = 500 * time.Millisecond
	sb, err := m.Create("timeout-test")
	require.NoError(t, err)

	result, err := sb.ExecuteCommand(context.Background(), "sleep 10", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not complete")
	assert.Equal(t, -1, result.ExitCode)
}

func TestExecuteCommandCancelled(t *testing.T) {
	sb := newTestSandbox(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	result, err := sb.ExecuteCommand(ctx, "sleep 10", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, result.ExitCode)
}

func TestExecuteCommandEmptyRejected(t *testing.T) {
	sb := newTestSandbox(t)

	_, err := sb.ExecuteCommand(context.Background(), "  ", "")
	require.Error(t, err)
}

func TestExecuteCommandSentinelHiddenFromOutput(t *testing.T) {
	sb := newTestSandbox(t)

	result, err := sb.ExecuteCommand(context.Background(), "echo visible", "")
	require.NoError(t, err)
	assert.Contains(t, result.Output, "visible")
	assert.NotContains(t, result.Output, "__DONE_")
}

func TestExecuteCommandLeavesNoShellBehind(t *testing.T) {
	sb := newTestSandbox(t)

	_, err := sb.ExecuteCommand(context.Background(), "echo hi", "")
	require.NoError(t, err)
	assert.Empty(t, sb.Shells(), "one-shot commands use a throwaway session")
}

func TestSandboxClosedRejectsSessions(t *testing.T) {
	m := newTestManager(t)
	sb, err := m.Create("closing")
	require.NoError(t, err)

	sb.Close()

	_, err = sb.CreateShell()
	assert.ErrorIs(t, err, ErrClosed)

	_, err = sb.Browser()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBrowserReusedUntilRecreated(t *testing.T) {
	m := newTestManager(t)
	sb, err := m.Create("browser-box")
	require.NoError(t, err)

	b1, err := sb.Browser()
	require.NoError(t, err)

	b2, err := sb.Browser()
	require.NoError(t, err)
	assert.Same(t, b1, b2, "live session is reused")

	b3, err := sb.CreateBrowser()
	require.NoError(t, err)
	assert.NotSame(t, b1, b3)
	assert.False(t, b1.IsActive(), "replaced session is closed")
}
