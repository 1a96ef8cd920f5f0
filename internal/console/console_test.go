package console

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerbot/internal/supervisor"
)

// TestMain lets this test binary double as the worker process the
// supervisor.Manager under test re-execs, mirroring the supervisor
// package's own helper-process test setup.
func TestMain(m *testing.M) {
	if os.Getenv("POWERBOT_TEST_HELPER_PROCESS") == "1" {
		fmt.Println("helper worker starting")
		time.Sleep(10 * time.Second)
		return
	}
	os.Exit(m.Run())
}

func newTestConsole(t *testing.T) (*Console, *bytes.Buffer) {
	t.Helper()
	binaryPath, err := os.Executable()
	require.NoError(t, err)
	t.Setenv("POWERBOT_TEST_HELPER_PROCESS", "1")

	mgr := supervisor.NewManager(binaryPath, t.TempDir(), map[supervisor.WorkerKind]string{supervisor.WorkerWeb: "0.0.0.0:8090"})
	t.Cleanup(mgr.Shutdown)

	var out bytes.Buffer
	return New(mgr, strings.NewReader(""), &out), &out
}

func TestDispatchTogglesWorkerWithNoArgs(t *testing.T) {
	c, _ := newTestConsole(t)
	ctx := context.Background()

	require.NoError(t, c.dispatch(ctx, "web"))
	st, err := c.manager.Status(supervisor.WorkerWeb)
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateUp, st.State)

	require.NoError(t, c.dispatch(ctx, "web"))
	st, err = c.manager.Status(supervisor.WorkerWeb)
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateDown, st.State)
}

func TestDispatchAcceptsPlatformAliases(t *testing.T) {
	c, _ := newTestConsole(t)
	ctx := context.Background()

	require.NoError(t, c.dispatch(ctx, "discord start"))
	t.Cleanup(func() { _ = c.manager.Stop(supervisor.WorkerChatBot) })

	st, err := c.manager.Status(supervisor.WorkerChatBot)
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateUp, st.State)
}

func TestDispatchRejectsUnknownWorker(t *testing.T) {
	c, _ := newTestConsole(t)
	err := c.dispatch(context.Background(), "nonsense start")
	require.Error(t, err)
}

func TestDispatchStatusPrintsSnapshot(t *testing.T) {
	c, out := newTestConsole(t)
	require.NoError(t, c.dispatch(context.Background(), "backup status"))
	assert.Contains(t, out.String(), "backup")
	assert.Contains(t, out.String(), "state=DOWN")
	assert.Contains(t, out.String(), "config_path=")
}

func TestDispatchStatusPrintsBindAddrWhenConfigured(t *testing.T) {
	c, out := newTestConsole(t)
	require.NoError(t, c.dispatch(context.Background(), "web status"))
	assert.Contains(t, out.String(), "bind_addr=0.0.0.0:8090")
}

func TestDispatchAutorunSetsPersistedFlag(t *testing.T) {
	c, out := newTestConsole(t)
	require.NoError(t, c.dispatch(context.Background(), "web autorun true"))
	assert.Contains(t, out.String(), "autorun=true")

	st, err := c.manager.Status(supervisor.WorkerWeb)
	require.NoError(t, err)
	assert.True(t, st.Autorun)
}

func TestRunTolerates10ConsecutiveErrorsWithoutExiting(t *testing.T) {
	c, out := newTestConsole(t)

	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, "nonsense")
	}
	lines = append(lines, "web status")
	c.in = bufio.NewScanner(strings.NewReader(strings.Join(lines, "\n")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.Run(ctx)

	assert.Contains(t, out.String(), "too many consecutive errors")
	assert.Contains(t, out.String(), "web: state=DOWN")
}
