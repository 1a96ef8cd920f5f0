package supervisor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain lets this same test binary double as the worker process Manager
// re-execs, the standard trick for testing os/exec-based supervision
// without a real external binary (see os/exec's own TestHelperProcess).
func TestMain(m *testing.M) {
	if os.Getenv("POWERBOT_TEST_HELPER_PROCESS") == "1" {
		runHelperProcess()
		return
	}
	os.Exit(m.Run())
}

func runHelperProcess() {
	fmt.Println("helper worker starting")
	switch os.Getenv("POWERBOT_TEST_HELPER_BEHAVIOR") {
	case "crash":
		fmt.Fprintln(os.Stderr, "simulated exception during startup")
		os.Exit(1)
	default:
		time.Sleep(10 * time.Second)
	}
}

func newTestManager(t *testing.T, behavior string) *Manager {
	t.Helper()
	binaryPath, err := os.Executable()
	require.NoError(t, err)

	t.Setenv("POWERBOT_TEST_HELPER_PROCESS", "1")
	t.Setenv("POWERBOT_TEST_HELPER_BEHAVIOR", behavior)

	return NewManager(binaryPath, t.TempDir(), map[WorkerKind]string{WorkerWeb: "0.0.0.0:8090"})
}

func TestManagerStartReportsUpForLongRunningWorker(t *testing.T) {
	mgr := newTestManager(t, "survive")
	ctx := context.Background()

	err := mgr.Start(ctx, WorkerWeb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Stop(WorkerWeb) })

	st, err := mgr.Status(WorkerWeb)
	require.NoError(t, err)
	assert.Equal(t, StateUp, st.State)
	assert.True(t, st.Enabled)
	assert.Greater(t, st.PID, 0)
	assert.Equal(t, "0.0.0.0:8090", st.BindAddr)
	assert.NotEmpty(t, st.ConfigPath)
}

func TestManagerStartFailsForAlreadyRunningWorker(t *testing.T) {
	mgr := newTestManager(t, "survive")
	ctx := context.Background()

	require.NoError(t, mgr.Start(ctx, WorkerWeb))
	t.Cleanup(func() { _ = mgr.Stop(WorkerWeb) })

	err := mgr.Start(ctx, WorkerWeb)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already"))
}

func TestManagerStartDetectsCrashDuringGracePeriod(t *testing.T) {
	mgr := newTestManager(t, "crash")
	ctx := context.Background()

	err := mgr.Start(ctx, WorkerBackup)
	require.Error(t, err)

	st, err := mgr.Status(WorkerBackup)
	require.NoError(t, err)
	assert.Equal(t, StateDown, st.State)
	assert.False(t, st.Enabled)
}

func TestManagerStopTransitionsToDown(t *testing.T) {
	mgr := newTestManager(t, "survive")
	ctx := context.Background()

	require.NoError(t, mgr.Start(ctx, WorkerChatBot))
	require.NoError(t, mgr.Stop(WorkerChatBot))

	st, err := mgr.Status(WorkerChatBot)
	require.NoError(t, err)
	assert.Equal(t, StateDown, st.State)
	assert.False(t, st.Enabled)
	assert.Empty(t, st.BindAddr, "chat_bot has no listening address")
}

func TestManagerToggleStartsThenStops(t *testing.T) {
	mgr := newTestManager(t, "survive")
	ctx := context.Background()

	require.NoError(t, mgr.Toggle(ctx, WorkerChatWatcher))
	st, err := mgr.Status(WorkerChatWatcher)
	require.NoError(t, err)
	assert.Equal(t, StateUp, st.State)

	require.NoError(t, mgr.Toggle(ctx, WorkerChatWatcher))
	st, err = mgr.Status(WorkerChatWatcher)
	require.NoError(t, err)
	assert.Equal(t, StateDown, st.State)
}

func TestManagerAutorunPersistsAcrossNewManager(t *testing.T) {
	binaryPath, err := os.Executable()
	require.NoError(t, err)
	t.Setenv("POWERBOT_TEST_HELPER_PROCESS", "1")
	t.Setenv("POWERBOT_TEST_HELPER_BEHAVIOR", "survive")
	dataRoot := t.TempDir()

	mgr := NewManager(binaryPath, dataRoot, nil)
	enabled, err := mgr.Autorun(WorkerWebsocketHub, boolPtr(true))
	require.NoError(t, err)
	assert.True(t, enabled)

	mgr2 := NewManager(binaryPath, dataRoot, nil)
	st, err := mgr2.Status(WorkerWebsocketHub)
	require.NoError(t, err)
	assert.True(t, st.Autorun)
}

func TestManagerStatusAllCoversEveryWorkerKind(t *testing.T) {
	mgr := newTestManager(t, "survive")
	statuses := mgr.StatusAll()
	assert.Len(t, statuses, len(AllWorkerKinds))
}

func boolPtr(b bool) *bool { return &b }
