package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"powerbot/internal/apperr"
	"powerbot/internal/configstore"
	"powerbot/internal/logging"
)

const (
	startGraceDelay  = 400 * time.Millisecond
	stopGraceTimeout = 5 * time.Second
)

// record is a worker's full in-memory state: kind, persisted flags, a
// live process handle when running, the last exit code, and a channel
// closed when the process exits.
type record struct {
	kind       WorkerKind
	flagsStore *configstore.Store
	flags      flags
	state      State
	cmd        *exec.Cmd
	pid        int
	lastExit   *int
	lastErr    string
	exited     chan struct{}
}

// Manager supervises every worker process: start/stop/toggle/autorun and
// status reporting, one worker per WorkerKind.
type Manager struct {
	mu         sync.Mutex
	binaryPath string
	dataRoot   string
	bindAddrs  map[WorkerKind]string
	records    map[WorkerKind]*record
}

// NewManager returns a Manager that re-execs binaryPath for every worker
// and persists flags under dataRoot. bindAddrs supplies the host:port a
// worker listens on for `status` to report; workers with no server (or
// callers that don't care) are omitted or passed nil.
func NewManager(binaryPath, dataRoot string, bindAddrs map[WorkerKind]string) *Manager {
	m := &Manager{
		binaryPath: binaryPath,
		dataRoot:   dataRoot,
		bindAddrs:  bindAddrs,
		records:    make(map[WorkerKind]*record, len(AllWorkerKinds)),
	}
	for _, kind := range AllWorkerKinds {
		store := configstore.New(flagsPath(dataRoot, kind))
		var f flags
		_ = store.Load(&f) // missing file leaves f at its zero value (both false)
		m.records[kind] = &record{kind: kind, flagsStore: store, flags: f, state: StateDown}
	}
	return m
}

// StartAutorunWorkers starts every worker whose persisted autorun flag is
// true, called once at supervisor startup.
func (m *Manager) StartAutorunWorkers(ctx context.Context) {
	log := logging.For("supervisor")
	for _, kind := range AllWorkerKinds {
		m.mu.Lock()
		autorun := m.records[kind].flags.Autorun
		m.mu.Unlock()
		if !autorun {
			continue
		}
		if err := m.Start(ctx, kind); err != nil {
			log.Warn().Err(err).Str("worker", string(kind)).Msg("autorun start failed")
		}
	}
}

// Start spawns kind as an isolated child process, captures stdout/stderr
// into the shared log, and after a short grace delay confirms the
// process is still alive. On early failure the worker's enabled flag is
// forced false so a later manual command attempts a fresh start.
func (m *Manager) Start(ctx context.Context, kind WorkerKind) error {
	m.mu.Lock()
	rec, ok := m.records[kind]
	if !ok {
		m.mu.Unlock()
		return apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown worker kind %q", kind))
	}
	if rec.state != StateDown {
		m.mu.Unlock()
		return apperr.New(apperr.InvalidState, fmt.Sprintf("worker %s is already %s", kind, rec.state))
	}
	rec.state = StateStarting
	m.mu.Unlock()

	cmd := exec.Command(m.binaryPath, "--worker="+string(kind))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return m.failStart(rec, apperr.Wrap(apperr.ProcessLaunchFailed, "open stdout pipe", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return m.failStart(rec, apperr.Wrap(apperr.ProcessLaunchFailed, "open stderr pipe", err))
	}
	if err := cmd.Start(); err != nil {
		return m.failStart(rec, apperr.Wrap(apperr.ProcessLaunchFailed, "start worker process", err))
	}

	exited := make(chan struct{})
	waitErrCh := make(chan error, 1)
	go func() { waitErrCh <- cmd.Wait(); close(exited) }()

	go tailStream(kind, "stdout", stdout)
	go tailStream(kind, "stderr", stderr)

	select {
	case <-time.After(startGraceDelay):
		m.mu.Lock()
		rec.state = StateUp
		rec.cmd = cmd
		rec.pid = cmd.Process.Pid
		rec.exited = exited
		rec.flags.Enabled = true
		_ = rec.flagsStore.Save(rec.flags)
		m.mu.Unlock()
		go m.watch(rec, waitErrCh)
		return nil
	case waitErr := <-waitErrCh:
		msg := "exited during startup"
		if waitErr != nil {
			msg = waitErr.Error()
		}
		return m.failStart(rec, apperr.New(apperr.ProcessCrashed, msg))
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return m.failStart(rec, apperr.Wrap(apperr.ProcessLaunchFailed, "supervisor shutting down", ctx.Err()))
	}
}

// failStart records a failed launch, forcing enabled=false so the next
// manual command attempts a fresh start.
func (m *Manager) failStart(rec *record, err error) error {
	m.mu.Lock()
	rec.state = StateDown
	rec.lastErr = err.Error()
	rec.flags.Enabled = false
	_ = rec.flagsStore.Save(rec.flags)
	m.mu.Unlock()
	return err
}

// watch blocks until the worker's process exits on its own (a crash, not
// a supervisor-initiated Stop) and records the result.
func (m *Manager) watch(rec *record, waitErrCh chan error) {
	waitErr := <-waitErrCh
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.state == StateDown {
		return // already reaped by Stop
	}
	code := exitCode(waitErr)
	rec.state = StateDown
	rec.lastExit = &code
	rec.cmd = nil
	rec.pid = 0
	if waitErr != nil {
		rec.lastErr = waitErr.Error()
	}
}

// Stop sends a terminate signal, waits bounded, and escalates to kill.
func (m *Manager) Stop(kind WorkerKind) error {
	m.mu.Lock()
	rec, ok := m.records[kind]
	if !ok {
		m.mu.Unlock()
		return apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown worker kind %q", kind))
	}
	if rec.state == StateDown {
		m.mu.Unlock()
		rec.flags.Enabled = false
		_ = rec.flagsStore.Save(rec.flags)
		return nil
	}
	cmd := rec.cmd
	exited := rec.exited
	m.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-exited:
		case <-time.After(stopGraceTimeout):
			_ = cmd.Process.Kill()
			<-exited
		}
	}

	m.mu.Lock()
	rec.state = StateDown
	rec.cmd = nil
	rec.pid = 0
	rec.flags.Enabled = false
	_ = rec.flagsStore.Save(rec.flags)
	m.mu.Unlock()
	return nil
}

// Toggle flips whichever direction the persisted enabled flag currently
// points: an enabled worker is stopped, a disabled one is started.
func (m *Manager) Toggle(ctx context.Context, kind WorkerKind) error {
	m.mu.Lock()
	rec, ok := m.records[kind]
	if !ok {
		m.mu.Unlock()
		return apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown worker kind %q", kind))
	}
	enabled := rec.flags.Enabled
	m.mu.Unlock()
	if enabled {
		return m.Stop(kind)
	}
	return m.Start(ctx, kind)
}

// Autorun toggles (enable is nil) or sets the persisted autorun flag.
func (m *Manager) Autorun(kind WorkerKind, enable *bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[kind]
	if !ok {
		return false, apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown worker kind %q", kind))
	}
	if enable != nil {
		rec.flags.Autorun = *enable
	} else {
		rec.flags.Autorun = !rec.flags.Autorun
	}
	if err := rec.flagsStore.Save(rec.flags); err != nil {
		return rec.flags.Autorun, err
	}
	return rec.flags.Autorun, nil
}

// Status returns a point-in-time snapshot of kind.
func (m *Manager) Status(kind WorkerKind) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[kind]
	if !ok {
		return Status{}, apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown worker kind %q", kind))
	}
	return Status{
		Kind:         kind,
		State:        rec.state,
		Enabled:      rec.flags.Enabled,
		Autorun:      rec.flags.Autorun,
		PID:          rec.pid,
		LastExitCode: rec.lastExit,
		LastError:    rec.lastErr,
		BindAddr:     m.bindAddrs[kind],
		ConfigPath:   flagsPath(m.dataRoot, kind),
	}, nil
}

// StatusAll returns every worker's status in AllWorkerKinds order.
func (m *Manager) StatusAll() []Status {
	out := make([]Status, 0, len(AllWorkerKinds))
	for _, kind := range AllWorkerKinds {
		st, _ := m.Status(kind)
		out = append(out, st)
	}
	return out
}

// Shutdown stops every running worker, for use during supervisor
// graceful shutdown.
func (m *Manager) Shutdown() {
	for _, kind := range AllWorkerKinds {
		m.mu.Lock()
		down := m.records[kind].state == StateDown
		m.mu.Unlock()
		if !down {
			_ = m.Stop(kind)
		}
	}
}

// tailStream reads r line by line, classifying and logging each line
// under the worker's component tag, until r is closed (the worker exits).
func tailStream(kind WorkerKind, stream string, r io.Reader) {
	log := logging.For("supervisor").With().Str("worker", string(kind)).Str("stream", stream).Logger()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		log.WithLevel(logging.ClassifyLine(line)).Msg(line)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
