// Package console implements the supervisor's interactive REPL: a noun-first
// command line (`<worker> <verb>`) dispatched against a supervisor.Manager,
// tolerant of a run of bad commands without ever exiting on its own.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"powerbot/internal/supervisor"
)

// maxConsecutiveErrors is how many bad commands in a row the loop
// tolerates before pausing and resetting its counter.
const maxConsecutiveErrors = 10

// errorPause is how long the loop pauses after maxConsecutiveErrors.
const errorPause = time.Second

// workerAliases maps alternate CLI nouns onto the canonical WorkerKind,
// covering both the generalized worker names and the platform-specific
// ones a deployment's operators are used to typing.
var workerAliases = map[string]supervisor.WorkerKind{
	"web":           supervisor.WorkerWeb,
	"chat_bot":      supervisor.WorkerChatBot,
	"discord":       supervisor.WorkerChatBot,
	"chat_watcher":  supervisor.WorkerChatWatcher,
	"youtube":       supervisor.WorkerChatWatcher,
	"backup":        supervisor.WorkerBackup,
	"websocket_hub": supervisor.WorkerWebsocketHub,
	"wsocket":       supervisor.WorkerWebsocketHub,
}

// Console drives the command loop over an input/output pair.
type Console struct {
	manager *supervisor.Manager
	in      *bufio.Scanner
	out     io.Writer
}

// New returns a Console reading lines from in and writing replies to out.
func New(manager *supervisor.Manager, in io.Reader, out io.Writer) *Console {
	return &Console{manager: manager, in: bufio.NewScanner(in), out: out}
}

// Run reads and dispatches commands until ctx is cancelled or the input
// stream reaches EOF. It never returns an error: individual command
// failures are printed and counted, not propagated.
func (c *Console) Run(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for c.in.Scan() {
			lines <- c.in.Text()
		}
	}()

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.dispatch(ctx, line); err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
				consecutiveErrors++
				if consecutiveErrors >= maxConsecutiveErrors {
					fmt.Fprintf(c.out, "too many consecutive errors, pausing\n")
					consecutiveErrors = 0
					select {
					case <-ctx.Done():
						return
					case <-time.After(errorPause):
					}
				}
			} else {
				consecutiveErrors = 0
			}
		}
	}
}

// dispatch parses one noun-first command line and applies it.
func (c *Console) dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	noun := strings.ToLower(fields[0])
	kind, ok := workerAliases[noun]
	if !ok {
		return fmt.Errorf("unknown worker %q", fields[0])
	}
	args := fields[1:]

	if len(args) == 0 {
		return c.manager.Toggle(ctx, kind)
	}

	switch strings.ToLower(args[0]) {
	case "on", "start", "true", "1":
		return c.manager.Start(ctx, kind)
	case "off", "stop", "false", "0":
		return c.manager.Stop(kind)
	case "status":
		return c.printStatus(kind)
	case "autorun":
		return c.autorun(kind, args[1:])
	default:
		return fmt.Errorf("unknown command %q for worker %q", args[0], noun)
	}
}

func (c *Console) autorun(kind supervisor.WorkerKind, args []string) error {
	var enable *bool
	if len(args) > 0 {
		v, err := parseBoolToken(args[0])
		if err != nil {
			return err
		}
		enable = &v
	}
	newValue, err := c.manager.Autorun(kind, enable)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "autorun=%v\n", newValue)
	return nil
}

func (c *Console) printStatus(kind supervisor.WorkerKind) error {
	st, err := c.manager.Status(kind)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s: state=%s enabled=%v autorun=%v pid=%d\n",
		st.Kind, st.State, st.Enabled, st.Autorun, st.PID)
	bindAddr := st.BindAddr
	if bindAddr == "" {
		bindAddr = "-"
	}
	fmt.Fprintf(c.out, "  bind_addr=%s config_path=%s\n", bindAddr, st.ConfigPath)
	if st.LastExitCode != nil {
		fmt.Fprintf(c.out, "  last_exit_code=%d last_error=%s\n", *st.LastExitCode, st.LastError)
	}
	return nil
}

func parseBoolToken(token string) (bool, error) {
	switch strings.ToLower(token) {
	case "true", "1", "on":
		return true, nil
	case "false", "0", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", token)
	}
}
