// Package supervisor implements worker process lifecycle management: a
// fixed set of named workers, each started as a re-exec'd child process of
// the same binary, with persisted enabled/autorun flags and stdout/stderr
// tailed into the shared console log.
package supervisor

// WorkerKind names one of the five supervised worker processes.
type WorkerKind string

const (
	WorkerWeb          WorkerKind = "web"
	WorkerChatBot      WorkerKind = "chat_bot"
	WorkerChatWatcher  WorkerKind = "chat_watcher"
	WorkerBackup       WorkerKind = "backup"
	WorkerWebsocketHub WorkerKind = "websocket_hub"
)

// AllWorkerKinds lists every supervised worker in a stable order, for
// startup iteration and `status` listings.
var AllWorkerKinds = []WorkerKind{WorkerWeb, WorkerChatBot, WorkerChatWatcher, WorkerBackup, WorkerWebsocketHub}

// State is a worker's lifecycle state.
type State string

const (
	StateDown     State = "DOWN"
	StateStarting State = "STARTING"
	StateUp       State = "UP"
)

// Status is a point-in-time snapshot of one worker, as `status` reports it.
type Status struct {
	Kind         WorkerKind
	State        State
	Enabled      bool
	Autorun      bool
	PID          int
	LastExitCode *int
	LastError    string
	BindAddr     string // host:port the worker listens on; empty for workers with no server
	ConfigPath   string // persisted flags/config file backing this worker
}

// flags is the persisted enabled/autorun pair for one worker kind.
type flags struct {
	Enabled bool `json:"enabled"`
	Autorun bool `json:"autorun"`
}
