package supervisor

import "path/filepath"

// flagsPath returns the persisted enabled/autorun settings file for kind.
// The backup worker and the chat bot each already own a per-worker
// config file in the data root layout; the remaining workers get a
// <kind>/toggle_on_off.json file of their own.
func flagsPath(dataRoot string, kind WorkerKind) string {
	switch kind {
	case WorkerBackup:
		return filepath.Join(dataRoot, "backup", "supervisor_flags.json")
	case WorkerChatBot:
		return filepath.Join(dataRoot, "bot_config.json")
	default:
		return filepath.Join(dataRoot, string(kind), "toggle_on_off.json")
	}
}
