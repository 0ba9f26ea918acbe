package solanawatch

import (
	"time"

	"github.com/syntrixbase/slotwatch/internal/watcher"
)

// AccountDefaults returns the engine configuration used for account watchers.
func AccountDefaults() watcher.Config {
	cfg := watcher.DefaultConfig()
	cfg.PollInterval = 5 * time.Second
	cfg.MaxRetries = 3
	return cfg
}

// ProgramLogsDefaults returns the engine configuration used for program log
// watchers.
func ProgramLogsDefaults() watcher.Config {
	cfg := watcher.DefaultConfig()
	cfg.PollInterval = 4 * time.Second
	cfg.MaxRetries = 3
	return cfg
}

// TransactionLogsDefaults returns the engine configuration used for
// transaction log watchers. There is no poll to schedule.
func TransactionLogsDefaults() watcher.Config {
	cfg := watcher.DefaultConfig()
	cfg.MaxRetries = 3
	return cfg
}
