package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked — provider and
// storage settings require a process restart, so they're not diffed here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SearchChanged bool
	NewSearch     SearchConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart: log level and
// the search tunables consumed by [searchv2.Engine] (spec §6's tunables are
// documented as configuration-surfaced, which implies they're reloadable
// without restarting the process).
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Search != new.Search {
		d.SearchChanged = true
		d.NewSearch = new.Search
	}

	return d
}
