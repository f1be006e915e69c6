package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied to a running transcription; every other section is read
// once at startup.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the changed sections that only take effect on
	// the next start, in file order.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Stream, new.Stream) {
		d.RestartRequired = append(d.RestartRequired, "stream")
	}
	if !reflect.DeepEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !reflect.DeepEqual(old.Recognizer, new.Recognizer) {
		d.RestartRequired = append(d.RestartRequired, "recognizer")
	}
	return d
}
