package cli

// Options carries the global command-line flags. Empty fields keep the
// value from the config file or environment.
type Options struct {
	ConfigPath     string
	Backend        string
	DefinitionsDir string
	SQLitePath     string
	RedisAddr      string
	JSON           bool
	Debug          bool
}
