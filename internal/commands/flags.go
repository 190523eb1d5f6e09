package commands

// Flags holds the global flags shared by every command.
type Flags struct {
	// ConfigPath names an optional YAML config file. Empty means defaults
	// plus environment only.
	ConfigPath string
}
