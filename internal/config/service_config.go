package config

// Section defines the configuration lifecycle every section follows.
type Section interface {
	// ApplyDefaults fills zero values with defaults
	ApplyDefaults()

	// ApplyEnvOverrides applies SLOTWATCH_* environment variable overrides
	ApplyEnvOverrides()

	// ResolvePaths resolves relative paths against the config directory
	ResolvePaths(configDir string)

	// Validate returns an error if the section is invalid
	Validate() error
}

// ApplySections runs the lifecycle over each section in order and stops at
// the first invalid one.
func ApplySections(configDir string, sections ...Section) error {
	for _, s := range sections {
		s.ApplyDefaults()
		s.ApplyEnvOverrides()
		s.ResolvePaths(configDir)
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
