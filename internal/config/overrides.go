package config

// Overrides carries command-line values that take precedence over both the
// config file and the defaults. Nil fields were not set on the command line
// and leave the underlying value untouched.
type Overrides struct {
	Port     *int
	Host     *string
	Debug    *bool
	LogLevel *string

	DiagramsDir *string
	LogsDir     *string

	AgentTimeout *string
}

// Apply writes the set overrides onto cfg.
func (o *Overrides) Apply(cfg *Config) {
	if o == nil {
		return
	}
	if o.Port != nil {
		cfg.Port = *o.Port
	}
	if o.Host != nil {
		cfg.Host = *o.Host
	}
	if o.Debug != nil {
		cfg.Debug = *o.Debug
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.DiagramsDir != nil {
		cfg.DiagramsDir = *o.DiagramsDir
	}
	if o.LogsDir != nil {
		cfg.LogsDir = *o.LogsDir
	}
	if o.AgentTimeout != nil {
		cfg.AgentTimeout = *o.AgentTimeout
	}
}
