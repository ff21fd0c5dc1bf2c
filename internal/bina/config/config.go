// Package config holds the bina settings shared by every command. Values
// come from BINA_* environment variables and are then overridden by flags.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/caarlos0/env/v8"
	"github.com/invopop/jsonschema"
)

// Config is the bina configuration.
type Config struct {
	Debug     bool   `env:"BINA_DEBUG" json:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
	LogFile   string `env:"BINA_LOG_FILE" json:"logFile,omitempty" jsonschema:"title=Log File,description=Write slog records to this file instead of stderr"`
	NoColor   bool   `env:"BINA_NO_COLOR" json:"noColor" jsonschema:"title=No Color,description=Disable colored listings"`
	Theme     string `env:"BINA_THEME" envDefault:"vscode" json:"theme" jsonschema:"title=Theme,description=Markdown report theme,enum=vscode,enum=charm"`
	GraphFile string `env:"BINA_GRAPH_FILE" envDefault:"graph.dot" json:"graphFile" jsonschema:"title=Graph File,description=DOT output of the cfg command"`
	TraceFile string `env:"BINA_TRACE_FILE" envDefault:"trace.dot" json:"traceFile" jsonschema:"title=Trace File,description=DOT output of the trace command"`
	Mode      int    `env:"BINA_X86_MODE" envDefault:"0" json:"x86Mode" jsonschema:"title=x86 Mode,description=Force 32 or 64 bit x86 decoding; 0 follows the ELF class,enum=0,enum=32,enum=64"`
	Section   string `env:"BINA_SECTION" envDefault:".text" json:"section" jsonschema:"title=Section,description=ELF section to disassemble"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads the configuration from vars instead of the process
// environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c *Config) Validate() error {
	switch c.Mode {
	case 0, 32, 64:
	default:
		return fmt.Errorf("BINA_X86_MODE must be 0, 32 or 64, got %d", c.Mode)
	}
	if c.Section == "" {
		return fmt.Errorf("BINA_SECTION must not be empty")
	}
	return nil
}

// Schema returns the JSON schema of Config.
func Schema() ([]byte, error) {
	reflector := new(jsonschema.Reflector)
	bts, err := json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return bts, nil
}
