// Package config loads the optional ndexport YAML config file.
//
// A config file is validated against an embedded CUE schema before it is
// decoded, so a typo in a field name or an out-of-range value is reported
// with its position instead of being silently ignored. Command-line flags
// override whatever the file sets.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Built-in defaults.
const (
	DefaultChunkSize   = 5000
	DefaultScrollTTL   = 5 * time.Minute
	DefaultTimeout     = 60 * time.Second
	DefaultMaxAttempts = 10
	DefaultRetryWait   = 5 * time.Second
	DefaultWorkers     = 1
)

// Config is the merged configuration of one ndexport invocation.
type Config struct {
	Elastic  Elastic  `yaml:"elastic"`
	Retry    Retry    `yaml:"retry"`
	Database Database `yaml:"database"`
	MySQL    DSN      `yaml:"mysql"`
	Postgres DSN      `yaml:"postgres"`
	SQLite   DSN      `yaml:"sqlite"`
	Export   Export   `yaml:"export"`
}

// Elastic configures the search-engine source.
type Elastic struct {
	ScrollTTL time.Duration `yaml:"scroll_ttl"`
	ChunkSize int           `yaml:"chunk_size"`
	Scan      bool          `yaml:"scan"`
	Query     string        `yaml:"query"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Retry configures the transport retry policy.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Wait        time.Duration `yaml:"wait"`
}

// Database names the default driver of store_database.
type Database struct {
	Driver string `yaml:"driver"`
}

// DSN holds the connection string of one database.
type DSN struct {
	DSN string `yaml:"dsn"`
}

// Export configures the orchestrator.
type Export struct {
	ChunkSize int    `yaml:"chunk_size"`
	Workers   int    `yaml:"workers"`
	Journal   string `yaml:"journal"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Elastic: Elastic{
			ScrollTTL: DefaultScrollTTL,
			ChunkSize: DefaultChunkSize,
			Timeout:   DefaultTimeout,
		},
		Retry: Retry{
			MaxAttempts: DefaultMaxAttempts,
			Wait:        DefaultRetryWait,
		},
		Export: Export{
			ChunkSize: DefaultChunkSize,
			Workers:   DefaultWorkers,
		},
	}
}

// DSNFor returns the configured DSN of a canonical driver name.
func (c Config) DSNFor(driver string) string {
	switch driver {
	case "mysql":
		return c.MySQL.DSN
	case "postgres":
		return c.Postgres.DSN
	case "sqlite":
		return c.SQLite.DSN
	}
	return ""
}

// Load reads the config file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates and decodes config file contents. name labels error
// positions.
func Parse(name string, data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := Validate(name, data); err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config %s: %w", name, err)
	}

	// The scroll page size and the progress interval follow each other
	// unless the file sets both.
	var set struct {
		Elastic struct {
			ChunkSize *int `yaml:"chunk_size"`
		} `yaml:"elastic"`
		Export struct {
			ChunkSize *int `yaml:"chunk_size"`
		} `yaml:"export"`
	}
	if err := yaml.Unmarshal(data, &set); err != nil {
		return Config{}, fmt.Errorf("failed to decode config %s: %w", name, err)
	}
	switch {
	case set.Elastic.ChunkSize != nil && set.Export.ChunkSize == nil:
		cfg.Export.ChunkSize = cfg.Elastic.ChunkSize
	case set.Export.ChunkSize != nil && set.Elastic.ChunkSize == nil:
		cfg.Elastic.ChunkSize = cfg.Export.ChunkSize
	}
	return cfg, nil
}

// Issue is one schema violation.
type Issue struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (i Issue) String() string {
	var b strings.Builder
	if i.Pos.IsValid() {
		fmt.Fprintf(&b, "%s:%d:%d: ", i.Pos.Filename(), i.Pos.Line(), i.Pos.Column())
	}
	if i.Path != "" {
		b.WriteString(i.Path)
		b.WriteString(": ")
	}
	b.WriteString(i.Message)
	return b.String()
}

// ValidationError lists every schema violation of a config file.
type ValidationError struct {
	Name   string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	lines := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		lines[i] = issue.String()
	}
	return fmt.Sprintf("invalid config %s:\n  %s", e.Name, strings.Join(lines, "\n  "))
}

// Validate checks YAML config contents against the embedded schema.
func Validate(name string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", name, err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", name, err)
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return toValidationError(name, err)
	}
	return nil
}

func toValidationError(name string, err error) error {
	verr := &ValidationError{Name: name}
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		issue := Issue{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		if positions := cueerrors.Positions(e); len(positions) > 0 {
			issue.Pos = positions[0]
		}
		verr.Issues = append(verr.Issues, issue)
	}
	if len(verr.Issues) == 0 {
		return fmt.Errorf("invalid config %s: %w", name, err)
	}
	return verr
}
