package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds all runtime configuration.
// Values are layered: built-in defaults, then an optional TOML file,
// then DATALAB_* environment variables.
type Config struct {
	Model        string `toml:"model"`          // DATALAB_MODEL (default "gpt-5")
	APIKey       string `toml:"api_key"`        // DATALAB_API_KEY (required unless RelayURL is set)
	APIBase      string `toml:"api_base"`       // DATALAB_API_BASE (default "https://api.openai.com")
	RelayURL     string `toml:"relay_url"`      // DATALAB_RELAY_URL (full endpoint of a relay, optional)
	AppToken     string `toml:"app_token"`      // DATALAB_APP_TOKEN (sent as x-app-token when relaying)
	RunsRoot     string `toml:"runs_root"`      // DATALAB_RUNS_ROOT (default ".datalab/runs")
	CatalogPath  string `toml:"catalog_path"`   // DATALAB_CATALOG (default ".datalab/catalog.duckdb")
	Interpreter  string `toml:"interpreter"`    // DATALAB_INTERPRETER (default "python3")
	CellExt      string `toml:"cell_ext"`       // DATALAB_CELL_EXT (default "py")
	Shell        string `toml:"shell"`          // DATALAB_SHELL (default "/bin/sh")
	ShellTimeout int    `toml:"shell_timeout"`  // DATALAB_SHELL_TIMEOUT in seconds (default 600)
	MaxTurns     int    `toml:"max_turns"`      // DATALAB_MAX_TURNS (default 20)
	MaxOutput    int    `toml:"max_output"`     // DATALAB_MAX_OUTPUT in bytes (default 20480)
	LogDecisions bool   `toml:"log_decisions"`  // DATALAB_LOG_DECISIONS (default false)
	DumpContext  bool   `toml:"dump_context"`   // DATALAB_DUMP_CONTEXT (default false)
}

// Load returns a validated Config. path names a TOML file to layer over
// the defaults; when empty, DATALAB_CONFIG is consulted, then ./datalab.toml
// is probed. An explicitly named file must exist.
func Load(path string) (*Config, error) {
	c := &Config{
		Model:        "gpt-5",
		APIBase:      "https://api.openai.com",
		RunsRoot:     ".datalab/runs",
		CatalogPath:  ".datalab/catalog.duckdb",
		Interpreter:  "python3",
		CellExt:      "py",
		Shell:        "/bin/sh",
		ShellTimeout: 600,
		MaxTurns:     20,
		MaxOutput:    20480,
	}

	explicit := true
	if path == "" {
		path = os.Getenv("DATALAB_CONFIG")
	}
	if path == "" {
		// Probed, not required.
		path = "datalab.toml"
		explicit = false
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		if !os.IsNotExist(err) || explicit {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	// --- String fields ---
	envStr("DATALAB_MODEL", &c.Model)
	envStr("DATALAB_API_KEY", &c.APIKey)
	envStr("DATALAB_API_BASE", &c.APIBase)
	envStr("DATALAB_RELAY_URL", &c.RelayURL)
	envStr("DATALAB_APP_TOKEN", &c.AppToken)
	envStr("DATALAB_RUNS_ROOT", &c.RunsRoot)
	envStr("DATALAB_CATALOG", &c.CatalogPath)
	envStr("DATALAB_INTERPRETER", &c.Interpreter)
	envStr("DATALAB_CELL_EXT", &c.CellExt)
	envStr("DATALAB_SHELL", &c.Shell)

	// --- Integer fields ---
	var err error
	if err = envInt("DATALAB_SHELL_TIMEOUT", &c.ShellTimeout); err != nil {
		return nil, err
	}
	if err = envInt("DATALAB_MAX_TURNS", &c.MaxTurns); err != nil {
		return nil, err
	}
	if err = envInt("DATALAB_MAX_OUTPUT", &c.MaxOutput); err != nil {
		return nil, err
	}

	// --- Boolean fields ---
	if err = envBool("DATALAB_LOG_DECISIONS", &c.LogDecisions); err != nil {
		return nil, err
	}
	if err = envBool("DATALAB_DUMP_CONTEXT", &c.DumpContext); err != nil {
		return nil, err
	}

	// A relay authenticates with the app token, so the provider key is
	// only required for direct access.
	if c.APIKey == "" && c.RelayURL == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.APIKey == "" && c.RelayURL == "" {
		return nil, fmt.Errorf("API key required: set DATALAB_API_KEY or OPENAI_API_KEY (or use DATALAB_RELAY_URL)")
	}

	return c, nil
}

// envStr overwrites dst when the variable is set and non-empty.
func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt overwrites dst when the variable is set, erroring on junk.
func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

// envBool overwrites dst when the variable is set, erroring on junk.
func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	*dst = b
	return nil
}
