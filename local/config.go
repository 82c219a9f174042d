package local

import (
	"errors"
	"fmt"
	"time"

	"github.com/rashee1997/orchestrator-sub006/provider"
)

// Defaults.
const (
	DefaultStartupTimeout = 30 * time.Second
	DefaultStopTimeout    = 5 * time.Second
)

// settings is the transport configuration resolved from provider.Config.
type settings struct {
	id             string
	command        string
	args           []string
	env            map[string]string
	workdir        string
	backend        string
	host           string
	initOptions    map[string]any
	startupTimeout time.Duration
	stopTimeout    time.Duration
	requestTimeout time.Duration
	maxTokens      int
}

// parseSettings reads the sidecar command from cfg.Command/Args and the
// rest from Options:
//   - "backend", "host": passed to the sidecar's init call
//   - "init_options": map passed to init as is
//   - "workdir": working directory
//   - "startup_timeout", "stop_timeout": durations ("30s") or seconds
func parseSettings(cfg provider.Config) (settings, error) {
	if cfg.Command == "" {
		return settings{}, errors.New("local transport: command is required")
	}
	s := settings{
		id:             cfg.ID("local"),
		command:        cfg.Command,
		args:           append([]string(nil), cfg.Args...),
		env:            cfg.Env,
		workdir:        cfg.GetStringOption("workdir", ""),
		backend:        cfg.GetStringOption("backend", ""),
		host:           cfg.GetStringOption("host", ""),
		requestTimeout: cfg.Timeout,
		maxTokens:      cfg.MaxTokens,
	}
	if opts, ok := cfg.Options["init_options"].(map[string]any); ok {
		s.initOptions = opts
	}

	var err error
	if s.startupTimeout, err = durationOption(cfg, "startup_timeout", DefaultStartupTimeout); err != nil {
		return settings{}, err
	}
	if s.stopTimeout, err = durationOption(cfg, "stop_timeout", DefaultStopTimeout); err != nil {
		return settings{}, err
	}
	return s, nil
}

// durationOption accepts a Go duration string or a number of seconds, as
// YAML and TOML decode either into Options.
func durationOption(cfg provider.Config, key string, def time.Duration) (time.Duration, error) {
	var d time.Duration
	switch v := cfg.Options[key].(type) {
	case nil:
		return def, nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("local transport: %s: %w", key, err)
		}
		d = parsed
	case int:
		d = time.Duration(v) * time.Second
	case int64:
		d = time.Duration(v) * time.Second
	case float64:
		d = time.Duration(v * float64(time.Second))
	default:
		return 0, fmt.Errorf("local transport: %s: unsupported type %T", key, v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("local transport: %s must be > 0, got %v", key, d)
	}
	return d, nil
}
