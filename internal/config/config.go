/*
Package config handles YAML configuration loading, environment
overrides, validation, and CLI flag merging for usermetrics.

Configuration is resolved in this order (highest priority first):
 1. CLI flags (explicitly passed)
 2. Environment variables
 3. The .env file (never overrides the real environment)
 4. Config file values
 5. Built-in defaults
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/compassvpn/user-metrics/internal/ipfilter"
	"github.com/compassvpn/user-metrics/internal/state"
	"github.com/compassvpn/user-metrics/internal/tracker"
)

// Environment variables read by ApplyEnv.
const (
	EnvPort         = "USER_METRICS_PORT"
	EnvInterval     = "USER_METRICS_INTERVAL"
	EnvMinutes      = "USER_METRICS_MINUTES"
	EnvLogPath      = "USER_METRICS_LOG_PATH"
	EnvDebug        = "USER_METRICS_DEBUG"
	EnvLogDir       = "USER_METRICS_LOG_DIR"
	EnvSelfMetrics  = "USER_METRICS_SELF_METRICS"
	EnvStateBackend = "USER_METRICS_STATE_BACKEND"
	EnvDonor        = "DONOR"
)

// DefaultLogPath is where xray writes its access log on compassvpn nodes.
const DefaultLogPath = "/var/log/compassvpn/xray_access.log"

// Config is the top-level configuration for usermetrics.
type Config struct {
	Port        int      `yaml:"port"`
	Interval    Duration `yaml:"interval"`
	Window      Duration `yaml:"window"`
	LogPath     string   `yaml:"log_path"`
	Donor       string   `yaml:"donor"`
	Verbose     bool     `yaml:"verbose"`
	LogDir      string   `yaml:"log_dir"`
	SelfMetrics bool     `yaml:"self_metrics"`
	Tracker     Tracker  `yaml:"tracker"`
	Filter      Filter   `yaml:"filter"`
	State       State    `yaml:"state"`
	Timeouts    Timeouts `yaml:"timeouts"`
}

// Tracker bounds the per-cycle connection tracker.
type Tracker struct {
	MaxEntries     int      `yaml:"max_entries"`
	SweepThreshold int      `yaml:"sweep_threshold"`
	SweepInterval  Duration `yaml:"sweep_interval"`
}

// Filter extends the built-in set of addresses that are never counted.
type Filter struct {
	MemoSize       int      `yaml:"memo_size"`
	ExtraAddresses []string `yaml:"extra_addresses"`
	ExtraNetworks  []string `yaml:"extra_networks"`
	// ExcludeFile is a list file with one address or CIDR per line.
	ExcludeFile string `yaml:"exclude_file"`
}

// State selects where the log cursor is persisted.
type State struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Redis   Redis  `yaml:"redis"`
}

// Redis holds the redis state backend connection.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// Timeouts holds server timeout configuration.
type Timeouts struct {
	Shutdown   Duration `yaml:"shutdown"`
	ReadHeader Duration `yaml:"read_header"`
}

// Default returns a Config populated with built-in defaults.
func Default() Config {
	return Config{
		Port:     9551,
		Interval: Duration{300 * time.Second},
		Window:   Duration{2 * time.Minute},
		LogPath:  DefaultLogPath,
		Donor:    "vmvm",
		Tracker: Tracker{
			MaxEntries:     tracker.DefaultMaxEntries,
			SweepThreshold: tracker.DefaultSweepThreshold,
			SweepInterval:  Duration{tracker.DefaultSweepInterval},
		},
		Filter: Filter{
			MemoSize: ipfilter.DefaultMemoSize,
		},
		State: State{
			Backend: state.BackendMemory,
			Path:    "usermetrics.db",
			Redis: Redis{
				Addr: "127.0.0.1:6379",
				Key:  state.DefaultRedisKey,
			},
		},
		Timeouts: Timeouts{
			Shutdown:   Duration{5 * time.Second},
			ReadHeader: Duration{10 * time.Second},
		},
	}
}

// Load reads a config file from disk and parses it. If path is empty,
// it searches for usermetrics.yml or usermetrics.yaml in the working
// directory. Returns the parsed config and the path that was loaded
// (empty if none found).
func Load(path string) (Config, string, error) {
	cfg := Default()

	if path == "" {
		path = discover()
		if path == "" {
			return cfg, "", nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, path, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, path, nil
}

// discover searches for a config file in the working directory.
func discover() string {
	for _, name := range []string{"usermetrics.yml", "usermetrics.yaml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// LoadEnvFile adds the variables from a dotenv file to the process
// environment, leaving variables that are already set untouched. An
// empty path looks for .env in the working directory and is not an error
// when it is absent. Returns the path that was loaded.
func LoadEnvFile(path string) (string, error) {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return "", nil
		}
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		return path, fmt.Errorf("load env file %s: %w", path, err)
	}
	return path, nil
}

// ApplyEnv overrides config values from environment variables. lookup is
// usually os.LookupEnv. Every unparsable variable is reported.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []string

	if v, ok := lookup(EnvPort); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid port %q", EnvPort, v))
		} else {
			c.Port = n
		}
	}
	if v, ok := lookup(EnvInterval); ok {
		d, err := ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", EnvInterval, err))
		} else {
			c.Interval = Duration{d}
		}
	}
	if v, ok := lookup(EnvMinutes); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid minutes %q", EnvMinutes, v))
		} else {
			c.Window = Duration{time.Duration(n) * time.Minute}
		}
	}
	if v, ok := lookup(EnvLogPath); ok {
		c.LogPath = v
	}
	if v, ok := lookup(EnvDebug); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid boolean %q", EnvDebug, v))
		} else {
			c.Verbose = b
		}
	}
	if v, ok := lookup(EnvLogDir); ok {
		c.LogDir = v
	}
	if v, ok := lookup(EnvSelfMetrics); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid boolean %q", EnvSelfMetrics, v))
		} else {
			c.SelfMetrics = b
		}
	}
	if v, ok := lookup(EnvStateBackend); ok {
		c.State.Backend = v
	}
	if v, ok := lookup(EnvDonor); ok {
		c.Donor = v
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// CLIOverrides holds values from CLI flags that should override config file values.
// A nil value means the flag was not explicitly set.
type CLIOverrides struct {
	Port     *int
	Interval *time.Duration
	Window   *time.Duration
	LogPath  *string
	Verbose  *bool
	Donor    *string
	LogDir   *string
}

// Merge applies CLI flag overrides to a loaded config. Only explicitly-set
// flags override config file values.
func (c *Config) Merge(o CLIOverrides) {
	if o.Port != nil {
		c.Port = *o.Port
	}
	if o.Interval != nil {
		c.Interval = Duration{*o.Interval}
	}
	if o.Window != nil {
		c.Window = Duration{*o.Window}
	}
	if o.LogPath != nil {
		c.LogPath = *o.LogPath
	}
	if o.Verbose != nil {
		c.Verbose = *o.Verbose
	}
	if o.Donor != nil {
		c.Donor = *o.Donor
	}
	if o.LogDir != nil {
		c.LogDir = *o.LogDir
	}
}

// Validate checks the config for invalid values and returns an error
// describing all problems found.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port: must be in 1..65535, got %d", c.Port))
	}
	if c.LogPath == "" {
		errs = append(errs, "log_path: must not be empty")
	}
	if c.Donor == "" {
		errs = append(errs, "donor: must not be empty")
	}

	// Durations must be positive.
	for _, d := range []struct {
		name string
		val  Duration
	}{
		{"interval", c.Interval},
		{"window", c.Window},
		{"tracker.sweep_interval", c.Tracker.SweepInterval},
		{"timeouts.shutdown", c.Timeouts.Shutdown},
		{"timeouts.read_header", c.Timeouts.ReadHeader},
	} {
		if d.val.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("%s: must be positive, got %s", d.name, d.val))
		}
	}

	if c.Tracker.MaxEntries < 1 {
		errs = append(errs, fmt.Sprintf("tracker.max_entries: must be at least 1, got %d", c.Tracker.MaxEntries))
	}
	if c.Tracker.SweepThreshold < 1 {
		errs = append(errs, fmt.Sprintf("tracker.sweep_threshold: must be at least 1, got %d", c.Tracker.SweepThreshold))
	}
	if c.Filter.MemoSize < 1 {
		errs = append(errs, fmt.Sprintf("filter.memo_size: must be at least 1, got %d", c.Filter.MemoSize))
	}

	errs = append(errs, validateEntries("filter.extra_addresses", c.Filter.ExtraAddresses)...)
	errs = append(errs, validateEntries("filter.extra_networks", c.Filter.ExtraNetworks)...)

	switch c.State.Backend {
	case state.BackendMemory:
	case state.BackendSQLite:
		if c.State.Path == "" {
			errs = append(errs, "state.path: required for the sqlite backend")
		}
	case state.BackendRedis:
		if c.State.Redis.Addr == "" {
			errs = append(errs, "state.redis.addr: required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("state.backend: must be memory, sqlite, or redis, got %q", c.State.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return nil
}

// validateEntries checks that every entry is an address or a CIDR network.
func validateEntries(field string, entries []string) []string {
	var errs []string
	for i, e := range entries {
		if _, err := ipfilter.ParseEntries([]string{e}); err != nil {
			errs = append(errs, fmt.Sprintf("%s[%d]: invalid address or network %q", field, i, e))
		}
	}
	return errs
}

// Exclusions collects the operator's extra filter entries, including the
// contents of the exclude file.
func (c *Config) Exclusions() (ipfilter.List, error) {
	entries := make([]string, 0, len(c.Filter.ExtraAddresses)+len(c.Filter.ExtraNetworks))
	entries = append(entries, c.Filter.ExtraAddresses...)
	entries = append(entries, c.Filter.ExtraNetworks...)

	list, err := ipfilter.ParseEntries(entries)
	if err != nil {
		return ipfilter.List{}, fmt.Errorf("filter entries: %w", err)
	}

	if c.Filter.ExcludeFile != "" {
		fromFile, err := ipfilter.LoadListFile(c.Filter.ExcludeFile)
		if err != nil {
			return ipfilter.List{}, err
		}
		list = list.Merge(fromFile)
	}
	return list, nil
}

// ListenAddr returns the metrics server address: every interface on Port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// StateOptions converts the state section for state.Open.
func (c *Config) StateOptions() state.Options {
	return state.Options{
		Backend: c.State.Backend,
		Path:    c.State.Path,
		Redis: state.RedisOptions{
			Addr:     c.State.Redis.Addr,
			Password: c.State.Redis.Password,
			DB:       c.State.Redis.DB,
			Key:      c.State.Redis.Key,
		},
	}
}

// TrackerOptions converts the tracker section for tracker.New. The TTL is
// set by the collector from the window.
func (c *Config) TrackerOptions() tracker.Options {
	return tracker.Options{
		MaxEntries:     c.Tracker.MaxEntries,
		SweepThreshold: c.Tracker.SweepThreshold,
		SweepInterval:  c.Tracker.SweepInterval.Duration,
	}
}

// Dump serializes the config to YAML.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}
