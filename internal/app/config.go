package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"simpilot/internal/atmos"
	"simpilot/internal/controller"
	"simpilot/internal/session"
)

// Default configuration constants
const (
	DefaultListen        = "127.0.0.1:41000"
	DefaultPoll          = 100 * time.Millisecond
	DefaultLogLevel      = "info"
	DefaultRecordingDir  = "./recordings"
	DefaultRetentionDays = 30
)

// Controller names, in merge priority order.
var ControllerNames = []string{"airdata", "attitude", "climb", "recorder"}

// DefaultControllers are enabled when the configuration names none.
var DefaultControllers = []string{"airdata", "recorder"}

// Config holds application configuration
type Config struct {
	Listen       string        `yaml:"listen"`
	Command      string        `yaml:"command"` // empty: reply to the sender
	Poll         time.Duration `yaml:"poll"`
	WarningLimit int           `yaml:"warning_limit"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	Verbose  bool   `yaml:"verbose"`

	Record        bool   `yaml:"record"`
	RecordingDir  string `yaml:"recording_dir"`
	RecordingUTC  bool   `yaml:"recording_utc"`
	RetentionDays int    `yaml:"retention_days"`

	MetricsAddr string `yaml:"metrics_addr"`
	Console     bool   `yaml:"console"`

	Controllers []string                  `yaml:"controllers"`
	Attitude    controller.AttitudeConfig `yaml:"attitude"`
	Climb       controller.ClimbConfig    `yaml:"climb"`
	Estimator   atmos.EstimatorConfig     `yaml:"estimator"`

	ShowVersion bool `yaml:"-"`
}

// DefaultConfig returns the configuration used for anything not set by a
// file or a flag.
func DefaultConfig() Config {
	return Config{
		Listen:        DefaultListen,
		Poll:          DefaultPoll,
		WarningLimit:  session.DefaultWarningLimit,
		LogLevel:      DefaultLogLevel,
		Record:        true,
		RecordingDir:  DefaultRecordingDir,
		RecordingUTC:  true,
		RetentionDays: DefaultRetentionDays,
		Console:       true,
		Controllers:   append([]string(nil), DefaultControllers...),
		Attitude:      controller.DefaultAttitudeConfig(),
		Climb:         controller.DefaultClimbConfig(),
		Estimator:     atmos.DefaultEstimatorConfig(),
	}
}

// LoadConfig reads a YAML file over the defaults. Keys missing from the
// file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail later at startup.
func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Poll <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %v", c.Poll))
	}
	if c.Record && c.RecordingDir == "" {
		errs = append(errs, errors.New("recording directory is required when recording"))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("retention days must not be negative, got %d", c.RetentionDays))
	}
	for _, name := range c.Controllers {
		if !slices.Contains(ControllerNames, name) {
			errs = append(errs, fmt.Errorf("unknown controller %q", name))
		}
	}
	return errors.Join(errs...)
}
