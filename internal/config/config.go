package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jgoulah/airquality/pkg/models"
)

const (
	defaultInterval     = time.Hour
	defaultCycleTimeout = 10 * time.Minute
	defaultStepTimeout  = 30 * time.Second
	defaultListen       = ":8080"
	defaultWorkDir      = "tmp"
	defaultRetention    = 30 * 24 * time.Hour

	// DataSelectorURL is the regulator's multi-page data selector
	DataSelectorURL = "https://airquality.gov.wales/maps-data/data-selector/index"

	nextButton = "#acDataSelectorSequential > input.btn.btn-primary"
	regionPick = "#f_region_id > option:nth-child(5)"
	exportLink = "div.data-grid-toolbar > div.data-grid-export > div:nth-child(1) > a"
)

// Config holds the application configuration
type Config struct {
	Interval        Duration      `yaml:"interval,omitempty"`      // Scheduler period (fallback: 1h)
	CycleTimeout    Duration      `yaml:"cycle_timeout,omitempty"` // Upper bound on one cycle (fallback: 10m)
	Listen          string        `yaml:"listen,omitempty"`
	WorkDir         string        `yaml:"work_dir,omitempty"`
	Database        string        `yaml:"database,omitempty"`
	RestoreSnapshot bool          `yaml:"restore_snapshot,omitempty"` // Seed the store from the cached snapshot on startup
	CycleRetention  Duration      `yaml:"cycle_retention,omitempty"`  // How long the cycle log is kept (fallback: 30 days)
	Fields          []string      `yaml:"fields,omitempty"`
	Source          SourceConfig  `yaml:"source"`
	Browser         BrowserConfig `yaml:"browser"`
	MQTT            MQTTConfig    `yaml:"mqtt,omitempty"`
	HomeAssistant   HAConfig      `yaml:"home_assistant,omitempty"`
}

// SourceConfig describes the upstream data selector workflow
type SourceConfig struct {
	BaseURL      string   `yaml:"base_url,omitempty"`
	LinkSelector string   `yaml:"link_selector,omitempty"` // CSS selector of the export <a>
	Steps        []Step   `yaml:"steps,omitempty"`
	StepTimeout  Duration `yaml:"step_timeout,omitempty"` // Bound on every wait (fallback: 30s)
}

// Step is one action of the selector wizard
type Step struct {
	Action   string `yaml:"action"` // wait, click or select
	Selector string `yaml:"selector"`
}

// BrowserConfig controls how the headless browser is obtained
type BrowserConfig struct {
	RemoteURL string `yaml:"remote_url,omitempty"` // e.g., "ws://browserless:3000"; empty launches local Chrome
	Visible   bool   `yaml:"visible,omitempty"`
}

// MQTTConfig holds MQTT broker configuration
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"` // default "airquality"
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`       // e.g., "http://homeassistant.local:8123"
	Token    string `yaml:"token"`     // Long-lived access token
	EntityID string `yaml:"entity_id"` // e.g., "sensor.air_quality"
}

// Duration is a time.Duration written as "1h", "30s", ... in YAML
type Duration time.Duration

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads the config file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// Validate rejects settings that cannot work at all
func (c *Config) Validate() error {
	if c.Interval < 0 || c.CycleTimeout < 0 || c.Source.StepTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	for i, step := range c.Source.Steps {
		switch step.Action {
		case "wait", "click", "select":
		default:
			return fmt.Errorf("source step %d: unknown action %q", i, step.Action)
		}
		if step.Selector == "" {
			return fmt.Errorf("source step %d: selector is required", i)
		}
	}
	seen := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		switch {
		case f == "":
			return fmt.Errorf("fields: empty field name")
		case f == models.DateColumn:
			return fmt.Errorf("fields: %q is always included and cannot be listed", f)
		case seen[f]:
			return fmt.Errorf("fields: %q listed more than once", f)
		}
		seen[f] = true
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("MQTT broker address is required when enabled")
	}
	return nil
}

// GetInterval returns the scheduler period with a default of one hour
func (c *Config) GetInterval() time.Duration {
	if c.Interval <= 0 {
		return defaultInterval
	}
	return time.Duration(c.Interval)
}

// GetCycleTimeout returns the per-cycle bound, never shorter than one step wait
func (c *Config) GetCycleTimeout() time.Duration {
	if c.CycleTimeout <= 0 {
		return defaultCycleTimeout
	}
	if t := time.Duration(c.CycleTimeout); t > c.GetStepTimeout() {
		return t
	}
	return c.GetStepTimeout()
}

// GetStepTimeout returns the bound on every UI control wait
func (c *Config) GetStepTimeout() time.Duration {
	if c.Source.StepTimeout <= 0 {
		return defaultStepTimeout
	}
	return time.Duration(c.Source.StepTimeout)
}

// GetCycleRetention returns how long cycle log entries are kept
func (c *Config) GetCycleRetention() time.Duration {
	if c.CycleRetention <= 0 {
		return defaultRetention
	}
	return time.Duration(c.CycleRetention)
}

// GetListen returns the HTTP listen address
func (c *Config) GetListen() string {
	if c.Listen == "" {
		return defaultListen
	}
	return c.Listen
}

// GetWorkDir returns the directory holding the per-cycle working files
func (c *Config) GetWorkDir() string {
	if c.WorkDir == "" {
		return defaultWorkDir
	}
	return c.WorkDir
}

// CSVPath returns the working file holding the stripped raw dataset
func (c *Config) CSVPath() string {
	return filepath.Join(c.GetWorkDir(), "latestAirQuality.csv")
}

// RecordsPath returns the working file holding the parsed records
func (c *Config) RecordsPath() string {
	return filepath.Join(c.GetWorkDir(), "dataJSON.json")
}

// GetBaseURL returns the data selector URL
func (c *Config) GetBaseURL() string {
	if c.Source.BaseURL == "" {
		return DataSelectorURL
	}
	return c.Source.BaseURL
}

// GetLinkSelector returns the selector of the export link
func (c *Config) GetLinkSelector() string {
	if c.Source.LinkSelector == "" {
		return exportLink
	}
	return c.Source.LinkSelector
}

// GetSteps returns the wizard steps, defaulting to the data selector's
// four confirmations, region choice and two final confirmations.
func (c *Config) GetSteps() []Step {
	if len(c.Source.Steps) > 0 {
		return c.Source.Steps
	}
	wait := Step{Action: "wait", Selector: nextButton}
	next := Step{Action: "click", Selector: nextButton}
	return []Step{
		wait, next,
		wait, next,
		wait, next,
		wait, next,
		wait, {Action: "select", Selector: regionPick}, next,
		wait, next,
		wait,
	}
}

// GetFields returns the fields reduced into each snapshot
func (c *Config) GetFields() []models.Field {
	if len(c.Fields) == 0 {
		return append([]models.Field(nil), models.DefaultFields...)
	}
	fields := make([]models.Field, 0, len(c.Fields))
	for _, f := range c.Fields {
		fields = append(fields, models.Field(f))
	}
	return fields
}

// GetTopicPrefix returns the MQTT topic prefix
func (c *Config) GetTopicPrefix() string {
	if c.MQTT.TopicPrefix == "" {
		return "airquality"
	}
	return c.MQTT.TopicPrefix
}
