package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "EVENTLANE_CONFIG"

// DefaultPath is used when neither a flag nor EnvPath names a file.
const DefaultPath = "./eventlane.yaml"

// CalendarConfig describes one ICS calendar and where its events go.
// Empty ServerID/ChannelID fall back to the top-level values.
type CalendarConfig struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	URL       string `yaml:"url" json:"url"`
	ServerID  string `yaml:"server_id,omitempty" json:"server_id,omitempty"`
	ChannelID string `yaml:"channel_id,omitempty" json:"channel_id,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// NATSConfig enables the event bus. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// BackupConfig enables periodic JSONL snapshots to S3. An empty bucket
// disables it.
type BackupConfig struct {
	S3Bucket   string `yaml:"s3_bucket" json:"s3_bucket"`
	S3Key      string `yaml:"s3_key" json:"s3_key"`
	S3Region   string `yaml:"s3_region" json:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint,omitempty" json:"s3_endpoint,omitempty"`
	Cron       string `yaml:"cron" json:"cron"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone thread names are rendered in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DataDir holds persisted records and the ICS cache.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// ServerID and ChannelID are the default scope for calendars that do
	// not set their own.
	ServerID  string `yaml:"server_id" json:"server_id"`
	ChannelID string `yaml:"channel_id" json:"channel_id"`

	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	// RefreshCron is the cron schedule for polling calendars.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// TickInterval is how often the lifecycle tick runs.
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`

	LookaheadDays         int  `yaml:"lookahead_days" json:"lookahead_days"`
	RetentionDays         int  `yaml:"retention_days" json:"retention_days"`
	EventCreateLeadHours  int  `yaml:"event_create_lead_hours" json:"event_create_lead_hours"`
	ThreadCreateLeadHours int  `yaml:"thread_create_lead_hours" json:"thread_create_lead_hours"`
	EventDurationHours    int  `yaml:"event_duration_hours" json:"event_duration_hours"`
	ArchiveDelayMinutes   int  `yaml:"archive_delay_minutes" json:"archive_delay_minutes"`
	AutoArchive           bool `yaml:"auto_archive" json:"auto_archive"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	NATS   NATSConfig   `yaml:"nats" json:"nats"`
	Backup BackupConfig `yaml:"backup" json:"backup"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                "127.0.0.1:8080",
		Timezone:              "UTC",
		DataDir:               "./var/eventlane",
		Calendars:             []CalendarConfig{},
		RefreshCron:           "*/15 * * * *",
		TickInterval:          5 * time.Minute,
		LookaheadDays:         7,
		RetentionDays:         7,
		EventCreateLeadHours:  48,
		ThreadCreateLeadHours: 2,
		EventDurationHours:    48,
		ArchiveDelayMinutes:   1440,
		LogLevel:              "info",
		LogFormat:             "text",
		NATS:                  NATSConfig{SubjectPrefix: "eventlane"},
		Backup:                BackupConfig{S3Key: "eventlane/records.jsonl", Cron: "0 3 * * *"},
	}
}

// Normalize fills in missing/zero values with defaults so partially
// filled configs still behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.LookaheadDays <= 0 {
		c.LookaheadDays = d.LookaheadDays
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = d.RetentionDays
	}
	if c.EventCreateLeadHours <= 0 {
		c.EventCreateLeadHours = d.EventCreateLeadHours
	}
	if c.ThreadCreateLeadHours <= 0 {
		c.ThreadCreateLeadHours = d.ThreadCreateLeadHours
	}
	if c.EventDurationHours <= 0 {
		c.EventDurationHours = d.EventDurationHours
	}
	if c.ArchiveDelayMinutes <= 0 {
		c.ArchiveDelayMinutes = d.ArchiveDelayMinutes
	}
	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		c.LogLevel = d.LogLevel
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		c.LogFormat = d.LogFormat
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = d.NATS.SubjectPrefix
	}
	if c.Backup.S3Key == "" {
		c.Backup.S3Key = d.Backup.S3Key
	}
	if c.Backup.Cron == "" {
		c.Backup.Cron = d.Backup.Cron
	}
	for i := range c.Calendars {
		if c.Calendars[i].ServerID == "" {
			c.Calendars[i].ServerID = c.ServerID
		}
		if c.Calendars[i].ChannelID == "" {
			c.Calendars[i].ChannelID = c.ChannelID
		}
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	if c.Backup.S3Bucket != "" {
		if _, err := cron.ParseStandard(c.Backup.Cron); err != nil {
			errs = append(errs, fmt.Errorf("backup.cron %q: %w", c.Backup.Cron, err))
		}
	}
	if c.ThreadCreateLeadHours > c.EventCreateLeadHours {
		errs = append(errs, errors.New("thread_create_lead_hours must not exceed event_create_lead_hours"))
	}
	seen := make(map[string]bool, len(c.Calendars))
	for i, cal := range c.Calendars {
		switch {
		case cal.ID == "":
			errs = append(errs, fmt.Errorf("calendars[%d]: id is empty", i))
		case seen[cal.ID]:
			errs = append(errs, fmt.Errorf("calendars[%d]: duplicate id %q", i, cal.ID))
		}
		seen[cal.ID] = true
		if cal.URL == "" {
			errs = append(errs, fmt.Errorf("calendars[%d]: url is empty", i))
		}
		if cal.ServerID == "" || cal.ChannelID == "" {
			errs = append(errs, fmt.Errorf("calendars[%d]: no server_id/channel_id and no default", i))
		}
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResolvePath picks the config path: flag value, then EnvPath, then
// DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 permissions and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eventlane-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
