// Package config loads the daemon and CLI settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment override, for example
	// LABELER_SCAN_MAX_RESULTS.
	EnvPrefix = "LABELER"

	// MinPollIntervalSecs is the shortest poll interval accepted.
	MinPollIntervalSecs = 10
)

// DBConfig locates the database.
type DBConfig struct {
	// Path defaults to <data_dir>/labeler.db.
	Path         string `mapstructure:"path" yaml:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// LogConfig controls console and file logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`

	// Dir defaults to <data_dir>/logs. File logging is off when
	// MaxFiles is negative.
	Dir           string `mapstructure:"dir" yaml:"dir"`
	MaxFiles      int    `mapstructure:"max_files" yaml:"max_files"`
	MaxFileSizeMB int    `mapstructure:"max_file_size_mb" yaml:"max_file_size_mb"`
}

// OllamaConfig points at the model server.
type OllamaConfig struct {
	Host        string  `mapstructure:"host" yaml:"host"`
	Model       string  `mapstructure:"model" yaml:"model"`
	TimeoutSecs int     `mapstructure:"timeout_secs" yaml:"timeout_secs"`
	NumCtx      int     `mapstructure:"num_ctx" yaml:"num_ctx"`
	NumPredict  int     `mapstructure:"num_predict" yaml:"num_predict"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`

	// PullOnStart pulls the model when the server does not have it.
	PullOnStart bool `mapstructure:"pull_on_start" yaml:"pull_on_start"`
}

// GmailConfig holds the OAuth client used for Gmail accounts. Either a
// client secrets file or an id and secret pair is needed.
type GmailConfig struct {
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	ClientID        string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret    string `mapstructure:"client_secret" yaml:"client_secret"`
	MaxBodyBytes    int    `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// IMAPConfig tunes the IMAP backend.
type IMAPConfig struct {
	DialTimeoutSecs int    `mapstructure:"dial_timeout_secs" yaml:"dial_timeout_secs"`
	ArchiveFolder   string `mapstructure:"archive_folder" yaml:"archive_folder"`
	SpamFolder      string `mapstructure:"spam_folder" yaml:"spam_folder"`
	TrashFolder     string `mapstructure:"trash_folder" yaml:"trash_folder"`
}

// ScanConfig tunes scan cycles.
type ScanConfig struct {
	MaxResults           int `mapstructure:"max_results" yaml:"max_results"`
	LookbackHours        int `mapstructure:"lookback_hours" yaml:"lookback_hours"`
	MaxBodyChars         int `mapstructure:"max_body_chars" yaml:"max_body_chars"`
	Concurrency          int `mapstructure:"concurrency" yaml:"concurrency"`
	MaxFailedAttempts    int `mapstructure:"max_failed_attempts" yaml:"max_failed_attempts"`
	MailboxTimeoutSecs   int `mapstructure:"mailbox_timeout_secs" yaml:"mailbox_timeout_secs"`
	LabelRetryAttempts   int `mapstructure:"label_retry_attempts" yaml:"label_retry_attempts"`
	AuthFailureThreshold int `mapstructure:"auth_failure_threshold" yaml:"auth_failure_threshold"`
}

// SchedulerConfig tunes the per-account timers.
type SchedulerConfig struct {
	// PollIntervalSecs is given to accounts created without one.
	PollIntervalSecs      int  `mapstructure:"poll_interval_secs" yaml:"poll_interval_secs"`
	ReconcileIntervalSecs int  `mapstructure:"reconcile_interval_secs" yaml:"reconcile_interval_secs"`
	RunOnStart            bool `mapstructure:"run_on_start" yaml:"run_on_start"`
}

// ActivityConfig sets the retention of the activity log.
type ActivityConfig struct {
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
	MaxRows       int `mapstructure:"max_rows" yaml:"max_rows"`
}

// WebConfig configures the operator HTTP API. An empty Addr disables it.
type WebConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Config is the complete configuration.
type Config struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	DB        DBConfig        `mapstructure:"db" yaml:"db"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Ollama    OllamaConfig    `mapstructure:"ollama" yaml:"ollama"`
	Gmail     GmailConfig     `mapstructure:"gmail" yaml:"gmail"`
	IMAP      IMAPConfig      `mapstructure:"imap" yaml:"imap"`
	Scan      ScanConfig      `mapstructure:"scan" yaml:"scan"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Activity  ActivityConfig  `mapstructure:"activity" yaml:"activity"`
	Web       WebConfig       `mapstructure:"web" yaml:"web"`
}

// DefaultDataDir returns ~/.labeler.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".labeler"
	}

	return filepath.Join(home, ".labeler")
}

// DefaultConfigPath returns the default location of the config file.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "labeler.yaml")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		DB: DBConfig{
			MaxOpenConns: 4,
		},
		Log: LogConfig{
			Level:         "info",
			MaxFiles:      10,
			MaxFileSizeMB: 20,
		},
		Ollama: OllamaConfig{
			Host:        "http://localhost:11434",
			Model:       "llama3.2",
			TimeoutSecs: 600,
			NumCtx:      4096,
			NumPredict:  200,
			PullOnStart: true,
		},
		Gmail: GmailConfig{
			MaxBodyBytes: 256 * 1024,
		},
		IMAP: IMAPConfig{
			DialTimeoutSecs: 30,
		},
		Scan: ScanConfig{
			MaxResults:           50,
			LookbackHours:        24,
			MaxBodyChars:         3000,
			Concurrency:          1,
			MaxFailedAttempts:    5,
			MailboxTimeoutSecs:   120,
			LabelRetryAttempts:   3,
			AuthFailureThreshold: 3,
		},
		Scheduler: SchedulerConfig{
			PollIntervalSecs:      300,
			ReconcileIntervalSecs: 30,
			RunOnStart:            true,
		},
		Activity: ActivityConfig{
			RetentionDays: 30,
			MaxRows:       500,
		},
		Web: WebConfig{
			Addr: "localhost:8085",
		},
	}
}

// legacyEnv maps config keys to the bare environment names older
// deployments set.
var legacyEnv = map[string]string{
	"data_dir":                     "DATA_DIR",
	"ollama.host":                  "OLLAMA_HOST",
	"ollama.model":                 "OLLAMA_MODEL",
	"ollama.timeout_secs":          "OLLAMA_TIMEOUT",
	"ollama.num_ctx":               "OLLAMA_NUM_CTX",
	"ollama.num_predict":           "OLLAMA_NUM_PREDICT",
	"scan.max_results":             "GMAIL_MAX_RESULTS",
	"scan.lookback_hours":          "GMAIL_LOOKBACK_HOURS",
	"activity.retention_days":      "LOG_RETENTION_DAYS",
	"scheduler.poll_interval_secs": "POLL_INTERVAL",
}

// Load reads the config file at path, or the default path when empty, and
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)

	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(
			strings.ReplaceAll(key, ".", "_"),
		)
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			if explicit {
				return nil, fmt.Errorf("config file %s not "+
					"found", path)
			}

		default:
			return nil, fmt.Errorf("reading config %s: %w", path,
				err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.fillPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers every field of def with viper. Going through the
// YAML encoding keeps the key names in one place, the struct tags, and
// makes every key known to AutomaticEnv.
func setDefaults(v *viper.Viper, def *Config) error {
	raw, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}

	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, val := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := val.(map[string]any); ok {
				walk(key, child)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)

	return nil
}

// fillPaths derives unset paths from the data directory.
func (c *Config) fillPaths() {
	c.DataDir = expandHome(c.DataDir)
	if c.DB.Path == "" {
		c.DB.Path = filepath.Join(c.DataDir, "labeler.db")
	}
	if c.Log.Dir == "" {
		c.Log.Dir = filepath.Join(c.DataDir, "logs")
	}
	c.DB.Path = expandHome(c.DB.Path)
	c.Log.Dir = expandHome(c.Log.Dir)
	c.Gmail.CredentialsFile = expandHome(c.Gmail.CredentialsFile)
}

// Validate clamps the poll interval and rejects settings that cannot work.
func (c *Config) Validate() error {
	if c.Scheduler.PollIntervalSecs < MinPollIntervalSecs {
		c.Scheduler.PollIntervalSecs = MinPollIntervalSecs
	}

	positive := map[string]int{
		"scan.max_results":          c.Scan.MaxResults,
		"scan.lookback_hours":       c.Scan.LookbackHours,
		"scan.max_body_chars":       c.Scan.MaxBodyChars,
		"scan.concurrency":          c.Scan.Concurrency,
		"scan.mailbox_timeout_secs": c.Scan.MailboxTimeoutSecs,
		"ollama.timeout_secs":       c.Ollama.TimeoutSecs,
		"ollama.num_ctx":            c.Ollama.NumCtx,
		"ollama.num_predict":        c.Ollama.NumPredict,
	}
	for key, val := range positive {
		if val <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, val)
		}
	}

	if c.Scan.MaxFailedAttempts < 0 {
		return fmt.Errorf("scan.max_failed_attempts must not be " +
			"negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "critical", "off":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	if !strings.Contains(c.Ollama.Host, "://") {
		return fmt.Errorf("ollama.host %q needs a scheme", c.Ollama.Host)
	}

	return nil
}

// Dump writes the configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()

	return enc.Encode(c)
}

// OllamaTimeout is the classifier call deadline.
func (c *Config) OllamaTimeout() time.Duration {
	return time.Duration(c.Ollama.TimeoutSecs) * time.Second
}

// Lookback is the fetch window of an account without a cursor.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Scan.LookbackHours) * time.Hour
}

// MailboxTimeout bounds a single mailbox call.
func (c *Config) MailboxTimeout() time.Duration {
	return time.Duration(c.Scan.MailboxTimeoutSecs) * time.Second
}

// PollInterval is the interval given to new accounts.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalSecs) * time.Second
}

// ReconcileInterval is how often the scheduler rereads accounts.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Scheduler.ReconcileIntervalSecs) * time.Second
}

// Retention is how long activity entries are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Activity.RetentionDays) * 24 * time.Hour
}

// IMAPDialTimeout bounds connecting to an IMAP server.
func (c *Config) IMAPDialTimeout() time.Duration {
	return time.Duration(c.IMAP.DialTimeoutSecs) * time.Second
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}

	return os.ExpandEnv(p)
}
