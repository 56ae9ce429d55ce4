package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// REPORTOOR_HISTORY_PATH.
	EnvPrefix = "REPORTOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultConcurrency bounds concurrent reader invocations.
	DefaultConcurrency = 8

	// DefaultReportName names history data points when none is configured.
	DefaultReportName = "Test report"

	// DefaultHistoryLimit is the number of data points kept for derivation.
	DefaultHistoryLimit = 20

	// DefaultCategoryMode is the default category match mode.
	DefaultCategoryMode = "first"

	// DefaultXcrunPath is the external tool used for xcresult bundles.
	DefaultXcrunPath = "xcrun"

	// DefaultToolTimeout bounds a single external tool invocation.
	DefaultToolTimeout = 30 * time.Second
)

// Config is the root configuration for reportoor.
type Config struct {
	Global      GlobalConfig      `yaml:"global" mapstructure:"global"`
	Results     ResultsConfig     `yaml:"results" mapstructure:"results"`
	History     HistoryConfig     `yaml:"history" mapstructure:"history"`
	KnownIssues KnownIssuesConfig `yaml:"known_issues" mapstructure:"known_issues"`
	Categories  CategoriesConfig  `yaml:"categories" mapstructure:"categories"`
	QualityGate QualityGateConfig `yaml:"quality_gate" mapstructure:"quality_gate"`
	Xcresult    XcresultConfig    `yaml:"xcresult" mapstructure:"xcresult"`
	Publish     PublishConfig     `yaml:"publish,omitempty" mapstructure:"publish"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// ResultsConfig selects the result directories to ingest.
type ResultsConfig struct {
	Directories []string `yaml:"directories" mapstructure:"directories"`
	Concurrency int      `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
	ReportName  string   `yaml:"report_name,omitempty" mapstructure:"report_name"`
	// ResultsOwner is a "user:group" applied to files reportoor creates.
	ResultsOwner string `yaml:"results_owner,omitempty" mapstructure:"results_owner"`
	// SpoolDir holds copies of transient attachments while the report is
	// built. Empty uses the system temp directory.
	SpoolDir string `yaml:"spool_dir,omitempty" mapstructure:"spool_dir"`
}

// HistoryConfig configures the append-only run history.
type HistoryConfig struct {
	Path   string             `yaml:"path,omitempty" mapstructure:"path"`
	Branch string             `yaml:"branch,omitempty" mapstructure:"branch"`
	Limit  int                `yaml:"limit,omitempty" mapstructure:"limit"`
	URL    string             `yaml:"url,omitempty" mapstructure:"url"`
	Index  HistoryIndexConfig `yaml:"index,omitempty" mapstructure:"index"`
}

// HistoryIndexConfig configures the optional SQLite mirror of history.
type HistoryIndexConfig struct {
	Enabled bool                 `yaml:"enabled" mapstructure:"enabled"`
	SQLite  SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// KnownIssuesConfig points at the known failures file.
type KnownIssuesConfig struct {
	Path string `yaml:"path,omitempty" mapstructure:"path"`
	// ExportPath, when set, receives the current failures as known issues.
	ExportPath string `yaml:"export_path,omitempty" mapstructure:"export_path"`
}

// CategoriesConfig configures failure categories. Rules from Path come
// before inline Rules.
type CategoriesConfig struct {
	Path  string           `yaml:"path,omitempty" mapstructure:"path"`
	Mode  string           `yaml:"mode,omitempty" mapstructure:"mode"`
	Rules []map[string]any `yaml:"rules,omitempty" mapstructure:"rules"`
}

// QualityGateConfig configures the quality gate. Rules from Path come
// before inline Rules.
type QualityGateConfig struct {
	Path     string           `yaml:"path,omitempty" mapstructure:"path"`
	FastFail bool             `yaml:"fast_fail" mapstructure:"fast_fail"`
	Rules    []map[string]any `yaml:"rules,omitempty" mapstructure:"rules"`
}

// XcresultConfig configures the external tool used for xcresult bundles.
type XcresultConfig struct {
	XcrunPath   string        `yaml:"xcrun_path,omitempty" mapstructure:"xcrun_path"`
	ToolTimeout time.Duration `yaml:"tool_timeout,omitempty" mapstructure:"tool_timeout"`
}

// PublishConfig configures where report artifacts are copied after a run.
type PublishConfig struct {
	S3 S3PublishConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3PublishConfig contains settings for S3-compatible storage.
type S3PublishConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// envKeys are bound explicitly so overrides apply even when the key is
// absent from every config file.
var envKeys = []string{
	"global.log_level",
	"results.directories",
	"results.concurrency",
	"results.report_name",
	"results.results_owner",
	"results.spool_dir",
	"history.path",
	"history.branch",
	"history.limit",
	"history.url",
	"history.index.enabled",
	"history.index.sqlite.path",
	"known_issues.path",
	"known_issues.export_path",
	"categories.path",
	"categories.mode",
	"quality_gate.path",
	"quality_gate.fast_fail",
	"xcresult.xcrun_path",
	"xcresult.tool_timeout",
	"publish.s3.enabled",
	"publish.s3.endpoint_url",
	"publish.s3.region",
	"publish.s3.bucket",
	"publish.s3.prefix",
	"publish.s3.access_key_id",
	"publish.s3.secret_access_key",
	"publish.s3.force_path_style",
}

// Load reads the given configuration files in order, later files
// overriding earlier ones, then applies REPORTOOR_ environment overrides
// and defaults. No paths means environment and defaults only.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	for i, path := range paths {
		v.SetConfigFile(path)

		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}

		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Results.Concurrency <= 0 {
		c.Results.Concurrency = DefaultConcurrency
	}

	if c.Results.ReportName == "" {
		c.Results.ReportName = DefaultReportName
	}

	if c.History.Limit == 0 {
		c.History.Limit = DefaultHistoryLimit
	}

	if c.Categories.Mode == "" {
		c.Categories.Mode = DefaultCategoryMode
	}

	if c.Xcresult.XcrunPath == "" {
		c.Xcresult.XcrunPath = DefaultXcrunPath
	}

	if c.Xcresult.ToolTimeout <= 0 {
		c.Xcresult.ToolTimeout = DefaultToolTimeout
	}
}

var validCategoryModes = map[string]struct{}{
	"first":          {},
	"inclusive":      {},
	"groupExclusive": {},
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("global.log_level: %w", err)
	}

	if len(c.Results.Directories) == 0 {
		return errors.New("at least one results directory must be configured")
	}

	for i, dir := range c.Results.Directories {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("results.directories[%d]: empty path", i)
		}
	}

	if c.Results.ResultsOwner != "" && !strings.Contains(c.Results.ResultsOwner, ":") {
		return fmt.Errorf("results.results_owner %q: expected user:group", c.Results.ResultsOwner)
	}

	if c.History.Limit < 0 {
		return fmt.Errorf("history.limit must not be negative, got %d", c.History.Limit)
	}

	if c.History.Index.Enabled {
		if c.History.Path == "" {
			return errors.New("history.index requires history.path")
		}

		if c.History.Index.SQLite.Path == "" {
			return errors.New("history.index.sqlite.path is required when the index is enabled")
		}
	}

	if _, ok := validCategoryModes[c.Categories.Mode]; !ok {
		return fmt.Errorf("categories.mode: unknown mode %q", c.Categories.Mode)
	}

	if c.Publish.S3.Enabled && c.Publish.S3.Bucket == "" {
		return errors.New("publish.s3.bucket is required when s3 publishing is enabled")
	}

	return nil
}
