package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configContent := `
global:
  log_level: info
results:
  directories:
    - ./allure-results
  concurrency: 4
history:
  path: ./history/history.jsonl
  branch: main
categories:
  mode: first
quality_gate:
  fast_fail: false
`

	configPath := writeConfig(t, "config.yaml", configContent)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, []string{"./allure-results"}, cfg.Results.Directories)
				assert.Equal(t, 4, cfg.Results.Concurrency)
				assert.Equal(t, "main", cfg.History.Branch)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"REPORTOOR_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "string override - history path",
			envVars: map[string]string{
				"REPORTOOR_HISTORY_PATH": "/tmp/other.jsonl",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/other.jsonl", cfg.History.Path)
			},
		},
		{
			name: "boolean override - fast_fail",
			envVars: map[string]string{
				"REPORTOOR_QUALITY_GATE_FAST_FAIL": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.QualityGate.FastFail)
			},
		},
		{
			name: "int override - concurrency",
			envVars: map[string]string{
				"REPORTOOR_RESULTS_CONCURRENCY": "16",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 16, cfg.Results.Concurrency)
			},
		},
		{
			name: "override for key absent from file",
			envVars: map[string]string{
				"REPORTOOR_KNOWN_ISSUES_PATH": "/tmp/known.json",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/known.json", cfg.KnownIssues.Path)
			},
		},
		{
			name: "duration override - tool_timeout",
			envVars: map[string]string{
				"REPORTOOR_XCRESULT_TOOL_TIMEOUT": "45s",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 45*time.Second, cfg.Xcresult.ToolTimeout)
			},
		},
		{
			name: "nested override - s3 bucket",
			envVars: map[string]string{
				"REPORTOOR_PUBLISH_S3_ENABLED": "true",
				"REPORTOOR_PUBLISH_S3_BUCKET":  "reports",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Publish.S3.Enabled)
				assert.Equal(t, "reports", cfg.Publish.S3.Bucket)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", "results:\n  directories: [./out]\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultConcurrency, cfg.Results.Concurrency)
	assert.Equal(t, DefaultReportName, cfg.Results.ReportName)
	assert.Equal(t, DefaultHistoryLimit, cfg.History.Limit)
	assert.Equal(t, DefaultCategoryMode, cfg.Categories.Mode)
	assert.Equal(t, DefaultXcrunPath, cfg.Xcresult.XcrunPath)
	assert.Equal(t, DefaultToolTimeout, cfg.Xcresult.ToolTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MergesFiles(t *testing.T) {
	base := writeConfig(t, "base.yaml", `
results:
  directories: [./a]
  report_name: Base
history:
  limit: 5
`)
	override := writeConfig(t, "override.yaml", `
results:
  report_name: Nightly
`)

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, "Nightly", cfg.Results.ReportName)
	assert.Equal(t, []string{"./a"}, cfg.Results.Directories)
	assert.Equal(t, 5, cfg.History.Limit)
}

func TestLoad_InlineRules(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
results:
  directories: [./a]
quality_gate:
  rules:
    - maxFailures: 3
      id: smoke
categories:
  rules:
    - name: Timeouts
      messageRegex: ".*timeout.*"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.QualityGate.Rules, 1)
	assert.Len(t, cfg.QualityGate.Rules[0], 2)
	assert.Equal(t, "smoke", cfg.QualityGate.Rules[0]["id"])

	require.Len(t, cfg.Categories.Rules, 1)
	assert.Equal(t, "Timeouts", cfg.Categories.Rules[0]["name"])
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Results: ResultsConfig{Directories: []string{"./results"}},
		}
		cfg.applyDefaults()

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "no directories",
			mutate:  func(cfg *Config) { cfg.Results.Directories = nil },
			wantErr: "at least one results directory",
		},
		{
			name:    "blank directory",
			mutate:  func(cfg *Config) { cfg.Results.Directories = []string{" "} },
			wantErr: "empty path",
		},
		{
			name:    "bad log level",
			mutate:  func(cfg *Config) { cfg.Global.LogLevel = "loud" },
			wantErr: "global.log_level",
		},
		{
			name:    "bad owner",
			mutate:  func(cfg *Config) { cfg.Results.ResultsOwner = "1000" },
			wantErr: "expected user:group",
		},
		{
			name:    "negative limit",
			mutate:  func(cfg *Config) { cfg.History.Limit = -1 },
			wantErr: "history.limit",
		},
		{
			name: "index without sqlite path",
			mutate: func(cfg *Config) {
				cfg.History.Path = "./history.jsonl"
				cfg.History.Index.Enabled = true
			},
			wantErr: "sqlite.path",
		},
		{
			name:    "index without history",
			mutate:  func(cfg *Config) { cfg.History.Index.Enabled = true },
			wantErr: "requires history.path",
		},
		{
			name:    "unknown category mode",
			mutate:  func(cfg *Config) { cfg.Categories.Mode = "all" },
			wantErr: "unknown mode",
		},
		{
			name:    "s3 publish without bucket",
			mutate:  func(cfg *Config) { cfg.Publish.S3.Enabled = true },
			wantErr: "publish.s3.bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
