package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultKeyPrefix       = "cjlint_"
	defaultWorkspacePrefix = "cjrepo_"
	defaultRuntimeRoot     = "/tmp/cj"
	defaultAnalyzerRelPath = "tools/bin/cjlint"
	defaultManifestName    = "cjpm.toml"
	defaultGitBinary       = "git"
	defaultHTTPAddr        = ":8080"
	defaultMetricsAddr     = ":9090"
	defaultCloneTimeout    = 2 * time.Minute
	defaultAnalyzerTimeout = 5 * time.Minute
	defaultStoreTimeout    = 5 * time.Second
	defaultMaxConcurrent   = 4

	envConfigPath      = "CJCARD_CONFIG_PATH"
	envKVURL           = "KV_URL"
	envKeyPrefix       = "CJCARD_KEY_PREFIX"
	envWorkspaceRoot   = "CJCARD_WORKSPACE_ROOT"
	envWorkspacePrefix = "CJCARD_WORKSPACE_PREFIX"
	envRuntimeRoot     = "CJCARD_RUNTIME_ROOT"
	envBundlePath      = "CJCARD_BUNDLE_PATH"
	envAnalyzerRelPath = "CJCARD_ANALYZER_PATH"
	envManifestName    = "CJCARD_MANIFEST_NAME"
	envGitBinary       = "CJCARD_GIT_BINARY"
	envHTTPAddr        = "CJCARD_HTTP_ADDR"
	envMetricsAddr     = "CJCARD_METRICS_ADDR"
	envNATSURL         = "NATS_URL"
	envCloneTimeout    = "CJCARD_CLONE_TIMEOUT"
	envAnalyzerTimeout = "CJCARD_ANALYZER_TIMEOUT"
	envStoreTimeout    = "CJCARD_STORE_TIMEOUT"
	envResultTTL       = "CJCARD_RESULT_TTL"
	envCoalesce        = "CJCARD_COALESCE"
	envMaxConcurrent   = "CJCARD_MAX_CONCURRENT"
)

// Config holds every setting the analysis service reads. It is built once at
// process start and handed to the components that need it.
type Config struct {
	KVURL           string        `yaml:"kv_url"`
	KeyPrefix       string        `yaml:"key_prefix"`
	WorkspaceRoot   string        `yaml:"workspace_root"`
	WorkspacePrefix string        `yaml:"workspace_prefix"`
	RuntimeRoot     string        `yaml:"runtime_root"`
	BundlePath      string        `yaml:"bundle_path"`
	AnalyzerRelPath string        `yaml:"analyzer_path"`
	ManifestName    string        `yaml:"manifest_name"`
	GitBinary       string        `yaml:"git_binary"`
	HTTPAddr        string        `yaml:"http_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	NatsURL         string        `yaml:"nats_url"`
	CloneTimeout    time.Duration `yaml:"clone_timeout"`
	AnalyzerTimeout time.Duration `yaml:"analyzer_timeout"`
	StoreTimeout    time.Duration `yaml:"store_timeout"`
	ResultTTL       time.Duration `yaml:"result_ttl"`
	Coalesce        bool          `yaml:"coalesce"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		KeyPrefix:       defaultKeyPrefix,
		WorkspaceRoot:   os.TempDir(),
		WorkspacePrefix: defaultWorkspacePrefix,
		RuntimeRoot:     defaultRuntimeRoot,
		AnalyzerRelPath: defaultAnalyzerRelPath,
		ManifestName:    defaultManifestName,
		GitBinary:       defaultGitBinary,
		HTTPAddr:        defaultHTTPAddr,
		MetricsAddr:     defaultMetricsAddr,
		CloneTimeout:    defaultCloneTimeout,
		AnalyzerTimeout: defaultAnalyzerTimeout,
		StoreTimeout:    defaultStoreTimeout,
		MaxConcurrent:   defaultMaxConcurrent,
	}
}

// Load returns configuration from defaults, an optional YAML file named by
// CJCARD_CONFIG_PATH and environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv(envConfigPath)); path != "" {
		// #nosec G304 -- config path is operator-provided.
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.Overlay(data); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Overlay merges YAML data on top of the current values. Keys absent from the
// document keep their current value.
func (c *Config) Overlay(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := validateFileSchema(data); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.KVURL, envKVURL)
	setString(&c.KeyPrefix, envKeyPrefix)
	setString(&c.WorkspaceRoot, envWorkspaceRoot)
	setString(&c.WorkspacePrefix, envWorkspacePrefix)
	setString(&c.RuntimeRoot, envRuntimeRoot)
	setString(&c.BundlePath, envBundlePath)
	setString(&c.AnalyzerRelPath, envAnalyzerRelPath)
	setString(&c.ManifestName, envManifestName)
	setString(&c.GitBinary, envGitBinary)
	setString(&c.HTTPAddr, envHTTPAddr)
	setString(&c.MetricsAddr, envMetricsAddr)
	setString(&c.NatsURL, envNATSURL)
	c.CloneTimeout = parseDurationEnv(envCloneTimeout, c.CloneTimeout)
	c.AnalyzerTimeout = parseDurationEnv(envAnalyzerTimeout, c.AnalyzerTimeout)
	c.StoreTimeout = parseDurationEnv(envStoreTimeout, c.StoreTimeout)
	c.ResultTTL = parseDurationEnv(envResultTTL, c.ResultTTL)
	c.MaxConcurrent = parseIntEnv(envMaxConcurrent, c.MaxConcurrent)
	if raw := strings.TrimSpace(os.Getenv(envCoalesce)); raw != "" {
		c.Coalesce = parseBool(raw)
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config required")
	}
	if strings.TrimSpace(c.WorkspaceRoot) == "" {
		return fmt.Errorf("workspace_root required")
	}
	if !filepath.IsAbs(c.WorkspaceRoot) {
		return fmt.Errorf("workspace_root must be absolute: %s", c.WorkspaceRoot)
	}
	if strings.TrimSpace(c.RuntimeRoot) == "" {
		return fmt.Errorf("runtime_root required")
	}
	if !filepath.IsAbs(c.RuntimeRoot) {
		return fmt.Errorf("runtime_root must be absolute: %s", c.RuntimeRoot)
	}
	if strings.TrimSpace(c.AnalyzerRelPath) == "" || filepath.IsAbs(c.AnalyzerRelPath) {
		return fmt.Errorf("analyzer_path must be relative to runtime_root")
	}
	if strings.TrimSpace(c.ManifestName) == "" {
		return fmt.Errorf("manifest_name required")
	}
	if c.CloneTimeout <= 0 || c.AnalyzerTimeout <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.ResultTTL < 0 {
		return fmt.Errorf("result_ttl must be non-negative")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
			return d
		}
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
