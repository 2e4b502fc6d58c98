package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	RunsDir  string `toml:"runs_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// LLM contains connection settings for the generative completion service.
type LLM struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	MaxOutputTokens   int    `toml:"max_output_tokens"`
	RetryAttempts     int    `toml:"retry_attempts"`
}

// Scanner contains configuration for target directory scans.
type Scanner struct {
	MaxDepth int `toml:"max_depth"`
}

// Execution contains the script toolchain and pipeline limits.
type Execution struct {
	UVBinary              string `toml:"uv_binary"`
	PythonBinary          string `toml:"python_binary"`
	BashBinary            string `toml:"bash_binary"`
	RscriptBinary         string `toml:"rscript_binary"`
	ScriptTimeoutSeconds  int    `toml:"script_timeout_seconds"`
	EnvTimeoutSeconds     int    `toml:"env_timeout_seconds"`
	InstallTimeoutSeconds int    `toml:"install_timeout_seconds"`
	OutputLimitBytes      int    `toml:"output_limit_bytes"`
	CodegenConcurrency    int    `toml:"codegen_concurrency"`
	MaxParallelScripts    int    `toml:"max_parallel_scripts"`
}

// Export contains the optional S3 destination for notebook and report bundles.
type Export struct {
	Enabled   bool   `toml:"enabled"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`
	// Static credentials; when empty the AWS default chain is used.
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// Notifications configures ntfy pushes when pipeline attempts finish.
type Notifications struct {
	// NtfyTopic is the full topic URL, e.g. https://ntfy.sh/my-qc-runs.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	// OnSuccess also notifies for attempts that complete cleanly.
	OnSuccess bool `toml:"on_success"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for aco.
//
// Configuration sections by subsystem:
//   - Paths: run artifacts, server state, logs, and API bind address
//   - LLM: completion endpoint, model, and request limits
//   - Scanner: directory walk limits
//   - Execution: uv/interpreter binaries and script timeouts
//   - Export: optional S3 upload of generated artifacts
//   - Notifications: optional ntfy pushes for finished pipeline attempts
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	LLM           LLM           `toml:"llm"`
	Scanner       Scanner       `toml:"scanner"`
	Execution     Execution     `toml:"execution"`
	Export        Export        `toml:"export"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/aco/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("aco.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the run, state, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RunsDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// AttemptsDBPath is the sqlite database holding pipeline attempts.
func (c *Config) AttemptsDBPath() string {
	return filepath.Join(c.Paths.StateDir, "attempts.db")
}

// CredentialsPath is the TOML file holding a persisted LLM API key.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.Paths.StateDir, "credentials.toml")
}

// LockPath guards against two servers sharing one state directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "aco.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains the LLM settings handed to the client.
type LLMConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	TimeoutSeconds    int
	RequestsPerMinute int
	MaxOutputTokens   int
	RetryAttempts     int
}

// GetLLM returns the LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:            strings.TrimSpace(c.LLM.APIKey),
		BaseURL:           strings.TrimSpace(c.LLM.BaseURL),
		Model:             strings.TrimSpace(c.LLM.Model),
		TimeoutSeconds:    c.LLM.TimeoutSeconds,
		RequestsPerMinute: c.LLM.RequestsPerMinute,
		MaxOutputTokens:   c.LLM.MaxOutputTokens,
		RetryAttempts:     c.LLM.RetryAttempts,
	}
}
