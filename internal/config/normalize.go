package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeExecution()
	c.normalizeExport()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("ACO_WORKING_DIR"); ok && strings.TrimSpace(value) != "" && c.Paths.RunsDir == defaultRunsDir {
		c.Paths.RunsDir = filepath.Join(strings.TrimSpace(value), defaultRunsDir)
	}
	if value, ok := os.LookupEnv("ACO_STORAGE_DIR"); ok && strings.TrimSpace(value) != "" && c.Paths.StateDir == defaultStateDir {
		c.Paths.StateDir = strings.TrimSpace(value)
	}

	var err error
	if strings.TrimSpace(c.Paths.RunsDir) == "" {
		c.Paths.RunsDir = defaultRunsDir
	}
	if c.Paths.RunsDir, err = expandPath(c.Paths.RunsDir); err != nil {
		return fmt.Errorf("paths.runs_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
			if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
				c.LLM.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.MaxOutputTokens == 0 {
		c.LLM.MaxOutputTokens = defaultLLMMaxOutputTokens
	}
	if c.LLM.RetryAttempts == 0 {
		c.LLM.RetryAttempts = defaultLLMRetryAttempts
	}
}

func (c *Config) normalizeExecution() {
	e := &c.Execution
	e.UVBinary = strings.TrimSpace(e.UVBinary)
	if e.UVBinary == "" {
		e.UVBinary = defaultUVBinary
	}
	e.PythonBinary = strings.TrimSpace(e.PythonBinary)
	if e.PythonBinary == "" {
		e.PythonBinary = defaultPythonBinary
	}
	e.BashBinary = strings.TrimSpace(e.BashBinary)
	if e.BashBinary == "" {
		e.BashBinary = defaultBashBinary
	}
	e.RscriptBinary = strings.TrimSpace(e.RscriptBinary)
	if e.RscriptBinary == "" {
		e.RscriptBinary = defaultRscriptBinary
	}
	if e.CodegenConcurrency == 0 {
		e.CodegenConcurrency = defaultCodegenConcurrency
	}
	if e.MaxParallelScripts == 0 {
		e.MaxParallelScripts = defaultMaxParallelScripts
	}
}

func (c *Config) normalizeExport() {
	c.Export.Bucket = strings.TrimSpace(c.Export.Bucket)
	c.Export.Prefix = strings.Trim(strings.TrimSpace(c.Export.Prefix), "/")
	c.Export.Region = strings.TrimSpace(c.Export.Region)
	c.Export.Endpoint = strings.TrimSpace(c.Export.Endpoint)
	c.Export.AccessKeyID = strings.TrimSpace(c.Export.AccessKeyID)
	if c.Export.AccessKeyID == "" {
		c.Export.AccessKeyID = os.Getenv("ACO_EXPORT_ACCESS_KEY_ID")
	}
	c.Export.SecretAccessKey = strings.TrimSpace(c.Export.SecretAccessKey)
	if c.Export.SecretAccessKey == "" {
		c.Export.SecretAccessKey = os.Getenv("ACO_EXPORT_SECRET_ACCESS_KEY")
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds == 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
