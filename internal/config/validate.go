package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable. The LLM API key is not
// required here; requests without a credential fail individually.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateScanner(); err != nil {
		return err
	}
	if err := c.validateExecution(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateLLM() error {
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return errors.New("llm.requests_per_minute must be zero (unlimited) or positive")
	}
	if c.LLM.MaxOutputTokens <= 0 {
		return errors.New("llm.max_output_tokens must be positive")
	}
	if c.LLM.RetryAttempts < 1 {
		return errors.New("llm.retry_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateScanner() error {
	if c.Scanner.MaxDepth <= 0 {
		return errors.New("scanner.max_depth must be positive")
	}
	return nil
}

func (c *Config) validateExecution() error {
	e := c.Execution
	if e.ScriptTimeoutSeconds <= 0 {
		return errors.New("execution.script_timeout_seconds must be positive")
	}
	if e.EnvTimeoutSeconds <= 0 {
		return errors.New("execution.env_timeout_seconds must be positive")
	}
	if e.InstallTimeoutSeconds <= 0 {
		return errors.New("execution.install_timeout_seconds must be positive")
	}
	if e.OutputLimitBytes <= 0 {
		return errors.New("execution.output_limit_bytes must be positive")
	}
	if e.CodegenConcurrency < 1 {
		return errors.New("execution.codegen_concurrency must be at least 1")
	}
	if e.MaxParallelScripts < 1 {
		return errors.New("execution.max_parallel_scripts must be at least 1")
	}
	return nil
}

func (c *Config) validateExport() error {
	if !c.Export.Enabled {
		return nil
	}
	if c.Export.Bucket == "" {
		return errors.New("export.bucket is required when export is enabled")
	}
	if (c.Export.AccessKeyID == "") != (c.Export.SecretAccessKey == "") {
		return errors.New("export.access_key_id and export.secret_access_key must be set together")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	n := c.Notifications
	if n.RequestTimeoutSeconds < 0 {
		return errors.New("notifications.request_timeout_seconds must be positive")
	}
	if n.NtfyTopic != "" && !strings.HasPrefix(n.NtfyTopic, "http://") && !strings.HasPrefix(n.NtfyTopic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", n.NtfyTopic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
