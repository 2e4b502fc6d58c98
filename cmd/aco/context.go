package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"aco/internal/config"
	"aco/internal/daemon"
	"aco/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	services *daemon.Services
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) flagPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(c.flagPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

// wire builds the service graph once per command. CLI logging goes to stderr
// at warn level so command output stays clean.
func (c *commandContext) wire(ctx context.Context) (*daemon.Services, error) {
	if c.services != nil {
		return c.services, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:       "warn",
		Format:      cliLogFormat(),
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	svc, err := daemon.Wire(ctx, cfg, daemon.WireOptions{}, logger)
	if err != nil {
		return nil, err
	}
	c.services = &svc
	return c.services, nil
}

func (c *commandContext) close() {
	if c.services != nil && c.services.Attempts != nil {
		_ = c.services.Attempts.Close()
		c.services = nil
	}
}

// cliLogFormat keeps console output for terminals and switches to JSON when
// stderr is captured by another program.
func cliLogFormat() string {
	if shouldColorize(os.Stderr) {
		return "console"
	}
	return "json"
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
