package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"multitalk/internal/config"
	"multitalk/internal/daemon"
	"multitalk/internal/daemonrun"
	"multitalk/internal/logging"
	"multitalk/internal/notifications"
	"multitalk/internal/store"
)

type commandContext struct {
	configFlag  *string
	envFileFlag *string
	jsonFlag    *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, envFileFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		envFileFlag: envFileFlag,
		jsonFlag:    jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if err := c.loadEnvFile(path); err != nil {
			c.configErr = err
			return
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) loadEnvFile(configPath string) error {
	envPath := ""
	if c.envFileFlag != nil {
		envPath = strings.TrimSpace(*c.envFileFlag)
	}
	if envPath == "" {
		if configPath == "" {
			resolved, err := config.DefaultConfigPath()
			if err != nil {
				return nil
			}
			configPath = resolved
		}
		envPath = config.EnvFileFor(configPath)
	}
	return config.LoadEnvFile(envPath)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// withComponents opens the configured store and wires the services that
// operate on it for the duration of fn.
func (c *commandContext) withComponents(fn func(*config.Config, daemon.Components) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	comps, err := daemonrun.BuildComponents(cfg, st, logging.NewNop(), nil, notifications.NewNoop())
	if err != nil {
		return err
	}
	return fn(cfg, comps)
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
