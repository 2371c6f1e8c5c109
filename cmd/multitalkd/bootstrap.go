package main

import (
	"fmt"
	"strings"

	"multitalk/internal/config"
)

// loadConfig reads secrets from the env file beside the config (or envFile
// when set) before the config itself, so env-backed fields resolve.
func loadConfig(path, envFile string) (*config.Config, error) {
	path = strings.TrimSpace(path)
	envFile = strings.TrimSpace(envFile)
	if envFile == "" {
		target := path
		if target == "" {
			resolved, err := config.DefaultConfigPath()
			if err != nil {
				return nil, fmt.Errorf("determine config path: %w", err)
			}
			target = resolved
		}
		envFile = config.EnvFileFor(target)
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
