// Package config loads the AgentForge YAML configuration: oracle provider,
// workspace layout, build/run commands, run history storage, queue drivers
// and logging. Relative paths are resolved against the configuration file.
package config
