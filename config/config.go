// Package config decodes a kiq-worker YAML config file, per
// SPEC_FULL.md §6.1. It only decodes: it produces a plain serializable
// File value, and cmd/kiq-worker does the flag/env/file/default
// layering with cobra/viper and builds kiq.Config from the result.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueSpec is one `(queue_name, concurrency)` pair from spec.md §6.
type QueueSpec struct {
	Name        string `yaml:"name"`
	Concurrency int    `yaml:"concurrency"`
}

// File is the on-disk shape of a kiq-worker config file. cmd/kiq-worker
// feeds every field except SchedulerSets into viper as a default;
// SchedulerSets is decoded but not passed on, so kiq.New's default
// sets apply. A missing or partially-specified file is fine.
type File struct {
	RedisURL string `yaml:"redis_url"`
	PoolSize int    `yaml:"pool_size"`

	Queues        []QueueSpec `yaml:"queues"`
	SchedulerSets []string    `yaml:"scheduler_sets"`

	NodeID     string `yaml:"node_id"`
	RunWorkers bool   `yaml:"run_workers"`
	AdminAddr  string `yaml:"admin_addr"`

	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Load reads and parses a YAML file at path. A missing file is not
// an error — cmd/kiq-worker treats that as "use defaults and whatever
// viper picked up from flags/env" — but a malformed one is.
func Load(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}
