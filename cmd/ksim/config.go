package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// taskConfig describes one task entry in a ksim config file.
type taskConfig struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	Core     int    `yaml:"core"`
}

// resourceConfig describes one declared resource.
type resourceConfig struct {
	Name    string `yaml:"name"`
	ID      int    `yaml:"id"`
	Ceiling int32  `yaml:"ceiling"`
	Access  []int  `yaml:"access"`
}

// simConfig is the declarative task-table and resource-table ksim loads
// before starting the kernel, standing in for the compile-time tables a
// firmware build would bake in.
type simConfig struct {
	Preemptive bool             `yaml:"preemptive"`
	Ticks      int              `yaml:"ticks"`
	Tasks      []taskConfig     `yaml:"tasks"`
	Resources  []resourceConfig `yaml:"resources"`
}

func loadConfig(path string) (*simConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg simConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
