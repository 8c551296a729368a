//go:build integration

package integration

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the timing budgets the scenarios assert against.
type Config struct {
	StreamVisibilitySLAMs int `yaml:"stream_visibility_sla_ms"`
	TopicToggleSLAMs      int `yaml:"topic_toggle_sla_ms"`
}

// StreamSLA is how long a write may take to show up on the stream.
func (c Config) StreamSLA() time.Duration {
	if c.StreamVisibilitySLAMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.StreamVisibilitySLAMs) * time.Millisecond
}

// LoadConfig reads path, falling back to defaults when it is missing.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(data, &cfg)
	return cfg, err
}
