package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
environment: test

server:
  port: 9090
  read_timeout: 5s
  write_timeout: 5s
  shutdown_timeout: 5s

backend:
  type: clickhouse
  batch_size: 100
  batch_timeout: 1s

kafka:
  brokers: [localhost:9092]
  topic: rating-observations

clickhouse:
  host: localhost
  port: 9000
  database: ratingflow

feed:
  url: wss://ratings.example.com/stream
  cohorts: [corporate]
  reconnect_delay: 1s

scale:
  grades: [A, B, C]
  absorbing: [D]

analysis:
  duplicate_policy: keep-latest
  gap_policy: strict
  draws: 100
  confidence: 0.95
  cache_ttl: 10s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	c, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "clickhouse", c.Backend.Type)
	assert.Equal(t, []string{"A", "B", "C"}, c.Scale.Grades)
	assert.Equal(t, []string{"D"}, c.Scale.Absorbing)
	assert.Equal(t, 100, c.Analysis.Draws)
	assert.Equal(t, 10*time.Second, c.Analysis.CacheTTL)
	assert.Equal(t, []string{"corporate"}, c.Feed.Cohorts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("FEED_TOKEN", "secret-token")
	t.Setenv("BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("COHORTS", "sovereign,municipal")

	c, err := LoadWithEnv(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "secret-token", c.Feed.Token)
	assert.Equal(t, "kafka", c.Backend.Type)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, []string{"sovereign", "municipal"}, c.Feed.Cohorts)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c, err := Load(writeConfig(t, sampleYAML))
		require.NoError(t, err)
		return c
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing environment", func(c *Config) { c.Environment = "" }},
		{"missing backend", func(c *Config) { c.Backend.Type = "" }},
		{"unknown backend", func(c *Config) { c.Backend.Type = "postgres" }},
		{"too few grades", func(c *Config) { c.Scale.Grades = []string{"A"} }},
		{"bad duplicate policy", func(c *Config) { c.Analysis.DuplicatePolicy = "keep-first" }},
		{"bad gap policy", func(c *Config) { c.Analysis.GapPolicy = "lenient" }},
		{"confidence out of range", func(c *Config) { c.Analysis.Confidence = 1.0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	assert.NoError(t, base().Validate())
}
