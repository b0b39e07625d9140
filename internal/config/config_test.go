package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, "data/magnetq.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Scheduler.MaxConcurrent)
	assert.InDelta(t, 99.8, cfg.Scheduler.VerifyThreshold, 1e-9)
	assert.Equal(t, "remove", cfg.Scheduler.Completion)
	assert.Equal(t, 100*time.Millisecond, cfg.Scheduler.TickInterval)
	assert.Equal(t, time.Minute, cfg.Scheduler.ResumeInterval)
	assert.Equal(t, "sqlite", cfg.Resume.Backend)
	assert.Equal(t, "1080p", cfg.Match.Resolution)
	assert.Equal(t, []string{"vostfr"}, cfg.Match.Excluded)
	assert.False(t, cfg.NeedsS3())
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MAGNETQ_SCHEDULER_MAXCONCURRENT", "4")
	t.Setenv("MAGNETQ_SCHEDULER_COMPLETION", "seed")
	t.Setenv("MAGNETQ_SCHEDULER_STATUSINTERVAL", "250ms")
	t.Setenv("MAGNETQ_MATCH_EXCLUDED", "vostfr,dub")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, "seed", cfg.Scheduler.Completion)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.StatusInterval)
	assert.Equal(t, []string{"vostfr", "dub"}, cfg.Match.Excluded)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "magnetq.yaml")
	content := strings.Join([]string{
		"scheduler:",
		"  maxconcurrent: 3",
		"  verifythreshold: 100",
		"resume:",
		"  backend: s3",
		"storage:",
		"  bucket: media",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scheduler.MaxConcurrent)
	assert.InDelta(t, 100.0, cfg.Scheduler.VerifyThreshold, 1e-9)
	assert.Equal(t, "media", cfg.Storage.Bucket)
	assert.True(t, cfg.NeedsS3())

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MAGNETQ_SCHEDULER_MAXCONCURRENT", "11")

	_, err := Load("")
	require.ErrorContains(t, err, "scheduler.maxconcurrent")
}

func validConfig() Config {
	var c Config
	c.Scheduler.MaxConcurrent = 2
	c.Scheduler.VerifyThreshold = 99.8
	c.Scheduler.Completion = "remove"
	c.Scheduler.TickInterval = 100 * time.Millisecond
	c.Scheduler.StatusInterval = time.Second
	c.Scheduler.ResumeInterval = time.Minute
	c.Scheduler.ShutdownGrace = 5 * time.Second
	c.Scheduler.QueueSize = 128
	c.Resume.Backend = "sqlite"
	return c
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"Valid", func(*Config) {}, ""},
		{"ConcurrencyTooLow", func(c *Config) { c.Scheduler.MaxConcurrent = 0 }, "maxconcurrent"},
		{"ConcurrencyTooHigh", func(c *Config) { c.Scheduler.MaxConcurrent = 11 }, "maxconcurrent"},
		{"ConcurrencyUpperBound", func(c *Config) { c.Scheduler.MaxConcurrent = 10 }, ""},
		{"ThresholdZero", func(c *Config) { c.Scheduler.VerifyThreshold = 0 }, "verifythreshold"},
		{"ThresholdAbove100", func(c *Config) { c.Scheduler.VerifyThreshold = 100.1 }, "verifythreshold"},
		{"UnknownCompletion", func(c *Config) { c.Scheduler.Completion = "archive" }, "completion"},
		{"ZeroTick", func(c *Config) { c.Scheduler.TickInterval = 0 }, "tickinterval"},
		{"NegativeGrace", func(c *Config) { c.Scheduler.ShutdownGrace = -time.Second }, "shutdowngrace"},
		{"ZeroQueue", func(c *Config) { c.Scheduler.QueueSize = 0 }, "queuesize"},
		{"NegativeRate", func(c *Config) { c.Download.RateLimit = -1 }, "ratelimit"},
		{"UnknownBackend", func(c *Config) { c.Resume.Backend = "redis" }, "resume.backend"},
		{"S3WithoutBucket", func(c *Config) { c.Resume.Backend = "s3" }, "storage.bucket"},
		{"ExportWithoutBucket", func(c *Config) { c.Export.Enabled = true }, "storage.bucket"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nMAGNETQ_DOTENV_NEW=\"fresh\"\nMAGNETQ_DOTENV_SET=ignored\nnot-a-pair\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("MAGNETQ_DOTENV_SET", "kept")
	t.Cleanup(func() { os.Unsetenv("MAGNETQ_DOTENV_NEW") })

	loadDotEnv(path)
	assert.Equal(t, "fresh", os.Getenv("MAGNETQ_DOTENV_NEW"))
	assert.Equal(t, "kept", os.Getenv("MAGNETQ_DOTENV_SET"))
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	c := validConfig()
	c.Log.Level = "debug"
	c.Log.Path = filepath.Join(t.TempDir(), "logs", "magnetq.log")

	logger, err := c.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.Debug("hello rotation")
	data, err := os.ReadFile(c.Log.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello rotation")

	c.Log.Level = "loud"
	_, err = c.NewLogger()
	require.Error(t, err)
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(prev)) })
}
