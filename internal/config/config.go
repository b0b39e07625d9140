package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Download struct {
		DataDir string
		// RateLimit caps download throughput in bytes per second; 0 is unlimited.
		RateLimit  int64
		ListenPort int
	}
	Scheduler struct {
		MaxConcurrent   int
		VerifyThreshold float64
		Completion      string
		TickInterval    time.Duration
		StatusInterval  time.Duration
		ResumeInterval  time.Duration
		ShutdownGrace   time.Duration
		QueueSize       int
	}
	Resume struct {
		// Backend is sqlite or s3.
		Backend   string
		KeyPrefix string
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Export struct {
		Enabled     bool
		Concurrency int
	}
	Match struct {
		Resolution string
		Excluded   []string
		Codecs     []string
	}
	Auth struct {
		JWTSecret string
	}
	Log struct {
		Level      string
		Path       string
		MaxSize    int
		MaxBackups int
	}
}

const (
	minConcurrent = 1
	maxConcurrent = 10
)

// Load reads configuration from environment variables and an optional config
// file. An explicit path must exist; otherwise config.{yaml,toml,json} in the
// working directory is used when present.
func Load(path string) (Config, error) {
	loadDotEnv(".env")

	v := viper.New()
	v.SetEnvPrefix("MAGNETQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/magnetq.db")
	v.SetDefault("download.datadir", "data/downloads")
	v.SetDefault("download.ratelimit", 0)
	v.SetDefault("download.listenport", 0)
	v.SetDefault("scheduler.maxconcurrent", 2)
	v.SetDefault("scheduler.verifythreshold", 99.8)
	v.SetDefault("scheduler.completion", "remove")
	v.SetDefault("scheduler.tickinterval", 100*time.Millisecond)
	v.SetDefault("scheduler.statusinterval", time.Second)
	v.SetDefault("scheduler.resumeinterval", time.Minute)
	v.SetDefault("scheduler.shutdowngrace", 5*time.Second)
	v.SetDefault("scheduler.queuesize", 128)
	v.SetDefault("resume.backend", "sqlite")
	v.SetDefault("resume.keyprefix", "resume")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "magnetq")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("export.enabled", false)
	v.SetDefault("export.concurrency", 1)
	v.SetDefault("match.resolution", "1080p")
	v.SetDefault("match.excluded", []string{"vostfr"})
	v.SetDefault("match.codecs", []string{})
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
	v.SetDefault("log.maxsize", 50)
	v.SetDefault("log.maxbackups", 3)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects values the scheduler and its collaborators cannot run with.
func (c Config) Validate() error {
	var errs []error
	s := c.Scheduler
	if s.MaxConcurrent < minConcurrent || s.MaxConcurrent > maxConcurrent {
		errs = append(errs, fmt.Errorf("scheduler.maxconcurrent must be between %d and %d, got %d", minConcurrent, maxConcurrent, s.MaxConcurrent))
	}
	if s.VerifyThreshold <= 0 || s.VerifyThreshold > 100 {
		errs = append(errs, fmt.Errorf("scheduler.verifythreshold must be in (0, 100], got %v", s.VerifyThreshold))
	}
	switch s.Completion {
	case "remove", "retain", "seed":
	default:
		errs = append(errs, fmt.Errorf("scheduler.completion must be remove, retain or seed, got %q", s.Completion))
	}
	for name, d := range map[string]time.Duration{
		"scheduler.tickinterval":   s.TickInterval,
		"scheduler.statusinterval": s.StatusInterval,
		"scheduler.resumeinterval": s.ResumeInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if s.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("scheduler.shutdowngrace must not be negative, got %s", s.ShutdownGrace))
	}
	if s.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.queuesize must be positive, got %d", s.QueueSize))
	}
	if c.Download.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("download.ratelimit must not be negative, got %d", c.Download.RateLimit))
	}

	switch c.Resume.Backend {
	case "sqlite":
	case "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for the s3 resume backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("resume.backend must be sqlite or s3, got %q", c.Resume.Backend))
	}
	if c.Export.Enabled && c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required when export is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// NeedsS3 reports whether any component talks to object storage.
func (c Config) NeedsS3() bool {
	return c.Resume.Backend == "s3" || c.Export.Enabled
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
