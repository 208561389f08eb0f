package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete worker configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Queue     QueueConfig     `yaml:"queue"`
	Store     StoreConfig     `yaml:"store"`
	Processor ProcessorConfig `yaml:"processor"`
	Worker    WorkerConfig    `yaml:"worker"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds the health/status HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// QueueConfig holds SQS queue settings
type QueueConfig struct {
	URL               string        `yaml:"url"`
	WaitTime          time.Duration `yaml:"wait_time"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

// StoreConfig holds DynamoDB job table settings
type StoreConfig struct {
	Table string `yaml:"table"`
}

// ProcessorConfig holds conversion tool and workspace settings
type ProcessorConfig struct {
	WorkDir      string        `yaml:"work_dir"`
	CleanupFiles bool          `yaml:"cleanup_files"`
	Binary       string        `yaml:"binary"`
	ExtraArgs    []string      `yaml:"extra_args"`
	TailLines    int           `yaml:"tail_lines"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// WorkerConfig holds orchestration settings
type WorkerConfig struct {
	Role            string        `yaml:"role"`
	JobID           string        `yaml:"job_id"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// Load reads the configuration file, applies defaults and then environment
// variable overrides. The file is optional: an empty path yields a config
// built from defaults and environment alone.
func Load(configPath string) (*Config, error) {
	config := defaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnv()
	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "mineru-worker",
			Version:     "dev",
			Environment: "development",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Queue: QueueConfig{
			WaitTime:          20 * time.Second,
			PollInterval:      5 * time.Second,
			VisibilityTimeout: 15 * time.Minute,
		},
		Processor: ProcessorConfig{
			WorkDir:      "/tmp/mineru-workspace",
			CleanupFiles: true,
			Binary:       "mineru",
			TailLines:    20,
			ProbeTimeout: 10 * time.Second,
		},
		Worker: WorkerConfig{
			Role:            "worker",
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnv overrides file values with the environment identifiers the
// deployment injects per task definition.
func (c *Config) applyEnv() {
	if v := os.Getenv("SQS_QUEUE_URL"); v != "" {
		c.Queue.URL = v
	}
	if v := os.Getenv("DYNAMODB_TABLE"); v != "" {
		c.Store.Table = v
	}
	if v := os.Getenv("JOB_ID"); v != "" {
		c.Worker.JobID = v
	}
	if v := os.Getenv("WORKER_ROLE"); v != "" {
		c.Worker.Role = v
	}
	if v := os.Getenv("WORK_DIR"); v != "" {
		c.Processor.WorkDir = v
	}
	if v := os.Getenv("CLEANUP_FILES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Processor.CleanupFiles = b
		}
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Queue.PollInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// SingleShot reports whether a single job id was injected, selecting the
// run-once execution mode.
func (c *Config) SingleShot() bool {
	return c.Worker.JobID != ""
}

// Validate checks if the configuration is valid for the selected mode.
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Store.Table == "" {
		return fmt.Errorf("store table is required (set store.table or DYNAMODB_TABLE)")
	}

	if !c.SingleShot() && c.Queue.URL == "" {
		return fmt.Errorf("queue url is required in continuous mode (set queue.url or SQS_QUEUE_URL)")
	}

	if c.Processor.WorkDir == "" {
		return fmt.Errorf("processor work_dir is required")
	}

	if c.Processor.Binary == "" {
		return fmt.Errorf("processor binary is required")
	}

	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue poll_interval must be greater than 0")
	}

	if c.Queue.WaitTime < 0 || c.Queue.WaitTime > 20*time.Second {
		return fmt.Errorf("queue wait_time must be between 0 and 20s")
	}

	return nil
}
