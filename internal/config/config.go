// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the settings shared by the server, worker and producer binaries.
type Config struct {
	QueueName string        `mapstructure:"queue_name"`
	Redis     RedisConfig   `mapstructure:"redis"`
	Worker    WorkerConfig  `mapstructure:"worker"`
	Server    ServerConfig  `mapstructure:"server"`
	Results   ResultsConfig `mapstructure:"results"`
	Runner    RunnerConfig  `mapstructure:"runner"`
	Spool     SpoolConfig   `mapstructure:"spool"`
	Reaper    ReaperConfig  `mapstructure:"reaper"`
	LogFile   string        `mapstructure:"log_file"`
}

// RedisConfig holds the store connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

// WorkerConfig controls the lease loop.
type WorkerConfig struct {
	Count        int           `mapstructure:"count"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ServerConfig holds listener ports for the HTTP and gRPC APIs.
type ServerConfig struct {
	HTTPPort int `mapstructure:"http_port"`
	GRPCPort int `mapstructure:"grpc_port"`
}

// ResultsConfig locates the SQLite result store. An empty path disables it.
type ResultsConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// RunnerConfig describes how work items are executed.
type RunnerConfig struct {
	DockerBinary string        `mapstructure:"docker_binary"`
	DefaultImage string        `mapstructure:"default_image"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// SpoolConfig enables the drop-directory producer when Dir is set.
type SpoolConfig struct {
	Dir string `mapstructure:"dir"`
}

// ReaperConfig sets the interval of the server-side expired-lease sweep.
// Zero disables it; idle workers still sweep on their own.
type ReaperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from an optional YAML file, a .env file and the
// environment. Environment variables use the JOBHIVE_ prefix with dots replaced
// by underscores (JOBHIVE_WORKER_LEASE_TTL); QUEUE_NAME, REDIS_ADDR, REDIS_DB,
// REDIS_PASSWORD, REDIS_HOST and REDIS_PORT are honoured as well.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Failed to load .env file: %v", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		v.SetConfigName("jobhive")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.jobhive")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			log.Printf("No config file found, using defaults")
		}
	}

	v.SetEnvPrefix("JOBHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("queue_name", "JOBHIVE_QUEUE_NAME", "QUEUE_NAME")
	v.BindEnv("redis.addr", "JOBHIVE_REDIS_ADDR", "REDIS_ADDR")
	v.BindEnv("redis.db", "JOBHIVE_REDIS_DB", "REDIS_DB")
	v.BindEnv("redis.password", "JOBHIVE_REDIS_PASSWORD", "REDIS_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	explicitAddr := os.Getenv("REDIS_ADDR") != "" || os.Getenv("JOBHIVE_REDIS_ADDR") != "" || v.InConfig("redis.addr")
	if addr := legacyRedisAddr(); addr != "" && !explicitAddr {
		cfg.Redis.Addr = addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue_name", "job")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.lease_ttl", 120*time.Second)
	v.SetDefault("worker.lease_timeout", 2*time.Second)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("results.db_path", "./jobhive.db")
	v.SetDefault("runner.docker_binary", "docker")
	v.SetDefault("runner.default_image", "hello-world")
	v.SetDefault("runner.timeout", 10*time.Minute)
	v.SetDefault("spool.dir", "")
	v.SetDefault("reaper.interval", 30*time.Second)
	v.SetDefault("log_file", "")
}

// Validate rejects settings the queue cannot run with.
func (c *Config) Validate() error {
	if c.QueueName == "" {
		return errors.New("queue_name must not be empty")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr must not be empty")
	}
	if c.Worker.LeaseTTL <= 0 {
		return fmt.Errorf("worker.lease_ttl must be positive, got %s", c.Worker.LeaseTTL)
	}
	// A worker that waits forever never runs its idle recovery pass.
	if c.Worker.LeaseTimeout <= 0 {
		return fmt.Errorf("worker.lease_timeout must be positive, got %s", c.Worker.LeaseTimeout)
	}
	if c.Worker.PollInterval < 0 {
		return fmt.Errorf("worker.poll_interval must not be negative, got %s", c.Worker.PollInterval)
	}
	if c.Reaper.Interval < 0 {
		return fmt.Errorf("reaper.interval must not be negative, got %s", c.Reaper.Interval)
	}
	if c.Worker.Count < 0 {
		return fmt.Errorf("worker.count must not be negative, got %d", c.Worker.Count)
	}
	return nil
}
