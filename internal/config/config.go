// Package config loads the queue configuration from an optional YAML file
// and the environment. Environment variables win over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agent-queue/internal/dispatcher"
	"agent-queue/internal/entity"
	"agent-queue/internal/lease"
	"agent-queue/internal/service"
)

type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Redis  RedisConfig  `yaml:"redis"`
	HTTP   HTTPConfig   `yaml:"http"`
	Worker WorkerConfig `yaml:"worker"`

	Lease   lease.Policy          `yaml:"lease"`
	Retry   lease.RetryConfig     `yaml:"retry"`
	Routing service.RoutingConfig `yaml:"routing"`
	// QueueAliases extends the built-in legacy queue names.
	QueueAliases map[string]string `yaml:"queue_aliases"`
}

type StoreConfig struct {
	Driver  string        `yaml:"driver"`
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Addr           string `yaml:"addr"`
	DoorbellPrefix string `yaml:"doorbell_prefix"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type WorkerConfig struct {
	Slots          int            `yaml:"slots"`
	Host           string         `yaml:"host"`
	DefaultRuntime entity.Runtime `yaml:"default_runtime"`
	WorkRoot       string         `yaml:"work_root"`
	JobTimeout     time.Duration  `yaml:"job_timeout"`
	IdleWait       time.Duration  `yaml:"idle_wait"`
}

func Default() Config {
	return Config{
		Store:   StoreConfig{Driver: "postgres", Timeout: 5 * time.Second},
		Redis:   RedisConfig{DoorbellPrefix: "jobs:doorbell"},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Worker:  WorkerConfig{Slots: 4, DefaultRuntime: entity.RuntimeCodex, IdleWait: 5 * time.Second},
		Lease:   lease.DefaultPolicy(),
		Retry:   lease.DefaultRetryConfig(),
		Routing: service.DefaultRoutingConfig(),
	}
}

// Load reads the file named by QUEUE_CONFIG, if any, over the defaults and
// then applies environment overrides. getenv nil means os.Getenv.
func Load(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	if path := strings.TrimSpace(getenv("QUEUE_CONFIG")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, env(getenv)); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML over cfg. Unknown keys are rejected.
func Parse(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

type env func(string) string

func (e env) or(key, def string) string {
	v := strings.TrimSpace(e(key))
	if v == "" {
		return def
	}
	return v
}

func (e env) intOr(key string, def int) (int, error) {
	v := strings.TrimSpace(e(key))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return i, nil
}

func (e env) durationOr(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(e(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func applyEnv(cfg *Config, e env) error {
	cfg.Store.Driver = e.or("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = e.or("STORE_DSN", e.or("POSTGRES_DSN", cfg.Store.DSN))
	cfg.Redis.Addr = e.or("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.DoorbellPrefix = e.or("REDIS_DOORBELL_PREFIX", cfg.Redis.DoorbellPrefix)
	cfg.HTTP.Addr = e.or("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Worker.Host = e.or("WORKER_HOST", cfg.Worker.Host)
	cfg.Worker.WorkRoot = e.or("WORKER_WORKDIR", cfg.Worker.WorkRoot)
	cfg.Routing.DefaultQueue = e.or("DEFAULT_QUEUE", cfg.Routing.DefaultQueue)

	var errs []error
	var err error
	if cfg.Worker.Slots, err = e.intOr("WORKERS", cfg.Worker.Slots); err != nil {
		errs = append(errs, err)
	}
	if cfg.Lease.MaxAttempts, err = e.intOr("MAX_ATTEMPTS", cfg.Lease.MaxAttempts); err != nil {
		errs = append(errs, err)
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"LEASE_DURATION", &cfg.Lease.LeaseDuration},
		{"HEARTBEAT_INTERVAL", &cfg.Lease.HeartbeatInterval},
		{"SWEEP_INTERVAL", &cfg.Lease.SweepInterval},
		{"STORE_TIMEOUT", &cfg.Store.Timeout},
		{"JOB_TIMEOUT", &cfg.Worker.JobTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = e.durationOr(d.key, *d.dst); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	if err := c.Lease.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("lease: %w", err))
	}
	if _, err := lease.NewRetryPolicy(c.Retry); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "sqlite3":
	case "postgres", "postgresql", "mysql":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store: dsn is required for driver %s (set STORE_DSN or POSTGRES_DSN)", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}
	if c.Worker.Slots < 1 {
		errs = append(errs, errors.New("worker: slots must be >= 1"))
	}
	if rt, ok := entity.ParseRuntime(string(c.Worker.DefaultRuntime)); !ok || rt == "" {
		errs = append(errs, fmt.Errorf("worker: default_runtime must be one of: %s", entity.RuntimeNames()))
	}
	if strings.TrimSpace(c.Routing.DefaultQueue) == "" {
		errs = append(errs, errors.New("routing: default_queue is required"))
	}
	return errors.Join(errs...)
}

func (c Config) RetryPolicy() lease.RetryPolicy {
	p, err := lease.NewRetryPolicy(c.Retry)
	if err != nil {
		return lease.ExponentialBackoff{Base: c.Retry.Base, Max: c.Retry.Max}
	}
	return p
}

func (c Config) Router() *service.Router {
	return service.NewRouter(c.Routing)
}

// Aliases returns the built-in legacy queue names merged with the
// configured ones.
func (c Config) Aliases() dispatcher.AliasTable {
	a := dispatcher.DefaultAliases(c.Routing.DefaultQueue)
	for k, v := range c.QueueAliases {
		a[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return a
}

func (c Config) Dispatcher() dispatcher.Config {
	rq := make(map[entity.Runtime]string, len(c.Routing.Runtimes))
	for name, q := range c.Routing.Runtimes {
		if rt, ok := entity.ParseRuntime(name); ok && rt != "" {
			rq[rt] = q
		}
	}
	return dispatcher.Config{
		DefaultRuntime: c.Worker.DefaultRuntime,
		DefaultQueue:   c.Routing.DefaultQueue,
		RuntimeQueues:  rq,
		Aliases:        c.Aliases(),
	}
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password of a URL-style DSN: user:pass@ -> user:****@.
// A DSN without a password is returned unchanged.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
