package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("config: invalid")

// DaemonConfig is the execd daemon configuration. File values come first,
// EXECD_* environment variables override them.
type DaemonConfig struct {
	Name        string         `toml:"name" env:"EXECD_NAME"`
	Addr        string         `toml:"addr" env:"EXECD_ADDR"`
	CorsOrigins []string       `toml:"cors_origins" env:"EXECD_CORS_ORIGINS" envSeparator:","`
	AuthToken   string         `toml:"auth_token" env:"EXECD_AUTH_TOKEN"`
	Executor    ExecutorConfig `toml:"executor" envPrefix:"EXECD_"`
}

// ExecutorConfig is the [executor] table.
type ExecutorConfig struct {
	QueueSize           int      `toml:"queue_size" env:"QUEUE_SIZE"`
	ActivityBuffer      int      `toml:"activity_buffer" env:"ACTIVITY_BUFFER"`
	ManagerIdleInterval Duration `toml:"manager_idle_interval" env:"MANAGER_IDLE_INTERVAL"`
	ReadinessTimeout    Duration `toml:"readiness_timeout" env:"READINESS_TIMEOUT"`
	KillGrace           Duration `toml:"kill_grace" env:"KILL_GRACE"`
	// KillGraceMS, when set, replaces KillGrace.
	KillGraceMS   *int64 `toml:"kill_grace_ms,omitempty" env:"KILL_GRACE_MS"`
	ReadChunkSize int    `toml:"read_chunk_size" env:"READ_CHUNK_SIZE"`
}

func (c *ExecutorConfig) resolveKillGrace() {
	if c.KillGraceMS != nil {
		c.KillGrace = Duration{time.Duration(*c.KillGraceMS) * time.Millisecond}
		c.KillGraceMS = nil
	}
}

// Duration reads Go duration strings ("3s", "250ms") from TOML and env.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() DaemonConfig {
	return DaemonConfig{
		Name:        "execd",
		Addr:        ":9300",
		CorsOrigins: []string{"http://localhost:3000"},
		Executor: ExecutorConfig{
			QueueSize:           64,
			ActivityBuffer:      256,
			ManagerIdleInterval: Duration{200 * time.Millisecond},
			ReadinessTimeout:    Duration{100 * time.Millisecond},
			KillGrace:           Duration{3 * time.Second},
			ReadChunkSize:       32 * 1024,
		},
	}
}

// Load reads path over the defaults, rejecting unknown keys, then applies the
// environment and validates the result.
func Load(path string) (DaemonConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return DaemonConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return DaemonConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	cfg.Executor.resolveKillGrace()
	if err := ApplyEnv(&cfg); err != nil {
		return DaemonConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return DaemonConfig{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any EXECD_* variables that are set.
func ApplyEnv(cfg *DaemonConfig) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config env overrides: %w", err)
	}
	cfg.Executor.resolveKillGrace()
	return nil
}

func Validate(cfg DaemonConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("%w: missing addr", ErrInvalidConfig)
	}
	ex := cfg.Executor
	if ex.QueueSize < 0 || ex.ActivityBuffer < 0 || ex.ReadChunkSize < 0 {
		return fmt.Errorf("%w: executor sizes must not be negative", ErrInvalidConfig)
	}
	if ex.KillGrace.Duration < 0 || ex.ManagerIdleInterval.Duration < 0 || ex.ReadinessTimeout.Duration < 0 {
		return fmt.Errorf("%w: executor intervals must not be negative", ErrInvalidConfig)
	}
	return nil
}
