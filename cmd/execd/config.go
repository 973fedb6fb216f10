package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/execd/internal/config"
)

// execd config.toml keys, flattened; nested [executor] keys are addressed as
// executor.<key> when checking what the file defines.
type fileConfig struct {
	Name        string   `toml:"name"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	AuthToken   string   `toml:"auth_token"`
	Executor    struct {
		QueueSize           int    `toml:"queue_size"`
		ActivityBuffer      int    `toml:"activity_buffer"`
		ManagerIdleInterval string `toml:"manager_idle_interval"`
		ReadinessTimeout    string `toml:"readiness_timeout"`
		KillGrace           string `toml:"kill_grace"`
		KillGraceMS         int64  `toml:"kill_grace_ms"`
		ReadChunkSize       int    `toml:"read_chunk_size"`
	} `toml:"executor"`
}

// loadDaemonConfig overlays only the keys the file defines onto the defaults.
func loadDaemonConfig(path string) (config.DaemonConfig, error) {
	cfg := config.Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.DaemonConfig{}, fmt.Errorf("load execd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.DaemonConfig{}, fmt.Errorf("load execd config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	ex := raw.Executor
	if meta.IsDefined("executor", "queue_size") {
		cfg.Executor.QueueSize = ex.QueueSize
	}
	if meta.IsDefined("executor", "activity_buffer") {
		cfg.Executor.ActivityBuffer = ex.ActivityBuffer
	}
	if meta.IsDefined("executor", "read_chunk_size") {
		cfg.Executor.ReadChunkSize = ex.ReadChunkSize
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"manager_idle_interval", ex.ManagerIdleInterval, &cfg.Executor.ManagerIdleInterval.Duration},
		{"readiness_timeout", ex.ReadinessTimeout, &cfg.Executor.ReadinessTimeout.Duration},
		{"kill_grace", ex.KillGrace, &cfg.Executor.KillGrace.Duration},
	}
	for _, d := range durations {
		if !meta.IsDefined("executor", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return config.DaemonConfig{}, fmt.Errorf("parse executor.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("executor", "kill_grace_ms") {
		cfg.Executor.KillGrace.Duration = time.Duration(ex.KillGraceMS) * time.Millisecond
	}

	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
