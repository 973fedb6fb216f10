package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/execd/internal/config"
	"github.com/danmuck/execd/internal/executor"
	"github.com/danmuck/execd/internal/logging"
	"github.com/danmuck/execd/internal/node"
	"github.com/danmuck/execd/internal/observability"
	"github.com/danmuck/execd/internal/server"
	"github.com/danmuck/execd/internal/tasks"
)

func main() {
	configPath := flag.String("config", "", "path to execd config TOML (defaults apply when empty)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "execd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger := observability.InitLogger("execd")

	cfg := config.Default()
	if configPath != "" {
		loaded, err := loadDaemonConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec := executor.New(cfg.ToExecutor(observability.NewExecutorMetrics()), logging.Component("executor"))
	exec.Start()
	defer exec.Stop()

	sched := tasks.NewScheduler(exec, logging.Component("tasks"))
	defer sched.Stop()

	var n node.Node = server.New(cfg, exec, sched, logging.Component("http"))
	logger.Info().
		Str("node", n.NodeID()).
		Str("kind", n.Kind()).
		Str("addr", cfg.Addr).
		Dur("kill_grace", cfg.Executor.KillGrace.Duration).
		Msg("execd starting")
	if err := n.Serve(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info().Msg("execd shutting down")
	return nil
}
