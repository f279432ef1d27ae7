package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"AgentForge/internal/config"
	xerrors "AgentForge/internal/errors"
	"AgentForge/pkg/logger"
)

const usage = `usage: agentforge <command> [flags]

commands:
  run      build a server interactively from a product request
  serve    queue runs submitted over HTTP and execute them one at a time
  history  list recent runs
`

// main 是 agentforge 命令行的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.L().Error("agentforge failed", "code", xerrors.CodeOf(err), "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func dispatch(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return flag.ErrHelp
	}
	switch args[0] {
	case "run":
		return runCommand(ctx, args[1:], stdin, stdout)
	case "serve":
		return serveCommand(ctx, args[1:], stdin, stdout)
	case "history":
		return historyCommand(ctx, args[1:], stdout)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return flag.ErrHelp
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// configFlag 注册所有子命令共用的 -config 参数。
func configFlag(fs *flag.FlagSet) *string {
	fallback := os.Getenv("AGENTFORGE_CONFIG")
	if fallback == "" {
		fallback = filepath.Join("configs", "agentforge.yaml")
	}
	return fs.String("config", fallback, "path to the YAML configuration file")
}

// bootstrap 加载 .env 与配置文件，并初始化日志。
func bootstrap(configPath string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}
