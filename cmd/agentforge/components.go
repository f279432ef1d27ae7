package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"AgentForge/internal/agent"
	"AgentForge/internal/config"
	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/llm"
	"AgentForge/internal/llm/openai"
	"AgentForge/internal/llm/pythonbridge"
	"AgentForge/internal/observability/alerting"
	"AgentForge/internal/probe"
	"AgentForge/internal/storage/mysql"
	"AgentForge/internal/task"
	"AgentForge/internal/terminal"
	"AgentForge/internal/toolchain"
	"AgentForge/internal/workspace"
)

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "openai":
		key := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if key == "" {
			key = os.Getenv(cfg.LLM.OpenAI.APIKeyEnv)
		}
		org := strings.TrimSpace(cfg.LLM.OpenAI.Organization)
		if org == "" {
			org = os.Getenv(cfg.LLM.OpenAI.OrgEnv)
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:       key,
			Organization: org,
			BaseURL:      cfg.LLM.OpenAI.BaseURL,
			Model:        cfg.LLM.OpenAI.Model,
			Temperature:  cfg.LLM.OpenAI.Temperature,
			Timeout:      cfg.LLM.OpenAI.Timeout(),
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 OpenAI 客户端失败")
		}
		return client, nil
	case "python_bridge":
		script := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		client, err := pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, script, cfg.LLM.Python.WorkingDir)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 Python Bridge 失败")
		}
		return client, nil
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("未知的大模型提供方: %s", cfg.LLM.Provider))
	}
}

// createManager 组装编排器及其全部外部协作者。
func createManager(cfg *config.Config, client llm.Client, stdin io.Reader, stdout io.Writer) (*agent.Manager, *terminal.Prompter, error) {
	files, err := workspace.New(cfg.Workspace.TemplateFile, cfg.Workspace.CodeFile, cfg.Workspace.EndpointsFile)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化工作区失败")
	}
	builder, err := toolchain.NewCommandBuilder(cfg.Toolchain.BuildCommand, cfg.Workspace.Dir)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化构建命令失败")
	}
	runner, err := toolchain.NewCommandRunner(cfg.Toolchain.RunCommand, cfg.Workspace.Dir, cfg.Toolchain.Port)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化运行命令失败")
	}

	prompter := terminal.NewPrompter(stdin, stdout)
	manager := agent.NewManager(client, agent.Dependencies{
		Workspace: files,
		Builder:   builder,
		Runner:    runner,
		Checker:   probe.NewHTTPChecker(cfg.Probe.Timeout()),
		Prompter:  prompter,
		Reporter:  terminal.NewPrinter(stdout),
	},
		agent.WithPort(cfg.Toolchain.Port),
		agent.WithWarmUp(cfg.Toolchain.WarmUp()),
		agent.WithMaxBugCount(uint8(cfg.Toolchain.MaxBugCount)),
	)
	return manager, prompter, nil
}

func createRunRepository(ctx context.Context, cfg *config.Config) (mysql.RunRepository, error) {
	store := cfg.Storage.RunStore
	switch store.Driver {
	case "mysql":
		repo, err := mysql.NewSQLRunRepository(ctx, mysql.Config{
			DSN:             store.DSN,
			MaxOpenConns:    store.MaxOpenConns,
			MaxIdleConns:    store.MaxIdleConns,
			ConnMaxLifetime: time.Duration(store.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 MySQL 运行仓库失败")
		}
		return repo, nil
	case "sqlite":
		repo, err := mysql.NewSQLiteRunRepository(ctx, store.DataDir)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 SQLite 运行仓库失败")
		}
		return repo, nil
	default:
		repo, err := mysql.NewFileRunRepository(store.DataDir)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化本地运行仓库失败")
		}
		return repo, nil
	}
}

func createQueue(ctx context.Context, cfg *config.Config) (task.Queue, error) {
	q := cfg.Queue
	switch q.Driver {
	case "redis":
		queue, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   q.Redis.Address,
			Password:  q.Redis.Password,
			DB:        q.Redis.DB,
			Queue:     q.Redis.Queue,
			BlockWait: time.Duration(q.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "初始化 Redis 队列失败")
		}
		return queue, nil
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        q.RabbitMQ.URL,
			Queue:      q.RabbitMQ.Queue,
			Durable:    q.RabbitMQ.Durable,
			AutoDelete: q.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "初始化 RabbitMQ 队列失败")
		}
		return queue, nil
	default:
		return task.NewMemoryQueue(q.Size), nil
	}
}

// createAlerts 返回运行失败时的告警分发器，未启用时返回 nil。
func createAlerts(cfg *config.Config) alerting.Dispatcher {
	if !cfg.Alerting.Enabled {
		return nil
	}
	url := strings.TrimSpace(cfg.Alerting.WebhookURL)
	if url == "" {
		url = os.Getenv(cfg.Alerting.WebhookURLEnv)
	}
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: url})
	}
	return alerting.NewFanout(xerrors.Severity(cfg.Alerting.MinSeverity), notifiers...)
}
