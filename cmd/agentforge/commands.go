package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"AgentForge/internal/api"
	"AgentForge/internal/auth"
	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/storage/mysql"
	"AgentForge/internal/task"
	"AgentForge/pkg/logger"
)

// runCommand 在前台交互式地执行一次流水线。
func runCommand(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := configFlag(fs)
	request := fs.String("request", "", "product request; prompted for when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := bootstrap(*configPath)
	if err != nil {
		return err
	}
	log := logger.Named("cli")

	client, err := createLLMClient(cfg)
	if err != nil {
		return err
	}
	manager, prompter, err := createManager(cfg, client, stdin, stdout)
	if err != nil {
		return err
	}
	repo, err := createRunRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	userRequest := strings.TrimSpace(*request)
	if userRequest == "" {
		userRequest, err = prompter.Ask("What software are we building today?")
		if err != nil {
			return err
		}
	}
	if userRequest == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "产品需求不能为空")
	}

	now := time.Now().Unix()
	record := &mysql.RunRecord{
		ID:        uuid.NewString(),
		Request:   userRequest,
		Status:    string(task.StatusRunning),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Save(ctx, *record); err != nil {
		log.Warn("failed to record run", "run_id", record.ID, "error", err)
	}
	runLog := logger.ForRun(log, record.ID)

	sheet, runErr := manager.Run(ctx, userRequest)
	record.UpdatedAt = time.Now().Unix()
	if runErr != nil {
		record.Status = string(task.StatusFailed)
		record.ErrorCode = string(xerrors.CodeOf(runErr))
		record.Error = runErr.Error()
	} else {
		record.Status = string(task.StatusSucceeded)
		record.Description = sheet.ProjectDescription
		if encoded, err := json.Marshal(sheet); err == nil {
			record.FactSheet = encoded
		}
	}
	if err := repo.Save(ctx, *record); err != nil {
		runLog.Warn("failed to record run result", "error", err)
	}
	if runErr != nil {
		return runErr
	}

	runLog.Info("run finished", "status", record.Status)
	encoded, err := json.MarshalIndent(sheet, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(encoded))
	return err
}

// serveCommand 启动 REST 接口并在后台逐条执行排队的运行。
func serveCommand(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := bootstrap(*configPath)
	if err != nil {
		return err
	}
	log := logger.Named("serve")

	client, err := createLLMClient(cfg)
	if err != nil {
		return err
	}
	manager, _, err := createManager(cfg, client, stdin, stdout)
	if err != nil {
		return err
	}
	repo, err := createRunRepository(ctx, cfg)
	if err != nil {
		return err
	}
	queue, err := createQueue(ctx, cfg)
	if err != nil {
		repo.Close()
		return err
	}
	// service 负责关闭仓库与队列
	service := task.NewService(repo, queue)
	defer service.Close()

	processor := task.NewProcessor(manager, repo, queue, task.WithAlerts(createAlerts(cfg)))
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("processor stopped", "error", err)
		}
	}()

	authService, err := auth.NewService(cfg.Auth)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 API 认证失败")
	}
	opts := []api.Option{api.WithAuth(authService)}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(cfg.Metrics.Path))
	}
	server := api.NewServer(cfg.Server.Address, service, opts...)
	log.Info("agentforge serving", "address", cfg.Server.Address, "queue", cfg.Queue.Driver, "store", cfg.Storage.RunStore.Driver)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// historyCommand 列出最近的运行记录。
func historyCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := configFlag(fs)
	limit := fs.Int("limit", 20, "number of runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := bootstrap(*configPath)
	if err != nil {
		return err
	}
	repo, err := createRunRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	records, err := repo.ListLatest(ctx, *limit)
	if err != nil {
		return err
	}
	return printHistory(stdout, records)
}

func printHistory(out io.Writer, records []mysql.RunRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "no runs recorded")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tUPDATED\tERROR\tREQUEST")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.Status,
			time.Unix(r.UpdatedAt, 0).Format(time.DateTime),
			r.ErrorCode,
			truncate(r.Request, 48),
		)
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
