package task

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"time"

	"AgentForge/internal/agent"
	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/observability/alerting"
	"AgentForge/internal/observability/metrics"
	"AgentForge/internal/storage/mysql"
	"AgentForge/pkg/logger"
)

// Executor 执行一次完整流水线，由 agent.Manager 实现。
type Executor interface {
	Run(ctx context.Context, userRequest string) (*agent.FactSheet, error)
}

// Processor 从队列消费运行并交给编排器执行。
// 操作员确认依赖控制终端，因此同一时间只执行一条流水线。
type Processor struct {
	executor Executor
	repo     mysql.RunRepository
	consumer Consumer
	logger   *slog.Logger
	alerts   alerting.Dispatcher
	now      func() time.Time

	saveAttempts int
	saveBackoff  time.Duration
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithAlerts 在运行失败时发送告警。
func WithAlerts(d alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerts = d
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, repo mysql.RunRepository, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor: executor,
		repo:     repo,
		consumer: consumer,
		logger:   logger.Named("processor"),
		now:      time.Now,

		saveAttempts: 3,
		saveBackoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动单工作协程的处理循环，直到上下文取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置运行消费者")
	}
	return p.consumer.Consume(ctx, 1, p.handle)
}

func (p *Processor) handle(ctx context.Context, runID string) error {
	if p.repo == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	record, err := p.repo.Get(ctx, runID)
	if err != nil {
		if stdErrors.Is(err, mysql.ErrRunNotFound) {
			p.logger.Debug("跳过未知运行", slog.String("run_id", runID))
			return nil
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取运行失败", xerrors.WithMetadata("run_id", runID))
	}
	if Status(record.Status).Terminal() {
		p.logger.Debug("跳过已结束的运行", slog.String("run_id", runID), slog.String("status", record.Status))
		return nil
	}
	if Status(record.Status) == StatusRunning {
		return p.interrupt(ctx, record)
	}

	record.Status = string(StatusRunning)
	record.UpdatedAt = p.now().Unix()
	if err := p.repo.Save(ctx, *record); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记运行开始失败", xerrors.WithMetadata("run_id", runID))
	}
	runLog := logger.ForRun(p.logger, runID)
	runLog.Info("运行开始", slog.String("request", record.Request))
	logger.Audit().Info("run started", slog.String("run_id", runID))

	start := p.now()
	sheet, execErr := p.executor.Run(ctx, record.Request)
	record.UpdatedAt = p.now().Unix()

	if execErr != nil {
		code := xerrors.CodeOf(execErr)
		record.Status = string(StatusFailed)
		record.ErrorCode = string(code)
		record.Error = execErr.Error()
		metrics.ObserveRun(string(code))
		runLog.Error("运行失败", slog.String("error_code", string(code)), slog.Any("error", execErr))
		logger.Audit().Warn("run failed",
			slog.String("run_id", runID),
			slog.String("error_code", string(code)),
			slog.Duration("elapsed", p.now().Sub(start)),
		)
		p.alert(ctx, record, execErr)
	} else {
		encoded, err := json.Marshal(sheet)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "序列化事实表失败")
		}
		record.Status = string(StatusSucceeded)
		record.Description = sheet.ProjectDescription
		record.FactSheet = encoded
		record.ErrorCode = ""
		record.Error = ""
		metrics.ObserveRun(string(StatusSucceeded))
		runLog.Info("运行完成", slog.Int("endpoints", len(sheet.APIEndpointsSchema)))
		logger.Audit().Info("run finished",
			slog.String("run_id", runID),
			slog.Duration("elapsed", p.now().Sub(start)),
		)
	}

	return p.saveResult(ctx, *record)
}

// interrupt 将重新投递时仍处于 running 的运行标记为失败。
// 上一次执行可能已生成代码并启动服务，不能无人值守地再跑一遍。
func (p *Processor) interrupt(ctx context.Context, record *mysql.RunRecord) error {
	interrupted := xerrors.New(CodeRunInterrupted, "run was redelivered while still marked running",
		xerrors.WithMetadata("run_id", record.ID))
	record.Status = string(StatusFailed)
	record.ErrorCode = string(CodeRunInterrupted)
	record.Error = interrupted.Error()
	record.UpdatedAt = p.now().Unix()
	if err := p.repo.Save(ctx, *record); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记中断运行失败", xerrors.WithMetadata("run_id", record.ID))
	}
	metrics.ObserveRun(string(CodeRunInterrupted))
	p.logger.Warn("运行被重新投递，标记为中断", slog.String("run_id", record.ID))
	logger.Audit().Warn("run interrupted", slog.String("run_id", record.ID))
	p.alert(ctx, record, interrupted)
	return nil
}

// saveResult 只重试结果写入，最终失败标记为不可重试。
func (p *Processor) saveResult(ctx context.Context, record mysql.RunRecord) error {
	attempts := p.saveAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return xerrors.Wrap(xerrors.CodeStorageFailure, ctx.Err(), "保存运行结果失败",
					xerrors.WithMetadata("run_id", record.ID), xerrors.WithRetryable(false))
			case <-time.After(p.saveBackoff):
			}
		}
		if err = p.repo.Save(ctx, record); err == nil {
			return nil
		}
		p.logger.Warn("保存运行结果失败", slog.String("run_id", record.ID), slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存运行结果失败",
		xerrors.WithMetadata("run_id", record.ID), xerrors.WithRetryable(false))
}

func (p *Processor) alert(ctx context.Context, record *mysql.RunRecord, err error) {
	if p.alerts == nil {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(err),
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		RunID:      record.ID,
		Request:    record.Request,
		OccurredAt: p.now(),
	}
	if coded, ok := xerrors.From(err); ok {
		event.Metadata = coded.Metadata()
	}
	if notifyErr := p.alerts.Notify(ctx, event); notifyErr != nil {
		p.logger.Warn("发送告警失败", slog.String("run_id", record.ID), slog.Any("error", notifyErr))
	}
}
