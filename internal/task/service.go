package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/storage/mysql"
	"AgentForge/pkg/logger"
)

// Service 负责运行的创建与查询。
type Service struct {
	repo     mysql.RunRepository
	producer Producer
	now      func() time.Time
}

// NewService 构造运行服务。
func NewService(repo mysql.RunRepository, producer Producer) *Service {
	return &Service{repo: repo, producer: producer, now: time.Now}
}

// Submit 创建 pending 记录并投递到队列。已存在的 ID 直接返回原记录。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*mysql.RunRecord, error) {
	request := strings.TrimSpace(req.Request)
	if request == "" {
		return nil, xerrors.New(CodeRunValidation, "运行请求不能为空")
	}
	if s.repo == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化")
	}

	runID := strings.TrimSpace(req.ID)
	if runID != "" {
		existing, err := s.repo.Get(ctx, runID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, mysql.ErrRunNotFound) {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行失败")
		}
	} else {
		runID = uuid.NewString()
	}

	now := s.now().Unix()
	record := mysql.RunRecord{
		ID:        runID,
		Request:   request,
		Status:    string(StatusPending),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Save(ctx, record); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存运行失败")
	}
	if err := s.producer.Publish(ctx, runID); err != nil {
		logger.L().Error("运行入队失败", slog.Any("error", err), slog.String("run_id", runID))
		wrapped := xerrors.Wrap(CodeRunPublish, err, "发布运行到队列失败")
		record.Status = string(StatusFailed)
		record.ErrorCode = string(CodeRunPublish)
		record.Error = wrapped.Error()
		record.UpdatedAt = s.now().Unix()
		_ = s.repo.Save(ctx, record)
		return nil, wrapped
	}
	logger.Audit().Info("运行入队成功",
		slog.String("run_id", runID),
		slog.String("request", request),
	)
	return &record, nil
}

// Get 返回指定运行。
func (s *Service) Get(ctx context.Context, id string) (*mysql.RunRecord, error) {
	if s.repo == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		if stdErrors.Is(err, mysql.ErrRunNotFound) {
			return nil, xerrors.Wrap(CodeRunNotFound, err, "运行不存在", xerrors.WithMetadata("run_id", id))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行失败")
	}
	return record, nil
}

// List 返回最近的运行。
func (s *Service) List(ctx context.Context, limit int) ([]mysql.RunRecord, error) {
	if s.repo == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	records, err := s.repo.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行列表失败")
	}
	return records, nil
}

// WaitUntilCompleted 轮询直到运行结束或上下文取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*mysql.RunRecord, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		record, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if Status(record.Status).Terminal() {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放存储与队列。
func (s *Service) Close() error {
	var errs []error
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}
