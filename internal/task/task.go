package task

import (
	xerrors "AgentForge/internal/errors"
)

// Status 表示一次排队运行在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal 判断状态是否已结束。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// SubmitRequest 描述一次待排队的流水线运行。
type SubmitRequest struct {
	ID      string `json:"id,omitempty"`
	Request string `json:"request"`
}

const (
	CodeRunNotFound   xerrors.Code = "RUN_NOT_FOUND"
	CodeRunValidation xerrors.Code = "RUN_VALIDATION_FAILED"
	CodeRunPublish    xerrors.Code = "RUN_PUBLISH_FAILED"
	// CodeRunInterrupted 标记在执行中被重新投递的运行，流水线不会被再次驱动。
	CodeRunInterrupted xerrors.Code = "RUN_INTERRUPTED"
)

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{
		Message:  "run not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunValidation, xerrors.Attributes{
		Message:  "run validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunPublish, xerrors.Attributes{
		Message:   "failed to publish run",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
	})
	xerrors.Register(CodeRunInterrupted, xerrors.Attributes{
		Message:  "run was interrupted before its result was recorded",
		Severity: xerrors.SeverityWarning,
	})
}

// IsValidStatus 检查给定状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}
