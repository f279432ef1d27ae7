package agent

import (
	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/probe"
	"AgentForge/internal/terminal"
	"AgentForge/internal/toolchain"
)

// Workspace 是生成代码与接口清单的持久化位置。
type Workspace interface {
	ReadTemplate() (string, error)
	ReadCode() (string, error)
	SaveCode(code string) error
	SaveEndpoints(schema []byte) error
}

// Prompter 在每轮构建前向操作员确认。
type Prompter interface {
	Confirm() (bool, error)
}

// AutoConfirm 对每次构建确认直接放行，用于无人值守的场景。
type AutoConfirm struct{}

// Confirm 总是返回 true。
func (AutoConfirm) Confirm() (bool, error) { return true, nil }

// Reporter 向操作员展示角色进度。
type Reporter interface {
	AgentMessage(kind terminal.Kind, position, statement string)
}

type silentReporter struct{}

func (silentReporter) AgentMessage(terminal.Kind, string, string) {}

// Dependencies 汇总角色所需的外部协作者。
type Dependencies struct {
	Workspace Workspace
	Builder   toolchain.Builder
	Runner    toolchain.Runner
	Checker   probe.Checker
	Prompter  Prompter
	Reporter  Reporter
}

// validate 检查后端开发角色必需的协作者。确认环节必须显式提供，可用 AutoConfirm 跳过。
func (d Dependencies) validate() error {
	switch {
	case d.Workspace == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "workspace is not configured")
	case d.Builder == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "builder is not configured")
	case d.Runner == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "runner is not configured")
	case d.Prompter == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "operator prompter is not configured")
	}
	return nil
}

func (d Dependencies) reporter() Reporter {
	if d.Reporter == nil {
		return silentReporter{}
	}
	return d.Reporter
}
