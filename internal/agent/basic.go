package agent

import (
	"context"

	"AgentForge/internal/llm"
)

// State 是所有角色共享的状态机枚举。
type State int

const (
	StateDiscovery State = iota
	StateWorking
	StateUnitTesting
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateDiscovery:
		return "discovery"
	case StateWorking:
		return "working"
	case StateUnitTesting:
		return "unit_testing"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// BasicAgent 保存角色的元数据、当前状态与对话记忆。
type BasicAgent struct {
	Objective string
	Position  string
	State     State
	// Memory 按顺序记录与大模型的每次往返，只写不读。
	Memory []llm.Message
}

// UpdateState 切换到新状态。
func (a *BasicAgent) UpdateState(next State) {
	a.State = next
}

func (a *BasicAgent) remember(request, response llm.Message) {
	a.Memory = append(a.Memory, request, response)
}

// Role 是编排器驱动的统一能力：在独占的事实表上运行到 Finished。
type Role interface {
	Attributes() *BasicAgent
	Execute(ctx context.Context, sheet *FactSheet) error
}
