package agent

import (
	"context"
	"io"
	"log/slog"
	"time"

	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/llm"
	"AgentForge/internal/observability/metrics"
	"AgentForge/internal/probe"
	"AgentForge/pkg/logger"
)

const (
	managerPosition  = "Project Manager"
	managerObjective = "Manage agents who are building an excellent software product"
)

type settings struct {
	port        int
	warmUp      time.Duration
	maxBugCount uint8
}

// Option 定义可选的编排配置。
type Option func(*settings)

// WithPort 设置生成服务监听的本地端口。
func WithPort(port int) Option {
	return func(s *settings) {
		if port > 0 {
			s.port = port
		}
	}
}

// WithWarmUp 设置服务启动后到开始校验之间的等待时间，0 表示不等待。
func WithWarmUp(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.warmUp = d
		}
	}
}

// WithMaxBugCount 设置允许的连续构建失败次数，超过即终止。
func WithMaxBugCount(n uint8) Option {
	return func(s *settings) {
		s.maxBugCount = n
	}
}

func newSettings(opts []Option) settings {
	s := settings{port: defaultPort, warmUp: defaultWarmUp, maxBugCount: defaultMaxBugCount}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// Manager 是编排器：生成项目描述，再按顺序把事实表交给各角色。
type Manager struct {
	attributes BasicAgent
	client     llm.Client
	deps       Dependencies
	opts       []Option
	log        *slog.Logger
}

// NewManager 创建编排器。
func NewManager(client llm.Client, deps Dependencies, opts ...Option) *Manager {
	if deps.Checker == nil {
		deps.Checker = probe.NewHTTPChecker(0)
	}
	return &Manager{
		attributes: BasicAgent{Objective: managerObjective, Position: managerPosition, State: StateDiscovery},
		client:     client,
		deps:       deps,
		opts:       opts,
		log:        logger.Named("manager"),
	}
}

// Attributes 返回编排器元数据。
func (m *Manager) Attributes() *BasicAgent { return &m.attributes }

// Run 执行一次完整流水线。任一角色失败即中止，已积累的事实表被丢弃。
func (m *Manager) Run(ctx context.Context, userRequest string) (*FactSheet, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	m.attributes = BasicAgent{Objective: managerObjective, Position: managerPosition, State: StateWorking}

	reporter := m.deps.reporter()
	o := oracle{client: m.client, reporter: reporter, log: m.log}
	description, err := o.taskRequest(ctx, &m.attributes, fnConvertUserInputToGoal, userRequest)
	if err != nil {
		return nil, err
	}
	sheet := &FactSheet{ProjectDescription: description}

	roles := m.roles()
	defer closeRoles(roles, m.log)

	for _, role := range roles {
		attrs := role.Attributes()
		start := time.Now()
		m.log.Info("role started", "position", attrs.Position)
		err := role.Execute(ctx, sheet)
		metrics.ObserveRole(attrs.Position, time.Since(start))
		if err != nil {
			m.log.Error("role failed", "position", attrs.Position, "state", attrs.State.String(), "code", xerrors.CodeOf(err), "error", err)
			return nil, err
		}
		logger.Audit().Info("role finished", "position", attrs.Position, "duration", time.Since(start))
	}

	m.attributes.UpdateState(StateFinished)
	return sheet, nil
}

func (m *Manager) roles() []Role {
	return []Role{
		NewSolutionArchitect(m.client, m.deps.Checker, m.deps.Reporter),
		NewBackendDeveloper(m.client, m.deps, m.opts...),
	}
}

func (m *Manager) validate() error {
	if m.client == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "oracle client is not configured")
	}
	return m.deps.validate()
}

func closeRoles(roles []Role, log *slog.Logger) {
	for _, role := range roles {
		closer, ok := role.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			log.Warn("failed to release role resources", "position", role.Attributes().Position, "error", err)
		}
	}
}
