package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/llm"
	"AgentForge/internal/observability/metrics"
	"AgentForge/internal/probe"
	"AgentForge/internal/terminal"
	"AgentForge/internal/toolchain"
	"AgentForge/pkg/logger"
)

const (
	backendPosition  = "Backend Developer"
	backendObjective = "Develops the backend code for the webserver and database"

	defaultPort        = 1337
	defaultWarmUp      = 5 * time.Second
	defaultMaxBugCount = 2
)

// BackendDeveloper 生成服务端代码，构建失败时修复，最后启动服务并校验静态 GET 路由。
type BackendDeveloper struct {
	attributes BasicAgent
	bugErrors  *string
	bugCount   uint8

	oracle      oracle
	deps        Dependencies
	reporter    Reporter
	port        int
	warmUp      time.Duration
	maxBugCount uint8
	server      toolchain.Process
	log         *slog.Logger
}

// NewBackendDeveloper 创建后端开发角色。deps.Checker 为空时使用 5 秒超时的 HTTP 检查。
func NewBackendDeveloper(client llm.Client, deps Dependencies, opts ...Option) *BackendDeveloper {
	if deps.Checker == nil {
		deps.Checker = probe.NewHTTPChecker(0)
	}
	settings := newSettings(opts)
	log := logger.Named("backend")
	reporter := deps.reporter()
	return &BackendDeveloper{
		attributes:  BasicAgent{Objective: backendObjective, Position: backendPosition, State: StateDiscovery},
		oracle:      oracle{client: client, reporter: reporter, log: log},
		deps:        deps,
		reporter:    reporter,
		port:        settings.port,
		warmUp:      settings.warmUp,
		maxBugCount: settings.maxBugCount,
		log:         log,
	}
}

// Attributes 返回角色元数据。
func (b *BackendDeveloper) Attributes() *BasicAgent { return &b.attributes }

// BugCount 返回连续构建失败次数。
func (b *BackendDeveloper) BugCount() uint8 { return b.bugCount }

// Execute 驱动生成、构建、修复与校验循环直到 Finished。
func (b *BackendDeveloper) Execute(ctx context.Context, sheet *FactSheet) error {
	if b.oracle.client == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "oracle client is not configured")
	}
	if err := b.deps.validate(); err != nil {
		return err
	}
	for b.attributes.State != StateFinished {
		switch b.attributes.State {
		case StateDiscovery:
			if err := b.initialCode(ctx, sheet); err != nil {
				return err
			}
			b.attributes.UpdateState(StateWorking)
		case StateWorking:
			var err error
			if b.bugCount == 0 {
				err = b.improvedCode(ctx, sheet)
			} else {
				err = b.fixedCode(ctx, sheet)
			}
			if err != nil {
				return err
			}
			b.attributes.UpdateState(StateUnitTesting)
		case StateUnitTesting:
			built, err := b.build(ctx)
			if err != nil {
				return err
			}
			if !built {
				b.attributes.UpdateState(StateWorking)
				continue
			}
			if err := b.validate(ctx, sheet); err != nil {
				return err
			}
			b.attributes.UpdateState(StateFinished)
		default:
			b.attributes.UpdateState(StateFinished)
		}
	}
	return nil
}

// Close 停止校验阶段启动的服务进程。
func (b *BackendDeveloper) Close() error {
	if b.server == nil {
		return nil
	}
	err := b.server.Stop()
	b.server = nil
	return err
}

func (b *BackendDeveloper) initialCode(ctx context.Context, sheet *FactSheet) error {
	template, err := b.deps.Workspace.ReadTemplate()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "failed to read code template")
	}
	input := fmt.Sprintf("CODE TEMPLATE: %s \n PROJECT_DESCRIPTION: %s \n", template, sheet.ProjectDescription)
	return b.writeCode(ctx, sheet, fnPrintBackendWebserverCode, input)
}

func (b *BackendDeveloper) improvedCode(ctx context.Context, sheet *FactSheet) error {
	input := fmt.Sprintf("CODE TEMPLATE: %s \n PROJECT_DESCRIPTION: %s \n", sheet.code(), sheet.JSON())
	return b.writeCode(ctx, sheet, fnPrintImprovedWebserverCode, input)
}

func (b *BackendDeveloper) fixedCode(ctx context.Context, sheet *FactSheet) error {
	var bugs string
	if b.bugErrors != nil {
		bugs = *b.bugErrors
	}
	input := fmt.Sprintf("BROKEN_CODE: %s \n ERROR_BUGS: %s \n THIS FUNCTION ONLY OUTPUTS CODE. JUST OUTPUT THE CODE.", sheet.code(), bugs)
	return b.writeCode(ctx, sheet, fnPrintFixedCode, input)
}

// writeCode 请求新代码，同时写入工作区与事实表。
func (b *BackendDeveloper) writeCode(ctx context.Context, sheet *FactSheet, fn aiFunction, input string) error {
	code, err := b.oracle.taskRequest(ctx, &b.attributes, fn, input)
	if err != nil {
		return err
	}
	if err := b.deps.Workspace.SaveCode(code); err != nil {
		return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "failed to save generated code")
	}
	sheet.BackendCode = &code
	return nil
}

// build 经操作员确认后构建代码；返回 false 表示构建失败但仍可修复。
func (b *BackendDeveloper) build(ctx context.Context) (bool, error) {
	b.reporter.AgentMessage(terminal.UnitTest, b.attributes.Position, "Backend code unit testing")
	ok, err := b.deps.Prompter.Confirm()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeOperatorDeclined, err, "operator confirmation unavailable")
	}
	if !ok {
		return false, xerrors.New(xerrors.CodeOperatorDeclined, "operator declined to build generated code")
	}

	b.reporter.AgentMessage(terminal.UnitTest, b.attributes.Position, "Backend code unit testing: building web server...")
	result, err := b.deps.Builder.Build(ctx)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeBuildInvocation, err, "failed to run build command")
	}
	metrics.ObserveBuild(result.Success)

	if result.Success {
		b.bugCount = 0
		b.bugErrors = nil
		logger.Audit().Info("build succeeded", "position", b.attributes.Position, "duration", result.Duration)
		b.reporter.AgentMessage(terminal.UnitTest, b.attributes.Position, "Backend code unit testing: web server built successfully")
		return true, nil
	}

	stderr := result.Stderr
	b.bugErrors = &stderr
	b.bugCount++
	logger.Audit().Warn("build failed", "position", b.attributes.Position, "bug_count", b.bugCount, "exit_code", result.ExitCode)
	if b.bugCount > b.maxBugCount {
		return false, xerrors.New(xerrors.CodeBuildFailure, "too many consecutive build failures",
			xerrors.WithMetadata("bug_count", fmt.Sprint(b.bugCount)))
	}
	b.reporter.AgentMessage(terminal.Issue, b.attributes.Position,
		fmt.Sprintf("Build failed (%d/%d), asking for a fix", b.bugCount, b.maxBugCount))
	return false, nil
}

// validate 提取路由、持久化清单、启动服务并逐条校验。
func (b *BackendDeveloper) validate(ctx context.Context, sheet *FactSheet) error {
	code, err := b.deps.Workspace.ReadCode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "failed to read generated code")
	}
	routes, err := taskRequestDecoded[[]RouteObject](ctx, b.oracle, &b.attributes, fnPrintRESTAPIEndpoints, fmt.Sprintf("CODE_INPUT: %s \n", code))
	if err != nil {
		return err
	}
	testable := FilterTestableRoutes(routes)
	sheet.APIEndpointsSchema = testable

	schema, err := json.MarshalIndent(testable, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "failed to encode endpoint schema")
	}
	if err := b.deps.Workspace.SaveEndpoints(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeArtifactFailure, err, "failed to save endpoint schema")
	}

	b.reporter.AgentMessage(terminal.UnitTest, b.attributes.Position, "Backend code unit testing: running web server...")
	if err := b.Close(); err != nil {
		b.log.Warn("failed to stop previous server", "error", err)
	}
	server, err := b.deps.Runner.Start(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeServerLaunch, err, "failed to start generated server")
	}
	b.server = server

	b.reporter.AgentMessage(terminal.UnitTest, b.attributes.Position,
		fmt.Sprintf("Backend code unit testing: launching tests on server in %s", b.warmUp))
	if err := sleep(ctx, b.warmUp); err != nil {
		return err
	}

	for _, route := range testable {
		b.reporter.AgentMessage(terminal.UnitTest, b.attributes.Position,
			fmt.Sprintf("Testing endpoint %s with method %s", route.Route, route.Method))
		url := b.routeURL(route.Route)
		status, err := b.deps.Checker.Check(ctx, url)
		metrics.ObserveEndpointCheck(b.attributes.Position, status, err)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeEndpointUnreachable, err, "endpoint check failed",
				xerrors.WithMetadata("url", url))
		}
		if status != http.StatusOK {
			return xerrors.New(xerrors.CodeEndpointUnreachable, "endpoint did not return 200",
				xerrors.WithMetadata("url", url),
				xerrors.WithMetadata("status", fmt.Sprint(status)))
		}
	}
	return nil
}

func (b *BackendDeveloper) routeURL(route string) string {
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return fmt.Sprintf("http://localhost:%d%s", b.port, route)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
