package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"AgentForge/internal/llm"
	"AgentForge/internal/observability/metrics"
	"AgentForge/internal/probe"
	"AgentForge/internal/terminal"
	"AgentForge/pkg/logger"
)

const (
	architectPosition  = "Solutions Architect"
	architectObjective = "Gathers information and design solutions for software development"
)

// SolutionArchitect 决定项目范围，并在需要时收集、校验外部 URL。
type SolutionArchitect struct {
	attributes BasicAgent
	oracle     oracle
	checker    probe.Checker
	reporter   Reporter
	log        *slog.Logger
}

// NewSolutionArchitect 创建架构师角色。checker 为空时使用 5 秒超时的 HTTP 检查。
func NewSolutionArchitect(client llm.Client, checker probe.Checker, reporter Reporter) *SolutionArchitect {
	if checker == nil {
		checker = probe.NewHTTPChecker(0)
	}
	if reporter == nil {
		reporter = silentReporter{}
	}
	log := logger.Named("architect")
	return &SolutionArchitect{
		attributes: BasicAgent{Objective: architectObjective, Position: architectPosition, State: StateDiscovery},
		oracle:     oracle{client: client, reporter: reporter, log: log},
		checker:    checker,
		reporter:   reporter,
		log:        log,
	}
}

// Attributes 返回角色元数据。
func (a *SolutionArchitect) Attributes() *BasicAgent { return &a.attributes }

// Execute 驱动状态机直到 Finished。
func (a *SolutionArchitect) Execute(ctx context.Context, sheet *FactSheet) error {
	for a.attributes.State != StateFinished {
		switch a.attributes.State {
		case StateDiscovery:
			scope, err := taskRequestDecoded[ProjectScope](ctx, a.oracle, &a.attributes, fnPrintProjectScope, sheet.ProjectDescription)
			if err != nil {
				return err
			}
			sheet.ProjectScope = &scope
			if !scope.IsExternalURLsRequired {
				a.attributes.UpdateState(StateFinished)
				continue
			}
			urls, err := taskRequestDecoded[[]string](ctx, a.oracle, &a.attributes, fnPrintSiteURLs, sheet.ProjectDescription)
			if err != nil {
				return err
			}
			if urls == nil {
				urls = []string{}
			}
			sheet.ExternalURLs = urls
			a.attributes.UpdateState(StateUnitTesting)
		case StateUnitTesting:
			sheet.ExternalURLs = a.reachableURLs(ctx, sheet.ExternalURLs)
			a.attributes.UpdateState(StateFinished)
		default:
			a.attributes.UpdateState(StateFinished)
		}
	}
	return nil
}

// reachableURLs 剔除明确返回非 200 的 URL；检查本身出错的 URL 保留。
func (a *SolutionArchitect) reachableURLs(ctx context.Context, urls []string) []string {
	excluded := make(map[string]struct{})
	for _, url := range urls {
		a.reporter.AgentMessage(terminal.UnitTest, a.attributes.Position, fmt.Sprintf("Testing URL response: %s", url))
		status, err := a.checker.Check(ctx, url)
		metrics.ObserveEndpointCheck(a.attributes.Position, status, err)
		if err != nil {
			a.log.Warn("url check failed, keeping url", "url", url, "error", err)
			a.reporter.AgentMessage(terminal.Issue, a.attributes.Position, fmt.Sprintf("Error checking %s: %v", url, err))
			continue
		}
		if status != http.StatusOK {
			a.reporter.AgentMessage(terminal.Issue, a.attributes.Position, fmt.Sprintf("Excluding %s: status %d", url, status))
			excluded[url] = struct{}{}
		}
	}
	if len(excluded) == 0 {
		return urls
	}
	kept := make([]string, 0, len(urls)-len(excluded))
	for _, url := range urls {
		if _, drop := excluded[url]; !drop {
			kept = append(kept, url)
		}
	}
	return kept
}
