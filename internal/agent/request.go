package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/llm"
	"AgentForge/internal/observability/metrics"
	"AgentForge/internal/terminal"
)

// oracle 把角色与大模型客户端绑定在一起。
type oracle struct {
	client   llm.Client
	reporter Reporter
	log      *slog.Logger
}

// taskRequest 发起一次函数调用；失败时恰好重试一次，再失败返回 ORACLE_TRANSPORT。
func (o oracle) taskRequest(ctx context.Context, agent *BasicAgent, fn aiFunction, input string) (string, error) {
	if o.client == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "oracle client is not configured")
	}
	msg := fn.message(input)
	o.reporter.AgentMessage(terminal.AICall, agent.Position, fn.Name)

	req := llm.Request{Messages: []llm.Message{msg}, Position: agent.Position, Operation: fn.Name}
	content, err := o.generate(ctx, req)
	if err != nil {
		o.log.Warn("oracle request failed, retrying once", "position", agent.Position, "function", fn.Name, "error", err)
		content, err = o.generate(ctx, req)
	}
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeOracleTransport, err, "oracle request failed after retry",
			xerrors.WithMetadata("function", fn.Name),
			xerrors.WithMetadata("position", agent.Position),
			xerrors.WithRetryable(false))
	}

	agent.remember(msg, llm.Message{Role: llm.RoleAssistant, Content: content})
	return content, nil
}

func (o oracle) generate(ctx context.Context, req llm.Request) (string, error) {
	start := time.Now()
	resp, err := o.client.Generate(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("oracle returned no response")
	}
	metrics.ObserveOracleRequest(req.Position, req.Operation, err, time.Since(start))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// taskRequestDecoded 将回复按 JSON 解码为 T，解码失败不重试。
func taskRequestDecoded[T any](ctx context.Context, o oracle, agent *BasicAgent, fn aiFunction, input string) (T, error) {
	var decoded T
	content, err := o.taskRequest(ctx, agent, fn, input)
	if err != nil {
		return decoded, err
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &decoded); err != nil {
		return decoded, xerrors.Wrap(xerrors.CodeOracleDecode, err, "failed to decode oracle response",
			xerrors.WithMetadata("function", fn.Name))
	}
	return decoded, nil
}
