package agent

import (
	"context"
	"errors"
	"sync"

	"AgentForge/internal/llm"
	"AgentForge/internal/toolchain"
)

type reply struct {
	content string
	err     error
}

// scriptedOracle 按 AI 函数名依次返回预设回复。
type scriptedOracle struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   []llm.Request
}

func newScriptedOracle() *scriptedOracle {
	return &scriptedOracle{replies: make(map[string][]reply)}
}

func (o *scriptedOracle) on(fn string, replies ...reply) *scriptedOracle {
	o.replies[fn] = append(o.replies[fn], replies...)
	return o
}

func (o *scriptedOracle) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, req)
	queue := o.replies[req.Operation]
	if len(queue) == 0 {
		return nil, errors.New("unexpected call to " + req.Operation)
	}
	next := queue[0]
	if len(queue) > 1 {
		o.replies[req.Operation] = queue[1:]
	} else {
		delete(o.replies, req.Operation)
	}
	if next.err != nil {
		return nil, next.err
	}
	return &llm.Response{Content: next.content}, nil
}

func (o *scriptedOracle) operations() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ops := make([]string, 0, len(o.calls))
	for _, c := range o.calls {
		ops = append(ops, c.Operation)
	}
	return ops
}

type memoryWorkspace struct {
	template  string
	code      string
	endpoints []byte
	saves     int
	saveErr   error
}

func (w *memoryWorkspace) ReadTemplate() (string, error) { return w.template, nil }
func (w *memoryWorkspace) ReadCode() (string, error)     { return w.code, nil }

func (w *memoryWorkspace) SaveCode(code string) error {
	if w.saveErr != nil {
		return w.saveErr
	}
	w.code = code
	w.saves++
	return nil
}

func (w *memoryWorkspace) SaveEndpoints(schema []byte) error {
	w.endpoints = append([]byte(nil), schema...)
	return nil
}

// sequenceBuilder 依次返回预设构建结果，用尽后一直成功。
type sequenceBuilder struct {
	results []bool
	calls   int
	err     error
	onBuild func()
}

func (b *sequenceBuilder) Build(context.Context) (*toolchain.BuildResult, error) {
	if b.onBuild != nil {
		b.onBuild()
	}
	if b.err != nil {
		return nil, b.err
	}
	success := true
	if b.calls < len(b.results) {
		success = b.results[b.calls]
	}
	b.calls++
	if success {
		return &toolchain.BuildResult{Success: true}, nil
	}
	return &toolchain.BuildResult{Success: false, ExitCode: 1, Stderr: "undefined: handler"}, nil
}

type fakeProcess struct{ stopped int }

func (p *fakeProcess) Stop() error              { p.stopped++; return nil }
func (p *fakeProcess) Output() (string, string) { return "", "" }

type fakeRunner struct {
	starts  int
	process *fakeProcess
	err     error
}

func (r *fakeRunner) Start(context.Context) (toolchain.Process, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.starts++
	r.process = &fakeProcess{}
	return r.process, nil
}

type fixedPrompter struct {
	answer bool
	asked  int
}

func (p *fixedPrompter) Confirm() (bool, error) {
	p.asked++
	return p.answer, nil
}
