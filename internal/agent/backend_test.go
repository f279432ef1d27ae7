package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/probe"
)

const twoStaticRoutes = `[
	{"is_route_dynamic":"false","method":"get","request_body":"None","response":[],"route":"/items"},
	{"is_route_dynamic":"true","method":"get","request_body":"None","response":{},"route":"/items/:id"},
	{"is_route_dynamic":"false","method":"post","request_body":{"title":"string"},"response":{},"route":"/items"},
	{"is_route_dynamic":"false","method":"get","request_body":"None","response":"ok","route":"/health"}
]`

type backendFixture struct {
	oracle    *scriptedOracle
	workspace *memoryWorkspace
	builder   *sequenceBuilder
	runner    *fakeRunner
	prompter  *fixedPrompter
	checked   []string
	status    map[string]int
}

func newBackendFixture(builds ...bool) *backendFixture {
	f := &backendFixture{
		oracle:    newScriptedOracle(),
		workspace: &memoryWorkspace{template: "package main // template"},
		builder:   &sequenceBuilder{results: builds},
		runner:    &fakeRunner{},
		prompter:  &fixedPrompter{answer: true},
		status:    map[string]int{},
	}
	f.oracle.
		on(fnPrintBackendWebserverCode.Name, reply{content: "code v1"}).
		on(fnPrintImprovedWebserverCode.Name, reply{content: "code v2"}).
		on(fnPrintFixedCode.Name, reply{content: "code fix 1"}, reply{content: "code fix 2"}, reply{content: "code fix 3"}).
		on(fnPrintRESTAPIEndpoints.Name, reply{content: twoStaticRoutes})
	return f
}

func (f *backendFixture) deps() Dependencies {
	return Dependencies{
		Workspace: f.workspace,
		Builder:   f.builder,
		Runner:    f.runner,
		Prompter:  f.prompter,
		Checker: probe.CheckerFunc(func(_ context.Context, url string) (int, error) {
			f.checked = append(f.checked, url)
			if status, ok := f.status[url]; ok {
				return status, nil
			}
			return http.StatusOK, nil
		}),
	}
}

func (f *backendFixture) developer() *BackendDeveloper {
	return NewBackendDeveloper(f.oracle, f.deps(), WithWarmUp(0))
}

func TestBackendBuildsFirstTryAndValidatesRoutes(t *testing.T) {
	f := newBackendFixture(true)
	dev := f.developer()
	sheet := &FactSheet{ProjectDescription: "to-do API"}

	require.NoError(t, dev.Execute(context.Background(), sheet))

	assert.Equal(t, StateFinished, dev.Attributes().State)
	assert.Zero(t, dev.BugCount())
	assert.Equal(t, 1, f.builder.calls)
	assert.Equal(t, []string{
		fnPrintBackendWebserverCode.Name,
		fnPrintImprovedWebserverCode.Name,
		fnPrintRESTAPIEndpoints.Name,
	}, f.oracle.operations())

	require.NotNil(t, sheet.BackendCode)
	assert.Equal(t, "code v2", *sheet.BackendCode)
	assert.Equal(t, "code v2", f.workspace.code)

	require.Len(t, sheet.APIEndpointsSchema, 2)
	assert.Equal(t, "/items", sheet.APIEndpointsSchema[0].Route)
	assert.Equal(t, "/health", sheet.APIEndpointsSchema[1].Route)
	assert.Equal(t, []string{"http://localhost:1337/items", "http://localhost:1337/health"}, f.checked)

	var persisted []RouteObject
	require.NoError(t, json.Unmarshal(f.workspace.endpoints, &persisted))
	assert.Equal(t, sheet.APIEndpointsSchema, persisted)

	assert.Equal(t, 1, f.runner.starts)
	require.NoError(t, dev.Close())
	assert.Equal(t, 1, f.runner.process.stopped)
}

func TestBackendImprovedRequestCarriesFactSheet(t *testing.T) {
	f := newBackendFixture(true)
	dev := f.developer()
	require.NoError(t, dev.Execute(context.Background(), &FactSheet{ProjectDescription: "to-do API"}))

	improved := f.oracle.calls[1]
	require.Equal(t, fnPrintImprovedWebserverCode.Name, improved.Operation)
	assert.Contains(t, improved.Messages[0].Content, `"project_description":"to-do API"`)
	assert.Contains(t, improved.Messages[0].Content, "code v1")
}

func TestBackendRecoversFromTwoBuildFailures(t *testing.T) {
	f := newBackendFixture(false, false, true)
	dev := f.developer()

	var observed []uint8
	f.builder.onBuild = func() { observed = append(observed, dev.BugCount()) }

	require.NoError(t, dev.Execute(context.Background(), &FactSheet{ProjectDescription: "to-do API"}))

	assert.Equal(t, []uint8{0, 1, 2}, observed)
	assert.Zero(t, dev.BugCount())
	assert.Equal(t, 3, f.builder.calls)
	assert.Equal(t, 3, f.prompter.asked)
	assert.Equal(t, []string{
		fnPrintBackendWebserverCode.Name,
		fnPrintImprovedWebserverCode.Name,
		fnPrintFixedCode.Name,
		fnPrintFixedCode.Name,
		fnPrintRESTAPIEndpoints.Name,
	}, f.oracle.operations())

	fix := f.oracle.calls[2]
	assert.Contains(t, fix.Messages[0].Content, "undefined: handler")
	assert.Contains(t, fix.Messages[0].Content, "code v2")
}

func TestBackendAbortsOnThirdBuildFailure(t *testing.T) {
	f := newBackendFixture(false, false, false, true)
	dev := f.developer()

	err := dev.Execute(context.Background(), &FactSheet{})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeBuildFailure, xerrors.CodeOf(err))
	assert.Equal(t, uint8(3), dev.BugCount())
	assert.Equal(t, 3, f.builder.calls)
	assert.NotEqual(t, StateFinished, dev.Attributes().State)
	assert.Zero(t, f.runner.starts)
}

func TestBackendMaxBugCountOption(t *testing.T) {
	f := newBackendFixture(false, true)
	dev := NewBackendDeveloper(f.oracle, f.deps(), WithWarmUp(0), WithMaxBugCount(0))

	err := dev.Execute(context.Background(), &FactSheet{})
	assert.Equal(t, xerrors.CodeBuildFailure, xerrors.CodeOf(err))
	assert.Equal(t, 1, f.builder.calls)
}

func TestBackendOperatorDeclines(t *testing.T) {
	f := newBackendFixture(true)
	f.prompter.answer = false
	dev := f.developer()

	err := dev.Execute(context.Background(), &FactSheet{})
	assert.Equal(t, xerrors.CodeOperatorDeclined, xerrors.CodeOf(err))
	assert.Zero(t, f.builder.calls)
}

func TestBackendEndpointNon200IsFatal(t *testing.T) {
	f := newBackendFixture(true)
	f.status["http://localhost:1337/items"] = http.StatusNotFound
	dev := f.developer()

	err := dev.Execute(context.Background(), &FactSheet{})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeEndpointUnreachable, xerrors.CodeOf(err))
	e, ok := xerrors.From(err)
	require.True(t, ok)
	assert.Equal(t, "404", e.Metadata()["status"])
	assert.Equal(t, []string{"http://localhost:1337/items"}, f.checked)

	require.NoError(t, dev.Close())
	assert.Equal(t, 1, f.runner.process.stopped)
}

func TestBackendEndpointCheckErrorIsFatal(t *testing.T) {
	f := newBackendFixture(true)
	deps := f.deps()
	deps.Checker = probe.CheckerFunc(func(context.Context, string) (int, error) {
		return 0, errors.New("connection refused")
	})
	dev := NewBackendDeveloper(f.oracle, deps, WithWarmUp(0), WithPort(8088))

	err := dev.Execute(context.Background(), &FactSheet{})
	assert.Equal(t, xerrors.CodeEndpointUnreachable, xerrors.CodeOf(err))
}

func TestBackendRouteDecodeFailureIsFatal(t *testing.T) {
	f := newBackendFixture(true)
	f.oracle.replies[fnPrintRESTAPIEndpoints.Name] = []reply{{content: "GET /items"}, {content: twoStaticRoutes}}
	dev := f.developer()

	err := dev.Execute(context.Background(), &FactSheet{})
	assert.Equal(t, xerrors.CodeOracleDecode, xerrors.CodeOf(err))
	assert.Zero(t, f.runner.starts)
}

func TestBackendServerLaunchFailure(t *testing.T) {
	f := newBackendFixture(true)
	f.runner.err = errors.New("exec: go: not found")
	dev := f.developer()

	err := dev.Execute(context.Background(), &FactSheet{})
	assert.Equal(t, xerrors.CodeServerLaunch, xerrors.CodeOf(err))
}

func TestBackendBuildInvocationFailure(t *testing.T) {
	f := newBackendFixture()
	f.builder.err = errors.New("exec: go: not found")
	dev := f.developer()

	err := dev.Execute(context.Background(), &FactSheet{})
	assert.Equal(t, xerrors.CodeBuildInvocation, xerrors.CodeOf(err))
}

func TestBackendSaveFailure(t *testing.T) {
	f := newBackendFixture(true)
	f.workspace.saveErr = errors.New("disk full")
	dev := f.developer()

	sheet := &FactSheet{}
	err := dev.Execute(context.Background(), sheet)
	assert.Equal(t, xerrors.CodeArtifactFailure, xerrors.CodeOf(err))
	assert.Nil(t, sheet.BackendCode)
}

func TestBackendRouteURLJoinsSlash(t *testing.T) {
	dev := NewBackendDeveloper(nil, Dependencies{}, WithPort(9000))
	assert.Equal(t, "http://localhost:9000/items", dev.routeURL("items"))
	assert.Equal(t, "http://localhost:9000/items", dev.routeURL("/items"))
}

func TestBackendUnknownStateFinishes(t *testing.T) {
	f := newBackendFixture(true)
	dev := f.developer()
	dev.Attributes().UpdateState(State(7))

	require.NoError(t, dev.Execute(context.Background(), &FactSheet{}))
	assert.Equal(t, StateFinished, dev.Attributes().State)
	assert.Empty(t, f.oracle.calls)
	assert.NoError(t, dev.Close())
}

func TestBackendDefaultsToHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	f := newBackendFixture(true)
	deps := f.deps()
	deps.Checker = nil
	deps.Prompter = AutoConfirm{}
	dev := NewBackendDeveloper(f.oracle, deps, WithWarmUp(0), WithPort(port))

	sheet := &FactSheet{}
	require.NoError(t, dev.Execute(context.Background(), sheet))
	assert.Len(t, sheet.APIEndpointsSchema, 2)
	assert.Zero(t, f.prompter.asked)
	require.NoError(t, dev.Close())
}

func TestBackendRequiresDependencies(t *testing.T) {
	f := newBackendFixture(true)
	complete := f.deps()

	cases := map[string]func(d *Dependencies){
		"workspace": func(d *Dependencies) { d.Workspace = nil },
		"builder":   func(d *Dependencies) { d.Builder = nil },
		"runner":    func(d *Dependencies) { d.Runner = nil },
		"prompter":  func(d *Dependencies) { d.Prompter = nil },
	}
	for name, strip := range cases {
		t.Run(name, func(t *testing.T) {
			deps := complete
			strip(&deps)
			dev := NewBackendDeveloper(f.oracle, deps, WithWarmUp(0))
			err := dev.Execute(context.Background(), &FactSheet{})
			assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
		})
	}
	assert.Empty(t, f.oracle.calls)

	err := NewBackendDeveloper(nil, complete).Execute(context.Background(), &FactSheet{})
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}
