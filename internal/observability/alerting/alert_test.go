package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgentForge/internal/errors"
)

type recordingNotifier struct {
	events []Event
}

func (r *recordingNotifier) Channel() Channel { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return nil
}

func TestFanoutDropsEventsBelowMinimum(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewFanout(xerrors.SeverityCritical, rec)

	require.NoError(t, d.Notify(context.Background(), Event{Code: xerrors.CodeOperatorDeclined, Severity: xerrors.SeverityWarning}))
	require.NoError(t, d.Notify(context.Background(), Event{Code: xerrors.CodeBuildFailure, Severity: xerrors.SeverityCritical}))

	require.Len(t, rec.events, 1)
	assert.Equal(t, xerrors.CodeBuildFailure, rec.events[0].Code)
	assert.False(t, rec.events[0].OccurredAt.IsZero())
}

func TestWebhookNotifierPostsText(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	err := n.Notify(context.Background(), Event{
		Code:     xerrors.CodeEndpointUnreachable,
		Severity: xerrors.SeverityWarning,
		RunID:    "run-1",
		Message:  "GET /items returned 404",
		Metadata: map[string]string{"status": "404", "url": "http://localhost:1337/items"},
	})
	require.NoError(t, err)
	assert.Contains(t, body["text"], "ENDPOINT_UNREACHABLE")
	assert.Contains(t, body["text"], "run=run-1")
	assert.Contains(t, body["text"], "- status: 404\n- url: http://localhost:1337/items")
}

func TestWebhookNotifierReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	assert.Error(t, n.Notify(context.Background(), Event{RunID: "run-2"}))
}

func TestWebhookNotifierWithoutURLIsNoop(t *testing.T) {
	assert.NoError(t, (&WebhookNotifier{}).Notify(context.Background(), Event{RunID: "run-3"}))
}
