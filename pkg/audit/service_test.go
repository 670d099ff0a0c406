package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/arbitra-ai/oversight/pkg/config"
)

// captureSink records every event it receives.
type captureSink struct {
	mu     sync.Mutex
	events []*Event
	closed bool
}

func (s *captureSink) Write(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type failingSink struct{}

func (failingSink) Write(context.Context, *Event) error { return errUnknownSinkType("boom") }
func (failingSink) Close() error                        { return nil }
func (failingSink) Name() string                        { return "failing" }

func testEvent(eventType EventType) *Event {
	return &Event{
		ID:        "evt-1",
		Type:      eventType,
		Severity:  SeverityForEventType(eventType),
		Timestamp: time.Now().UTC(),
		Actor:     Actor{User: "alice"},
		Target:    Target{Kind: "HumanTask", Name: "hitl_1"},
	}
}

func TestServiceDisabledByDefault(t *testing.T) {
	svc := NewService(zap.NewNop())
	defer func() { _ = svc.Close() }()

	assert.False(t, svc.IsEnabled())
	// Emitting while disabled is a silent no-op.
	svc.Emit(context.Background(), testEvent(EventTaskCreated))
}

func TestServiceConfigure(t *testing.T) {
	t.Run("disabled config turns auditing off", func(t *testing.T) {
		svc := NewService(zap.NewNop())
		defer func() { _ = svc.Close() }()

		require.NoError(t, svc.Configure(cfgpkg.Audit{Enabled: false}))
		assert.False(t, svc.IsEnabled())
	})

	t.Run("enabled with no sinks falls back to the log sink", func(t *testing.T) {
		svc := NewService(zap.NewNop())
		defer func() { _ = svc.Close() }()

		require.NoError(t, svc.Configure(cfgpkg.Audit{Enabled: true}))
		assert.True(t, svc.IsEnabled())
	})

	t.Run("unknown sink types are skipped", func(t *testing.T) {
		svc := NewService(zap.NewNop())
		defer func() { _ = svc.Close() }()

		require.NoError(t, svc.Configure(cfgpkg.Audit{
			Enabled: true,
			Sinks:   []cfgpkg.AuditSink{{Name: "bogus", Type: "carrier-pigeon"}},
		}))
		assert.True(t, svc.IsEnabled())
	})
}

func TestServiceEmitReachesSink(t *testing.T) {
	svc := NewService(zap.NewNop())
	require.NoError(t, svc.Configure(cfgpkg.Audit{Enabled: true}))

	sink := &captureSink{}
	svc.mu.Lock()
	svc.sink = sink
	svc.mu.Unlock()

	svc.Emit(context.Background(), testEvent(EventTokenMinted))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Close())
	assert.True(t, sink.closed)
}

func TestServiceCloseFlushesQueue(t *testing.T) {
	svc := NewService(zap.NewNop())
	require.NoError(t, svc.Configure(cfgpkg.Audit{Enabled: true}))

	sink := &captureSink{}
	svc.mu.Lock()
	svc.sink = sink
	svc.mu.Unlock()

	for i := 0; i < 10; i++ {
		svc.Emit(context.Background(), testEvent(EventTaskCompleted))
	}
	require.NoError(t, svc.Close())

	assert.Equal(t, 10, sink.count())
	assert.False(t, svc.IsEnabled())
}

func TestWebhookSink(t *testing.T) {
	t.Run("posts the event as JSON", func(t *testing.T) {
		var received Event
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &received))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "secret", r.Header.Get("X-Audit-Key"))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		sink := NewWebhookSink(WebhookSinkConfig{
			Name:    "hook",
			URL:     server.URL,
			Headers: map[string]string{"X-Audit-Key": "secret"},
		}, zap.NewNop())

		require.NoError(t, sink.Write(context.Background(), testEvent(EventTokenRevoked)))
		assert.Equal(t, EventTokenRevoked, received.Type)
		assert.Equal(t, SeverityCritical, received.Severity)
	})

	t.Run("error status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		sink := NewWebhookSink(WebhookSinkConfig{URL: server.URL}, zap.NewNop())
		assert.Error(t, sink.Write(context.Background(), testEvent(EventTaskCreated)))
	})

	t.Run("unreachable endpoint is an error", func(t *testing.T) {
		sink := NewWebhookSink(WebhookSinkConfig{
			URL:     "http://127.0.0.1:1",
			Timeout: 100 * time.Millisecond,
		}, zap.NewNop())
		assert.Error(t, sink.Write(context.Background(), testEvent(EventTaskCreated)))
	})
}

func TestMultiSink(t *testing.T) {
	t.Run("writes to every sink", func(t *testing.T) {
		a, b := &captureSink{}, &captureSink{}
		multi := NewMultiSink([]Sink{a, b}, zap.NewNop())

		require.NoError(t, multi.Write(context.Background(), testEvent(EventTaskCreated)))
		assert.Equal(t, 1, a.count())
		assert.Equal(t, 1, b.count())
	})

	t.Run("one failure does not stop the others", func(t *testing.T) {
		ok := &captureSink{}
		multi := NewMultiSink([]Sink{failingSink{}, ok}, zap.NewNop())

		assert.Error(t, multi.Write(context.Background(), testEvent(EventTaskCreated)))
		assert.Equal(t, 1, ok.count())
	})

	t.Run("close closes every sink", func(t *testing.T) {
		a, b := &captureSink{}, &captureSink{}
		multi := NewMultiSink([]Sink{a, b}, zap.NewNop())
		require.NoError(t, multi.Close())
		assert.True(t, a.closed)
		assert.True(t, b.closed)
	})
}

func TestSystemEvent(t *testing.T) {
	svc := NewService(zap.NewNop())
	require.NoError(t, svc.Configure(cfgpkg.Audit{Enabled: true}))

	sink := &captureSink{}
	svc.mu.Lock()
	svc.sink = sink
	svc.mu.Unlock()

	svc.Emit(context.Background(), SystemEvent(EventSystemStartup, map[string]interface{}{"version": "1.2.3"}))
	require.NoError(t, svc.Close())

	require.Equal(t, 1, sink.count())
	event := sink.events[0]
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventSystemStartup, event.Type)
	assert.Equal(t, SeverityInfo, event.Severity)
	assert.Equal(t, Target{Kind: "System", Name: "oversight"}, event.Target)
	assert.Equal(t, "1.2.3", event.Details["version"])
}

func TestSeverityForEventType(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityForEventType(EventTokenRejected))
	assert.Equal(t, SeverityCritical, SeverityForEventType(EventTokenRevoked))
	assert.Equal(t, SeverityWarning, SeverityForEventType(EventTaskTimedOut))
	assert.Equal(t, SeverityWarning, SeverityForEventType(EventTaskCancelled))
	assert.Equal(t, SeverityInfo, SeverityForEventType(EventTaskCreated))
	assert.Equal(t, SeverityInfo, SeverityForEventType(EventFeedbackSubmitted))
}
