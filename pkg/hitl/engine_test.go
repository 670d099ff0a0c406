package hitl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbitra-ai/oversight/pkg/audit"
	"github.com/arbitra-ai/oversight/pkg/config"
)

func testManager(t *testing.T, policies ...EscalationPolicy) *Manager {
	t.Helper()
	m := NewManager(zap.NewNop().Sugar(), NewPolicyRegistry(policies...))
	t.Cleanup(m.Shutdown)
	return m
}

func criticalFinding() Finding {
	return Finding{
		Type:            "sql_injection",
		Severity:        SeverityCritical,
		ConfidenceScore: 0.9,
	}
}

func TestShouldEscalate(t *testing.T) {
	t.Run("benign finding is not escalated", func(t *testing.T) {
		assert.False(t, shouldEscalate(Finding{
			Type:            "info_disclosure",
			Severity:        SeverityLow,
			ConfidenceScore: 0.95,
			Complexity:      ComplexityLow,
			EstimatedCost:   1,
		}))
	})

	t.Run("each criterion triggers on its own", func(t *testing.T) {
		base := Finding{Severity: SeverityLow, ConfidenceScore: 0.95, Complexity: ComplexityLow}

		lowConfidence := base
		lowConfidence.ConfidenceScore = 0.79
		assert.True(t, shouldEscalate(lowConfidence))

		critical := base
		critical.Severity = SeverityCritical
		assert.True(t, shouldEscalate(critical))

		high := base
		high.Severity = SeverityHigh
		assert.True(t, shouldEscalate(high))

		costly := base
		costly.EstimatedCost = 10.5
		assert.True(t, shouldEscalate(costly))

		complexCase := base
		complexCase.Complexity = ComplexityHigh
		assert.True(t, shouldEscalate(complexCase))

		compliance := base
		compliance.ComplianceViolations = []string{"gdpr"}
		assert.True(t, shouldEscalate(compliance))
	})

	t.Run("boundaries are exclusive", func(t *testing.T) {
		// confidence exactly at the threshold does not trigger
		assert.False(t, shouldEscalate(Finding{Severity: SeverityLow, ConfidenceScore: 0.8, EstimatedCost: 10}))
	})
}

func TestDeriveTaskTypeAndPriority(t *testing.T) {
	t.Run("very low confidence wins over critical severity", func(t *testing.T) {
		f := Finding{Severity: SeverityCritical, ConfidenceScore: 0.4}
		assert.Equal(t, TaskTypeReview, deriveTaskType(f))
		assert.Equal(t, PriorityCritical, derivePriority(f))
	})

	t.Run("critical severity maps to approval and critical priority", func(t *testing.T) {
		f := criticalFinding()
		assert.Equal(t, TaskTypeApproval, deriveTaskType(f))
		assert.Equal(t, PriorityCritical, derivePriority(f))
	})

	t.Run("compliance violations map to correction", func(t *testing.T) {
		f := Finding{Severity: SeverityMedium, ConfidenceScore: 0.7, ComplianceViolations: []string{"pci"}}
		assert.Equal(t, TaskTypeCorrection, deriveTaskType(f))
		assert.Equal(t, PriorityMedium, derivePriority(f))
	})

	t.Run("low confidence or high cost raise priority to high", func(t *testing.T) {
		assert.Equal(t, PriorityHigh, derivePriority(Finding{Severity: SeverityMedium, ConfidenceScore: 0.55}))
		assert.Equal(t, PriorityHigh, derivePriority(Finding{Severity: SeverityMedium, ConfidenceScore: 0.7, EstimatedCost: 60}))
	})
}

func TestEvaluateForHumanReview(t *testing.T) {
	ctx := context.Background()

	t.Run("no escalation returns nil task and nil error", func(t *testing.T) {
		m := testManager(t)
		task, err := m.EvaluateForHumanReview(ctx, Finding{
			Type:            "style_issue",
			Severity:        SeverityLow,
			ConfidenceScore: 0.99,
		}, ReviewContext{})
		require.NoError(t, err)
		assert.Nil(t, task)
		assert.Zero(t, m.ActiveTimers())
	})

	t.Run("escalation creates a pending task with armed timer", func(t *testing.T) {
		m := testManager(t)
		task, err := m.EvaluateForHumanReview(ctx, criticalFinding(), ReviewContext{AgentID: "agent-1", SessionID: "sess-1"})
		require.NoError(t, err)
		require.NotNil(t, task)

		assert.Equal(t, StatusPending, task.Status)
		assert.Equal(t, TaskTypeApproval, task.Type)
		assert.Equal(t, PriorityCritical, task.Priority)
		assert.Equal(t, "agent-1", task.Metadata.AgentID)
		assert.Equal(t, "sess-1", task.Metadata.SessionID)
		assert.Contains(t, task.Title, "sql_injection")
		assert.Contains(t, task.Description, "Severity: critical")
		assert.Equal(t, 1, m.ActiveTimers())

		stored, err := m.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, task.ID, stored.ID)
	})

	t.Run("deadline follows the matched policy timeout", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.Name = "fast"
		policy.ConfidenceThreshold = 0.95
		policy.Severities = []Severity{SeverityCritical}
		policy.RiskCategories = []string{"rce"}
		policy.Timeout = time.Minute
		m := testManager(t, policy)

		finding := criticalFinding()
		finding.RiskCategories = []string{"rce"}
		task, err := m.EvaluateForHumanReview(ctx, finding, ReviewContext{})
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, "fast", task.Policy)
		assert.WithinDuration(t, task.CreatedAt.Add(time.Minute), task.Deadline, time.Second)
	})

	t.Run("missing caller identity defaults to unknown", func(t *testing.T) {
		m := testManager(t)
		task, err := m.EvaluateForHumanReview(ctx, criticalFinding(), ReviewContext{})
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, "unknown", task.Metadata.AgentID)
		assert.Equal(t, "unknown", task.Metadata.SessionID)
	})
}

func TestGetPendingTasks(t *testing.T) {
	ctx := context.Background()
	m := testManager(t)

	mk := func(severity Severity, confidence float64) *HumanTask {
		t.Helper()
		task, err := m.EvaluateForHumanReview(ctx, Finding{
			Type:            "finding",
			Severity:        severity,
			ConfidenceScore: confidence,
		}, ReviewContext{})
		require.NoError(t, err)
		require.NotNil(t, task)
		return task
	}

	medium := mk(SeverityMedium, 0.7) // medium priority
	critical := mk(SeverityCritical, 0.9)
	high := mk(SeverityHigh, 0.55) // high priority via low confidence

	t.Run("sorted by priority descending", func(t *testing.T) {
		pending := m.GetPendingTasks(10)
		require.Len(t, pending, 3)
		assert.Equal(t, critical.ID, pending[0].ID)
		assert.Equal(t, high.ID, pending[1].ID)
		assert.Equal(t, medium.ID, pending[2].ID)
	})

	t.Run("limit truncates after sorting", func(t *testing.T) {
		pending := m.GetPendingTasks(2)
		require.Len(t, pending, 2)
		assert.Equal(t, critical.ID, pending[0].ID)
		assert.Equal(t, high.ID, pending[1].ID)
	})

	t.Run("resolved tasks are excluded", func(t *testing.T) {
		_, err := m.SubmitFeedback(ctx, critical.ID, FeedbackRequest{ReviewerID: "alice", Action: ActionApproved})
		require.NoError(t, err)
		pending := m.GetPendingTasks(10)
		require.Len(t, pending, 2)
		assert.Equal(t, high.ID, pending[0].ID)
	})
}

func TestAssignTask(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns a pending task", func(t *testing.T) {
		m := testManager(t)
		task, err := m.EvaluateForHumanReview(ctx, criticalFinding(), ReviewContext{})
		require.NoError(t, err)

		require.NoError(t, m.AssignTask(ctx, task.ID, "alice"))

		stored, err := m.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusAssigned, stored.Status)
		assert.Equal(t, "alice", stored.AssignedTo)
	})

	t.Run("unknown task", func(t *testing.T) {
		m := testManager(t)
		err := m.AssignTask(ctx, "hitl_missing", "alice")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("resolved task", func(t *testing.T) {
		m := testManager(t)
		task, err := m.EvaluateForHumanReview(ctx, criticalFinding(), ReviewContext{})
		require.NoError(t, err)
		_, err = m.SubmitFeedback(ctx, task.ID, FeedbackRequest{ReviewerID: "alice"})
		require.NoError(t, err)

		err = m.AssignTask(ctx, task.ID, "bob")
		assert.ErrorIs(t, err, ErrTaskResolved)
	})
}

func TestSubmitFeedback(t *testing.T) {
	ctx := context.Background()

	t.Run("completes the task and appends to the ledger", func(t *testing.T) {
		m := testManager(t)
		task, err := m.EvaluateForHumanReview(ctx, criticalFinding(), ReviewContext{})
		require.NoError(t, err)

		fb, err := m.SubmitFeedback(ctx, task.ID, FeedbackRequest{
			ReviewerID: "alice",
			Action:     ActionRejected,
			Comments:   "false positive",
			Confidence: 0.9,
		})
		require.NoError(t, err)
		assert.Equal(t, task.ID, fb.TaskID)
		assert.Equal(t, ActionRejected, fb.Action)
		assert.GreaterOrEqual(t, fb.ResponseTime, time.Duration(0))

		stored, err := m.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, stored.Status)
		assert.Zero(t, m.ActiveTimers())

		history, err := m.GetFeedbackHistory(task.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, fb.ID, history[0].ID)
	})

	t.Run("defaults reviewer and action", func(t *testing.T) {
		m := testManager(t)
		task, err := m.EvaluateForHumanReview(ctx, criticalFinding(), ReviewContext{})
		require.NoError(t, err)

		fb, err := m.SubmitFeedback(ctx, task.ID, FeedbackRequest{})
		require.NoError(t, err)
		assert.Equal(t, "anonymous", fb.ReviewerID)
		assert.Equal(t, ActionApproved, fb.Action)
	})

	t.Run("second feedback is rejected", func(t *testing.T) {
		m := testManager(t)
		task, err := m.EvaluateForHumanReview(ctx, criticalFinding(), ReviewContext{})
		require.NoError(t, err)

		_, err = m.SubmitFeedback(ctx, task.ID, FeedbackRequest{ReviewerID: "alice"})
		require.NoError(t, err)
		_, err = m.SubmitFeedback(ctx, task.ID, FeedbackRequest{ReviewerID: "bob"})
		assert.ErrorIs(t, err, ErrTaskResolved)

		history, err := m.GetFeedbackHistory(task.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("unknown task", func(t *testing.T) {
		m := testManager(t)
		_, err := m.SubmitFeedback(ctx, "hitl_missing", FeedbackRequest{})
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}

func TestTimeoutFallbacks(t *testing.T) {
	ctx := context.Background()

	policyWith := func(fallback FallbackAction, timeout time.Duration) EscalationPolicy {
		p := DefaultPolicy()
		p.Name = "timed"
		p.ConfidenceThreshold = 0.95
		p.Severities = []Severity{SeverityCritical}
		p.RiskCategories = []string{"rce"}
		p.Timeout = timeout
		p.FallbackAction = fallback
		return p
	}

	riskyFinding := func() Finding {
		f := criticalFinding()
		f.RiskCategories = []string{"rce"}
		return f
	}

	t.Run("auto_approve synthesizes system feedback", func(t *testing.T) {
		m := testManager(t, policyWith(FallbackAutoApprove, 30*time.Millisecond))
		task, err := m.EvaluateForHumanReview(ctx, riskyFinding(), ReviewContext{})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			stored, err := m.GetTask(task.ID)
			return err == nil && stored.Status.IsTerminal()
		}, time.Second, 5*time.Millisecond)

		stored, err := m.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, stored.Status)

		history, err := m.GetFeedbackHistory(task.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, SystemReviewerID, history[0].ReviewerID)
		assert.Equal(t, ActionApproved, history[0].Action)
		assert.Equal(t, "Auto-approved due to timeout", history[0].Comments)
	})

	t.Run("auto_reject synthesizes rejection", func(t *testing.T) {
		m := testManager(t, policyWith(FallbackAutoReject, 30*time.Millisecond))
		task, err := m.EvaluateForHumanReview(ctx, riskyFinding(), ReviewContext{})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			stored, err := m.GetTask(task.ID)
			return err == nil && stored.Status == StatusCompleted
		}, time.Second, 5*time.Millisecond)

		history, err := m.GetFeedbackHistory(task.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, ActionRejected, history[0].Action)
		assert.Equal(t, "Auto-rejected due to timeout", history[0].Comments)
	})

	t.Run("defer cancels without feedback", func(t *testing.T) {
		m := testManager(t, policyWith(FallbackDefer, 30*time.Millisecond))
		task, err := m.EvaluateForHumanReview(ctx, riskyFinding(), ReviewContext{})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			stored, err := m.GetTask(task.ID)
			return err == nil && stored.Status == StatusCancelled
		}, time.Second, 5*time.Millisecond)

		history, err := m.GetFeedbackHistory(task.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}

func TestFeedbackTimeoutRace(t *testing.T) {
	// Feedback lands well before the deadline; the later timer firing must not
	// overwrite the reviewer's resolution.
	ctx := context.Background()
	p := DefaultPolicy()
	p.Name = "racy"
	p.ConfidenceThreshold = 0.95
	p.Severities = []Severity{SeverityCritical}
	p.RiskCategories = []string{"rce"}
	p.Timeout = 50 * time.Millisecond
	p.FallbackAction = FallbackAutoReject
	m := testManager(t, p)

	finding := criticalFinding()
	finding.RiskCategories = []string{"rce"}
	task, err := m.EvaluateForHumanReview(ctx, finding, ReviewContext{})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = m.SubmitFeedback(ctx, task.ID, FeedbackRequest{ReviewerID: "alice", Action: ActionApproved})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	stored, err := m.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)

	history, err := m.GetFeedbackHistory(task.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "alice", history[0].ReviewerID)
	assert.Equal(t, ActionApproved, history[0].Action)
}

func TestShutdownCancelsTimers(t *testing.T) {
	ctx := context.Background()
	m := NewManager(zap.NewNop().Sugar(), NewPolicyRegistry())

	for i := 0; i < 3; i++ {
		_, err := m.EvaluateForHumanReview(ctx, criticalFinding(), ReviewContext{})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, m.ActiveTimers())

	m.Shutdown()
	assert.Zero(t, m.ActiveTimers())

	// Tasks keep their last state; no fallback was applied.
	for _, task := range m.GetPendingTasks(10) {
		assert.Equal(t, StatusPending, task.Status)
	}
}

func TestGetFeedbackHistoryUnknownTask(t *testing.T) {
	m := testManager(t)
	_, err := m.GetFeedbackHistory("hitl_missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

// auditRecorder collects event types arriving at a webhook sink.
type auditRecorder struct {
	mu    sync.Mutex
	types []audit.EventType
}

func (r *auditRecorder) recorded() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.EventType(nil), r.types...)
}

func newAuditService(t *testing.T) (*audit.Service, *auditRecorder) {
	t.Helper()
	rec := &auditRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event audit.Event
		if err := json.NewDecoder(r.Body).Decode(&event); err == nil {
			rec.mu.Lock()
			rec.types = append(rec.types, event.Type)
			rec.mu.Unlock()
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	svc := audit.NewService(zap.NewNop())
	require.NoError(t, svc.Configure(config.Audit{
		Enabled: true,
		Sinks:   []config.AuditSink{{Name: "hook", Type: "webhook", URL: server.URL}},
	}))
	return svc, rec
}

func TestFeedbackReachesAuditTrail(t *testing.T) {
	ctx := context.Background()
	svc, rec := newAuditService(t)
	m := testManager(t).WithAudit(svc)

	task, err := m.EvaluateForHumanReview(ctx, criticalFinding(), ReviewContext{AgentID: "agent-1"})
	require.NoError(t, err)
	require.NotNil(t, task)

	_, err = m.SubmitFeedback(ctx, task.ID, FeedbackRequest{ReviewerID: "alice", Action: ActionApproved})
	require.NoError(t, err)

	require.NoError(t, svc.Close())
	types := rec.recorded()
	assert.Contains(t, types, audit.EventTaskCreated)
	assert.Contains(t, types, audit.EventTaskCompleted)
	assert.Contains(t, types, audit.EventFeedbackSubmitted)
}

func TestTimeoutFallbackReachesAuditTrail(t *testing.T) {
	ctx := context.Background()
	svc, rec := newAuditService(t)
	policy := DefaultPolicy()
	policy.Name = "fast"
	policy.ConfidenceThreshold = 0.95
	policy.RiskCategories = []string{"rce"}
	policy.Timeout = 20 * time.Millisecond
	policy.FallbackAction = FallbackAutoApprove
	m := testManager(t, policy).WithAudit(svc)

	finding := criticalFinding()
	finding.RiskCategories = []string{"rce"}
	task, err := m.EvaluateForHumanReview(ctx, finding, ReviewContext{})
	require.NoError(t, err)
	require.NotNil(t, task)

	require.Eventually(t, func() bool {
		got, err := m.GetTask(task.ID)
		return err == nil && got.Status.IsTerminal()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Close())
	types := rec.recorded()
	assert.Contains(t, types, audit.EventTaskTimedOut)
	assert.Contains(t, types, audit.EventFeedbackSubmitted)
}
