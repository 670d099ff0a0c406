package hitl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arbitra-ai/oversight/pkg/audit"
	"github.com/arbitra-ai/oversight/pkg/metrics"
)

// Escalation trigger thresholds. These are fixed configuration constants of
// the decision engine, not derived values.
const (
	confidenceEscalationThreshold = 0.8
	lowConfidenceReviewThreshold  = 0.5
	highPriorityConfidence        = 0.6
	costEscalationThreshold       = 10
	highPriorityCostThreshold     = 50
)

// DefaultPendingLimit is applied when GetPendingTasks is called with a
// non-positive limit.
const DefaultPendingLimit = 50

var (
	// ErrTaskNotFound is returned when an operation references an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskResolved is returned when feedback arrives for a task that already
	// reached a terminal state. The terminal transition happens exactly once;
	// the losing writer observes this error and must not overwrite.
	ErrTaskResolved = errors.New("task already resolved")
)

// Notifier is implemented by collaborators that want to be told about newly
// created tasks (e.g. the mail service).
type Notifier interface {
	NotifyTaskCreated(task HumanTask, roles []string)
}

// Manager owns the human task store, the feedback ledger, and the escalation
// timers. All state is in-memory; resolved tasks are retained for audit and
// only their timers are released.
type Manager struct {
	mu       sync.RWMutex
	tasks    map[string]*HumanTask
	feedback map[string][]HumanFeedback

	registry *PolicyRegistry
	timers   *timerRegistry
	log      *zap.SugaredLogger
	audit    *audit.Service
	notifier Notifier
}

// NewManager constructs a Manager with the given policy registry.
func NewManager(log *zap.SugaredLogger, registry *PolicyRegistry) *Manager {
	if registry == nil {
		registry = NewPolicyRegistry()
	}
	return &Manager{
		tasks:    make(map[string]*HumanTask),
		feedback: make(map[string][]HumanFeedback),
		registry: registry,
		timers:   newTimerRegistry(),
		log:      log,
	}
}

// WithAudit attaches an audit service. Nil disables audit emission.
func (m *Manager) WithAudit(svc *audit.Service) *Manager {
	m.audit = svc
	return m
}

// WithNotifier attaches a task creation notifier.
func (m *Manager) WithNotifier(n Notifier) *Manager {
	m.notifier = n
	return m
}

func (m *Manager) getLogger() *zap.SugaredLogger {
	if m.log != nil {
		return m.log
	}
	return zap.S()
}

// shouldEscalate applies the five independent escalation criteria. Any one of
// them being true routes the finding to a human.
func shouldEscalate(finding Finding) bool {
	return finding.ConfidenceScore < confidenceEscalationThreshold ||
		finding.Severity == SeverityCritical ||
		finding.Severity == SeverityHigh ||
		finding.EstimatedCost > costEscalationThreshold ||
		finding.Complexity == ComplexityHigh ||
		len(finding.ComplianceViolations) > 0
}

// deriveTaskType maps a finding to the kind of human disposition required.
func deriveTaskType(finding Finding) TaskType {
	switch {
	case finding.ConfidenceScore < lowConfidenceReviewThreshold:
		return TaskTypeReview
	case finding.Severity == SeverityCritical:
		return TaskTypeApproval
	case len(finding.ComplianceViolations) > 0:
		return TaskTypeCorrection
	default:
		return TaskTypeEscalation
	}
}

// derivePriority maps a finding to the reviewer-facing priority.
func derivePriority(finding Finding) TaskPriority {
	switch {
	case finding.Severity == SeverityCritical:
		return PriorityCritical
	case finding.ConfidenceScore < highPriorityConfidence:
		return PriorityHigh
	case finding.EstimatedCost > highPriorityCostThreshold:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

func taskTitle(finding Finding) string {
	return fmt.Sprintf("Review: %s - %s Severity", finding.Type, strings.ToUpper(string(finding.Severity)))
}

func taskDescription(finding Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Security finding requires human review.\n\n")
	fmt.Fprintf(&b, "Type: %s\n", finding.Type)
	fmt.Fprintf(&b, "Severity: %s\n", finding.Severity)
	fmt.Fprintf(&b, "Confidence: %.1f%%\n", finding.ConfidenceScore*100)
	if finding.Location.File != "" {
		fmt.Fprintf(&b, "Location: %s:%d\n", finding.Location.File, finding.Location.Line)
	}
	if finding.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", finding.Description)
	}
	if len(finding.Evidence) > 0 {
		b.WriteString("\nEvidence:\n")
		evidence := finding.Evidence
		if len(evidence) > 3 {
			evidence = evidence[:3]
		}
		for _, e := range evidence {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	b.WriteString("\nPlease review and confirm if this finding is valid and requires action.")
	return b.String()
}

// EvaluateForHumanReview decides whether the finding must be routed to a human
// before the system acts. It returns nil when no review is needed; that is an
// expected outcome, not an error. When escalation is required, a task is
// created, its policy timeout is armed, and the task is returned.
func (m *Manager) EvaluateForHumanReview(ctx context.Context, finding Finding, rctx ReviewContext) (*HumanTask, error) {
	log := m.getLogger()
	metrics.FindingsEvaluated.WithLabelValues(string(finding.Severity)).Inc()

	if !shouldEscalate(finding) {
		log.Debugw("Finding requires no human review",
			"findingType", finding.Type, "severity", finding.Severity, "confidence", finding.ConfidenceScore)
		return nil, nil
	}

	policy := m.registry.Select(finding)
	now := time.Now()
	agentID := rctx.AgentID
	if agentID == "" {
		agentID = "unknown"
	}
	sessionID := rctx.SessionID
	if sessionID == "" {
		sessionID = "unknown"
	}

	task := &HumanTask{
		ID:          fmt.Sprintf("hitl_%s", uuid.NewString()),
		Type:        deriveTaskType(finding),
		Priority:    derivePriority(finding),
		Title:       taskTitle(finding),
		Description: taskDescription(finding),
		Metadata: TaskMetadata{
			AgentID:         agentID,
			SessionID:       sessionID,
			Timestamp:       now,
			ConfidenceScore: finding.ConfidenceScore,
			Context:         finding.Context,
		},
		Payload:   finding,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Deadline:  now.Add(policy.Timeout),
		Policy:    policy.Name,
		Fallback:  policy.FallbackAction,
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	m.timers.start(task.ID, policy.Timeout, func() { m.handleTimeout(task.ID) })

	metrics.FindingsEscalated.WithLabelValues(string(finding.Severity), policy.Name).Inc()
	metrics.TaskCreated.WithLabelValues(string(task.Type), string(task.Priority)).Inc()
	log.Infow("Created human review task",
		"taskId", task.ID, "type", task.Type, "priority", task.Priority,
		"policy", policy.Name, "timeout", policy.Timeout, "agentId", agentID)

	m.emitAudit(ctx, audit.EventTaskCreated, task, map[string]interface{}{
		"policy":   policy.Name,
		"fallback": string(policy.FallbackAction),
		"deadline": task.Deadline,
	})

	if m.notifier != nil {
		m.notifier.NotifyTaskCreated(*task, policy.HumanRoles)
	}

	return task, nil
}

// GetTask returns a copy of the task with the given id.
func (m *Manager) GetTask(id string) (HumanTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return HumanTask{}, errors.Wrapf(ErrTaskNotFound, "task %s", id)
	}
	return *task, nil
}

// GetPendingTasks returns pending tasks sorted by priority descending
// (critical > high > medium > low), stable among equal priorities, truncated
// to limit. A non-positive limit applies DefaultPendingLimit.
func (m *Manager) GetPendingTasks(limit int) []HumanTask {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}

	m.mu.RLock()
	pending := make([]HumanTask, 0)
	for _, task := range m.tasks {
		if task.Status == StatusPending {
			pending = append(pending, *task)
		}
	}
	m.mu.RUnlock()

	// Map iteration order is random; fix creation order first so the priority
	// sort is genuinely stable.
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	sort.SliceStable(pending, func(i, j int) bool {
		return priorityWeight[pending[i].Priority] > priorityWeight[pending[j].Priority]
	})

	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending
}

// AssignTask moves a pending or assigned task to assigned and records the
// reviewer. Fails with ErrTaskNotFound for unknown ids and ErrTaskResolved for
// tasks already in a terminal state.
func (m *Manager) AssignTask(ctx context.Context, id, reviewerID string) error {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(ErrTaskNotFound, "task %s", id)
	}
	if task.Status.IsTerminal() {
		m.mu.Unlock()
		return errors.Wrapf(ErrTaskResolved, "task %s", id)
	}
	task.Status = StatusAssigned
	task.AssignedTo = reviewerID
	task.UpdatedAt = time.Now()
	snapshot := *task
	m.mu.Unlock()

	metrics.TaskAssigned.Inc()
	m.getLogger().Infow("Assigned task", "taskId", id, "reviewerId", reviewerID)
	m.emitAudit(ctx, audit.EventTaskAssigned, &snapshot, map[string]interface{}{
		"reviewerId": reviewerID,
	})
	return nil
}

// SubmitFeedback completes a non-terminal task with the reviewer's decision,
// appends the entry to the ledger, and cancels the task's escalation timer.
// Exactly one of SubmitFeedback and the timeout handler performs the terminal
// transition for a given task; the loser gets ErrTaskResolved.
func (m *Manager) SubmitFeedback(ctx context.Context, id string, req FeedbackRequest) (HumanFeedback, error) {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return HumanFeedback{}, errors.Wrapf(ErrTaskNotFound, "task %s", id)
	}
	if task.Status.IsTerminal() {
		m.mu.Unlock()
		return HumanFeedback{}, errors.Wrapf(ErrTaskResolved, "task %s", id)
	}
	fb := m.completeLocked(task, req, time.Now())
	snapshot := *task
	m.mu.Unlock()

	m.timers.cancel(id)

	reviewerKind := "human"
	if fb.ReviewerID == SystemReviewerID {
		reviewerKind = SystemReviewerID
	}
	metrics.TaskCompleted.WithLabelValues(string(fb.Action)).Inc()
	metrics.FeedbackSubmitted.WithLabelValues(string(fb.Action), reviewerKind).Inc()
	m.getLogger().Infow("Task completed by feedback",
		"taskId", id, "reviewerId", fb.ReviewerID, "action", fb.Action,
		"responseTime", fb.ResponseTime)
	m.emitAudit(ctx, audit.EventTaskCompleted, &snapshot, map[string]interface{}{
		"feedbackId": fb.ID,
		"reviewerId": fb.ReviewerID,
		"action":     string(fb.Action),
	})
	m.emitAudit(ctx, audit.EventFeedbackSubmitted, &snapshot, map[string]interface{}{
		"feedbackId": fb.ID,
		"reviewerId": fb.ReviewerID,
		"action":     string(fb.Action),
		"confidence": fb.Confidence,
	})
	return fb, nil
}

// completeLocked performs the terminal transition to completed and appends the
// feedback entry. Caller must hold m.mu and have verified the task is not
// terminal.
func (m *Manager) completeLocked(task *HumanTask, req FeedbackRequest, now time.Time) HumanFeedback {
	reviewerID := req.ReviewerID
	if reviewerID == "" {
		reviewerID = "anonymous"
	}
	action := req.Action
	if action == "" {
		action = ActionApproved
	}
	fb := HumanFeedback{
		ID:           fmt.Sprintf("feedback_%s", uuid.NewString()),
		TaskID:       task.ID,
		ReviewerID:   reviewerID,
		Action:       action,
		Comments:     req.Comments,
		Corrections:  req.Corrections,
		Confidence:   req.Confidence,
		Timestamp:    now,
		ResponseTime: now.Sub(task.CreatedAt),
	}
	task.Status = StatusCompleted
	task.UpdatedAt = now
	m.feedback[task.ID] = append(m.feedback[task.ID], fb)
	return fb
}

// GetFeedbackHistory returns the append-only feedback ledger for a task.
func (m *Manager) GetFeedbackHistory(id string) ([]HumanFeedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.tasks[id]; !ok {
		return nil, errors.Wrapf(ErrTaskNotFound, "task %s", id)
	}
	history := make([]HumanFeedback, len(m.feedback[id]))
	copy(history, m.feedback[id])
	return history, nil
}

// handleTimeout fires when a task's escalation deadline passes. If the task
// was already resolved through feedback the firing is a no-op. Errors and
// panics are contained per callback so a bad fallback can never take down the
// timer service.
func (m *Manager) handleTimeout(taskID string) {
	log := m.getLogger()
	defer func() {
		if r := recover(); r != nil {
			metrics.TimeoutHandlerErrors.Inc()
			log.Errorw("Escalation timeout handler panicked; task left in last consistent state",
				"taskId", taskID, "panic", r)
		}
	}()

	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if task.Status.IsTerminal() {
		// Lost the race to SubmitFeedback; resolution already happened.
		m.mu.Unlock()
		return
	}

	fallback := task.Fallback
	now := time.Now()

	var fb HumanFeedback
	var completed bool
	switch fallback {
	case FallbackAutoApprove:
		fb = m.completeLocked(task, FeedbackRequest{
			ReviewerID: SystemReviewerID,
			Action:     ActionApproved,
			Comments:   "Auto-approved due to timeout",
		}, now)
		completed = true
	case FallbackAutoReject:
		fb = m.completeLocked(task, FeedbackRequest{
			ReviewerID: SystemReviewerID,
			Action:     ActionRejected,
			Comments:   "Auto-rejected due to timeout",
		}, now)
		completed = true
	default:
		// defer: cancel without a feedback entry
		task.Status = StatusCancelled
		task.UpdatedAt = now
	}
	snapshot := *task
	m.mu.Unlock()

	metrics.TaskTimedOut.WithLabelValues(string(fallback)).Inc()
	ctx := context.Background()
	if completed {
		metrics.TaskCompleted.WithLabelValues(string(fb.Action)).Inc()
		metrics.FeedbackSubmitted.WithLabelValues(string(fb.Action), SystemReviewerID).Inc()
		log.Infow("Task resolved by escalation timeout",
			"taskId", taskID, "fallback", fallback, "action", fb.Action)
		m.emitAudit(ctx, audit.EventTaskTimedOut, &snapshot, map[string]interface{}{
			"fallback":   string(fallback),
			"feedbackId": fb.ID,
			"action":     string(fb.Action),
		})
		m.emitAudit(ctx, audit.EventFeedbackSubmitted, &snapshot, map[string]interface{}{
			"feedbackId": fb.ID,
			"reviewerId": fb.ReviewerID,
			"action":     string(fb.Action),
		})
	} else {
		metrics.TaskCancelled.Inc()
		log.Infow("Task cancelled by escalation timeout", "taskId", taskID, "fallback", fallback)
		m.emitAudit(ctx, audit.EventTaskCancelled, &snapshot, map[string]interface{}{
			"fallback": string(fallback),
		})
	}
}

// ActiveTimers returns the number of outstanding escalation timers (for tests
// and health reporting).
func (m *Manager) ActiveTimers() int {
	return m.timers.active()
}

// Shutdown cancels all outstanding escalation timers. Tasks keep their last
// state; no fallback is applied.
func (m *Manager) Shutdown() {
	m.timers.cancelAll()
	m.getLogger().Info("Escalation manager shut down; all timers cancelled")
}

func (m *Manager) emitAudit(ctx context.Context, eventType audit.EventType, task *HumanTask, details map[string]interface{}) {
	if m.audit == nil {
		return
	}
	m.audit.Emit(ctx, &audit.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Severity:  audit.SeverityForEventType(eventType),
		Timestamp: time.Now(),
		Actor:     audit.Actor{User: task.AssignedTo, AgentID: task.Metadata.AgentID, SessionID: task.Metadata.SessionID},
		Target:    audit.Target{Kind: "HumanTask", Name: task.ID},
		Details:   details,
	})
}
