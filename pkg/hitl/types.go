package hitl

import (
	"time"
)

// Severity classifies how serious a security finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Complexity classifies how involved remediation of a finding is expected to be.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// TaskType identifies the kind of human disposition a task asks for.
type TaskType string

const (
	TaskTypeReview     TaskType = "review"
	TaskTypeApproval   TaskType = "approval"
	TaskTypeCorrection TaskType = "correction"
	TaskTypeEscalation TaskType = "escalation"
)

// TaskPriority orders pending tasks for reviewers.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

// priorityWeight drives the descending sort of GetPendingTasks.
var priorityWeight = map[TaskPriority]int{
	PriorityCritical: 3,
	PriorityHigh:     2,
	PriorityMedium:   1,
	PriorityLow:      0,
}

// TaskStatus is the lifecycle state of a human task. Transitions are monotonic:
// pending -> assigned -> completed|cancelled, with pending allowed to jump
// straight to a terminal state.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusAssigned  TaskStatus = "assigned"
	StatusCompleted TaskStatus = "completed"
	StatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// FallbackAction is the automatic resolution applied when no human responds
// before the task deadline.
type FallbackAction string

const (
	FallbackAutoApprove FallbackAction = "auto_approve"
	FallbackAutoReject  FallbackAction = "auto_reject"
	FallbackDefer       FallbackAction = "defer"
)

// FeedbackAction is the decision a reviewer (or the system fallback) took.
type FeedbackAction string

const (
	ActionApproved FeedbackAction = "approved"
	ActionRejected FeedbackAction = "rejected"
)

// SystemReviewerID marks feedback synthesized by the escalation timeout fallback.
const SystemReviewerID = "system"

// Location points at where a finding was observed.
type Location struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

// Finding is a structured security observation produced by an upstream
// scanning pipeline. Findings are immutable once produced.
type Finding struct {
	Type                 string         `json:"type"`
	Description          string         `json:"description,omitempty"`
	Severity             Severity       `json:"severity"`
	ConfidenceScore      float64        `json:"confidenceScore"`
	Complexity           Complexity     `json:"complexity,omitempty"`
	RiskCategories       []string       `json:"riskCategories,omitempty"`
	ComplianceViolations []string       `json:"complianceViolations,omitempty"`
	// EstimatedCost is the projected remediation or blast-radius cost.
	// Zero means not estimated.
	EstimatedCost float64        `json:"estimatedCost,omitempty"`
	Location      Location       `json:"location,omitempty"`
	Evidence      []string       `json:"evidence,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// ReviewContext carries the caller identity accompanying a finding into
// evaluation. Extra holds any additional upstream fields.
type ReviewContext struct {
	AgentID   string         `json:"agentId"`
	SessionID string         `json:"sessionId"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// TaskMetadata is the typed core of per-task metadata, plus the finding's
// open context bag.
type TaskMetadata struct {
	AgentID         string         `json:"agentId"`
	SessionID       string         `json:"sessionId"`
	Timestamp       time.Time      `json:"timestamp"`
	ConfidenceScore float64        `json:"confidenceScore"`
	Context         map[string]any `json:"context,omitempty"`
}

// HumanTask is the unit of work representing a finding awaiting human
// disposition. Tasks are never deleted; resolved tasks are retained for audit
// and only removed from the active timer registry.
type HumanTask struct {
	ID          string       `json:"id"`
	Type        TaskType     `json:"type"`
	Priority    TaskPriority `json:"priority"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Metadata    TaskMetadata `json:"metadata"`
	Payload     Finding      `json:"payload"`
	Status      TaskStatus   `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Deadline    time.Time    `json:"deadline"`
	AssignedTo  string       `json:"assignedTo,omitempty"`
	// Policy records which escalation policy created this task.
	Policy string `json:"policy,omitempty"`
	// Fallback is the automatic resolution applied if the deadline passes
	// without human feedback. Fixed at creation time from the selected policy.
	Fallback FallbackAction `json:"fallback,omitempty"`
}

// HumanFeedback is one append-only ledger entry recording a human (or system
// fallback) decision on a task.
type HumanFeedback struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"taskId"`
	ReviewerID  string         `json:"reviewerId"`
	Action      FeedbackAction `json:"action"`
	Comments    string         `json:"comments,omitempty"`
	Corrections map[string]any `json:"corrections,omitempty"`
	Confidence  float64        `json:"confidence,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	// ResponseTime is the elapsed time between task creation and this decision.
	ResponseTime time.Duration `json:"responseTimeNs"`
}

// FeedbackRequest is the reviewer-supplied portion of a feedback submission.
type FeedbackRequest struct {
	ReviewerID  string         `json:"reviewerId"`
	Action      FeedbackAction `json:"action"`
	Comments    string         `json:"comments,omitempty"`
	Corrections map[string]any `json:"corrections,omitempty"`
	Confidence  float64        `json:"confidence,omitempty"`
}
