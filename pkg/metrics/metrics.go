package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Escalation decision metrics
	FindingsEvaluated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_findings_evaluated_total",
		Help: "Total number of findings evaluated for human review",
	}, []string{"severity"})
	FindingsEscalated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_findings_escalated_total",
		Help: "Total number of findings escalated to a human task",
	}, []string{"severity", "policy"})

	// Task lifecycle metrics
	TaskCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_task_created_total",
		Help: "Total number of human tasks created",
	}, []string{"type", "priority"})
	TaskAssigned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oversight_task_assigned_total",
		Help: "Total number of human task assignments",
	})
	TaskCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_task_completed_total",
		Help: "Total number of human tasks completed",
	}, []string{"action"})
	TaskCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oversight_task_cancelled_total",
		Help: "Total number of human tasks cancelled",
	})
	TaskTimedOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_task_timed_out_total",
		Help: "Total number of human tasks resolved by escalation timeout",
	}, []string{"fallback"})
	TimeoutHandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oversight_timeout_handler_errors_total",
		Help: "Total number of contained errors in escalation timeout handlers",
	})
	FeedbackSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_feedback_submitted_total",
		Help: "Total number of feedback entries appended to the ledger",
	}, []string{"action", "reviewer_kind"})

	// Capability token metrics
	TokenMinted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_token_minted_total",
		Help: "Total number of capability tokens minted",
	}, []string{"tool"})
	TokenVerified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_token_verified_total",
		Help: "Total number of successful capability token verifications",
	}, []string{"source"})
	TokenRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_token_rejected_total",
		Help: "Total number of capability token verifications that failed",
	}, []string{"reason"})
	TokenRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oversight_token_revoked_total",
		Help: "Total number of capability tokens revoked",
	})
	TokenSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oversight_token_swept_total",
		Help: "Total number of expired capability tokens evicted by cleanup",
	})

	// API metrics
	APIEndpointRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_api_endpoint_requests_total",
		Help: "Total number of API requests per endpoint",
	}, []string{"endpoint"})
	APIEndpointErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_api_endpoint_errors_total",
		Help: "Total number of API errors per endpoint and status",
	}, []string{"endpoint", "status"})

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"host"})

	// Audit metrics
	AuditEventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_audit_events_emitted_total",
		Help: "Total number of audit events emitted",
	}, []string{"type"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oversight_audit_sink_errors_total",
		Help: "Total number of audit sink write failures",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(FindingsEvaluated)
	prometheus.MustRegister(FindingsEscalated)
	prometheus.MustRegister(TaskCreated)
	prometheus.MustRegister(TaskAssigned)
	prometheus.MustRegister(TaskCompleted)
	prometheus.MustRegister(TaskCancelled)
	prometheus.MustRegister(TaskTimedOut)
	prometheus.MustRegister(TimeoutHandlerErrors)
	prometheus.MustRegister(FeedbackSubmitted)
	prometheus.MustRegister(TokenMinted)
	prometheus.MustRegister(TokenVerified)
	prometheus.MustRegister(TokenRejected)
	prometheus.MustRegister(TokenRevoked)
	prometheus.MustRegister(TokenSwept)
	prometheus.MustRegister(APIEndpointRequests)
	prometheus.MustRegister(APIEndpointErrors)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(AuditEventsEmitted)
	prometheus.MustRegister(AuditSinkErrors)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
