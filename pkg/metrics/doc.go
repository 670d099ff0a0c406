// Package metrics defines the Prometheus collectors for the oversight service:
// escalation decisions, human task lifecycle, capability token operations,
// API endpoints, mail delivery, and audit sink health.
package metrics
