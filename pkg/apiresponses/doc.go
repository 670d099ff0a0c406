// Package apiresponses provides standardized HTTP API response helpers
// (error, not-found, conflict, etc.) shared between the task and token
// controllers without import cycles.
package apiresponses
