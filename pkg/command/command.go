// Package command defines the Command and Result data model shared by the
// coordinator and the executor (spec.md §3).
package command

import "time"

// Default and hard-cap timeouts for a single command (spec.md §3).
const (
	DefaultTimeoutSeconds = 10
	MaxTimeoutSeconds     = 30
)

// Command is a unit of work targeted at one cluster.
type Command struct {
	ID            string    `json:"id"`
	ClusterID     string    `json:"cluster_id"`
	Args          []string  `json:"args"`
	Namespace     string    `json:"namespace,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	QueuedAt      time.Time `json:"queued_at"`
	SessionID     string    `json:"session_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Priority      int       `json:"priority,omitempty"`
}

// Verb returns the command's leading verb token, or "" if Args is empty.
func (c Command) Verb() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// NormalizeTimeout clamps the command's timeout into [1, MaxTimeoutSeconds],
// defaulting to DefaultTimeoutSeconds when unset.
func (c *Command) NormalizeTimeout() {
	switch {
	case c.TimeoutSeconds <= 0:
		c.TimeoutSeconds = DefaultTimeoutSeconds
	case c.TimeoutSeconds > MaxTimeoutSeconds:
		c.TimeoutSeconds = MaxTimeoutSeconds
	}
}

// Result is the outcome of executing one Command.
type Result struct {
	CommandID       string    `json:"command_id"`
	Success         bool      `json:"success"`
	Output          string    `json:"output"`
	Error           string    `json:"error,omitempty"`
	ExitCode        *int      `json:"exit_code,omitempty"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	StoredAt        time.Time `json:"stored_at"`
}

// Tracking is the short-lived record that lets result consumers discover
// the target cluster of a command id (spec.md §3, "tracking record").
type Tracking struct {
	ClusterID string    `json:"cluster_id"`
	QueuedAt  time.Time `json:"queued_at"`
}
