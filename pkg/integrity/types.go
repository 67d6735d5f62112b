// Package integrity validates the live store against itself and the
// ledger: orphaned references, drifted denormalized quantities, and stale
// materialized profit figures. Checks are read-only and independent; a
// failure in one never aborts the others.
package integrity

import (
	"context"
	"time"
)

// Severity ranks a finding
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one detected discrepancy. Findings are transient: produced
// fresh on each run, never persisted.
type Finding struct {
	Check      string                 `json:"check"`
	Severity   Severity               `json:"severity"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Check statuses
const (
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusWarning = "warning"
)

// CheckResult is the outcome of one check
type CheckResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Findings []Finding     `json:"findings"`
	Duration time.Duration `json:"duration_ms"`
}

// statusOf derives a check status from its findings
func statusOf(findings []Finding) string {
	if len(findings) == 0 {
		return StatusPass
	}
	for _, f := range findings {
		if f.Severity == SeverityError {
			return StatusFail
		}
	}
	return StatusWarning
}

// Report statuses
const (
	OverallHealthy   = "healthy"
	OverallDegraded  = "degraded"
	OverallUnhealthy = "unhealthy"
)

// Report aggregates one validation run
type Report struct {
	Timestamp     time.Time        `json:"timestamp"`
	OverallStatus string           `json:"overall_status"`
	Checks        []CheckResult    `json:"checks"`
	TotalFindings int              `json:"total_findings"`
	Summary       map[Severity]int `json:"summary"`
	Duration      time.Duration    `json:"duration_ms"`
}

// Check is one independent, read-only validation. Run returns the
// discrepancies it found; returning an error means the check itself could
// not execute, which the runner converts into a failure finding instead
// of propagating.
type Check interface {
	Name() string
	Run(ctx context.Context) ([]Finding, error)
}
