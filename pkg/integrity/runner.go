package integrity

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cardfolio/backoffice/pkg/observability"
)

// Runner executes integrity checks. Checks run concurrently and in
// isolation: one check erroring out is reported as a failed CheckResult,
// never as a run-level error.
type Runner struct {
	checks  []Check
	log     *observability.Logger
	metrics *observability.Metrics
}

func NewRunner(log *observability.Logger, metrics *observability.Metrics, checks ...Check) *Runner {
	return &Runner{checks: checks, log: log, metrics: metrics}
}

// Checks returns the registered check names in run order.
func (r *Runner) Checks() []string {
	names := make([]string, 0, len(r.checks))
	for _, c := range r.checks {
		names = append(names, c.Name())
	}
	return names
}

// RunCheck executes the named check alone.
func (r *Runner) RunCheck(ctx context.Context, name string) (*CheckResult, error) {
	for _, c := range r.checks {
		if c.Name() == name {
			result := r.runOne(ctx, c)
			return &result, nil
		}
	}
	return nil, fmt.Errorf("unknown check %q", name)
}

// RunAll executes every registered check concurrently and aggregates the
// outcomes into a Report.
func (r *Runner) RunAll(ctx context.Context) *Report {
	start := time.Now()
	results := make([]CheckResult, len(r.checks))

	g, ctx := errgroup.WithContext(ctx)
	for i, c := range r.checks {
		i, c := i, c
		g.Go(func() error {
			results[i] = r.runOne(ctx, c)
			return nil
		})
	}
	g.Wait()

	report := &Report{
		Timestamp:     start.UTC(),
		Checks:        results,
		Summary:       map[Severity]int{},
		Duration:      time.Since(start),
		OverallStatus: OverallHealthy,
	}
	for _, res := range results {
		report.TotalFindings += len(res.Findings)
		for _, f := range res.Findings {
			report.Summary[f.Severity]++
		}
		switch res.Status {
		case StatusFail:
			report.OverallStatus = OverallUnhealthy
		case StatusWarning:
			if report.OverallStatus == OverallHealthy {
				report.OverallStatus = OverallDegraded
			}
		}
	}

	if r.metrics != nil {
		r.metrics.RecordIntegrityReport(findingCounts(results))
	}
	r.log.WithFields(map[string]interface{}{
		"status":   report.OverallStatus,
		"findings": report.TotalFindings,
		"duration": report.Duration.String(),
	}).Info("integrity run complete")

	return report
}

func (r *Runner) runOne(ctx context.Context, c Check) CheckResult {
	start := time.Now()
	findings, err := c.Run(ctx)
	elapsed := time.Since(start)

	if r.metrics != nil {
		r.metrics.IntegrityCheckDuration.WithLabelValues(c.Name()).Observe(elapsed.Seconds())
	}

	if err != nil {
		r.log.WithError(err).WithField("check", c.Name()).Error("integrity check failed to execute")
		return CheckResult{
			Name:     c.Name(),
			Status:   StatusFail,
			Findings: []Finding{executionFailure(c.Name(), err)},
			Duration: elapsed,
		}
	}

	return CheckResult{
		Name:     c.Name(),
		Status:   statusOf(findings),
		Findings: findings,
		Duration: elapsed,
	}
}

// executionFailure represents a check that could not run at all, so its
// ground is unverified rather than known-bad.
func executionFailure(check string, err error) Finding {
	return Finding{
		Check:    check,
		Severity: SeverityError,
		Message:  "check could not be executed",
		Details:  map[string]interface{}{"error": err.Error()},
	}
}

func findingCounts(results []CheckResult) map[string]map[string]int {
	counts := make(map[string]map[string]int, len(results))
	for _, res := range results {
		perSeverity := map[string]int{string(SeverityError): 0, string(SeverityWarning): 0}
		for _, f := range res.Findings {
			perSeverity[string(f.Severity)]++
		}
		counts[res.Name] = perSeverity
	}
	return counts
}
