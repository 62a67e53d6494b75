package domain

import (
	"context"
	"fmt"
	"time"
)

// PolicySummary is the externally visible form of the active policy.
type PolicySummary struct {
	LifetimeDays    int      `json:"lifetimeDays"`
	WarningWindows  []string `json:"warningWindows"`
	GracePeriodDays int      `json:"gracePeriodDays"`
	RetentionMode   string   `json:"retentionMode"`
}

// Pipeline counts listings that upcoming runs will act on.
type Pipeline struct {
	ExpiringWithin7D  int `json:"expiringWithin7d"`
	ExpiringWithin24H int `json:"expiringWithin24h"`
	AwaitingExpiry    int `json:"awaitingExpiry"`
	PendingPurge      int `json:"pendingPurge"`
}

// RunSummary describes a recorded run.
type RunSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Duration   string    `json:"duration"`
	RunResult
}

// Summary converts a stored run into its reported form.
func (r RunRecord) Summary() RunSummary {
	return RunSummary{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Duration:   FormatMillis(r.FinishedAt.Sub(r.StartedAt)),
		RunResult:  r.Result,
	}
}

// StatsReport is the read-only view served by the stats endpoint.
type StatsReport struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	Counts      map[Status]int `json:"counts"`
	Policy      PolicySummary  `json:"policy"`
	Pipeline    Pipeline       `json:"pipeline"`
	LastRun     *RunSummary    `json:"lastRun,omitempty"`
}

// Summary renders the policy constants.
func (p LifecyclePolicy) Summary() PolicySummary {
	windows := make([]string, 0, len(p.WarningWindows))
	for _, w := range p.WarningWindows {
		windows = append(windows, formatLeadTime(w.LeadTime))
	}
	return PolicySummary{
		LifetimeDays:    p.LifetimeDays,
		WarningWindows:  windows,
		GracePeriodDays: p.GracePeriodDays,
		RetentionMode:   string(p.Retention),
	}
}

func formatLeadTime(d time.Duration) string {
	if d > day && d%day == 0 {
		return fmt.Sprintf("%dd", d/day)
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	return d.String()
}

// buildStats reads current counts from the repositories. It never writes.
func buildStats(ctx context.Context, now time.Time, policy LifecyclePolicy, repo ListingRepository, runs RunRepository) (*StatsReport, error) {
	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count listings by status: %w", err)
	}
	full := make(map[Status]int, len(AllStatuses))
	for _, st := range AllStatuses {
		full[st] = counts[st]
	}

	type pipelineQuery struct {
		dst    *int
		filter Filter
	}

	var pipeline Pipeline
	queries := []pipelineQuery{
		{&pipeline.AwaitingExpiry, Filter{Status: StatusPublished, ExpiresAtOrBefore: &now}},
		{&pipeline.PendingPurge, Filter{Status: StatusExpired, DeletionDueAtOrBefore: &now}},
	}
	// Windows missing from the policy report zero.
	for _, w := range []struct {
		dst  *int
		kind WarningKind
	}{
		{&pipeline.ExpiringWithin7D, Warn7D},
		{&pipeline.ExpiringWithin24H, Warn24H},
	} {
		_, upper, ok := policy.WindowBounds(w.kind)
		if !ok {
			continue
		}
		until := now.Add(upper)
		queries = append(queries, pipelineQuery{w.dst, Filter{Status: StatusPublished, ExpiresAfter: &now, ExpiresAtOrBefore: &until}})
	}

	for _, q := range queries {
		n, err := repo.Count(ctx, q.filter)
		if err != nil {
			return nil, fmt.Errorf("count pipeline: %w", err)
		}
		*q.dst = n
	}

	report := &StatsReport{
		GeneratedAt: now,
		Counts:      full,
		Policy:      policy.Summary(),
		Pipeline:    pipeline,
	}

	if runs != nil {
		last, ok, err := runs.LastRun(ctx)
		if err != nil {
			return nil, fmt.Errorf("load last run: %w", err)
		}
		if ok {
			summary := last.Summary()
			report.LastRun = &summary
		}
	}
	return report, nil
}

// FormatMillis renders a duration the way the trigger endpoint reports it.
func FormatMillis(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
