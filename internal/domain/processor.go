package domain

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RunResult counts the transitions made by one batch run.
type RunResult struct {
	Warned7D  int `json:"warned7d"`
	Warned24H int `json:"warned24h"`
	Expired   int `json:"expired"`
	Renewed   int `json:"renewed"`
	Archived  int `json:"archived"`
	Deleted   int `json:"deleted"`
	Errors    int `json:"errors"`
}

// Transitions is the total number of state changes, excluding errors.
func (r RunResult) Transitions() int {
	return r.Warned7D + r.Warned24H + r.Expired + r.Renewed + r.Archived + r.Deleted
}

func (r *RunResult) countWarning(k WarningKind) {
	switch k {
	case Warn7D:
		r.Warned7D++
	case Warn24H:
		r.Warned24H++
	}
}

// ExpirationProcessor runs the lifecycle batch: warnings, expiration and
// grace-period purge. Every write is a conditional update scoped to the
// listing's expected pre-state, so overlapping runs converge without locks.
type ExpirationProcessor struct {
	clock      Clock
	policy     LifecyclePolicy
	repo       ListingRepository
	dispatcher NotificationDispatcher
	renewals   *AutoRenewalManager
	batchLimit int
	logger     *slog.Logger
}

// ProcessorDeps wires an ExpirationProcessor.
type ProcessorDeps struct {
	Clock      Clock
	Policy     LifecyclePolicy
	Repository ListingRepository
	Dispatcher NotificationDispatcher
	Renewals   *AutoRenewalManager
	// BatchLimit caps the candidates fetched per query; 0 means unlimited.
	BatchLimit int
	Logger     *slog.Logger
}

// NewExpirationProcessor creates an ExpirationProcessor. A renewal manager is
// built from the same clock, policy and repository when none is given.
func NewExpirationProcessor(deps ProcessorDeps) *ExpirationProcessor {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Renewals == nil {
		deps.Renewals = NewAutoRenewalManager(deps.Clock, deps.Policy, deps.Repository, deps.Logger)
	}
	return &ExpirationProcessor{
		clock:      deps.Clock,
		policy:     deps.Policy,
		repo:       deps.Repository,
		dispatcher: deps.Dispatcher,
		renewals:   deps.Renewals,
		batchLimit: deps.BatchLimit,
		logger:     deps.Logger,
	}
}

// Run executes the passes in order against the current persisted state. A
// single listing's failure is logged and counted; only a failed candidate
// query aborts the run, with a *RepositoryUnavailableError.
func (p *ExpirationProcessor) Run(ctx context.Context) (RunResult, error) {
	now := p.clock.Now()
	var result RunResult

	p.logger.Info("expiration run started", "now", now)

	if err := p.warningPass(ctx, now, &result); err != nil {
		return RunResult{}, err
	}
	if err := p.expirationPass(ctx, now, &result); err != nil {
		return RunResult{}, err
	}
	if err := p.gracePass(ctx, now, &result); err != nil {
		return RunResult{}, err
	}

	p.logger.Info("expiration run complete",
		"warned_7d", result.Warned7D,
		"warned_24h", result.Warned24H,
		"expired", result.Expired,
		"renewed", result.Renewed,
		"archived", result.Archived,
		"deleted", result.Deleted,
		"errors", result.Errors,
	)
	return result, nil
}

func (p *ExpirationProcessor) warningPass(ctx context.Context, now time.Time, result *RunResult) error {
	for _, w := range p.policy.WarningWindows {
		lower, upper, _ := p.policy.WindowBounds(w.Kind)
		after := now.Add(lower)
		until := now.Add(upper)

		candidates, err := p.repo.Query(ctx, Filter{
			Status:            StatusPublished,
			ExpiresAfter:      &after,
			ExpiresAtOrBefore: &until,
			MissingWarning:    w.Kind,
			Limit:             p.batchLimit,
		})
		if err != nil {
			return &RepositoryUnavailableError{Pass: "warning", Err: err}
		}

		for _, l := range candidates {
			if !p.policy.IsInWarningWindow(l.ExpiresAt, now, w.Kind) || l.WarningsSent.Has(w.Kind) {
				continue
			}

			// Dispatch before recording: a crash in between repeats the
			// notification on the next run instead of losing it.
			p.notify(ctx, l, NotificationKindFor(w.Kind), Notification{
				ListingID: l.ID,
				Title:     l.Title,
				ExpiresAt: l.ExpiresAt,
			})

			applied, err := p.repo.ConditionalUpdate(ctx, l.ID,
				Expectation{Status: StatusPublished, ExpiresAt: ptr(l.ExpiresAt)},
				Patch{AddWarning: w.Kind},
			)
			if err != nil {
				p.recordFailure(result, &PersistenceError{ListingID: l.ID, Transition: w.Kind.String(), Err: err})
				continue
			}
			if !applied {
				p.logger.Debug("warning already recorded or listing moved on", "listing_id", l.ID, "kind", w.Kind.String())
				continue
			}
			result.countWarning(w.Kind)
		}
	}
	return nil
}

func (p *ExpirationProcessor) expirationPass(ctx context.Context, now time.Time, result *RunResult) error {
	candidates, err := p.repo.Query(ctx, Filter{
		Status:            StatusPublished,
		ExpiresAtOrBefore: &now,
		Limit:             p.batchLimit,
	})
	if err != nil {
		return &RepositoryUnavailableError{Pass: "expiration", Err: err}
	}

	for _, l := range candidates {
		if l.ExpiresAt.After(now) {
			continue
		}
		if l.AutoRenew {
			p.renew(ctx, l, now, result)
			continue
		}
		p.expire(ctx, l, now, result)
	}
	return nil
}

func (p *ExpirationProcessor) renew(ctx context.Context, l Listing, now time.Time, result *RunResult) {
	renewed := p.renewals.Renew(l, now)
	expect, patch := RenewalPatch(l, renewed)

	applied, err := p.repo.ConditionalUpdate(ctx, l.ID, expect, patch)
	if err != nil {
		p.recordFailure(result, &PersistenceError{ListingID: l.ID, Transition: "renew", Err: err})
		return
	}
	if !applied {
		p.logger.Debug("renewal skipped, listing changed concurrently", "listing_id", l.ID)
		return
	}
	result.Renewed++
	p.logger.Info("listing renewed", "listing_id", l.ID, "expires_at", renewed.ExpiresAt, "renewal_count", renewed.RenewalCount)

	p.notify(ctx, renewed, NotifyRenewed, Notification{
		ListingID:    renewed.ID,
		Title:        renewed.Title,
		ExpiresAt:    renewed.ExpiresAt,
		RenewalCount: renewed.RenewalCount,
	})
}

func (p *ExpirationProcessor) expire(ctx context.Context, l Listing, now time.Time, result *RunResult) {
	deadline := p.policy.GraceDeadline(now)

	applied, err := p.repo.ConditionalUpdate(ctx, l.ID,
		Expectation{Status: StatusPublished, ExpiresAt: ptr(l.ExpiresAt)},
		Patch{
			Status:           ptr(StatusExpired),
			ScheduleDeletion: &deadline,
			ClearWarnings:    true,
		},
	)
	if err != nil {
		p.recordFailure(result, &PersistenceError{ListingID: l.ID, Transition: "expire", Err: err})
		return
	}
	if !applied {
		p.logger.Debug("expiration skipped, listing changed concurrently", "listing_id", l.ID)
		return
	}
	result.Expired++

	p.notify(ctx, l, NotifyExpired, Notification{
		ListingID:           l.ID,
		Title:               l.Title,
		ExpiresAt:           l.ExpiresAt,
		DeletionScheduledAt: &deadline,
	})
}

func (p *ExpirationProcessor) gracePass(ctx context.Context, now time.Time, result *RunResult) error {
	candidates, err := p.repo.Query(ctx, Filter{
		Status:                StatusExpired,
		DeletionDueAtOrBefore: &now,
		Limit:                 p.batchLimit,
	})
	if err != nil {
		return &RepositoryUnavailableError{Pass: "grace", Err: err}
	}

	target := p.policy.RetentionTarget()
	for _, l := range candidates {
		if l.DeletionScheduledAt == nil || l.DeletionScheduledAt.After(now) {
			continue
		}
		applied, err := p.repo.ConditionalUpdate(ctx, l.ID,
			Expectation{Status: StatusExpired},
			Patch{Status: ptr(target), ClearDeletion: true},
		)
		if err != nil {
			p.recordFailure(result, &PersistenceError{ListingID: l.ID, Transition: string(target), Err: err})
			continue
		}
		if !applied {
			continue
		}
		if target == StatusDeleted {
			result.Deleted++
		} else {
			result.Archived++
		}
	}
	return nil
}

func (p *ExpirationProcessor) notify(ctx context.Context, l Listing, kind NotificationKind, payload Notification) {
	if p.dispatcher == nil {
		return
	}
	if err := p.dispatcher.Send(ctx, l.OwnerID, kind, payload); err != nil {
		dispatchErr := &TransientDispatchError{ListingID: l.ID, Kind: kind, Err: err}
		p.logger.Warn("notification dispatch failed", "listing_id", l.ID, "kind", string(kind), "error", dispatchErr)
	}
}

func (p *ExpirationProcessor) recordFailure(result *RunResult, err error) {
	result.Errors++
	var pe *PersistenceError
	if errors.As(err, &pe) {
		p.logger.Error("listing transition failed", "listing_id", pe.ListingID, "transition", pe.Transition, "error", pe.Err)
		return
	}
	p.logger.Error("listing transition failed", "error", err)
}
