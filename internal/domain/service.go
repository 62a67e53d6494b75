package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LifecycleService is the core domain service. It runs expiration batches,
// serves the stats view, applies owner toggles and mirrors the externally
// owned publish and sold transitions into the store.
type LifecycleService struct {
	clock     Clock
	policy    LifecyclePolicy
	listings  ListingRepository
	runs      RunRepository
	cursors   CursorRepository
	cache     StatsCache
	processor *ExpirationProcessor
	renewals  *AutoRenewalManager
	logger    *slog.Logger
}

// ServiceDeps wires a LifecycleService. Runs, Cursors and Cache are optional.
type ServiceDeps struct {
	Clock      Clock
	Policy     LifecyclePolicy
	Listings   ListingRepository
	Runs       RunRepository
	Cursors    CursorRepository
	Cache      StatsCache
	Dispatcher NotificationDispatcher
	BatchLimit int
	Logger     *slog.Logger
}

// NewLifecycleService validates the policy and creates a LifecycleService.
func NewLifecycleService(deps ServiceDeps) (*LifecycleService, error) {
	if deps.Listings == nil {
		return nil, errors.New("listing repository is required")
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lifecycle policy: %w", err)
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	renewals := NewAutoRenewalManager(deps.Clock, deps.Policy, deps.Listings, deps.Logger)
	processor := NewExpirationProcessor(ProcessorDeps{
		Clock:      deps.Clock,
		Policy:     deps.Policy,
		Repository: deps.Listings,
		Dispatcher: deps.Dispatcher,
		Renewals:   renewals,
		BatchLimit: deps.BatchLimit,
		Logger:     deps.Logger,
	})

	return &LifecycleService{
		clock:     deps.Clock,
		policy:    deps.Policy,
		listings:  deps.Listings,
		runs:      deps.Runs,
		cursors:   deps.Cursors,
		cache:     deps.Cache,
		processor: processor,
		renewals:  renewals,
		logger:    deps.Logger,
	}, nil
}

// Policy returns the active lifecycle policy.
func (s *LifecycleService) Policy() LifecyclePolicy {
	return s.policy
}

// RunExpiration executes one batch run and records its summary. Run
// timestamps come from the service clock. A failure to record the run or drop
// the stats cache is logged, not returned.
func (s *LifecycleService) RunExpiration(ctx context.Context) (RunRecord, error) {
	startedAt := s.clock.Now()
	result, err := s.processor.Run(ctx)
	if err != nil {
		s.logger.Error("expiration run aborted", "error", err)
		return RunRecord{}, err
	}

	run := RunRecord{
		ID:         uuid.NewString(),
		StartedAt:  startedAt,
		FinishedAt: s.clock.Now(),
		Result:     result,
	}

	if s.runs != nil {
		if err := s.runs.RecordRun(ctx, run); err != nil {
			s.logger.Error("failed to record expiration run", "run_id", run.ID, "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("failed to invalidate stats cache", "error", err)
		}
	}
	return run, nil
}

// Stats returns the current per-status counts, policy and last run. A cached
// report is served when one is available.
func (s *LifecycleService) Stats(ctx context.Context) (*StatsReport, error) {
	if s.cache != nil {
		report, ok, err := s.cache.Get(ctx)
		if err != nil {
			s.logger.Warn("stats cache read failed", "error", err)
		} else if ok {
			return report, nil
		}
	}

	report, err := buildStats(ctx, s.clock.Now(), s.policy, s.listings, s.runs)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, report); err != nil {
			s.logger.Warn("stats cache write failed", "error", err)
		}
	}
	return report, nil
}

// ToggleAutoRenew sets the auto-renew flag for the listing owner.
func (s *LifecycleService) ToggleAutoRenew(ctx context.Context, listingID, requesterID string, enabled bool) (ToggleResult, error) {
	return s.renewals.ToggleAutoRenew(ctx, listingID, requesterID, enabled)
}

// PublishedListing carries a publish event from the authoring flow.
type PublishedListing struct {
	ID          string
	OwnerID     string
	Title       string
	PublishedAt time.Time
	AutoRenew   bool
}

// ApplyPublished mirrors the authoring flow's publish: the listing is
// created as PUBLISHED, or moved there from DRAFT or PENDING, with a fresh
// expiry and no warnings. Listings in any other status are left untouched.
// Returns true if a write happened.
func (s *LifecycleService) ApplyPublished(ctx context.Context, in PublishedListing) (bool, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return false, fmt.Errorf("owner id is required: %w", ErrInvalidInput)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.PublishedAt.IsZero() {
		in.PublishedAt = s.clock.Now()
	}
	expiresAt := s.policy.CalculateExpirationDate(in.PublishedAt)

	existing, err := s.listings.Get(ctx, in.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		listing := Listing{
			ID:          in.ID,
			OwnerID:     in.OwnerID,
			Title:       in.Title,
			Status:      StatusPublished,
			PublishedAt: in.PublishedAt,
			ExpiresAt:   expiresAt,
			AutoRenew:   in.AutoRenew,
		}
		if err := s.listings.Create(ctx, listing); err != nil {
			if errors.Is(err, ErrConflict) {
				return false, nil
			}
			return false, fmt.Errorf("create listing %s: %w", in.ID, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("load listing %s: %w", in.ID, err)
	}

	if existing.Status != StatusDraft && existing.Status != StatusPending {
		s.logger.Debug("ignoring publish for listing outside draft/pending", "listing_id", in.ID, "status", existing.Status)
		return false, nil
	}
	return s.listings.ConditionalUpdate(ctx, in.ID,
		Expectation{Status: existing.Status},
		Patch{
			Status:        ptr(StatusPublished),
			PublishedAt:   ptr(in.PublishedAt),
			ExpiresAt:     &expiresAt,
			AutoRenew:     ptr(in.AutoRenew),
			ClearWarnings: true,
			ClearDeletion: true,
		},
	)
}

// ApplySold mirrors the owner marking a listing as sold. SOLD removes the
// listing from every candidate query. Returns true if a write happened.
func (s *LifecycleService) ApplySold(ctx context.Context, listingID string) (bool, error) {
	for _, from := range []Status{StatusPublished, StatusExpired} {
		applied, err := s.listings.ConditionalUpdate(ctx, listingID,
			Expectation{Status: from},
			Patch{Status: ptr(StatusSold), ClearDeletion: true, ClearWarnings: true},
		)
		if err != nil {
			return false, fmt.Errorf("mark listing %s sold: %w", listingID, err)
		}
		if applied {
			return true, nil
		}
	}
	return false, nil
}

// GetCursor retrieves the last-processed cursor for the given stream.
func (s *LifecycleService) GetCursor(ctx context.Context, stream string) (int64, error) {
	if s.cursors == nil {
		return 0, nil
	}
	return s.cursors.GetCursor(ctx, stream)
}

// UpdateCursor persists the cursor for the given stream.
func (s *LifecycleService) UpdateCursor(ctx context.Context, stream string, cursor int64) error {
	if s.cursors == nil {
		return nil
	}
	return s.cursors.UpdateCursor(ctx, stream, cursor)
}

// StartSchedule runs expiration batches in-process. It runs immediately on
// start and then repeats at the given interval. It blocks until ctx is
// cancelled.
func (s *LifecycleService) StartSchedule(ctx context.Context, interval time.Duration) {
	s.runScheduled(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScheduled(ctx)
		}
	}
}

func (s *LifecycleService) runScheduled(ctx context.Context) {
	run, err := s.RunExpiration(ctx)
	if err != nil {
		s.logger.Error("scheduled expiration run failed", "error", err)
	} else if run.Result.Transitions() > 0 || run.Result.Errors > 0 {
		s.logger.Info("scheduled expiration run complete", "run_id", run.ID, "transitions", run.Result.Transitions(), "errors", run.Result.Errors)
	}
}
