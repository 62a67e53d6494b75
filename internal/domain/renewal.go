package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// AutoRenewalManager owns the renewal transition and the owner-controlled
// auto-renew flag.
type AutoRenewalManager struct {
	clock  Clock
	policy LifecyclePolicy
	repo   ListingRepository
	logger *slog.Logger
}

// NewAutoRenewalManager creates an AutoRenewalManager.
func NewAutoRenewalManager(clock Clock, policy LifecyclePolicy, repo ListingRepository, logger *slog.Logger) *AutoRenewalManager {
	return &AutoRenewalManager{
		clock:  clock,
		policy: policy,
		repo:   repo,
		logger: logger,
	}
}

// Renew returns the listing as it looks after renewal at now. It is a pure
// transformation; the caller persists it with RenewalPatch.
func (m *AutoRenewalManager) Renew(listing Listing, now time.Time) Listing {
	renewedAt := now
	listing.Status = StatusPublished
	listing.PublishedAt = now
	listing.ExpiresAt = m.policy.CalculateExpirationDate(now)
	listing.RenewalCount++
	listing.LastRenewalAt = &renewedAt
	listing.WarningsSent = 0
	listing.DeletionScheduledAt = nil
	return listing
}

// RenewalPatch is the conditional write that turns before into renewed. It
// is scoped to the status and the expiry of before, so a cycle is renewed at
// most once.
func RenewalPatch(before, renewed Listing) (Expectation, Patch) {
	expect := Expectation{
		Status:    StatusPublished,
		ExpiresAt: ptr(before.ExpiresAt),
	}
	patch := Patch{
		PublishedAt:   ptr(renewed.PublishedAt),
		ExpiresAt:     ptr(renewed.ExpiresAt),
		RenewalCount:  ptr(renewed.RenewalCount),
		LastRenewalAt: renewed.LastRenewalAt,
		ClearWarnings: true,
	}
	return expect, patch
}

// ToggleResult is the outcome of ToggleAutoRenew.
type ToggleResult struct {
	ListingID string `json:"listingId"`
	AutoRenew bool   `json:"autoRenew"`
	// Changed is false when the flag already had the requested value.
	Changed bool `json:"changed"`
}

// ToggleAutoRenew sets the auto-renew flag on behalf of the listing owner.
//
// The flag may be changed while the listing is PUBLISHED, or EXPIRED with
// grace time remaining. Changing it on an expired listing never re-publishes
// it.
func (m *AutoRenewalManager) ToggleAutoRenew(ctx context.Context, listingID, requesterID string, enabled bool) (ToggleResult, error) {
	listingID = strings.TrimSpace(listingID)
	requesterID = strings.TrimSpace(requesterID)
	if listingID == "" {
		return ToggleResult{}, fmt.Errorf("listing id is required: %w", ErrInvalidInput)
	}
	if requesterID == "" {
		return ToggleResult{}, ErrUnauthorized
	}

	listing, err := m.repo.Get(ctx, listingID)
	if err != nil {
		return ToggleResult{}, err
	}
	if listing.OwnerID != requesterID {
		return ToggleResult{}, ErrForbidden
	}

	now := m.clock.Now()
	if listing.Status != StatusPublished && !listing.GraceRemaining(now) {
		return ToggleResult{}, fmt.Errorf("auto-renew cannot be changed on a %s listing: %w", listing.Status, ErrConflict)
	}

	if listing.AutoRenew == enabled {
		return ToggleResult{ListingID: listing.ID, AutoRenew: enabled}, nil
	}

	applied, err := m.repo.ConditionalUpdate(ctx, listing.ID,
		Expectation{Status: listing.Status},
		Patch{AutoRenew: ptr(enabled)},
	)
	if err != nil {
		return ToggleResult{}, &PersistenceError{ListingID: listing.ID, Transition: "toggle auto-renew", Err: err}
	}
	if !applied {
		return ToggleResult{}, fmt.Errorf("listing %s changed status during toggle: %w", listing.ID, ErrConflict)
	}

	m.logger.Info("auto-renew toggled", "listing_id", listing.ID, "owner_id", requesterID, "auto_renew", enabled)
	return ToggleResult{ListingID: listing.ID, AutoRenew: enabled, Changed: true}, nil
}
