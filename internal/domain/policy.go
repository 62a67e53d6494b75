package domain

import (
	"fmt"
	"sort"
	"time"
)

const day = 24 * time.Hour

// RetentionMode selects what an EXPIRED listing becomes once its grace period
// has elapsed.
type RetentionMode string

const (
	RetentionArchive RetentionMode = "archive"
	RetentionDelete  RetentionMode = "delete"
)

// WarningWindow is a lead time before expiry at which a warning of Kind fires.
type WarningWindow struct {
	Kind     WarningKind
	LeadTime time.Duration
}

// LifecyclePolicy holds the lifecycle constants and the pure calculations
// derived from them.
type LifecyclePolicy struct {
	LifetimeDays    int
	GracePeriodDays int
	// WarningWindows is kept sorted by LeadTime, longest first.
	WarningWindows []WarningWindow
	Retention      RetentionMode
}

// DefaultPolicy returns the standard classifieds policy: 60 day lifetime,
// warnings at 7 days and 24 hours, 7 day grace, archive on purge.
func DefaultPolicy() LifecyclePolicy {
	return LifecyclePolicy{
		LifetimeDays:    60,
		GracePeriodDays: 7,
		WarningWindows: []WarningWindow{
			{Kind: Warn7D, LeadTime: 7 * day},
			{Kind: Warn24H, LeadTime: 24 * time.Hour},
		},
		Retention: RetentionArchive,
	}
}

// Validate checks the policy for values the engine cannot work with and
// normalises the warning window order.
func (p *LifecyclePolicy) Validate() error {
	if p.LifetimeDays <= 0 {
		return fmt.Errorf("lifetime days must be positive, got %d", p.LifetimeDays)
	}
	if p.GracePeriodDays < 0 {
		return fmt.Errorf("grace period days must not be negative, got %d", p.GracePeriodDays)
	}
	switch p.Retention {
	case RetentionArchive, RetentionDelete:
	default:
		return fmt.Errorf("unknown retention mode %q", p.Retention)
	}
	sort.SliceStable(p.WarningWindows, func(i, j int) bool {
		return p.WarningWindows[i].LeadTime > p.WarningWindows[j].LeadTime
	})
	seen := make(map[WarningKind]struct{}, len(p.WarningWindows))
	for _, w := range p.WarningWindows {
		if w.LeadTime <= 0 {
			return fmt.Errorf("warning %s: lead time must be positive", w.Kind)
		}
		if w.LeadTime >= p.Lifetime() {
			return fmt.Errorf("warning %s: lead time %s exceeds lifetime", w.Kind, w.LeadTime)
		}
		if _, dup := seen[w.Kind]; dup {
			return fmt.Errorf("warning %s configured twice", w.Kind)
		}
		seen[w.Kind] = struct{}{}
	}
	return nil
}

// Lifetime is the validity window of a publish cycle.
func (p LifecyclePolicy) Lifetime() time.Duration {
	return time.Duration(p.LifetimeDays) * day
}

// GracePeriod is the delay between expiry and purge eligibility.
func (p LifecyclePolicy) GracePeriod() time.Duration {
	return time.Duration(p.GracePeriodDays) * day
}

// CalculateExpirationDate returns the expiry of a cycle starting at from.
func (p LifecyclePolicy) CalculateExpirationDate(from time.Time) time.Time {
	return from.Add(p.Lifetime())
}

// GraceDeadline returns when a listing that expired at expiredAt becomes
// eligible for archival or deletion.
func (p LifecyclePolicy) GraceDeadline(expiredAt time.Time) time.Time {
	return expiredAt.Add(p.GracePeriod())
}

// RetentionTarget is the status a listing takes when its grace period ends.
func (p LifecyclePolicy) RetentionTarget() Status {
	if p.Retention == RetentionDelete {
		return StatusDeleted
	}
	return StatusArchived
}

// WindowBounds returns the half-open range of remaining time (lower, upper]
// during which the warning of the given window is due. The lower bound is
// the next shorter window's lead time, or zero for the shortest.
func (p LifecyclePolicy) WindowBounds(kind WarningKind) (lower, upper time.Duration, ok bool) {
	for i, w := range p.WarningWindows {
		if w.Kind != kind {
			continue
		}
		if i+1 < len(p.WarningWindows) {
			lower = p.WarningWindows[i+1].LeadTime
		}
		return lower, w.LeadTime, true
	}
	return 0, 0, false
}

// IsInWarningWindow reports whether expiresAt - now lies inside the given
// window and not yet inside the next shorter one.
func (p LifecyclePolicy) IsInWarningWindow(expiresAt, now time.Time, kind WarningKind) bool {
	lower, upper, ok := p.WindowBounds(kind)
	if !ok {
		return false
	}
	remaining := expiresAt.Sub(now)
	return remaining > lower && remaining <= upper
}

// DueWarning returns the warning kind whose window the remaining time falls
// into, if any.
func (p LifecyclePolicy) DueWarning(expiresAt, now time.Time) (WarningKind, bool) {
	for _, w := range p.WarningWindows {
		if p.IsInWarningWindow(expiresAt, now, w.Kind) {
			return w.Kind, true
		}
	}
	return 0, false
}
