package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusExpired   Status = "EXPIRED"
	StatusSold      Status = "SOLD"
	StatusArchived  Status = "ARCHIVED"
	StatusDeleted   Status = "DELETED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusDraft,
	StatusPending,
	StatusPublished,
	StatusExpired,
	StatusSold,
	StatusArchived,
	StatusDeleted,
}

// ParseStatus converts a stored status string into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == strings.ToUpper(strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown listing status %q", s)
}

// WarningKind identifies a one-time advance expiry warning. Kinds are bit
// flags so a WarningSet can be stored as a single integer column.
type WarningKind int64

const (
	Warn7D  WarningKind = 1 << 0
	Warn24H WarningKind = 1 << 1
)

func (k WarningKind) String() string {
	switch k {
	case Warn7D:
		return "WARN_7D"
	case Warn24H:
		return "WARN_24H"
	default:
		return fmt.Sprintf("WARN_%d", int64(k))
	}
}

// WarningSet is the set of warning kinds already dispatched in the current
// publish cycle.
type WarningSet int64

// Has reports whether k is in the set.
func (w WarningSet) Has(k WarningKind) bool {
	return int64(w)&int64(k) != 0
}

// With returns the set with k added.
func (w WarningSet) With(k WarningKind) WarningSet {
	return WarningSet(int64(w) | int64(k))
}

// Kinds returns the members of the set in ascending bit order.
func (w WarningSet) Kinds() []WarningKind {
	var kinds []WarningKind
	for _, k := range []WarningKind{Warn7D, Warn24H} {
		if w.Has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Listing is a time-bound classified ad governed by the lifecycle engine.
type Listing struct {
	ID      string
	OwnerID string
	Title   string
	Status  Status

	PublishedAt time.Time
	// ExpiresAt is meaningful only while Status is PUBLISHED.
	ExpiresAt time.Time

	AutoRenew     bool
	RenewalCount  int
	LastRenewalAt *time.Time

	// DeletionScheduledAt is non-nil if and only if Status is EXPIRED.
	DeletionScheduledAt *time.Time

	WarningsSent WarningSet
}

// GraceRemaining reports whether an EXPIRED listing has not yet reached its
// deletion deadline at now.
func (l Listing) GraceRemaining(now time.Time) bool {
	return l.Status == StatusExpired && l.DeletionScheduledAt != nil && l.DeletionScheduledAt.After(now)
}

// Expectation is the pre-transition state a conditional write is scoped to.
// ExpiresAt, when set, must also match the stored value.
type Expectation struct {
	Status    Status
	ExpiresAt *time.Time
}

// Patch describes the fields a conditional write changes. Nil fields are left
// untouched.
type Patch struct {
	Status        *Status
	PublishedAt   *time.Time
	ExpiresAt     *time.Time
	AutoRenew     *bool
	RenewalCount  *int
	LastRenewalAt *time.Time

	// ScheduleDeletion sets DeletionScheduledAt; ClearDeletion sets it to null.
	ScheduleDeletion *time.Time
	ClearDeletion    bool

	// ClearWarnings empties WarningsSent. AddWarning adds a kind and makes the
	// write additionally conditional on the kind being absent.
	ClearWarnings bool
	AddWarning    WarningKind
}

// Filter selects candidate listings. Zero-valued bounds are ignored; all
// bounds are inclusive except ExpiresAfter.
type Filter struct {
	Status Status

	ExpiresAfter      *time.Time
	ExpiresAtOrBefore *time.Time

	DeletionDueAtOrBefore *time.Time

	// MissingWarning keeps only listings whose WarningsSent lacks this kind.
	MissingWarning WarningKind

	// Limit caps the result; 0 means no limit.
	Limit int
}

// Matches evaluates the filter against a single listing. Stores that cannot
// push a filter down to a query engine use it directly.
func (f Filter) Matches(l Listing) bool {
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.ExpiresAfter != nil && !l.ExpiresAt.After(*f.ExpiresAfter) {
		return false
	}
	if f.ExpiresAtOrBefore != nil && l.ExpiresAt.After(*f.ExpiresAtOrBefore) {
		return false
	}
	if f.DeletionDueAtOrBefore != nil {
		if l.DeletionScheduledAt == nil || l.DeletionScheduledAt.After(*f.DeletionDueAtOrBefore) {
			return false
		}
	}
	if f.MissingWarning != 0 && l.WarningsSent.Has(f.MissingWarning) {
		return false
	}
	return true
}

// Satisfies reports whether the listing is in the expected pre-state.
func (e Expectation) Satisfies(l Listing) bool {
	if l.Status != e.Status {
		return false
	}
	if e.ExpiresAt != nil && !l.ExpiresAt.Equal(*e.ExpiresAt) {
		return false
	}
	return true
}

// Apply returns a copy of l with the patch applied. It does not check any
// precondition.
func (p Patch) Apply(l Listing) Listing {
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.PublishedAt != nil {
		l.PublishedAt = *p.PublishedAt
	}
	if p.ExpiresAt != nil {
		l.ExpiresAt = *p.ExpiresAt
	}
	if p.AutoRenew != nil {
		l.AutoRenew = *p.AutoRenew
	}
	if p.RenewalCount != nil {
		l.RenewalCount = *p.RenewalCount
	}
	if p.LastRenewalAt != nil {
		t := *p.LastRenewalAt
		l.LastRenewalAt = &t
	}
	if p.ClearDeletion {
		l.DeletionScheduledAt = nil
	}
	if p.ScheduleDeletion != nil {
		t := *p.ScheduleDeletion
		l.DeletionScheduledAt = &t
	}
	if p.ClearWarnings {
		l.WarningsSent = 0
	}
	if p.AddWarning != 0 {
		l.WarningsSent = l.WarningsSent.With(p.AddWarning)
	}
	return l
}

func ptr[T any](v T) *T { return &v }
