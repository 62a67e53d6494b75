package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

func TestPolicy_CalculateExpirationDate(t *testing.T) {
	p := domain.DefaultPolicy()
	assert.Equal(t, at(60), p.CalculateExpirationDate(at(0)))
	assert.Equal(t, at(67), p.GraceDeadline(at(60)))
}

func TestPolicy_IsInWarningWindow(t *testing.T) {
	p := domain.DefaultPolicy()
	expiresAt := at(60)

	tests := []struct {
		name string
		now  time.Time
		kind domain.WarningKind
		want bool
	}{
		{"8 days out is before any window", at(52), domain.Warn7D, false},
		{"exactly 7 days out opens 7d window", at(53), domain.Warn7D, true},
		{"3 days out still 7d window", at(57), domain.Warn7D, true},
		{"exactly 24h out belongs to 24h window", at(59), domain.Warn7D, false},
		{"exactly 24h out opens 24h window", at(59), domain.Warn24H, true},
		{"one hour out", at(60).Add(-time.Hour), domain.Warn24H, true},
		{"at expiry no window", at(60), domain.Warn24H, false},
		{"past expiry no window", at(61), domain.Warn7D, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsInWarningWindow(expiresAt, tt.now, tt.kind))
		})
	}
}

func TestPolicy_DueWarning(t *testing.T) {
	p := domain.DefaultPolicy()

	kind, ok := p.DueWarning(at(60), at(55))
	require.True(t, ok)
	assert.Equal(t, domain.Warn7D, kind)

	kind, ok = p.DueWarning(at(60), at(59).Add(2*time.Hour))
	require.True(t, ok)
	assert.Equal(t, domain.Warn24H, kind)

	_, ok = p.DueWarning(at(60), at(10))
	assert.False(t, ok)
}

func TestPolicy_Validate(t *testing.T) {
	t.Run("sorts windows longest first", func(t *testing.T) {
		p := domain.DefaultPolicy()
		p.WarningWindows[0], p.WarningWindows[1] = p.WarningWindows[1], p.WarningWindows[0]
		require.NoError(t, p.Validate())
		assert.Equal(t, domain.Warn7D, p.WarningWindows[0].Kind)
	})

	t.Run("rejects zero lifetime", func(t *testing.T) {
		p := domain.DefaultPolicy()
		p.LifetimeDays = 0
		assert.Error(t, p.Validate())
	})

	t.Run("rejects window longer than lifetime", func(t *testing.T) {
		p := domain.DefaultPolicy()
		p.LifetimeDays = 5
		assert.Error(t, p.Validate())
	})

	t.Run("rejects unknown retention mode", func(t *testing.T) {
		p := domain.DefaultPolicy()
		p.Retention = "shred"
		assert.Error(t, p.Validate())
	})
}

func TestPolicy_RetentionTarget(t *testing.T) {
	p := domain.DefaultPolicy()
	assert.Equal(t, domain.StatusArchived, p.RetentionTarget())
	p.Retention = domain.RetentionDelete
	assert.Equal(t, domain.StatusDeleted, p.RetentionTarget())
}

func TestPolicy_Summary(t *testing.T) {
	s := domain.DefaultPolicy().Summary()
	assert.Equal(t, 60, s.LifetimeDays)
	assert.Equal(t, 7, s.GracePeriodDays)
	assert.Equal(t, []string{"7d", "24h"}, s.WarningWindows)
	assert.Equal(t, "archive", s.RetentionMode)
}

func TestPolicy_SummaryLeadTimes(t *testing.T) {
	p := domain.DefaultPolicy()
	p.WarningWindows = []domain.WarningWindow{
		{Kind: domain.Warn7D, LeadTime: 14 * day},
		{Kind: domain.Warn24H, LeadTime: 48 * time.Hour},
	}
	assert.Equal(t, []string{"14d", "2d"}, p.Summary().WarningWindows)

	p.WarningWindows = []domain.WarningWindow{
		{Kind: domain.Warn7D, LeadTime: 36 * time.Hour},
		{Kind: domain.Warn24H, LeadTime: 90 * time.Minute},
	}
	assert.Equal(t, []string{"36h", "1h30m0s"}, p.Summary().WarningWindows)
}

func TestWarningSet(t *testing.T) {
	var w domain.WarningSet
	assert.False(t, w.Has(domain.Warn7D))
	w = w.With(domain.Warn7D)
	assert.True(t, w.Has(domain.Warn7D))
	assert.False(t, w.Has(domain.Warn24H))
	assert.Equal(t, []domain.WarningKind{domain.Warn7D}, w.Kinds())
	assert.Equal(t, "WARN_24H", domain.Warn24H.String())
}
