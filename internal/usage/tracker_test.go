package usage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/fundamentals-ea/internal/model"
)

func activeConfig(source model.SourceType, monthlyLimit int) model.ProviderConfig {
	return model.ProviderConfig{
		Source:  source,
		Enabled: true,
		Credentials: &model.Credentials{
			APIKey:       "key",
			BaseURL:      "https://example.com",
			MonthlyLimit: monthlyLimit,
			CostPerCall:  0.01,
			IsActive:     true,
		},
	}
}

func TestRecordAttempt_Counters(t *testing.T) {
	tr := NewTracker("")

	tr.RecordAttempt(model.SourceAlphaVantage, model.Response{
		Success:      true,
		CostIncurred: 0.02,
		ResponseTime: 100 * time.Millisecond,
	})
	tr.RecordAttempt(model.SourceAlphaVantage, model.Response{
		Success:      false,
		CostIncurred: 0.01,
		ResponseTime: 300 * time.Millisecond,
	})

	s := tr.Snapshot()[model.SourceAlphaVantage]
	assert.Equal(t, 2, s.TotalCalls)
	assert.Equal(t, 1, s.SuccessfulCalls)
	assert.Equal(t, 1, s.FailedCalls)
	assert.InDelta(t, 0.03, s.TotalCost, 1e-9)
	assert.Equal(t, 2, s.MonthlyCalls)
	assert.InDelta(t, 0.2, s.AverageResponseTime, 1e-9)
	assert.False(t, s.LastUsed.IsZero())
}

func TestRecordAttempt_MonthlyRollover(t *testing.T) {
	tr := NewTracker("")

	// First attempt lands in a previous month.
	lastMonth := time.Date(2026, time.July, 20, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return lastMonth }
	for i := 0; i < 5; i++ {
		tr.RecordAttempt(model.SourceAlphaVantage, model.Response{Success: true, CostIncurred: 0.01})
	}
	assert.Equal(t, 5, tr.Snapshot()[model.SourceAlphaVantage].MonthlyCalls)

	// The month changes: counters reset to the single new call.
	thisMonth := time.Date(2026, time.August, 2, 9, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return thisMonth }
	tr.RecordAttempt(model.SourceAlphaVantage, model.Response{Success: true, CostIncurred: 0.01})

	s := tr.Snapshot()[model.SourceAlphaVantage]
	assert.Equal(t, 1, s.MonthlyCalls)
	assert.InDelta(t, 0.01, s.MonthlyCost, 1e-9)
	assert.Equal(t, 6, s.TotalCalls)
	assert.InDelta(t, 0.06, s.TotalCost, 1e-9)
}

func TestCanUse_QuotaGate(t *testing.T) {
	tr := NewTracker("")
	cfg := activeConfig(model.SourceAlphaVantage, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, tr.CanUse(cfg))
		tr.RecordAttempt(cfg.Source, model.Response{Success: true})
	}
	assert.False(t, tr.CanUse(cfg), "provider at its monthly limit must be skipped")
}

func TestCanUse_QuotaResetsNextMonth(t *testing.T) {
	tr := NewTracker("")
	cfg := activeConfig(model.SourceAlphaVantage, 2)

	tr.now = func() time.Time { return time.Date(2026, time.July, 30, 0, 0, 0, 0, time.UTC) }
	tr.RecordAttempt(cfg.Source, model.Response{Success: true})
	tr.RecordAttempt(cfg.Source, model.Response{Success: true})
	assert.False(t, tr.CanUse(cfg))

	tr.now = func() time.Time { return time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC) }
	assert.True(t, tr.CanUse(cfg), "stale monthly counter must not block a new month")
}

func TestCanUse_CredentialChecks(t *testing.T) {
	tr := NewTracker("")

	noCreds := model.ProviderConfig{Source: model.SourceFMP, Enabled: true}
	assert.False(t, tr.CanUse(noCreds))

	inactive := activeConfig(model.SourceFMP, 100)
	inactive.Credentials.IsActive = false
	assert.False(t, tr.CanUse(inactive))

	spreadsheet := model.ProviderConfig{Source: model.SourceSpreadsheet, Enabled: true}
	assert.True(t, tr.CanUse(spreadsheet), "spreadsheet source is exempt from credential checks")
}

func TestTracker_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")

	tr := NewTracker(path)
	tr.RecordAttempt(model.SourceAlphaVantage, model.Response{Success: true, CostIncurred: 0.05})
	tr.RecordAttempt(model.SourceYahooChart, model.Response{Success: false})
	require.NoError(t, tr.Flush())
	require.NoError(t, tr.Flush(), "flush must be safe to call multiple times")

	reloaded := NewTracker(path)
	s := reloaded.Snapshot()
	assert.Equal(t, 1, s[model.SourceAlphaVantage].TotalCalls)
	assert.InDelta(t, 0.05, s[model.SourceAlphaVantage].TotalCost, 1e-9)
	assert.Equal(t, 1, s[model.SourceYahooChart].FailedCalls)
}
