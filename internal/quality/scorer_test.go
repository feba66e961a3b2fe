package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yourorg/fundamentals-ea/internal/model"
)

func TestScore_Completeness(t *testing.T) {
	tests := []struct {
		name string
		data map[string]interface{}
		want float64
	}{
		{
			name: "all populated",
			data: map[string]interface{}{
				model.FieldCurrentPrice: 150.0,
				model.FieldMarketCap:    2.5e12,
				model.FieldCurrency:     "USD",
			},
			want: 1.0,
		},
		{
			name: "half populated",
			data: map[string]interface{}{
				model.FieldCurrentPrice: 150.0,
				model.FieldMarketCap:    0.0,
				model.FieldCurrency:     "",
				model.FieldEPS:          6.0,
			},
			want: 0.5,
		},
		{
			name: "nested maps are traversed",
			data: map[string]interface{}{
				"statements": map[string]interface{}{
					model.FieldOperatingCashFlow:   110.0,
					model.FieldCapitalExpenditures: nil,
				},
			},
			want: 0.5,
		},
		{
			name: "empty data",
			data: map[string]interface{}{},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.data)
			assert.InDelta(t, tt.want, got.Completeness, 1e-9)
		})
	}
}

func TestScore_TimelinessDefaultsWithoutTimestamp(t *testing.T) {
	got := Score(map[string]interface{}{model.FieldCurrentPrice: 150.0})
	assert.InDelta(t, timelinessDefault, got.Timeliness, 1e-9)
}

func TestScore_TimelinessDecay(t *testing.T) {
	now := time.Now()

	fresh := scoreAt(map[string]interface{}{
		model.FieldLastUpdated: now.Format(time.RFC3339),
	}, now)
	assert.InDelta(t, 1.0, fresh.Timeliness, 0.01)

	// 15 days old: halfway through the 30-day horizon.
	aged := scoreAt(map[string]interface{}{
		model.FieldLastUpdated: now.Add(-15 * 24 * time.Hour).Format(time.RFC3339),
	}, now)
	assert.InDelta(t, 0.5, aged.Timeliness, 0.01)

	ancient := scoreAt(map[string]interface{}{
		model.FieldLastUpdated: now.Add(-90 * 24 * time.Hour).Format(time.RFC3339),
	}, now)
	assert.InDelta(t, 0, ancient.Timeliness, 1e-9)
}

func TestScore_TimelinessUnixSeconds(t *testing.T) {
	now := time.Now()
	got := scoreAt(map[string]interface{}{
		"timestamp": float64(now.Unix()),
	}, now)
	assert.InDelta(t, 1.0, got.Timeliness, 0.01)
}

func TestScore_FixedHeuristicComponents(t *testing.T) {
	got := Score(map[string]interface{}{model.FieldCurrentPrice: 1.0})
	assert.Equal(t, defaultAccuracy, got.Accuracy)
	assert.Equal(t, defaultConsistency, got.Consistency)
}
