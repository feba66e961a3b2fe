// Package quality scores normalized responses for completeness and timeliness.
package quality

import (
	"time"

	"github.com/yourorg/fundamentals-ea/internal/model"
)

// Fixed component defaults. Accuracy and consistency are not computed from
// cross-source comparison; these constants are a documented simplification.
const (
	defaultAccuracy    = 0.8
	defaultConsistency = 0.7
)

// Timeliness decays linearly with data age, reaching 0 at 30 days. When no
// timestamp-like field is found the component defaults to 0.5.
const (
	timelinessHorizonHours = 30 * 24
	timelinessDefault      = 0.5
)

// maxDepth bounds the completeness walk over nested maps and slices.
const maxDepth = 4

// timestampAliases are the field names tried, in order, when looking for a
// timestamp to judge timeliness.
var timestampAliases = []string{
	model.FieldLastUpdated,
	"timestamp",
	"updated_at",
	"as_of",
	"latest_trading_day",
	"regular_market_time",
	"fiscal_date_ending",
	"date",
}

// Score computes quality metrics for a normalized data mapping. It is a pure
// function of the data and the current clock.
func Score(data map[string]interface{}) model.QualityMetrics {
	return scoreAt(data, time.Now())
}

func scoreAt(data map[string]interface{}, now time.Time) model.QualityMetrics {
	return model.QualityMetrics{
		Completeness: completeness(data),
		Accuracy:     defaultAccuracy,
		Timeliness:   timeliness(data, now),
		Consistency:  defaultConsistency,
	}
}

// completeness returns the fraction of traversed fields holding a meaningful
// value (non-null, non-empty, non-zero).
func completeness(data map[string]interface{}) float64 {
	total, populated := countFields(data, 0)
	if total == 0 {
		return 0
	}
	return float64(populated) / float64(total)
}

func countFields(v interface{}, depth int) (total, populated int) {
	if depth > maxDepth {
		return 0, 0
	}

	switch val := v.(type) {
	case map[string]interface{}:
		for _, child := range val {
			t, p := countFields(child, depth+1)
			total += t
			populated += p
		}
	case []interface{}:
		for _, child := range val {
			t, p := countFields(child, depth+1)
			total += t
			populated += p
		}
	default:
		total = 1
		if isPopulated(val) {
			populated = 1
		}
	}
	return total, populated
}

func isPopulated(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case float64:
		return val != 0
	case float32:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case bool:
		return true
	default:
		return true
	}
}

// timeliness maps the age of the newest recognizable timestamp to [0, 1].
func timeliness(data map[string]interface{}, now time.Time) float64 {
	ts, ok := findTimestamp(data)
	if !ok {
		return timelinessDefault
	}

	ageHours := now.Sub(ts).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	score := 1 - ageHours/timelinessHorizonHours
	if score < 0 {
		return 0
	}
	return score
}

func findTimestamp(data map[string]interface{}) (time.Time, bool) {
	for _, alias := range timestampAliases {
		raw, ok := data[alias]
		if !ok {
			continue
		}
		if ts, ok := parseTimestamp(raw); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

func parseTimestamp(raw interface{}) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts, true
			}
		}
	case float64:
		if v > 0 {
			return time.Unix(int64(v), 0), true
		}
	case int64:
		if v > 0 {
			return time.Unix(v, 0), true
		}
	}
	return time.Time{}, false
}
