package valuation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFCFFromStatement(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]interface{}
		want    float64
		wantOK  bool
	}{
		{
			name: "positive capex convention",
			data: map[string]interface{}{
				"operating_cash_flow":  110000.0,
				"capital_expenditures": 10000.0,
			},
			want:   100000.0,
			wantOK: true,
		},
		{
			name: "negative capex outflow convention",
			data: map[string]interface{}{
				"operating_cash_flow":  110000.0,
				"capital_expenditures": -10000.0,
			},
			want:   100000.0,
			wantOK: true,
		},
		{
			name:   "missing operating cash flow",
			data:   map[string]interface{}{"capital_expenditures": 10000.0},
			wantOK: false,
		},
		{
			name:   "missing capex",
			data:   map[string]interface{}{"operating_cash_flow": 110000.0},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FCFFromStatement(tt.data)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.InDelta(t, tt.want, got.FreeCashFlow, 1e-9)
			}
		})
	}
}

func TestDCFFairValue(t *testing.T) {
	in := DCFInputs{
		FCFPerShare:    8.0,
		GrowthRate:     0.06,
		DiscountRate:   0.10,
		TerminalGrowth: 0.025,
		Years:          10,
	}

	value := DCFFairValue(in)
	assert.Greater(t, value, 0.0)

	// A higher discount rate must lower the estimate.
	expensive := in
	expensive.DiscountRate = 0.15
	assert.Less(t, DCFFairValue(expensive), value)

	// Higher growth must raise it.
	optimistic := in
	optimistic.GrowthRate = 0.10
	assert.Greater(t, DCFFairValue(optimistic), value)
}

func TestDCFFairValue_DegenerateInputs(t *testing.T) {
	assert.Zero(t, DCFFairValue(DCFInputs{FCFPerShare: -1, GrowthRate: 0.05, DiscountRate: 0.1, Years: 10}))
	assert.Zero(t, DCFFairValue(DCFInputs{FCFPerShare: 5, DiscountRate: 0.02, TerminalGrowth: 0.03, Years: 10}))
	assert.Zero(t, DCFFairValue(DCFInputs{FCFPerShare: 5, DiscountRate: 0.1, Years: 0}))
}

func TestPriceToBookFairValue(t *testing.T) {
	assert.InDelta(t, 75.0, PriceToBookFairValue(25.0, 3.0), 1e-9)
	assert.Zero(t, PriceToBookFairValue(0, 3.0))
	assert.Zero(t, PriceToBookFairValue(25.0, 0))
}

func TestDDMFairValue(t *testing.T) {
	// D1 = 2 * 1.04 = 2.08; r - g = 0.04 -> 52.0
	assert.InDelta(t, 52.0, DDMFairValue(2.0, 0.04, 0.08), 1e-9)
	assert.Zero(t, DDMFairValue(0, 0.04, 0.08))
	assert.Zero(t, DDMFairValue(2.0, 0.08, 0.08), "discount rate must exceed growth")
}
