// Package valuation holds the pure financial formulas applied to normalized
// data: free-cash-flow derivation and fair-value models (DCF, price-to-book,
// dividend discount).
package valuation

import (
	"math"
)

// StatementFCF is the free-cash-flow breakdown derived from one cash-flow
// statement.
type StatementFCF struct {
	FreeCashFlow      float64
	OperatingCashFlow float64
	CapEx             float64
}

// FCFFromStatement derives free cash flow from a normalized cash-flow
// statement: operating cash flow minus capital expenditures. Statements that
// report capex as a negative outflow are handled by taking its magnitude.
// Returns false when the statement lacks the required fields.
func FCFFromStatement(data map[string]interface{}) (StatementFCF, bool) {
	ocf, ok := toFloat(data["operating_cash_flow"])
	if !ok {
		return StatementFCF{}, false
	}
	capex, ok := toFloat(data["capital_expenditures"])
	if !ok {
		return StatementFCF{}, false
	}
	capex = math.Abs(capex)

	return StatementFCF{
		FreeCashFlow:      ocf - capex,
		OperatingCashFlow: ocf,
		CapEx:             capex,
	}, true
}

// DCFInputs parameterizes a discounted-cash-flow fair value estimate.
type DCFInputs struct {
	// Most recent free cash flow per share
	FCFPerShare float64

	// Expected annual FCF growth during the projection window
	GrowthRate float64

	// Required rate of return
	DiscountRate float64

	// Perpetual growth applied after the projection window
	TerminalGrowth float64

	// Projection window in years
	Years int
}

// DCFFairValue returns the per-share present value of projected free cash
// flows plus a Gordon terminal value. Returns 0 when the inputs cannot
// produce a meaningful estimate (non-positive FCF, discount <= terminal
// growth).
func DCFFairValue(in DCFInputs) float64 {
	if in.FCFPerShare <= 0 || in.Years <= 0 || in.DiscountRate <= in.TerminalGrowth {
		return 0
	}

	var presentValue float64
	fcf := in.FCFPerShare
	for year := 1; year <= in.Years; year++ {
		fcf *= 1 + in.GrowthRate
		presentValue += fcf / math.Pow(1+in.DiscountRate, float64(year))
	}

	terminal := fcf * (1 + in.TerminalGrowth) / (in.DiscountRate - in.TerminalGrowth)
	presentValue += terminal / math.Pow(1+in.DiscountRate, float64(in.Years))

	return presentValue
}

// PriceToBookFairValue returns book value per share scaled by a target
// price-to-book multiple.
func PriceToBookFairValue(bookValuePerShare, targetMultiple float64) float64 {
	if bookValuePerShare <= 0 || targetMultiple <= 0 {
		return 0
	}
	return bookValuePerShare * targetMultiple
}

// DDMFairValue returns the Gordon growth dividend-discount fair value:
// D1 / (r - g). Returns 0 when the model does not apply (no dividend, or
// discount rate not above growth).
func DDMFairValue(dividendPerShare, growthRate, discountRate float64) float64 {
	if dividendPerShare <= 0 || discountRate <= growthRate {
		return 0
	}
	return dividendPerShare * (1 + growthRate) / (discountRate - growthRate)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
