package provider

import (
	"strconv"
	"strings"

	"github.com/yourorg/fundamentals-ea/internal/model"
	"github.com/yourorg/fundamentals-ea/internal/valuation"
)

// aliasTable maps a normalized field name to the provider-specific raw keys
// tried in priority order. Explicit tables keep the mapping auditable and
// testable without network access.
type aliasTable map[string][]string

// stringFields are normalized fields kept as strings; everything else is
// coerced to float64.
var stringFields = map[string]struct{}{
	model.FieldCurrency:    {},
	model.FieldCompanyName: {},
	model.FieldLastUpdated: {},
}

var alphaVantageAliases = aliasTable{
	model.FieldCurrentPrice:        {"05. price"},
	model.FieldMarketCap:           {"MarketCapitalization"},
	model.FieldSharesOutstanding:   {"SharesOutstanding"},
	model.FieldCurrency:            {"Currency"},
	model.FieldCompanyName:         {"Name"},
	model.FieldPERatio:             {"PERatio"},
	model.FieldEPS:                 {"EPS"},
	model.FieldBookValue:           {"BookValue"},
	model.FieldDividendPerShare:    {"DividendPerShare"},
	model.FieldOperatingCashFlow:   {"operatingCashflow"},
	model.FieldCapitalExpenditures: {"capitalExpenditures"},
	model.FieldLastUpdated:         {"07. latest trading day", "LatestQuarter", "fiscalDateEnding"},
}

var yahooChartAliases = aliasTable{
	model.FieldCurrentPrice: {"regularMarketPrice"},
	model.FieldCurrency:     {"currency"},
	model.FieldCompanyName:  {"longName", "symbol"},
	model.FieldLastUpdated:  {"regularMarketTime"},
}

var fmpAliases = aliasTable{
	model.FieldCurrentPrice:        {"price"},
	model.FieldMarketCap:           {"mktCap", "marketCap"},
	model.FieldSharesOutstanding:   {"sharesOutstanding"},
	model.FieldCurrency:            {"currency"},
	model.FieldCompanyName:         {"companyName"},
	model.FieldEPS:                 {"eps"},
	model.FieldDividendPerShare:    {"lastDiv"},
	model.FieldOperatingCashFlow:   {"operatingCashFlow"},
	model.FieldCapitalExpenditures: {"capitalExpenditure"},
	model.FieldFreeCashFlow:        {"freeCashFlow"},
	model.FieldLastUpdated:         {"date"},
}

// Spreadsheet files already carry near-normalized keys; the table still maps
// a few legacy statement labels seen in exported sheets.
var spreadsheetAliases = aliasTable{
	model.FieldCurrentPrice:        {model.FieldCurrentPrice, "price", "close"},
	model.FieldMarketCap:           {model.FieldMarketCap},
	model.FieldSharesOutstanding:   {model.FieldSharesOutstanding, "shares"},
	model.FieldCurrency:            {model.FieldCurrency},
	model.FieldCompanyName:         {model.FieldCompanyName, "name"},
	model.FieldPERatio:             {model.FieldPERatio},
	model.FieldEPS:                 {model.FieldEPS},
	model.FieldBookValue:           {model.FieldBookValue, "book_value_per_share"},
	model.FieldDividendPerShare:    {model.FieldDividendPerShare, "dividend"},
	model.FieldOperatingCashFlow:   {model.FieldOperatingCashFlow, "cash_from_operations"},
	model.FieldCapitalExpenditures: {model.FieldCapitalExpenditures, "capex"},
	model.FieldFreeCashFlow:        {model.FieldFreeCashFlow},
	model.FieldLastUpdated:         {model.FieldLastUpdated, "as_of"},
}

// normalizeFields projects raw provider fields onto the common schema.
// Numeric values arriving as strings are parsed; unparseable or absent
// values are omitted rather than written as zero.
func normalizeFields(raw map[string]interface{}, table aliasTable) map[string]interface{} {
	out := make(map[string]interface{})
	for field, aliases := range table {
		for _, alias := range aliases {
			v, ok := raw[alias]
			if !ok || v == nil {
				continue
			}
			if _, isString := stringFields[field]; isString {
				out[field] = stringValue(v)
			} else if f, ok := numericValue(v); ok {
				out[field] = f
			} else {
				continue
			}
			break
		}
	}
	return out
}

// deriveFCF fills the free-cash-flow fields when the normalized data carries
// a cash-flow statement and the provider did not already supply them.
func deriveFCF(data map[string]interface{}) {
	if _, present := data[model.FieldFreeCashFlow]; present {
		return
	}
	fcf, ok := valuation.FCFFromStatement(data)
	if !ok {
		return
	}
	data[model.FieldFreeCashFlow] = fcf.FreeCashFlow
	data[model.FieldOperatingCashFlow] = fcf.OperatingCashFlow
	data[model.FieldCapitalExpenditures] = fcf.CapEx
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		trimmed := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if trimmed == "" || trimmed == "None" || trimmed == "-" {
			return 0, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// requestedPriceMissing reports whether the request asked for price data the
// normalized result failed to deliver. Partial results without the required
// price field are treated as failures so invalid data is never cached.
func requestedPriceMissing(req model.DataRequest, data map[string]interface{}) bool {
	for _, dt := range req.DataTypes {
		if dt == model.DataTypePrice {
			price, ok := data[model.FieldCurrentPrice].(float64)
			return !ok || price <= 0
		}
	}
	return false
}
