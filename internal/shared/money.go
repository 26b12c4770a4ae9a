package shared

import (
	"math"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// SupportedCurrencies is the fixed set of currencies documents may carry.
// Multi-currency values are stored and displayed as entered, never converted.
var SupportedCurrencies = []string{"USD", "EUR", "LBP"}

// Round2 rounds a monetary amount to 2 decimal places to avoid float drift.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ValidCurrency reports whether code is a well-formed ISO code from the
// supported set.
func ValidCurrency(code string) bool {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return false
	}
	for _, c := range SupportedCurrencies {
		if unit.String() == c {
			return true
		}
	}
	return false
}

var printer = message.NewPrinter(language.English)

// FormatAmount renders an amount with its currency symbol for statements,
// e.g. "$40.00" or "EUR -1,250.00".
func FormatAmount(amount float64, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return printer.Sprintf("%.2f %s", amount, code)
	}
	return printer.Sprint(currency.Symbol(unit.Amount(amount)))
}
