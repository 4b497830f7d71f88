package domain

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const defaultCurrencyScale = 2

// CurrencyScale returns the number of minor-unit digits used by the ISO currency code.
func CurrencyScale(code string) int {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return defaultCurrencyScale
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// ToMinorUnits converts a major-unit amount (e.g. 12.5 EUR) into minor units (1250).
func ToMinorUnits(amount float64, code string) int64 {
	return int64(math.Round(amount * math.Pow10(CurrencyScale(code))))
}

// FromMinorUnits converts minor units back into a major-unit amount.
func FromMinorUnits(amount int64, code string) float64 {
	return float64(amount) / math.Pow10(CurrencyScale(code))
}

// FormatMoney renders amount with the currency symbol for display, e.g. "€ 12.50".
func FormatMoney(amount int64, code string, tag language.Tag) string {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(normalized)
	if err != nil {
		return fmt.Sprintf("%.2f %s", FromMinorUnits(amount, normalized), normalized)
	}
	printer := message.NewPrinter(tag)
	return printer.Sprint(currency.Symbol(unit.Amount(FromMinorUnits(amount, normalized))))
}

// FormatDecimal renders amount as a plain decimal using the currency scale, e.g. "12.50".
func FormatDecimal(amount int64, code string) string {
	scale := CurrencyScale(code)
	return fmt.Sprintf("%.*f", scale, FromMinorUnits(amount, code))
}
