package book

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// dollarPriceDecimals is the price precision for assets priced at or
	// above one unit of quote currency.
	dollarPriceDecimals = 2
	// subDollarExtraDecimals is how many decimals beyond the leading zeros a
	// sub-dollar price keeps.
	subDollarExtraDecimals = 4
	maxPriceDecimals       = 12

	amountDecimals = 4
	totalDecimals  = 2
)

// PriceDecimals returns the number of decimal places prices are rounded to
// for a book built around basePrice.
func PriceDecimals(basePrice float64) int32 {
	if basePrice >= 1 {
		return dollarPriceDecimals
	}
	d := -decimalExponent(basePrice) + subDollarExtraDecimals
	if d > maxPriceDecimals {
		d = maxPriceDecimals
	}
	return int32(d)
}

// Tick returns the smallest price increment for basePrice. It is also the
// floor every generated price is clamped to.
func Tick(basePrice float64) float64 {
	return tickDecimal(PriceDecimals(basePrice)).InexactFloat64()
}

// decimalExponent returns floor(log10(v)) for positive v, read from the
// shortest scientific representation so values like 0.0001 land exactly.
func decimalExponent(v float64) int {
	s := strconv.FormatFloat(v, 'e', -1, 64)
	i := strings.IndexByte(s, 'e')
	exp, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return int(math.Floor(math.Log10(v)))
	}
	return exp
}

func tickDecimal(places int32) decimal.Decimal {
	return decimal.New(1, -places)
}

func roundTo(v float64, places int32) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(places)
}

// RoundAmount rounds a size to the ladder's amount precision.
func RoundAmount(v float64) float64 {
	return roundTo(v, amountDecimals).InexactFloat64()
}

// LineTotal returns price×amount rounded to cents, computed in decimal so the
// result matches what a reader gets by multiplying the displayed values.
func LineTotal(price, amount float64) float64 {
	return decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(amount)).
		Round(totalDecimals).
		InexactFloat64()
}

func modFloat(x, m float64) float64 {
	return math.Mod(x, m)
}
