// Package book builds synthetic order book ladders around a reference price.
// Everything here is a pure function of its inputs and safe for concurrent
// use; randomness comes only from an LCG seeded by the reference price.
package book

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// DefaultRows is the ladder depth the front-end renders.
const DefaultRows = 12

const (
	offsetScale = 0.005
	offsetBase  = 0.001

	amountScale = 2.5
	amountBase  = 0.01

	fillScale = 100
)

// Generate builds one ladder of count rows around basePrice. Asks ascend from
// just above basePrice and bids descend from just below it. The same inputs
// always yield the same rows.
func Generate(basePrice float64, count int, side domain.Side) ([]domain.PriceLevel, error) {
	if math.IsNaN(basePrice) || math.IsInf(basePrice, 0) || basePrice <= 0 {
		return nil, fmt.Errorf("book: base price %v: %w", basePrice, domain.ErrInvalidInput)
	}
	if count <= 0 {
		return nil, fmt.Errorf("book: row count %d: %w", count, domain.ErrInvalidInput)
	}
	if side != domain.SideAsk && side != domain.SideBid {
		return nil, fmt.Errorf("book: side %q: %w", side, domain.ErrInvalidInput)
	}

	bid := side == domain.SideBid
	places := PriceDecimals(basePrice)
	tick := tickDecimal(places)
	floor := tick.InexactFloat64()
	rng := NewLCG(seedFor(basePrice, bid))

	prices := make([]decimal.Decimal, count)
	amounts := make([]float64, count)
	fills := make([]float64, count)
	for i := 0; i < count; i++ {
		offset := float64(float64(i+1)*(float64(rng.Float64()*offsetScale)+offsetBase)) * basePrice
		price := basePrice + offset
		if bid {
			price = basePrice - offset
		}
		price = math.Max(price, floor)

		prices[i] = roundTo(price, places)
		amounts[i] = DrawAmount(rng)
		fills[i] = DrawFill(rng)
	}

	idx := make([]int, count)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if bid {
			return prices[idx[a]].GreaterThan(prices[idx[b]])
		}
		return prices[idx[a]].LessThan(prices[idx[b]])
	})

	ref := decimal.NewFromFloat(basePrice)
	prev := ref
	rows := make([]domain.PriceLevel, count)
	for out, in := range idx {
		p := walk(prices[in], prev, places, tick, bid)
		prev = p

		price := p.InexactFloat64()
		rows[out] = domain.PriceLevel{
			Price:       price,
			Amount:      amounts[in],
			Total:       LineTotal(price, amounts[in]),
			FillPercent: fills[in],
		}
	}
	return rows, nil
}

// walk nudges a rounded price one tick past prev when rounding collapsed it
// onto (or across) its neighbour, and applies the positive floor.
func walk(p, prev decimal.Decimal, places int32, tick decimal.Decimal, bid bool) decimal.Decimal {
	if bid {
		if p.GreaterThanOrEqual(prev) {
			p = prev.RoundCeil(places).Sub(tick)
		}
		if p.LessThan(tick) {
			p = tick
		}
		return p
	}
	if p.LessThanOrEqual(prev) {
		p = prev.Truncate(places).Add(tick)
	}
	return p
}

// GenerateSnapshot builds both ladders for assetID from the same base price.
// GeneratedAt and Version are left for the caller to stamp.
func GenerateSnapshot(assetID string, basePrice float64, count int) (domain.OrderBookSnapshot, error) {
	asks, err := Generate(basePrice, count, domain.SideAsk)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	bids, err := Generate(basePrice, count, domain.SideBid)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	return domain.OrderBookSnapshot{
		AssetID:        assetID,
		ReferencePrice: basePrice,
		Asks:           asks,
		Bids:           bids,
	}, nil
}

// DrawAmount draws a fresh row size.
func DrawAmount(src Source) float64 {
	return RoundAmount(float64(src.Float64()*amountScale) + amountBase)
}

// DrawFill draws a fresh fill-bar width in [0, 100). It is a display value
// and is not rounded.
func DrawFill(src Source) float64 {
	return src.Float64() * fillScale
}
