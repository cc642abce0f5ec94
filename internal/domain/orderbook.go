package domain

import "time"

// Side identifies one ladder of the order book.
type Side string

const (
	SideAsk Side = "ask"
	SideBid Side = "bid"
)

// PriceLevel is one row of a ladder. Rows are treated as values: a change to
// any field produces a new row.
type PriceLevel struct {
	Price       float64 `json:"price"`
	Amount      float64 `json:"amount"`
	Total       float64 `json:"total"`
	FillPercent float64 `json:"fillPercent"`
}

// OrderBookSnapshot is a complete synthetic book for one asset. Asks ascend
// by price, bids descend, and every ask is above ReferencePrice which is
// above every bid.
type OrderBookSnapshot struct {
	AssetID        string       `json:"assetId"`
	ReferencePrice float64      `json:"price"`
	Asks           []PriceLevel `json:"asks"`
	Bids           []PriceLevel `json:"bids"`
	Version        uint64       `json:"version"`
	GeneratedAt    time.Time    `json:"generatedAt"`
}

// Empty reports whether both ladders are empty.
func (s OrderBookSnapshot) Empty() bool {
	return len(s.Asks) == 0 && len(s.Bids) == 0
}

// Ladder returns the rows for the given side.
func (s OrderBookSnapshot) Ladder(side Side) []PriceLevel {
	if side == SideAsk {
		return s.Asks
	}
	return s.Bids
}

// Spread returns best ask minus best bid, or 0 when a ladder is empty.
func (s OrderBookSnapshot) Spread() float64 {
	if len(s.Asks) == 0 || len(s.Bids) == 0 {
		return 0
	}
	return s.Asks[0].Price - s.Bids[0].Price
}

// NoAnimation is the AnimatingIndex value when no row is settling.
const NoAnimation = -1

// BookView is what the presentation layer reads: the current snapshot plus
// the row, if any, that is still in its settling transition.
type BookView struct {
	Snapshot       OrderBookSnapshot `json:"snapshot"`
	AnimatingSide  Side              `json:"animatingSide,omitempty"`
	AnimatingIndex int               `json:"animatingIndex"`
}

// Animating reports whether the given row is in its settling transition.
func (v BookView) Animating(side Side, idx int) bool {
	return v.AnimatingIndex != NoAnimation && v.AnimatingSide == side && v.AnimatingIndex == idx
}
