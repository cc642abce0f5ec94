package domain

// Asset identifies a tradable coin by its upstream id plus display fields.
type Asset struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// PriceQuote is the per-asset entry of the upstream simple price payload.
// Optional 24h fields are nil when the feed omitted them.
type PriceQuote struct {
	USD       float64  `json:"usd"`
	Change24h *float64 `json:"usd_24h_change,omitempty"`
	Volume24h *float64 `json:"usd_24h_vol,omitempty"`
	High24h   *float64 `json:"usd_24h_high,omitempty"`
	Low24h    *float64 `json:"usd_24h_low,omitempty"`
}

// PriceFeedResponse is the decoded simple price payload keyed by asset id.
type PriceFeedResponse map[string]PriceQuote

// Candle is one OHLC bar. Time is in unix seconds.
type Candle struct {
	Time  float64 `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// MarketSummary is one row of the markets listing.
type MarketSummary struct {
	ID                       string  `json:"id"`
	Symbol                   string  `json:"symbol"`
	Name                     string  `json:"name"`
	CurrentPrice             float64 `json:"current_price"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	MarketCap                float64 `json:"market_cap"`
	TotalVolume              float64 `json:"total_volume"`
	High24h                  float64 `json:"high_24h"`
	Low24h                   float64 `json:"low_24h"`
	Favorite                 bool    `json:"fav"`
}
