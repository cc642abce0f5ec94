package worker

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/alanyoungcy/mockexchange/internal/book"
	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// Handle processes one request and returns its response. It never panics
// and never returns an error; failures become ERROR responses.
func Handle(req Message, rows int) (resp Message) {
	defer func() {
		if r := recover(); r != nil {
			resp = errorMessage(req.ID, fmt.Sprintf("worker panic: %v", r))
		}
	}()

	switch req.Type {
	case TypeGenerateOrderBook:
		var in GenerateOrderBookRequest
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return errorMessage(req.ID, "invalid GENERATE_ORDER_BOOK payload: "+err.Error())
		}
		out, err := generateOrderBook(in, rows)
		if err != nil {
			return errorMessage(req.ID, err.Error())
		}
		return newMessage(TypeOrderBookReady, req.ID, out)

	case TypeProcessCandles:
		var in ProcessCandlesRequest
		if err := json.Unmarshal(req.Payload, &in); err != nil {
			return errorMessage(req.ID, "invalid PROCESS_CANDLES payload: "+err.Error())
		}
		candles, err := DecodeCandles([]byte(in.RawCandleJSON))
		if err != nil {
			return errorMessage(req.ID, err.Error())
		}
		return newMessage(TypeCandlesReady, req.ID, CandlesReady{AssetID: in.AssetID, Candles: candles})

	default:
		return errorMessage(req.ID, fmt.Sprintf("unknown message type: %s", req.Type))
	}
}

func generateOrderBook(in GenerateOrderBookRequest, rows int) (OrderBookReady, error) {
	price, err := ReferencePrice([]byte(in.RawPriceJSON), in.AssetID)
	if err != nil {
		return OrderBookReady{}, err
	}
	snap, err := book.GenerateSnapshot(in.AssetID, price, rows)
	if err != nil {
		return OrderBookReady{}, err
	}
	return OrderBookReady{
		AssetID: in.AssetID,
		Price:   snap.ReferencePrice,
		Asks:    snap.Asks,
		Bids:    snap.Bids,
	}, nil
}

// ReferencePrice decodes a simple price payload and returns the USD price of
// assetID. A missing, zero or non-finite price is a decode failure.
func ReferencePrice(raw []byte, assetID string) (float64, error) {
	var data domain.PriceFeedResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return 0, fmt.Errorf("decode price payload: %w: %v", domain.ErrDecode, err)
	}
	quote, ok := data[assetID]
	if !ok || quote.USD <= 0 || math.IsNaN(quote.USD) || math.IsInf(quote.USD, 0) {
		return 0, fmt.Errorf("no price found for %s: %w", assetID, domain.ErrDecode)
	}
	return quote.USD, nil
}

// DecodeCandles turns [timestampMs, open, high, low, close] tuples into bars.
func DecodeCandles(raw []byte) ([]domain.Candle, error) {
	var tuples [][]float64
	if err := json.Unmarshal(raw, &tuples); err != nil {
		return nil, fmt.Errorf("decode candle payload: %w: %v", domain.ErrDecode, err)
	}
	candles := make([]domain.Candle, 0, len(tuples))
	for i, t := range tuples {
		if len(t) < 5 {
			return nil, fmt.Errorf("candle %d has %d fields, want 5: %w", i, len(t), domain.ErrDecode)
		}
		candles = append(candles, domain.Candle{
			Time:  t[0] / 1000,
			Open:  t[1],
			High:  t[2],
			Low:   t[3],
			Close: t[4],
		})
	}
	return candles, nil
}
