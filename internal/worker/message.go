package worker

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// Message types exchanged with the worker.
const (
	TypeGenerateOrderBook = "GENERATE_ORDER_BOOK"
	TypeProcessCandles    = "PROCESS_CANDLES"
	TypeOrderBookReady    = "ORDER_BOOK_READY"
	TypeCandlesReady      = "CANDLES_READY"
	TypeError             = "ERROR"
)

// Message is the envelope for every request and response. Payload is always
// serialized JSON so nothing mutable is shared across the boundary. Responses
// echo the request ID.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// GenerateOrderBookRequest asks for a fresh book from a raw price payload.
type GenerateOrderBookRequest struct {
	RawPriceJSON string `json:"rawPriceJson"`
	AssetID      string `json:"assetId"`
}

// ProcessCandlesRequest asks for raw OHLC tuples to be decoded into bars.
type ProcessCandlesRequest struct {
	RawCandleJSON string `json:"rawCandleJson"`
	AssetID       string `json:"assetId,omitempty"`
}

// OrderBookReady is the payload of an ORDER_BOOK_READY response.
type OrderBookReady struct {
	AssetID string              `json:"assetId"`
	Price   float64             `json:"price"`
	Asks    []domain.PriceLevel `json:"asks"`
	Bids    []domain.PriceLevel `json:"bids"`
}

// CandlesReady is the payload of a CANDLES_READY response.
type CandlesReady struct {
	AssetID string          `json:"assetId,omitempty"`
	Candles []domain.Candle `json:"candles"`
}

// NewGenerateOrderBook builds a GENERATE_ORDER_BOOK request.
func NewGenerateOrderBook(id, assetID string, raw []byte) Message {
	return newMessage(TypeGenerateOrderBook, id, GenerateOrderBookRequest{
		RawPriceJSON: string(raw),
		AssetID:      assetID,
	})
}

// NewProcessCandles builds a PROCESS_CANDLES request.
func NewProcessCandles(id, assetID string, raw []byte) Message {
	return newMessage(TypeProcessCandles, id, ProcessCandlesRequest{
		RawCandleJSON: string(raw),
		AssetID:       assetID,
	})
}

func newMessage(typ, id string, payload any) Message {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorMessage(id, fmt.Sprintf("marshal %s payload: %v", typ, err))
	}
	return Message{Type: typ, ID: id, Payload: data}
}

func errorMessage(id, text string) Message {
	data, _ := json.Marshal(text)
	return Message{Type: TypeError, ID: id, Payload: data}
}

// DecodeOrderBookReady extracts the book from an ORDER_BOOK_READY response.
// An ERROR response is returned as an error wrapping domain.ErrDecode.
func DecodeOrderBookReady(msg Message) (OrderBookReady, error) {
	var out OrderBookReady
	if err := expect(msg, TypeOrderBookReady, &out); err != nil {
		return OrderBookReady{}, err
	}
	return out, nil
}

// DecodeCandlesReady extracts the bars from a CANDLES_READY response.
func DecodeCandlesReady(msg Message) (CandlesReady, error) {
	var out CandlesReady
	if err := expect(msg, TypeCandlesReady, &out); err != nil {
		return CandlesReady{}, err
	}
	return out, nil
}

// ErrorText returns the text of an ERROR response, or "" for other types.
func ErrorText(msg Message) string {
	if msg.Type != TypeError {
		return ""
	}
	var text string
	if err := json.Unmarshal(msg.Payload, &text); err != nil {
		return string(msg.Payload)
	}
	return text
}

func expect(msg Message, typ string, dst any) error {
	switch msg.Type {
	case typ:
	case TypeError:
		return fmt.Errorf("worker: %s: %w", ErrorText(msg), domain.ErrDecode)
	default:
		return fmt.Errorf("worker: unexpected response type %q (want %s): %w", msg.Type, typ, domain.ErrDecode)
	}
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		return fmt.Errorf("worker: decode %s payload: %w: %v", typ, domain.ErrDecode, err)
	}
	return nil
}
