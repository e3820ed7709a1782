// Package feed holds the wire formats consumed by the book sync: feed envelopes,
// the order events inside them and the level 3 snapshot returned by the REST API.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	TypeSubscriptions = "subscriptions"
	TypeMessage       = "message"

	// FullChannel is the only channel whose products get an order book.
	FullChannel = "full"
)

// Event types that change the book. Everything else only advances the sequence.
const (
	EventOpen   = "open"
	EventDone   = "done"
	EventMatch  = "match"
	EventChange = "change"
)

var ErrEmptyPayload = errors.New("feed envelope has no data")

// Channel is one entry of a subscriptions message.
type Channel struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

// Envelope is one feed frame. Data carries the encoded inner event, either as a
// JSON object or as a JSON string holding one.
type Envelope struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Channels []Channel       `json:"channels,omitempty"`
}

// DecodeEnvelope parses a raw frame.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode feed envelope: %w", err)
	}
	return &env, nil
}

// Products returns the product ids subscribed on the named channel.
func (e *Envelope) Products(channel string) []string {
	for _, c := range e.Channels {
		if c.Name == channel {
			return c.ProductIDs
		}
	}
	return nil
}

// Event decodes the inner payload.
func (e *Envelope) Event() (*Event, error) {
	data := bytes.TrimSpace(e.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, ErrEmptyPayload
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("decode feed payload: %w", err)
		}
		data = []byte(inner)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode feed event: %w", err)
	}
	return &ev, nil
}

// Event is a full-channel order event. Which fields are set depends on Type.
type Event struct {
	Type          string              `json:"type"`
	ProductID     string              `json:"product_id"`
	Sequence      int64               `json:"sequence"`
	OrderID       string              `json:"order_id,omitempty"`
	MakerOrderID  string              `json:"maker_order_id,omitempty"`
	Side          string              `json:"side,omitempty"`
	Price         decimal.NullDecimal `json:"price"`
	Size          decimal.NullDecimal `json:"size"`
	RemainingSize decimal.NullDecimal `json:"remaining_size"`
	NewSize       decimal.NullDecimal `json:"new_size"`
	OldSize       decimal.NullDecimal `json:"old_size"`
}

// OpenSize is the resting size of an open event: size when present, else remaining_size.
func (e *Event) OpenSize() decimal.Decimal {
	if e.Size.Valid {
		return e.Size.Decimal
	}
	return e.RemainingSize.Decimal
}

// Encode wraps the event in an envelope frame.
func (e *Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: TypeMessage, Data: data})
}
