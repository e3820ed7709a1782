package feed

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_EventFromStringPayload(t *testing.T) {
	raw := []byte(`{"type":"message","data":"{\"type\":\"open\",\"product_id\":\"BTC-USD\",\"sequence\":101,\"order_id\":\"c\",\"side\":\"buy\",\"price\":\"10.00\",\"remaining_size\":\"2\"}"}`)
	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)

	ev, err := env.Event()
	require.NoError(t, err)
	assert.Equal(t, EventOpen, ev.Type)
	assert.Equal(t, "BTC-USD", ev.ProductID)
	assert.Equal(t, int64(101), ev.Sequence)
	assert.True(t, ev.Price.Valid)
	assert.False(t, ev.Size.Valid)
	assert.True(t, ev.OpenSize().Equal(decimal.NewFromInt(2)))
}

func TestEnvelope_EventFromObjectPayload(t *testing.T) {
	raw := []byte(`{"type":"message","data":{"type":"change","product_id":"ETH-USD","sequence":7,"order_id":"x","side":"sell","price":null,"new_size":"1.5","old_size":"2"}}`)
	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)

	ev, err := env.Event()
	require.NoError(t, err)
	assert.Equal(t, EventChange, ev.Type)
	assert.False(t, ev.Price.Valid, "null price marks a market order")
	assert.True(t, ev.NewSize.Decimal.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, ev.OldSize.Valid)
}

func TestEnvelope_Subscriptions(t *testing.T) {
	raw := []byte(`{"type":"subscriptions","channels":[{"name":"heartbeat","product_ids":["BTC-USD"]},{"name":"full","product_ids":["BTC-USD","ETH-USD"]}]}`)
	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeSubscriptions, env.Type)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, env.Products(FullChannel))
	assert.Nil(t, env.Products("level2"))

	_, err = env.Event()
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestEvent_EncodeRoundTrip(t *testing.T) {
	ev := &Event{Type: EventDone, ProductID: "BTC-USD", Sequence: 103, OrderID: "c", Side: "buy"}
	raw, err := ev.Encode()
	require.NoError(t, err)

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	got, err := env.Event()
	require.NoError(t, err)
	assert.Equal(t, ev.OrderID, got.OrderID)
	assert.Equal(t, ev.Sequence, got.Sequence)
	assert.False(t, got.Price.Valid)
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestBookSnapshot_Decode(t *testing.T) {
	var snap BookSnapshot
	err := json.Unmarshal([]byte(`{"sequence":100,"bids":[["10.00","5","a"]],"asks":[["10.10","3","b"]]}`), &snap)
	require.NoError(t, err)
	assert.Equal(t, int64(100), snap.Sequence)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "a", snap.Bids[0].OrderID)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.RequireFromString("10")))
	assert.True(t, snap.Asks[0].Size.Equal(decimal.NewFromInt(3)))

	assert.Error(t, json.Unmarshal([]byte(`{"sequence":1,"bids":[["10.00","5"]]}`), &snap))
	assert.Error(t, json.Unmarshal([]byte(`{"sequence":1,"bids":[["ten","5","a"]]}`), &snap))
}
