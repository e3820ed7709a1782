package errors

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProblemDetails_MarshalJSON(t *testing.T) {
	p := NewValidationError("depth must be a positive integer", "/books/BTC-USD").
		WithValidationErrors(ValidationError{Field: "depth", Value: "0", Message: "must be > 0"})

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, TypeValidationError, body["type"])
	assert.Equal(t, float64(http.StatusBadRequest), body["status"])
	assert.Equal(t, "/books/BTC-USD", body["instance"])
	assert.Len(t, body["errors"], 1)
}

func TestProblemDetails_ExtraCannotShadowStandardMembers(t *testing.T) {
	p := NewBookUnavailableError("ETH-USD", "").WithExtra("status", 200)
	assert.Equal(t, "book for ETH-USD is not synchronised yet", p.Error())

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, float64(http.StatusNotFound), body["status"])
	assert.Equal(t, "ETH-USD", body["product"])
	assert.NotContains(t, body, "instance")
}
