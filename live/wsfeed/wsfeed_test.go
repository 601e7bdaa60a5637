package wsfeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantengine/types"
)

func TestDecodeJSONBarParsesFlatObject(t *testing.T) {
	frame := []byte(`{"symbol":"ES","timestamp":1700000000000,"open":100,"high":101,"low":99,"close":100.5,"volume":10}`)
	bar, ok, err := DecodeJSONBar(frame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ES", bar.Symbol)
	assert.True(t, bar.Timestamp.Equal(time.UnixMilli(1700000000000)))
	assert.InDelta(t, 100.5, bar.Close.InexactFloat64(), 1e-9)
}

func TestDecodeJSONBarRejectsEmptySymbol(t *testing.T) {
	frame := []byte(`{"timestamp":1700000000000,"open":100,"high":101,"low":99,"close":100.5}`)
	_, ok, err := DecodeJSONBar(frame)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeJSONBarRejectsMalformedJSON(t *testing.T) {
	_, _, err := DecodeJSONBar([]byte("{not json"))
	assert.Error(t, err)
}

func TestNewRejectsInvalidURL(t *testing.T) {
	_, err := New("://not-a-url", DecodeJSONBar, func(_ types.Bar) {})
	assert.Error(t, err)
}

func TestNewAcceptsValidURL(t *testing.T) {
	f, err := New("wss://example.com/stream", DecodeJSONBar, nil)
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestCloseIsIdempotentWithoutAnyConnection(t *testing.T) {
	f, err := New("wss://example.com/stream", DecodeJSONBar, nil)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}
