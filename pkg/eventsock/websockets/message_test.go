package websockets

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWireMessage(t *testing.T) {
	t.Run("struct payload", func(t *testing.T) {
		msg, err := NewWireMessage("my event", struct {
			Data string `json:"data"`
		}{Data: "I'm connected!"})

		require.NoError(t, err)
		assert.Equal(t, "my event", msg.Event)
		assert.JSONEq(t, `{"data":"I'm connected!"}`, string(msg.Data))
	})

	t.Run("raw payload is kept as is", func(t *testing.T) {
		raw := json.RawMessage(`{"b":2,"a":1}`)
		msg, err := NewWireMessage("evt", raw)

		require.NoError(t, err)
		assert.Equal(t, raw, msg.Data)
	})

	t.Run("nil payload has no data", func(t *testing.T) {
		msg, err := NewWireMessage("evt", nil)

		require.NoError(t, err)
		assert.Nil(t, msg.Data)
	})

	t.Run("empty event name", func(t *testing.T) {
		_, err := NewWireMessage("", "x")
		assert.ErrorIs(t, err, ErrMissingEvent)
	})

	t.Run("unmarshalable payload", func(t *testing.T) {
		_, err := NewWireMessage("evt", make(chan int))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), `event "evt"`)
	})
}

func TestWireMessageEncode(t *testing.T) {
	t.Run("short field names", func(t *testing.T) {
		msg, err := NewWireMessage("my event", map[string]string{"data": "I'm connected!"})
		require.NoError(t, err)

		data, err := msg.Encode()
		require.NoError(t, err)
		assert.Equal(t, `{"e":"my event","d":{"data":"I'm connected!"}}`, string(data))
	})

	t.Run("no data field without payload", func(t *testing.T) {
		data, err := WireMessage{Event: "ping"}.Encode()
		require.NoError(t, err)
		assert.Equal(t, `{"e":"ping"}`, string(data))
	})

	t.Run("html characters are not escaped", func(t *testing.T) {
		msg, err := NewWireMessage("evt", "<b>&</b>")
		require.NoError(t, err)

		data, err := msg.Encode()
		require.NoError(t, err)
		assert.Equal(t, `{"e":"evt","d":"<b>&</b>"}`, string(data))
	})

	t.Run("missing event", func(t *testing.T) {
		_, err := WireMessage{Data: json.RawMessage(`1`)}.Encode()
		assert.ErrorIs(t, err, ErrMissingEvent)
	})
}

func TestDecodeWireMessage(t *testing.T) {
	t.Run("payload bytes are preserved", func(t *testing.T) {
		msg, err := DecodeWireMessage([]byte(`{"e":"my response","d":{"data": "x",  "n":[1, 2]}}`))

		require.NoError(t, err)
		assert.Equal(t, "my response", msg.Event)
		assert.Equal(t, `{"data": "x",  "n":[1, 2]}`, string(msg.Data))
	})

	t.Run("scalar payload", func(t *testing.T) {
		msg, err := DecodeWireMessage([]byte(`{"e":"count","d":42}`))

		require.NoError(t, err)
		assert.Equal(t, "42", string(msg.Data))
	})

	t.Run("null payload", func(t *testing.T) {
		msg, err := DecodeWireMessage([]byte(`{"e":"evt","d":null}`))

		require.NoError(t, err)
		assert.Nil(t, msg.Data)
	})

	t.Run("missing payload", func(t *testing.T) {
		msg, err := DecodeWireMessage([]byte(`{"e":"evt"}`))

		require.NoError(t, err)
		assert.Nil(t, msg.Data)
	})

	t.Run("missing event", func(t *testing.T) {
		_, err := DecodeWireMessage([]byte(`{"d":1}`))
		assert.ErrorIs(t, err, ErrMissingEvent)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := DecodeWireMessage([]byte(`not json`))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid event frame")
	})

	t.Run("round trip", func(t *testing.T) {
		msg, err := NewWireMessage("my event", map[string]any{"data": "I'm connected!"})
		require.NoError(t, err)
		data, err := msg.Encode()
		require.NoError(t, err)

		decoded, err := DecodeWireMessage(data)
		require.NoError(t, err)
		assert.Equal(t, msg, decoded)
	})
}
