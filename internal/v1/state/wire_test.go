package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventStrictTopLevel(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type": "TOKEN_MOVE", "payload": {"id": "t1", "x": 1, "y": 2}}`))
	require.NoError(t, err)
	assert.Equal(t, EventTokenMove, ev.Type)

	_, err = ParseEvent([]byte(`{"type": "TOKEN_MOVE", "bogus": true}`))
	assert.Error(t, err, "unknown top-level field rejects the frame")

	_, err = ParseEvent([]byte(`{"payload": {}}`))
	assert.Error(t, err, "missing type rejects the frame")

	_, err = ParseEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodePayloadStrict(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type": "TOKEN_MOVE", "payload": {"id": "t1", "x": 1, "y": 2, "extra": 1}}`))
	require.NoError(t, err)

	var p TokenMovePayload
	assert.Error(t, ev.DecodePayload(&p), "unknown payload field rejects")

	ev, err = ParseEvent([]byte(`{"type": "TOKEN_MOVE", "payload": {"id": "t1", "x": 3, "y": 4, "commit": true}}`))
	require.NoError(t, err)
	require.NoError(t, ev.DecodePayload(&p))
	assert.Equal(t, "t1", p.ID)
	assert.Equal(t, 3.0, p.X)
	assert.True(t, p.Commit)
}

func TestDecodePayloadEmptyKeepsPresets(t *testing.T) {
	ev := Event{Type: EventStrokeAdd}
	p := StrokeAddPayload{Color: "#ffffff", Width: 3.0, Layer: LayerDraw}
	require.NoError(t, ev.DecodePayload(&p))
	assert.Equal(t, "#ffffff", p.Color)
	assert.Equal(t, 3.0, p.Width)
}

func TestErrorEventShapes(t *testing.T) {
	data, err := ErrorEvent("nope").Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type": "ERROR", "payload": {"message": "nope"}}`, string(data))

	data, err = ErrorEventWithID("nope", "t1").Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type": "ERROR", "payload": {"message": "nope", "id": "t1"}}`, string(data))
}
