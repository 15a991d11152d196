package state

import (
	"encoding/json"
	"fmt"
)

// Encode serializes the document. The output always carries every field so
// decode never has to guess at defaults for states we wrote ourselves.
func Encode(s *RoomState) ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses a serialized document. Unknown fields are tolerated here
// (imports and old snapshots may carry extras); defaults are applied so a
// sparse import still yields a well-formed state.
func Decode(raw []byte) (*RoomState, error) {
	var s RoomState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode room state: %w", err)
	}
	s.applyDefaults()
	return &s, nil
}

// Clone deep-copies the document through the codec. The journal stores raw
// snapshots instead, but import/restore paths need an owned copy.
func Clone(s *RoomState) (*RoomState, error) {
	raw, err := Encode(s)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Redacted returns a shallow map view of the state with gm_key_hash removed.
// This is the only shape ever sent to clients in STATE_SYNC.
func Redacted(s *RoomState) (json.RawMessage, error) {
	raw, err := Encode(s)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "gm_key_hash")
	return json.Marshal(m)
}
