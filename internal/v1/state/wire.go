package state

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventType discriminates wire events. The set is closed; anything else is
// answered with an ERROR event.
type EventType string

const (
	EventHeartbeat    EventType = "HEARTBEAT"
	EventReqStateSync EventType = "REQ_STATE_SYNC"
	EventHello        EventType = "HELLO"
	EventPresence     EventType = "PRESENCE"
	EventStateSync    EventType = "STATE_SYNC"
	EventRoomSettings EventType = "ROOM_SETTINGS"
	EventUndo         EventType = "UNDO"
	EventRedo         EventType = "REDO"

	EventTokenCreate      EventType = "TOKEN_CREATE"
	EventTokenMove        EventType = "TOKEN_MOVE"
	EventTokenDelete      EventType = "TOKEN_DELETE"
	EventTokenRename      EventType = "TOKEN_RENAME"
	EventTokenSetSize     EventType = "TOKEN_SET_SIZE"
	EventTokenAssign      EventType = "TOKEN_ASSIGN"
	EventTokenSetLock     EventType = "TOKEN_SET_LOCK"
	EventTokenBadgeToggle EventType = "TOKEN_BADGE_TOGGLE"

	EventStrokeAdd     EventType = "STROKE_ADD"
	EventStrokeDelete  EventType = "STROKE_DELETE"
	EventStrokeSetLock EventType = "STROKE_SET_LOCK"
	EventEraseAt       EventType = "ERASE_AT"

	EventShapeAdd     EventType = "SHAPE_ADD"
	EventShapeDelete  EventType = "SHAPE_DELETE"
	EventShapeSetLock EventType = "SHAPE_SET_LOCK"

	// EventError is server-to-client only.
	EventError EventType = "ERROR"
)

// Event is one wire frame in either direction. Payload stays raw until the
// handler decodes it into the per-type shape; client_id from clients is
// advisory only, the server substitutes the authenticated identity.
type Event struct {
	Type     EventType       `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	TS       float64         `json:"ts,omitempty"`
}

// NewEvent builds an outbound event; payload must marshal cleanly (all
// callers pass server-owned structs or maps).
func NewEvent(t EventType, payload any) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{}`)
	}
	return Event{Type: t, Payload: raw}
}

// ErrorEvent builds the in-band rejection frame addressed to a sender.
func ErrorEvent(message string) Event {
	return NewEvent(EventError, map[string]string{"message": message})
}

// ErrorEventWithID is ErrorEvent plus the offending entity id.
func ErrorEventWithID(message, id string) Event {
	return NewEvent(EventError, map[string]string{"message": message, "id": id})
}

// Marshal serializes the event as a single text frame.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEvent decodes an inbound frame. Unknown top-level fields reject the
// whole frame, matching the strict inbound contract.
func ParseEvent(raw []byte) (Event, error) {
	var e Event
	if err := decodeStrict(raw, &e); err != nil {
		return Event{}, err
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("event missing type")
	}
	return e, nil
}

// DecodePayload decodes an inbound payload into the per-type struct,
// rejecting unknown fields. Callers preset defaults on v before decoding.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return decodeStrict(e.Payload, v)
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// --- Inbound payload shapes ---

type TokenCreatePayload struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Name   string  `json:"name"`
	Color  string  `json:"color"`
	Locked bool    `json:"locked"`
}

type TokenMovePayload struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Commit bool    `json:"commit"`
}

type TokenIDPayload struct {
	ID string `json:"id"`
}

type TokenRenamePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TokenSetSizePayload struct {
	ID        string  `json:"id"`
	SizeScale float64 `json:"size_scale"`
}

type TokenAssignPayload struct {
	ID      string  `json:"id"`
	OwnerID *string `json:"owner_id"`
}

type SetLockPayload struct {
	ID     string `json:"id"`
	Locked bool   `json:"locked"`
}

type TokenBadgeTogglePayload struct {
	ID    string `json:"id"`
	Badge string `json:"badge"`
}

type StrokeAddPayload struct {
	ID     string  `json:"id"`
	Points []Point `json:"points"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Locked bool    `json:"locked"`
	Layer  string  `json:"layer"`
}

type StrokeDeletePayload struct {
	ID  string   `json:"id,omitempty"`
	IDs []string `json:"ids,omitempty"`
}

type ErasePayload struct {
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	R           *float64 `json:"r"`
	EraseShapes bool     `json:"erase_shapes"`
}

type ShapeAddPayload struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Fill   bool    `json:"fill"`
	Locked bool    `json:"locked"`
	Layer  string  `json:"layer"`
}

type RoomSettingsPayload struct {
	AllowPlayersMove *bool           `json:"allow_players_move,omitempty"`
	AllowAllMove     *bool           `json:"allow_all_move,omitempty"`
	Lockdown         *bool           `json:"lockdown,omitempty"`
	BackgroundMode   *string         `json:"background_mode,omitempty"`
	BackgroundURL    *string         `json:"background_url,omitempty"`
	TerrainSeed      *int64          `json:"terrain_seed,omitempty"`
	TerrainStyle     *string         `json:"terrain_style,omitempty"`
	LayerVisibility  map[string]bool `json:"layer_visibility,omitempty"`
}

// --- Outbound payload shapes ---

type TokenMoveRejectedPayload struct {
	ID       string  `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rejected bool    `json:"rejected"`
	Reason   string  `json:"reason"`
}

type ErasedPayload struct {
	StrokeIDs []string `json:"stroke_ids"`
	ShapeIDs  []string `json:"shape_ids"`
}

type HelloPayload struct {
	ClientID string `json:"client_id"`
	RoomID   string `json:"room_id"`
	IsGM     bool   `json:"is_gm,omitempty"`
	GMKeySet bool   `json:"gm_key_set,omitempty"`
	Username string `json:"username,omitempty"`
}

type PresencePayload struct {
	Clients []string `json:"clients"`
	GMID    *string  `json:"gm_id"`
	RoomID  string   `json:"room_id"`
}

type RoomSettingsEcho struct {
	AllowPlayersMove bool            `json:"allow_players_move"`
	AllowAllMove     bool            `json:"allow_all_move"`
	Lockdown         bool            `json:"lockdown"`
	BackgroundMode   string          `json:"background_mode"`
	BackgroundURL    *string         `json:"background_url"`
	TerrainSeed      int64           `json:"terrain_seed"`
	TerrainStyle     string          `json:"terrain_style"`
	LayerVisibility  map[string]bool `json:"layer_visibility"`
}

type HeartbeatPayload struct {
	TS float64 `json:"ts"`
}
