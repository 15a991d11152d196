// Package state holds the canonical room document: the entities painted on
// the board, the draw order, and the room-level flags the permission model
// keys off. Everything here is plain data; mutation policy lives in the room
// package.
package state

// BackgroundMode values for RoomState.BackgroundMode.
const (
	BackgroundSolid   = "solid"
	BackgroundURL     = "url"
	BackgroundTerrain = "terrain"
)

// Shape type values.
const (
	ShapeRect   = "rect"
	ShapeCircle = "circle"
	ShapeLine   = "line"
)

// Layer names for strokes and shapes.
const (
	LayerMap   = "map"
	LayerDraw  = "draw"
	LayerNotes = "notes"
)

// TerrainStyles is the closed set of generated background styles.
var TerrainStyles = []string{"grassland", "dirt", "snow", "desert"}

// DrawOrderStrokes and DrawOrderShapes key RoomState.DrawOrder.
const (
	DrawOrderStrokes = "strokes"
	DrawOrderShapes  = "shapes"
)

// Point is a single coordinate of a freehand stroke.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Token is a movable piece on the board, optionally owned by a player.
type Token struct {
	ID        string   `json:"id"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Name      string   `json:"name"`
	Color     string   `json:"color"`
	ImageURL  *string  `json:"image_url"`
	SizeScale float64  `json:"size_scale"`
	OwnerID   *string  `json:"owner_id"`
	Locked    bool     `json:"locked"`
	Badges    []string `json:"badges"`
}

// Stroke is a freehand polyline. A valid stroke has at least two points.
type Stroke struct {
	ID     string  `json:"id"`
	Points []Point `json:"points"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Locked bool    `json:"locked"`
	Layer  string  `json:"layer"`
}

// Shape is a parametric geometric primitive anchored at two points. For
// circles (X1,Y1) is the center and the distance to (X2,Y2) the radius.
type Shape struct {
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

// RoomState is the authoritative document for one room. A single room actor
// owns it; nothing else mutates it.
type RoomState struct {
	RoomID           string              `json:"room_id"`
	Version          int64               `json:"version"`
	GMID             *string             `json:"gm_id"`
	GMUserID         *int64              `json:"gm_user_id"`
	AllowPlayersMove bool                `json:"allow_players_move"`
	AllowAllMove     bool                `json:"allow_all_move"`
	Lockdown         bool                `json:"lockdown"`
	GMKeyHash        *string             `json:"gm_key_hash,omitempty"`
	BackgroundMode   string              `json:"background_mode"`
	BackgroundURL    *string             `json:"background_url"`
	TerrainSeed      int64               `json:"terrain_seed"`
	TerrainStyle     string              `json:"terrain_style"`
	LayerVisibility  map[string]bool     `json:"layer_visibility"`
	Tokens           map[string]*Token   `json:"tokens"`
	Strokes          map[string]*Stroke  `json:"strokes"`
	Shapes           map[string]*Shape   `json:"shapes"`
	DrawOrder        map[string][]string `json:"draw_order"`
}

// NewRoomState returns a blank document with defaults applied.
func NewRoomState(roomID string) *RoomState {
	s := &RoomState{RoomID: roomID}
	s.applyDefaults()
	return s
}

// applyDefaults fills nil maps and zero-valued enum fields. Called after
// construction and after decoding, so partially-specified imports still
// yield a well-formed document.
func (s *RoomState) applyDefaults() {
	if s.BackgroundMode == "" {
		s.BackgroundMode = BackgroundSolid
	}
	if s.TerrainSeed == 0 {
		s.TerrainSeed = 1
	}
	if s.TerrainStyle == "" {
		s.TerrainStyle = TerrainStyles[0]
	}
	if s.LayerVisibility == nil {
		s.LayerVisibility = map[string]bool{
			"grid":     true,
			"drawings": true,
			"shapes":   true,
			"tokens":   true,
		}
	}
	if s.Tokens == nil {
		s.Tokens = map[string]*Token{}
	}
	if s.Strokes == nil {
		s.Strokes = map[string]*Stroke{}
	}
	if s.Shapes == nil {
		s.Shapes = map[string]*Shape{}
	}
	if s.DrawOrder == nil {
		s.DrawOrder = map[string][]string{}
	}
	if s.DrawOrder[DrawOrderStrokes] == nil {
		s.DrawOrder[DrawOrderStrokes] = []string{}
	}
	if s.DrawOrder[DrawOrderShapes] == nil {
		s.DrawOrder[DrawOrderShapes] = []string{}
	}
	for _, t := range s.Tokens {
		t.applyDefaults()
	}
	for _, st := range s.Strokes {
		st.applyDefaults()
	}
	for _, sh := range s.Shapes {
		sh.applyDefaults()
	}
}

func (t *Token) applyDefaults() {
	if t.Name == "" {
		t.Name = "Token"
	}
	if t.Color == "" {
		t.Color = "#ffffff"
	}
	if t.SizeScale == 0 {
		t.SizeScale = 1.0
	}
	if t.Badges == nil {
		t.Badges = []string{}
	}
}

func (s *Stroke) applyDefaults() {
	if s.Points == nil {
		s.Points = []Point{}
	}
	if s.Color == "" {
		s.Color = "#ffffff"
	}
	if s.Width == 0 {
		s.Width = 3.0
	}
	if !ValidLayer(s.Layer) {
		s.Layer = LayerDraw
	}
}

func (s *Shape) applyDefaults() {
	if s.Color == "" {
		s.Color = "#ffffff"
	}
	if s.Width == 0 {
		s.Width = 3.0
	}
	if !ValidLayer(s.Layer) {
		s.Layer = LayerDraw
	}
}

// ValidLayer reports whether l is one of the known paint layers.
func ValidLayer(l string) bool {
	return l == LayerMap || l == LayerDraw || l == LayerNotes
}

// ValidShapeType reports whether t is a known shape primitive.
func ValidShapeType(t string) bool {
	return t == ShapeRect || t == ShapeCircle || t == ShapeLine
}

// ValidTerrainStyle reports whether style is in the closed terrain set.
func ValidTerrainStyle(style string) bool {
	for _, s := range TerrainStyles {
		if s == style {
			return true
		}
	}
	return false
}

// IsGM reports whether clientID is the currently claimed GM session.
func (s *RoomState) IsGM(clientID string) bool {
	return s.GMID != nil && *s.GMID == clientID
}
