package room

import (
	"strings"
	"time"

	"github.com/warboardhq/warboard/internal/v1/state"
)

// outcome is the single reply every applied event produces: either the
// normalized accepted event to fan out, or a frame addressed to the sender
// only (errors and the authoritative snap-back echo).
type outcome struct {
	event        state.Event
	toSenderOnly bool
}

func accept(ev state.Event) outcome {
	return outcome{event: ev}
}

func reject(msg string) outcome {
	return outcome{event: state.ErrorEvent(msg), toSenderOnly: true}
}

func rejectWithID(msg, id string) outcome {
	return outcome{event: state.ErrorEventWithID(msg, id), toSenderOnly: true}
}

// pushHistory snapshots the current state onto the journal. Called
// immediately before every material mutation.
func (r *Room) pushHistory() {
	raw, err := state.Encode(r.st)
	if err != nil {
		return
	}
	r.journal.Push(raw)
}

// apply routes one inbound event through permissions, validation, and state
// mutation. It never fails: every rejection is an ERROR (or snap-back)
// outcome for the sender.
func (r *Room) apply(ev state.Event, clientID string) outcome {
	switch ev.Type {
	case state.EventHeartbeat:
		return outcome{
			event:        state.NewEvent(state.EventHeartbeat, state.HeartbeatPayload{TS: float64(r.clock.Now().UnixNano()) / float64(time.Second)}),
			toSenderOnly: true,
		}
	case state.EventReqStateSync:
		return outcome{event: r.stateSyncEvent(), toSenderOnly: true}
	case state.EventUndo:
		return r.applyUndo(clientID)
	case state.EventRedo:
		return r.applyRedo(clientID)
	case state.EventTokenCreate:
		return r.applyTokenCreate(ev)
	case state.EventTokenMove:
		return r.applyTokenMove(ev, clientID)
	case state.EventTokenDelete:
		return r.applyTokenDelete(ev, clientID)
	case state.EventTokenRename:
		return r.applyTokenRename(ev, clientID)
	case state.EventTokenSetSize:
		return r.applyTokenSetSize(ev, clientID)
	case state.EventTokenAssign:
		return r.applyTokenAssign(ev, clientID)
	case state.EventTokenSetLock:
		return r.applyTokenSetLock(ev, clientID)
	case state.EventTokenBadgeToggle:
		return r.applyTokenBadgeToggle(ev, clientID)
	case state.EventStrokeAdd:
		return r.applyStrokeAdd(ev)
	case state.EventStrokeDelete:
		return r.applyStrokeDelete(ev, clientID)
	case state.EventStrokeSetLock:
		return r.applyStrokeSetLock(ev, clientID)
	case state.EventEraseAt:
		return r.applyErase(ev, clientID)
	case state.EventShapeAdd:
		return r.applyShapeAdd(ev)
	case state.EventShapeDelete:
		return r.applyShapeDelete(ev, clientID)
	case state.EventShapeSetLock:
		return r.applyShapeSetLock(ev, clientID)
	case state.EventRoomSettings:
		return r.applyRoomSettings(ev, clientID)
	}
	return reject("Unhandled event type: " + string(ev.Type))
}

func (r *Room) applyUndo(clientID string) outcome {
	if !r.st.IsGM(clientID) {
		return reject("Only GM can undo")
	}
	current, err := state.Encode(r.st)
	if err != nil {
		return reject("Internal error")
	}
	prev := r.journal.Undo(current)
	if prev == nil {
		return reject("Nothing to undo")
	}
	return r.restoreSnapshot(prev)
}

func (r *Room) applyRedo(clientID string) outcome {
	if !r.st.IsGM(clientID) {
		return reject("Only GM can redo")
	}
	current, err := state.Encode(r.st)
	if err != nil {
		return reject("Internal error")
	}
	next := r.journal.Redo(current)
	if next == nil {
		return reject("Nothing to redo")
	}
	return r.restoreSnapshot(next)
}

// restoreSnapshot swaps the document for a journal entry. The live version
// counter is carried over so version stays strictly increasing across
// undo/redo.
func (r *Room) restoreSnapshot(raw []byte) outcome {
	restored, err := state.Decode(raw)
	if err != nil {
		return reject("Corrupt history snapshot")
	}
	restored.Version = r.st.Version
	r.st = restored
	state.NormalizeOrder(r.st)
	r.markDirty()
	return accept(r.stateSyncEvent())
}

func (r *Room) applyTokenCreate(ev state.Event) outcome {
	var p state.TokenCreatePayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	if p.ID == "" {
		return reject("Invalid token")
	}
	r.pushHistory()
	token := &state.Token{
		ID:        p.ID,
		X:         p.X,
		Y:         p.Y,
		Name:      p.Name,
		Color:     p.Color,
		SizeScale: 1.0,
		Locked:    p.Locked,
		Badges:    []string{},
	}
	if token.Name == "" {
		token.Name = "Token"
	}
	if token.Color == "" {
		token.Color = "#ffffff"
	}
	r.st.Tokens[token.ID] = token
	r.markDirty()
	return accept(state.NewEvent(state.EventTokenCreate, token))
}

func (r *Room) applyTokenMove(ev state.Event, clientID string) outcome {
	var p state.TokenMovePayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	token, ok := r.st.Tokens[p.ID]
	if !ok {
		return rejectWithID("Unknown token", p.ID)
	}
	if !CanMoveToken(r.st, clientID, token) {
		// Authoritative position so the client snaps back from its
		// optimistic move. Addressed to the sender only.
		return outcome{
			event: state.NewEvent(state.EventTokenMove, state.TokenMoveRejectedPayload{
				ID:       p.ID,
				X:        token.X,
				Y:        token.Y,
				Rejected: true,
				Reason:   "Not allowed",
			}),
			toSenderOnly: true,
		}
	}
	// Drag streams stay cheap: only explicit commit moves snapshot.
	if p.Commit {
		r.pushHistory()
	}
	token.X = p.X
	token.Y = p.Y
	r.markDirty()
	return accept(state.NewEvent(state.EventTokenMove, p))
}

func (r *Room) applyTokenDelete(ev state.Event, clientID string) outcome {
	if r.st.Lockdown {
		return reject("Lockdown is enabled")
	}
	var p state.TokenIDPayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	if _, ok := r.st.Tokens[p.ID]; !ok {
		return rejectWithID("Unknown token", p.ID)
	}
	if !r.st.IsGM(clientID) {
		return rejectWithID("Only GM can delete tokens", p.ID)
	}
	r.pushHistory()
	delete(r.st.Tokens, p.ID)
	r.markDirty()
	return accept(state.NewEvent(state.EventTokenDelete, p))
}

func (r *Room) applyTokenRename(ev state.Event, clientID string) outcome {
	if !r.st.IsGM(clientID) {
		return reject("Only GM can rename tokens")
	}
	var p state.TokenRenamePayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	token, ok := r.st.Tokens[p.ID]
	if !ok {
		return rejectWithID("Unknown token", p.ID)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return reject("Invalid name")
	}
	if len(name) > 64 {
		name = name[:64]
	}
	r.pushHistory()
	token.Name = name
	r.markDirty()
	return accept(state.NewEvent(state.EventTokenRename, state.TokenRenamePayload{ID: p.ID, Name: name}))
}

func (r *Room) applyTokenSetSize(ev state.Event, clientID string) outcome {
	if !r.st.IsGM(clientID) {
		return reject("Only GM can resize tokens")
	}
	var p state.TokenSetSizePayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	token, ok := r.st.Tokens[p.ID]
	if !ok {
		return rejectWithID("Unknown token", p.ID)
	}
	scale := p.SizeScale
	if scale < 0.25 {
		scale = 0.25
	}
	if scale > 4.0 {
		scale = 4.0
	}
	r.pushHistory()
	token.SizeScale = scale
	r.markDirty()
	return accept(state.NewEvent(state.EventTokenSetSize, state.TokenSetSizePayload{ID: p.ID, SizeScale: scale}))
}

func (r *Room) applyTokenAssign(ev state.Event, clientID string) outcome {
	var p state.TokenAssignPayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	token, ok := r.st.Tokens[p.ID]
	if !ok {
		return rejectWithID("Unknown token", p.ID)
	}
	if !r.st.IsGM(clientID) {
		return rejectWithID("Only GM can assign tokens", p.ID)
	}
	r.pushHistory()
	token.OwnerID = p.OwnerID
	r.markDirty()
	return accept(state.NewEvent(state.EventTokenAssign, p))
}

func (r *Room) applyTokenSetLock(ev state.Event, clientID string) outcome {
	if !r.st.IsGM(clientID) {
		return reject("Only GM can lock tokens")
	}
	var p state.SetLockPayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	token, ok := r.st.Tokens[p.ID]
	if !ok {
		return rejectWithID("Unknown token", p.ID)
	}
	r.pushHistory()
	token.Locked = p.Locked
	r.markDirty()
	return accept(state.NewEvent(state.EventTokenSetLock, state.SetLockPayload{ID: p.ID, Locked: token.Locked}))
}

func (r *Room) applyTokenBadgeToggle(ev state.Event, clientID string) outcome {
	if !r.st.IsGM(clientID) {
		return reject("Only GM can edit badges")
	}
	var p state.TokenBadgeTogglePayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	token, ok := r.st.Tokens[p.ID]
	if !ok {
		return rejectWithID("Unknown token", p.ID)
	}
	badge := strings.TrimSpace(p.Badge)
	if badge == "" || len(badge) > 12 {
		return reject("Invalid badge")
	}
	next := make([]string, 0, len(token.Badges))
	removed := false
	for _, b := range token.Badges {
		if b == badge {
			removed = true
			continue
		}
		next = append(next, b)
	}
	if !removed {
		if len(token.Badges) >= 8 {
			return reject("Too many badges")
		}
		next = append(next, badge)
	}
	r.pushHistory()
	token.Badges = next
	r.markDirty()
	return accept(state.NewEvent(state.EventTokenBadgeToggle, map[string]any{"id": p.ID, "badges": next}))
}

func (r *Room) applyStrokeAdd(ev state.Event) outcome {
	p := state.StrokeAddPayload{Color: "#ffffff", Width: 3.0, Layer: state.LayerDraw}
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	if !state.ValidLayer(p.Layer) {
		p.Layer = state.LayerDraw
	}
	if p.ID == "" || len(p.Points) < 2 {
		return reject("Invalid stroke")
	}
	r.pushHistory()
	stroke := &state.Stroke{
		ID:     p.ID,
		Points: p.Points,
		Color:  p.Color,
		Width:  p.Width,
		Locked: p.Locked,
		Layer:  p.Layer,
	}
	// An existing id is replaced and moved to the top of the draw order.
	r.st.Strokes[p.ID] = stroke
	state.AppendOrder(r.st, state.DrawOrderStrokes, p.ID)
	r.markDirty()
	return accept(state.NewEvent(state.EventStrokeAdd, stroke))
}

func (r *Room) applyStrokeDelete(ev state.Event, clientID string) outcome {
	if r.st.Lockdown {
		return reject("Lockdown is enabled")
	}
	if !r.st.IsGM(clientID) {
		return reject("Only GM can delete strokes")
	}
	var p state.StrokeDeletePayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	ids := p.IDs
	if ids == nil && p.ID != "" {
		ids = []string{p.ID}
	}
	existing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := r.st.Strokes[id]; ok {
			existing = append(existing, id)
		}
	}
	if len(existing) == 0 {
		return accept(state.NewEvent(state.EventStrokeDelete, map[string][]string{"ids": {}}))
	}
	r.pushHistory()
	for _, id := range existing {
		delete(r.st.Strokes, id)
		state.RemoveOrder(r.st, state.DrawOrderStrokes, id)
	}
	r.markDirty()
	return accept(state.NewEvent(state.EventStrokeDelete, map[string][]string{"ids": existing}))
}

func (r *Room) applyStrokeSetLock(ev state.Event, clientID string) outcome {
	if !r.st.IsGM(clientID) {
		return reject("Only GM can lock strokes")
	}
	var p state.SetLockPayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	stroke, ok := r.st.Strokes[p.ID]
	if !ok {
		return rejectWithID("Unknown stroke", p.ID)
	}
	r.pushHistory()
	stroke.Locked = p.Locked
	r.markDirty()
	return accept(state.NewEvent(state.EventStrokeSetLock, state.SetLockPayload{ID: p.ID, Locked: stroke.Locked}))
}

func (r *Room) applyErase(ev state.Event, clientID string) outcome {
	if r.st.Lockdown {
		return reject("Lockdown is enabled")
	}
	// Erasing is destructive, so GM-only.
	if !r.st.IsGM(clientID) {
		return reject("Only GM can erase")
	}
	var p state.ErasePayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	radius := state.EraserRadiusDefault
	if p.R != nil {
		radius = *p.R
	}

	strokeIDs := []string{}
	for id, stroke := range r.st.Strokes {
		if stroke.Locked {
			continue
		}
		if state.StrokeHitsCircle(stroke, p.X, p.Y, radius) {
			strokeIDs = append(strokeIDs, id)
		}
	}
	shapeIDs := []string{}
	if p.EraseShapes {
		for id, shape := range r.st.Shapes {
			if shape.Locked {
				continue
			}
			if state.ShapeHitsCircle(shape, p.X, p.Y, radius) {
				shapeIDs = append(shapeIDs, id)
			}
		}
	}

	if len(strokeIDs) == 0 && len(shapeIDs) == 0 {
		return accept(state.NewEvent(state.EventEraseAt, state.ErasedPayload{StrokeIDs: strokeIDs, ShapeIDs: shapeIDs}))
	}

	r.pushHistory()
	for _, id := range strokeIDs {
		delete(r.st.Strokes, id)
		state.RemoveOrder(r.st, state.DrawOrderStrokes, id)
	}
	for _, id := range shapeIDs {
		delete(r.st.Shapes, id)
		state.RemoveOrder(r.st, state.DrawOrderShapes, id)
	}
	r.markDirty()
	return accept(state.NewEvent(state.EventEraseAt, state.ErasedPayload{StrokeIDs: strokeIDs, ShapeIDs: shapeIDs}))
}

func (r *Room) applyShapeAdd(ev state.Event) outcome {
	p := state.ShapeAddPayload{Color: "#ffffff", Width: 3.0, Layer: state.LayerDraw}
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	if !state.ValidShapeType(p.Type) {
		return reject("Invalid shape type")
	}
	if p.ID == "" {
		return reject("Invalid shape")
	}
	if !state.ValidLayer(p.Layer) {
		p.Layer = state.LayerDraw
	}
	r.pushHistory()
	shape := &state.Shape{
		ID:     p.ID,
		Type:   p.Type,
		X1:     p.X1,
		Y1:     p.Y1,
		X2:     p.X2,
		Y2:     p.Y2,
		Color:  p.Color,
		Width:  p.Width,
		Fill:   p.Fill,
		Locked: p.Locked,
		Layer:  p.Layer,
	}
	r.st.Shapes[p.ID] = shape
	state.AppendOrder(r.st, state.DrawOrderShapes, p.ID)
	r.markDirty()
	return accept(state.NewEvent(state.EventShapeAdd, shape))
}

func (r *Room) applyShapeDelete(ev state.Event, clientID string) outcome {
	if !r.st.IsGM(clientID) {
		return reject("Only GM can delete shapes")
	}
	var p state.TokenIDPayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	if _, ok := r.st.Shapes[p.ID]; ok {
		r.pushHistory()
		delete(r.st.Shapes, p.ID)
		state.RemoveOrder(r.st, state.DrawOrderShapes, p.ID)
		r.markDirty()
	}
	return accept(state.NewEvent(state.EventShapeDelete, p))
}

func (r *Room) applyShapeSetLock(ev state.Event, clientID string) outcome {
	if !r.st.IsGM(clientID) {
		return reject("Only GM can lock shapes")
	}
	var p state.SetLockPayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	shape, ok := r.st.Shapes[p.ID]
	if !ok {
		return rejectWithID("Unknown shape", p.ID)
	}
	r.pushHistory()
	shape.Locked = p.Locked
	r.markDirty()
	return accept(state.NewEvent(state.EventShapeSetLock, state.SetLockPayload{ID: p.ID, Locked: shape.Locked}))
}

func (r *Room) applyRoomSettings(ev state.Event, clientID string) outcome {
	if !r.st.IsGM(clientID) {
		return reject("Only GM can change room settings")
	}
	var p state.RoomSettingsPayload
	if err := ev.DecodePayload(&p); err != nil {
		return reject("Invalid payload")
	}
	if p.BackgroundMode != nil {
		switch *p.BackgroundMode {
		case state.BackgroundSolid, state.BackgroundURL, state.BackgroundTerrain:
		default:
			return reject("Invalid background mode")
		}
	}
	if p.TerrainStyle != nil && !state.ValidTerrainStyle(*p.TerrainStyle) {
		return reject("Invalid terrain style")
	}

	r.pushHistory()
	if p.AllowPlayersMove != nil {
		r.st.AllowPlayersMove = *p.AllowPlayersMove
	}
	if p.AllowAllMove != nil {
		r.st.AllowAllMove = *p.AllowAllMove
	}
	if p.Lockdown != nil {
		r.st.Lockdown = *p.Lockdown
	}
	if p.BackgroundMode != nil {
		r.st.BackgroundMode = *p.BackgroundMode
	}
	if p.BackgroundURL != nil {
		if *p.BackgroundURL == "" {
			r.st.BackgroundURL = nil
		} else {
			r.st.BackgroundURL = p.BackgroundURL
		}
	}
	if p.TerrainSeed != nil {
		r.st.TerrainSeed = *p.TerrainSeed
	}
	if p.TerrainStyle != nil {
		r.st.TerrainStyle = *p.TerrainStyle
	}
	for k, v := range p.LayerVisibility {
		if _, ok := r.st.LayerVisibility[k]; ok {
			r.st.LayerVisibility[k] = v
		}
	}
	r.markDirty()
	return accept(state.NewEvent(state.EventRoomSettings, state.RoomSettingsEcho{
		AllowPlayersMove: r.st.AllowPlayersMove,
		AllowAllMove:     r.st.AllowAllMove,
		Lockdown:         r.st.Lockdown,
		BackgroundMode:   r.st.BackgroundMode,
		BackgroundURL:    r.st.BackgroundURL,
		TerrainSeed:      r.st.TerrainSeed,
		TerrainStyle:     r.st.TerrainStyle,
		LayerVisibility:  r.st.LayerVisibility,
	}))
}
