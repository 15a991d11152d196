// Package room implements the per-room authoritative event processor: a
// single actor goroutine owns the RoomState, the undo/redo journal, the
// attached sockets, and the dirty bit. Every mutation, attach, detach, and
// broadcast for one room flows through its inbox, which is what gives all
// clients the same total order of accepted events.
package room

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/warboardhq/warboard/internal/v1/logging"
	"github.com/warboardhq/warboard/internal/v1/metrics"
	"github.com/warboardhq/warboard/internal/v1/state"
)

// AutosaveDebounce is how long a room must stay quiet before a dirty state
// is flushed to the store.
const AutosaveDebounce = 2 * time.Second

// Sender is the transport-side endpoint the room pushes frames to. Send
// reports false when the socket can no longer accept writes; the room then
// reaps it and calls Disconnect.
type Sender interface {
	ClientID() string
	Send(data []byte) bool
	Disconnect()
}

// Saver persists a serialized room state. The store behind it is assumed
// thread-safe; save errors leave the room dirty so the next debounce
// retries.
type Saver interface {
	SaveRoom(ctx context.Context, roomID string, raw []byte) error
}

// AttachRequest carries an admitted socket into the room. Authentication and
// membership were already verified by the transport layer; the room only
// performs the GM claim and the initial frame exchange.
type AttachRequest struct {
	Sender   Sender
	ClientID string // authoritative session identity (username)
	UserID   int64
	Username string
	IsOwner  bool
	GMKey    string
}

// Stats is a read-only snapshot for tests and admin surfaces.
type Stats struct {
	Version    int64
	JournalLen int
	Dirty      bool
	Sockets    int
	Clients    []string
	GMID       *string
}

// Room is the actor. All fields below inbox are owned by the run goroutine.
type Room struct {
	id    string
	inbox chan message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	saver   Saver
	clock   clock.Clock
	onEmpty func(roomID string)

	st           *state.RoomState
	journal      *journal
	clients      map[Sender]string
	counts       map[string]int
	dirty        bool
	lastChange   time.Time
	autosaveLive bool
}

type message interface{ isMessage() }

type eventMsg struct {
	event state.Event
	from  Sender
}

type attachMsg struct {
	req  AttachRequest
	done chan struct{}
}

type detachMsg struct {
	sender Sender
	reply  chan bool // true when the room is now socket-empty
}

type quietCheckMsg struct {
	reply chan quietCheck
}

type quietCheck struct {
	quiet bool
	raw   []byte // nil when not dirty
}

type flushMsg struct {
	reply chan []byte // nil when not dirty
}

type redirtyMsg struct{}

type importMsg struct {
	raw   []byte
	reply chan error
}

type statsMsg struct {
	reply chan Stats
}

func (eventMsg) isMessage()      {}
func (attachMsg) isMessage()     {}
func (detachMsg) isMessage()     {}
func (quietCheckMsg) isMessage() {}
func (flushMsg) isMessage()      {}
func (redirtyMsg) isMessage()    {}
func (importMsg) isMessage()     {}
func (statsMsg) isMessage()      {}

// New creates the actor and starts its run loop. The caller owns eviction:
// onEmpty fires (on a fresh goroutine) whenever the last socket leaves.
func New(ctx context.Context, id string, st *state.RoomState, saver Saver, clk clock.Clock, onEmpty func(string)) *Room {
	if clk == nil {
		clk = clock.RealClock{}
	}
	state.NormalizeOrder(st)
	r := &Room{
		id:      id,
		inbox:   make(chan message, 64),
		saver:   saver,
		clock:   clk,
		onEmpty: onEmpty,
		st:      st,
		journal: newJournal(),
		clients: make(map[Sender]string),
		counts:  make(map[string]int),
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run()
	return r
}

// ID returns the room id.
func (r *Room) ID() string {
	return r.id
}

func (r *Room) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case m := <-r.inbox:
			r.dispatch(m)
		}
	}
}

func (r *Room) dispatch(m message) {
	switch m := m.(type) {
	case eventMsg:
		r.handleEvent(m.event, m.from)
	case attachMsg:
		r.handleAttach(m.req)
		close(m.done)
	case detachMsg:
		m.reply <- r.handleDetach(m.sender)
	case quietCheckMsg:
		m.reply <- r.handleQuietCheck()
	case flushMsg:
		m.reply <- r.takeDirtySnapshot()
	case redirtyMsg:
		r.dirty = true
		r.lastChange = r.clock.Now()
		r.ensureAutosave()
	case importMsg:
		m.reply <- r.handleImport(m.raw)
	case statsMsg:
		m.reply <- r.handleStats()
	}
}

func (r *Room) send(m message) bool {
	select {
	case r.inbox <- m:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// Submit queues one client event for serialized application.
func (r *Room) Submit(event state.Event, from Sender) bool {
	return r.send(eventMsg{event: event, from: from})
}

// Attach adds an admitted socket, runs the GM claim, and performs the
// initial frame exchange. Blocks until the actor has processed it.
func (r *Room) Attach(req AttachRequest) bool {
	done := make(chan struct{})
	if !r.send(attachMsg{req: req, done: done}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// Detach removes a socket; returns true when the room is now empty.
// Idempotent: detaching an already-reaped socket is a no-op.
func (r *Room) Detach(s Sender) (empty bool) {
	reply := make(chan bool, 1)
	if !r.send(detachMsg{sender: s, reply: reply}) {
		return false
	}
	select {
	case empty = <-reply:
	case <-r.ctx.Done():
	}
	return empty
}

// ImportState replaces the live document (snapshot restore). The previous
// state is journaled so the swap can be undone.
func (r *Room) ImportState(raw []byte) error {
	reply := make(chan error, 1)
	if !r.send(importMsg{raw: raw, reply: reply}) {
		return context.Canceled
	}
	select {
	case err := <-reply:
		return err
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

// FlushNow synchronously persists dirty state. Used on evict and shutdown;
// the store write happens on the caller's goroutine, never in the actor.
func (r *Room) FlushNow(ctx context.Context) error {
	reply := make(chan []byte, 1)
	if !r.send(flushMsg{reply: reply}) {
		return nil
	}
	var raw []byte
	select {
	case raw = <-reply:
	case <-r.ctx.Done():
		return nil
	}
	if raw == nil || r.saver == nil {
		return nil
	}
	if err := r.saver.SaveRoom(ctx, r.id, raw); err != nil {
		r.send(redirtyMsg{})
		metrics.AutosaveFailures.Inc()
		return err
	}
	metrics.AutosaveFlushes.Inc()
	return nil
}

// Stats returns a consistent snapshot of actor-owned counters.
func (r *Room) Stats() Stats {
	reply := make(chan Stats, 1)
	if !r.send(statsMsg{reply: reply}) {
		return Stats{}
	}
	select {
	case s := <-reply:
		return s
	case <-r.ctx.Done():
		return Stats{}
	}
}

// Stop cancels the actor and waits for the run loop and any autosave
// goroutine to exit. It does not flush; call FlushNow first.
func (r *Room) Stop() {
	r.cancel()
	r.wg.Wait()
}

// --- actor-side handlers ---

func hashGMKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (r *Room) handleAttach(req AttachRequest) {
	r.clients[req.Sender] = req.ClientID
	r.counts[req.ClientID]++

	// Owner automatically becomes GM; otherwise fall back to the shared-key
	// claim model.
	claimed := false
	if req.IsOwner {
		if r.st.GMUserID == nil || *r.st.GMUserID != req.UserID || r.st.GMID == nil || *r.st.GMID != req.ClientID {
			r.st.GMID = &req.ClientID
			r.st.GMUserID = &req.UserID
			claimed = true
		}
	} else if req.GMKey != "" {
		h := hashGMKey(req.GMKey)
		switch {
		case r.st.GMKeyHash == nil:
			r.st.GMKeyHash = &h
			r.st.GMID = &req.ClientID
			r.st.GMUserID = &req.UserID
			claimed = true
		case *r.st.GMKeyHash == h:
			r.st.GMID = &req.ClientID
			r.st.GMUserID = &req.UserID
			claimed = true
		}
	}
	if claimed {
		r.markDirty()
	}

	isGM := (r.st.GMUserID != nil && *r.st.GMUserID == req.UserID) || r.st.IsGM(req.ClientID)

	// Initial frames, in order: full state, hello, presence.
	r.sendTo(req.Sender, r.stateSyncEvent())
	r.sendTo(req.Sender, state.NewEvent(state.EventHello, state.HelloPayload{
		ClientID: req.ClientID,
		RoomID:   r.id,
		IsGM:     isGM,
		GMKeySet: r.st.GMKeyHash != nil,
		Username: req.Username,
	}))
	r.sendTo(req.Sender, r.presenceEvent())

	if claimed {
		r.broadcast(r.stateSyncEvent())
	}
	r.broadcast(state.NewEvent(state.EventHello, state.HelloPayload{ClientID: req.ClientID, RoomID: r.id}))
	r.broadcast(r.presenceEvent())

	metrics.RoomClients.WithLabelValues(r.id).Set(float64(len(r.clients)))
}

func (r *Room) handleDetach(s Sender) bool {
	clientID, ok := r.clients[s]
	if !ok {
		return len(r.clients) == 0
	}
	delete(r.clients, s)
	r.decrPresence(clientID)
	if len(r.clients) == 0 {
		metrics.RoomClients.DeleteLabelValues(r.id)
		return true
	}
	metrics.RoomClients.WithLabelValues(r.id).Set(float64(len(r.clients)))
	r.broadcast(r.presenceEvent())
	return false
}

func (r *Room) handleEvent(ev state.Event, from Sender) {
	start := r.clock.Now()
	out := r.apply(ev, from.ClientID())
	metrics.EventProcessingSeconds.WithLabelValues(string(ev.Type)).Observe(r.clock.Since(start).Seconds())

	if out.toSenderOnly {
		status := "accepted"
		if out.event.Type == state.EventError {
			status = "rejected"
		}
		metrics.WebsocketEvents.WithLabelValues(string(ev.Type), status).Inc()
		r.sendTo(from, out.event)
		return
	}

	metrics.WebsocketEvents.WithLabelValues(string(ev.Type), "accepted").Inc()
	if out.event.Type != state.EventStateSync {
		// Stamp the authenticated identity; whatever the client claimed
		// inbound is discarded.
		out.event.ClientID = from.ClientID()
	}
	r.broadcast(out.event)
	if presenceAffecting(out.event.Type) {
		r.broadcast(r.presenceEvent())
	}
}

// presenceAffecting lists event types after which presence is re-broadcast;
// ownership and lock changes can alter what clients may do.
func presenceAffecting(t state.EventType) bool {
	switch t {
	case state.EventHello, state.EventTokenDelete, state.EventTokenCreate,
		state.EventType("TOKEN_SET_OWNER"), state.EventType("TOKEN_LOCK"), state.EventType("TOKEN_UNLOCK"):
		return true
	}
	return false
}

func (r *Room) handleImport(raw []byte) error {
	imported, err := state.Decode(raw)
	if err != nil {
		return err
	}
	r.pushHistory()
	imported.RoomID = r.id
	imported.Version = r.st.Version
	r.st = imported
	state.NormalizeOrder(r.st)
	r.markDirty()
	r.broadcast(r.stateSyncEvent())
	return nil
}

func (r *Room) handleStats() Stats {
	return Stats{
		Version:    r.st.Version,
		JournalLen: r.journal.Len(),
		Dirty:      r.dirty,
		Sockets:    len(r.clients),
		Clients:    r.presentClients(),
		GMID:       r.st.GMID,
	}
}

// --- dirty tracking / autosave hooks ---

func (r *Room) markDirty() {
	r.dirty = true
	r.lastChange = r.clock.Now()
	r.st.Version++
	r.ensureAutosave()
}

func (r *Room) ensureAutosave() {
	if r.autosaveLive || r.saver == nil {
		return
	}
	r.autosaveLive = true
	r.wg.Add(1)
	go r.autosaveLoop()
}

func (r *Room) handleQuietCheck() quietCheck {
	if r.clock.Since(r.lastChange) < AutosaveDebounce {
		return quietCheck{quiet: false}
	}
	r.autosaveLive = false
	return quietCheck{quiet: true, raw: r.takeDirtySnapshot()}
}

func (r *Room) takeDirtySnapshot() []byte {
	if !r.dirty {
		return nil
	}
	raw, err := state.Encode(r.st)
	if err != nil {
		logging.Error(r.ctx, "encode room state failed", zap.String("room_id", r.id), zap.Error(err))
		return nil
	}
	r.dirty = false
	return raw
}

// --- fanout / presence ---

func (r *Room) sendTo(s Sender, ev state.Event) {
	data, err := ev.Marshal()
	if err != nil {
		logging.Error(r.ctx, "marshal event failed", zap.String("room_id", r.id), zap.Error(err))
		return
	}
	if !s.Send(data) {
		r.reap([]Sender{s})
	}
}

// broadcast serializes once and writes to every attached socket. Failed
// sockets are reaped and presence is re-announced; send failures never
// propagate to the caller.
func (r *Room) broadcast(ev state.Event) {
	data, err := ev.Marshal()
	if err != nil {
		logging.Error(r.ctx, "marshal broadcast failed", zap.String("room_id", r.id), zap.Error(err))
		return
	}
	var dead []Sender
	for s := range r.clients {
		if !s.Send(data) {
			dead = append(dead, s)
		}
	}
	if len(dead) > 0 {
		r.reap(dead)
	}
}

func (r *Room) reap(dead []Sender) {
	for _, s := range dead {
		clientID, ok := r.clients[s]
		if !ok {
			continue
		}
		delete(r.clients, s)
		r.decrPresence(clientID)
		s.Disconnect()
		logging.Warn(r.ctx, "reaped dead socket", zap.String("room_id", r.id), zap.String("client_id", clientID))
	}
	if len(r.clients) == 0 {
		metrics.RoomClients.DeleteLabelValues(r.id)
		if r.onEmpty != nil {
			go r.onEmpty(r.id)
		}
		return
	}
	metrics.RoomClients.WithLabelValues(r.id).Set(float64(len(r.clients)))
	// Announce without cascading: a failure here just drops the socket.
	data, err := r.presenceEvent().Marshal()
	if err != nil {
		return
	}
	for s := range r.clients {
		if !s.Send(data) {
			if clientID, ok := r.clients[s]; ok {
				delete(r.clients, s)
				r.decrPresence(clientID)
				s.Disconnect()
			}
		}
	}
}

func (r *Room) decrPresence(clientID string) {
	if n := r.counts[clientID] - 1; n <= 0 {
		delete(r.counts, clientID)
	} else {
		r.counts[clientID] = n
	}
}

func (r *Room) presentClients() []string {
	ids := make([]string, 0, len(r.counts))
	for id := range r.counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Room) presenceEvent() state.Event {
	return state.NewEvent(state.EventPresence, state.PresencePayload{
		Clients: r.presentClients(),
		GMID:    r.st.GMID,
		RoomID:  r.id,
	})
}

func (r *Room) stateSyncEvent() state.Event {
	redacted, err := state.Redacted(r.st)
	if err != nil {
		logging.Error(r.ctx, "redact state failed", zap.String("room_id", r.id), zap.Error(err))
		redacted = json.RawMessage(`{}`)
	}
	return state.Event{Type: state.EventStateSync, Payload: redacted}
}
