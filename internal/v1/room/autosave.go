package room

import (
	"go.uber.org/zap"

	"github.com/warboardhq/warboard/internal/v1/logging"
	"github.com/warboardhq/warboard/internal/v1/metrics"
)

// autosaveLoop debounces dirty-state flushes: it sleeps the debounce window
// and asks the actor whether the room stayed quiet. A single-shot timer
// would race with late edits, so the quiet check re-reads last_change_ts and
// the loop goes back to sleep whenever the room moved underneath it.
//
// Exactly one loop is live per room while the dirty bit is set; markDirty
// starts it and the quiet check retires it.
func (r *Room) autosaveLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			// Evict/shutdown paths flush synchronously via FlushNow.
			return
		case <-r.clock.After(AutosaveDebounce):
		}

		reply := make(chan quietCheck, 1)
		if !r.send(quietCheckMsg{reply: reply}) {
			return
		}
		var check quietCheck
		select {
		case check = <-reply:
		case <-r.ctx.Done():
			return
		}
		if !check.quiet {
			continue
		}
		if check.raw == nil {
			return
		}

		if err := r.saver.SaveRoom(r.ctx, r.id, check.raw); err != nil {
			logging.Error(r.ctx, "autosave failed, room stays dirty",
				zap.String("room_id", r.id), zap.Error(err))
			metrics.AutosaveFailures.Inc()
			// Re-mark dirty so the next debounce retries.
			r.send(redirtyMsg{})
			return
		}
		metrics.AutosaveFlushes.Inc()
		return
	}
}
