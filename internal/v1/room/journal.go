package room

// journalCapacity bounds the undo stack; overflow discards the oldest
// snapshot.
const journalCapacity = 50

// journal is the per-room undo/redo store. Entries are opaque serialized
// RoomState snapshots, pushed immediately before each material mutation.
// Only the room actor touches it.
type journal struct {
	history [][]byte
	future  [][]byte
}

func newJournal() *journal {
	return &journal{}
}

// Push records a pre-mutation snapshot and clears the redo stack.
func (j *journal) Push(snapshot []byte) {
	j.history = append(j.history, snapshot)
	if len(j.history) > journalCapacity {
		j.history = j.history[len(j.history)-journalCapacity:]
	}
	j.future = nil
}

// Undo moves current onto the redo stack and pops the latest snapshot.
// Returns nil when there is nothing to undo.
func (j *journal) Undo(current []byte) []byte {
	if len(j.history) == 0 {
		return nil
	}
	j.future = append(j.future, current)
	last := j.history[len(j.history)-1]
	j.history = j.history[:len(j.history)-1]
	return last
}

// Redo is the inverse of Undo. Returns nil when the redo stack is empty.
func (j *journal) Redo(current []byte) []byte {
	if len(j.future) == 0 {
		return nil
	}
	j.history = append(j.history, current)
	next := j.future[len(j.future)-1]
	j.future = j.future[:len(j.future)-1]
	return next
}

// Len reports the undo depth, used by tests and metrics.
func (j *journal) Len() int {
	return len(j.history)
}
