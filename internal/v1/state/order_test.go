package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func stateWithStrokes(ids ...string) *RoomState {
	s := NewRoomState("r")
	for _, id := range ids {
		s.Strokes[id] = &Stroke{ID: id, Points: []Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}
	}
	return s
}

func TestNormalizeOrderDropsUnknownAndAppendsUnlisted(t *testing.T) {
	s := stateWithStrokes("a", "b", "c")
	s.DrawOrder[DrawOrderStrokes] = []string{"b", "ghost", "a"}

	NormalizeOrder(s)

	order := s.DrawOrder[DrawOrderStrokes]
	assert.Equal(t, []string{"b", "a"}, order[:2])
	assert.Len(t, order, 3)
	assert.Contains(t, order, "c")
}

func TestNormalizeOrderPreservesListedPrefixUnderPermutation(t *testing.T) {
	// Any permutation of a fully-listed order must come back unchanged.
	s := stateWithStrokes("a", "b", "c")
	for _, perm := range [][]string{
		{"a", "b", "c"},
		{"c", "a", "b"},
		{"b", "c", "a"},
	} {
		s.DrawOrder[DrawOrderStrokes] = append([]string{}, perm...)
		NormalizeOrder(s)
		assert.Equal(t, perm, s.DrawOrder[DrawOrderStrokes])
	}
}

func TestAppendOrderMovesToTop(t *testing.T) {
	s := stateWithStrokes("a", "b", "c")
	s.DrawOrder[DrawOrderStrokes] = []string{"a", "b", "c"}

	AppendOrder(s, DrawOrderStrokes, "a")
	assert.Equal(t, []string{"b", "c", "a"}, s.DrawOrder[DrawOrderStrokes])

	// Appending a brand-new id inserts it at the top.
	s.Strokes["d"] = &Stroke{ID: "d", Points: []Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}
	AppendOrder(s, DrawOrderStrokes, "d")
	assert.Equal(t, []string{"b", "c", "a", "d"}, s.DrawOrder[DrawOrderStrokes])
}

func TestRemoveOrder(t *testing.T) {
	s := stateWithStrokes("a", "b")
	s.DrawOrder[DrawOrderStrokes] = []string{"a", "b"}

	RemoveOrder(s, DrawOrderStrokes, "a")
	assert.Equal(t, []string{"b"}, s.DrawOrder[DrawOrderStrokes])

	RemoveOrder(s, DrawOrderStrokes, "missing")
	assert.Equal(t, []string{"b"}, s.DrawOrder[DrawOrderStrokes])
}
