package state

// NormalizeOrder rewrites both draw-order sequences so each is the existing
// order filtered to ids that still exist, with unlisted ids appended. Runs on
// load, import/restore, and defensively after undo/redo.
func NormalizeOrder(s *RoomState) {
	strokes := filterKnown(s.DrawOrder[DrawOrderStrokes], func(id string) bool {
		_, ok := s.Strokes[id]
		return ok
	})
	shapes := filterKnown(s.DrawOrder[DrawOrderShapes], func(id string) bool {
		_, ok := s.Shapes[id]
		return ok
	})
	for id := range s.Strokes {
		if !contains(strokes, id) {
			strokes = append(strokes, id)
		}
	}
	for id := range s.Shapes {
		if !contains(shapes, id) {
			shapes = append(shapes, id)
		}
	}
	s.DrawOrder[DrawOrderStrokes] = strokes
	s.DrawOrder[DrawOrderShapes] = shapes
}

// AppendOrder moves id to the top of the given paint sequence, inserting it
// if absent.
func AppendOrder(s *RoomState, kind, id string) {
	NormalizeOrder(s)
	seq := filterKnown(s.DrawOrder[kind], func(x string) bool { return x != id })
	s.DrawOrder[kind] = append(seq, id)
}

// RemoveOrder filters id out of the given paint sequence.
func RemoveOrder(s *RoomState, kind, id string) {
	s.DrawOrder[kind] = filterKnown(s.DrawOrder[kind], func(x string) bool { return x != id })
}

func filterKnown(seq []string, keep func(string) bool) []string {
	out := make([]string, 0, len(seq))
	for _, id := range seq {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}

func contains(seq []string, id string) bool {
	for _, x := range seq {
		if x == id {
			return true
		}
	}
	return false
}
