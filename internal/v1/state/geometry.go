package state

import "math"

// EraserRadiusDefault is used when an ERASE_AT payload omits the radius.
const EraserRadiusDefault = 18.0

// StrokeHitsCircle reports whether any point of the stroke lies within the
// eraser disk centered at (cx, cy) with radius r.
func StrokeHitsCircle(s *Stroke, cx, cy, r float64) bool {
	rr := r * r
	for _, pt := range s.Points {
		dx := pt.X - cx
		dy := pt.Y - cy
		if dx*dx+dy*dy <= rr {
			return true
		}
	}
	return false
}

// ShapeHitsCircle reports whether the shape intersects the eraser disk.
// Lines use clamped segment distance, rects use squared distance to the
// axis-aligned box, circles compare center distance against summed radii.
func ShapeHitsCircle(s *Shape, cx, cy, r float64) bool {
	rr := r * r
	switch s.Type {
	case ShapeLine:
		vx := s.X2 - s.X1
		vy := s.Y2 - s.Y1
		segLen2 := vx*vx + vy*vy
		if segLen2 == 0 {
			dx := cx - s.X1
			dy := cy - s.Y1
			return dx*dx+dy*dy <= rr
		}
		t := ((cx-s.X1)*vx + (cy-s.Y1)*vy) / segLen2
		t = math.Max(0, math.Min(1, t))
		px := s.X1 + t*vx
		py := s.Y1 + t*vy
		dx := cx - px
		dy := cy - py
		return dx*dx+dy*dy <= rr

	case ShapeRect:
		minx := math.Min(s.X1, s.X2)
		maxx := math.Max(s.X1, s.X2)
		miny := math.Min(s.Y1, s.Y2)
		maxy := math.Max(s.Y1, s.Y2)
		dx := math.Max(math.Max(minx-cx, 0), cx-maxx)
		dy := math.Max(math.Max(miny-cy, 0), cy-maxy)
		return dx*dx+dy*dy <= rr

	case ShapeCircle:
		radius := math.Hypot(s.X2-s.X1, s.Y2-s.Y1)
		dist := math.Hypot(cx-s.X1, cy-s.Y1)
		return dist <= radius+r
	}
	return false
}
