package gesture

import "math"

const (
	// Tap classification bounds.
	tapMaxDuration     = 0.09
	tapMaxPathLength   = 12.0
	tapMaxDisplacement = 12.0
	tapMaxPoints       = 3

	// Alignment skew window. The archive timestamps gesture completion,
	// not initiation, so a tap-like gesture trailing its synthesized
	// event by a small, plausible skew is pulled back onto the event.
	alignMinSkew = 0.08
	alignMaxSkew = 1.2
)

// DefaultScreenWidth and DefaultScreenHeight are the fallback logical
// screen bounds when no gesture in a run carries usable window sizes.
const (
	DefaultScreenWidth  = 402.0
	DefaultScreenHeight = 874.0
)

// IsTapLike classifies a gesture as a tap: short, small, and simple.
func (o *Overlay) IsTapLike() bool {
	if len(o.Points) > tapMaxPoints {
		return false
	}

	if o.Duration() > tapMaxDuration {
		return false
	}

	var pathLen float64

	for i := 1; i < len(o.Points); i++ {
		pathLen += math.Hypot(
			o.Points[i].X-o.Points[i-1].X,
			o.Points[i].Y-o.Points[i-1].Y,
		)
	}

	if pathLen > tapMaxPathLength {
		return false
	}

	first, last := o.Points[0], o.Points[len(o.Points)-1]
	if math.Hypot(last.X-first.X, last.Y-first.Y) > tapMaxDisplacement {
		return false
	}

	return true
}

// AlignTap pulls a tap-like gesture's timing back onto its nearest
// synthesized-event activity when the gesture starts later than the
// event by a skew inside (alignMinSkew, alignMaxSkew]. Returns a new
// overlay when shifted and o unchanged otherwise.
func AlignTap(o *Overlay, synthesizedEventTimes []float64) *Overlay {
	if len(synthesizedEventTimes) == 0 || !o.IsTapLike() {
		return o
	}

	nearest, found := 0.0, false

	for _, t := range synthesizedEventTimes {
		if !found || math.Abs(o.StartTime-t) < math.Abs(o.StartTime-nearest) {
			nearest, found = t, true
		}
	}

	if !found || math.Abs(o.StartTime-nearest) > alignMaxSkew {
		return o
	}

	skew := o.StartTime - nearest
	if skew <= alignMinSkew || skew > alignMaxSkew {
		return o
	}

	return o.shifted(skew)
}

// InferScreenBounds fills in usable screen dimensions across a run's
// overlays. When no overlay has real bounds, each degenerate overlay
// gets the larger of the default phone bounds and its own maximum
// observed coordinate plus one. Overlays with real bounds are returned
// untouched.
func InferScreenBounds(overlays []*Overlay) []*Overlay {
	out := make([]*Overlay, len(overlays))

	for i, o := range overlays {
		if o.HasUsableBounds() {
			out[i] = o

			continue
		}

		var maxX, maxY float64

		for _, p := range o.Points {
			maxX = math.Max(maxX, p.X)
			maxY = math.Max(maxY, p.Y)
		}

		fixed := *o
		fixed.ScreenWidth = math.Max(DefaultScreenWidth, maxX+1)
		fixed.ScreenHeight = math.Max(DefaultScreenHeight, maxY+1)
		out[i] = &fixed
	}

	return out
}
