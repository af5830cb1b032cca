package gesture

import (
	"fmt"
	"math"
	"sort"
)

const (
	// degenerateRadius rejects placeholder gestures: decodes where
	// every point sits on top of the origin.
	degenerateRadius = 0.5

	// minUsableDimension is the smallest window dimension treated as
	// real; recorders emit 0 or 1 for unknown window sizes.
	minUsableDimension = 1.0
)

// Point is one touch sample on the normalized Unix-epoch timescale.
type Point struct {
	Time float64
	X    float64
	Y    float64
}

// Overlay is one decoded touch gesture: ordered, deduplicated points
// with the screen bounds they were recorded against. Overlays are
// immutable values; time shifts produce a new instance.
type Overlay struct {
	StartTime    float64
	EndTime      float64
	ScreenWidth  float64
	ScreenHeight float64
	Points       []Point
}

// HasUsableBounds reports whether both screen dimensions are real.
func (o *Overlay) HasUsableBounds() bool {
	return o.ScreenWidth > minUsableDimension && o.ScreenHeight > minUsableDimension
}

// Duration returns the gesture's point-to-point time span.
func (o *Overlay) Duration() float64 {
	return o.EndTime - o.StartTime
}

// shifted returns a copy of o moved earlier by skew seconds.
func (o *Overlay) shifted(skew float64) *Overlay {
	out := &Overlay{
		StartTime:    o.StartTime - skew,
		EndTime:      o.EndTime - skew,
		ScreenWidth:  o.ScreenWidth,
		ScreenHeight: o.ScreenHeight,
		Points:       make([]Point, len(o.Points)),
	}

	for i, p := range o.Points {
		out.Points[i] = Point{Time: p.Time - skew, X: p.X, Y: p.Y}
	}

	return out
}

// DecodeOverlay decodes one serialized gesture archive into an Overlay.
// baseTimestamp is the estimated wall-clock start of the gesture;
// pointer-event offsets are relative to it. name guides decompression
// sniffing and error messages. Returns an error for archives that
// decode to no usable points.
func DecodeOverlay(name string, data []byte, baseTimestamp float64) (*Overlay, error) {
	raw, err := Decompress(name, data)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", name, err)
	}

	archive, err := ParseArchive(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}

	root, ok := archive.Root()
	if !ok {
		return nil, fmt.Errorf("decoding %s: archive has no root object", name)
	}

	rootDict, ok := archive.Dict(root)
	if !ok {
		return nil, fmt.Errorf("decoding %s: root object is not a dictionary", name)
	}

	width, height := decodeWindowSize(archive, rootDict)

	points := decodePoints(archive, rootDict, baseTimestamp, width, height)
	if len(points) == 0 {
		return nil, fmt.Errorf("decoding %s: no pointer events", name)
	}

	if allNearOrigin(points) {
		return nil, fmt.Errorf("decoding %s: degenerate gesture at origin", name)
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Time < points[j].Time
	})

	points = dedupePoints(points)

	return &Overlay{
		StartTime:    points[0].Time,
		EndTime:      points[len(points)-1].Time,
		ScreenWidth:  width,
		ScreenHeight: height,
		Points:       points,
	}, nil
}

// decodeWindowSize reads the parentWindowSize sub-object. Absent or
// degenerate sizes are not fatal; they yield zero dimensions for the
// inference fallback to fill in.
func decodeWindowSize(archive *Archive, root map[string]any) (width, height float64) {
	sizeDict, ok := archive.Dict(root["parentWindowSize"])
	if !ok {
		return 0, 0
	}

	width, _ = archive.Float(sizeDict["width"])
	height, _ = archive.Float(sizeDict["height"])

	return width, height
}

// decodePoints walks eventPaths -> pointerEvents and extracts one Point
// per event. Malformed events are skipped individually.
func decodePoints(
	archive *Archive,
	root map[string]any,
	baseTimestamp, width, height float64,
) []Point {
	paths, ok := archive.Slice(root["eventPaths"])
	if !ok {
		return nil
	}

	clamp := width > minUsableDimension && height > minUsableDimension

	var points []Point

	for _, rawPath := range paths {
		pathDict, ok := archive.Dict(rawPath)
		if !ok {
			continue
		}

		events, ok := archive.Slice(pathDict["pointerEvents"])
		if !ok {
			continue
		}

		for _, rawEvent := range events {
			eventDict, ok := archive.Dict(rawEvent)
			if !ok {
				continue
			}

			coordDict, ok := archive.Dict(eventDict["coordinate"])
			if !ok {
				continue
			}

			x, xOK := archive.Float(coordDict["x"])
			y, yOK := archive.Float(coordDict["y"])

			if !xOK || !yOK {
				continue
			}

			offset, _ := archive.Float(eventDict["offset"])

			if clamp {
				x = math.Min(math.Max(x, 0), width)
				y = math.Min(math.Max(y, 0), height)
			} else {
				x = math.Max(x, 0)
				y = math.Max(y, 0)
			}

			points = append(points, Point{
				Time: baseTimestamp + math.Max(0, offset),
				X:    x,
				Y:    y,
			})
		}
	}

	return points
}

// allNearOrigin reports whether every point lies within the degenerate
// radius of the origin.
func allNearOrigin(points []Point) bool {
	for _, p := range points {
		if math.Hypot(p.X, p.Y) > degenerateRadius {
			return false
		}
	}

	return true
}

// dedupePoints removes exact duplicates from a time-sorted point list.
func dedupePoints(points []Point) []Point {
	out := points[:1]

	for _, p := range points[1:] {
		last := out[len(out)-1]
		if p == last {
			continue
		}

		out = append(out, p)
	}

	return out
}
