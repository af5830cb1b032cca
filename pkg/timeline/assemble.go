package timeline

import (
	"fmt"
	"path/filepath"

	"github.com/testviz/xctimeline/pkg/activity"
	"github.com/testviz/xctimeline/pkg/gesture"
	"github.com/testviz/xctimeline/pkg/hierarchy"
	"github.com/testviz/xctimeline/pkg/source"
)

// Event is one row of the final flat timeline.
type Event struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Time    float64 `json:"time"`
	EndTime float64 `json:"endTime"`
	Kind    Kind    `json:"kind"`
}

// RunState is the fully assembled timeline for one test run, handed to
// the external renderer as data.
type RunState struct {
	TimelineBaseTime         float64               `json:"timelineBaseTime"`
	FirstEventLabel          string                `json:"firstEventLabel"`
	InitialFailureEventIndex int                   `json:"initialFailureEventIndex"`
	Events                   []Event               `json:"events"`
	TouchGestures            []*gesture.Overlay    `json:"touchGestures"`
	HierarchySnapshots       []*hierarchy.Snapshot `json:"hierarchySnapshots"`
}

// Assemble normalizes the correlated tree and produces the final run
// state. symbols may be nil when source-location lookup is unavailable;
// overlays and snapshots are the run's decoded auxiliary collections.
func Assemble(
	roots []*activity.Node,
	symbols map[string]source.SymbolLocation,
	overlays []*gesture.Overlay,
	snapshots []*hierarchy.Snapshot,
) *RunState {
	applySourceLocations(roots, symbols)

	roots = NormalizeForest(roots)

	state := &RunState{
		InitialFailureEventIndex: -1,
		TouchGestures:            overlays,
		HierarchySnapshots:       snapshots,
	}

	for _, root := range roots {
		emitEvents(root, state)
	}

	if len(state.Events) > 0 {
		state.TimelineBaseTime = state.Events[0].Time
		state.FirstEventLabel = state.Events[0].Title

		for _, event := range state.Events {
			if event.Time < state.TimelineBaseTime {
				state.TimelineBaseTime = event.Time
			}
		}
	}

	for i, event := range state.Events {
		if event.Kind == KindError {
			state.InitialFailureEventIndex = i

			break
		}
	}

	return state
}

// applySourceLocations resolves each node's source-location label from
// the symbol table before normalization, since the label participates
// in the merge-compatibility check.
func applySourceLocations(
	roots []*activity.Node, symbols map[string]source.SymbolLocation,
) {
	if len(symbols) == 0 {
		return
	}

	for _, root := range roots {
		root.Walk(func(node *activity.Node) {
			if loc, ok := symbols[node.Title]; ok && loc.File != "" {
				node.SourceLocation = fmt.Sprintf(
					"%s:%d", filepath.Base(loc.File), loc.Line,
				)
			}
		})
	}
}

// emitEvents walks the normalized tree in traversal order, emitting one
// event per node that carries a resolved timestamp. Nodes without one
// are still walked so their descendants' timing survives.
func emitEvents(node *activity.Node, state *RunState) {
	if node.StartTime != nil {
		_, maxT := node.TimeBounds()

		end := *node.StartTime
		if maxT != nil && *maxT > end {
			end = *maxT
		}

		state.Events = append(state.Events, Event{
			ID:      node.ID,
			Title:   eventTitle(node),
			Time:    *node.StartTime,
			EndTime: end,
			Kind:    Classify(node),
		})
	}

	for _, child := range node.Children {
		emitEvents(child, state)
	}
}

// eventTitle builds the display title: base title, source-location
// suffix, repeat-count annotation.
func eventTitle(node *activity.Node) string {
	title := node.Title

	if node.SourceLocation != "" {
		title += " (" + node.SourceLocation + ")"
	}

	if node.RepeatCount > 1 {
		title += fmt.Sprintf(" (x%d)", node.RepeatCount)
	}

	return title
}
