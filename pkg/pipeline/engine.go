// Package pipeline drives timeline reconstruction across all tests of
// one result bundle.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/testviz/xctimeline/pkg/activity"
	"github.com/testviz/xctimeline/pkg/attachment"
	"github.com/testviz/xctimeline/pkg/gesture"
	"github.com/testviz/xctimeline/pkg/hierarchy"
	"github.com/testviz/xctimeline/pkg/source"
	"github.com/testviz/xctimeline/pkg/timeline"
)

// Engine reconstructs the timeline for single test runs. It is safe to
// call concurrently for different test identifiers; per-run computation
// shares nothing but the (internally locked) source caches.
type Engine struct {
	log            logrus.FieldLogger
	src            source.Source
	attachmentsDir string
}

// NewEngine creates a timeline reconstruction engine over src.
// attachmentsDir is where the manifest's exported files live; it may be
// empty, in which case gesture and hierarchy decoding degrade to
// omission.
func NewEngine(
	log logrus.FieldLogger, src source.Source, attachmentsDir string,
) *Engine {
	return &Engine{
		log:            log.WithField("component", "engine"),
		src:            src,
		attachmentsDir: attachmentsDir,
	}
}

// BuildRun fully resolves one test run's timeline. Only the complete
// absence of activity data or an unreadable manifest is escalated;
// every other defect degrades with a warning.
func (e *Engine) BuildRun(
	ctx context.Context, testID string,
) (*timeline.RunState, error) {
	log := e.log.WithField("test_id", testID)

	activities, attachmentRows, err := e.src.Activities(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("loading activities: %w", err)
	}

	if len(activities) == 0 {
		return nil, fmt.Errorf("no activity data for test %s", testID)
	}

	roots := activity.BuildTree(log, activities, attachmentRows)

	// Graft failure issues.
	issues, err := e.src.FailureIssues(ctx, testID)
	if err != nil {
		log.WithError(err).Warn("Failed to load failure issues, keeping failure flags only")

		issues = nil
	}

	table := activity.NewIssueTable(log, issues, e.src.StackFrames)

	for _, root := range roots {
		activity.GraftFailures(ctx, root, table)
	}

	// Correlate attachments against the manifest.
	manifest, err := e.src.Manifest(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading attachment manifest: %w", err)
	}

	runMin, runMax := forestBounds(roots)
	correlator := attachment.NewCorrelator(log, manifest, testID, runMin, runMax)

	for _, root := range roots {
		attachment.CorrelateTree(root, correlator)
	}

	// Symbol table is optional; titles simply lose their location
	// suffix without it.
	symbols, err := e.src.SymbolTable(ctx, testID)
	if err != nil {
		log.WithError(err).Warn("Failed to load symbol table")

		symbols = nil
	}

	overlays := e.decodeGestures(log, roots)
	snapshots := e.decodeSnapshots(log, roots)

	state := timeline.Assemble(roots, symbols, overlays, snapshots)

	log.WithFields(logrus.Fields{
		"events":    len(state.Events),
		"gestures":  len(state.TouchGestures),
		"snapshots": len(state.HierarchySnapshots),
	}).Debug("Run timeline assembled")

	return state, nil
}

// forestBounds returns the overall activity timestamp range of a run.
func forestBounds(roots []*activity.Node) (minT, maxT *float64) {
	for _, root := range roots {
		rootMin, rootMax := root.TimeBounds()

		if rootMin != nil && (minT == nil || *rootMin < *minT) {
			minT = rootMin
		}

		if rootMax != nil && (maxT == nil || *rootMax > *maxT) {
			maxT = rootMax
		}
	}

	return minT, maxT
}

// decodeGestures reads and decodes every gesture-archive attachment in
// the correlated tree, applies tap alignment against the run's
// synthesized-event timestamps, and fills in screen bounds.
func (e *Engine) decodeGestures(
	log logrus.FieldLogger, roots []*activity.Node,
) []*gesture.Overlay {
	eventTimes := synthesizeEventTimes(roots)

	var overlays []*gesture.Overlay

	e.walkResolvedAttachments(roots, func(node *activity.Node, ref activity.AttachmentRef) {
		if !timeline.IsGestureAttachmentName(ref.Name) &&
			!timeline.IsGestureAttachmentName(ref.Resolved.SuggestedName) {
			return
		}

		base := baseTimestamp(node, ref)
		if base == nil {
			log.WithField("attachment", ref.Name).
				Warn("Gesture archive has no usable base timestamp, skipping")

			return
		}

		data, err := e.readAttachment(ref.Resolved.ExportedFileName)
		if err != nil {
			log.WithError(err).WithField("attachment", ref.Name).
				Warn("Failed to read gesture archive")

			return
		}

		overlay, err := gesture.DecodeOverlay(ref.Resolved.ExportedFileName, data, *base)
		if err != nil {
			log.WithError(err).WithField("attachment", ref.Name).
				Warn("Failed to decode gesture archive")

			return
		}

		overlays = append(overlays, gesture.AlignTap(overlay, eventTimes))
	})

	return gesture.InferScreenBounds(overlays)
}

// decodeSnapshots parses every UI-hierarchy dump attachment in the
// correlated tree.
func (e *Engine) decodeSnapshots(
	log logrus.FieldLogger, roots []*activity.Node,
) []*hierarchy.Snapshot {
	var snapshots []*hierarchy.Snapshot

	e.walkResolvedAttachments(roots, func(node *activity.Node, ref activity.AttachmentRef) {
		if !timeline.IsHierarchyAttachmentName(ref.Name) &&
			!timeline.IsHierarchyAttachmentName(ref.Resolved.SuggestedName) {
			return
		}

		data, err := e.readAttachment(ref.Resolved.ExportedFileName)
		if err != nil {
			log.WithError(err).WithField("attachment", ref.Name).
				Warn("Failed to read hierarchy dump")

			return
		}

		label := ref.Name
		if label == "" {
			label = ref.Resolved.SuggestedName
		}

		snap, err := hierarchy.ParseSnapshot(
			label,
			baseTimestamp(node, ref),
			ref.Resolved.AssociatedWithFailure,
			string(data),
		)
		if err != nil {
			log.WithError(err).WithField("attachment", ref.Name).
				Warn("Failed to parse hierarchy dump")

			return
		}

		snapshots = append(snapshots, snap)
	})

	return snapshots
}

// walkResolvedAttachments visits every attachment reference that
// resolved to a manifest entry.
func (e *Engine) walkResolvedAttachments(
	roots []*activity.Node,
	fn func(node *activity.Node, ref activity.AttachmentRef),
) {
	for _, root := range roots {
		root.Walk(func(node *activity.Node) {
			for _, ref := range node.Attachments {
				if ref.Resolved == nil {
					continue
				}

				fn(node, ref)
			}
		})
	}
}

// baseTimestamp estimates an attachment's wall-clock time from the
// reference, its manifest entry, then its owning activity.
func baseTimestamp(node *activity.Node, ref activity.AttachmentRef) *float64 {
	if ref.Timestamp != nil {
		return ref.Timestamp
	}

	if ref.Resolved != nil && ref.Resolved.Timestamp != nil {
		return ref.Resolved.Timestamp
	}

	return node.StartTime
}

// synthesizeEventTimes collects the timestamps that anchor tap
// alignment: every input-synthesis activity, plus the start of every
// activity owning a gesture archive, since some runs record the gesture
// on the high-level tap activity without an explicit synthesis step.
func synthesizeEventTimes(roots []*activity.Node) []float64 {
	var times []float64

	for _, root := range roots {
		root.Walk(func(node *activity.Node) {
			// The raw recorded start marks initiation; the resolved start
			// may have drifted forward onto the attachment timestamp.
			anchor := node.RawStartTime
			if anchor == nil {
				anchor = node.StartTime
			}

			if anchor == nil {
				return
			}

			if timeline.SynthesizeEventTitle(node.Title) || ownsGestureArchive(node) {
				times = append(times, *anchor)
			}
		})
	}

	return times
}

func ownsGestureArchive(node *activity.Node) bool {
	for _, ref := range node.Attachments {
		if timeline.IsGestureAttachmentName(ref.Name) {
			return true
		}

		if ref.Resolved != nil && timeline.IsGestureAttachmentName(ref.Resolved.SuggestedName) {
			return true
		}
	}

	return false
}

// readAttachment reads an exported attachment file from disk.
func (e *Engine) readAttachment(exportedName string) ([]byte, error) {
	if e.attachmentsDir == "" {
		return nil, fmt.Errorf("no attachments directory configured")
	}

	path := filepath.Join(e.attachmentsDir, filepath.Base(exportedName))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading attachment %s: %w", exportedName, err)
	}

	return data, nil
}
