package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"

	"github.com/testviz/xctimeline/pkg/source"
	"github.com/testviz/xctimeline/pkg/timeline"
	"github.com/testviz/xctimeline/pkg/timeutil"
)

// writeGestureArchive writes a two-point keyed gesture archive whose
// points sit away from the origin, with offsets relative to the gesture
// start.
func writeGestureArchive(t *testing.T, dir, name string) {
	t.Helper()

	data, err := plist.Marshal(map[string]any{
		"$version":  100000,
		"$archiver": "NSKeyedArchiver",
		"$objects": []any{
			"$null",
			map[string]any{
				"parentWindowSize": plist.UID(2),
				"eventPaths":       plist.UID(3),
			},
			map[string]any{"width": 390.0, "height": 844.0},
			map[string]any{"NS.objects": []any{plist.UID(4)}},
			map[string]any{"pointerEvents": plist.UID(5)},
			map[string]any{"NS.objects": []any{plist.UID(6), plist.UID(8)}},
			map[string]any{"coordinate": plist.UID(7), "offset": 0.0},
			map[string]any{"x": 180.0, "y": 420.0},
			map[string]any{"coordinate": plist.UID(9), "offset": 0.0},
			map[string]any{"x": 180.0, "y": 420.0},
		},
		"$top": map[string]any{"root": plist.UID(1)},
	}, plist.BinaryFormat)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

// The full path from raw records to a rendered tap: an activity owning
// a synthesized-event archive produces a tap event, and the decoded
// overlay snaps back to the activity's own start when the archive's
// completion timestamp trails it slightly.
func TestEngineBuildRun_EndToEndTapScenario(t *testing.T) {
	attachmentsDir := t.TempDir()
	writeGestureArchive(t, attachmentsDir, "gesture_0.plist")

	const attachmentName = "Synthesized Event 2024-01-01 at 1.00.00 PM"

	src := &stubSource{
		activities: map[string][]source.ActivityRecord{
			"Suite/testTap": {
				{ID: "root", Title: "Tap button", StartTime: timeutil.Ptr(2e9 + 10.0)},
			},
		},
		attachments: map[string][]source.AttachmentRow{
			"Suite/testTap": {
				{
					ActivityID: "root",
					Name:       attachmentName,
					Timestamp:  timeutil.Ptr(2e9 + 10.12),
				},
			},
		},
		manifest: []source.ManifestItem{
			{
				TestIdentifier:   "Suite/testTap",
				ExportedFileName: "gesture_0.plist",
				SuggestedName:    attachmentName,
				Timestamp:        timeutil.Ptr(2e9 + 10.12),
			},
		},
	}

	engine := NewEngine(testLogger(), src, attachmentsDir)

	state, err := engine.BuildRun(context.Background(), "Suite/testTap")
	require.NoError(t, err)

	require.Len(t, state.Events, 1)
	assert.Equal(t, timeline.KindTap, state.Events[0].Kind)

	require.Len(t, state.TouchGestures, 1)

	overlay := state.TouchGestures[0]

	// Skew 0.12 against the activity start at 10.00 falls inside the
	// (0.08, 1.2] correction window.
	assert.InDelta(t, 2e9+10.0, overlay.StartTime, 1e-9)
	require.NotEmpty(t, overlay.Points)
	assert.InDelta(t, 2e9+10.0, overlay.Points[0].Time, 1e-9)

	assert.True(t, overlay.HasUsableBounds())
	assert.InDelta(t, 390.0, overlay.ScreenWidth, 1e-9)
}

func TestEngineBuildRun_HierarchySnapshots(t *testing.T) {
	attachmentsDir := t.TempDir()

	dump := "Application, 0x1, {{0.0, 0.0}, {402.0, 874.0}}, label: 'Example'\n" +
		"  Button, 0x2, {{20.0, 100.0}, {80.0, 44.0}}, label: 'Log in'\n"
	require.NoError(t, os.WriteFile(
		filepath.Join(attachmentsDir, "hierarchy_0.txt"), []byte(dump), 0o644,
	))

	src := &stubSource{
		activities: map[string][]source.ActivityRecord{
			"t": {
				{ID: "root", Title: "Snapshot", StartTime: timeutil.Ptr(2e9)},
			},
		},
		attachments: map[string][]source.AttachmentRow{
			"t": {
				{ActivityID: "root", Name: "App UI hierarchy", Timestamp: timeutil.Ptr(2e9)},
			},
		},
		manifest: []source.ManifestItem{
			{
				TestIdentifier:   "t",
				ExportedFileName: "hierarchy_0.txt",
				SuggestedName:    "App UI hierarchy",
				Timestamp:        timeutil.Ptr(2e9),
			},
		},
	}

	engine := NewEngine(testLogger(), src, attachmentsDir)

	state, err := engine.BuildRun(context.Background(), "t")
	require.NoError(t, err)

	require.Len(t, state.HierarchySnapshots, 1)
	assert.Equal(t, "App UI hierarchy", state.HierarchySnapshots[0].Label)
	assert.Len(t, state.HierarchySnapshots[0].Elements, 2)

	require.Len(t, state.Events, 1)
	assert.Equal(t, timeline.KindSnapshot, state.Events[0].Kind)
}

func TestEngineBuildRun_MissingAttachmentFileDegrades(t *testing.T) {
	src := &stubSource{
		activities: map[string][]source.ActivityRecord{
			"t": {
				{ID: "root", Title: "Tap button", StartTime: timeutil.Ptr(2e9)},
			},
		},
		attachments: map[string][]source.AttachmentRow{
			"t": {
				{ActivityID: "root", Name: "Synthesized Event", Timestamp: timeutil.Ptr(2e9)},
			},
		},
		manifest: []source.ManifestItem{
			{
				TestIdentifier:   "t",
				ExportedFileName: "missing.plist",
				SuggestedName:    "Synthesized Event",
				Timestamp:        timeutil.Ptr(2e9),
			},
		},
	}

	engine := NewEngine(testLogger(), src, t.TempDir())

	state, err := engine.BuildRun(context.Background(), "t")
	require.NoError(t, err)
	assert.Empty(t, state.TouchGestures)
	require.Len(t, state.Events, 1)
}
