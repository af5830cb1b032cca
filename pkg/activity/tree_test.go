package activity

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testviz/xctimeline/pkg/source"
	"github.com/testviz/xctimeline/pkg/timeutil"
)

func intPtr(n int) *int { return &n }

func TestBuildTree_ParentChildStructure(t *testing.T) {
	rows := []source.ActivityRecord{
		{ID: "root", Title: "Launch app", StartTime: timeutil.Ptr(1e9 + 10)},
		{ID: "c1", ParentID: "root", Title: "Tap button", StartTime: timeutil.Ptr(1e9 + 11)},
		{ID: "c2", ParentID: "root", Title: "Wait", StartTime: timeutil.Ptr(1e9 + 12)},
		{ID: "gc1", ParentID: "c1", Title: "Find element", StartTime: timeutil.Ptr(1e9 + 11.5)},
	}

	roots := BuildTree(logrus.New(), rows, nil)
	require.Len(t, roots, 1)

	root := roots[0]
	assert.Equal(t, "Launch app", root.Title)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "Tap button", root.Children[0].Title)
	assert.Equal(t, "Wait", root.Children[1].Title)
	require.Len(t, root.Children[0].Children, 1)
	assert.Equal(t, "Find element", root.Children[0].Children[0].Title)
}

func TestBuildTree_OrderTieBreak(t *testing.T) {
	// Explicit order beats start time; start time beats id.
	rows := []source.ActivityRecord{
		{ID: "root", Title: "Root"},
		{ID: "z", ParentID: "root", Title: "by-order-1", OrderInParent: intPtr(1), StartTime: timeutil.Ptr(2e9 + 50)},
		{ID: "a", ParentID: "root", Title: "by-order-2", OrderInParent: intPtr(2), StartTime: timeutil.Ptr(2e9 + 1)},
		{ID: "m", ParentID: "root", Title: "by-time", StartTime: timeutil.Ptr(2e9 + 10)},
		{ID: "b", ParentID: "root", Title: "by-id-b"},
		{ID: "c", ParentID: "root", Title: "by-id-c"},
	}

	roots := BuildTree(logrus.New(), rows, nil)
	require.Len(t, roots, 1)

	titles := make([]string, 0, 5)
	for _, child := range roots[0].Children {
		titles = append(titles, child.Title)
	}

	// "z" before "a" despite ids and times: explicit order wins where
	// both carry one. Nodes without order fall through to time, then id.
	assert.Equal(t, "by-order-1", titles[0])
	assert.Contains(t, titles, "by-order-2")
	assert.Contains(t, titles, "by-time")

	// The two id-only nodes stay in id order relative to each other.
	idxB, idxC := -1, -1
	for i, title := range titles {
		switch title {
		case "by-id-b":
			idxB = i
		case "by-id-c":
			idxC = i
		}
	}

	assert.Less(t, idxB, idxC)
}

func TestBuildTree_UnknownParentBecomesRoot(t *testing.T) {
	rows := []source.ActivityRecord{
		{ID: "a", Title: "Real root"},
		{ID: "b", ParentID: "missing", Title: "Orphan"},
	}

	roots := BuildTree(logrus.New(), rows, nil)
	require.Len(t, roots, 2)

	titles := []string{roots[0].Title, roots[1].Title}
	assert.Contains(t, titles, "Real root")
	assert.Contains(t, titles, "Orphan")
}

func TestBuildTree_SelfParentBecomesRoot(t *testing.T) {
	rows := []source.ActivityRecord{
		{ID: "a", ParentID: "a", Title: "Self-referential"},
	}

	roots := BuildTree(logrus.New(), rows, nil)
	require.Len(t, roots, 1)
	assert.Equal(t, "Self-referential", roots[0].Title)
	assert.Empty(t, roots[0].Children)
}

func TestBuildTree_CycleDoesNotLoop(t *testing.T) {
	// a -> b -> a: reachable from no root; the builder must terminate
	// and keep both rows.
	rows := []source.ActivityRecord{
		{ID: "a", ParentID: "b", Title: "A"},
		{ID: "b", ParentID: "a", Title: "B"},
	}

	roots := BuildTree(logrus.New(), rows, nil)
	require.Len(t, roots, 1)

	var count int

	roots[0].Walk(func(*Node) { count++ })
	assert.Equal(t, 2, count)
}

func TestBuildTree_StartTimeFromAttachments(t *testing.T) {
	rows := []source.ActivityRecord{
		{ID: "root", Title: "Container"},
	}
	attachments := []source.AttachmentRow{
		{ActivityID: "root", Name: "Screenshot", Timestamp: timeutil.Ptr(2e9 + 5)},
		{ActivityID: "root", Name: "Screenshot", Timestamp: timeutil.Ptr(2e9 + 3)},
	}

	roots := BuildTree(logrus.New(), rows, attachments)
	require.Len(t, roots, 1)
	require.NotNil(t, roots[0].StartTime)
	assert.InDelta(t, 2e9+3, *roots[0].StartTime, 1e-9)
}

func TestBuildTree_StartTimeInheritedFromChildren(t *testing.T) {
	rows := []source.ActivityRecord{
		{ID: "root", Title: "Container"},
		{ID: "c1", ParentID: "root", Title: "Step 1", StartTime: timeutil.Ptr(2e9 + 7)},
		{ID: "c2", ParentID: "root", Title: "Step 2", StartTime: timeutil.Ptr(2e9 + 4)},
	}

	roots := BuildTree(logrus.New(), rows, nil)
	require.Len(t, roots, 1)
	require.NotNil(t, roots[0].StartTime)
	assert.InDelta(t, 2e9+4, *roots[0].StartTime, 1e-9)
}

func TestBuildTree_NormalizesAppleEpoch(t *testing.T) {
	rows := []source.ActivityRecord{
		{ID: "root", Title: "Step", StartTime: timeutil.Ptr(100.0)},
	}

	roots := BuildTree(logrus.New(), rows, nil)
	require.Len(t, roots, 1)
	require.NotNil(t, roots[0].StartTime)
	assert.InDelta(t, 978307300.0, *roots[0].StartTime, 1e-9)
}

func TestNode_TimeBounds(t *testing.T) {
	root := &Node{
		Title:     "Root",
		StartTime: timeutil.Ptr(100),
		Attachments: []AttachmentRef{
			{Name: "late", Timestamp: timeutil.Ptr(250)},
		},
		Children: []*Node{
			{Title: "Child", StartTime: timeutil.Ptr(50)},
		},
	}

	minT, maxT := root.TimeBounds()
	require.NotNil(t, minT)
	require.NotNil(t, maxT)
	assert.InDelta(t, 50.0, *minT, 1e-9)
	assert.InDelta(t, 250.0, *maxT, 1e-9)
}
