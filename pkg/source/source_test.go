package source

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource counts calls and optionally fails every call.
type fakeSource struct {
	calls atomic.Int64
	fail  bool
	name  string
}

var _ Source = (*fakeSource)(nil)

func (f *fakeSource) Activities(
	_ context.Context, testID string,
) ([]ActivityRecord, []AttachmentRow, error) {
	f.calls.Add(1)

	if f.fail {
		return nil, nil, errors.New("backend unavailable")
	}

	return []ActivityRecord{{ID: "a1", Title: f.name + ":" + testID}},
		[]AttachmentRow{{ActivityID: "a1", Name: "shot"}}, nil
}

func (f *fakeSource) FailureIssues(
	_ context.Context, _ string,
) ([]FailureIssueRecord, error) {
	f.calls.Add(1)

	if f.fail {
		return nil, errors.New("backend unavailable")
	}

	return []FailureIssueRecord{{UUID: "u1", CompactMessage: f.name}}, nil
}

func (f *fakeSource) StackFrames(
	_ context.Context, _ string,
) ([]StackFrameRecord, error) {
	f.calls.Add(1)

	if f.fail {
		return nil, errors.New("backend unavailable")
	}

	return []StackFrameRecord{{SymbolName: "main"}}, nil
}

func (f *fakeSource) Manifest(_ context.Context) ([]ManifestItem, error) {
	f.calls.Add(1)

	if f.fail {
		return nil, errors.New("backend unavailable")
	}

	return []ManifestItem{{ExportedFileName: "file.png"}}, nil
}

func (f *fakeSource) SymbolTable(
	_ context.Context, _ string,
) (map[string]SymbolLocation, error) {
	f.calls.Add(1)

	if f.fail {
		return nil, errors.New("backend unavailable")
	}

	return map[string]SymbolLocation{"Tap": {File: "App.swift", Line: 10}}, nil
}

func (f *fakeSource) TestIdentifiers(_ context.Context) ([]string, error) {
	f.calls.Add(1)

	if f.fail {
		return nil, errors.New("backend unavailable")
	}

	return []string{"TestA", "TestB"}, nil
}

func TestCachedSource_PopulatesOnce(t *testing.T) {
	inner := &fakeSource{name: "db"}
	cached := NewCachedSource(inner)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		activities, attachments, err := cached.Activities(ctx, "TestA")
		require.NoError(t, err)
		require.Len(t, activities, 1)
		require.Len(t, attachments, 1)
	}

	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedSource_DistinctKeys(t *testing.T) {
	inner := &fakeSource{name: "db"}
	cached := NewCachedSource(inner)
	ctx := context.Background()

	_, _, err := cached.Activities(ctx, "TestA")
	require.NoError(t, err)

	_, _, err = cached.Activities(ctx, "TestB")
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCachedSource_ConcurrentReaders(t *testing.T) {
	inner := &fakeSource{name: "db"}
	cached := NewCachedSource(inner)
	ctx := context.Background()

	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := cached.FailureIssues(ctx, "TestA")
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	// Parallel readers for the same key must not duplicate the call.
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedSource_ErrorNotCached(t *testing.T) {
	inner := &fakeSource{name: "db", fail: true}
	cached := NewCachedSource(inner)
	ctx := context.Background()

	_, err := cached.FailureIssues(ctx, "TestA")
	require.Error(t, err)

	inner.fail = false

	issues, err := cached.FailureIssues(ctx, "TestA")
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestFallbackSource_PrefersPrimary(t *testing.T) {
	primary := &fakeSource{name: "tool"}
	secondary := &fakeSource{name: "db"}
	src := NewFallbackSource(logrus.New(), primary, secondary)

	activities, _, err := src.Activities(context.Background(), "TestA")
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "tool:TestA", activities[0].Title)
	assert.Equal(t, int64(0), secondary.calls.Load())
}

func TestFallbackSource_FallsBackPerCall(t *testing.T) {
	primary := &fakeSource{name: "tool", fail: true}
	secondary := &fakeSource{name: "db"}
	src := NewFallbackSource(logrus.New(), primary, secondary)

	activities, _, err := src.Activities(context.Background(), "TestA")
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "db:TestA", activities[0].Title)

	ids, err := src.TestIdentifiers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"TestA", "TestB"}, ids)
}

func TestFallbackSource_BothFail(t *testing.T) {
	primary := &fakeSource{name: "tool", fail: true}
	secondary := &fakeSource{name: "db", fail: true}
	src := NewFallbackSource(logrus.New(), primary, secondary)

	_, _, err := src.Activities(context.Background(), "TestA")
	assert.Error(t, err)
}

func TestDecodeFrameRows_OrdersByContainerPosition(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	ts := &toolSource{log: log}

	frames := ts.decodeFrameRows("ctx-1", []map[string]any{
		{"symbolName": "assertVisible", "orderInContainer": 2},
		{"symbolName": "testLogin()", "orderInContainer": 0},
		{"symbolName": "not a frame", "orderInContainer": []any{"bogus"}},
		{"symbolName": "tapButton", "orderInContainer": "1"},
	})

	require.Len(t, frames, 3)
	assert.Equal(t, "testLogin()", frames[0].SymbolName)
	assert.Equal(t, "tapButton", frames[1].SymbolName)
	assert.Equal(t, "assertVisible", frames[2].SymbolName)
}

func TestDecodeRow_WeakTyping(t *testing.T) {
	row := map[string]any{
		"id":            "act-1",
		"parentId":      "act-0",
		"title":         "Tap button",
		"startTime":     10.5,
		"orderInParent": "2",
	}

	var rec ActivityRecord
	require.NoError(t, decodeRow(row, &rec))

	assert.Equal(t, "act-1", rec.ID)
	assert.Equal(t, "act-0", rec.ParentID)
	assert.Equal(t, "Tap button", rec.Title)
	require.NotNil(t, rec.StartTime)
	assert.InDelta(t, 10.5, *rec.StartTime, 1e-9)
	require.NotNil(t, rec.OrderInParent)
	assert.Equal(t, 2, *rec.OrderInParent)
}
