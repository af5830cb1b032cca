package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testviz/xctimeline/pkg/source"
	"github.com/testviz/xctimeline/pkg/timeutil"
)

type stubSource struct {
	activities  map[string][]source.ActivityRecord
	attachments map[string][]source.AttachmentRow
	issues      map[string][]source.FailureIssueRecord
	frames      map[string][]source.StackFrameRecord
	manifest    []source.ManifestItem
	manifestErr error
	symbols     map[string]map[string]source.SymbolLocation
	tests       []string
	testsErr    error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *stubSource) Activities(
	_ context.Context, testID string,
) ([]source.ActivityRecord, []source.AttachmentRow, error) {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	for {
		observed := s.maxInFlight.Load()
		if current <= observed || s.maxInFlight.CompareAndSwap(observed, current) {
			break
		}
	}

	return s.activities[testID], s.attachments[testID], nil
}

func (s *stubSource) FailureIssues(
	_ context.Context, testID string,
) ([]source.FailureIssueRecord, error) {
	return s.issues[testID], nil
}

func (s *stubSource) StackFrames(
	_ context.Context, contextID string,
) ([]source.StackFrameRecord, error) {
	return s.frames[contextID], nil
}

func (s *stubSource) Manifest(_ context.Context) ([]source.ManifestItem, error) {
	return s.manifest, s.manifestErr
}

func (s *stubSource) SymbolTable(
	_ context.Context, testID string,
) (map[string]source.SymbolLocation, error) {
	return s.symbols[testID], nil
}

func (s *stubSource) TestIdentifiers(_ context.Context) ([]string, error) {
	return s.tests, s.testsErr
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func simpleActivities(base float64) []source.ActivityRecord {
	return []source.ActivityRecord{
		{ID: "root", Title: "Run test", StartTime: timeutil.Ptr(base)},
		{ID: "a", ParentID: "root", Title: "Launch app", StartTime: timeutil.Ptr(base + 1)},
		{ID: "b", ParentID: "root", Title: "Tap button", StartTime: timeutil.Ptr(base + 2)},
	}
}

func TestEngineBuildRun(t *testing.T) {
	src := &stubSource{
		activities: map[string][]source.ActivityRecord{
			"SuiteA/test1": simpleActivities(2e9),
		},
	}

	engine := NewEngine(testLogger(), src, "")

	state, err := engine.BuildRun(context.Background(), "SuiteA/test1")
	require.NoError(t, err)

	require.Len(t, state.Events, 3)
	assert.Equal(t, "Run test", state.FirstEventLabel)
	assert.InDelta(t, 2e9, state.TimelineBaseTime, 1e-9)
	assert.Equal(t, -1, state.InitialFailureEventIndex)
}

func TestEngineBuildRun_NoActivities(t *testing.T) {
	src := &stubSource{}
	engine := NewEngine(testLogger(), src, "")

	_, err := engine.BuildRun(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no activity data")
}

func TestEngineBuildRun_ManifestErrorIsFatal(t *testing.T) {
	src := &stubSource{
		activities: map[string][]source.ActivityRecord{
			"t": simpleActivities(2e9),
		},
		manifestErr: fmt.Errorf("manifest truncated"),
	}
	engine := NewEngine(testLogger(), src, "")

	_, err := engine.BuildRun(context.Background(), "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest")
}

func TestEngineBuildRun_FailureGraft(t *testing.T) {
	uuid := "f47ac10b-58cc-4372-a567-0e02b2c3d479"

	activities := simpleActivities(2e9)
	activities[2].FailureRefs = uuid

	src := &stubSource{
		activities: map[string][]source.ActivityRecord{"t": activities},
		issues: map[string][]source.FailureIssueRecord{
			"t": {{
				UUID:           uuid,
				CompactMessage: "Element not found",
				Timestamp:      timeutil.Ptr(2e9 + 2.5),
				StackContextID: "stack-1",
			}},
		},
		frames: map[string][]source.StackFrameRecord{
			"stack-1": {
				{SymbolName: "testLogin()", FilePath: "LoginTests.swift", LineNumber: 42},
			},
		},
	}

	engine := NewEngine(testLogger(), src, "")

	state, err := engine.BuildRun(context.Background(), "t")
	require.NoError(t, err)

	require.NotEqual(t, -1, state.InitialFailureEventIndex)

	var titles []string
	for _, ev := range state.Events {
		titles = append(titles, ev.Title)
	}

	assert.Contains(t, titles, "Element not found")
	assert.Contains(t, titles, "testLogin()")
}

func TestPipelineRun(t *testing.T) {
	src := &stubSource{
		tests: []string{"SuiteA/test2", "SuiteA/test1", "SuiteB/test1"},
		activities: map[string][]source.ActivityRecord{
			"SuiteA/test1": simpleActivities(2e9),
			"SuiteA/test2": simpleActivities(2e9 + 100),
			// SuiteB/test1 has no activities and must fail in isolation.
		},
	}

	engine := NewEngine(testLogger(), src, "")
	pipe := NewPipeline(testLogger(), src, engine, 2)

	report, err := pipe.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Runs, 3)

	// Results come back sorted by test identifier.
	assert.Equal(t, "SuiteA/test1", report.Runs[0].TestID)
	assert.Equal(t, "SuiteA/test2", report.Runs[1].TestID)
	assert.Equal(t, "SuiteB/test1", report.Runs[2].TestID)

	assert.NotNil(t, report.Runs[0].Timeline)
	assert.NotNil(t, report.Runs[1].Timeline)
	assert.Nil(t, report.Runs[2].Timeline)
	assert.Contains(t, report.Runs[2].Error, "no activity data")

	assert.False(t, report.GeneratedAt.IsZero())
	assert.NotNil(t, report.Host)
}

func TestPipelineRun_ConcurrencyBounded(t *testing.T) {
	const limit = 2

	tests := make([]string, 0, 16)
	activities := make(map[string][]source.ActivityRecord, 16)

	for i := 0; i < 16; i++ {
		id := fmt.Sprintf("Suite/test%02d", i)
		tests = append(tests, id)
		activities[id] = simpleActivities(2e9 + float64(i))
	}

	src := &stubSource{tests: tests, activities: activities}

	engine := NewEngine(testLogger(), src, "")
	pipe := NewPipeline(testLogger(), src, engine, limit)

	_, err := pipe.Run(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, src.maxInFlight.Load(), int32(limit))
}

func TestPipelineRun_TestListErrorIsFatal(t *testing.T) {
	src := &stubSource{testsErr: fmt.Errorf("bundle unreadable")}

	engine := NewEngine(testLogger(), src, "")
	pipe := NewPipeline(testLogger(), src, engine, 1)

	_, err := pipe.Run(context.Background())
	require.Error(t, err)
}

func TestPipelineRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &stubSource{
		tests: []string{"a", "b"},
		activities: map[string][]source.ActivityRecord{
			"a": simpleActivities(2e9),
			"b": simpleActivities(2e9),
		},
	}

	engine := NewEngine(testLogger(), src, "")
	pipe := NewPipeline(testLogger(), src, engine, 1)

	_, err := pipe.Run(ctx)
	require.Error(t, err)
}
