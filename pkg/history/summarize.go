package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/testviz/xctimeline/pkg/pipeline"
)

// Summarize condenses a generated report into its persistent records.
// The returned report record carries a fresh report id; every run
// summary references it.
func Summarize(bundlePath string, report *pipeline.Report) (*ReportRecord, []*RunSummary) {
	record := &ReportRecord{
		BundlePath:  bundlePath,
		ReportID:    uuid.NewString(),
		GeneratedAt: report.GeneratedAt,
		DurationMS:  report.DurationMS,
		RunsTotal:   len(report.Runs),
		RecordedAt:  time.Now().UTC(),
	}

	if report.Host != nil {
		record.Hostname = report.Host.Hostname
		record.Platform = report.Host.Platform
		record.Arch = report.Host.Arch
	}

	summaries := make([]*RunSummary, 0, len(report.Runs))

	for _, run := range report.Runs {
		summary := &RunSummary{
			ReportID: record.ReportID,
			TestID:   run.TestID,
			Error:    run.Error,
		}

		if run.Timeline != nil {
			summary.FailureEventIndex = run.Timeline.InitialFailureEventIndex
			summary.Failed = run.Timeline.InitialFailureEventIndex >= 0
			summary.EventCount = len(run.Timeline.Events)
			summary.GestureCount = len(run.Timeline.TouchGestures)
			summary.SnapshotCount = len(run.Timeline.HierarchySnapshots)
		} else {
			summary.Failed = true
			summary.FailureEventIndex = -1
		}

		if summary.Failed {
			record.RunsFailed++
		}

		summaries = append(summaries, summary)
	}

	return record, summaries
}
