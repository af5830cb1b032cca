// Package source provides the activity-source capability: the record
// shapes produced by a result bundle and the interchangeable backends
// (external tool, embedded database) that read them.
package source

import "context"

// ActivityRecord is one flat activity row for a test-run execution.
// StartTime is in raw backend clock units; callers normalize it with
// pkg/timeutil before cross-source comparison.
type ActivityRecord struct {
	ID            string
	ParentID      string // empty for root rows
	Title         string
	StartTime     *float64
	FailureRefs   string // raw failure-reference string, format varies
	OrderInParent *int
}

// AttachmentRow is one attachment reference keyed by activity id.
type AttachmentRow struct {
	ActivityID string
	Name       string
	Timestamp  *float64
	PayloadID  string
}

// FailureIssueRecord describes a single recorded failure.
type FailureIssueRecord struct {
	UUID            string
	CompactMessage  string
	DetailedMessage string
	Timestamp       *float64
	StackContextID  string
}

// StackFrameRecord is one resolved call-stack frame, ordered within its
// stack context by OrderInContainer.
type StackFrameRecord struct {
	SymbolName       string
	FilePath         string
	LineNumber       int
	OrderInContainer int
}

// ManifestItem is one entry of the flat attachment manifest. An empty
// TestIdentifier marks the global bucket: attachments the backend could
// not attribute to a single test.
type ManifestItem struct {
	TestIdentifier        string
	ExportedFileName      string
	SuggestedName         string
	AssociatedWithFailure bool
	Timestamp             *float64
	PayloadID             string
}

// SymbolLocation is a resolved source location for an activity title,
// used to suffix timeline event titles.
type SymbolLocation struct {
	File string
	Line int
}

// Source supplies raw result-bundle records for one bundle path. Both
// backends produce identical record shapes; the engine never depends on
// which backend served a call.
type Source interface {
	// Activities returns all activity rows and attachment rows for one
	// test-run execution.
	Activities(ctx context.Context, testID string) ([]ActivityRecord, []AttachmentRow, error)

	// FailureIssues returns the failure issues recorded for one test.
	FailureIssues(ctx context.Context, testID string) ([]FailureIssueRecord, error)

	// StackFrames returns the ordered stack frames for a stack context id.
	StackFrames(ctx context.Context, contextID string) ([]StackFrameRecord, error)

	// Manifest returns the full attachment manifest for the bundle.
	Manifest(ctx context.Context) ([]ManifestItem, error)

	// SymbolTable returns resolved source locations keyed by activity
	// title for one test.
	SymbolTable(ctx context.Context, testID string) (map[string]SymbolLocation, error)

	// TestIdentifiers lists every test-run execution in the bundle.
	TestIdentifiers(ctx context.Context) ([]string, error)
}
