package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// DefaultToolBinary is the record-extraction tool invoked when none is
// configured.
const DefaultToolBinary = "xcresulttool"

// toolSource reads bundle records by invoking the external extraction
// tool and parsing its JSON output. The tool's field naming is loose
// (camelCase with occasional numeric strings), so rows are decoded via
// mapstructure with weak typing rather than rigid struct tags.
type toolSource struct {
	log        logrus.FieldLogger
	binary     string
	bundlePath string
}

// Ensure interface compliance.
var _ Source = (*toolSource)(nil)

// NewToolSource creates a Source backed by the external extraction tool.
func NewToolSource(log logrus.FieldLogger, binary, bundlePath string) Source {
	if binary == "" {
		binary = DefaultToolBinary
	}

	return &toolSource{
		log:        log.WithField("component", "tool-source"),
		binary:     binary,
		bundlePath: bundlePath,
	}
}

// Activities returns all activity and attachment rows for one test.
func (t *toolSource) Activities(
	ctx context.Context, testID string,
) ([]ActivityRecord, []AttachmentRow, error) {
	var payload struct {
		Activities  []map[string]any `json:"activities"`
		Attachments []map[string]any `json:"attachments"`
	}

	if err := t.invoke(ctx, &payload,
		"get", "test-activities",
		"--path", t.bundlePath,
		"--test-id", testID,
		"--format", "json",
	); err != nil {
		return nil, nil, fmt.Errorf("reading activities for %s: %w", testID, err)
	}

	activities := make([]ActivityRecord, 0, len(payload.Activities))

	for _, row := range payload.Activities {
		var rec ActivityRecord
		if err := decodeRow(row, &rec); err != nil {
			t.log.WithError(err).WithField("test_id", testID).
				Warn("Skipping malformed activity row")

			continue
		}

		activities = append(activities, rec)
	}

	attachments := make([]AttachmentRow, 0, len(payload.Attachments))

	for _, row := range payload.Attachments {
		var rec AttachmentRow
		if err := decodeRow(row, &rec); err != nil {
			t.log.WithError(err).WithField("test_id", testID).
				Warn("Skipping malformed attachment row")

			continue
		}

		attachments = append(attachments, rec)
	}

	return activities, attachments, nil
}

// FailureIssues returns the failure issues recorded for one test.
func (t *toolSource) FailureIssues(
	ctx context.Context, testID string,
) ([]FailureIssueRecord, error) {
	var payload struct {
		Issues []map[string]any `json:"issues"`
	}

	if err := t.invoke(ctx, &payload,
		"get", "test-issues",
		"--path", t.bundlePath,
		"--test-id", testID,
		"--format", "json",
	); err != nil {
		return nil, fmt.Errorf("reading issues for %s: %w", testID, err)
	}

	issues := make([]FailureIssueRecord, 0, len(payload.Issues))

	for _, row := range payload.Issues {
		var rec FailureIssueRecord
		if err := decodeRow(row, &rec); err != nil {
			t.log.WithError(err).WithField("test_id", testID).
				Warn("Skipping malformed issue row")

			continue
		}

		issues = append(issues, rec)
	}

	return issues, nil
}

// StackFrames returns the ordered stack frames for a stack context id.
func (t *toolSource) StackFrames(
	ctx context.Context, contextID string,
) ([]StackFrameRecord, error) {
	var payload struct {
		Frames []map[string]any `json:"frames"`
	}

	if err := t.invoke(ctx, &payload,
		"get", "stack-frames",
		"--path", t.bundlePath,
		"--context-id", contextID,
		"--format", "json",
	); err != nil {
		return nil, fmt.Errorf("reading stack frames for %s: %w", contextID, err)
	}

	return t.decodeFrameRows(contextID, payload.Frames), nil
}

// decodeFrameRows decodes stack frame rows and orders them by their
// recorded container position. The tool emits frames in stream order,
// which is not guaranteed to match it.
func (t *toolSource) decodeFrameRows(
	contextID string, rows []map[string]any,
) []StackFrameRecord {
	frames := make([]StackFrameRecord, 0, len(rows))

	for _, row := range rows {
		var rec StackFrameRecord
		if err := decodeRow(row, &rec); err != nil {
			t.log.WithError(err).WithField("context_id", contextID).
				Warn("Skipping malformed stack frame row")

			continue
		}

		frames = append(frames, rec)
	}

	sort.SliceStable(frames, func(i, j int) bool {
		return frames[i].OrderInContainer < frames[j].OrderInContainer
	})

	return frames
}

// Manifest returns the full attachment manifest for the bundle.
func (t *toolSource) Manifest(ctx context.Context) ([]ManifestItem, error) {
	var payload struct {
		Items []map[string]any `json:"items"`
	}

	if err := t.invoke(ctx, &payload,
		"export", "attachment-manifest",
		"--path", t.bundlePath,
		"--format", "json",
	); err != nil {
		return nil, fmt.Errorf("reading attachment manifest: %w", err)
	}

	items := make([]ManifestItem, 0, len(payload.Items))

	for _, row := range payload.Items {
		var rec ManifestItem
		if err := decodeRow(row, &rec); err != nil {
			t.log.WithError(err).Warn("Skipping malformed manifest item")

			continue
		}

		items = append(items, rec)
	}

	return items, nil
}

// SymbolTable returns resolved source locations keyed by activity title.
func (t *toolSource) SymbolTable(
	ctx context.Context, testID string,
) (map[string]SymbolLocation, error) {
	var payload struct {
		Symbols []struct {
			Title string `json:"title"`
			File  string `json:"file"`
			Line  int    `json:"line"`
		} `json:"symbols"`
	}

	if err := t.invoke(ctx, &payload,
		"get", "symbol-table",
		"--path", t.bundlePath,
		"--test-id", testID,
		"--format", "json",
	); err != nil {
		return nil, fmt.Errorf("reading symbol table for %s: %w", testID, err)
	}

	table := make(map[string]SymbolLocation, len(payload.Symbols))

	for _, sym := range payload.Symbols {
		if sym.Title == "" {
			continue
		}

		table[sym.Title] = SymbolLocation{File: sym.File, Line: sym.Line}
	}

	return table, nil
}

// TestIdentifiers lists every test-run execution in the bundle.
func (t *toolSource) TestIdentifiers(ctx context.Context) ([]string, error) {
	var payload struct {
		Tests []struct {
			Identifier string `json:"identifier"`
		} `json:"tests"`
	}

	if err := t.invoke(ctx, &payload,
		"get", "tests",
		"--path", t.bundlePath,
		"--format", "json",
	); err != nil {
		return nil, fmt.Errorf("listing tests: %w", err)
	}

	ids := make([]string, 0, len(payload.Tests))
	for _, test := range payload.Tests {
		if test.Identifier != "" {
			ids = append(ids, test.Identifier)
		}
	}

	return ids, nil
}

// invoke runs the tool with the given arguments and unmarshals its
// stdout into out.
func (t *toolSource) invoke(ctx context.Context, out any, args ...string) error {
	//nolint:gosec // binary and args are controlled by the application.
	cmd := exec.CommandContext(ctx, t.binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	t.log.WithField("args", args).Debug("Invoking extraction tool")

	stdout, err := cmd.Output()
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("running %s: %w: %s", t.binary, err, msg)
		}

		return fmt.Errorf("running %s: %w", t.binary, err)
	}

	if err := json.Unmarshal(stdout, out); err != nil {
		return fmt.Errorf("parsing %s output: %w", t.binary, err)
	}

	return nil
}

// decodeRow decodes a loosely-typed JSON row into a record struct,
// tolerating numeric strings and missing fields.
func decodeRow(row map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("building row decoder: %w", err)
	}

	if err := dec.Decode(row); err != nil {
		return fmt.Errorf("decoding row: %w", err)
	}

	return nil
}
