package source

import (
	"context"

	"github.com/sirupsen/logrus"
)

// fallbackSource tries the primary backend first and falls back to the
// secondary per call when the primary fails. Retry policy lives here,
// at the backend boundary, never inside the correlation engine.
type fallbackSource struct {
	log       logrus.FieldLogger
	primary   Source
	secondary Source
}

// Ensure interface compliance.
var _ Source = (*fallbackSource)(nil)

// NewFallbackSource composes a primary and secondary backend into one
// Source with per-call fallback.
func NewFallbackSource(log logrus.FieldLogger, primary, secondary Source) Source {
	return &fallbackSource{
		log:       log.WithField("component", "fallback-source"),
		primary:   primary,
		secondary: secondary,
	}
}

// fallback2 runs fn against the primary, then the secondary, for calls
// returning two values.
func fallback2[A, B any](
	f *fallbackSource, op string,
	fn func(Source) (A, B, error),
) (A, B, error) {
	a, b, err := fn(f.primary)
	if err == nil {
		return a, b, nil
	}

	f.log.WithError(err).WithField("op", op).
		Warn("Primary backend failed, falling back to secondary")

	return fn(f.secondary)
}

// fallback1 runs fn against the primary, then the secondary.
func fallback1[A any](
	f *fallbackSource, op string,
	fn func(Source) (A, error),
) (A, error) {
	a, err := fn(f.primary)
	if err == nil {
		return a, nil
	}

	f.log.WithError(err).WithField("op", op).
		Warn("Primary backend failed, falling back to secondary")

	return fn(f.secondary)
}

func (f *fallbackSource) Activities(
	ctx context.Context, testID string,
) ([]ActivityRecord, []AttachmentRow, error) {
	return fallback2(f, "activities",
		func(s Source) ([]ActivityRecord, []AttachmentRow, error) {
			return s.Activities(ctx, testID)
		})
}

func (f *fallbackSource) FailureIssues(
	ctx context.Context, testID string,
) ([]FailureIssueRecord, error) {
	return fallback1(f, "failure_issues",
		func(s Source) ([]FailureIssueRecord, error) {
			return s.FailureIssues(ctx, testID)
		})
}

func (f *fallbackSource) StackFrames(
	ctx context.Context, contextID string,
) ([]StackFrameRecord, error) {
	return fallback1(f, "stack_frames",
		func(s Source) ([]StackFrameRecord, error) {
			return s.StackFrames(ctx, contextID)
		})
}

func (f *fallbackSource) Manifest(ctx context.Context) ([]ManifestItem, error) {
	return fallback1(f, "manifest",
		func(s Source) ([]ManifestItem, error) {
			return s.Manifest(ctx)
		})
}

func (f *fallbackSource) SymbolTable(
	ctx context.Context, testID string,
) (map[string]SymbolLocation, error) {
	return fallback1(f, "symbol_table",
		func(s Source) (map[string]SymbolLocation, error) {
			return s.SymbolTable(ctx, testID)
		})
}

func (f *fallbackSource) TestIdentifiers(ctx context.Context) ([]string, error) {
	return fallback1(f, "test_identifiers",
		func(s Source) ([]string, error) {
			return s.TestIdentifiers(ctx)
		})
}
