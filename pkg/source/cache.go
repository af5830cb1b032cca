package source

import (
	"context"
	"sync"
)

// memo is a mutex-guarded map with check-lock-populate semantics. The
// populate function runs under the lock so parallel workers asking for
// the same key never duplicate an expensive backend call.
type memo[V any] struct {
	mu      sync.Mutex
	entries map[string]V
}

func (m *memo[V]) getOrPopulate(key string, populate func() (V, error)) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries == nil {
		m.entries = make(map[string]V)
	}

	if v, ok := m.entries[key]; ok {
		return v, nil
	}

	v, err := populate()
	if err != nil {
		return v, err
	}

	m.entries[key] = v

	return v, nil
}

// activityData bundles the two row sets returned by Activities so they
// can be cached as one entry.
type activityData struct {
	activities  []ActivityRecord
	attachments []AttachmentRow
}

// cachedSource memoizes backend results for the lifetime of one
// pipeline invocation. Keys are test or context identifiers; the
// wrapped Source is already scoped to a single bundle path. Results
// must be treated as immutable by callers.
type cachedSource struct {
	inner Source

	activities memo[activityData]
	issues     memo[[]FailureIssueRecord]
	frames     memo[[]StackFrameRecord]
	symbols    memo[map[string]SymbolLocation]

	manifestOnce sync.Once
	manifest     []ManifestItem
	manifestErr  error

	testsOnce sync.Once
	tests     []string
	testsErr  error
}

// Ensure interface compliance.
var _ Source = (*cachedSource)(nil)

// NewCachedSource wraps a Source with process-lifetime memoization.
// Construct one per pipeline invocation and share it across workers.
func NewCachedSource(inner Source) Source {
	return &cachedSource{inner: inner}
}

func (c *cachedSource) Activities(
	ctx context.Context, testID string,
) ([]ActivityRecord, []AttachmentRow, error) {
	data, err := c.activities.getOrPopulate(testID, func() (activityData, error) {
		activities, attachments, err := c.inner.Activities(ctx, testID)
		if err != nil {
			return activityData{}, err
		}

		return activityData{activities: activities, attachments: attachments}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	return data.activities, data.attachments, nil
}

func (c *cachedSource) FailureIssues(
	ctx context.Context, testID string,
) ([]FailureIssueRecord, error) {
	return c.issues.getOrPopulate(testID, func() ([]FailureIssueRecord, error) {
		return c.inner.FailureIssues(ctx, testID)
	})
}

func (c *cachedSource) StackFrames(
	ctx context.Context, contextID string,
) ([]StackFrameRecord, error) {
	return c.frames.getOrPopulate(contextID, func() ([]StackFrameRecord, error) {
		return c.inner.StackFrames(ctx, contextID)
	})
}

func (c *cachedSource) Manifest(ctx context.Context) ([]ManifestItem, error) {
	c.manifestOnce.Do(func() {
		c.manifest, c.manifestErr = c.inner.Manifest(ctx)
	})

	return c.manifest, c.manifestErr
}

func (c *cachedSource) SymbolTable(
	ctx context.Context, testID string,
) (map[string]SymbolLocation, error) {
	return c.symbols.getOrPopulate(testID, func() (map[string]SymbolLocation, error) {
		return c.inner.SymbolTable(ctx, testID)
	})
}

func (c *cachedSource) TestIdentifiers(ctx context.Context) ([]string, error) {
	c.testsOnce.Do(func() {
		c.tests, c.testsErr = c.inner.TestIdentifiers(ctx)
	})

	return c.tests, c.testsErr
}
