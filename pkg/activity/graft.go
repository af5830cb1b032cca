package activity

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/testviz/xctimeline/pkg/source"
	"github.com/testviz/xctimeline/pkg/timeutil"
)

// uuidPattern scans free-form failure-reference text for UUID-shaped
// tokens. Candidates are validated with uuid.Parse before use.
var uuidPattern = regexp.MustCompile(
	`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`,
)

// refDelimiters is the naive fallback split set for reference strings
// that carry no UUID-shaped token.
const refDelimiters = ",;| \t\n"

// Issue is one resolved failure with its filtered stack frames.
type Issue struct {
	ID        string
	Message   string
	Timestamp *float64
	Frames    []source.StackFrameRecord
}

// IssueTable resolves failure-reference ids to issues for one test run.
// Issues are memoized by lowercase id; several activities citing the
// same id share one Issue value.
type IssueTable struct {
	log    logrus.FieldLogger
	frames func(ctx context.Context, contextID string) ([]source.StackFrameRecord, error)

	mu      sync.Mutex
	byID    map[string]*source.FailureIssueRecord
	resolve map[string]*Issue
}

// NewIssueTable builds a run-scoped issue table. frames looks up the
// ordered stack frames for a stack context id; it may be nil when the
// backend has no frame data.
func NewIssueTable(
	log logrus.FieldLogger,
	issues []source.FailureIssueRecord,
	frames func(ctx context.Context, contextID string) ([]source.StackFrameRecord, error),
) *IssueTable {
	byID := make(map[string]*source.FailureIssueRecord, len(issues))

	for i := range issues {
		byID[strings.ToLower(issues[i].UUID)] = &issues[i]
	}

	return &IssueTable{
		log:     log.WithField("component", "issue-table"),
		frames:  frames,
		byID:    byID,
		resolve: make(map[string]*Issue, len(issues)),
	}
}

// Lookup resolves a single issue id, memoizing the result. Returns nil
// when the id is unknown.
func (t *IssueTable) Lookup(ctx context.Context, id string) *Issue {
	key := strings.ToLower(strings.TrimSpace(id))
	if key == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if issue, ok := t.resolve[key]; ok {
		return issue
	}

	rec, ok := t.byID[key]
	if !ok {
		return nil
	}

	issue := &Issue{
		ID:        rec.UUID,
		Message:   rec.CompactMessage,
		Timestamp: timeutil.Normalize(rec.Timestamp),
	}

	if issue.Message == "" {
		issue.Message = rec.DetailedMessage
	}

	if rec.StackContextID != "" && t.frames != nil {
		frames, err := t.frames(ctx, rec.StackContextID)
		if err != nil {
			// Absent frame data degrades to a frameless issue node.
			t.log.WithError(err).WithField("context_id", rec.StackContextID).
				Warn("Failed to resolve stack frames")
		} else {
			issue.Frames = filterFrames(frames)
		}
	}

	t.resolve[key] = issue

	return issue
}

// GraftFailures walks the tree and inserts synthetic failure branches
// for every node carrying a failure-reference string. The node keeps
// its failure flag even when no reference resolves.
func GraftFailures(ctx context.Context, root *Node, table *IssueTable) {
	root.Walk(func(node *Node) {
		if node.FailureRefs == "" {
			return
		}

		node.FailureAssociated = true

		for _, id := range ParseFailureRefs(node.FailureRefs) {
			issue := table.Lookup(ctx, id)
			if issue == nil {
				continue
			}

			node.Children = append(node.Children, syntheticIssueNode(node, issue))
		}

		sortSiblings(node.Children)
	})
}

// syntheticIssueNode builds the failure branch for one resolved issue:
// a child titled with the failure message and one grandchild per stack
// frame, titled with the bare symbol name. File and line stay off the
// title; source-location lookup surfaces them separately.
func syntheticIssueNode(parent *Node, issue *Issue) *Node {
	ts := issue.Timestamp
	if ts == nil {
		ts = parent.StartTime
	}

	node := &Node{
		ID:                     issue.ID,
		Title:                  issue.Message,
		StartTime:              ts,
		FailureAssociated:      true,
		SyntheticFailureBranch: true,
		RepeatCount:            1,
	}

	for i, frame := range issue.Frames {
		node.Children = append(node.Children, &Node{
			ID:                     frameID(issue.ID, i),
			Title:                  frame.SymbolName,
			StartTime:              ts,
			FailureAssociated:      true,
			SyntheticFailureBranch: true,
			RepeatCount:            1,
		})
	}

	return node
}

func frameID(issueID string, idx int) string {
	return issueID + "/frame-" + strconv.Itoa(idx)
}

// ParseFailureRefs extracts issue ids from a failure-reference string.
// UUID-shaped tokens take priority when present; otherwise the string
// is split naively on delimiters. Ids are deduplicated
// case-insensitively, preserving first-seen order. The heuristic
// mirrors the behavior of the external reporting tool and is kept
// as-is even where it could mis-parse ids embedded in prose.
func ParseFailureRefs(refs string) []string {
	var tokens []string

	if matches := uuidPattern.FindAllString(refs, -1); len(matches) > 0 {
		for _, m := range matches {
			if _, err := uuid.Parse(m); err == nil {
				tokens = append(tokens, m)
			}
		}
	}

	if len(tokens) == 0 {
		tokens = strings.FieldsFunc(refs, func(r rune) bool {
			return strings.ContainsRune(refDelimiters, r)
		})
	}

	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))

	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		key := strings.ToLower(tok)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, tok)
	}

	return out
}

// compilerSentinelFiles are file paths the compiler synthesizes; frames
// pointing at them carry no user-facing information.
var compilerSentinelFiles = map[string]struct{}{
	"<compiler-generated>": {},
	"<unknown>":            {},
}

// filterFrames drops compiler-generated sentinel frames and wrapper
// symbols, preserving order.
func filterFrames(frames []source.StackFrameRecord) []source.StackFrameRecord {
	out := make([]source.StackFrameRecord, 0, len(frames))

	for _, frame := range frames {
		if _, sentinel := compilerSentinelFiles[frame.FilePath]; sentinel {
			continue
		}

		if isWrapperSymbol(frame.SymbolName) {
			continue
		}

		out = append(out, frame)
	}

	return out
}

// isWrapperSymbol reports whether a symbol is a compiler-generated
// wrapper rather than user code.
func isWrapperSymbol(symbol string) bool {
	return strings.HasPrefix(symbol, "@objc ") ||
		strings.HasPrefix(symbol, "thunk for ") ||
		strings.Contains(symbol, "partial apply forwarder")
}
