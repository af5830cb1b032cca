// Package timeline normalizes correlated activity trees and assembles
// the final per-run event list handed to the renderer.
package timeline

import (
	"regexp"
	"strings"

	"github.com/testviz/xctimeline/pkg/activity"
)

// Normalize collapses runs of structurally-identical adjacent siblings
// into single nodes with a repeat count. Children are normalized before
// their parent's sibling list is scanned, and the operation is
// idempotent: a second pass over normalized output changes nothing.
func Normalize(root *activity.Node) {
	for _, child := range root.Children {
		Normalize(child)
	}

	root.Children = collapseSiblings(root.Children)
}

// NormalizeForest normalizes each root and collapses the root list
// itself.
func NormalizeForest(roots []*activity.Node) []*activity.Node {
	for _, root := range roots {
		Normalize(root)
	}

	return collapseSiblings(roots)
}

// collapseSiblings merges left-to-right. Long "poll and retry" bursts
// collapse into one display row without losing duration information.
func collapseSiblings(nodes []*activity.Node) []*activity.Node {
	if len(nodes) < 2 {
		return nodes
	}

	out := nodes[:1]

	for _, node := range nodes[1:] {
		last := out[len(out)-1]
		if mergeCompatible(last, node) {
			merge(last, node)

			continue
		}

		out = append(out, node)
	}

	return out
}

// mergeCompatible reports whether two adjacent siblings are
// structurally identical leaves.
func mergeCompatible(a, b *activity.Node) bool {
	return a.Title == b.Title &&
		a.SourceLocation == b.SourceLocation &&
		a.FailureAssociated == b.FailureAssociated &&
		a.SyntheticFailureBranch == b.SyntheticFailureBranch &&
		len(a.Attachments) == 0 && len(b.Attachments) == 0 &&
		len(a.Children) == 0 && len(b.Children) == 0
}

// merge folds b into a: earlier start, later end, summed repeat count.
func merge(a, b *activity.Node) {
	a.StartTime = earlier(a.StartTime, b.StartTime)
	a.EndTime = later(endCandidate(a), endCandidate(b))
	a.RepeatCount += b.RepeatCount
}

// endCandidate is a node's best end bound: its explicit end when set,
// else its start.
func endCandidate(n *activity.Node) *float64 {
	if n.EndTime != nil {
		return n.EndTime
	}

	return n.StartTime
}

func earlier(a, b *float64) *float64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b < *a:
		return b
	default:
		return a
	}
}

func later(a, b *float64) *float64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b > *a:
		return b
	default:
		return a
	}
}

// Kind classifies a timeline event for the renderer.
type Kind string

const (
	KindEvent    Kind = "event"
	KindTap      Kind = "tap"
	KindSnapshot Kind = "snapshot"
	KindError    Kind = "error"
)

// tapTitlePattern matches the activity phrasings produced by input
// synthesis: taps, swipes, presses, and the low-level synthesize-event
// steps themselves.
var tapTitlePattern = regexp.MustCompile(
	`(?i)^(tap|double tap|long press|press|swipe|pinch|drag|synthesize event)\b`,
)

// SynthesizeEventTitle reports whether an activity title is a
// low-level input-synthesis step. Their timestamps anchor tap
// alignment.
func SynthesizeEventTitle(title string) bool {
	return strings.HasPrefix(strings.ToLower(title), "synthesize event")
}

// IsGestureAttachmentName reports whether an attachment holds a
// serialized input-gesture archive.
func IsGestureAttachmentName(name string) bool {
	return strings.Contains(strings.ToLower(name), "synthesized event")
}

// IsHierarchyAttachmentName reports whether an attachment holds a UI
// hierarchy dump.
func IsHierarchyAttachmentName(name string) bool {
	lower := strings.ToLower(name)

	return strings.Contains(lower, "ui hierarchy") ||
		strings.Contains(lower, "element hierarchy")
}

// Classify derives the event kind of a normalized node.
func Classify(node *activity.Node) Kind {
	if node.FailureAssociated {
		return KindError
	}

	if tapTitlePattern.MatchString(node.Title) {
		return KindTap
	}

	for _, att := range node.Attachments {
		if IsGestureAttachmentName(att.Name) {
			return KindTap
		}

		if att.Resolved != nil && IsGestureAttachmentName(att.Resolved.SuggestedName) {
			return KindTap
		}
	}

	for _, att := range node.Attachments {
		if IsHierarchyAttachmentName(att.Name) {
			return KindSnapshot
		}

		if att.Resolved != nil && IsHierarchyAttachmentName(att.Resolved.SuggestedName) {
			return KindSnapshot
		}
	}

	return KindEvent
}
