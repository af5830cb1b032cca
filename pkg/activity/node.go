// Package activity reconstructs the parent/child activity tree for one
// test-run execution and grafts resolved failure issues into it.
package activity

import "github.com/testviz/xctimeline/pkg/source"

// AttachmentRef is an attachment as referenced from inside an activity.
// Resolved is filled in by the attachment correlator when a manifest
// entry matches.
type AttachmentRef struct {
	Name      string
	Timestamp *float64
	PayloadID string
	Resolved  *source.ManifestItem
}

// Node is one activity in the reconstructed tree. Trees are built once
// per test run and treated as immutable after timeline normalization.
type Node struct {
	ID    string
	Title string

	// StartTime is the resolved start; RawStartTime keeps the backend's
	// recorded value, which marks initiation and anchors tap alignment.
	StartTime              *float64
	RawStartTime           *float64
	EndTime                *float64
	FailureAssociated      bool
	SyntheticFailureBranch bool
	FailureRefs            string
	SourceLocation         string
	RepeatCount            int
	Attachments            []AttachmentRef
	Children               []*Node
	orderInParent          *int
}

// Walk visits n and all descendants depth-first, pre-order.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}

	fn(n)

	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// TimeBounds returns the min/max timestamps over the node itself, its
// attachments, and its descendants. Either bound may be nil when no
// timestamp is resolvable anywhere in the subtree.
func (n *Node) TimeBounds() (minT, maxT *float64) {
	n.Walk(func(node *Node) {
		minT, maxT = foldBound(minT, maxT, node.StartTime)
		minT, maxT = foldBound(minT, maxT, node.EndTime)

		for _, att := range node.Attachments {
			minT, maxT = foldBound(minT, maxT, att.Timestamp)
		}
	})

	return minT, maxT
}

func foldBound(minT, maxT, t *float64) (*float64, *float64) {
	if t == nil {
		return minT, maxT
	}

	if minT == nil || *t < *minT {
		v := *t
		minT = &v
	}

	if maxT == nil || *t > *maxT {
		v := *t
		maxT = &v
	}

	return minT, maxT
}

// sortSiblings orders a sibling list by the three-tier tie-break:
// explicit order index when both are present and distinct, then start
// time when both are present and distinct, then stable id. Backends
// provide order indices only inconsistently, so all three tiers are
// load-bearing.
func sortSiblings(nodes []*Node) {
	if len(nodes) < 2 {
		return
	}

	stableSort(nodes, func(a, b *Node) bool {
		if a.orderInParent != nil && b.orderInParent != nil &&
			*a.orderInParent != *b.orderInParent {
			return *a.orderInParent < *b.orderInParent
		}

		if a.StartTime != nil && b.StartTime != nil &&
			*a.StartTime != *b.StartTime {
			return *a.StartTime < *b.StartTime
		}

		return a.ID < b.ID
	})
}

// stableSort is insertion sort: sibling lists are short and the
// comparator needs a stable sort so equal elements keep their order.
func stableSort(nodes []*Node, less func(a, b *Node) bool) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && less(nodes[j], nodes[j-1]); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}
