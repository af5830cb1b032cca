package activity

import (
	"github.com/sirupsen/logrus"
	"github.com/testviz/xctimeline/pkg/source"
	"github.com/testviz/xctimeline/pkg/timeutil"
)

// BuildTree reconstructs the root activity nodes for one test-run
// execution from flat backend rows. Rows whose parent id does not exist
// are promoted to roots rather than dropped, and a parent chain that
// loops back on itself is cut at the revisited row.
func BuildTree(
	log logrus.FieldLogger,
	rows []source.ActivityRecord,
	attachments []source.AttachmentRow,
) []*Node {
	byParent := make(map[string][]source.ActivityRecord, len(rows))
	ids := make(map[string]struct{}, len(rows))

	for _, row := range rows {
		ids[row.ID] = struct{}{}
	}

	var rootRows []source.ActivityRecord

	for _, row := range rows {
		parent := row.ParentID
		if parent == row.ID {
			// Self-referential parent. Treat as root.
			parent = ""
		}

		if parent == "" {
			rootRows = append(rootRows, row)

			continue
		}

		if _, ok := ids[parent]; !ok {
			log.WithFields(logrus.Fields{
				"activity_id": row.ID,
				"parent_id":   parent,
			}).Warn("Activity references unknown parent, promoting to root")

			rootRows = append(rootRows, row)

			continue
		}

		byParent[parent] = append(byParent[parent], row)
	}

	attachmentsByActivity := make(map[string][]AttachmentRef, len(attachments))

	for _, att := range attachments {
		attachmentsByActivity[att.ActivityID] = append(
			attachmentsByActivity[att.ActivityID],
			AttachmentRef{
				Name:      att.Name,
				Timestamp: timeutil.Normalize(att.Timestamp),
				PayloadID: att.PayloadID,
			},
		)
	}

	b := &treeBuilder{
		log:         log,
		byParent:    byParent,
		attachments: attachmentsByActivity,
		visited:     make(map[string]struct{}, len(rows)),
	}

	roots := make([]*Node, 0, len(rootRows))
	for _, row := range rootRows {
		roots = append(roots, b.build(row, map[string]struct{}{}))
	}

	// Rows in a parent cycle are reachable from no root. Cut the cycle
	// by promoting the first unvisited row to a root; silent data loss
	// is worse than a misplaced node.
	for _, row := range rows {
		if _, ok := b.visited[row.ID]; ok {
			continue
		}

		log.WithField("activity_id", row.ID).
			Warn("Activity unreachable from any root (parent cycle), promoting to root")

		roots = append(roots, b.build(row, map[string]struct{}{}))
	}

	sortSiblings(roots)

	return roots
}

type treeBuilder struct {
	log         logrus.FieldLogger
	byParent    map[string][]source.ActivityRecord
	attachments map[string][]AttachmentRef
	visited     map[string]struct{}
}

// build constructs the subtree rooted at row depth-first. path holds
// the ids on the current ancestor chain; revisiting one means the
// backend produced a cycle and the offending child is skipped.
func (b *treeBuilder) build(
	row source.ActivityRecord, path map[string]struct{},
) *Node {
	recorded := timeutil.Normalize(row.StartTime)

	node := &Node{
		ID:            row.ID,
		Title:         row.Title,
		StartTime:     recorded,
		RawStartTime:  recorded,
		FailureRefs:   row.FailureRefs,
		RepeatCount:   1,
		Attachments:   b.attachments[row.ID],
		orderInParent: row.OrderInParent,
	}

	b.visited[row.ID] = struct{}{}
	path[row.ID] = struct{}{}

	defer delete(path, row.ID)

	for _, childRow := range b.byParent[row.ID] {
		if _, seen := path[childRow.ID]; seen {
			b.log.WithField("activity_id", childRow.ID).
				Warn("Cyclic activity parent chain detected, skipping revisit")

			continue
		}

		node.Children = append(node.Children, b.build(childRow, path))
	}

	sortSiblings(node.Children)
	node.StartTime = resolveStartTime(node)

	return node
}

// resolveStartTime computes a node's start as the greater of its raw
// recorded start, the minimum of its attachments' timestamps, and the
// minimum of its children's resolved starts. Container activities
// without their own timestamp inherit one from their contents this way.
func resolveStartTime(node *Node) *float64 {
	best := node.StartTime

	var minAtt *float64

	for _, att := range node.Attachments {
		if att.Timestamp == nil {
			continue
		}

		if minAtt == nil || *att.Timestamp < *minAtt {
			minAtt = att.Timestamp
		}
	}

	best = maxTime(best, minAtt)

	var minChild *float64

	for _, child := range node.Children {
		if child.StartTime == nil {
			continue
		}

		if minChild == nil || *child.StartTime < *minChild {
			minChild = child.StartTime
		}
	}

	return maxTime(best, minChild)
}

func maxTime(a, b *float64) *float64 {
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
