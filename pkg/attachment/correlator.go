// Package attachment correlates loosely-identified activity attachment
// references to entries of the flat attachment manifest.
package attachment

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/testviz/xctimeline/pkg/activity"
	"github.com/testviz/xctimeline/pkg/source"
	"github.com/testviz/xctimeline/pkg/timeutil"
)

const (
	// nameMatchTolerance is the maximum timestamp skew for a name-based
	// match. Payload-id matches skip timestamp checks entirely.
	nameMatchTolerance = 1.5

	// globalBucketPadding widens the run's activity time range when
	// admitting attachments from the global (untagged) manifest bucket,
	// so boundary jitter does not reject legitimate entries.
	globalBucketPadding = 5.0
)

// datePattern matches the date/time blobs the recorder embeds in
// human-readable attachment names, e.g. "2024-01-01 at 1.00.00 PM".
var datePattern = regexp.MustCompile(
	`\d{4}-\d{2}-\d{2}( at \d{1,2}\.\d{2}\.\d{2}\s?(AM|PM)?)?`,
)

// boilerplatePhrases are recorder-generated name fragments that carry
// no identity; stripping them lets near-duplicate labels collide into
// one index bucket.
var boilerplatePhrases = []string{
	"kXCTAttachmentLegacyScreenImageData",
	"Launch Screen",
	"Screenshot of main screen",
}

// Correlator resolves one test run's attachment references against the
// manifest. Build one per test run via NewCorrelator.
type Correlator struct {
	log       logrus.FieldLogger
	byPayload map[string]*source.ManifestItem
	byName    map[string][]*source.ManifestItem
}

// NewCorrelator indexes the manifest for one test run. Items tagged
// with testID are always admitted; items from the global bucket only
// when their timestamp falls inside the run's activity range padded by
// globalBucketPadding, which keeps name collisions from unrelated tests
// out.
func NewCorrelator(
	log logrus.FieldLogger,
	items []source.ManifestItem,
	testID string,
	runMin, runMax *float64,
) *Correlator {
	c := &Correlator{
		log:       log.WithField("component", "attachment-correlator"),
		byPayload: make(map[string]*source.ManifestItem),
		byName:    make(map[string][]*source.ManifestItem),
	}

	for i := range items {
		item := items[i]
		item.Timestamp = timeutil.Normalize(item.Timestamp)

		switch item.TestIdentifier {
		case testID:
		case "":
			if !c.admitGlobal(&item, runMin, runMax) {
				continue
			}
		default:
			continue
		}

		c.index(&item)
	}

	for _, bucket := range c.byName {
		sort.SliceStable(bucket, func(i, j int) bool {
			ti, tj := bucket[i].Timestamp, bucket[j].Timestamp
			if ti == nil || tj == nil {
				return tj == nil && ti != nil
			}

			return *ti < *tj
		})
	}

	return c
}

// admitGlobal reports whether a global-bucket item belongs to this run.
func (c *Correlator) admitGlobal(
	item *source.ManifestItem, runMin, runMax *float64,
) bool {
	if item.Timestamp == nil || runMin == nil || runMax == nil {
		return false
	}

	t := *item.Timestamp

	return t >= *runMin-globalBucketPadding && t <= *runMax+globalBucketPadding
}

// index registers an item under its payload id and its name keys.
func (c *Correlator) index(item *source.ManifestItem) {
	if item.PayloadID != "" {
		if _, exists := c.byPayload[item.PayloadID]; !exists {
			c.byPayload[item.PayloadID] = item
		}
	}

	seen := make(map[string]struct{}, 4)

	for _, name := range []string{item.SuggestedName, item.ExportedFileName} {
		if name == "" {
			continue
		}

		for _, key := range []string{nameKey(name), nameKey(CleanName(name))} {
			if key == "" {
				continue
			}

			if _, dup := seen[key]; dup {
				continue
			}

			seen[key] = struct{}{}
			c.byName[key] = append(c.byName[key], item)
		}
	}
}

// Resolve finds the best manifest entry for an activity's attachment
// reference. Payload identity is authoritative; name matches fall back
// from the raw to the cleaned key and must be within timestamp
// tolerance. Returns nil when nothing matches.
func (c *Correlator) Resolve(ref activity.AttachmentRef) *source.ManifestItem {
	if ref.PayloadID != "" {
		if item, ok := c.byPayload[ref.PayloadID]; ok {
			return item
		}
	}

	keys := []string{nameKey(ref.Name), nameKey(CleanName(ref.Name))}

	tried := make(map[string]struct{}, len(keys))

	for _, key := range keys {
		if key == "" {
			continue
		}

		if _, dup := tried[key]; dup {
			continue
		}

		tried[key] = struct{}{}

		bucket := c.byName[key]
		if len(bucket) == 0 {
			continue
		}

		if ref.Timestamp == nil {
			return bucket[0]
		}

		best, bestDist := (*source.ManifestItem)(nil), math.Inf(1)

		for _, item := range bucket {
			if item.Timestamp == nil {
				continue
			}

			if dist := math.Abs(*item.Timestamp - *ref.Timestamp); dist < bestDist {
				best, bestDist = item, dist
			}
		}

		if best != nil && bestDist <= nameMatchTolerance {
			return best
		}
		// Best candidate under this key is too far off; keep trying
		// looser keys.
	}

	return nil
}

// CorrelateTree resolves every attachment reference in the tree and
// deduplicates resolved attachments per node by (file, timestamp), so
// one physical attachment never attaches twice to the same node.
func CorrelateTree(root *activity.Node, c *Correlator) {
	root.Walk(func(node *activity.Node) {
		seen := make(map[string]struct{}, len(node.Attachments))
		kept := node.Attachments[:0]

		for _, ref := range node.Attachments {
			ref.Resolved = c.Resolve(ref)

			if ref.Resolved != nil {
				key := dedupeKey(ref.Resolved)
				if _, dup := seen[key]; dup {
					continue
				}

				seen[key] = struct{}{}
			}

			kept = append(kept, ref)
		}

		node.Attachments = kept
	})
}

func dedupeKey(item *source.ManifestItem) string {
	if item.Timestamp == nil {
		return item.ExportedFileName
	}

	return fmt.Sprintf("%s|%.6f", item.ExportedFileName, *item.Timestamp)
}

// nameKey canonicalizes a name for index lookup.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CleanName strips embedded dates and recorder boilerplate from a
// human-readable attachment name so near-duplicate labels produce the
// same lookup key.
func CleanName(name string) string {
	out := datePattern.ReplaceAllString(name, "")

	for _, phrase := range boilerplatePhrases {
		out = strings.ReplaceAll(out, phrase, "")
	}

	out = strings.Trim(out, " -_.")

	return strings.Join(strings.Fields(out), " ")
}
