// Package timeutil converts backend-reported timestamps onto a single
// Unix-epoch timescale.
package timeutil

import "math"

// appleEpochOffset is the number of seconds between 2001-01-01T00:00:00Z
// (the Core Data / CFAbsoluteTime reference date) and the Unix epoch.
const appleEpochOffset = 978307200

// appleEpochCutoff separates 2001-epoch values from Unix-epoch values.
// Any plausible 2001-based timestamp is well below 1e9 (which would be
// the year 2032 on that axis), while any plausible Unix-based timestamp
// is above it.
const appleEpochCutoff = 1e9

// Normalize shifts a raw backend timestamp to the Unix epoch when it
// looks 2001-based, and returns it unchanged otherwise. Nil and
// non-finite inputs pass through untouched. Idempotent: values at or
// above the cutoff are never shifted again.
func Normalize(t *float64) *float64 {
	if t == nil {
		return nil
	}

	v := *t
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return t
	}

	if v > 0 && v < appleEpochCutoff {
		shifted := v + appleEpochOffset

		return &shifted
	}

	return t
}

// NormalizeValue is Normalize for callers that already know the
// timestamp is present.
func NormalizeValue(v float64) float64 {
	if out := Normalize(&v); out != nil {
		return *out
	}

	return v
}

// Ptr returns a pointer to v. Convenience for building records with
// optional timestamps.
func Ptr(v float64) *float64 {
	return &v
}
