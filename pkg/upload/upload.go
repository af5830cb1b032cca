// Package upload publishes generated report documents and their
// exported attachments to S3-compatible object storage.
package upload

import "context"

// Uploader publishes one bundle's reconstruction output.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// PublishReport writes the report document under the configured
	// prefix, keyed by the bundle's basename, and returns the object key.
	PublishReport(ctx context.Context, bundlePath string, document []byte) (string, error)

	// UploadAttachments uploads every file in localDir next to the
	// report so published timelines stay renderable.
	UploadAttachments(ctx context.Context, bundlePath, localDir string) error
}

// ReportReader reads previously published reports back from storage,
// the counterpart of Uploader's publish path.
type ReportReader interface {
	// ListPublishedBundles returns the bundle names that have output
	// published under the configured prefix.
	ListPublishedBundles(ctx context.Context) ([]string, error)

	// FetchReport returns one bundle's published report document, or
	// (nil, nil) when none has been published.
	FetchReport(ctx context.Context, bundleName string) ([]byte, error)
}
