package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/testviz/xctimeline/pkg/config"
)

// reportDocumentName is the object name PublishReport writes for each
// bundle; the reader fetches the same name back.
const reportDocumentName = "report.json"

// s3Reader reads published report documents from the bucket layout the
// uploader writes: <prefix>/<bundle>/report.json.
type s3Reader struct {
	log    logrus.FieldLogger
	cfg    *config.S3Config
	client *s3.Client
}

// Ensure interface compliance.
var _ ReportReader = (*s3Reader)(nil)

// NewS3Reader creates a ReportReader over the configured bucket.
func NewS3Reader(log logrus.FieldLogger, cfg *config.S3Config) ReportReader {
	return &s3Reader{
		log:    log.WithField("component", "s3-reader"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}
}

// ListPublishedBundles lists the bundle directories under the publish
// prefix. One page of common prefixes per bundle batch.
func (r *s3Reader) ListPublishedBundles(ctx context.Context) ([]string, error) {
	base := publishPrefix(r.cfg) + "/"

	var bundles []string

	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(r.cfg.Bucket),
		Prefix:    aws.String(base),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing published bundles under %q: %w", base, err)
		}

		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}

			if name := bundleNameFromPrefix(base, *cp.Prefix); name != "" {
				bundles = append(bundles, name)
			}
		}
	}

	return bundles, nil
}

// FetchReport returns one bundle's published report document.
// A bundle nothing has been published for yields (nil, nil).
func (r *s3Reader) FetchReport(
	ctx context.Context, bundleName string,
) ([]byte, error) {
	key := reportKey(r.cfg, bundleName)

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting report %q: %w", key, err)
	}

	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading report %q: %w", key, err)
	}

	return data, nil
}

// reportKey is the object key of one bundle's published report.
func reportKey(cfg *config.S3Config, bundleName string) string {
	return publishPrefix(cfg) + "/" + bundleName + "/" + reportDocumentName
}

// bundleNameFromPrefix extracts the bundle directory name from a listed
// common prefix.
func bundleNameFromPrefix(base, prefix string) string {
	return strings.Trim(strings.TrimPrefix(prefix, base), "/")
}

// isS3NotFound reports whether the error indicates a missing object.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// Some S3-compatible implementations return a generic error with
	// "NoSuchKey" in the message rather than the typed error.
	return strings.Contains(err.Error(), "NoSuchKey")
}
