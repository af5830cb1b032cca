package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/testviz/xctimeline/pkg/config"
)

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		bundlePath string
		object     string
		want       string
	}{
		{
			name:       "default prefix",
			prefix:     "",
			bundlePath: "/ci/results/Login_2026-08-30.xcresult",
			object:     "report.json",
			want:       "timelines/Login_2026-08-30.xcresult/report.json",
		},
		{
			name:       "custom prefix",
			prefix:     "qa/ui-tests",
			bundlePath: "/ci/run.xcresult",
			object:     "report.json",
			want:       "qa/ui-tests/run.xcresult/report.json",
		},
		{
			name:       "trailing slash stripped",
			prefix:     "qa/",
			bundlePath: "run.xcresult",
			object:     "attachments",
			want:       "qa/run.xcresult/attachments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{
				cfg: &config.S3Config{Prefix: tt.prefix},
			}
			got := u.resolveKey(tt.bundlePath, tt.object)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReportKey_MatchesPublishLayout(t *testing.T) {
	cfg := &config.S3Config{Prefix: "qa/ui-tests"}
	u := &s3Uploader{cfg: cfg}

	// The reader must fetch exactly what PublishReport writes.
	published := u.resolveKey("/ci/run.xcresult", reportDocumentName)
	assert.Equal(t, published, reportKey(cfg, "run.xcresult"))

	assert.Equal(t,
		"timelines/run.xcresult/report.json",
		reportKey(&config.S3Config{}, "run.xcresult"),
	)
}

func TestBundleNameFromPrefix(t *testing.T) {
	assert.Equal(t, "run.xcresult",
		bundleNameFromPrefix("timelines/", "timelines/run.xcresult/"))
	assert.Equal(t, "run.xcresult",
		bundleNameFromPrefix("qa/", "qa/run.xcresult"))
	assert.Equal(t, "",
		bundleNameFromPrefix("timelines/", "timelines/"))
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{
			name:       "json file",
			path:       "report.json",
			wantPrefix: "application/json",
		},
		{
			name:       "no extension",
			path:       "attachments/Makefile",
			wantPrefix: "application/octet-stream",
		},
		{
			name:       "png attachment",
			path:       "attachments/screenshot_1.png",
			wantPrefix: "image/png",
		},
		{
			name:       "txt file",
			path:       "attachments/hierarchy.txt",
			wantPrefix: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectContentType(tt.path)
			assert.Contains(t, got, tt.wantPrefix)
		})
	}
}
