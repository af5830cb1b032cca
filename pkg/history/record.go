package history

import "time"

// ReportRecord represents one generated bundle report in the database.
type ReportRecord struct {
	ID         uint   `gorm:"primaryKey"`
	BundlePath string `gorm:"not null;uniqueIndex:idx_reports_bp_report"`
	ReportID   string `gorm:"not null;uniqueIndex:idx_reports_bp_report"`

	GeneratedAt time.Time `gorm:"index"`
	DurationMS  int64

	// Denormalized host fields.
	Hostname string
	Platform string
	Arch     string

	// Denormalized run stats.
	RunsTotal  int
	RunsFailed int

	RecordedAt time.Time
}

// RunSummary is the condensed outcome of one reconstructed test run.
type RunSummary struct {
	ID       uint   `gorm:"primaryKey"`
	ReportID string `gorm:"not null;index"`
	TestID   string `gorm:"not null;index"`

	Failed            bool `gorm:"index"`
	FailureEventIndex int
	EventCount        int
	GestureCount      int
	SnapshotCount     int

	// Reconstruction error message, empty on success.
	Error string `gorm:"type:text"`
}
