package source

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// bundleStoreName is the embedded database file inside a result bundle.
const bundleStoreName = "database.sqlite3"

// dbSource reads bundle records directly from the embedded SQLite
// store, producing the same record shapes as the extraction tool.
type dbSource struct {
	log        logrus.FieldLogger
	bundlePath string

	mu sync.Mutex
	db *gorm.DB
}

// Ensure interface compliance.
var _ Source = (*dbSource)(nil)

// NewDBSource creates a Source reading the bundle's embedded database.
func NewDBSource(log logrus.FieldLogger, bundlePath string) Source {
	return &dbSource{
		log:        log.WithField("component", "db-source"),
		bundlePath: bundlePath,
	}
}

// conn lazily opens the embedded database read-only. Opening is cheap
// but not free, and most runs never hit the fallback path.
func (d *dbSource) conn(ctx context.Context) (*gorm.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		return d.db.WithContext(ctx), nil
	}

	path := filepath.Join(d.bundlePath, bundleStoreName)

	db, err := gorm.Open(sqlite.Open(path+"?mode=ro"), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening bundle database: %w", err)
	}

	d.db = db
	d.log.WithField("path", path).Debug("Bundle database opened")

	return d.db.WithContext(ctx), nil
}

// activityRow mirrors the bundle's activity table.
type activityRow struct {
	UUID           string   `gorm:"column:uuid"`
	ParentUUID     *string  `gorm:"column:parent_uuid"`
	TestIdentifier string   `gorm:"column:test_identifier"`
	Title          string   `gorm:"column:title"`
	StartTime      *float64 `gorm:"column:start_time"`
	FailureRefs    *string  `gorm:"column:failure_ids"`
	OrderInParent  *int     `gorm:"column:order_in_parent"`
}

func (activityRow) TableName() string { return "activities" }

// attachmentRefRow mirrors the bundle's per-activity attachment table.
type attachmentRefRow struct {
	ActivityUUID string   `gorm:"column:activity_uuid"`
	Name         string   `gorm:"column:name"`
	Timestamp    *float64 `gorm:"column:timestamp"`
	PayloadUUID  *string  `gorm:"column:payload_uuid"`
}

func (attachmentRefRow) TableName() string { return "activity_attachments" }

// issueRow mirrors the bundle's failure issue table.
type issueRow struct {
	UUID            string   `gorm:"column:uuid"`
	TestIdentifier  string   `gorm:"column:test_identifier"`
	CompactMessage  string   `gorm:"column:compact_message"`
	DetailedMessage string   `gorm:"column:detailed_message"`
	Timestamp       *float64 `gorm:"column:timestamp"`
	StackContextID  *string  `gorm:"column:stack_context_id"`
}

func (issueRow) TableName() string { return "issues" }

// stackFrameRow mirrors the bundle's stack frame table.
type stackFrameRow struct {
	ContextID        string `gorm:"column:context_id"`
	SymbolName       string `gorm:"column:symbol_name"`
	FilePath         string `gorm:"column:file_path"`
	LineNumber       int    `gorm:"column:line_number"`
	OrderInContainer int    `gorm:"column:order_in_container"`
}

func (stackFrameRow) TableName() string { return "stack_frames" }

// manifestRow mirrors the bundle's exported attachment manifest table.
type manifestRow struct {
	TestIdentifier        *string  `gorm:"column:test_identifier"`
	ExportedFileName      string   `gorm:"column:exported_file_name"`
	SuggestedName         *string  `gorm:"column:suggested_name"`
	AssociatedWithFailure bool     `gorm:"column:associated_with_failure"`
	Timestamp             *float64 `gorm:"column:timestamp"`
	PayloadUUID           *string  `gorm:"column:payload_uuid"`
}

func (manifestRow) TableName() string { return "attachment_manifest" }

// symbolRow mirrors the bundle's resolved symbol table.
type symbolRow struct {
	TestIdentifier string `gorm:"column:test_identifier"`
	Title          string `gorm:"column:title"`
	FilePath       string `gorm:"column:file_path"`
	LineNumber     int    `gorm:"column:line_number"`
}

func (symbolRow) TableName() string { return "symbols" }

// Activities returns all activity and attachment rows for one test.
func (d *dbSource) Activities(
	ctx context.Context, testID string,
) ([]ActivityRecord, []AttachmentRow, error) {
	db, err := d.conn(ctx)
	if err != nil {
		return nil, nil, err
	}

	var rows []activityRow
	if err := db.Where("test_identifier = ?", testID).
		Order("rowid").
		Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("querying activities: %w", err)
	}

	activities := make([]ActivityRecord, 0, len(rows))
	ids := make([]string, 0, len(rows))

	for _, row := range rows {
		rec := ActivityRecord{
			ID:            row.UUID,
			Title:         row.Title,
			StartTime:     row.StartTime,
			OrderInParent: row.OrderInParent,
		}

		if row.ParentUUID != nil {
			rec.ParentID = *row.ParentUUID
		}

		if row.FailureRefs != nil {
			rec.FailureRefs = *row.FailureRefs
		}

		activities = append(activities, rec)
		ids = append(ids, row.UUID)
	}

	var attachments []AttachmentRow

	if len(ids) > 0 {
		var refRows []attachmentRefRow
		if err := db.Where("activity_uuid IN ?", ids).
			Order("rowid").
			Find(&refRows).Error; err != nil {
			return nil, nil, fmt.Errorf("querying activity attachments: %w", err)
		}

		attachments = make([]AttachmentRow, 0, len(refRows))

		for _, row := range refRows {
			rec := AttachmentRow{
				ActivityID: row.ActivityUUID,
				Name:       row.Name,
				Timestamp:  row.Timestamp,
			}

			if row.PayloadUUID != nil {
				rec.PayloadID = *row.PayloadUUID
			}

			attachments = append(attachments, rec)
		}
	}

	return activities, attachments, nil
}

// FailureIssues returns the failure issues recorded for one test.
func (d *dbSource) FailureIssues(
	ctx context.Context, testID string,
) ([]FailureIssueRecord, error) {
	db, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []issueRow
	if err := db.Where("test_identifier = ?", testID).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying issues: %w", err)
	}

	issues := make([]FailureIssueRecord, 0, len(rows))

	for _, row := range rows {
		rec := FailureIssueRecord{
			UUID:            row.UUID,
			CompactMessage:  row.CompactMessage,
			DetailedMessage: row.DetailedMessage,
			Timestamp:       row.Timestamp,
		}

		if row.StackContextID != nil {
			rec.StackContextID = *row.StackContextID
		}

		issues = append(issues, rec)
	}

	return issues, nil
}

// StackFrames returns the ordered stack frames for a stack context id.
func (d *dbSource) StackFrames(
	ctx context.Context, contextID string,
) ([]StackFrameRecord, error) {
	db, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []stackFrameRow
	if err := db.Where("context_id = ?", contextID).
		Order("order_in_container").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying stack frames: %w", err)
	}

	frames := make([]StackFrameRecord, 0, len(rows))

	for _, row := range rows {
		frames = append(frames, StackFrameRecord{
			SymbolName:       row.SymbolName,
			FilePath:         row.FilePath,
			LineNumber:       row.LineNumber,
			OrderInContainer: row.OrderInContainer,
		})
	}

	return frames, nil
}

// Manifest returns the full attachment manifest for the bundle.
func (d *dbSource) Manifest(ctx context.Context) ([]ManifestItem, error) {
	db, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []manifestRow
	if err := db.Order("rowid").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying attachment manifest: %w", err)
	}

	items := make([]ManifestItem, 0, len(rows))

	for _, row := range rows {
		rec := ManifestItem{
			ExportedFileName:      row.ExportedFileName,
			AssociatedWithFailure: row.AssociatedWithFailure,
			Timestamp:             row.Timestamp,
		}

		if row.TestIdentifier != nil {
			rec.TestIdentifier = *row.TestIdentifier
		}

		if row.SuggestedName != nil {
			rec.SuggestedName = *row.SuggestedName
		}

		if row.PayloadUUID != nil {
			rec.PayloadID = *row.PayloadUUID
		}

		items = append(items, rec)
	}

	return items, nil
}

// SymbolTable returns resolved source locations keyed by activity title.
func (d *dbSource) SymbolTable(
	ctx context.Context, testID string,
) (map[string]SymbolLocation, error) {
	db, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []symbolRow
	if err := db.Where("test_identifier = ?", testID).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying symbols: %w", err)
	}

	table := make(map[string]SymbolLocation, len(rows))

	for _, row := range rows {
		if row.Title == "" {
			continue
		}

		table[row.Title] = SymbolLocation{
			File: row.FilePath,
			Line: row.LineNumber,
		}
	}

	return table, nil
}

// TestIdentifiers lists every test-run execution in the bundle.
func (d *dbSource) TestIdentifiers(ctx context.Context) ([]string, error) {
	db, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := db.Model(&activityRow{}).
		Distinct("test_identifier").
		Order("test_identifier").
		Pluck("test_identifier", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing test identifiers: %w", err)
	}

	return ids, nil
}
