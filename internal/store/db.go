package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so text ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// createReportsTableSQL defines the schema for queued reports.
const createReportsTableSQL = `
CREATE TABLE IF NOT EXISTS pending_reports (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL,
    category TEXT,
    severity TEXT,
    address TEXT,
    latitude REAL DEFAULT 0,
    longitude REAL DEFAULT 0,
    user_id TEXT NOT NULL,
    created_at TEXT NOT NULL,
    sync_status TEXT NOT NULL DEFAULT 'pending',
    sync_attempts INTEGER NOT NULL DEFAULT 0,
    last_sync_attempt TEXT,
    sync_error TEXT
);
CREATE INDEX IF NOT EXISTS idx_pending_reports_status ON pending_reports(sync_status);
CREATE INDEX IF NOT EXISTS idx_pending_reports_created ON pending_reports(created_at);
CREATE INDEX IF NOT EXISTS idx_pending_reports_user ON pending_reports(user_id);
`

// createPhotosTableSQL defines the schema for report photos, ordered by position.
const createPhotosTableSQL = `
CREATE TABLE IF NOT EXISTS report_photos (
    report_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    filename TEXT,
    mime_type TEXT,
    data BLOB,
    PRIMARY KEY (report_id, position)
);
`

const selectReportColumns = `
	SELECT id, title, description, category, severity, address, latitude, longitude,
	       user_id, created_at, sync_status, sync_attempts, last_sync_attempt, sync_error
	FROM pending_reports
`

// DB is the SQLite-backed report store.
type DB struct {
	path string
	conn *sql.DB
	now  func() time.Time
}

// InitDB creates or opens a SQLite database at the given path and initializes the schema.
func InitDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open database", err)
	}

	// SQLite only supports a single writer. One connection keeps every
	// mutation serialized and visible to the next reader.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if _, err := conn.Exec(createReportsTableSQL); err != nil {
		conn.Close()
		return nil, storageErr("create pending_reports table", err)
	}
	if _, err := conn.Exec(createPhotosTableSQL); err != nil {
		conn.Close()
		return nil, storageErr("create report_photos table", err)
	}

	return &DB{
		path: path,
		conn: conn,
		now:  time.Now,
	}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

func storageErr(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrStorageUnavailable, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Save persists a new pending report with zero attempts and returns its id.
func (db *DB) Save(ctx context.Context, report NewReport) (string, error) {
	id := uuid.NewString()
	createdAt := report.CreatedAt
	if createdAt.IsZero() {
		createdAt = db.now()
	}
	userID := report.UserID
	if userID == "" {
		userID = OfflineUserID
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	issue := report.Issue
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_reports (
			id, title, description, category, severity, address, latitude, longitude,
			user_id, created_at, sync_status, sync_attempts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`,
		id,
		issue.Title,
		issue.Description,
		issue.Category,
		issue.Severity,
		issue.Address,
		issue.Latitude,
		issue.Longitude,
		userID,
		formatTime(createdAt),
		string(StatusPending),
	)
	if err != nil {
		return "", storageErr("insert report", err)
	}

	if err := insertPhotos(ctx, tx, id, report.Photos); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", storageErr("commit report", err)
	}
	return id, nil
}

func insertPhotos(ctx context.Context, tx *sql.Tx, reportID string, photos []Photo) error {
	for i, photo := range photos {
		data := photo.Data
		if data == nil {
			data = []byte{}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO report_photos (report_id, position, filename, mime_type, data)
			VALUES (?, ?, ?, ?, ?)
		`, reportID, i, photo.Filename, photo.MimeType, data)
		if err != nil {
			return storageErr("insert photo", err)
		}
	}
	return nil
}

// Get retrieves a report with its photos. Returns ErrNotFound if missing.
func (db *DB) Get(ctx context.Context, id string) (*Report, error) {
	row := db.conn.QueryRowContext(ctx, selectReportColumns+" WHERE id = ?", id)
	report, err := scanReportFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get report", err)
	}

	photos, err := db.loadPhotos(ctx, id)
	if err != nil {
		return nil, err
	}
	report.Photos = photos
	return report, nil
}

// List returns the reports matching filter in creation order.
func (db *DB) List(ctx context.Context, filter Filter) ([]Report, error) {
	where, args := filterClause(filter)
	query := selectReportColumns + where + " ORDER BY created_at ASC, rowid ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query reports", err)
	}

	reports := []Report{}
	for rows.Next() {
		report, err := scanReportFrom(rows)
		if err != nil {
			rows.Close()
			return nil, storageErr("scan report", err)
		}
		reports = append(reports, *report)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storageErr("iterate reports", err)
	}
	rows.Close()

	// Photos are loaded after the cursor closes; the pool has a single connection.
	for i := range reports {
		photos, err := db.loadPhotos(ctx, reports[i].ID)
		if err != nil {
			return nil, err
		}
		reports[i].Photos = photos
	}
	return reports, nil
}

// Count returns the number of reports matching filter.
func (db *DB) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filterClause(filter)
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_reports"+where, args...).Scan(&n); err != nil {
		return 0, storageErr("count reports", err)
	}
	return n, nil
}

func filterClause(filter Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, fmt.Sprintf("sync_status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.MaxAttempts > 0 {
		clauses = append(clauses, "sync_attempts < ?")
		args = append(args, filter.MaxAttempts)
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// UpdateStatus records a status transition. Moving into syncing increments the
// attempt counter. syncErr is written only when non-empty.
func (db *DB) UpdateStatus(ctx context.Context, id string, status Status, syncErr string) error {
	result, err := db.conn.ExecContext(ctx, `
		UPDATE pending_reports
		SET sync_status = ?,
		    last_sync_attempt = ?,
		    sync_attempts = sync_attempts + CASE WHEN ? = 'syncing' THEN 1 ELSE 0 END,
		    sync_error = CASE WHEN ? <> '' THEN ? ELSE sync_error END
		WHERE id = ?
	`, string(status), formatTime(db.now()), string(status), syncErr, syncErr, id)
	if err != nil {
		return storageErr("update status", err)
	}
	return requireAffected(result)
}

// Update applies a partial update to a report.
func (db *DB) Update(ctx context.Context, id string, update ReportUpdate) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	var setClauses []string
	var args []interface{}

	if update.UserID != nil {
		setClauses = append(setClauses, "user_id = ?")
		args = append(args, *update.UserID)
	}
	if update.Issue != nil {
		setClauses = append(setClauses,
			"title = ?", "description = ?", "category = ?", "severity = ?",
			"address = ?", "latitude = ?", "longitude = ?")
		args = append(args,
			update.Issue.Title, update.Issue.Description, update.Issue.Category, update.Issue.Severity,
			update.Issue.Address, update.Issue.Latitude, update.Issue.Longitude)
	}

	// A photos-only update still needs to prove the row exists.
	if len(setClauses) == 0 {
		setClauses = append(setClauses, "id = id")
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE pending_reports SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr("update report", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	if update.Photos != nil {
		if _, err := tx.ExecContext(ctx, "DELETE FROM report_photos WHERE report_id = ?", id); err != nil {
			return storageErr("replace photos", err)
		}
		if err := insertPhotos(ctx, tx, id, *update.Photos); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit update", err)
	}
	return nil
}

// Delete removes a report and its photos. Deleting a missing id is not an error.
func (db *DB) Delete(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM report_photos WHERE report_id = ?", id); err != nil {
		return storageErr("delete photos", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_reports WHERE id = ?", id); err != nil {
		return storageErr("delete report", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit delete", err)
	}
	return nil
}

// ClearTerminal purges reports left marked synced and returns how many were removed.
func (db *DB) ClearTerminal(ctx context.Context) (int, error) {
	return db.deleteWhere(ctx, "sync_status = ?", string(StatusSynced))
}

// ClearAll removes every queued report.
func (db *DB) ClearAll(ctx context.Context) (int, error) {
	return db.deleteWhere(ctx, "1 = 1")
}

// ResetSyncing moves reports that entered syncing before the cutoff back to
// pending. A zero cutoff resets every syncing report. Attempts are kept.
func (db *DB) ResetSyncing(ctx context.Context, before time.Time) (int, error) {
	query := "UPDATE pending_reports SET sync_status = ? WHERE sync_status = ?"
	args := []interface{}{string(StatusPending), string(StatusSyncing)}
	if !before.IsZero() {
		query += " AND (last_sync_attempt IS NULL OR last_sync_attempt = '' OR last_sync_attempt < ?)"
		args = append(args, formatTime(before))
	}
	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr("reset syncing reports", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("get rows affected", err)
	}
	return int(n), nil
}

func (db *DB) deleteWhere(ctx context.Context, where string, args ...interface{}) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM report_photos WHERE report_id IN (SELECT id FROM pending_reports WHERE "+where+")", args...)
	if err != nil {
		return 0, storageErr("delete photos", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM pending_reports WHERE "+where, args...)
	if err != nil {
		return 0, storageErr("delete reports", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("get rows affected", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit delete", err)
	}
	return int(n), nil
}

func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageErr("get rows affected", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) loadPhotos(ctx context.Context, reportID string) ([]Photo, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT filename, mime_type, data
		FROM report_photos
		WHERE report_id = ?
		ORDER BY position ASC
	`, reportID)
	if err != nil {
		return nil, storageErr("query photos", err)
	}
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		var filename, mimeType sql.NullString
		var data []byte
		if err := rows.Scan(&filename, &mimeType, &data); err != nil {
			return nil, storageErr("scan photo", err)
		}
		photos = append(photos, Photo{
			Filename: filename.String,
			MimeType: mimeType.String,
			Data:     data,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate photos", err)
	}
	return photos, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanReportFrom scans a row into a Report without its photos.
func scanReportFrom(s scanner) (*Report, error) {
	var r Report
	var category, severity, address, createdAt, lastSyncAttempt, syncError sql.NullString
	var latitude, longitude sql.NullFloat64
	var status string

	err := s.Scan(
		&r.ID,
		&r.Issue.Title,
		&r.Issue.Description,
		&category,
		&severity,
		&address,
		&latitude,
		&longitude,
		&r.UserID,
		&createdAt,
		&status,
		&r.SyncAttempts,
		&lastSyncAttempt,
		&syncError,
	)
	if err != nil {
		return nil, err
	}

	r.Issue.Category = category.String
	r.Issue.Severity = severity.String
	r.Issue.Address = address.String
	r.Issue.Latitude = latitude.Float64
	r.Issue.Longitude = longitude.Float64
	r.CreatedAt = parseTime(createdAt)
	r.SyncStatus = Status(status)
	r.LastSyncAttempt = parseTime(lastSyncAttempt)
	r.SyncError = syncError.String
	return &r, nil
}
