package sync

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JohanCodinha/reportsync/internal/md"
	"github.com/JohanCodinha/reportsync/internal/store"
)

// archiveReport writes a dropped report to dir as markdown so the reporter can
// resubmit it by hand. Files are named report_{id}_{timestamp}.md.
func archiveReport(dir string, r *store.Report, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	content, err := md.FormatReport(r)
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("report_%s_%s.md", r.ID, now.Format("20060102_150405"))
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write archive file: %w", err)
	}
	return path, nil
}
