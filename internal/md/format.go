// Package md converts reports to and from markdown with YAML frontmatter.
package md

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JohanCodinha/reportsync/internal/store"
)

const delimiter = "---"

// ErrNoFrontmatter is returned by Parse when the content does not start with a frontmatter block.
var ErrNoFrontmatter = errors.New("missing frontmatter")

type photoMeta struct {
	Filename string `yaml:"filename"`
	MimeType string `yaml:"mime_type,omitempty"`
	Size     int    `yaml:"size,omitempty"`
}

type frontmatter struct {
	ID              string      `yaml:"id,omitempty"`
	Title           string      `yaml:"title"`
	Category        string      `yaml:"category,omitempty"`
	Severity        string      `yaml:"severity,omitempty"`
	Address         string      `yaml:"address,omitempty"`
	Latitude        float64     `yaml:"latitude,omitempty"`
	Longitude       float64     `yaml:"longitude,omitempty"`
	UserID          string      `yaml:"user_id,omitempty"`
	CreatedAt       string      `yaml:"created_at,omitempty"`
	SyncStatus      string      `yaml:"sync_status,omitempty"`
	SyncAttempts    int         `yaml:"sync_attempts,omitempty"`
	LastSyncAttempt string      `yaml:"last_sync_attempt,omitempty"`
	SyncError       string      `yaml:"sync_error,omitempty"`
	Photos          []photoMeta `yaml:"photos,omitempty"`
}

// FormatReport renders a report as markdown. Photo bytes are summarized, not embedded.
func FormatReport(r *store.Report) (string, error) {
	fm := frontmatter{
		ID:           r.ID,
		Title:        r.Issue.Title,
		Category:     r.Issue.Category,
		Severity:     r.Issue.Severity,
		Address:      r.Issue.Address,
		Latitude:     r.Issue.Latitude,
		Longitude:    r.Issue.Longitude,
		UserID:       r.UserID,
		SyncStatus:   string(r.SyncStatus),
		SyncAttempts: r.SyncAttempts,
		SyncError:    r.SyncError,
	}
	if !r.CreatedAt.IsZero() {
		fm.CreatedAt = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !r.LastSyncAttempt.IsZero() {
		fm.LastSyncAttempt = r.LastSyncAttempt.UTC().Format(time.RFC3339)
	}
	for _, p := range r.Photos {
		fm.Photos = append(fm.Photos, photoMeta{Filename: p.Filename, MimeType: p.MimeType, Size: len(p.Data)})
	}

	header, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString(delimiter + "\n")
	b.Write(header)
	b.WriteString(delimiter + "\n\n")
	b.WriteString("# " + r.Issue.Title + "\n\n")
	if r.Issue.Description != "" {
		b.WriteString(strings.TrimSpace(r.Issue.Description) + "\n")
	}
	return b.String(), nil
}

// Draft is a report parsed from markdown, ready to be queued.
type Draft struct {
	Issue  store.IssueData
	UserID string
	// PhotoFiles lists the filenames named in the frontmatter.
	PhotoFiles []string
}

// Parse reads a report draft. The frontmatter supplies the fields; the body
// (minus a leading "# title" heading) becomes the description.
func Parse(content string) (*Draft, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, delimiter+"\n") {
		return nil, ErrNoFrontmatter
	}
	rest := content[len(delimiter)+1:]

	end := strings.Index(rest, "\n"+delimiter)
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated block", ErrNoFrontmatter)
	}
	header := rest[:end+1]
	body := rest[end+1+len(delimiter):]

	var fm frontmatter
	dec := yaml.NewDecoder(bytes.NewReader([]byte(header)))
	if err := dec.Decode(&fm); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}

	body = strings.TrimSpace(body)
	title := fm.Title
	if strings.HasPrefix(body, "# ") {
		line, remainder, _ := strings.Cut(body, "\n")
		if title == "" {
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
		body = strings.TrimSpace(remainder)
	}

	draft := &Draft{
		Issue: store.IssueData{
			Title:       title,
			Description: body,
			Category:    fm.Category,
			Severity:    fm.Severity,
			Address:     fm.Address,
			Latitude:    fm.Latitude,
			Longitude:   fm.Longitude,
		},
		UserID: fm.UserID,
	}
	for _, p := range fm.Photos {
		draft.PhotoFiles = append(draft.PhotoFiles, p.Filename)
	}
	return draft, nil
}
