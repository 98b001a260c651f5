package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	imageBucket = "issue-images"
	issuesPath  = "/rest/v1/issues"
)

// IssueInput is the canonical issue payload sent to the backend.
type IssueInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Severity    string  `json:"severity,omitempty"`
	Address     string  `json:"address,omitempty"`
	Latitude    float64 `json:"location_lat"`
	Longitude   float64 `json:"location_lng"`
}

// Photo is an image to upload alongside an issue.
type Photo struct {
	Filename string
	MimeType string
	Data     []byte
}

// RemoteIssue is the row the backend created.
type RemoteIssue struct {
	ID          string   `json:"id"`
	ReporterID  string   `json:"reporter_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Status      string   `json:"status,omitempty"`
	ImageURLs   []string `json:"image_urls"`
	CreatedAt   string   `json:"created_at,omitempty"`
}

type issueInsert struct {
	IssueInput
	ReporterID string   `json:"reporter_id"`
	ImageURLs  []string `json:"image_urls"`
}

// Submitter creates issues on the backend.
type Submitter struct {
	client *Client
}

// NewSubmitter creates a Submitter that uploads photos and inserts issues through client.
func NewSubmitter(client *Client) *Submitter {
	return &Submitter{client: client}
}

// CreateIssue uploads photos, then inserts the issue authored by authorID.
// Every failure wraps ErrSubmission.
func (s *Submitter) CreateIssue(ctx context.Context, issue IssueInput, authorID string, photos []Photo) (*RemoteIssue, error) {
	imageURLs := make([]string, 0, len(photos))
	for _, photo := range photos {
		url, err := s.uploadPhoto(ctx, photo)
		if err != nil {
			return nil, err
		}
		imageURLs = append(imageURLs, url)
	}

	payload, err := json.Marshal(issueInsert{
		IssueInput: issue,
		ReporterID: authorID,
		ImageURLs:  imageURLs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := s.client.doRequestWithHeaders(ctx, http.MethodPost, issuesPath, "application/json", bytes.NewReader(payload), map[string]string{
		"Prefer": "return=representation",
		"Accept": "application/vnd.pgrst.object+json",
	})
	if err != nil {
		return nil, submissionTransportError(err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		body := readErrorBody(resp)
		return nil, &Error{
			Kind:       ErrSubmission,
			StatusCode: resp.StatusCode,
			Message:    submissionMessage(body),
			Detail:     body,
		}
	}

	var created RemoteIssue
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, &Error{Kind: ErrSubmission, Message: msgSubmissionFailed, Detail: "failed to decode response: " + err.Error()}
	}
	return &created, nil
}

func (s *Submitter) uploadPhoto(ctx context.Context, photo Photo) (string, error) {
	contentType := photo.MimeType
	if contentType == "" {
		contentType = mimetype.Detect(photo.Data).String()
	}
	name := objectName(photo.Filename, contentType)
	path := "/storage/v1/object/" + imageBucket + "/" + name

	resp, err := s.client.doRequest(ctx, http.MethodPost, path, contentType, bytes.NewReader(photo.Data))
	if err != nil {
		return "", submissionTransportError(err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		body := readErrorBody(resp)
		return "", &Error{
			Kind:       ErrSubmission,
			StatusCode: resp.StatusCode,
			Message:    "Failed to upload images: " + submissionMessage(body),
			Detail:     body,
		}
	}

	base := strings.TrimRight(s.client.sessions.Current().URL, "/")
	return base + "/storage/v1/object/public/" + imageBucket + "/" + name, nil
}

// objectName builds a collision-free storage key that keeps the file extension.
func objectName(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		if mt := mimetype.Lookup(contentType); mt != nil {
			ext = mt.Extension()
		}
	}
	return uuid.NewString() + ext
}

func submissionTransportError(err error) error {
	return &Error{Kind: ErrSubmission, Message: msgSubmissionFailed, Detail: err.Error()}
}

// submissionMessage prefers the backend's own message when it sent JSON.
func submissionMessage(body string) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal([]byte(body), &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return msgSubmissionFailed
}
