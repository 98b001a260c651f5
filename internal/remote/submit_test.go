package remote

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCreateIssue_UploadsPhotosAndInserts(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	sessions := NewSessionStore(Session{URL: mock.URL, APIKey: "anon", AuthToken: "tok"})
	s := NewSubmitter(New(sessions))

	photos := []Photo{
		{Filename: "front.JPG", MimeType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}},
		{Filename: "", MimeType: "image/png", Data: pngHeader},
	}
	issue := IssueInput{
		Title:       "Pothole on Main St",
		Description: "Large pothole near the bus stop",
		Category:    "pothole",
		Latitude:    -37.8,
		Longitude:   144.9,
	}

	created, err := s.CreateIssue(context.Background(), issue, "user-42", photos)
	if err != nil {
		t.Fatalf("CreateIssue() unexpected error: %v", err)
	}
	if created.ID == "" {
		t.Error("created issue has no id")
	}
	if created.ReporterID != "user-42" {
		t.Errorf("ReporterID = %q, want user-42", created.ReporterID)
	}
	if len(created.ImageURLs) != 2 {
		t.Fatalf("ImageURLs = %v, want 2 entries", created.ImageURLs)
	}
	if !strings.HasSuffix(created.ImageURLs[0], ".jpg") || !strings.HasSuffix(created.ImageURLs[1], ".png") {
		t.Errorf("unexpected image urls: %v", created.ImageURLs)
	}
	if !strings.HasPrefix(created.ImageURLs[0], mock.URL+"/storage/v1/object/public/issue-images/") {
		t.Errorf("image url not public: %s", created.ImageURLs[0])
	}

	uploads := mock.Uploads()
	if len(uploads) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(uploads))
	}
	found := false
	for key, data := range uploads {
		if !strings.HasPrefix(key, "issue-images/") {
			t.Errorf("upload outside bucket: %s", key)
		}
		if bytes.Equal(data, photos[0].Data) {
			found = true
		}
	}
	if !found {
		t.Error("photo bytes not uploaded unchanged")
	}

	if issues := mock.Issues(); len(issues) != 1 || issues[0].Title != issue.Title {
		t.Errorf("mock issues = %+v", issues)
	}
}

func TestCreateIssue_Failures(t *testing.T) {
	tests := []struct {
		name    string
		upload  int
		submit  int
		photos  []Photo
		wantMsg string
	}{
		{
			name:    "insert rejected",
			submit:  500,
			wantMsg: "insert rejected",
		},
		{
			name:    "upload rejected",
			upload:  403,
			photos:  []Photo{{Filename: "a.jpg", MimeType: "image/jpeg", Data: []byte{1}}},
			wantMsg: "Failed to upload images: upload rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockServer()
			defer mock.Close()
			mock.SetUploadStatus(tt.upload)
			mock.SetSubmitStatus(tt.submit)

			s := NewSubmitter(New(NewSessionStore(Session{URL: mock.URL, AuthToken: "tok"})))
			_, err := s.CreateIssue(context.Background(), IssueInput{Title: "t"}, "user", tt.photos)
			if !errors.Is(err, ErrSubmission) {
				t.Fatalf("error = %v, want ErrSubmission", err)
			}
			if got := UserMessage(err); got != tt.wantMsg {
				t.Errorf("UserMessage = %q, want %q", got, tt.wantMsg)
			}
			if len(mock.Issues()) != 0 {
				t.Error("no issue should be recorded on failure")
			}
		})
	}
}

func TestCreateIssue_NoBackendConfigured(t *testing.T) {
	s := NewSubmitter(New(NewSessionStore(Session{})))
	_, err := s.CreateIssue(context.Background(), IssueInput{}, "user", nil)
	if !errors.Is(err, ErrSubmission) {
		t.Errorf("error = %v, want ErrSubmission", err)
	}
}

func TestSessionStore_UpdateMergesNonEmpty(t *testing.T) {
	s := NewSessionStore(Session{URL: "https://a", APIKey: "k", AuthToken: "t1"})

	got := s.Update(Session{AuthToken: "t2", UserID: "u"})
	if got.URL != "https://a" || got.APIKey != "k" || got.AuthToken != "t2" || got.UserID != "u" {
		t.Errorf("merged session = %+v", got)
	}

	s.SignOut()
	cur := s.Current()
	if cur.AuthToken != "" || cur.UserID != "" || cur.URL != "https://a" {
		t.Errorf("after sign out = %+v", cur)
	}
}
