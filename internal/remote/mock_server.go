package remote

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockVerification is the canned answer of the mock verify-image function.
type MockVerification struct {
	Status   int // 0 means 200
	Body     string
	Response verifyResponse
}

// VerifiedResponse returns a MockVerification that accepts the report.
func VerifiedResponse() MockVerification {
	return MockVerification{Response: verifyResponse{
		IsVerified:                 true,
		ImageContentVerified:       true,
		DescriptionKeywordVerified: true,
	}}
}

// RejectedResponse returns a MockVerification that rejects the image, the description, or both.
func RejectedResponse(imageMsg, descriptionMsg string, imageOK, descriptionOK bool) MockVerification {
	return MockVerification{Response: verifyResponse{
		IsVerified:                     false,
		ImageContentVerified:           imageOK,
		ImageVerificationMessage:       imageMsg,
		DescriptionKeywordVerified:     descriptionOK,
		DescriptionVerificationMessage: descriptionMsg,
	}}
}

// VerifyCall records one request received by the mock verifier.
type VerifyCall struct {
	Payload       verifyPayload
	Authorization string
	APIKey        string
}

// MockServer provides a fake backend (verification, storage, issues) and geocoder for testing.
type MockServer struct {
	*httptest.Server
	mu sync.RWMutex

	verification MockVerification
	verifyCalls  []VerifyCall

	submitStatus int
	uploadStatus int
	uploads      map[string][]byte
	issues       []RemoteIssue

	geocodeStatus int
	places        map[string]Coordinates
	geocodeCalls  int
}

// NewMockServer creates a mock server that verifies everything and accepts every issue.
func NewMockServer() *MockServer {
	m := &MockServer{
		verification: VerifiedResponse(),
		uploads:      make(map[string][]byte),
		places:       make(map[string]Coordinates),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/functions/v1/verify-image", m.handleVerify)
	mux.HandleFunc("/storage/v1/object/", m.handleUpload)
	mux.HandleFunc("/rest/v1/issues", m.handleCreateIssue)
	mux.HandleFunc("/v1/geocode/search", m.handleGeocode)

	m.Server = httptest.NewServer(mux)
	return m
}

// SetVerification changes the verifier's answer for subsequent calls.
func (m *MockServer) SetVerification(v MockVerification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verification = v
}

// SetSubmitStatus makes issue creation fail with status (0 restores success).
func (m *MockServer) SetSubmitStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitStatus = status
}

// SetUploadStatus makes photo uploads fail with status (0 restores success).
func (m *MockServer) SetUploadStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadStatus = status
}

// SetGeocodeStatus makes geocoding fail with status (0 restores success).
func (m *MockServer) SetGeocodeStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.geocodeStatus = status
}

// AddPlace registers coordinates returned for an exact address.
func (m *MockServer) AddPlace(address string, c Coordinates) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.places[address] = c
}

// VerifyCalls returns the verification requests received so far.
func (m *MockServer) VerifyCalls() []VerifyCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]VerifyCall(nil), m.verifyCalls...)
}

// Issues returns the issues created so far.
func (m *MockServer) Issues() []RemoteIssue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RemoteIssue(nil), m.issues...)
}

// Uploads returns the uploaded objects keyed by storage path.
func (m *MockServer) Uploads() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.uploads))
	for k, v := range m.uploads {
		out[k] = v
	}
	return out
}

// GeocodeCalls returns how many geocoding requests were served.
func (m *MockServer) GeocodeCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.geocodeCalls
}

// Reset clears recorded calls and restores the default answers.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verification = VerifiedResponse()
	m.verifyCalls = nil
	m.submitStatus = 0
	m.uploadStatus = 0
	m.uploads = make(map[string][]byte)
	m.issues = nil
	m.geocodeStatus = 0
	m.geocodeCalls = 0
}

func (m *MockServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload verifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.verifyCalls = append(m.verifyCalls, VerifyCall{
		Payload:       payload,
		Authorization: r.Header.Get("Authorization"),
		APIKey:        r.Header.Get("apikey"),
	})
	v := m.verification
	m.mu.Unlock()

	if v.Status != 0 && v.Status != http.StatusOK {
		w.WriteHeader(v.Status)
		io.WriteString(w, v.Body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v.Response)
}

func (m *MockServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.uploadStatus != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.uploadStatus)
		json.NewEncoder(w).Encode(map[string]string{"message": "upload rejected"})
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/")
	m.uploads[key] = data

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"Key": key})
}

func (m *MockServer) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var insert issueInsert
	if err := json.NewDecoder(r.Body).Decode(&insert); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.submitStatus != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.submitStatus)
		json.NewEncoder(w).Encode(map[string]string{"message": "insert rejected"})
		return
	}

	created := RemoteIssue{
		ID:          uuid.NewString(),
		ReporterID:  insert.ReporterID,
		Title:       insert.Title,
		Description: insert.Description,
		Category:    insert.Category,
		Status:      "open",
		ImageURLs:   insert.ImageURLs,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	m.issues = append(m.issues, created)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

func (m *MockServer) handleGeocode(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.geocodeCalls++
	status := m.geocodeStatus
	place, ok := m.places[r.URL.Query().Get("text")]
	m.mu.Unlock()

	if status != 0 {
		http.Error(w, "geocoding failed", status)
		return
	}

	features := []map[string]interface{}{}
	if ok {
		features = append(features, map[string]interface{}{
			"geometry": map[string]interface{}{
				"type":        "Point",
				"coordinates": []float64{place.Longitude, place.Latitude},
			},
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"features": features})
}
