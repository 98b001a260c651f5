package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/JohanCodinha/reportsync/internal/background"
	"github.com/JohanCodinha/reportsync/internal/connectivity"
	"github.com/JohanCodinha/reportsync/internal/logger"
	"github.com/JohanCodinha/reportsync/internal/store"
	"github.com/JohanCodinha/reportsync/internal/sync"
)

type connectivityRequest struct {
	Online *bool `json:"online" validate:"required"`
}

type photoPayload struct {
	Filename string `json:"filename" validate:"required"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data" validate:"required"`
}

type issuePayload struct {
	Title       string  `json:"title" validate:"required"`
	Description string  `json:"description" validate:"required"`
	Category    string  `json:"category" validate:"required"`
	Severity    string  `json:"severity"`
	Address     string  `json:"address"`
	Latitude    float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

type createReportRequest struct {
	Issue  issuePayload   `json:"issue"`
	Photos []photoPayload `json:"photos" validate:"dive"`
	UserID string         `json:"userId"`
}

type photoView struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
}

type reportView struct {
	ID              string          `json:"id"`
	Issue           store.IssueData `json:"issueData"`
	Photos          []photoView     `json:"photos"`
	UserID          string          `json:"userId"`
	CreatedAt       time.Time       `json:"createdAt"`
	SyncStatus      store.Status    `json:"syncStatus"`
	SyncAttempts    int             `json:"syncAttempts"`
	LastSyncAttempt *time.Time      `json:"lastSyncAttempt,omitempty"`
	SyncError       string          `json:"syncError,omitempty"`
}

type statusResponse struct {
	Connectivity connectivity.State `json:"connectivity"`
	Syncing      bool               `json:"syncing"`
	Pending      int                `json:"pending"`
}

func newReportView(r store.Report) reportView {
	v := reportView{
		ID:           r.ID,
		Issue:        r.Issue,
		Photos:       make([]photoView, len(r.Photos)),
		UserID:       r.UserID,
		CreatedAt:    r.CreatedAt,
		SyncStatus:   r.SyncStatus,
		SyncAttempts: r.SyncAttempts,
		SyncError:    r.SyncError,
	}
	for i, p := range r.Photos {
		v.Photos[i] = photoView{Filename: p.Filename, MimeType: p.MimeType, Size: len(p.Data)}
	}
	if !r.LastSyncAttempt.IsZero() {
		t := r.LastSyncAttempt
		v.LastSyncAttempt = &t
	}
	return v
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) error {
	var msg background.Message
	if err := decodeJSON(r, &msg); err != nil {
		return err
	}

	reply, err := s.deps.Channel.Handle(r.Context(), msg)
	switch {
	case errors.Is(err, background.ErrUnknownMessage):
		return errBadRequest(err.Error(), err)
	case errors.Is(err, background.ErrMissingConfig):
		return errBadRequest("Configuration missing", err)
	case err != nil:
		return err
	}

	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	respondJSON(w, http.StatusOK, reply)
	return nil
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) error {
	var req connectivityRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := s.validate.Struct(req); err != nil {
		return errBadRequest("online is required", err)
	}

	// Going online may fire a background sync; it must outlive the request.
	s.deps.Switch.SetOnline(context.WithoutCancel(r.Context()), *req.Online)
	respondJSON(w, http.StatusOK, s.deps.Monitor.State())
	return nil
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) error {
	results, err := s.deps.Engine.SyncPendingReports(r.Context(), s.userID(r))
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, results)
	return nil
}

func (s *Server) handleSyncReport(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, paramID)
	res := s.deps.Engine.SyncSingleReport(r.Context(), id, s.userID(r))
	if res.Kind == sync.KindNotFound {
		return errNotFound(res.Error)
	}
	respondJSON(w, http.StatusOK, res)
	return nil
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) error {
	reports, err := s.deps.Engine.PendingReports(r.Context())
	if err != nil {
		return err
	}
	views := make([]reportView, len(reports))
	for i, rep := range reports {
		views[i] = newReportView(rep)
	}
	respondJSON(w, http.StatusOK, views)
	return nil
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) error {
	var req createReportRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := s.validate.Struct(req); err != nil {
		return errBadRequest(firstFieldError(err), err)
	}

	report := store.NewReport{
		Issue: store.IssueData{
			Title:       req.Issue.Title,
			Description: req.Issue.Description,
			Category:    req.Issue.Category,
			Severity:    req.Issue.Severity,
			Address:     req.Issue.Address,
			Latitude:    req.Issue.Latitude,
			Longitude:   req.Issue.Longitude,
		},
		UserID: req.UserID,
	}
	for _, p := range req.Photos {
		mime := p.MimeType
		if mime == "" {
			mime = mimetype.Detect(p.Data).String()
		}
		report.Photos = append(report.Photos, store.Photo{Filename: p.Filename, MimeType: mime, Data: p.Data})
	}

	id, err := s.deps.Queue.Save(r.Context(), report)
	if err != nil {
		return err
	}
	logger.Info("control: queued report %s", id)

	if s.deps.Trigger != nil {
		go s.deps.Trigger.Register(context.WithoutCancel(r.Context()))
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) error {
	n, err := s.deps.Engine.PendingCount(r.Context())
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, statusResponse{
		Connectivity: s.deps.Monitor.State(),
		Syncing:      s.deps.Engine.IsSyncing(),
		Pending:      n,
	})
	return nil
}

// userID prefers ?user= and falls back to the signed-in session.
func (s *Server) userID(r *http.Request) string {
	if u := r.URL.Query().Get("user"); u != "" {
		return u
	}
	if s.deps.Sessions != nil {
		return s.deps.Sessions.Current().UserID
	}
	return ""
}

func firstFieldError(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fe.Namespace() + " failed " + fe.Tag()
	}
	return "Invalid request"
}
