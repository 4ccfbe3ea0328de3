package app

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hydrowave/api/internal/export"
	"hydrowave/api/internal/media"
	"hydrowave/api/internal/search"
	"hydrowave/api/internal/store"
	"hydrowave/api/internal/validation"
)

const (
	defaultMaxUpload = 10 << 20
	multipartMemory  = 8 << 20
)

type reportBody struct {
	Title        string   `json:"title" validate:"required"`
	ReportedAt   string   `json:"reported_at" validate:"required"`
	WaterSource  string   `json:"water_source" validate:"required"`
	WaterFeature string   `json:"water_feature"`
	LocationLat  *float64 `json:"location_lat" validate:"required,latitude"`
	LocationLong *float64 `json:"location_long" validate:"required,longitude"`
	LocationName string   `json:"location_name"`
	Observation  string   `json:"observation" validate:"required"`
	Condition    string   `json:"condition" validate:"required"`
	Status       string   `json:"status" validate:"required"`
	ImageURL     *string  `json:"image_url" validate:"omitempty,url"`
	RemoveImage  bool     `json:"remove_image"`
}

var reportedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseReportedAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range reportedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, validationError("reported_at must be a date (YYYY-MM-DD) or an RFC 3339 timestamp", "reported_at")
}

func (b reportBody) toInput() (store.ReportInput, error) {
	if err := validation.ValidateStruct(b); err != nil {
		return store.ReportInput{}, err
	}
	reportedAt, err := parseReportedAt(b.ReportedAt)
	if err != nil {
		return store.ReportInput{}, err
	}
	return store.ReportInput{
		Title:        strings.TrimSpace(b.Title),
		ReportedAt:   reportedAt,
		WaterSource:  b.WaterSource,
		WaterFeature: b.WaterFeature,
		LocationLat:  *b.LocationLat,
		LocationLong: *b.LocationLong,
		LocationName: b.LocationName,
		Observation:  b.Observation,
		Condition:    b.Condition,
		Status:       b.Status,
		ImageURL:     b.ImageURL,
	}, nil
}

func (s *Service) maxUploadBytes() int64 {
	if s.images != nil {
		if n := s.images.MaxBytes(); n > 0 {
			return n
		}
	}
	if s.cfg.Storage.MaxUploadBytes > 0 {
		return s.cfg.Storage.MaxUploadBytes
	}
	return defaultMaxUpload
}

// readReportDraft accepts either a JSON body or multipart/form-data with an
// optional "image" file. The returned cleanup must always be called.
func (s *HTTPServer) readReportDraft(w http.ResponseWriter, r *http.Request) (ReportDraft, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var body reportBody
		if err := decodeBody(r, &body); err != nil {
			return ReportDraft{}, noop, domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		}
		input, err := body.toInput()
		if err != nil {
			return ReportDraft{}, noop, err
		}
		return ReportDraft{Input: input, RemoveImage: body.RemoveImage}, noop, nil
	}

	limit := s.service.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ReportDraft{}, noop, media.ErrTooLarge
		}
		return ReportDraft{}, noop, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	body, err := reportBodyFromForm(r.MultipartForm)
	if err != nil {
		return ReportDraft{}, cleanup, err
	}
	input, err := body.toInput()
	if err != nil {
		return ReportDraft{}, cleanup, err
	}
	draft := ReportDraft{Input: input, RemoveImage: body.RemoveImage}

	file, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return draft, cleanup, nil
	case err != nil:
		return ReportDraft{}, cleanup, domainError(http.StatusBadRequest, "INVALID_BODY", "could not read image", nil)
	}
	if header.Size > limit {
		_ = file.Close()
		return ReportDraft{}, cleanup, media.ErrTooLarge
	}
	draft.Image = file
	draft.ImageSize = header.Size
	return draft, func() {
		_ = file.Close()
		cleanup()
	}, nil
}

func reportBodyFromForm(form *multipart.Form) (reportBody, error) {
	get := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	number := func(key string) (*float64, error) {
		raw := get(key)
		if raw == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, validationError(fmt.Sprintf("%s must be a number", key), key)
		}
		return &f, nil
	}

	body := reportBody{
		Title:        get("title"),
		ReportedAt:   get("reported_at"),
		WaterSource:  get("water_source"),
		WaterFeature: get("water_feature"),
		LocationName: get("location_name"),
		Observation:  get("observation"),
		Condition:    get("condition"),
		Status:       get("status"),
		RemoveImage:  strings.EqualFold(get("remove_image"), "true"),
	}
	if url := get("image_url"); url != "" {
		body.ImageURL = &url
	}
	var err error
	if body.LocationLat, err = number("location_lat"); err != nil {
		return reportBody{}, err
	}
	if body.LocationLong, err = number("location_long"); err != nil {
		return reportBody{}, err
	}
	return body, nil
}

func (s *HTTPServer) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.service.ListReports(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *HTTPServer) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "reportID", "report_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	report, err := s.service.GetReport(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	draft, cleanup, err := s.readReportDraft(w, r)
	defer cleanup()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	report, err := s.service.CreateReport(r.Context(), principalFrom(r), draft)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *HTTPServer) handleUpdateReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "reportID", "report_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	draft, cleanup, err := s.readReportDraft(w, r)
	defer cleanup()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	report, err := s.service.UpdateReport(r.Context(), principalFrom(r), id, draft)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "reportID", "report_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	deleted, err := s.service.DeleteReport(r.Context(), principalFrom(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationError(fmt.Sprintf("%s must be an integer", key), key)
	}
	return n, nil
}

func (s *HTTPServer) handleSearchReports(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "q (query) parameter is required", map[string]any{"fields": []string{"q"}})
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp, err := s.service.SearchReports(r.Context(), search.Query{
		Text:   q,
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleExportReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "reportID", "report_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	format, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	result, err := s.service.ExportReport(r.Context(), export.Request{ReportID: id, Format: format})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	disposition := "inline"
	if format == export.FormatPDF {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": result.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

type commentBody struct {
	Text string `json:"text" validate:"required"`
}

func readCommentText(r *http.Request) (string, error) {
	var body commentBody
	if err := decodeBody(r, &body); err != nil {
		return "", domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}
	body.Text = strings.TrimSpace(body.Text)
	if err := validation.ValidateStruct(body); err != nil {
		return "", err
	}
	return body.Text, nil
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	reportID, err := pathID(r, "reportID", "report_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	comments, err := s.service.ListComments(r.Context(), reportID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	reportID, err := pathID(r, "reportID", "report_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	text, err := readCommentText(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	comment, err := s.service.CreateComment(r.Context(), principalFrom(r), reportID, text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func commentIDs(r *http.Request) (reportID, commentID int64, err error) {
	if reportID, err = pathID(r, "reportID", "report_id"); err != nil {
		return 0, 0, err
	}
	if commentID, err = pathID(r, "commentID", "comment_id"); err != nil {
		return 0, 0, err
	}
	return reportID, commentID, nil
}

func (s *HTTPServer) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	reportID, commentID, err := commentIDs(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	text, err := readCommentText(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	comment, err := s.service.UpdateComment(r.Context(), principalFrom(r), reportID, commentID, text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	reportID, commentID, err := commentIDs(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	comment, err := s.service.DeleteComment(r.Context(), principalFrom(r), reportID, commentID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}
