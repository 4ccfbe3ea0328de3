package app

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"hydrowave/api/internal/auth"
	"hydrowave/api/internal/config"
	"hydrowave/api/internal/export"
	"hydrowave/api/internal/insight"
	"hydrowave/api/internal/search"
	"hydrowave/api/internal/store"
)

const testSecret = "test-secret"

type fakeStore struct {
	pingFn              func(context.Context) error
	createUserFn        func(context.Context, string, string) (store.User, error)
	getUserByUsernameFn func(context.Context, string) (store.User, error)
	getUserByIDFn       func(context.Context, int64) (store.User, error)
	listUsersFn         func(context.Context) ([]store.User, error)
	listReportsFn       func(context.Context) ([]store.Report, error)
	getReportFn         func(context.Context, int64) (store.Report, error)
	createReportFn      func(context.Context, int64, store.ReportInput) (store.Report, error)
	updateReportFn      func(context.Context, int64, func(store.Report) (store.ReportInput, error)) (store.Report, error)
	deleteReportFn      func(context.Context, int64, func(store.Report) error) (store.Report, error)
	listCommentsFn      func(context.Context, int64) ([]store.Comment, error)
	createCommentFn     func(context.Context, int64, int64, string) (store.Comment, error)
	updateCommentFn     func(context.Context, int64, int64, func(store.Comment) (string, error)) (store.Comment, error)
	deleteCommentFn     func(context.Context, int64, int64, func(store.Comment) error) (store.Comment, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateUser(ctx context.Context, username, hash string) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, username, hash)
	}
	return store.User{ID: 1, Username: username, PasswordHash: hash}, nil
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	if f.getUserByUsernameFn != nil {
		return f.getUserByUsernameFn(ctx, username)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(ctx context.Context, id int64) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]store.User, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx)
	}
	return []store.User{}, nil
}

func (f *fakeStore) ListReports(ctx context.Context) ([]store.Report, error) {
	if f.listReportsFn != nil {
		return f.listReportsFn(ctx)
	}
	return []store.Report{}, nil
}

func (f *fakeStore) GetReport(ctx context.Context, id int64) (store.Report, error) {
	if f.getReportFn != nil {
		return f.getReportFn(ctx, id)
	}
	return store.Report{}, sql.ErrNoRows
}

func (f *fakeStore) CreateReport(ctx context.Context, authorID int64, in store.ReportInput) (store.Report, error) {
	if f.createReportFn != nil {
		return f.createReportFn(ctx, authorID, in)
	}
	return store.Report{}, sql.ErrConnDone
}

func (f *fakeStore) UpdateReport(ctx context.Context, id int64, mutate func(store.Report) (store.ReportInput, error)) (store.Report, error) {
	if f.updateReportFn != nil {
		return f.updateReportFn(ctx, id, mutate)
	}
	return store.Report{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteReport(ctx context.Context, id int64, guard func(store.Report) error) (store.Report, error) {
	if f.deleteReportFn != nil {
		return f.deleteReportFn(ctx, id, guard)
	}
	return store.Report{}, sql.ErrNoRows
}

func (f *fakeStore) ListComments(ctx context.Context, reportID int64) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, reportID)
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) CreateComment(ctx context.Context, reportID, authorID int64, text string) (store.Comment, error) {
	if f.createCommentFn != nil {
		return f.createCommentFn(ctx, reportID, authorID, text)
	}
	return store.Comment{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateComment(ctx context.Context, reportID, commentID int64, mutate func(store.Comment) (string, error)) (store.Comment, error) {
	if f.updateCommentFn != nil {
		return f.updateCommentFn(ctx, reportID, commentID, mutate)
	}
	return store.Comment{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteComment(ctx context.Context, reportID, commentID int64, guard func(store.Comment) error) (store.Comment, error) {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, reportID, commentID, guard)
	}
	return store.Comment{}, sql.ErrNoRows
}

type fakeRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	err     error
}

func (f *fakeRevocations) Revoke(_ context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked == nil {
		f.revoked = map[string]time.Time{}
	}
	f.revoked[jti] = exp
	return nil
}

func (f *fakeRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.revoked[jti]
	return ok, nil
}

func (f *fakeRevocations) Ping(context.Context) error { return f.err }

type fakeImages struct {
	uploadFn func(context.Context, io.Reader, int64) (string, error)
	uploads  int
	deleted  []string
}

func (f *fakeImages) Upload(ctx context.Context, body io.Reader, size int64) (string, error) {
	f.uploads++
	if f.uploadFn != nil {
		return f.uploadFn(ctx, body, size)
	}
	return "http://images.test/hydrowave-images/reports/new.png", nil
}

func (f *fakeImages) Delete(_ context.Context, url string) error {
	f.deleted = append(f.deleted, url)
	return nil
}

func (f *fakeImages) Owns(url string) bool {
	return strings.HasPrefix(url, "http://images.test/hydrowave-images/reports/")
}

func (f *fakeImages) MaxBytes() int64 { return 1 << 20 }

type fakeGeocoder struct {
	reverseFn func(context.Context, float64, float64) ([]byte, error)
	searchFn  func(context.Context, string) ([]byte, error)
}

func (f *fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) ([]byte, error) {
	return f.reverseFn(ctx, lat, lng)
}

func (f *fakeGeocoder) Search(ctx context.Context, q string) ([]byte, error) {
	return f.searchFn(ctx, q)
}

type fakeInsight struct {
	enabled   bool
	suggestFn func(context.Context, insight.ReportContext) (string, error)
}

func (f *fakeInsight) Enabled() bool { return f.enabled }

func (f *fakeInsight) Suggest(ctx context.Context, r insight.ReportContext) (string, error) {
	return f.suggestFn(ctx, r)
}

type fakeSearch struct {
	mu       sync.Mutex
	searchFn func(context.Context, search.Query) (search.Response, error)
	indexed  []int64
	removed  []int64
}

func (f *fakeSearch) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text, Backend: "postgres"}, nil
}

func (f *fakeSearch) IndexReport(r store.Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, r.ID)
}

func (f *fakeSearch) DeleteReport(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
}

type fakeExporter struct {
	exportFn func(context.Context, export.Request) (*export.Result, error)
}

func (f *fakeExporter) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return f.exportFn(ctx, req)
}

type testEnv struct {
	store    *fakeStore
	revoked  *fakeRevocations
	images   *fakeImages
	geocoder *fakeGeocoder
	insight  *fakeInsight
	search   *fakeSearch
	exporter *fakeExporter
	codec    *auth.Codec
	service  *Service
	handler  http.Handler
}

func newTestEnv(t *testing.T, fs *fakeStore) *testEnv {
	t.Helper()
	codec, err := auth.NewCodec(testSecret, time.Hour)
	require.NoError(t, err)

	env := &testEnv{
		store:    fs,
		revoked:  &fakeRevocations{},
		images:   &fakeImages{},
		geocoder: &fakeGeocoder{},
		insight:  &fakeInsight{},
		search:   &fakeSearch{},
		exporter: &fakeExporter{},
		codec:    codec,
	}
	env.service = New(config.Config{}, Dependencies{
		Store:    fs,
		Tokens:   codec,
		Revoked:  env.revoked,
		Images:   env.images,
		Geocoder: env.geocoder,
		Insight:  env.insight,
		Search:   env.search,
		Export:   env.exporter,
	})
	env.handler = NewHTTPServer(env.service, []string{"*"}, 0).Handler()
	return env
}

func (e *testEnv) token(t *testing.T, id int64, username string) string {
	t.Helper()
	tok, err := e.codec.Encode(auth.Identity{ID: id, Username: username})
	require.NoError(t, err)
	return tok.Value
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), "body=%s", rr.Body.String())
	return payload
}

func requireError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	require.Equal(t, status, rr.Code, "body=%s", rr.Body.String())
	payload := decodeMap(t, rr)
	require.Equal(t, code, payload["code"])
	return payload
}

func strPtr(s string) *string { return &s }

func sampleReport(id, authorID int64) store.Report {
	return store.Report{
		ID:             id,
		AuthorID:       authorID,
		AuthorUsername: "river_watch",
		Title:          "Foam on the creek",
		ReportedAt:     time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		WaterSource:    "creek",
		LocationLat:    40.1,
		LocationLong:   -105.2,
		LocationName:   "Boulder Creek",
		Observation:    "white foam near outflow",
		Condition:      "polluted",
		Status:         "Open",
		Comments:       []store.CommentSummary{},
	}
}
