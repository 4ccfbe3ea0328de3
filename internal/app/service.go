package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"hydrowave/api/internal/auth"
	"hydrowave/api/internal/authpw"
	"hydrowave/api/internal/config"
	"hydrowave/api/internal/export"
	"hydrowave/api/internal/insight"
	"hydrowave/api/internal/logging"
	"hydrowave/api/internal/rbac"
	"hydrowave/api/internal/search"
	"hydrowave/api/internal/store"
)

type dataStore interface {
	Ping(context.Context) error
	CreateUser(ctx context.Context, username, passwordHash string) (store.User, error)
	GetUserByUsername(context.Context, string) (store.User, error)
	GetUserByID(context.Context, int64) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	ListReports(context.Context) ([]store.Report, error)
	GetReport(context.Context, int64) (store.Report, error)
	CreateReport(ctx context.Context, authorID int64, in store.ReportInput) (store.Report, error)
	UpdateReport(ctx context.Context, id int64, mutate func(store.Report) (store.ReportInput, error)) (store.Report, error)
	DeleteReport(ctx context.Context, id int64, guard func(store.Report) error) (store.Report, error)
	ListComments(ctx context.Context, reportID int64) ([]store.Comment, error)
	CreateComment(ctx context.Context, reportID, authorID int64, text string) (store.Comment, error)
	UpdateComment(ctx context.Context, reportID, commentID int64, mutate func(store.Comment) (string, error)) (store.Comment, error)
	DeleteComment(ctx context.Context, reportID, commentID int64, guard func(store.Comment) error) (store.Comment, error)
}

// RevocationList remembers signed-out token ids until they expire.
type RevocationList interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type imageStore interface {
	Upload(ctx context.Context, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, url string) error
	Owns(url string) bool
	MaxBytes() int64
}

type geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) ([]byte, error)
	Search(ctx context.Context, query string) ([]byte, error)
}

type insightProvider interface {
	Enabled() bool
	Suggest(ctx context.Context, report insight.ReportContext) (string, error)
}

type reportSearcher interface {
	Search(ctx context.Context, q search.Query) (search.Response, error)
	IndexReport(store.Report)
	DeleteReport(id int64)
}

type reportExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Dependencies are the collaborators built in main and shared by every request.
type Dependencies struct {
	Store    dataStore
	Tokens   *auth.Codec
	Revoked  RevocationList
	Images   imageStore
	Geocoder geocoder
	Insight  insightProvider
	Search   reportSearcher
	Export   reportExporter
}

type Service struct {
	cfg      config.Config
	store    dataStore
	users    *authpw.Service
	tokens   *auth.Codec
	revoked  RevocationList
	images   imageStore
	geocoder geocoder
	insight  insightProvider
	search   reportSearcher
	export   reportExporter
}

func New(cfg config.Config, deps Dependencies) *Service {
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		users:    authpw.NewService(deps.Store),
		tokens:   deps.Tokens,
		revoked:  deps.Revoked,
		images:   deps.Images,
		geocoder: deps.Geocoder,
		insight:  deps.Insight,
		search:   deps.Search,
		export:   deps.Export,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness pings every stateful dependency and reports per-check errors.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if s.revoked != nil {
		checks["revocation"] = s.revoked.Ping(ctx)
	}
	return checks
}

// Sessions

func (s *Service) issue(user store.User) (auth.Token, error) {
	token, err := s.tokens.Encode(auth.Identity{ID: user.ID, Username: user.Username})
	if err != nil {
		return auth.Token{}, fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

func (s *Service) SignUp(ctx context.Context, creds authpw.Credentials) (auth.Token, error) {
	user, err := s.users.SignUp(ctx, creds)
	if err != nil {
		return auth.Token{}, err
	}
	logging.Ctx(ctx).Info().Int64("user_id", user.ID).Msg("user signed up")
	return s.issue(user)
}

func (s *Service) SignIn(ctx context.Context, creds authpw.Credentials) (auth.Token, error) {
	user, err := s.users.SignIn(ctx, creds)
	if err != nil {
		return auth.Token{}, err
	}
	return s.issue(user)
}

// Authenticate decodes a bearer token and rejects revoked ones.
func (s *Service) Authenticate(ctx context.Context, token string) (auth.Principal, error) {
	claims, err := s.tokens.Decode(token)
	if err != nil {
		return auth.Principal{}, err
	}
	principal := auth.PrincipalFromClaims(claims)
	if s.revoked != nil && principal.TokenID != "" {
		revoked, err := s.revoked.IsRevoked(ctx, principal.TokenID)
		if err != nil {
			return auth.Principal{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return auth.Principal{}, fmt.Errorf("%w: token revoked", auth.ErrInvalidToken)
		}
	}
	return principal, nil
}

func (s *Service) SignOut(ctx context.Context, p auth.Principal) error {
	if s.revoked == nil || p.TokenID == "" {
		return nil
	}
	return s.revoked.Revoke(ctx, p.TokenID, p.ExpiresAt)
}

// Refresh issues a new token for the caller and revokes the presented one.
func (s *Service) Refresh(ctx context.Context, p auth.Principal) (auth.Token, error) {
	token, err := s.issue(store.User{ID: p.ID, Username: p.Username})
	if err != nil {
		return auth.Token{}, err
	}
	if err := s.SignOut(ctx, p); err != nil {
		return auth.Token{}, err
	}
	return token, nil
}

// Users

func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, actor auth.Principal, id int64) (store.User, error) {
	if !rbac.CanViewUser(actor.ID, id) {
		return store.User{}, errForbidden
	}
	return s.store.GetUserByID(ctx, id)
}

// Reports

// ReportDraft is a validated report body plus an optional new image.
type ReportDraft struct {
	Input       store.ReportInput
	Image       io.Reader
	ImageSize   int64
	RemoveImage bool
}

func (s *Service) ListReports(ctx context.Context) ([]store.Report, error) {
	return s.store.ListReports(ctx)
}

func (s *Service) GetReport(ctx context.Context, id int64) (store.Report, error) {
	return s.store.GetReport(ctx, id)
}

func (s *Service) uploadImage(ctx context.Context, draft ReportDraft) (*string, error) {
	if draft.Image == nil {
		return nil, nil
	}
	url, err := s.images.Upload(ctx, draft.Image, draft.ImageSize)
	if err != nil {
		return nil, err
	}
	return &url, nil
}

func (s *Service) discardImage(ctx context.Context, url *string) {
	if url == nil {
		return
	}
	if err := s.images.Delete(ctx, *url); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("image_url", *url).Msg("delete image")
	}
}

// checkLinkedImage rejects an image_url pointing into our bucket unless the
// report already holds it. Objects there are deleted along with their report.
func (s *Service) checkLinkedImage(link, current *string) error {
	if link == nil || !s.images.Owns(*link) {
		return nil
	}
	if current != nil && *current == *link {
		return nil
	}
	return validationError("image_url cannot point at an uploaded image; attach the file instead", "image_url")
}

func (s *Service) CreateReport(ctx context.Context, actor auth.Principal, draft ReportDraft) (store.Report, error) {
	if err := s.checkLinkedImage(draft.Input.ImageURL, nil); err != nil {
		return store.Report{}, err
	}
	uploaded, err := s.uploadImage(ctx, draft)
	if err != nil {
		return store.Report{}, err
	}
	in := draft.Input
	if uploaded != nil {
		in.ImageURL = uploaded
	}

	report, err := s.store.CreateReport(ctx, actor.ID, in)
	if err != nil {
		s.discardImage(context.WithoutCancel(ctx), uploaded)
		return store.Report{}, err
	}
	s.search.IndexReport(report)
	return report, nil
}

func (s *Service) UpdateReport(ctx context.Context, actor auth.Principal, id int64, draft ReportDraft) (store.Report, error) {
	// Check ownership before uploading so strangers cannot leave orphaned images.
	current, err := s.store.GetReport(ctx, id)
	if err != nil {
		return store.Report{}, err
	}
	if err := rbac.Authorize(actor.ID, current.AuthorID, rbac.ActionWrite); err != nil {
		return store.Report{}, errForbidden
	}
	if err := s.checkLinkedImage(draft.Input.ImageURL, current.ImageURL); err != nil {
		return store.Report{}, err
	}

	// A removal wins over any attached file, so the file is never stored.
	var uploaded *string
	if !draft.RemoveImage {
		if uploaded, err = s.uploadImage(ctx, draft); err != nil {
			return store.Report{}, err
		}
	}
	replacement := uploaded
	if replacement == nil {
		replacement = draft.Input.ImageURL
	}

	var previous *string
	report, err := s.store.UpdateReport(ctx, id, func(cur store.Report) (store.ReportInput, error) {
		if err := rbac.Authorize(actor.ID, cur.AuthorID, rbac.ActionWrite); err != nil {
			return store.ReportInput{}, errForbidden
		}
		if err := s.checkLinkedImage(draft.Input.ImageURL, cur.ImageURL); err != nil {
			return store.ReportInput{}, err
		}
		previous = cur.ImageURL
		in := draft.Input
		in.ImageURL = store.ResolveImageURL(cur.ImageURL, draft.RemoveImage, replacement)
		return in, nil
	})
	if err != nil {
		s.discardImage(context.WithoutCancel(ctx), uploaded)
		return store.Report{}, err
	}

	if previous != nil && (report.ImageURL == nil || *report.ImageURL != *previous) {
		s.discardImage(ctx, previous)
	}
	s.search.IndexReport(report)
	return report, nil
}

func (s *Service) DeleteReport(ctx context.Context, actor auth.Principal, id int64) (store.Report, error) {
	deleted, err := s.store.DeleteReport(ctx, id, func(cur store.Report) error {
		if err := rbac.Authorize(actor.ID, cur.AuthorID, rbac.ActionDelete); err != nil {
			return errForbidden
		}
		return nil
	})
	if err != nil {
		return store.Report{}, err
	}
	s.discardImage(ctx, deleted.ImageURL)
	s.search.DeleteReport(deleted.ID)
	return deleted, nil
}

// Comments

func (s *Service) ListComments(ctx context.Context, reportID int64) ([]store.Comment, error) {
	return s.store.ListComments(ctx, reportID)
}

func (s *Service) CreateComment(ctx context.Context, actor auth.Principal, reportID int64, text string) (store.Comment, error) {
	if !rbac.Can(actor.ID, 0, rbac.ActionComment) {
		return store.Comment{}, errForbidden
	}
	comment, err := s.store.CreateComment(ctx, reportID, actor.ID, text)
	if err != nil {
		return store.Comment{}, err
	}
	s.reindex(ctx, reportID)
	return comment, nil
}

func (s *Service) UpdateComment(ctx context.Context, actor auth.Principal, reportID, commentID int64, text string) (store.Comment, error) {
	comment, err := s.store.UpdateComment(ctx, reportID, commentID, func(cur store.Comment) (string, error) {
		if err := rbac.Authorize(actor.ID, cur.AuthorID, rbac.ActionWrite); err != nil {
			return "", errForbidden
		}
		return text, nil
	})
	if err != nil {
		return store.Comment{}, err
	}
	s.reindex(ctx, reportID)
	return comment, nil
}

func (s *Service) DeleteComment(ctx context.Context, actor auth.Principal, reportID, commentID int64) (store.Comment, error) {
	comment, err := s.store.DeleteComment(ctx, reportID, commentID, func(cur store.Comment) error {
		if err := rbac.Authorize(actor.ID, cur.AuthorID, rbac.ActionDelete); err != nil {
			return errForbidden
		}
		return nil
	})
	if err != nil {
		return store.Comment{}, err
	}
	s.reindex(ctx, reportID)
	return comment, nil
}

// reindex refreshes the search document of a report whose comments changed.
func (s *Service) reindex(ctx context.Context, reportID int64) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Int64("report_id", reportID).Msg("reindex after comment change")
		return
	}
	s.search.IndexReport(report)
}

// External services

func (s *Service) Insight(ctx context.Context, actor auth.Principal, reportID int64) (string, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return "", err
	}
	if err := rbac.Authorize(actor.ID, report.AuthorID, rbac.ActionInsight); err != nil {
		return "", errForbidden
	}
	if !s.insight.Enabled() {
		return "", insight.ErrNotConfigured
	}
	answer, err := s.insight.Suggest(ctx, insight.ReportContext{
		Observation:  report.Observation,
		Condition:    report.Condition,
		WaterSource:  report.WaterSource,
		LocationName: report.LocationName,
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("report_id", reportID).Msg("insight request failed")
		return "", err
	}
	return answer, nil
}

func (s *Service) ReverseGeocode(ctx context.Context, lat, lng float64) ([]byte, error) {
	return s.geocoder.Reverse(ctx, lat, lng)
}

func (s *Service) SearchPlaces(ctx context.Context, query string) ([]byte, error) {
	return s.geocoder.Search(ctx, query)
}

func (s *Service) SearchReports(ctx context.Context, q search.Query) (search.Response, error) {
	return s.search.Search(ctx, q)
}

func (s *Service) ExportReport(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.export.Export(ctx, req)
}

// errIsClient reports whether err is a caller mistake rather than a fault worth logging.
func errIsClient(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status < 500
	}
	status, _, _, _ := mapError(err)
	return status < 500
}
