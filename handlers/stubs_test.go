package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"

	"github.com/Dosada05/palanteer/middleware"
	"github.com/Dosada05/palanteer/models"
	"github.com/Dosada05/palanteer/services"
)

type stubSubmissions struct {
	submitted  *services.SubmitPredictionInput
	body       []byte
	submitErr  error
	deletedID  int
	getViewer  int
	getRole    models.UserRole
	quota      *services.QuotaStatus
	listLimit  int
	listOffset int
}

func (s *stubSubmissions) SubmitPrediction(_ context.Context, in services.SubmitPredictionInput) (*models.Submission, error) {
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	s.body = data
	s.submitted = &in
	return &models.Submission{ID: 31, CompetitionID: in.CompetitionID, ParticipantID: in.ParticipantID,
		FileName: in.FileName, FileSize: int64(len(data)), Status: models.SubmissionPending}, nil
}

func (s *stubSubmissions) GetSubmission(_ context.Context, id, viewerID int, role models.UserRole) (*models.Submission, error) {
	s.getViewer, s.getRole = viewerID, role
	if id != 31 {
		return nil, services.ErrSubmissionNotFound
	}
	return &models.Submission{ID: 31, ParticipantID: viewerID, Status: models.SubmissionScored}, nil
}

func (s *stubSubmissions) ListMySubmissions(_ context.Context, _, _, limit, offset int) ([]*models.Submission, error) {
	s.listLimit, s.listOffset = limit, offset
	return []*models.Submission{}, nil
}

func (s *stubSubmissions) CanSubmit(context.Context, int, int) (*services.QuotaStatus, error) {
	return s.quota, nil
}

func (s *stubSubmissions) DeleteSubmission(_ context.Context, id int) error {
	s.deletedID = id
	return nil
}

type stubCompetitions struct {
	services.CompetitionService
	created *services.CreateCompetitionInput
	actor   services.Actor
	list    services.ListCompetitionsInput
	listBy  *services.Actor
	status  models.CompetitionStatus
	err     error
}

func (s *stubCompetitions) CreateCompetition(_ context.Context, actor services.Actor, in services.CreateCompetitionInput) (*models.Competition, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.actor, s.created = actor, &in
	return &models.Competition{ID: 5, Slug: in.Slug, Title: in.Title, OrganizerID: actor.UserID}, nil
}

func (s *stubCompetitions) GetCompetition(_ context.Context, id int) (*models.Competition, error) {
	if id != 5 {
		return nil, services.ErrCompetitionNotFound
	}
	return &models.Competition{ID: 5, Slug: "house-prices"}, nil
}

func (s *stubCompetitions) ListCompetitions(_ context.Context, actor *services.Actor, in services.ListCompetitionsInput) ([]models.Competition, error) {
	s.listBy, s.list = actor, in
	return []models.Competition{{ID: 5}}, nil
}

func (s *stubCompetitions) UpdateStatus(_ context.Context, actor services.Actor, id int, status models.CompetitionStatus) (*models.Competition, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.actor, s.status = actor, status
	return &models.Competition{ID: id, Status: status}, nil
}

type stubLeaderboard struct {
	viewer   *int
	page     int
	pageSize int
}

func (s *stubLeaderboard) GetLeaderboard(_ context.Context, competitionID, page, pageSize int, viewerID *int) (*services.LeaderboardPage, error) {
	s.viewer, s.page, s.pageSize = viewerID, page, pageSize
	return &services.LeaderboardPage{CompetitionID: competitionID, Page: page, PageSize: pageSize}, nil
}

func (s *stubLeaderboard) GetParticipantRank(_ context.Context, competitionID, participantID int) (*services.ParticipantRank, error) {
	if participantID != 8 {
		return nil, services.ErrEntryNotFound
	}
	return &services.ParticipantRank{CompetitionID: competitionID, ParticipantID: 8, Rank: 2}, nil
}

// asUser injects claims the way the auth middleware would.
func asUser(id int, role models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithClaims(r.Context(), id, role)))
		})
	}
}

func do(t interface{ Helper() }, router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func newRouter(user func(http.Handler) http.Handler, register func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	if user != nil {
		r.Use(user)
	}
	register(r)
	return r
}
