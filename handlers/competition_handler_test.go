package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/palanteer/models"
	"github.com/Dosada05/palanteer/services"
)

func competitionRouter(h *CompetitionHandler, user func(http.Handler) http.Handler) http.Handler {
	return newRouter(user, func(r chi.Router) {
		r.Get("/competitions", h.ListCompetitions)
		r.Post("/competitions", h.CreateCompetition)
		r.Get("/competitions/{competitionID}", h.GetCompetition)
		r.Patch("/competitions/{competitionID}/status", h.UpdateCompetitionStatus)
	})
}

const createBody = `{
	"slug": "house-prices",
	"title": "House prices",
	"metric_type": "rmse",
	"key_column": "id",
	"target_column": "price",
	"start_at": "2024-03-01T00:00:00Z",
	"end_at": "2024-04-01T00:00:00Z"
}`

func TestCreateCompetition(t *testing.T) {
	svc := &stubCompetitions{}
	router := competitionRouter(NewCompetitionHandler(svc), asUser(100, models.RoleOrganizer))

	req := httptest.NewRequest(http.MethodPost, "/competitions", strings.NewReader(createBody))
	rr := do(t, router, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "/api/v1/competitions/5", rr.Header().Get("Location"))
	require.NotNil(t, svc.created)
	assert.Equal(t, "house-prices", svc.created.Slug)
	assert.Equal(t, 100, svc.actor.UserID)
	assert.Equal(t, models.RoleOrganizer, svc.actor.Role)
}

func TestCreateCompetition_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
	}{
		{"unknown field", `{"slug":"a","bogus":1}`, nil, http.StatusBadRequest},
		{"conflict", createBody, services.ErrCompetitionSlugConflict, http.StatusConflict},
		{"forbidden", createBody, services.ErrForbiddenOperation, http.StatusForbidden},
		{"validation", createBody, &services.ValidationError{Fields: map[string]string{"end_at": "must be after start_at"}}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := competitionRouter(NewCompetitionHandler(&stubCompetitions{err: tt.svcErr}), asUser(100, models.RoleOrganizer))
			rr := do(t, router, httptest.NewRequest(http.MethodPost, "/competitions", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestGetCompetition(t *testing.T) {
	router := competitionRouter(NewCompetitionHandler(&stubCompetitions{}), nil)

	assert.Equal(t, http.StatusOK, do(t, router, httptest.NewRequest(http.MethodGet, "/competitions/5", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, httptest.NewRequest(http.MethodGet, "/competitions/6", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, httptest.NewRequest(http.MethodGet, "/competitions/0", nil)).Code)
}

func TestListCompetitions_Filters(t *testing.T) {
	svc := &stubCompetitions{}
	router := competitionRouter(NewCompetitionHandler(svc), nil)

	rr := do(t, router, httptest.NewRequest(http.MethodGet, "/competitions?status=active&visibility=public&limit=10&offset=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, svc.listBy, "anonymous callers pass no actor")
	require.NotNil(t, svc.list.Status)
	assert.Equal(t, models.CompetitionActive, *svc.list.Status)
	require.NotNil(t, svc.list.Visibility)
	assert.Equal(t, models.VisibilityPublic, *svc.list.Visibility)
	assert.Equal(t, 10, svc.list.Limit)
	assert.Equal(t, 5, svc.list.Offset)

	assert.Equal(t, http.StatusBadRequest, do(t, router, httptest.NewRequest(http.MethodGet, "/competitions?status=archived", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, httptest.NewRequest(http.MethodGet, "/competitions?visibility=secret", nil)).Code)
}

func TestListCompetitions_PassesActor(t *testing.T) {
	svc := &stubCompetitions{}
	router := competitionRouter(NewCompetitionHandler(svc), asUser(100, models.RoleOrganizer))

	require.Equal(t, http.StatusOK, do(t, router, httptest.NewRequest(http.MethodGet, "/competitions", nil)).Code)
	require.NotNil(t, svc.listBy)
	assert.Equal(t, 100, svc.listBy.UserID)
}

func TestUpdateCompetitionStatus(t *testing.T) {
	svc := &stubCompetitions{}
	router := competitionRouter(NewCompetitionHandler(svc), asUser(1, models.RoleAdmin))

	rr := do(t, router, httptest.NewRequest(http.MethodPatch, "/competitions/5/status", strings.NewReader(`{"status":"completed"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.CompetitionCompleted, svc.status)

	rr = do(t, router, httptest.NewRequest(http.MethodPatch, "/competitions/5/status", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	svc.err = services.ErrCompetitionInvalidStatusTransition
	rr = do(t, router, httptest.NewRequest(http.MethodPatch, "/competitions/5/status", strings.NewReader(`{"status":"upcoming"}`)))
	assert.Equal(t, http.StatusConflict, rr.Code)
}
