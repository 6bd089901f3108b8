package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Dosada05/palanteer/models"
	"github.com/Dosada05/palanteer/services"
)

const maxMultipartMemory = 32 << 20

type CompetitionHandler struct {
	competitionService services.CompetitionService
}

func NewCompetitionHandler(cs services.CompetitionService) *CompetitionHandler {
	return &CompetitionHandler{competitionService: cs}
}

// CreateCompetition godoc
// @Summary      Create a competition
// @Description  Organizers and admins create a competition in the upcoming state.
// @Tags         competitions
// @Accept       json
// @Produce      json
// @Param        input body services.CreateCompetitionInput true "Competition definition"
// @Success      201 {object} map[string]interface{}
// @Failure      400 {object} map[string]interface{}
// @Failure      403 {object} map[string]interface{}
// @Failure      409 {object} map[string]interface{}
// @Failure      422 {object} map[string]interface{}
// @Security     BearerAuth
// @Router       /competitions [post]
func (h *CompetitionHandler) CreateCompetition(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}

	var input services.CreateCompetitionInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	competition, err := h.competitionService.CreateCompetition(r.Context(), actor, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	headers := make(http.Header)
	headers.Set("Location", fmt.Sprintf("/api/v1/competitions/%d", competition.ID))
	if err := writeJSON(w, http.StatusCreated, jsonResponse{"competition": competition}, headers); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetCompetition godoc
// @Summary  Get a competition
// @Tags     competitions
// @Produce  json
// @Param    competitionID path int true "Competition ID"
// @Success  200 {object} map[string]interface{}
// @Failure  404 {object} map[string]interface{}
// @Router   /competitions/{competitionID} [get]
func (h *CompetitionHandler) GetCompetition(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "competitionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	competition, err := h.competitionService.GetCompetition(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"competition": competition}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ListCompetitions godoc
// @Summary  List competitions
// @Description Anonymous callers and participants only see public competitions.
// @Tags     competitions
// @Produce  json
// @Param    status query string false "upcoming, active or completed"
// @Param    visibility query string false "public or private"
// @Param    limit query int false "Page size (default 50)"
// @Param    offset query int false "Offset"
// @Success  200 {object} map[string]interface{}
// @Failure  400 {object} map[string]interface{}
// @Router   /competitions [get]
func (h *CompetitionHandler) ListCompetitions(w http.ResponseWriter, r *http.Request) {
	var input services.ListCompetitionsInput
	q := r.URL.Query()

	if raw := q.Get("status"); raw != "" {
		status := models.CompetitionStatus(raw)
		switch status {
		case models.CompetitionUpcoming, models.CompetitionActive, models.CompetitionCompleted:
			input.Status = &status
		default:
			badRequestResponse(w, r, fmt.Errorf("unknown status %q", raw))
			return
		}
	}
	if raw := q.Get("visibility"); raw != "" {
		visibility := models.CompetitionVisibility(raw)
		if visibility != models.VisibilityPublic && visibility != models.VisibilityPrivate {
			badRequestResponse(w, r, fmt.Errorf("unknown visibility %q", raw))
			return
		}
		input.Visibility = &visibility
	}

	var err error
	if input.Limit, err = queryInt(r, "limit", 0); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.Offset, err = queryInt(r, "offset", 0); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	competitions, err := h.competitionService.ListCompetitions(r.Context(), optionalActor(r), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"competitions": competitions}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// UpdateCompetition godoc
// @Summary      Edit a competition
// @Description  Scoring fields are locked once the competition has started.
// @Tags         competitions
// @Accept       json
// @Produce      json
// @Param        competitionID path int true "Competition ID"
// @Param        input body services.UpdateCompetitionInput true "Fields to change"
// @Success      200 {object} map[string]interface{}
// @Failure      400 {object} map[string]interface{}
// @Failure      403 {object} map[string]interface{}
// @Failure      404 {object} map[string]interface{}
// @Failure      409 {object} map[string]interface{}
// @Security     BearerAuth
// @Router       /competitions/{competitionID} [put]
func (h *CompetitionHandler) UpdateCompetition(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}
	id, err := getIDFromURL(r, "competitionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input services.UpdateCompetitionInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	competition, err := h.competitionService.UpdateCompetition(r.Context(), actor, id, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"competition": competition}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

type updateStatusRequest struct {
	Status models.CompetitionStatus `json:"status"`
}

// UpdateCompetitionStatus godoc
// @Summary  Change competition status
// @Description Completing a competition cancels its pending scoring jobs.
// @Tags     competitions
// @Accept   json
// @Produce  json
// @Param    competitionID path int true "Competition ID"
// @Param    input body updateStatusRequest true "Target status"
// @Success  200 {object} map[string]interface{}
// @Failure  400 {object} map[string]interface{}
// @Failure  409 {object} map[string]interface{}
// @Security BearerAuth
// @Router   /competitions/{competitionID}/status [patch]
func (h *CompetitionHandler) UpdateCompetitionStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}
	id, err := getIDFromURL(r, "competitionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input updateStatusRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.Status == "" {
		failedValidationResponse(w, r, map[string]string{"status": "is required"})
		return
	}

	competition, err := h.competitionService.UpdateStatus(r.Context(), actor, id, input.Status)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"competition": competition}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// UploadGroundTruth godoc
// @Summary  Upload ground truth
// @Description The file is checked by scoring it against itself before it replaces the previous one.
// @Tags     competitions
// @Accept   multipart/form-data
// @Produce  json
// @Param    competitionID path int true "Competition ID"
// @Param    file formData file true "Ground truth (.csv or .xlsx)"
// @Success  200 {object} map[string]interface{}
// @Failure  400 {object} map[string]interface{}
// @Failure  409 {object} map[string]interface{}
// @Failure  413 {object} map[string]interface{}
// @Failure  415 {object} map[string]interface{}
// @Failure  422 {object} map[string]interface{}
// @Security BearerAuth
// @Router   /competitions/{competitionID}/ground-truth [put]
func (h *CompetitionHandler) UploadGroundTruth(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}
	id, err := getIDFromURL(r, "competitionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		badRequestResponse(w, r, fmt.Errorf("failed to parse multipart form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			badRequestResponse(w, r, errors.New("form field 'file' is required"))
			return
		}
		badRequestResponse(w, r, fmt.Errorf("error retrieving file from form: %w", err))
		return
	}
	defer file.Close()

	competition, err := h.competitionService.UploadGroundTruth(r.Context(), actor, id, services.GroundTruthInput{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"competition": competition}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// RebuildLeaderboard godoc
// @Summary  Rebuild a leaderboard
// @Description Recomputes every entry from scored submissions. Admin only.
// @Tags     competitions
// @Produce  json
// @Param    competitionID path int true "Competition ID"
// @Success  200 {object} map[string]interface{}
// @Failure  403 {object} map[string]interface{}
// @Failure  404 {object} map[string]interface{}
// @Security BearerAuth
// @Router   /competitions/{competitionID}/rebuild [post]
func (h *CompetitionHandler) RebuildLeaderboard(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}
	id, err := getIDFromURL(r, "competitionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	participants, err := h.competitionService.RebuildLeaderboard(r.Context(), actor, id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"competition_id": id, "participants": participants}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
