package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Dosada05/palanteer/services"
)

// multipartOverhead covers form boundaries and the description field on top of the file.
const multipartOverhead = 1 << 20

type SubmissionHandler struct {
	submissionService services.SubmissionService
	maxUploadBytes    int64
}

func NewSubmissionHandler(ss services.SubmissionService, maxUploadBytes int64) *SubmissionHandler {
	return &SubmissionHandler{
		submissionService: ss,
		maxUploadBytes:    maxUploadBytes,
	}
}

// SubmitPrediction godoc
// @Summary      Submit a prediction file
// @Description  The file is validated and stored, then scored asynchronously. The response carries the pending submission.
// @Tags         submissions
// @Accept       multipart/form-data
// @Produce      json
// @Param        competitionID path int true "Competition ID"
// @Param        file formData file true "Predictions (.csv or .xlsx)"
// @Param        description formData string false "Free-form note"
// @Success      202 {object} map[string]interface{}
// @Failure      400 {object} map[string]interface{}
// @Failure      409 {object} map[string]interface{}
// @Failure      413 {object} map[string]interface{}
// @Failure      415 {object} map[string]interface{}
// @Failure      429 {object} map[string]interface{}
// @Security     BearerAuth
// @Router       /competitions/{competitionID}/submissions [post]
func (h *SubmissionHandler) SubmitPrediction(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}
	competitionID, err := getIDFromURL(r, "competitionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			mapServiceErrorToHTTP(w, r, services.ErrFileTooLarge)
			return
		}
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

	var description *string
	if d := strings.TrimSpace(r.FormValue("description")); d != "" {
		if len(d) > 1000 {
			failedValidationResponse(w, r, map[string]string{"description": "must be at most 1000 characters"})
			return
		}
		description = &d
	}

	submission, err := h.submissionService.SubmitPrediction(r.Context(), services.SubmitPredictionInput{
		CompetitionID: competitionID,
		ParticipantID: actor.UserID,
		FileName:      header.Filename,
		ContentType:   header.Header.Get("Content-Type"),
		Size:          header.Size,
		Description:   description,
		Body:          file,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	headers := make(http.Header)
	headers.Set("Location", fmt.Sprintf("/api/v1/submissions/%d", submission.ID))
	if err := writeJSON(w, http.StatusAccepted, jsonResponse{"submission": submission}, headers); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetSubmission godoc
// @Summary  Get submission status
// @Tags     submissions
// @Produce  json
// @Param    submissionID path int true "Submission ID"
// @Success  200 {object} map[string]interface{}
// @Failure  403 {object} map[string]interface{}
// @Failure  404 {object} map[string]interface{}
// @Security BearerAuth
// @Router   /submissions/{submissionID} [get]
func (h *SubmissionHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}
	submissionID, err := getIDFromURL(r, "submissionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	submission, err := h.submissionService.GetSubmission(r.Context(), submissionID, actor.UserID, actor.Role)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"submission": submission}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ListMySubmissions godoc
// @Summary  List own submissions
// @Tags     submissions
// @Produce  json
// @Param    competitionID path int true "Competition ID"
// @Param    limit query int false "Page size (default 50, max 100)"
// @Param    offset query int false "Offset"
// @Success  200 {object} map[string]interface{}
// @Security BearerAuth
// @Router   /competitions/{competitionID}/submissions/me [get]
func (h *SubmissionHandler) ListMySubmissions(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}
	competitionID, err := getIDFromURL(r, "competitionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	submissions, err := h.submissionService.ListMySubmissions(r.Context(), competitionID, actor.UserID, limit, offset)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"submissions": submissions}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetQuota godoc
// @Summary  Remaining daily submissions
// @Tags     submissions
// @Produce  json
// @Param    competitionID path int true "Competition ID"
// @Success  200 {object} services.QuotaStatus
// @Failure  404 {object} map[string]interface{}
// @Security BearerAuth
// @Router   /competitions/{competitionID}/quota [get]
func (h *SubmissionHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}
	competitionID, err := getIDFromURL(r, "competitionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	status, err := h.submissionService.CanSubmit(r.Context(), actor.UserID, competitionID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, status, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// DeleteSubmission godoc
// @Summary  Delete a submission
// @Description Moderation removal. The participant's leaderboard entry is recomputed. Admin only.
// @Tags     submissions
// @Param    submissionID path int true "Submission ID"
// @Success  204
// @Failure  403 {object} map[string]interface{}
// @Failure  404 {object} map[string]interface{}
// @Security BearerAuth
// @Router   /submissions/{submissionID} [delete]
func (h *SubmissionHandler) DeleteSubmission(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}
	if !actor.IsAdmin() {
		forbiddenResponse(w, r, "admin privileges required to delete submissions")
		return
	}
	submissionID, err := getIDFromURL(r, "submissionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := h.submissionService.DeleteSubmission(r.Context(), submissionID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
