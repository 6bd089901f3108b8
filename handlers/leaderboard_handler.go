package handlers

import (
	"net/http"

	"github.com/Dosada05/palanteer/middleware"
	"github.com/Dosada05/palanteer/services"
)

type LeaderboardHandler struct {
	leaderboardService services.LeaderboardService
}

func NewLeaderboardHandler(ls services.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{leaderboardService: ls}
}

// GetLeaderboard godoc
// @Summary      Competition leaderboard
// @Description  A consistent page of ranked entries with summary stats. Authenticated participants also get their own entry.
// @Tags         leaderboard
// @Produce      json
// @Param        competitionID path int true "Competition ID"
// @Param        page query int false "Page number (default 1)"
// @Param        page_size query int false "Page size (default 20, max 100)"
// @Success      200 {object} services.LeaderboardPage
// @Failure      400 {object} map[string]interface{}
// @Failure      404 {object} map[string]interface{}
// @Router       /competitions/{competitionID}/leaderboard [get]
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	competitionID, err := getIDFromURL(r, "competitionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	pageSize, err := queryInt(r, "page_size", services.DefaultLeaderboardPageSize)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var viewerID *int
	if id, err := middleware.GetUserIDFromContext(r.Context()); err == nil {
		viewerID = &id
	}

	board, err := h.leaderboardService.GetLeaderboard(r.Context(), competitionID, page, pageSize, viewerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, board, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetParticipantRank godoc
// @Summary  Participant rank
// @Tags     leaderboard
// @Produce  json
// @Param    competitionID path int true "Competition ID"
// @Param    participantID path int true "Participant ID"
// @Success  200 {object} services.ParticipantRank
// @Failure  404 {object} map[string]interface{}
// @Router   /competitions/{competitionID}/leaderboard/participants/{participantID} [get]
func (h *LeaderboardHandler) GetParticipantRank(w http.ResponseWriter, r *http.Request) {
	competitionID, err := getIDFromURL(r, "competitionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	participantID, err := getIDFromURL(r, "participantID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	rank, err := h.leaderboardService.GetParticipantRank(r.Context(), competitionID, participantID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, rank, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
