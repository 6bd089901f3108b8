package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Dosada05/palanteer/live"
	"github.com/Dosada05/palanteer/middleware"
	"github.com/Dosada05/palanteer/services"
)

type WebSocketHandler struct {
	hub                *live.Hub
	competitionService services.CompetitionService
	upgrader           websocket.Upgrader
}

// NewWebSocketHandler accepts connections from the given origins; "*" allows any.
func NewWebSocketHandler(hub *live.Hub, cs services.CompetitionService, allowedOrigins []string) *WebSocketHandler {
	h := &WebSocketHandler{hub: hub, competitionService: cs}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeWs subscribes the caller to a competition room at /ws/competitions/{competitionID}.
// Authenticated participants additionally receive their own rank and submission events.
// @Summary  Live leaderboard updates
// @Tags     leaderboard
// @Param    competitionID path int true "Competition ID"
// @Param    token query string false "Bearer token for personal events"
// @Success  101
// @Router   /ws/competitions/{competitionID} [get]
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	competitionID, err := getIDFromURL(r, "competitionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if _, err := h.competitionService.GetCompetition(r.Context(), competitionID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	participantID := 0
	if id, err := middleware.GetUserIDFromContext(r.Context()); err == nil {
		participantID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection for competition %d: %v", competitionID, err)
		return
	}

	room := live.RoomFor(competitionID)
	h.hub.Attach(conn, room, participantID)
	log.Printf("Client attached to room %s (participant %d)", room, participantID)
}
