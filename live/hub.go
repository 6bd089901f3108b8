// Package live pushes leaderboard changes to websocket subscribers, one room per competition.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	MessageLeaderboardUpdated = "LEADERBOARD_UPDATED"
	MessageRankChanged        = "RANK_CHANGED"
	MessageSubmissionUpdated  = "SUBMISSION_UPDATED"
)

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	RoomID  string      `json:"room_id,omitempty"`
}

type RankChangedPayload struct {
	CompetitionID int `json:"competition_id"`
	ParticipantID int `json:"participant_id"`
	NewRank       int `json:"new_rank"`
}

type LeaderboardUpdatedPayload struct {
	CompetitionID int `json:"competition_id"`
	Participants  int `json:"participants"`
}

type SubmissionUpdatedPayload struct {
	CompetitionID int      `json:"competition_id"`
	SubmissionID  int      `json:"submission_id"`
	Status        string   `json:"status"`
	Score         *float64 `json:"score,omitempty"`
	ErrorReason   string   `json:"error_reason,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	room string
	// participantID is 0 for anonymous viewers.
	participantID int

	mu     sync.Mutex
	closed bool
}

type Hub struct {
	register   chan *Client
	unregister chan *Client
	rooms      map[string]map[*Client]bool
	mu         sync.RWMutex
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rooms:      make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
	}
}

func RoomFor(competitionID int) string {
	return fmt.Sprintf("competition_%d", competitionID)
}

// Run processes registrations until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.rooms[client.room]; !ok {
				h.rooms[client.room] = make(map[*Client]bool)
			}
			h.rooms[client.room][client] = true
			log.Printf("Client registered to room %s. Total clients in room: %d", client.room, len(h.rooms[client.room]))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.room]; ok && clients[client] {
				client.closeSend()
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.rooms, client.room)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for room, clients := range h.rooms {
				for client := range clients {
					client.closeSend()
				}
				delete(h.rooms, room)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Attach registers an upgraded connection and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn, room string, participantID int) {
	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		room:          room,
		participantID: participantID,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// BroadcastToRoom sends a message to every client in the room.
func (h *Hub) BroadcastToRoom(room string, message interface{}) {
	h.sendToRoom(room, message, func(*Client) bool { return true })
}

func (h *Hub) sendToRoom(room string, message interface{}, match func(*Client) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.rooms[room]
	if !ok {
		return
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshalling message for room %s: %v", room, err)
		return
	}

	for client := range clients {
		if !match(client) {
			continue
		}
		client.mu.Lock()
		if !client.closed {
			select {
			case client.send <- messageBytes:
			default:
				log.Printf("Client's send channel full for room %s. Skipping.", room)
			}
		}
		client.mu.Unlock()
	}
}

// NotifyRankChange tells the participant's own connections about their new rank.
func (h *Hub) NotifyRankChange(participantID, competitionID, newRank int) {
	room := RoomFor(competitionID)
	h.sendToRoom(room, Message{
		Type:    MessageRankChanged,
		RoomID:  room,
		Payload: RankChangedPayload{CompetitionID: competitionID, ParticipantID: participantID, NewRank: newRank},
	}, func(c *Client) bool { return c.participantID == participantID })
}

func (h *Hub) PublishLeaderboardUpdate(competitionID, participants int) {
	room := RoomFor(competitionID)
	h.BroadcastToRoom(room, Message{
		Type:    MessageLeaderboardUpdated,
		RoomID:  room,
		Payload: LeaderboardUpdatedPayload{CompetitionID: competitionID, Participants: participants},
	})
}

// PublishSubmissionUpdate tells the submitter that scoring finished.
func (h *Hub) PublishSubmissionUpdate(participantID int, payload SubmissionUpdatedPayload) {
	room := RoomFor(payload.CompetitionID)
	h.sendToRoom(room, Message{
		Type:    MessageSubmissionUpdated,
		RoomID:  room,
		Payload: payload,
	}, func(c *Client) bool { return c.participantID == participantID })
}

func (c *Client) closeSend() {
	c.mu.Lock()
	if !c.closed {
		close(c.send)
		c.closed = true
	}
	c.mu.Unlock()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		// Inbound messages are ignored; reading keeps the pong handler running.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Client in room %s disconnected: %v", c.room, err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per message so clients can decode each as JSON.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Error writing to client in room %s: %v", c.room, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
