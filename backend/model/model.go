package model

import "encoding/json"

// Client-issued events.
const (
	EventCreateRoom = "createRoom"
	EventJoinRoom   = "joinRoom"
	EventStartGame  = "startGame"
)

// Server-issued events. yourRole is always a direct message,
// updatePlayers and gameStarted are room broadcasts.
const (
	EventRoomCreated   = "roomCreated"
	EventJoined        = "joined"
	EventUpdatePlayers = "updatePlayers"
	EventYourRole      = "yourRole"
	EventGameStarted   = "gameStarted"
	EventError         = "error"
)

type Player struct {
	ConnectionID string `json:"-"`
	DisplayName  string `json:"displayName"`
}

type Room struct {
	Code          string       `json:"code"`
	CreatorConnID string       `json:"-"`
	Members       []Player     `json:"members"`
	Assignments   []Assignment `json:"assignments"`
}

// MemberNames returns display names in join order.
func (r *Room) MemberNames() []string {
	names := make([]string, 0, len(r.Members))
	for _, p := range r.Members {
		names = append(names, p.DisplayName)
	}
	return names
}

// Assignment is the per-player outcome of one round. Exactly one
// assignment per round carries IsImpostor. RoleValue is never sent
// to the impostor.
type Assignment struct {
	ConnectionID string `json:"-"`
	DisplayName  string `json:"displayName"`
	RoleValue    string `json:"roleValue,omitempty"`
	IsImpostor   bool   `json:"isImpostor"`
}

// RoomUpdate describes a room whose membership changed during a
// connection sweep.
type RoomUpdate struct {
	Code  string
	Names []string
}

// Envelope is the inbound message frame. Payload stays raw until the
// event type is known.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is the server-to-client message frame.
type Outbound struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

type JoinRequest struct {
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
}

type StartRequest struct {
	Code          string   `json:"code"`
	CandidatePool []string `json:"candidatePool"`
}

type RoomCreated struct {
	Code string `json:"code"`
}

type JoinAck struct {
	Success bool `json:"success"`
}

type RoleReveal struct {
	RoleValue  string `json:"roleValue,omitempty"`
	IsImpostor bool   `json:"isImpostor"`
}

type GameStarted struct {
	Total int `json:"total"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type Wire struct {
	TX chan Outbound
}

func NewWire() Wire {
	return Wire{
		TX: make(chan Outbound, 16),
	}
}
