package memory

import (
	"errors"
	"strings"
	"sync"

	"github.com/CamiloRodriguezColmeiro/impostor-lol/backend/model"
	"github.com/google/uuid"
)

const (
	roomCodeLength  = 6
	maxCodeAttempts = 10
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrCodeSpaceExhausted = errors.New("could not generate unique room code")
)

type MemStore struct {
	mx      *sync.Mutex
	db      map[string]*model.Room
	newCode func() string
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx:      &sync.Mutex{},
		db:      make(map[string]*model.Room),
		newCode: generateCode,
	}
}

// generateCode derives a short human-typeable code from a uuid. The
// first 6 characters of a v4 uuid are hex digits, no hyphens.
func generateCode() string {
	return strings.ToUpper(uuid.NewString()[:roomCodeLength])
}

// CreateRoom registers an empty room under a fresh code. Codes are
// regenerated on collision instead of overwriting a live room. The
// creating connection is remembered so a room nobody ever joined does
// not outlive its creator.
func (ms *MemStore) CreateRoom(connID string) (string, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := ms.newCode()
		if _, ok := ms.db[code]; ok {
			continue
		}
		ms.db[code] = &model.Room{Code: code, CreatorConnID: connID}
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

// JoinRoom appends a player to the room's member list and returns the
// updated ordered name list.
func (ms *MemStore) JoinRoom(code, displayName, connID string) ([]string, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room.Members = append(room.Members, model.Player{
		ConnectionID: connID,
		DisplayName:  displayName,
	})
	return room.MemberNames(), nil
}

// Members returns a snapshot of the room's member list in join order.
func (ms *MemStore) Members(code string) ([]model.Player, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	members := make([]model.Player, len(room.Members))
	copy(members, room.Members)
	return members, nil
}

// SetAssignments replaces the room's round assignments.
func (ms *MemStore) SetAssignments(code string, assignments []model.Assignment) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[code]
	if !ok {
		return ErrRoomNotFound
	}
	room.Assignments = assignments
	return nil
}

// RemoveConnection sweeps every room for the given connection and
// removes matching players. It reports the updated name list of each
// room that was actually modified. Rooms left with no members are
// deleted, as is a still-empty room whose creator's connection closes
// (that one had no subscribers, so no update is reported for it).
func (ms *MemStore) RemoveConnection(connID string) []model.RoomUpdate {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	var updates []model.RoomUpdate
	for code, room := range ms.db {
		kept := room.Members[:0:0]
		for _, p := range room.Members {
			if p.ConnectionID != connID {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(room.Members) {
			if len(room.Members) == 0 && room.CreatorConnID == connID {
				delete(ms.db, code)
			}
			continue
		}
		room.Members = kept
		if len(kept) == 0 {
			delete(ms.db, code)
		}
		updates = append(updates, model.RoomUpdate{Code: code, Names: room.MemberNames()})
	}
	return updates
}

func (ms *MemStore) Stats() (rooms, players int) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	rooms = len(ms.db)
	for _, room := range ms.db {
		players += len(room.Members)
	}
	return rooms, players
}
