package service

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/CamiloRodriguezColmeiro/impostor-lol/backend/model"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
)

var (
	ErrCreate       = errors.New("unable to create room")
	ErrJoin         = errors.New("unable to join room")
	ErrStart        = errors.New("unable to start game")
	ErrBadPayload   = errors.New("malformed payload")
	ErrUnknownEvent = errors.New("unknown event")
)

type (
	// RoomRegistry holds all live rooms for the lifetime of the process.
	RoomRegistry interface {
		CreateRoom(connID string) (string, error)
		JoinRoom(code, displayName, connID string) ([]string, error)
		Members(code string) ([]model.Player, error)
		SetAssignments(code string, assignments []model.Assignment) error
		RemoveConnection(connID string) []model.RoomUpdate
	}

	// Coordinator produces one round's worth of role assignments.
	Coordinator interface {
		Assign(members []model.Player, pool []string) ([]model.Assignment, error)
	}

	// Notifier is the delivery half of the transport: direct sends and
	// room-scoped broadcasts.
	Notifier interface {
		Subscribe(roomCode, connID string)
		SendTo(connID string, msg model.Outbound) error
		Broadcast(roomCode string, msg model.Outbound)
	}

	Service struct {
		mx       sync.Mutex
		registry RoomRegistry
		coord    Coordinator
		notifier Notifier
		logger   zerolog.Logger
	}

	Config struct {
		Registry    RoomRegistry
		Coordinator Coordinator
		Notifier    Notifier
		Logger      *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		registry: cfg.Registry,
		coord:    cfg.Coordinator,
		notifier: cfg.Notifier,
		logger:   cfg.Logger.With().Str("component", "game").Logger(),
	}
}

// HandleEvent decodes and dispatches one client event. Failures are
// reported back on the originating connection and never mutate room
// state. HandleEvent and Disconnect are the transport entry points and
// run one at a time: room state cannot change while a handler is in
// flight.
func (svc *Service) HandleEvent(connID string, env model.Envelope) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	var err error
	switch env.Event {
	case model.EventCreateRoom:
		err = svc.CreateRoom(connID)
	case model.EventJoinRoom:
		var req model.JoinRequest
		if err = json.Unmarshal(env.Payload, &req); err != nil {
			err = errors.Join(ErrBadPayload, err)
			break
		}
		err = svc.JoinRoom(connID, req)
	case model.EventStartGame:
		var req model.StartRequest
		if err = json.Unmarshal(env.Payload, &req); err != nil {
			err = errors.Join(ErrBadPayload, err)
			break
		}
		err = svc.StartGame(connID, req)
	default:
		err = ErrUnknownEvent
	}
	if err != nil {
		svc.logger.Debug().
			Err(err).
			Str("connID", connID).
			Str("event", env.Event).
			Msg("event failed")
		svc.sendError(connID, err)
	}
}

// CreateRoom registers an empty room and replies with its code.
func (svc *Service) CreateRoom(connID string) error {
	code, err := svc.registry.CreateRoom(connID)
	if err != nil {
		return errors.Join(ErrCreate, err)
	}
	svc.logger.Debug().
		Str("connID", connID).
		Str("roomCode", code).
		Msg("room created")
	return svc.notifier.SendTo(connID, model.Outbound{
		Event:   model.EventRoomCreated,
		Payload: model.RoomCreated{Code: code},
	})
}

// JoinRoom adds the connection to the room, acknowledges the caller and
// broadcasts the updated member list to the whole room.
func (svc *Service) JoinRoom(connID string, req model.JoinRequest) error {
	names, err := svc.registry.JoinRoom(req.Code, req.DisplayName, connID)
	if err != nil {
		return errors.Join(ErrJoin, err)
	}
	svc.notifier.Subscribe(req.Code, connID)
	svc.logger.Debug().
		Str("connID", connID).
		Str("roomCode", req.Code).
		Str("displayName", req.DisplayName).
		Msg("player joined room")

	if err = svc.notifier.SendTo(connID, model.Outbound{
		Event:   model.EventJoined,
		Payload: model.JoinAck{Success: true},
	}); err != nil {
		return err
	}
	svc.notifier.Broadcast(req.Code, model.Outbound{
		Event:   model.EventUpdatePlayers,
		Payload: names,
	})
	return nil
}

// StartGame runs one round: shuffles members and the candidate pool,
// picks the impostor, reveals each role privately and announces the
// round to the room. The impostor's reveal carries no role value.
func (svc *Service) StartGame(connID string, req model.StartRequest) error {
	members, err := svc.registry.Members(req.Code)
	if err != nil {
		return errors.Join(ErrStart, err)
	}
	assignments, err := svc.coord.Assign(members, req.CandidatePool)
	if err != nil {
		return errors.Join(ErrStart, err)
	}
	if err = svc.registry.SetAssignments(req.Code, assignments); err != nil {
		return errors.Join(ErrStart, err)
	}

	if e := svc.logger.Trace(); e.Enabled() {
		e.Str("roomCode", req.Code).Msg(spew.Sdump(assignments))
	}

	for _, a := range assignments {
		reveal := model.RoleReveal{IsImpostor: a.IsImpostor}
		if !a.IsImpostor {
			reveal.RoleValue = a.RoleValue
		}
		if err = svc.notifier.SendTo(a.ConnectionID, model.Outbound{
			Event:   model.EventYourRole,
			Payload: reveal,
		}); err != nil {
			svc.logger.Warn().
				Err(err).
				Str("connID", a.ConnectionID).
				Str("roomCode", req.Code).
				Msg("role reveal not delivered")
		}
	}

	svc.notifier.Broadcast(req.Code, model.Outbound{
		Event:   model.EventGameStarted,
		Payload: model.GameStarted{Total: len(assignments)},
	})
	svc.logger.Debug().
		Str("roomCode", req.Code).
		Int("players", len(assignments)).
		Msg("round started")
	return nil
}

// Disconnect sweeps the connection out of every room and re-broadcasts
// the member list of each room that changed.
func (svc *Service) Disconnect(connID string) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	for _, upd := range svc.registry.RemoveConnection(connID) {
		svc.notifier.Broadcast(upd.Code, model.Outbound{
			Event:   model.EventUpdatePlayers,
			Payload: upd.Names,
		})
		svc.logger.Debug().
			Str("connID", connID).
			Str("roomCode", upd.Code).
			Msg("player left room")
	}
}

func (svc *Service) sendError(connID string, err error) {
	sendErr := svc.notifier.SendTo(connID, model.Outbound{
		Event:   model.EventError,
		Payload: model.ErrorPayload{Error: err.Error()},
	})
	if sendErr != nil {
		svc.logger.Warn().
			Err(sendErr).
			Str("connID", connID).
			Msg("error reply not delivered")
	}
}
