package _switch

import (
	"errors"
	"sync"
	"time"

	"github.com/CamiloRodriguezColmeiro/impostor-lol/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultSendTimeout = time.Second
)

var (
	ErrConnNotFound = errors.New("connection not found")
)

// Switch owns the delivery side of the transport: it tracks one wire
// per live connection plus room-scoped subscription groups, and exposes
// direct and broadcast delivery on top of them.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	conns  map[string]model.Wire
	groups map[string]map[string]struct{}
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		conns:  make(map[string]model.Wire),
		groups: make(map[string]map[string]struct{}),
	}
}

// Connect registers a connection's wire. The connection is not part of
// any group until it subscribes.
func (sw *Switch) Connect(connID string, wire model.Wire) {
	sw.mx.Lock()
	sw.conns[connID] = wire
	sw.mx.Unlock()
	sw.logger.Debug().
		Str("connID", connID).
		Msg("connection attached")
}

// Disconnect drops the connection's wire and removes it from every
// group it subscribed to. Groups left empty are deleted.
func (sw *Switch) Disconnect(connID string) {
	sw.mx.Lock()
	delete(sw.conns, connID)
	for code, group := range sw.groups {
		delete(group, connID)
		if len(group) == 0 {
			delete(sw.groups, code)
		}
	}
	sw.mx.Unlock()
	sw.logger.Debug().
		Str("connID", connID).
		Msg("connection detached")
}

// Subscribe adds the connection to a room's broadcast group.
func (sw *Switch) Subscribe(roomCode, connID string) {
	sw.mx.Lock()
	group, ok := sw.groups[roomCode]
	if !ok {
		group = make(map[string]struct{})
		sw.groups[roomCode] = group
	}
	group[connID] = struct{}{}
	sw.mx.Unlock()
	sw.logger.Debug().
		Str("roomCode", roomCode).
		Str("connID", connID).
		Msg("connection subscribed")
}

// SendTo delivers a message to a single connection.
func (sw *Switch) SendTo(connID string, msg model.Outbound) error {
	sw.mx.RLock()
	wire, ok := sw.conns[connID]
	sw.mx.RUnlock()

	if !ok {
		return ErrConnNotFound
	}
	sw.send(connID, wire, msg)
	return nil
}

// Broadcast delivers a message to every connection subscribed to the
// room's group, including the originator.
func (sw *Switch) Broadcast(roomCode string, msg model.Outbound) {
	sw.mx.RLock()
	group := sw.groups[roomCode]
	wires := make(map[string]model.Wire, len(group))
	for connID := range group {
		if wire, ok := sw.conns[connID]; ok {
			wires[connID] = wire
		}
	}
	sw.mx.RUnlock()

	if len(wires) == 0 {
		sw.logger.Debug().
			Str("roomCode", roomCode).
			Str("event", msg.Event).
			Msg("broadcast did not reach anyone")
		return
	}
	for connID, wire := range wires {
		sw.send(connID, wire, msg)
	}
}

func (sw *Switch) send(connID string, wire model.Wire, msg model.Outbound) {
	tCh := time.NewTimer(defaultSendTimeout)
	select {
	case wire.TX <- msg:
		sw.logger.Debug().
			Str("connID", connID).
			Str("event", msg.Event).
			Msg("message forwarded")
	case <-tCh.C:
		sw.logger.Error().
			Str("connID", connID).
			Str("event", msg.Event).
			Msg("dead endpoint")
	}
	tCh.Stop()
}
