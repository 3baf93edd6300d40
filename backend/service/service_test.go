package service

import (
	"encoding/json"
	"math/rand"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamiloRodriguezColmeiro/impostor-lol/backend/model"
	"github.com/CamiloRodriguezColmeiro/impostor-lol/backend/round"
	"github.com/CamiloRodriguezColmeiro/impostor-lol/backend/storage/memory"
)

type broadcastCall struct {
	roomCode string
	msg      model.Outbound
}

type mockNotifier struct {
	mu         sync.Mutex
	subs       map[string][]string
	direct     map[string][]model.Outbound
	broadcasts []broadcastCall
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{
		subs:   make(map[string][]string),
		direct: make(map[string][]model.Outbound),
	}
}

func (m *mockNotifier) Subscribe(roomCode, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[roomCode] = append(m.subs[roomCode], connID)
}

func (m *mockNotifier) SendTo(connID string, msg model.Outbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.direct[connID] = append(m.direct[connID], msg)
	return nil
}

func (m *mockNotifier) Broadcast(roomCode string, msg model.Outbound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, broadcastCall{roomCode: roomCode, msg: msg})
}

func (m *mockNotifier) sentTo(connID string) []model.Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.direct[connID]
}

func (m *mockNotifier) lastSentTo(t *testing.T, connID string) model.Outbound {
	t.Helper()
	msgs := m.sentTo(connID)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func (m *mockNotifier) getBroadcasts() []broadcastCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broadcastCall(nil), m.broadcasts...)
}

func newTestService(seed int64) (*Service, *mockNotifier, *memory.MemStore) {
	logger := zerolog.Nop()
	notifier := newMockNotifier()
	registry := memory.NewMemStore()
	svc := NewService(Config{
		Registry:    registry,
		Coordinator: round.NewCoordinator(rand.NewSource(seed)),
		Notifier:    notifier,
		Logger:      &logger,
	})
	return svc, notifier, registry
}

func envelope(t *testing.T, event string, payload any) model.Envelope {
	t.Helper()
	env := model.Envelope{Event: event}
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		env.Payload = b
	}
	return env
}

func createRoom(t *testing.T, svc *Service, notifier *mockNotifier, connID string) string {
	t.Helper()
	svc.HandleEvent(connID, envelope(t, model.EventCreateRoom, nil))
	msg := notifier.lastSentTo(t, connID)
	require.Equal(t, model.EventRoomCreated, msg.Event)
	created, ok := msg.Payload.(model.RoomCreated)
	require.True(t, ok)
	return created.Code
}

func joinRoom(t *testing.T, svc *Service, connID, code, name string) {
	t.Helper()
	svc.HandleEvent(connID, envelope(t, model.EventJoinRoom, model.JoinRequest{
		Code:        code,
		DisplayName: name,
	}))
}

func TestService_FullRound(t *testing.T) {
	svc, notifier, _ := newTestService(42)

	code := createRoom(t, svc, notifier, "conn-1")

	joinRoom(t, svc, "conn-1", code, "alice")
	joinRoom(t, svc, "conn-2", code, "bob")
	joinRoom(t, svc, "conn-3", code, "carol")

	for _, connID := range []string{"conn-1", "conn-2", "conn-3"} {
		msg := notifier.lastSentTo(t, connID)
		require.Equal(t, model.EventJoined, msg.Event)
		assert.Equal(t, model.JoinAck{Success: true}, msg.Payload)
	}

	// every join re-broadcasts the cumulative ordered name list
	broadcasts := notifier.getBroadcasts()
	require.Len(t, broadcasts, 3)
	assert.Equal(t, []string{"alice"}, broadcasts[0].msg.Payload)
	assert.Equal(t, []string{"alice", "bob"}, broadcasts[1].msg.Payload)
	assert.Equal(t, []string{"alice", "bob", "carol"}, broadcasts[2].msg.Payload)
	for _, bc := range broadcasts {
		assert.Equal(t, code, bc.roomCode)
		assert.Equal(t, model.EventUpdatePlayers, bc.msg.Event)
	}

	svc.HandleEvent("conn-1", envelope(t, model.EventStartGame, model.StartRequest{
		Code:          code,
		CandidatePool: []string{"Mage", "Rogue"},
	}))

	impostors := 0
	for _, connID := range []string{"conn-1", "conn-2", "conn-3"} {
		msg := notifier.lastSentTo(t, connID)
		require.Equal(t, model.EventYourRole, msg.Event)
		reveal, ok := msg.Payload.(model.RoleReveal)
		require.True(t, ok)
		if reveal.IsImpostor {
			impostors++
			assert.Empty(t, reveal.RoleValue, "impostor must not learn a role")
		} else {
			assert.Contains(t, []string{"Mage", "Rogue"}, reveal.RoleValue)
		}
	}
	assert.Equal(t, 1, impostors)

	broadcasts = notifier.getBroadcasts()
	require.Len(t, broadcasts, 4)
	last := broadcasts[len(broadcasts)-1]
	assert.Equal(t, model.EventGameStarted, last.msg.Event)
	assert.Equal(t, model.GameStarted{Total: 3}, last.msg.Payload)
}

func TestService_JoinRoom_NotFound(t *testing.T) {
	svc, notifier, _ := newTestService(1)

	joinRoom(t, svc, "conn-1", "ZZZZZZ", "alice")

	msg := notifier.lastSentTo(t, "conn-1")
	require.Equal(t, model.EventError, msg.Event)
	errPayload, ok := msg.Payload.(model.ErrorPayload)
	require.True(t, ok)
	assert.Contains(t, errPayload.Error, "room not found")

	assert.Empty(t, notifier.getBroadcasts())
}

func TestService_StartGame_RoomNotFound(t *testing.T) {
	svc, notifier, registry := newTestService(1)

	svc.HandleEvent("conn-1", envelope(t, model.EventStartGame, model.StartRequest{
		Code:          "ZZZZZZ",
		CandidatePool: []string{"Mage"},
	}))

	msg := notifier.lastSentTo(t, "conn-1")
	require.Equal(t, model.EventError, msg.Event)
	errPayload, ok := msg.Payload.(model.ErrorPayload)
	require.True(t, ok)
	assert.Contains(t, errPayload.Error, "room not found")

	assert.Empty(t, notifier.getBroadcasts())
	rooms, players := registry.Stats()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 0, players)
}

func TestService_StartGame_EmptyCandidatePool(t *testing.T) {
	svc, notifier, _ := newTestService(1)

	code := createRoom(t, svc, notifier, "conn-1")
	joinRoom(t, svc, "conn-1", code, "alice")

	svc.HandleEvent("conn-1", envelope(t, model.EventStartGame, model.StartRequest{
		Code: code,
	}))

	msg := notifier.lastSentTo(t, "conn-1")
	require.Equal(t, model.EventError, msg.Event)
	errPayload, ok := msg.Payload.(model.ErrorPayload)
	require.True(t, ok)
	assert.Contains(t, errPayload.Error, "empty candidate pool")
}

func TestService_Disconnect(t *testing.T) {
	svc, notifier, _ := newTestService(42)

	code := createRoom(t, svc, notifier, "conn-1")
	joinRoom(t, svc, "conn-1", code, "alice")
	joinRoom(t, svc, "conn-2", code, "bob")
	joinRoom(t, svc, "conn-3", code, "carol")

	svc.Disconnect("conn-2")

	broadcasts := notifier.getBroadcasts()
	require.Len(t, broadcasts, 4)
	last := broadcasts[len(broadcasts)-1]
	assert.Equal(t, model.EventUpdatePlayers, last.msg.Event)
	assert.Equal(t, []string{"alice", "carol"}, last.msg.Payload)

	// a later round only assigns roles to the remaining members
	svc.HandleEvent("conn-1", envelope(t, model.EventStartGame, model.StartRequest{
		Code:          code,
		CandidatePool: []string{"Mage", "Rogue"},
	}))

	assert.Empty(t, notifier.sentTo("conn-2")[1:], "bob only ever saw his join ack")
	reveals := 0
	for _, connID := range []string{"conn-1", "conn-3"} {
		msg := notifier.lastSentTo(t, connID)
		require.Equal(t, model.EventYourRole, msg.Event)
		reveals++
	}
	assert.Equal(t, 2, reveals)
}

func TestService_Disconnect_Idempotent(t *testing.T) {
	svc, notifier, _ := newTestService(1)

	code := createRoom(t, svc, notifier, "conn-1")
	joinRoom(t, svc, "conn-1", code, "alice")
	joinRoom(t, svc, "conn-2", code, "bob")

	svc.Disconnect("conn-2")
	before := len(notifier.getBroadcasts())

	svc.Disconnect("conn-2")
	assert.Len(t, notifier.getBroadcasts(), before)
}

// gatedCoordinator blocks the first Assign call until released, so a
// test can try to interleave other handlers mid-round.
type gatedCoordinator struct {
	inner   Coordinator
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCoordinator) Assign(members []model.Player, pool []string) ([]model.Assignment, error) {
	select {
	case g.entered <- struct{}{}:
		<-g.release
	default:
	}
	return g.inner.Assign(members, pool)
}

func TestService_StartGame_NotInterleavedByDisconnect(t *testing.T) {
	logger := zerolog.Nop()
	notifier := newMockNotifier()
	registry := memory.NewMemStore()
	gate := &gatedCoordinator{
		inner:   round.NewCoordinator(rand.NewSource(42)),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := NewService(Config{
		Registry:    registry,
		Coordinator: gate,
		Notifier:    notifier,
		Logger:      &logger,
	})

	code := createRoom(t, svc, notifier, "conn-1")
	joinRoom(t, svc, "conn-1", code, "alice")
	joinRoom(t, svc, "conn-2", code, "bob")
	joinRoom(t, svc, "conn-3", code, "carol")

	env := envelope(t, model.EventStartGame, model.StartRequest{
		Code:          code,
		CandidatePool: []string{"Mage", "Rogue"},
	})
	startDone := make(chan struct{})
	go func() {
		defer close(startDone)
		svc.HandleEvent("conn-1", env)
	}()
	<-gate.entered

	// bob hangs up while the round computation is in flight
	discDone := make(chan struct{})
	go func() {
		defer close(discDone)
		svc.Disconnect("conn-2")
	}()

	close(gate.release)
	<-startDone
	<-discDone

	// the round completed against its 3-member snapshot, bob included,
	// before the leave was processed
	for _, connID := range []string{"conn-1", "conn-2", "conn-3"} {
		msg := notifier.lastSentTo(t, connID)
		assert.Equal(t, model.EventYourRole, msg.Event)
	}

	broadcasts := notifier.getBroadcasts()
	require.Len(t, broadcasts, 5)
	assert.Equal(t, model.EventGameStarted, broadcasts[3].msg.Event)
	assert.Equal(t, model.GameStarted{Total: 3}, broadcasts[3].msg.Payload)
	assert.Equal(t, model.EventUpdatePlayers, broadcasts[4].msg.Event)
	assert.Equal(t, []string{"alice", "carol"}, broadcasts[4].msg.Payload)

	members, err := registry.Members(code)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestService_HandleEvent_Malformed(t *testing.T) {
	tests := []struct {
		name string
		env  model.Envelope
		want string
	}{
		{
			name: "unknown event",
			env:  model.Envelope{Event: "teleport"},
			want: "unknown event",
		},
		{
			name: "malformed join payload",
			env:  model.Envelope{Event: model.EventJoinRoom, Payload: []byte("not json")},
			want: "malformed payload",
		},
		{
			name: "malformed start payload",
			env:  model.Envelope{Event: model.EventStartGame, Payload: []byte("{")},
			want: "malformed payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, notifier, registry := newTestService(1)

			svc.HandleEvent("conn-1", tt.env)

			msg := notifier.lastSentTo(t, "conn-1")
			require.Equal(t, model.EventError, msg.Event)
			errPayload, ok := msg.Payload.(model.ErrorPayload)
			require.True(t, ok)
			assert.Contains(t, errPayload.Error, tt.want)

			assert.Empty(t, notifier.getBroadcasts())
			rooms, _ := registry.Stats()
			assert.Equal(t, 0, rooms)
		})
	}
}
