package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlobby/lobbyd/internal/events"
	"github.com/openlobby/lobbyd/internal/grace"
	"github.com/openlobby/lobbyd/internal/models"
	"github.com/openlobby/lobbyd/internal/registry"
	"github.com/openlobby/lobbyd/internal/wserr"
)

type busRecord struct {
	channel string // "room:CODE", "sock:ID", or "roomx:CODE!EXCEPT"
	event   string
	data    interface{}
}

type fakeBus struct {
	mu      sync.Mutex
	rooms   map[string]map[string]bool
	records []busRecord
}

func newFakeBus() *fakeBus {
	return &fakeBus{rooms: map[string]map[string]bool{}}
}

func (f *fakeBus) JoinRoom(socketID, roomCode string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[roomCode] == nil {
		f.rooms[roomCode] = map[string]bool{}
	}
	f.rooms[roomCode][socketID] = true
	return true
}

func (f *fakeBus) LeaveRoom(socketID, roomCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms[roomCode], socketID)
}

func (f *fakeBus) PublishRoom(roomCode, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, busRecord{"room:" + roomCode, event, data})
}

func (f *fakeBus) PublishRoomExcept(roomCode, except, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, busRecord{"roomx:" + roomCode + "!" + except, event, data})
}

func (f *fakeBus) PublishSocket(socketID, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, busRecord{"sock:" + socketID, event, data})
}

func (f *fakeBus) find(event string) []busRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []busRecord
	for _, r := range f.records {
		if r.event == event {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeBus) inRoom(roomCode, socketID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[roomCode][socketID]
}

type harness struct {
	svc   *Service
	store *memStore
	bus   *fakeBus
	reg   *registry.Registry
	gm    *grace.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	store := newMemStore()
	bus := newFakeBus()
	reg := registry.New()
	gm := grace.NewManager(l)
	gm.HostGrace = 40 * time.Millisecond
	gm.AbandonGrace = 40 * time.Millisecond
	t.Cleanup(gm.Stop)
	return &harness{
		svc:   NewService(store, bus, reg, gm, l),
		store: store,
		bus:   bus,
		reg:   reg,
		gm:    gm,
	}
}

// createRoom stands up a room hosted by name on the given socket.
func (h *harness) createRoom(t *testing.T, socketID, name string, p CreateParams) *models.Room {
	t.Helper()
	h.reg.Add(socketID)
	p.PlayerName = name
	room, err := h.svc.Create(context.Background(), socketID, p)
	require.NoError(t, err)
	return room
}

func (h *harness) join(t *testing.T, socketID string, p JoinParams) *models.Room {
	t.Helper()
	h.reg.Add(socketID)
	room, err := h.svc.Join(context.Background(), socketID, p)
	require.NoError(t, err)
	return room
}

func TestCreateRoomHappyPath(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{IsPublic: true})

	assert.Regexp(t, `^[A-Z0-9]{6}$`, room.RoomCode)
	assert.Equal(t, models.RoomStatusLobby, room.Status)
	assert.Equal(t, DefaultMaxPlayers, room.MaxPlayers)
	assert.True(t, h.bus.inRoom(room.RoomCode, "sock-a"))

	created := h.bus.find(events.RoomCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "sock:sock-a", created[0].channel)
	w := created[0].data.(events.RoomWelcomePayload)
	assert.True(t, w.IsHost)
	require.Len(t, w.Players, 1)
	assert.Equal(t, "Alice", w.Players[0].Name)
	assert.Equal(t, models.RoleHost, w.Players[0].Role)

	conn, ok := h.reg.Get("sock-a")
	require.True(t, ok)
	assert.Equal(t, room.ID, conn.RoomID)
}

func TestCreateRoomValidation(t *testing.T) {
	h := newHarness(t)
	h.reg.Add("sock-a")
	ctx := context.Background()

	_, err := h.svc.Create(ctx, "sock-a", CreateParams{PlayerName: "   "})
	assert.True(t, wserr.Is(err, wserr.CodeInvalidInput))

	_, err = h.svc.Create(ctx, "sock-a", CreateParams{PlayerName: "Alice", MaxPlayers: 31})
	assert.True(t, wserr.Is(err, wserr.CodeInvalidInput))
}

func TestJoinHappyPath(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})
	h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode})

	assert.True(t, h.bus.inRoom(room.RoomCode, "sock-b"))

	joined := h.bus.find(events.RoomJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "sock:sock-b", joined[0].channel)
	w := joined[0].data.(events.RoomWelcomePayload)
	assert.False(t, w.IsHost)
	require.Len(t, w.Players, 2)

	deltas := h.bus.find(events.PlayerJoined)
	require.Len(t, deltas, 1)
	assert.Equal(t, "roomx:"+room.RoomCode+"!sock-b", deltas[0].channel)
	d := deltas[0].data.(events.PlayerDeltaPayload)
	assert.Equal(t, "Bob", d.Player.Name)
	assert.Len(t, d.Players, 2)
}

func TestJoinFullRoom(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{MaxPlayers: 2})
	h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode})

	h.reg.Add("sock-c")
	_, err := h.svc.Join(context.Background(), "sock-c", JoinParams{PlayerName: "Carol", RoomCode: room.RoomCode})
	assert.True(t, wserr.Is(err, wserr.CodeRoomFull))

	full, _ := h.store.GetRoomByCode(context.Background(), room.RoomCode)
	assert.Len(t, full.Members, 2, "a rejected join must not mutate membership")
}

func TestJoinDuplicateName(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})

	h.reg.Add("sock-b")
	u := h.store.addUser("imposter")
	_, err := h.svc.Join(context.Background(), "sock-b",
		JoinParams{PlayerName: "Alice", RoomCode: room.RoomCode, UserID: u.ID})
	assert.True(t, wserr.Is(err, wserr.CodeDuplicatePlayer))
}

func TestJoinUnknownRoom(t *testing.T) {
	h := newHarness(t)
	h.reg.Add("sock-a")
	ctx := context.Background()

	_, err := h.svc.Join(ctx, "sock-a", JoinParams{PlayerName: "Bob", RoomCode: "nope"})
	assert.True(t, wserr.Is(err, wserr.CodeInvalidInput))

	_, err = h.svc.Join(ctx, "sock-a", JoinParams{PlayerName: "Bob", RoomCode: "ZZZZ99"})
	assert.True(t, wserr.Is(err, wserr.CodeRoomNotFound))
}

func TestJoinLockConflict(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})

	require.True(t, h.reg.AcquireLock("Bob", room.RoomCode, "sock-x"))
	h.reg.Add("sock-b")
	_, err := h.svc.Join(context.Background(), "sock-b",
		JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode})
	assert.True(t, wserr.Is(err, wserr.CodeConnectionInProgress))
}

func TestAbandonedRoomGating(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})
	require.NoError(t, h.store.UpdateRoomStatus(context.Background(), room.ID, models.RoomStatusAbandoned))

	// A stranger is turned away.
	h.reg.Add("sock-b")
	stranger := h.store.addUser("randy")
	_, err := h.svc.Join(context.Background(), "sock-b",
		JoinParams{PlayerName: "Randy", RoomCode: room.RoomCode, UserID: stranger.ID})
	assert.True(t, wserr.Is(err, wserr.CodeRoomNotAccepting))

	// The creator reopens the room by name.
	reopened := h.join(t, "sock-c", JoinParams{PlayerName: "Alice", RoomCode: room.RoomCode})
	assert.Equal(t, models.RoomStatusLobby, reopened.Status)
}

func TestOriginalHostReclaimsSeat(t *testing.T) {
	h := newHarness(t)
	alice := h.store.addUser("alice")
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{UserID: alice.ID})
	bobRoom := h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode})

	// Seat moves to Bob while Alice is away.
	var bobID uuid.UUID
	for _, m := range bobRoom.Members {
		if m.UserID != alice.ID {
			bobID = m.UserID
		}
	}
	require.NoError(t, h.svc.TransferHost(context.Background(), "sock-a", room.RoomCode, bobID))

	// Alice rejoins and reclaims it.
	h.reg.Add("sock-a2")
	_, err := h.svc.Join(context.Background(), "sock-a2",
		JoinParams{PlayerName: "Alice", RoomCode: room.RoomCode, UserID: alice.ID})
	require.NoError(t, err)

	final, _ := h.store.GetRoomByCode(context.Background(), room.RoomCode)
	assert.Equal(t, alice.ID, final.HostID)

	transfers := h.bus.find(events.HostTransferred)
	require.NotEmpty(t, transfers)
	last := transfers[len(transfers)-1].data.(events.HostTransferredPayload)
	assert.Equal(t, events.ReasonOriginalHostBack, last.Reason)
	assert.Equal(t, alice.ID, last.NewHostID)
}

func TestHostHintOnlyWinsEmptySeat(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})

	h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode, IsHostHint: true})
	final, _ := h.store.GetRoomByCode(context.Background(), room.RoomCode)
	assert.NotEqual(t, models.RoleHost, final.Members[1].Role, "hint must lose to a seated host")
}

func TestHostDisconnectPastGrace(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})
	bobRoom := h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode})
	var bobID uuid.UUID
	for _, m := range bobRoom.Members {
		if m.Role != models.RoleHost {
			bobID = m.UserID
		}
	}

	conn := h.reg.Remove("sock-a")
	require.NotNil(t, conn)
	h.svc.Disconnect(context.Background(), conn)

	require.Len(t, h.bus.find(events.PlayerDisconnected), 1)

	assert.Eventually(t, func() bool {
		for _, r := range h.bus.find(events.HostTransferred) {
			p := r.data.(events.HostTransferredPayload)
			if p.Reason == events.ReasonHostGraceExpired && p.NewHostID == bobID {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	final, _ := h.store.GetRoomByCode(context.Background(), room.RoomCode)
	assert.Equal(t, bobID, final.HostID)
}

func TestHostReconnectWithinGrace(t *testing.T) {
	h := newHarness(t)
	alice := h.store.addUser("alice")
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{UserID: alice.ID})
	h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode})

	conn := h.reg.Remove("sock-a")
	h.svc.Disconnect(context.Background(), conn)

	// Alice returns inside the window.
	h.reg.Add("sock-a2")
	_, err := h.svc.Join(context.Background(), "sock-a2",
		JoinParams{PlayerName: "Alice", RoomCode: room.RoomCode, UserID: alice.ID})
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	for _, r := range h.bus.find(events.HostTransferred) {
		p := r.data.(events.HostTransferredPayload)
		assert.NotEqual(t, events.ReasonHostGraceExpired, p.Reason,
			"grace expiry must not fire after the host returned")
	}
	final, _ := h.store.GetRoomByCode(context.Background(), room.RoomCode)
	assert.Equal(t, alice.ID, final.HostID)
}

func TestLastDisconnectAbandonsRoom(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})

	conn := h.reg.Remove("sock-a")
	h.svc.Disconnect(context.Background(), conn)

	assert.Eventually(t, func() bool {
		r, _ := h.store.GetRoomByCode(context.Background(), room.RoomCode)
		return r.Status == models.RoomStatusAbandoned
	}, time.Second, 5*time.Millisecond)
}

func TestJoinCancelsAbandonment(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})
	conn := h.reg.Remove("sock-a")
	h.svc.Disconnect(context.Background(), conn)
	require.True(t, h.gm.AbandonmentPending(room.ID))

	h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode})
	assert.False(t, h.gm.AbandonmentPending(room.ID))

	time.Sleep(100 * time.Millisecond)
	r, _ := h.store.GetRoomByCode(context.Background(), room.RoomCode)
	assert.NotEqual(t, models.RoomStatusAbandoned, r.Status)
}

func TestRejoinDuringGameKeepsRoomInGame(t *testing.T) {
	h := newHarness(t)
	alice := h.store.addUser("alice")
	bob := h.store.addUser("bob")
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{UserID: alice.ID})
	h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode, UserID: bob.ID})

	// Both players are off in an external game.
	r, _ := h.store.GetRoomByCode(context.Background(), room.RoomCode)
	r.Status = models.RoomStatusInGame
	r.CurrentGame = "skirmish"
	for _, m := range r.Members {
		m.InGame = true
		m.CurrentLocation = models.LocationGame
	}

	// Bob's socket drops and he reconnects on a fresh one.
	conn := h.reg.Remove("sock-b")
	require.NotNil(t, conn)
	h.svc.Disconnect(context.Background(), conn)
	h.join(t, "sock-b2", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode, UserID: bob.ID})

	final, _ := h.store.GetRoomByCode(context.Background(), room.RoomCode)
	assert.Equal(t, models.RoomStatusInGame, final.Status,
		"a mid-game rejoin must not collapse the running game")
	assert.Equal(t, "skirmish", final.CurrentGame)
	for _, m := range final.Members {
		assert.True(t, m.InGame, "%s must stay marked in-game", m.LobbyName())
		assert.Equal(t, models.LocationGame, m.CurrentLocation)
	}
}

func TestLeaveHandsOffHost(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})
	h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode})

	require.NoError(t, h.svc.Leave(context.Background(), "sock-a", room.RoomCode))

	transfers := h.bus.find(events.HostTransferred)
	require.Len(t, transfers, 1)
	assert.Equal(t, events.ReasonHostLeft, transfers[0].data.(events.HostTransferredPayload).Reason)

	left := h.bus.find(events.PlayerLeft)
	require.Len(t, left, 1)
	assert.Len(t, left[0].data.(events.PlayerDeltaPayload).Players, 1)

	final, _ := h.store.GetRoomByCode(context.Background(), room.RoomCode)
	assert.Len(t, final.Members, 1)
	assert.Equal(t, models.RoleHost, final.Members[0].Role)
}

func TestKickPlayer(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})
	joined := h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode})
	var bobID uuid.UUID
	for _, m := range joined.Members {
		if m.Role != models.RoleHost {
			bobID = m.UserID
		}
	}

	require.NoError(t, h.svc.Kick(context.Background(), "sock-a", room.RoomCode, bobID, "afk"))

	kicks := h.bus.find(events.PlayerKicked)
	require.Len(t, kicks, 2)
	assert.Equal(t, "sock:sock-b", kicks[0].channel, "target hears it personally first")
	personal := kicks[0].data.(events.PlayerKickedPayload)
	assert.Equal(t, "Alice", personal.KickedBy)
	assert.Equal(t, "afk", personal.Reason)

	assert.Equal(t, "room:"+room.RoomCode, kicks[1].channel)
	assert.Len(t, kicks[1].data.(events.PlayerKickedPayload).Players, 1)

	assert.False(t, h.bus.inRoom(room.RoomCode, "sock-b"))
	final, _ := h.store.GetRoomByCode(context.Background(), room.RoomCode)
	assert.Nil(t, final.MemberByUser(bobID))
}

func TestKickAuthorization(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})
	h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode})
	ctx := context.Background()

	err := h.svc.Kick(ctx, "sock-a", room.RoomCode, room.HostID, "")
	assert.True(t, wserr.Is(err, wserr.CodeCannotKickHost))

	err = h.svc.Kick(ctx, "sock-b", room.RoomCode, room.HostID, "")
	assert.True(t, wserr.Is(err, wserr.CodeNotHost))

	err = h.svc.Kick(ctx, "sock-a", room.RoomCode, uuid.New(), "")
	assert.True(t, wserr.Is(err, wserr.CodePlayerNotFound))
}

func TestManualHostTransfer(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})
	joined := h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode})
	var bobID uuid.UUID
	for _, m := range joined.Members {
		if m.Role != models.RoleHost {
			bobID = m.UserID
		}
	}
	ctx := context.Background()

	err := h.svc.TransferHost(ctx, "sock-a", room.RoomCode, uuid.New())
	assert.True(t, wserr.Is(err, wserr.CodePlayerNotFound))

	require.NoError(t, h.svc.TransferHost(ctx, "sock-a", room.RoomCode, bobID))
	final, _ := h.store.GetRoomByCode(ctx, room.RoomCode)
	assert.Equal(t, bobID, final.HostID)

	transfers := h.bus.find(events.HostTransferred)
	require.Len(t, transfers, 1)
	assert.Equal(t, events.ReasonManualTransfer, transfers[0].data.(events.HostTransferredPayload).Reason)
}

func TestSelectGame(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})
	ctx := context.Background()

	err := h.svc.SelectGame(ctx, "sock-a", room.RoomCode, "no-such-game", nil)
	assert.True(t, wserr.Is(err, wserr.CodeInvalidInput))

	err = h.svc.SelectGame(ctx, "sock-a", room.RoomCode, "skirmish",
		map[string]interface{}{"__proto__": true})
	assert.True(t, wserr.Is(err, wserr.CodeInvalidInput))

	require.NoError(t, h.svc.SelectGame(ctx, "sock-a", room.RoomCode, "skirmish",
		map[string]interface{}{"rounds": 3}))
	final, _ := h.store.GetRoomByCode(ctx, room.RoomCode)
	assert.Equal(t, "skirmish", final.CurrentGame)

	selected := h.bus.find(events.GameSelected)
	require.Len(t, selected, 1)
	assert.Equal(t, "skirmish", selected[0].data.(events.GameSelectedPayload).GameType)
}

func TestChangeStatusRejectsAliases(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{})
	ctx := context.Background()

	err := h.svc.ChangeStatus(ctx, "sock-a", room.RoomCode, "waiting_for_players", false, "")
	assert.True(t, wserr.Is(err, wserr.CodeInvalidInput))

	require.NoError(t, h.svc.ChangeStatus(ctx, "sock-a", room.RoomCode, models.RoomStatusInGame, false, "manual"))
	changed := h.bus.find(events.RoomStatusChanged)
	require.Len(t, changed, 1)
	p := changed[0].data.(events.RoomStatusChangedPayload)
	assert.Equal(t, models.RoomStatusLobby, p.OldStatus)
	assert.Equal(t, models.RoomStatusInGame, p.NewStatus)
	assert.False(t, p.IsAutomatic)
}

func TestReturnToLobbyTriggersReconciliation(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, "sock-a", "Alice", CreateParams{GameType: "skirmish"})
	h.join(t, "sock-b", JoinParams{PlayerName: "Bob", RoomCode: room.RoomCode})
	ctx := context.Background()

	// Simulate a running game: both members off in the external game.
	require.NoError(t, h.store.UpdateRoomStatus(ctx, room.ID, models.RoomStatusInGame))
	full, _ := h.store.GetRoomByCode(ctx, room.RoomCode)
	for _, m := range full.Members {
		m.InGame = true
		m.CurrentLocation = models.LocationGame
	}

	// One of two returning is a majority; the room flips back to lobby.
	require.NoError(t, h.svc.ReturnToLobby(ctx, "sock-a", room.RoomCode))

	final, _ := h.store.GetRoomByCode(ctx, room.RoomCode)
	assert.Equal(t, models.RoomStatusLobby, final.Status)
	assert.Empty(t, final.CurrentGame, "reconciliation back to lobby clears the selected game")

	var auto *events.RoomStatusChangedPayload
	for _, r := range h.bus.find(events.RoomStatusChanged) {
		p := r.data.(events.RoomStatusChangedPayload)
		if p.IsAutomatic {
			auto = &p
		}
	}
	require.NotNil(t, auto)
	assert.Equal(t, models.RoomStatusLobby, auto.NewStatus)
}

func TestPublicRooms(t *testing.T) {
	h := newHarness(t)
	h.createRoom(t, "sock-a", "Alice", CreateParams{IsPublic: true, GameType: "skirmish"})
	h.createRoom(t, "sock-b", "Bob", CreateParams{})

	rooms, err := h.svc.PublicRooms(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, rooms, 1)

	rooms, err = h.svc.PublicRooms(context.Background(), "trivia")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}
