package room

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlobby/lobbyd/internal/database"
	"github.com/openlobby/lobbyd/internal/models"
)

// memStore is an in-memory Store used across the service tests.
type memStore struct {
	mu       sync.Mutex
	rooms    map[string]*models.Room
	users    map[uuid.UUID]*models.User
	games    map[string]*models.Game
	guestSeq int

	statusLog []string // "CODE:status" in apply order
}

func newMemStore() *memStore {
	return &memStore{
		rooms: map[string]*models.Room{},
		users: map[uuid.UUID]*models.User{},
		games: map[string]*models.Game{
			"skirmish": {ID: uuid.New(), Slug: "skirmish", Name: "Skirmish", BaseURL: "https://games.example.com/skirmish", IsActive: true},
		},
	}
}

func (f *memStore) addUser(name string) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &models.User{ID: uuid.New(), Username: name, DisplayName: name}
	f.users[u.ID] = u
	return u
}

func (f *memStore) roomByID(id uuid.UUID) *models.Room {
	for _, r := range f.rooms {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (f *memStore) RoomCodeExists(_ context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[code]
	return ok && r.Status != models.RoomStatusAbandoned, nil
}

func (f *memStore) GetRoomByCode(_ context.Context, code string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[code]
	if !ok {
		return nil, database.ErrRoomNotFound
	}
	return r, nil
}

func (f *memStore) CreateRoom(_ context.Context, room *models.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	room.CreatedAt = time.Now()
	room.Members = []*models.RoomMember{{
		ID:              uuid.New(),
		RoomID:          room.ID,
		UserID:          room.HostID,
		Role:            models.RoleHost,
		IsConnected:     true,
		CurrentLocation: models.LocationLobby,
		JoinedAt:        time.Now(),
		User:            f.users[room.HostID],
	}}
	f.rooms[room.RoomCode] = room
	return nil
}

func (f *memStore) AddParticipant(_ context.Context, roomID, userID uuid.UUID, socketID, role, customName string) (*models.RoomMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.roomByID(roomID)
	if r == nil {
		return nil, database.ErrRoomNotFound
	}
	for _, m := range r.Members {
		if m.UserID == userID {
			m.IsConnected = true
			if r.Status == models.RoomStatusInGame {
				m.InGame = true
				m.CurrentLocation = models.LocationGame
			} else {
				m.InGame = false
				m.CurrentLocation = models.LocationLobby
			}
			m.SocketID = socketID
			if customName != "" {
				m.CustomLobbyName = customName
			}
			m.LastPing = time.Now()
			m.LeftAt = nil
			return m, nil
		}
	}
	m := &models.RoomMember{
		ID:              uuid.New(),
		RoomID:          roomID,
		UserID:          userID,
		Role:            role,
		IsConnected:     true,
		CurrentLocation: models.LocationLobby,
		SocketID:        socketID,
		CustomLobbyName: customName,
		JoinedAt:        time.Now(),
		User:            f.users[userID],
	}
	r.Members = append(r.Members, m)
	return m, nil
}

func (f *memStore) PromoteToHost(_ context.Context, roomID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.roomByID(roomID)
	for _, m := range r.Members {
		if m.UserID == userID {
			m.Role = models.RoleHost
			r.HostID = userID
			return nil
		}
	}
	return database.ErrNotAMember
}

func (f *memStore) RemoveParticipant(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.roomByID(roomID)
	for i, m := range r.Members {
		if m.UserID == userID {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return m.Role == models.RoleHost, nil
		}
	}
	return false, nil
}

func (f *memStore) UpdateParticipantConnection(_ context.Context, userID uuid.UUID, socketID, status, customName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rooms {
		for _, m := range r.Members {
			if m.UserID != userID {
				continue
			}
			switch status {
			case "connected":
				m.IsConnected = true
				m.CurrentLocation = models.LocationLobby
			case "game":
				m.IsConnected = true
				m.InGame = true
				m.CurrentLocation = models.LocationGame
			case "disconnected":
				m.IsConnected = false
				m.CurrentLocation = models.LocationDisconnected
			}
			m.SocketID = socketID
		}
	}
	return nil
}

func (f *memStore) applyTransfer(r *models.Room, oldHostID, newHostID uuid.UUID) error {
	var target *models.RoomMember
	for _, m := range r.Members {
		if m.UserID == newHostID {
			target = m
		}
	}
	if target == nil {
		return database.ErrNotAMember
	}
	for _, m := range r.Members {
		if m.UserID == oldHostID {
			m.Role = models.RolePlayer
		}
	}
	target.Role = models.RoleHost
	r.HostID = newHostID
	return nil
}

func (f *memStore) TransferHost(_ context.Context, roomID, oldHostID, newHostID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyTransfer(f.roomByID(roomID), oldHostID, newHostID)
}

func (f *memStore) AutoTransferHost(_ context.Context, roomID, leavingHostID uuid.UUID) (*models.RoomMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.roomByID(roomID)
	var eligible []*models.RoomMember
	for _, m := range r.Members {
		if m.IsConnected && m.UserID != leavingHostID {
			eligible = append(eligible, m)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].JoinedAt.Equal(eligible[j].JoinedAt) {
			return eligible[i].JoinedAt.Before(eligible[j].JoinedAt)
		}
		return strings.Compare(eligible[i].UserID.String(), eligible[j].UserID.String()) < 0
	})
	next := eligible[0]
	if err := f.applyTransfer(r, leavingHostID, next.UserID); err != nil {
		return nil, err
	}
	return next, nil
}

func (f *memStore) UpdateRoomStatus(_ context.Context, roomID uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.roomByID(roomID)
	r.Status = status
	if status == models.RoomStatusLobby {
		r.CurrentGame = ""
		r.GameStartedAt = nil
	}
	f.statusLog = append(f.statusLog, fmt.Sprintf("%s:%s", r.RoomCode, status))
	return nil
}

func (f *memStore) SetCurrentGame(_ context.Context, roomID uuid.UUID, gameType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomByID(roomID).CurrentGame = gameType
	return nil
}

func (f *memStore) TouchRoomActivity(_ context.Context, roomID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomByID(roomID).LastActivity = time.Now()
	return nil
}

func (f *memStore) MarkMembersReturned(_ context.Context, roomID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.roomByID(roomID).Members {
		m.InGame = false
		if m.IsConnected {
			m.CurrentLocation = models.LocationLobby
		} else {
			m.CurrentLocation = models.LocationDisconnected
		}
	}
	return nil
}

func (f *memStore) MarkMemberReturned(_ context.Context, roomID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.roomByID(roomID).Members {
		if m.UserID == userID {
			m.InGame = false
			m.CurrentLocation = models.LocationLobby
		}
	}
	return nil
}

func (f *memStore) GetGameBySlug(_ context.Context, slug string) (*models.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.games[slug]
	if !ok {
		return nil, database.ErrGameNotFound
	}
	return g, nil
}

func (f *memStore) GetActiveRooms(_ context.Context, gameType string) ([]*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Room
	for _, r := range f.rooms {
		if r.IsPublic && r.Alive() && (gameType == "" || r.CurrentGame == gameType) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *memStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	return u, nil
}

func (f *memStore) CreateGuest(_ context.Context, displayName string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guestSeq++
	u := &models.User{
		ID:          uuid.New(),
		Username:    fmt.Sprintf("guest_%06d", f.guestSeq),
		DisplayName: displayName,
		IsGuest:     true,
	}
	f.users[u.ID] = u
	return u, nil
}
