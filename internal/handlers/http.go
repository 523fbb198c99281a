package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openlobby/lobbyd/internal/auth"
	"github.com/openlobby/lobbyd/internal/events"
	"github.com/openlobby/lobbyd/internal/ident"
	"github.com/openlobby/lobbyd/internal/models"
)

// authedUserID resolves the caller from the auth_token cookie.
func authedUserID(r *http.Request) (uuid.UUID, error) {
	cookieHeader := r.Header.Get("Cookie")
	if !strings.Contains(cookieHeader, "auth_token=") {
		return uuid.Nil, errors.New("missing auth_token cookie")
	}
	idStr, err := auth.AuthenticateJWT(extractCookieToken(cookieHeader, "auth_token"))
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(idStr)
}

func setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		MaxAge:   auth.TokenExpireSec,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// CreateUserHandler registers a permanent account.
func (s *Server) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		Username    string `json:"username"`
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	username := ident.SanitizeName(req.Username)
	if username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	user := models.User{
		Email:       req.Email,
		Password:    req.Password,
		Username:    username,
		DisplayName: ident.SanitizeName(req.DisplayName),
	}
	if err := s.Store.CreateUser(r.Context(), &user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			http.Error(w, "username already exists", http.StatusConflict)
			return
		}
		s.Logger.Errorf("create user: %v", err)
		http.Error(w, "error creating user", http.StatusInternalServerError)
		return
	}
	user.Password = ""
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// LoginHandler authenticates a user and sets the auth_token cookie. The
// token is also returned in the body for non-browser clients.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	token, err := s.Store.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		s.Logger.Warnf("login failed for %q: %v", req.Username, err)
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}

	setAuthCookie(w, token)
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

// CreateGuestHandler mints a guest identity and signs it in immediately.
func (s *Server) CreateGuestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	name := ident.SanitizeName(req.DisplayName)
	if name == "" {
		http.Error(w, "displayName is required", http.StatusBadRequest)
		return
	}

	guest, err := s.Store.CreateGuest(r.Context(), name)
	if err != nil {
		s.Logger.Errorf("create guest: %v", err)
		http.Error(w, "error creating guest", http.StatusInternalServerError)
		return
	}
	token, err := auth.CreateJWT(guest.ID.String())
	if err != nil {
		s.Logger.Errorf("guest jwt: %v", err)
		http.Error(w, "error creating guest", http.StatusInternalServerError)
		return
	}

	setAuthCookie(w, token)
	writeJSON(w, http.StatusCreated, guest)
}

type friendRequest struct {
	FriendID string `json:"friendId"`
}

func (s *Server) friendTarget(w http.ResponseWriter, r *http.Request) (callerID, friendID uuid.UUID, ok bool) {
	callerID, err := authedUserID(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return uuid.Nil, uuid.Nil, false
	}
	var req friendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	friendID, err = uuid.Parse(req.FriendID)
	if err != nil {
		http.Error(w, "friendId must be a UUID", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	if friendID == callerID {
		http.Error(w, "cannot befriend yourself", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return callerID, friendID, true
}

// AddFriendHandler files a friend request from the caller.
func (s *Server) AddFriendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callerID, friendID, ok := s.friendTarget(w, r)
	if !ok {
		return
	}
	if err := s.Store.InsertFriendRequest(r.Context(), callerID, friendID); err != nil {
		s.Logger.Warnf("add friend %s -> %s: %v", callerID, friendID, err)
		http.Error(w, "could not add friend", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// AcceptFriendHandler accepts a pending request addressed to the caller.
func (s *Server) AcceptFriendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callerID, requesterID, ok := s.friendTarget(w, r)
	if !ok {
		return
	}
	if err := s.Store.AcceptFriend(r.Context(), requesterID, callerID); err != nil {
		s.Logger.Warnf("accept friend %s -> %s: %v", requesterID, callerID, err)
		http.Error(w, "could not accept friend", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ListFriendsHandler returns the caller's friendships, all statuses.
func (s *Server) ListFriendsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callerID, err := authedUserID(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	friends, err := s.Store.ListFriends(r.Context(), callerID)
	if err != nil {
		s.Logger.Errorf("list friends for %s: %v", callerID, err)
		http.Error(w, "could not list friends", http.StatusInternalServerError)
		return
	}
	if friends == nil {
		friends = []models.Friendship{}
	}
	writeJSON(w, http.StatusOK, friends)
}

// RemoveFriendHandler deletes a friendship in either direction.
func (s *Server) RemoveFriendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callerID, friendID, ok := s.friendTarget(w, r)
	if !ok {
		return
	}
	if err := s.Store.RemoveFriend(r.Context(), callerID, friendID); err != nil {
		s.Logger.Warnf("remove friend %s -> %s: %v", callerID, friendID, err)
		http.Error(w, "could not remove friend", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// PublicRoomsHandler serves the room browser over plain HTTP. The same
// data is available on the socket via getPublicRooms.
func (s *Server) PublicRoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	gameType := ident.SanitizeName(r.URL.Query().Get("gameType"))
	rooms, err := s.Rooms.PublicRooms(r.Context(), gameType)
	if err != nil {
		http.Error(w, "could not list rooms", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

// AchievementsHandler lets external game servers relay unlocked
// achievements to a player's live sockets. The launch token doubles as
// the credential; the achievements themselves are not stored here.
func (s *Server) AchievementsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Token        string   `json:"token"`
		Achievements []string `json:"achievements"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Token == "" || len(req.Achievements) == 0 {
		http.Error(w, "token and achievements are required", http.StatusBadRequest)
		return
	}
	session, err := s.Store.GetSessionByToken(r.Context(), req.Token)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.Bus.PublishUser(session.PlayerID, events.AchievementUnlocked, events.AchievementPayload{
		Achievements: req.Achievements,
	})
	w.WriteHeader(http.StatusAccepted)
}

// LaunchSessionHandler lets external game servers trade a launch token
// for the session record. Unknown or expired tokens return 404.
func (s *Server) LaunchSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}
	session, err := s.Store.GetSessionByToken(r.Context(), token)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// HealthHandler reports process and datastore health.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded", "error": "database unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
