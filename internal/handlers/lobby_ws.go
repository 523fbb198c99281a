package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/openlobby/lobbyd/internal/auth"
	"github.com/openlobby/lobbyd/internal/events"
	"github.com/openlobby/lobbyd/internal/middleware"
)

const (
	// pingInterval and pingTimeout implement the server-level liveness
	// probe; a peer that cannot answer a ping within the timeout is
	// treated as gone.
	pingInterval = 25 * time.Second
	pingTimeout  = 60 * time.Second

	writeTimeout = 5 * time.Second
)

// LobbyWSHandler upgrades the connection and runs the read/write pumps
// until the socket dies. Authentication is optional at accept time: an
// auth_token cookie pre-identifies the socket, everyone else is treated
// as anonymous until user:identify or a join mints a guest.
func (s *Server) LobbyWSHandler(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"lobby"},
		OriginPatterns: []string{"*"}, // Adjust in production
	})
	if err != nil {
		s.Logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != "lobby" {
		c.Close(BadSubprotocolError, "client must speak the lobby subprotocol")
		return
	}

	socketID := uuid.NewString()
	s.Reg.Add(socketID)
	sub := s.Bus.Register(socketID)
	middleware.LogSocketConnect(s.Logger, remoteAddr, socketID)

	// Auth is best-effort: auth_token cookie first, then a token query
	// param for clients that cannot send cookies. A bad token downgrades
	// to anonymous.
	token := ""
	if cookieHeader := r.Header.Get("Cookie"); strings.Contains(cookieHeader, "auth_token=") {
		token = extractCookieToken(cookieHeader, "auth_token")
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token != "" {
		if idStr, err := auth.AuthenticateJWT(token); err == nil {
			if userID, err := uuid.Parse(idStr); err == nil {
				if u, err := s.Store.GetUserByID(r.Context(), userID); err == nil {
					s.Reg.Identify(socketID, u.ID, u.Name())
				}
			}
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writePump(ctx, c, sub.Out, socketID)
	readErr := s.readPump(ctx, c, socketID)

	// ---- Cleanup after readPump exits ----
	conn := s.Reg.Remove(socketID)
	s.Bus.Unregister(socketID)
	middleware.LogSocketDisconnect(s.Logger, remoteAddr, socketID, readErr)

	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cleanupCancel()
	s.Rooms.Disconnect(cleanupCtx, conn)
	if conn != nil && conn.UserID != uuid.Nil && !s.Reg.UserOnline(conn.UserID) {
		s.Social.Disconnected(cleanupCtx, conn.UserID)
	}
}

// readPump consumes inbound frames and dispatches them until the socket
// closes. Returns nil on a normal closure.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, socketID string) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				return nil
			}
			if strings.Contains(err.Error(), "context canceled") {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Event == "" {
			s.Bus.PublishSocket(socketID, events.ErrorEvent, events.ErrorPayload{
				Code: "INVALID_INPUT", Message: "malformed message frame",
			})
			continue
		}
		s.dispatch(ctx, socketID, frame)
	}
}

// writePump drains the subscriber queue onto the wire and keeps the
// server-level ping cadence.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, out <-chan events.Envelope, socketID string) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-out:
			if !ok {
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				s.Logger.Warnf("socket %s: marshal outbound %q: %v", socketID, env.Event, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				s.Logger.Warnf("socket %s: ping failed, assuming disconnect: %v", socketID, err)
				return
			}
		}
	}
}
