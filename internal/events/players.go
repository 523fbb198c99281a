package events

import "github.com/openlobby/lobbyd/internal/models"

// PlayerFromMember builds the broadcast view of one member row.
func PlayerFromMember(m *models.RoomMember) PlayerInfo {
	p := PlayerInfo{
		UserID:          m.UserID,
		Name:            m.LobbyName(),
		Role:            m.Role,
		IsConnected:     m.IsConnected,
		IsReady:         m.IsReady,
		InGame:          m.InGame,
		CurrentLocation: m.CurrentLocation,
	}
	if m.User != nil {
		p.AvatarURL = m.User.AvatarURL
		p.PremiumTier = m.User.PremiumTier
		p.IsGuest = m.User.IsGuest
	}
	return p
}

// PlayersFromMembers builds the full players[] list carried on every
// room delta broadcast.
func PlayersFromMembers(members []*models.RoomMember) []PlayerInfo {
	out := make([]PlayerInfo, 0, len(members))
	for _, m := range members {
		out = append(out, PlayerFromMember(m))
	}
	return out
}

// SnapshotFromRoom builds the room summary used by welcome payloads and
// the public listing.
func SnapshotFromRoom(r *models.Room) RoomSnapshot {
	return RoomSnapshot{
		RoomID:       r.ID,
		RoomCode:     r.RoomCode,
		HostID:       r.HostID,
		Status:       r.Status,
		CurrentGame:  r.CurrentGame,
		MaxPlayers:   r.MaxPlayers,
		IsPublic:     r.IsPublic,
		StreamerMode: r.StreamerMode,
		PlayerCount:  r.ConnectedCount(),
		CreatedAt:    r.CreatedAt,
	}
}
