package room

import "github.com/warboardhq/warboard/internal/v1/state"

// CanMoveToken decides whether clientID may move the given token. GM may
// move anything; lockdown and per-token locks block everyone else; then the
// room-wide party flag or an explicit assignment grants access.
func CanMoveToken(s *state.RoomState, clientID string, token *state.Token) bool {
	if s.IsGM(clientID) {
		return true
	}
	if s.Lockdown {
		return false
	}
	if token.Locked {
		return false
	}
	// Party mode: anyone can move any unlocked token.
	if s.AllowAllMove {
		return true
	}
	// Assignment mode.
	if s.AllowPlayersMove && token.OwnerID != nil && *token.OwnerID == clientID {
		return true
	}
	return false
}
