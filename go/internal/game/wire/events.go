package wire

import "github.com/mcdev12/mafia/go/internal/models"

// Tag is the value of the "type" field that discriminates every frame.
type Tag string

// Inbound tags sent by the server
const (
	TagRoomCreated   Tag = "room_created"
	TagRoomJoined    Tag = "room_joined"
	TagGameState     Tag = "game_state"
	TagPlayerInfo    Tag = "player_info"
	TagPlayersUpdate Tag = "players_update"
	TagChatMessage   Tag = "chat_message"
	TagRoomDisbanded Tag = "room_disbanded"
	TagError         Tag = "error"
)

// InboundEvent is a decoded server frame. The set of implementations is
// closed: only types in this package satisfy it.
type InboundEvent interface {
	Tag() Tag
	inbound()
}

// RoomCreated acknowledges a new_room command.
type RoomCreated struct {
	RoomCode string
	PlayerID string
}

// RoomJoined acknowledges a join_room command.
type RoomJoined struct {
	RoomCode string
	PlayerID string
}

// GameStateUpdate carries a full snapshot of the room's phase and clock.
type GameStateUpdate struct {
	State models.GameState
}

// SelfInfoUpdate carries a full snapshot of the operator's own player.
type SelfInfoUpdate struct {
	Self models.PlayerSelf
}

// RosterUpdate carries the full room roster.
type RosterUpdate struct {
	Roster []models.PlayerSummary
}

// ChatReceived carries exactly one chat line.
type ChatReceived struct {
	Entry models.ChatEntry
}

// RoomDisbanded tells the client its room no longer exists. Reason may be empty.
type RoomDisbanded struct {
	Reason string
}

// ServerError is an error reported by the server for the last command.
type ServerError struct {
	Message string
}

// Unrecognized is any well-formed frame whose tag this client does not know.
type Unrecognized struct {
	RawTag string
}

func (RoomCreated) Tag() Tag     { return TagRoomCreated }
func (RoomJoined) Tag() Tag      { return TagRoomJoined }
func (GameStateUpdate) Tag() Tag { return TagGameState }
func (SelfInfoUpdate) Tag() Tag  { return TagPlayerInfo }
func (RosterUpdate) Tag() Tag    { return TagPlayersUpdate }
func (ChatReceived) Tag() Tag    { return TagChatMessage }
func (RoomDisbanded) Tag() Tag   { return TagRoomDisbanded }
func (ServerError) Tag() Tag     { return TagError }
func (u Unrecognized) Tag() Tag  { return Tag(u.RawTag) }

func (RoomCreated) inbound()     {}
func (RoomJoined) inbound()      {}
func (GameStateUpdate) inbound() {}
func (SelfInfoUpdate) inbound()  {}
func (RosterUpdate) inbound()    {}
func (ChatReceived) inbound()    {}
func (RoomDisbanded) inbound()   {}
func (ServerError) inbound()     {}
func (Unrecognized) inbound()    {}
