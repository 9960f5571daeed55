package wire

import "encoding/json"

// Outbound tags sent to the server
const (
	TagNewRoom     Tag = "new_room"
	TagJoinRoom    Tag = "join_room"
	TagVote        Tag = "vote"
	TagNightAction Tag = "night_action"
	TagChat        Tag = "chat"
	TagStartGame   Tag = "start_game"
	TagReplayGame  Tag = "replay_game"
	TagDisbandRoom Tag = "disband_room"
)

// OutboundCommand is a player intent ready to be written to the server.
// Field shape (non-empty names, upper-case room codes) is the caller's job.
type OutboundCommand interface {
	Tag() Tag
	frame() any
}

type CreateRoom struct{ PlayerName string }

type JoinRoom struct {
	PlayerName string
	RoomCode   string
}

type CastVote struct{ TargetID string }

type NightAction struct{ TargetID string }

type SendChat struct{ Message string }

type StartGame struct{}

type ReplayGame struct{}

type DisbandRoom struct{}

type bareFrame struct {
	Type Tag `json:"type"`
}

type targetFrame struct {
	Type   Tag    `json:"type"`
	Target string `json:"target"`
}

func (CreateRoom) Tag() Tag  { return TagNewRoom }
func (JoinRoom) Tag() Tag    { return TagJoinRoom }
func (CastVote) Tag() Tag    { return TagVote }
func (NightAction) Tag() Tag { return TagNightAction }
func (SendChat) Tag() Tag    { return TagChat }
func (StartGame) Tag() Tag   { return TagStartGame }
func (ReplayGame) Tag() Tag  { return TagReplayGame }
func (DisbandRoom) Tag() Tag { return TagDisbandRoom }

func (c CreateRoom) frame() any {
	return struct {
		Type Tag    `json:"type"`
		Name string `json:"name"`
	}{TagNewRoom, c.PlayerName}
}

func (c JoinRoom) frame() any {
	return struct {
		Type     Tag    `json:"type"`
		RoomCode string `json:"room_code"`
		Name     string `json:"name"`
	}{TagJoinRoom, c.RoomCode, c.PlayerName}
}

func (c CastVote) frame() any    { return targetFrame{TagVote, c.TargetID} }
func (c NightAction) frame() any { return targetFrame{TagNightAction, c.TargetID} }

func (c SendChat) frame() any {
	return struct {
		Type    Tag    `json:"type"`
		Message string `json:"message"`
	}{TagChat, c.Message}
}

func (StartGame) frame() any   { return bareFrame{TagStartGame} }
func (ReplayGame) frame() any  { return bareFrame{TagReplayGame} }
func (DisbandRoom) frame() any { return bareFrame{TagDisbandRoom} }

// Encode renders cmd as a single JSON text frame.
func Encode(cmd OutboundCommand) []byte {
	data, err := json.Marshal(cmd.frame())
	if err != nil {
		// frames hold only strings, marshalling them cannot fail
		panic("wire: encode " + string(cmd.Tag()) + ": " + err.Error())
	}
	return data
}
