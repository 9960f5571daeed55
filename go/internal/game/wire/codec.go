package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mcdev12/mafia/go/internal/models"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidPhase   = errors.New("invalid phase")
)

// DecodeError describes a frame that could not be turned into an InboundEvent.
// The frame should be logged and discarded; it is never fatal to the session.
type DecodeError struct {
	Tag Tag
	Err error
}

func (e *DecodeError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("decode frame: %v", e.Err)
	}
	return fmt.Sprintf("decode %s frame: %v", e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func missing(tag Tag, field string) error {
	return &DecodeError{Tag: tag, Err: fmt.Errorf("%w %q", ErrMissingField, field)}
}

type envelope struct {
	Type *string `json:"type"`
}

type identityFrame struct {
	RoomCode *string `json:"room_code"`
	PlayerID *string `json:"player_id"`
}

type gameStateFrame struct {
	Phase         *string  `json:"phase"`
	TimeRemaining *float64 `json:"time_remaining"`
	GameResult    *string  `json:"game_result"`
}

type playerInfoFrame struct {
	ID              *string `json:"id"`
	Name            *string `json:"name"`
	Role            *string `json:"role"`
	RoleDescription *string `json:"role_description"`
	IsAlive         bool    `json:"is_alive"`
	CanActAtNight   bool    `json:"can_act_at_night"`
	CanChat         bool    `json:"can_chat"`
	IsHost          bool    `json:"is_host"`
	HasVoted        bool    `json:"has_voted"`
	HasActed        bool    `json:"has_acted"`
}

type rosterEntryFrame struct {
	ID      *string `json:"id"`
	Name    *string `json:"name"`
	IsAlive bool    `json:"is_alive"`
	Role    *string `json:"role"`
}

type playersFrame struct {
	Players *[]rosterEntryFrame `json:"players"`
}

type chatFrame struct {
	Chat *struct {
		Sender    *string  `json:"sender"`
		Message   *string  `json:"message"`
		Timestamp *float64 `json:"timestamp"`
		IsServer  bool     `json:"is_server"`
	} `json:"chat"`
}

type messageFrame struct {
	Message *string `json:"message"`
}

// Decode turns one raw text frame into an InboundEvent. Frames with a tag this
// client does not know decode to Unrecognized without error.
func Decode(raw []byte) (InboundEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}
	if env.Type == nil {
		return nil, missing("", "type")
	}

	tag := Tag(*env.Type)
	switch tag {
	case TagRoomCreated, TagRoomJoined:
		return decodeIdentity(tag, raw)
	case TagGameState:
		return decodeGameState(raw)
	case TagPlayerInfo:
		return decodePlayerInfo(raw)
	case TagPlayersUpdate:
		return decodePlayers(raw)
	case TagChatMessage:
		return decodeChat(raw)
	case TagRoomDisbanded:
		var f messageFrame
		if err := unmarshal(tag, raw, &f); err != nil {
			return nil, err
		}
		return RoomDisbanded{Reason: deref(f.Message)}, nil
	case TagError:
		var f messageFrame
		if err := unmarshal(tag, raw, &f); err != nil {
			return nil, err
		}
		if f.Message == nil {
			return nil, missing(tag, "message")
		}
		return ServerError{Message: *f.Message}, nil
	default:
		return Unrecognized{RawTag: *env.Type}, nil
	}
}

func unmarshal(tag Tag, raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &DecodeError{Tag: tag, Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}
	return nil
}

func decodeIdentity(tag Tag, raw []byte) (InboundEvent, error) {
	var f identityFrame
	if err := unmarshal(tag, raw, &f); err != nil {
		return nil, err
	}
	if f.RoomCode == nil || *f.RoomCode == "" {
		return nil, missing(tag, "room_code")
	}
	if f.PlayerID == nil || *f.PlayerID == "" {
		return nil, missing(tag, "player_id")
	}
	if tag == TagRoomCreated {
		return RoomCreated{RoomCode: *f.RoomCode, PlayerID: *f.PlayerID}, nil
	}
	return RoomJoined{RoomCode: *f.RoomCode, PlayerID: *f.PlayerID}, nil
}

func decodeGameState(raw []byte) (InboundEvent, error) {
	var f gameStateFrame
	if err := unmarshal(TagGameState, raw, &f); err != nil {
		return nil, err
	}
	if f.Phase == nil {
		return nil, missing(TagGameState, "phase")
	}
	phase := models.Phase(*f.Phase)
	if !phase.Valid() {
		return nil, &DecodeError{Tag: TagGameState, Err: fmt.Errorf("%w %q", ErrInvalidPhase, *f.Phase)}
	}
	if f.TimeRemaining == nil {
		return nil, missing(TagGameState, "time_remaining")
	}

	state := models.GameState{
		Phase:                phase,
		TimeRemainingSeconds: wholeSeconds(*f.TimeRemaining),
	}
	// a result is only meaningful once the game is over
	if phase == models.PhaseFinished && f.GameResult != nil {
		result := *f.GameResult
		state.GameResult = &result
	}
	return GameStateUpdate{State: state}, nil
}

func decodePlayerInfo(raw []byte) (InboundEvent, error) {
	var f playerInfoFrame
	if err := unmarshal(TagPlayerInfo, raw, &f); err != nil {
		return nil, err
	}
	if f.ID == nil {
		return nil, missing(TagPlayerInfo, "id")
	}
	if f.Name == nil {
		return nil, missing(TagPlayerInfo, "name")
	}
	return SelfInfoUpdate{Self: models.PlayerSelf{
		ID:              *f.ID,
		Name:            *f.Name,
		Role:            f.Role,
		RoleDescription: deref(f.RoleDescription),
		IsAlive:         f.IsAlive,
		CanActAtNight:   f.CanActAtNight,
		CanChat:         f.CanChat,
		IsHost:          f.IsHost,
		HasVoted:        f.HasVoted,
		HasActed:        f.HasActed,
	}}, nil
}

func decodePlayers(raw []byte) (InboundEvent, error) {
	var f playersFrame
	if err := unmarshal(TagPlayersUpdate, raw, &f); err != nil {
		return nil, err
	}
	if f.Players == nil {
		return nil, missing(TagPlayersUpdate, "players")
	}

	roster := make([]models.PlayerSummary, 0, len(*f.Players))
	for i, p := range *f.Players {
		if p.ID == nil {
			return nil, missing(TagPlayersUpdate, fmt.Sprintf("players[%d].id", i))
		}
		if p.Name == nil {
			return nil, missing(TagPlayersUpdate, fmt.Sprintf("players[%d].name", i))
		}
		roster = append(roster, models.PlayerSummary{
			ID:      *p.ID,
			Name:    *p.Name,
			IsAlive: p.IsAlive,
			Role:    p.Role,
		})
	}
	return RosterUpdate{Roster: roster}, nil
}

func decodeChat(raw []byte) (InboundEvent, error) {
	var f chatFrame
	if err := unmarshal(TagChatMessage, raw, &f); err != nil {
		return nil, err
	}
	if f.Chat == nil {
		return nil, missing(TagChatMessage, "chat")
	}
	if f.Chat.Sender == nil {
		return nil, missing(TagChatMessage, "chat.sender")
	}
	if f.Chat.Message == nil {
		return nil, missing(TagChatMessage, "chat.message")
	}

	var ts int64
	if f.Chat.Timestamp != nil {
		ts = int64(*f.Chat.Timestamp)
	}
	return ChatReceived{Entry: models.ChatEntry{
		Sender:          *f.Chat.Sender,
		Message:         *f.Chat.Message,
		TimestampMillis: ts,
		IsSystem:        f.Chat.IsServer,
	}}, nil
}

// wholeSeconds floors v and clamps it at zero.
func wholeSeconds(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(v))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
