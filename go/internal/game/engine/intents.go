package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mcdev12/mafia/go/internal/game/state"
	"github.com/mcdev12/mafia/go/internal/game/wire"
)

var (
	// ErrInvalidIntent is returned for intents rejected before any command is built.
	ErrInvalidIntent = errors.New("invalid intent")
	// ErrClosed is returned for intents issued after Close.
	ErrClosed = errors.New("engine closed")
)

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidIntent, reason)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// CreateRoom asks the server for a new room with the operator as host.
func (e *Engine) CreateRoom(playerName string) error {
	if blank(playerName) {
		return invalid("player name is required")
	}
	return e.send(wire.CreateRoom{PlayerName: playerName})
}

// JoinRoom asks the server to seat the operator in an existing room.
func (e *Engine) JoinRoom(playerName, roomCode string) error {
	if blank(playerName) {
		return invalid("player name is required")
	}
	if blank(roomCode) {
		return invalid("room code is required")
	}
	return e.send(wire.JoinRoom{PlayerName: playerName, RoomCode: roomCode})
}

// CastVote votes to eliminate targetID during the day.
func (e *Engine) CastVote(targetID string) error {
	if blank(targetID) {
		return invalid("no target selected")
	}
	return e.send(wire.CastVote{TargetID: targetID})
}

// NightAction uses the operator's night ability on targetID.
func (e *Engine) NightAction(targetID string) error {
	if blank(targetID) {
		return invalid("no target selected")
	}
	return e.send(wire.NightAction{TargetID: targetID})
}

// SendChat posts message to the room chat.
func (e *Engine) SendChat(message string) error {
	if blank(message) {
		return invalid("message is empty")
	}
	return e.send(wire.SendChat{Message: message})
}

func (e *Engine) StartGame() error   { return e.send(wire.StartGame{}) }
func (e *Engine) ReplayGame() error  { return e.send(wire.ReplayGame{}) }
func (e *Engine) DisbandRoom() error { return e.send(wire.DisbandRoom{}) }

// ClearError dismisses the operator-visible error.
func (e *Engine) ClearError() error {
	if !e.post(func() { e.apply(state.ReduceLocal(e.state, state.ErrorCleared{})) }) {
		return ErrClosed
	}
	return nil
}

// send is fire-and-forget: the command reaches the wire only if the
// connection is open when the loop gets to it, and is never retried.
func (e *Engine) send(cmd wire.OutboundCommand) error {
	if !e.post(func() { e.conn.Send(cmd) }) {
		return ErrClosed
	}
	return nil
}
