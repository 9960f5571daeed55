package state

import (
	"github.com/mcdev12/mafia/go/internal/game/wire"
	"github.com/mcdev12/mafia/go/internal/models"
)

// DefaultDisbandMessage is shown when the server disbands a room without a reason.
const DefaultDisbandMessage = "Room was disbanded"

// Reduce returns the state that results from applying one server event to
// prior. It never mutates prior: slices reachable from prior are left as they
// were, so earlier snapshots stay valid.
func Reduce(prior models.SynchronizedState, event wire.InboundEvent) models.SynchronizedState {
	next := prior

	switch ev := event.(type) {
	case wire.RoomCreated:
		next.Identity = models.RoomIdentity{RoomCode: ev.RoomCode, PlayerID: ev.PlayerID, IsInGame: true}
		next.LastError = ""

	case wire.RoomJoined:
		next.Identity = models.RoomIdentity{RoomCode: ev.RoomCode, PlayerID: ev.PlayerID, IsInGame: true}
		next.LastError = ""

	case wire.GameStateUpdate:
		gs := ev.State
		next.GameState = &gs

	case wire.SelfInfoUpdate:
		self := ev.Self
		next.PlayerSelf = &self

	case wire.RosterUpdate:
		roster := make([]models.PlayerSummary, len(ev.Roster))
		copy(roster, ev.Roster)
		next.Roster = roster

	case wire.ChatReceived:
		chat := make([]models.ChatEntry, len(prior.ChatLog), len(prior.ChatLog)+1)
		copy(chat, prior.ChatLog)
		next.ChatLog = append(chat, ev.Entry)

	case wire.RoomDisbanded:
		// connection status belongs to the connection manager and survives the reset
		next = models.EmptyState()
		next.Connection = prior.Connection
		next.LastError = ev.Reason
		if next.LastError == "" {
			next.LastError = DefaultDisbandMessage
		}

	case wire.ServerError:
		next.LastError = ev.Message

	case wire.Unrecognized:
		return prior
	}

	return next
}
