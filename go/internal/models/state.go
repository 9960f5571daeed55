package models

// SynchronizedState is the client's mirror of server-pushed state.
//
// GameState, PlayerSelf and Roster are snapshots replaced wholesale on each
// update. ChatLog only ever grows until the aggregate is reset.
type SynchronizedState struct {
	GameState  *GameState       `json:"game_state"`
	PlayerSelf *PlayerSelf      `json:"player_info"`
	Roster     []PlayerSummary  `json:"players"`
	ChatLog    []ChatEntry      `json:"chat"`
	Connection ConnectionStatus `json:"connection"`
	LastError  string           `json:"error"`
	Identity   RoomIdentity     `json:"identity"`
}

// EmptyState returns the aggregate as it is at engine start.
func EmptyState() SynchronizedState {
	return SynchronizedState{
		Roster:     []PlayerSummary{},
		ChatLog:    []ChatEntry{},
		Connection: ConnectionDisconnected,
	}
}
