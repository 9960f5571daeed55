package models

// ConnectionStatus defines the state of the connection to the game server.
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "DISCONNECTED"
	ConnectionConnecting   ConnectionStatus = "CONNECTING"
	ConnectionConnected    ConnectionStatus = "CONNECTED"
)

// RoomIdentity identifies the room the operator is seated in.
// IsInGame implies RoomCode and PlayerID are both non-empty.
type RoomIdentity struct {
	RoomCode string `json:"room_code"`
	PlayerID string `json:"player_id"`
	IsInGame bool   `json:"is_in_game"`
}
