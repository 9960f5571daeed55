package models

// Phase defines the phase of the game in a room.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseNight    Phase = "night"
	PhaseDay      Phase = "day"
	PhaseFinished Phase = "finished"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseWaiting, PhaseNight, PhaseDay, PhaseFinished:
		return true
	}
	return false
}

// GameState is the authoritative game clock and phase pushed by the server.
type GameState struct {
	Phase                Phase   `json:"phase"`
	TimeRemainingSeconds int     `json:"time_remaining"`
	GameResult           *string `json:"game_result,omitempty"` // set only when Phase is PhaseFinished
}
