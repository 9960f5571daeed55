package models

// PlayerSelf is the operator's own player as last reported by the server.
type PlayerSelf struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Role            *string `json:"role,omitempty"` // nil until roles are assigned
	RoleDescription string  `json:"role_description"`
	IsAlive         bool    `json:"is_alive"`
	CanActAtNight   bool    `json:"can_act_at_night"`
	CanChat         bool    `json:"can_chat"`
	IsHost          bool    `json:"is_host"`
	HasVoted        bool    `json:"has_voted"`
	HasActed        bool    `json:"has_acted"`
}

// PlayerSummary is one entry of the room roster.
type PlayerSummary struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	IsAlive bool    `json:"is_alive"`
	Role    *string `json:"role,omitempty"` // revealed only when the game has ended
}
