package models

// ChatEntry is a single chat line. IsSystem marks messages authored by the server.
type ChatEntry struct {
	Sender          string `json:"sender"`
	Message         string `json:"message"`
	TimestampMillis int64  `json:"timestamp"`
	IsSystem        bool   `json:"is_system"`
}
