package state

import "github.com/mcdev12/mafia/go/internal/models"

// ConnectionErrorMessage is the generic text surfaced on any transport fault.
const ConnectionErrorMessage = "Connection error"

// LocalEvent is a state change that originates in the client rather than
// the server: transport lifecycle and operator acknowledgement.
type LocalEvent interface {
	local()
}

// ConnectionChanged records a transition of the connection manager.
type ConnectionChanged struct {
	Status models.ConnectionStatus
}

// TransportFailed records a transport fault.
type TransportFailed struct {
	Message string
}

// ErrorCleared is the operator dismissing the visible error.
type ErrorCleared struct{}

func (ConnectionChanged) local() {}
func (TransportFailed) local()   {}
func (ErrorCleared) local()      {}

// ReduceLocal applies a client-side event to prior.
func ReduceLocal(prior models.SynchronizedState, event LocalEvent) models.SynchronizedState {
	next := prior

	switch ev := event.(type) {
	case ConnectionChanged:
		next.Connection = ev.Status
		if ev.Status == models.ConnectionConnected {
			next.LastError = ""
		}

	case TransportFailed:
		next.LastError = ev.Message
		if next.LastError == "" {
			next.LastError = ConnectionErrorMessage
		}

	case ErrorCleared:
		next.LastError = ""
	}

	return next
}
