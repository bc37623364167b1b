package protocol

import (
	"fmt"

	"github.com/sarchlab/cxxrtlbridge/timestamp"
)

// A ServerMessage is sent from the simulator to the client.
type ServerMessage interface {
	isServerMessage()
}

// ServerGreeting answers the client greeting.
type ServerGreeting struct {
	Version  int      `json:"version"`
	Commands []string `json:"commands,omitempty"`
	Events   []string `json:"events,omitempty"`
	Features Features `json:"features"`
}

// A Response answers the oldest outstanding command.
type Response interface {
	ServerMessage

	// Command is the name of the command this response answers.
	Command() string
}

// ListScopesResponse answers ListScopes. Keys are scope wire names.
type ListScopesResponse struct {
	Scopes map[string]Scope `json:"scopes"`
}

// ListItemsResponse answers ListItems. Keys are item wire names.
type ListItemsResponse struct {
	Items map[string]Item `json:"items"`
}

// ReferenceItemsResponse answers ReferenceItems.
type ReferenceItemsResponse struct{}

// QueryIntervalResponse answers QueryInterval.
type QueryIntervalResponse struct {
	Samples []Sample `json:"samples"`
}

// GetSimulationStatusResponse answers GetSimulationStatus.
type GetSimulationStatusResponse struct {
	SimulationStatus
}

// RunSimulationResponse answers RunSimulation.
type RunSimulationResponse struct{}

// PauseSimulationResponse answers PauseSimulation with the time the
// simulation stopped at.
type PauseSimulationResponse struct {
	Time timestamp.Timestamp `json:"time"`
}

// ErrorMessage reports that the oldest outstanding command failed.
type ErrorMessage struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// An Event is sent by the simulator without a matching command.
type Event interface {
	ServerMessage

	// EventName is the event name used on the wire.
	EventName() string
}

// Event names on the wire.
const (
	EventSimulationPaused   = "simulation_paused"
	EventSimulationFinished = "simulation_finished"
)

// SimulationPaused reports that a run stopped on its own.
type SimulationPaused struct {
	Time  timestamp.Timestamp `json:"time"`
	Cause string              `json:"cause,omitempty"`
}

// SimulationFinished reports that the design finished.
type SimulationFinished struct {
	Time timestamp.Timestamp `json:"time"`
}

func (ServerGreeting) isServerMessage()              {}
func (ListScopesResponse) isServerMessage()          {}
func (ListItemsResponse) isServerMessage()           {}
func (ReferenceItemsResponse) isServerMessage()      {}
func (QueryIntervalResponse) isServerMessage()       {}
func (GetSimulationStatusResponse) isServerMessage() {}
func (RunSimulationResponse) isServerMessage()       {}
func (PauseSimulationResponse) isServerMessage()     {}
func (ErrorMessage) isServerMessage()                {}
func (SimulationPaused) isServerMessage()            {}
func (SimulationFinished) isServerMessage()          {}

// Command implements Response.
func (ListScopesResponse) Command() string { return CmdListScopes }

// Command implements Response.
func (ListItemsResponse) Command() string { return CmdListItems }

// Command implements Response.
func (ReferenceItemsResponse) Command() string { return CmdReferenceItems }

// Command implements Response.
func (QueryIntervalResponse) Command() string { return CmdQueryInterval }

// Command implements Response.
func (GetSimulationStatusResponse) Command() string { return CmdGetSimulationStatus }

// Command implements Response.
func (RunSimulationResponse) Command() string { return CmdRunSimulation }

// Command implements Response.
func (PauseSimulationResponse) Command() string { return CmdPauseSimulation }

// EventName implements Event.
func (SimulationPaused) EventName() string { return EventSimulationPaused }

// EventName implements Event.
func (SimulationFinished) EventName() string { return EventSimulationFinished }

func (e ErrorMessage) String() string {
	return fmt.Sprintf("%s: %s", e.Error, e.Message)
}
