package protocol

import (
	"github.com/sarchlab/cxxrtlbridge/timestamp"
)

// A ClientMessage is sent from the client to the simulator.
type ClientMessage interface {
	isClientMessage()
}

// Greeting is the first message of a session.
type Greeting struct {
	Version int `json:"version"`
}

func (Greeting) isClientMessage() {}

// A Command asks the simulator for exactly one response.
type Command interface {
	ClientMessage

	// Name is the command name used on the wire.
	Name() string
}

// Command names on the wire.
const (
	CmdListScopes          = "list_scopes"
	CmdListItems           = "list_items"
	CmdReferenceItems      = "reference_items"
	CmdQueryInterval       = "query_interval"
	CmdGetSimulationStatus = "get_simulation_status"
	CmdRunSimulation       = "run_simulation"
	CmdPauseSimulation     = "pause_simulation"
)

// ListScopes enumerates the scopes, optionally only those under Scope.
type ListScopes struct {
	Scope *string `json:"scope"`
}

// ListItems enumerates the items, optionally only those under Scope.
type ListItems struct {
	Scope *string `json:"scope"`
}

// ReferenceItems binds a named reference to a list of item designators. Each
// designator is an item name, optionally followed by a memory row range.
type ReferenceItems struct {
	Reference string     `json:"reference"`
	Items     [][]string `json:"items"`
}

// QueryInterval samples all items of a reference over a time interval.
type QueryInterval struct {
	Interval           [2]timestamp.Timestamp `json:"interval"`
	Collapse           bool                   `json:"collapse"`
	Items              *string                `json:"items"`
	ItemValuesEncoding string                 `json:"item_values_encoding"`
	Diagnostics        bool                   `json:"diagnostics"`
}

// GetSimulationStatus asks for the run state and latest time.
type GetSimulationStatus struct{}

// RunSimulation resumes the simulation, optionally until a target time.
type RunSimulation struct {
	UntilTime        *timestamp.Timestamp `json:"until_time"`
	UntilDiagnostics []string             `json:"until_diagnostics"`
	SampleItemValues bool                 `json:"sample_item_values"`
}

// PauseSimulation stops the simulation.
type PauseSimulation struct{}

func (ListScopes) isClientMessage()          {}
func (ListItems) isClientMessage()           {}
func (ReferenceItems) isClientMessage()      {}
func (QueryInterval) isClientMessage()       {}
func (GetSimulationStatus) isClientMessage() {}
func (RunSimulation) isClientMessage()       {}
func (PauseSimulation) isClientMessage()     {}

// Name implements Command.
func (ListScopes) Name() string { return CmdListScopes }

// Name implements Command.
func (ListItems) Name() string { return CmdListItems }

// Name implements Command.
func (ReferenceItems) Name() string { return CmdReferenceItems }

// Name implements Command.
func (QueryInterval) Name() string { return CmdQueryInterval }

// Name implements Command.
func (GetSimulationStatus) Name() string { return CmdGetSimulationStatus }

// Name implements Command.
func (RunSimulation) Name() string { return CmdRunSimulation }

// Name implements Command.
func (PauseSimulation) Name() string { return CmdPauseSimulation }
