package protocol

import (
	"encoding/json"

	"github.com/sarchlab/cxxrtlbridge/timestamp"
)

// Version is the protocol version announced in the greeting.
const Version = 0

// EncodingBase64U32 encodes item values as little-endian 32-bit words in
// base64.
const EncodingBase64U32 = "base64(u32)"

// A Scope describes one scope reported by the simulator.
type Scope struct {
	Type       string           `json:"type"`
	Definition *ScopeDefinition `json:"definition,omitempty"`
}

// ScopeDefinition describes the module a scope instantiates.
type ScopeDefinition struct {
	Name string `json:"name,omitempty"`
	Src  string `json:"src,omitempty"`
}

// An Item describes one node or memory reported by the simulator.
type Item struct {
	Type       string `json:"type"`
	Width      uint32 `json:"width"`
	LSBOffset  int    `json:"lsb_offset"`
	Input      bool   `json:"input"`
	Output     bool   `json:"output"`
	Settable   bool   `json:"settable"`
	Depth      uint32 `json:"depth,omitempty"`
	ZeroOffset int    `json:"zero_offset,omitempty"`
}

// Words returns the number of 32-bit words one value of the item occupies in
// the base64(u32) encoding.
func (i Item) Words() int {
	return int((i.Width + 31) / 32)
}

// A Sample holds the values of all referenced items at one point in time.
type Sample struct {
	Time        timestamp.Timestamp `json:"time"`
	ItemValues  string              `json:"item_values,omitempty"`
	Diagnostics []json.RawMessage   `json:"diagnostics,omitempty"`
}

// StatusType is the run state of the simulation.
type StatusType string

// The run states of a simulation.
const (
	StatusRunning  StatusType = "running"
	StatusPaused   StatusType = "paused"
	StatusFinished StatusType = "finished"
)

// SimulationStatus is the run state together with the latest simulated time.
type SimulationStatus struct {
	Status         StatusType           `json:"status"`
	LatestTime     timestamp.Timestamp  `json:"latest_time"`
	NextSampleTime *timestamp.Timestamp `json:"next_sample_time,omitempty"`
}

// Features lists optional capabilities announced by the simulator.
type Features struct {
	ItemValuesEncoding []string `json:"item_values_encoding,omitempty"`
}
