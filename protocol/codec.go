// Package protocol implements the CXXRTL debug protocol vocabulary and its
// NUL-delimited JSON wire encoding.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types on the wire.
const (
	typeGreeting = "greeting"
	typeCommand  = "command"
	typeResponse = "response"
	typeError    = "error"
	typeEvent    = "event"
)

type envelope struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Event   string `json:"event"`
}

// encodeTagged marshals body and adds the tag fields to the resulting object.
func encodeTagged(body any, tags ...string) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	for i := 0; i+1 < len(tags); i += 2 {
		v, err := json.Marshal(tags[i+1])
		if err != nil {
			return nil, err
		}

		fields[tags[i]] = v
	}

	return json.Marshal(fields)
}

// EncodeClientMessage returns the frame payload of a client message.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Greeting:
		return encodeTagged(m, "type", typeGreeting)
	case Command:
		return encodeTagged(m, "type", typeCommand, "command", m.Name())
	default:
		return nil, fmt.Errorf("protocol: cannot encode client message %T", msg)
	}
}

// DecodeClientMessage parses a frame payload sent by a client.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}

	switch env.Type {
	case typeGreeting:
		return decodeAs[Greeting](payload)
	case typeCommand:
		return decodeCommand(env.Command, payload)
	default:
		return nil, fmt.Errorf("protocol: unknown client message type %q", env.Type)
	}
}

func decodeCommand(name string, payload []byte) (ClientMessage, error) {
	switch name {
	case CmdListScopes:
		return decodeAs[ListScopes](payload)
	case CmdListItems:
		return decodeAs[ListItems](payload)
	case CmdReferenceItems:
		return decodeAs[ReferenceItems](payload)
	case CmdQueryInterval:
		return decodeAs[QueryInterval](payload)
	case CmdGetSimulationStatus:
		return decodeAs[GetSimulationStatus](payload)
	case CmdRunSimulation:
		return decodeAs[RunSimulation](payload)
	case CmdPauseSimulation:
		return decodeAs[PauseSimulation](payload)
	default:
		return nil, fmt.Errorf("protocol: unknown command %q", name)
	}
}

// EncodeServerMessage returns the frame payload of a server message.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case ServerGreeting:
		return encodeTagged(m, "type", typeGreeting)
	case ErrorMessage:
		return encodeTagged(m, "type", typeError)
	case Response:
		return encodeTagged(m, "type", typeResponse, "command", m.Command())
	case Event:
		return encodeTagged(m, "type", typeEvent, "event", m.EventName())
	default:
		return nil, fmt.Errorf("protocol: cannot encode server message %T", msg)
	}
}

// DecodeServerMessage parses a frame payload sent by the simulator.
func DecodeServerMessage(payload []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}

	switch env.Type {
	case typeGreeting:
		return decodeAs[ServerGreeting](payload)
	case typeError:
		return decodeAs[ErrorMessage](payload)
	case typeResponse:
		return decodeResponse(env.Command, payload)
	case typeEvent:
		return decodeEvent(env.Event, payload)
	default:
		return nil, fmt.Errorf("protocol: unknown server message type %q", env.Type)
	}
}

func decodeResponse(name string, payload []byte) (ServerMessage, error) {
	switch name {
	case CmdListScopes:
		return decodeAs[ListScopesResponse](payload)
	case CmdListItems:
		return decodeAs[ListItemsResponse](payload)
	case CmdReferenceItems:
		return decodeAs[ReferenceItemsResponse](payload)
	case CmdQueryInterval:
		return decodeAs[QueryIntervalResponse](payload)
	case CmdGetSimulationStatus:
		return decodeAs[GetSimulationStatusResponse](payload)
	case CmdRunSimulation:
		return decodeAs[RunSimulationResponse](payload)
	case CmdPauseSimulation:
		return decodeAs[PauseSimulationResponse](payload)
	default:
		return nil, fmt.Errorf("protocol: unknown response %q", name)
	}
}

func decodeEvent(name string, payload []byte) (ServerMessage, error) {
	switch name {
	case EventSimulationPaused:
		return decodeAs[SimulationPaused](payload)
	case EventSimulationFinished:
		return decodeAs[SimulationFinished](payload)
	default:
		return nil, fmt.Errorf("protocol: unknown event %q", name)
	}
}

func decodeAs[T any](payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("protocol: %w", err)
	}

	return v, nil
}
