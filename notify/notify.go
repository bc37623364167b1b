// Package notify delivers "something changed, redraw" messages to the
// application that consumes the simulator state.
package notify

import (
	"github.com/sarchlab/cxxrtlbridge/protocol"
)

// Kind identifies what a Message is about.
type Kind int

// Message kinds.
const (
	// InvalidateDrawCommands asks the application to redraw.
	InvalidateDrawCommands Kind = iota

	// StatusChanged reports a new simulation status.
	StatusChanged
)

func (k Kind) String() string {
	switch k {
	case InvalidateDrawCommands:
		return "invalidate_draw_commands"
	case StatusChanged:
		return "status_changed"
	default:
		return "unknown"
	}
}

// A Message is sent to a Notifier.
type Message struct {
	Kind Kind

	// Status is set when Kind is StatusChanged.
	Status protocol.SimulationStatus
}

// Redraw returns a redraw message.
func Redraw() Message {
	return Message{Kind: InvalidateDrawCommands}
}

// Status returns a status-changed message.
func Status(s protocol.SimulationStatus) Message {
	return Message{Kind: StatusChanged, Status: s}
}

// A Notifier receives messages. Notify must not block for long; it is called
// while the simulator state is locked.
type Notifier interface {
	Notify(msg Message)
}

// ChannelNotifier forwards messages to a buffered channel. When the channel
// is full the message is dropped.
type ChannelNotifier struct {
	ch chan Message
}

// NewChannelNotifier creates a ChannelNotifier with the given buffer size.
func NewChannelNotifier(size int) *ChannelNotifier {
	return &ChannelNotifier{ch: make(chan Message, size)}
}

// C returns the channel to receive messages from.
func (n *ChannelNotifier) C() <-chan Message {
	return n.ch
}

// Notify implements Notifier.
func (n *ChannelNotifier) Notify(msg Message) {
	select {
	case n.ch <- msg:
	default:
	}
}

type fanout []Notifier

// Fanout returns a Notifier that forwards every message to all ns.
func Fanout(ns ...Notifier) Notifier {
	return fanout(ns)
}

func (f fanout) Notify(msg Message) {
	for _, n := range f {
		n.Notify(msg)
	}
}

type nop struct{}

func (nop) Notify(Message) {}

// Nop returns a Notifier that discards messages.
func Nop() Notifier {
	return nop{}
}
