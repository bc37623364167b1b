// Package fakesim is an in-process simulator that speaks the CXXRTL debug
// protocol from a scripted design. It exists for tests.
package fakesim

import (
	"errors"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/cxxrtlbridge/naming"
	"github.com/sarchlab/cxxrtlbridge/protocol"
	"github.com/sarchlab/cxxrtlbridge/querystore"
	"github.com/sarchlab/cxxrtlbridge/timestamp"
)

// A Sample sets item values from Time on. Items that are not listed are
// zero.
type Sample struct {
	Time   timestamp.Timestamp
	Values map[string]*big.Int
}

// A Design is what the fake simulator reports.
type Design struct {
	Scopes  map[string]protocol.Scope
	Items   map[string]protocol.Item
	Samples []Sample
	Status  protocol.SimulationStatus
}

// Server answers commands about a Design.
type Server struct {
	mu         sync.Mutex
	design     Design
	status     protocol.SimulationStatus
	references map[string][]string
	received   []protocol.ClientMessage
	holding    bool
	held       []protocol.ServerMessage
	wrongNext  bool

	writeLock sync.Mutex
	writer    *protocol.FrameWriter
	conn      io.Closer
}

// New creates a Server for design.
func New(design Design) *Server {
	if design.Status.Status == "" {
		design.Status.Status = protocol.StatusPaused
	}

	return &Server{
		design:     design,
		status:     design.Status,
		references: make(map[string][]string),
	}
}

// Pipe connects a new Server for design to one end of an in-memory
// connection and returns the other end.
func Pipe(design Design) (*Server, net.Conn) {
	s := New(design)
	client, server := net.Pipe()

	go func() {
		if err := s.Serve(server); err != nil {
			logrus.WithError(err).Debug("fake simulator stopped")
		}
	}()

	return s, client
}

// Serve answers frames from conn until it is closed.
func (s *Server) Serve(conn io.ReadWriteCloser) error {
	defer conn.Close()

	s.writeLock.Lock()
	s.writer = protocol.NewFrameWriter(conn)
	s.conn = conn
	s.writeLock.Unlock()

	reader := protocol.NewFrameReader(conn)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}

			return err
		}

		msg, err := protocol.DecodeClientMessage(frame)
		if err != nil {
			s.send(protocol.ErrorMessage{Error: "parse_error", Message: err.Error()})
			continue
		}

		if reply := s.handle(msg); reply != nil {
			s.reply(reply)
		}
	}
}

// Close drops the connection as if the simulator exited.
func (s *Server) Close() error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if s.conn == nil {
		return nil
	}

	return s.conn.Close()
}

// Received returns the client messages received so far, greeting included.
func (s *Server) Received() []protocol.ClientMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	received := make([]protocol.ClientMessage, len(s.received))
	copy(received, s.received)

	return received
}

// Commands returns the commands received so far.
func (s *Server) Commands() []protocol.Command {
	var commands []protocol.Command

	for _, msg := range s.Received() {
		if cmd, ok := msg.(protocol.Command); ok {
			commands = append(commands, cmd)
		}
	}

	return commands
}

// CommandNames returns the names of the commands received so far.
func (s *Server) CommandNames() []string {
	var names []string

	for _, cmd := range s.Commands() {
		names = append(names, cmd.Name())
	}

	return names
}

// Hold keeps responses back until Release is called.
func (s *Server) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.holding = true
}

// Release sends the held responses in order and stops holding.
func (s *Server) Release() {
	s.mu.Lock()
	held := s.held
	s.held = nil
	s.holding = false
	s.mu.Unlock()

	for _, msg := range held {
		s.send(msg)
	}
}

// InjectWrongVariant makes the next response a response to another command.
func (s *Server) InjectWrongVariant() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wrongNext = true
}

// SetStatus changes the status the server reports.
func (s *Server) SetStatus(status protocol.SimulationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status
}

// Status returns the status the server reports.
func (s *Server) Status() protocol.SimulationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Reference returns the item names bound to a reference.
func (s *Server) Reference(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.references[name]...)
}

// EmitEvent sends an event and updates the reported status to match it.
func (s *Server) EmitEvent(e protocol.Event) {
	s.mu.Lock()
	switch e := e.(type) {
	case protocol.SimulationPaused:
		s.status = protocol.SimulationStatus{Status: protocol.StatusPaused, LatestTime: e.Time}
	case protocol.SimulationFinished:
		s.status = protocol.SimulationStatus{Status: protocol.StatusFinished, LatestTime: e.Time}
	}
	s.mu.Unlock()

	s.send(e)
}

// SendRaw writes an arbitrary frame payload.
func (s *Server) SendRaw(payload []byte) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if s.writer == nil {
		return errors.New("fakesim: not serving")
	}

	return s.writer.WriteFrame(payload)
}

func (s *Server) reply(msg protocol.ServerMessage) {
	s.mu.Lock()
	if s.wrongNext {
		s.wrongNext = false
		msg = wrongVariant(msg)
	}

	if s.holding {
		s.held = append(s.held, msg)
		s.mu.Unlock()

		return
	}
	s.mu.Unlock()

	s.send(msg)
}

func wrongVariant(msg protocol.ServerMessage) protocol.ServerMessage {
	if _, ok := msg.(protocol.ListScopesResponse); ok {
		return protocol.PauseSimulationResponse{}
	}

	return protocol.ListScopesResponse{Scopes: map[string]protocol.Scope{}}
}

func (s *Server) send(msg protocol.ServerMessage) {
	payload, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		logrus.WithError(err).Error("fake simulator cannot encode message")
		return
	}

	if err := s.SendRaw(payload); err != nil {
		logrus.WithError(err).Debug("fake simulator cannot write")
	}
}

func (s *Server) handle(msg protocol.ClientMessage) protocol.ServerMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received = append(s.received, msg)

	switch m := msg.(type) {
	case protocol.Greeting:
		return protocol.ServerGreeting{
			Version: protocol.Version,
			Commands: []string{
				protocol.CmdListScopes,
				protocol.CmdListItems,
				protocol.CmdReferenceItems,
				protocol.CmdQueryInterval,
				protocol.CmdGetSimulationStatus,
				protocol.CmdRunSimulation,
				protocol.CmdPauseSimulation,
			},
			Events: []string{
				protocol.EventSimulationPaused,
				protocol.EventSimulationFinished,
			},
			Features: protocol.Features{
				ItemValuesEncoding: []string{protocol.EncodingBase64U32},
			},
		}
	case protocol.ListScopes:
		return protocol.ListScopesResponse{Scopes: s.scopesUnder(m.Scope)}
	case protocol.ListItems:
		return protocol.ListItemsResponse{Items: s.itemsIn(m.Scope)}
	case protocol.ReferenceItems:
		return s.referenceItems(m)
	case protocol.QueryInterval:
		return s.queryInterval(m)
	case protocol.GetSimulationStatus:
		return protocol.GetSimulationStatusResponse{SimulationStatus: s.status}
	case protocol.RunSimulation:
		s.status.Status = protocol.StatusRunning
		return protocol.RunSimulationResponse{}
	case protocol.PauseSimulation:
		s.status.Status = protocol.StatusPaused
		return protocol.PauseSimulationResponse{Time: s.status.LatestTime}
	default:
		return protocol.ErrorMessage{Error: "invalid_command", Message: "unsupported message"}
	}
}

func (s *Server) scopesUnder(scope *string) map[string]protocol.Scope {
	scopes := make(map[string]protocol.Scope)

	for name, sc := range s.design.Scopes {
		if scope == nil || *scope == "" || name == *scope ||
			strings.HasPrefix(name, *scope+naming.Separator) {
			scopes[name] = sc
		}
	}

	return scopes
}

func (s *Server) itemsIn(scope *string) map[string]protocol.Item {
	items := make(map[string]protocol.Item)

	for name, item := range s.design.Items {
		if scope != nil {
			v, err := naming.ParseVariableRef(name)
			if err != nil || v.Path.WireName() != *scope {
				continue
			}
		}

		items[name] = item
	}

	return items
}

func (s *Server) referenceItems(m protocol.ReferenceItems) protocol.ServerMessage {
	names := make([]string, 0, len(m.Items))

	for _, designator := range m.Items {
		if len(designator) == 0 {
			return protocol.ErrorMessage{Error: "invalid_args", Message: "empty designator"}
		}

		if _, ok := s.design.Items[designator[0]]; !ok {
			return protocol.ErrorMessage{
				Error:   "invalid_args",
				Message: "unknown item " + designator[0],
			}
		}

		names = append(names, designator[0])
	}

	s.references[m.Reference] = names

	return protocol.ReferenceItemsResponse{}
}

func (s *Server) queryInterval(m protocol.QueryInterval) protocol.ServerMessage {
	var names []string
	if m.Items != nil {
		ref, ok := s.references[*m.Items]
		if !ok {
			return protocol.ErrorMessage{
				Error:   "invalid_reference",
				Message: "unknown reference " + *m.Items,
			}
		}

		names = ref
	}

	samples := []protocol.Sample{}

	for _, sample := range s.design.Samples {
		if sample.Time.Cmp(m.Interval[0]) < 0 || sample.Time.Cmp(m.Interval[1]) > 0 {
			continue
		}

		var words []uint32
		for _, name := range names {
			value := sample.Values[name]
			if value == nil {
				value = new(big.Int)
			}

			words = append(words,
				querystore.IntToWords(value, s.design.Items[name].Words())...)
		}

		out := protocol.Sample{Time: sample.Time}
		if m.Items != nil {
			out.ItemValues = querystore.EncodeWords(words)
		}

		samples = append(samples, out)
	}

	return protocol.QueryIntervalResponse{Samples: samples}
}
