package cxxrtl

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/cxxrtlbridge/hooking"
	"github.com/sarchlab/cxxrtlbridge/protocol"
	"github.com/sarchlab/cxxrtlbridge/tracing"
)

// TaskKind is the kind of the trace tasks that cover a command round trip.
const TaskKind = "cxxrtl_command"

// Hook positions of a container. Tracing tasks are reported at the
// positions defined by package tracing.
var (
	// HookPosCommandSent is invoked after a command is written. The item is
	// the protocol.Command.
	HookPosCommandSent = &hooking.HookPos{Name: "CommandSent"}

	// HookPosResponseApplied is invoked after a response or an error
	// message consumed a pending command. The item is the
	// protocol.ServerMessage.
	HookPosResponseApplied = &hooking.HookPos{Name: "ResponseApplied"}

	// HookPosEvent is invoked for every asynchronous event. The item is the
	// protocol.Event.
	HookPosEvent = &hooking.HookPos{Name: "Event"}
)

type request struct {
	cmd      protocol.Command
	op       pendingOp
	taskID   string
	issuedAt time.Time
}

// worker moves commands to the simulator and applies the responses to the
// shared data. Outbound and inbound traffic run on separate goroutines so a
// full command channel never stops responses from being consumed.
type worker struct {
	domain tracing.NamedHookable

	reader    *protocol.FrameReader
	writer    *protocol.FrameWriter
	transport io.Closer

	requests chan request

	pendingLock sync.Mutex
	pending     []request

	dataLock *sync.Mutex
	data     *Data

	metrics *metrics

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func (w *worker) start() {
	go w.sendLoop()
	go w.receiveLoop()
}

func (w *worker) submit(r request) {
	select {
	case <-w.done:
		logrus.Panicf("command channel disconnected, cannot send %s",
			r.cmd.Name())
	default:
	}

	tracing.StartTask(r.taskID, "", w.domain, TaskKind, r.cmd.Name(), r.cmd)

	select {
	case w.requests <- r:
	case <-w.done:
		logrus.Panicf("command channel disconnected, cannot send %s",
			r.cmd.Name())
	}
}

func (w *worker) sendLoop() {
	for {
		select {
		case <-w.done:
			return
		case r := <-w.requests:
			if !w.send(r) {
				return
			}
		}
	}
}

func (w *worker) send(r request) bool {
	payload, err := protocol.EncodeClientMessage(r.cmd)
	if err != nil {
		logrus.WithField("command", r.cmd.Name()).WithError(err).
			Error("cannot encode command")
		tracing.EndTask(r.taskID, w.domain)

		return true
	}

	w.pendingLock.Lock()
	w.pending = append(w.pending, r)
	w.metrics.pendingCommands.Set(float64(len(w.pending)))
	w.pendingLock.Unlock()

	logrus.WithField("command", r.cmd.Name()).Tracef("sending %s", payload)

	err = w.writer.WriteFrame(payload)
	if err != nil {
		w.terminate(err)
		return false
	}

	w.metrics.commandsSent.WithLabelValues(r.cmd.Name()).Inc()
	w.invokeHook(HookPosCommandSent, r.cmd, r.taskID)

	return true
}

func (w *worker) receiveLoop() {
	for {
		frame, err := w.reader.ReadFrame()
		if err != nil {
			w.terminate(err)
			return
		}

		logrus.Tracef("received %s", frame)

		msg, err := protocol.DecodeServerMessage(frame)
		if err != nil {
			w.metrics.protocolErrors.Inc()
			logrus.WithError(err).Error("dropping undecodable frame")

			continue
		}

		w.dispatch(msg)
	}
}

func (w *worker) dispatch(msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case protocol.ServerGreeting:
		logrus.WithField("version", m.Version).
			WithField("commands", m.Commands).
			Info("simulator greeted")

		w.dataLock.Lock()
		w.data.greeting = &m
		w.dataLock.Unlock()

	case protocol.Response:
		w.handleResponse(m)

	case protocol.ErrorMessage:
		w.handleError(m)

	case protocol.SimulationPaused:
		w.handleEvent(m, protocol.SimulationStatus{
			Status:     protocol.StatusPaused,
			LatestTime: m.Time,
		})

	case protocol.SimulationFinished:
		w.handleEvent(m, protocol.SimulationStatus{
			Status:     protocol.StatusFinished,
			LatestTime: m.Time,
		})

	default:
		logrus.Errorf("unhandled server message %T", msg)
	}
}

func (w *worker) popPending() (request, bool) {
	w.pendingLock.Lock()
	defer w.pendingLock.Unlock()

	if len(w.pending) == 0 {
		return request{}, false
	}

	r := w.pending[0]
	w.pending[0] = request{}
	w.pending = w.pending[1:]
	w.metrics.pendingCommands.Set(float64(len(w.pending)))

	return r, true
}

func (w *worker) pendingCount() int {
	w.pendingLock.Lock()
	defer w.pendingLock.Unlock()

	return len(w.pending)
}

func (w *worker) handleResponse(resp protocol.Response) {
	w.metrics.responses.WithLabelValues(resp.Command()).Inc()

	r, ok := w.popPending()
	if !ok {
		logrus.WithField("command", resp.Command()).
			Warn("response without a pending command")
		return
	}

	w.dataLock.Lock()
	applied := apply(r.op, resp, w.data)
	w.dataLock.Unlock()

	if !applied {
		w.metrics.mismatches.Inc()
	}

	w.finish(r, resp)
}

func (w *worker) handleError(m protocol.ErrorMessage) {
	w.metrics.protocolErrors.Inc()

	r, ok := w.popPending()
	if !ok {
		logrus.WithField("error", m.Error).Error(m.Message)
		return
	}

	logrus.WithField("command", r.cmd.Name()).
		WithField("error", m.Error).
		Error(m.Message)

	w.finish(r, m)
}

func (w *worker) finish(r request, msg protocol.ServerMessage) {
	w.metrics.roundTrip.WithLabelValues(r.cmd.Name()).
		Observe(time.Since(r.issuedAt).Seconds())
	tracing.EndTask(r.taskID, w.domain)
	w.invokeHook(HookPosResponseApplied, msg, r.taskID)
}

func (w *worker) handleEvent(e protocol.Event, status protocol.SimulationStatus) {
	w.metrics.events.WithLabelValues(e.EventName()).Inc()

	logrus.WithField("event", e.EventName()).
		WithField("time", status.LatestTime.String()).
		Info("simulation event")

	w.dataLock.Lock()
	w.data.onSimulationStatusUpdate(status)
	w.dataLock.Unlock()

	w.invokeHook(HookPosEvent, e, nil)
}

func (w *worker) invokeHook(pos *hooking.HookPos, item, detail interface{}) {
	if w.domain.NumHooks() == 0 {
		return
	}

	w.domain.InvokeHook(hooking.HookCtx{
		Domain: w.domain,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}

// terminate stops both loops and closes the transport. Only the first call
// has an effect.
func (w *worker) terminate(err error) {
	w.closeOnce.Do(func() {
		if errors.Is(err, io.EOF) {
			err = nil
		}

		w.err = err
		close(w.done)

		if closeErr := w.transport.Close(); closeErr != nil {
			logrus.WithError(closeErr).Debug("closing transport")
		}

		if err != nil {
			logrus.WithError(err).Error("simulator connection lost")
		} else {
			logrus.Info("simulator connection closed")
		}
	})
}
