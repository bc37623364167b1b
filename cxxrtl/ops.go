package cxxrtl

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/cxxrtlbridge/naming"
	"github.com/sarchlab/cxxrtlbridge/protocol"
	"github.com/sarchlab/cxxrtlbridge/timestamp"
)

// A pendingOp describes how the response to one command updates Data. The
// worker keeps pending operations in the order their commands were sent.
type pendingOp interface {
	// expects is the command whose response the operation consumes.
	expects() string
}

type listScopesOp struct{}

type listAllItemsOp struct{}

type listModuleItemsOp struct {
	scope naming.ScopeRef
}

type referenceItemsOp struct{}

type queryIntervalOp struct {
	end    timestamp.Timestamp
	loaded []naming.VariableRef
	items  ItemTable
}

type getStatusOp struct{}

type runSimulationOp struct{}

type pauseSimulationOp struct{}

func (listScopesOp) expects() string      { return protocol.CmdListScopes }
func (listAllItemsOp) expects() string    { return protocol.CmdListItems }
func (listModuleItemsOp) expects() string { return protocol.CmdListItems }
func (referenceItemsOp) expects() string  { return protocol.CmdReferenceItems }
func (queryIntervalOp) expects() string   { return protocol.CmdQueryInterval }
func (getStatusOp) expects() string       { return protocol.CmdGetSimulationStatus }
func (runSimulationOp) expects() string   { return protocol.CmdRunSimulation }
func (pauseSimulationOp) expects() string { return protocol.CmdPauseSimulation }

// apply updates d with the response to op. It returns false if the response
// is not the one op expects, in which case d is left untouched.
func apply(op pendingOp, resp protocol.Response, d *Data) bool {
	switch op := op.(type) {
	case listScopesOp:
		r, ok := resp.(protocol.ListScopesResponse)
		if !ok {
			return unexpected(op, resp)
		}

		d.scopes.Fill(toScopeTable(r.Scopes))

	case listAllItemsOp:
		r, ok := resp.(protocol.ListItemsResponse)
		if !ok {
			return unexpected(op, resp)
		}

		d.allItems.Fill(toItemTable(r.Items))

	case listModuleItemsOp:
		r, ok := resp.(protocol.ListItemsResponse)
		if !ok {
			return unexpected(op, resp)
		}

		d.moduleItemCell(op.scope).Fill(toItemTable(r.Items))

	case referenceItemsOp:
		if _, ok := resp.(protocol.ReferenceItemsResponse); !ok {
			return unexpected(op, resp)
		}

		logrus.Info("item references updated")
		d.invalidateQueryResult()

	case queryIntervalOp:
		r, ok := resp.(protocol.QueryIntervalResponse)
		if !ok {
			return unexpected(op, resp)
		}

		d.queryResult.Fill(op.end)
		d.intervals.Populate(op.loaded, op.items, r.Samples, d.notifier)

	case getStatusOp:
		r, ok := resp.(protocol.GetSimulationStatusResponse)
		if !ok {
			return unexpected(op, resp)
		}

		d.onSimulationStatusUpdate(r.SimulationStatus)

	case runSimulationOp:
		if _, ok := resp.(protocol.RunSimulationResponse); !ok {
			return unexpected(op, resp)
		}

		logrus.Info("simulation unpaused")

		// Until the next status poll the latest time is unknown.
		d.onSimulationStatusUpdate(protocol.SimulationStatus{
			Status:     protocol.StatusRunning,
			LatestTime: timestamp.Zero(),
		})

	case pauseSimulationOp:
		r, ok := resp.(protocol.PauseSimulationResponse)
		if !ok {
			return unexpected(op, resp)
		}

		d.onSimulationStatusUpdate(protocol.SimulationStatus{
			Status:     protocol.StatusPaused,
			LatestTime: r.Time,
		})

	default:
		logrus.Panicf("unknown pending operation %T", op)
	}

	return true
}

func unexpected(op pendingOp, resp protocol.Response) bool {
	logrus.WithField("expected", op.expects()).
		WithField("got", resp.Command()).
		Error("unexpected response")

	return false
}
