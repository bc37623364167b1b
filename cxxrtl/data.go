package cxxrtl

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/cxxrtlbridge/cache"
	"github.com/sarchlab/cxxrtlbridge/naming"
	"github.com/sarchlab/cxxrtlbridge/notify"
	"github.com/sarchlab/cxxrtlbridge/protocol"
	"github.com/sarchlab/cxxrtlbridge/querystore"
	"github.com/sarchlab/cxxrtlbridge/timestamp"
)

// ItemTable maps variables to their item descriptions.
type ItemTable map[naming.VariableRef]protocol.Item

// ScopeTable maps scopes to their descriptions.
type ScopeTable map[naming.ScopeRef]protocol.Scope

// Data is the simulator state cached on the client side. It is only accessed
// while the container lock is held.
type Data struct {
	scopes      cache.Cell[ScopeTable]
	allItems    cache.Cell[ItemTable]
	moduleItems map[naming.ScopeRef]*cache.Cell[ItemTable]
	status      cache.Cell[protocol.SimulationStatus]

	// queryResult tracks whether an interval query is current. The value is
	// the end of the interval held by intervals.
	queryResult cache.Cell[timestamp.Timestamp]
	intervals   *querystore.Store

	loaded      []naming.VariableRef
	loadedIndex map[naming.VariableRef]int

	greeting *protocol.ServerGreeting
	notifier notify.Notifier
}

func newData(n notify.Notifier) *Data {
	return &Data{
		moduleItems: make(map[naming.ScopeRef]*cache.Cell[ItemTable]),
		intervals:   querystore.New(),
		loadedIndex: make(map[naming.VariableRef]int),
		notifier:    n,
	}
}

func (d *Data) moduleItemCell(scope naming.ScopeRef) *cache.Cell[ItemTable] {
	cell, ok := d.moduleItems[scope]
	if !ok {
		cell = &cache.Cell[ItemTable]{}
		d.moduleItems[scope] = cell
	}

	return cell
}

// Load appends v to the loaded-signal table. It returns the position of v
// and whether it was newly added. Positions never change.
func (d *Data) Load(v naming.VariableRef) (int, bool) {
	if idx, ok := d.loadedIndex[v]; ok {
		return idx, false
	}

	idx := len(d.loaded)
	d.loaded = append(d.loaded, v)
	d.loadedIndex[v] = idx

	return idx, true
}

func (d *Data) loadedSignals() []naming.VariableRef {
	signals := make([]naming.VariableRef, len(d.loaded))
	copy(signals, d.loaded)

	return signals
}

func (d *Data) onSimulationStatusUpdate(status protocol.SimulationStatus) {
	d.status.Fill(status)

	logrus.WithField("status", status.Status).
		WithField("latest_time", status.LatestTime.String()).
		Debug("simulation status updated")

	d.notifier.Notify(notify.Status(status))
	d.invalidateQueryResult()
}

func (d *Data) invalidateQueryResult() {
	d.queryResult.Invalidate()
	d.notifier.Notify(notify.Redraw())
}

// toItemTable converts the wire item names into variable references. Keys
// that cannot be split are dropped.
func toItemTable(items map[string]protocol.Item) ItemTable {
	table := make(ItemTable, len(items))

	for name, item := range items {
		v, err := naming.ParseVariableRef(name)
		if err != nil {
			logrus.WithField("item", name).WithError(err).
				Error("dropping item with malformed name")
			continue
		}

		table[v] = item
	}

	return table
}

func toScopeTable(scopes map[string]protocol.Scope) ScopeTable {
	table := make(ScopeTable, len(scopes))

	for name, scope := range scopes {
		table[naming.ParseScopeRef(name)] = scope
	}

	return table
}
