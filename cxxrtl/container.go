// Package cxxrtl connects to a simulator that speaks the CXXRTL debug
// protocol and exposes its design hierarchy, signal values and run state
// through a non-blocking, cache-backed facade.
//
// Every read returns the best value available right now. When the value is
// missing or outdated, the read issues the command that refreshes it and
// returns the previous value, or nothing. The Notifier given to the Builder
// is told when a refreshed value arrives so the caller can read again.
package cxxrtl

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sarchlab/cxxrtlbridge/hooking"
	"github.com/sarchlab/cxxrtlbridge/idgen"
	"github.com/sarchlab/cxxrtlbridge/naming"
	"github.com/sarchlab/cxxrtlbridge/protocol"
	"github.com/sarchlab/cxxrtlbridge/querystore"
	"github.com/sarchlab/cxxrtlbridge/timestamp"
)

// DefaultReference is the name of the reference that holds the loaded
// signals.
const DefaultReference = "ALL_VARIABLES"

// VariableMeta describes a variable. NumBits is nil while the item table is
// not known or if the variable does not exist.
type VariableMeta struct {
	Var     naming.VariableRef
	NumBits *uint32
	Item    *protocol.Item
}

// Container is the client-side view of one simulator.
type Container struct {
	*hooking.HookableBase

	name       string
	lock       sync.Mutex
	data       *Data
	worker     *worker
	runQuantum timestamp.Timestamp
	registry   *prometheus.Registry
	idGen      idgen.Generator
	order      *submitOrder
}

// Name returns the name of the container.
func (c *Container) Name() string {
	return c.name
}

// Registry returns the registry that holds the metrics of the container.
func (c *Container) Registry() *prometheus.Registry {
	return c.registry
}

type issueFunc func(cmd protocol.Command, op pendingOp)

// withData runs f with the lock held. Commands issued by f are submitted
// after the lock is released, so a full command channel cannot block the
// worker from applying responses. Across concurrent callers, commands are
// submitted in the order the lock was taken.
func (c *Container) withData(f func(d *Data, issue issueFunc)) {
	var (
		requests []request
		ticket   uint64
	)

	c.lock.Lock()
	f(c.data, func(cmd protocol.Command, op pendingOp) {
		requests = append(requests, request{cmd: cmd, op: op})
	})
	if len(requests) > 0 {
		ticket = c.order.take()
	}
	c.lock.Unlock()

	if len(requests) == 0 {
		return
	}

	c.order.wait(ticket)
	defer c.order.release()

	for _, r := range requests {
		r.taskID = c.idGen.Generate()
		r.issuedAt = time.Now()
		c.worker.submit(r)
	}
}

func fetchScopes(d *Data, issue issueFunc) ScopeTable {
	scopes := d.scopes.FetchIfNeeded(func() {
		issue(protocol.ListScopes{}, listScopesOp{})
	})

	if scopes == nil {
		return nil
	}

	return *scopes
}

func fetchAllItems(d *Data, issue issueFunc) *ItemTable {
	return d.allItems.FetchIfNeeded(func() {
		issue(protocol.ListItems{}, listAllItemsOp{})
	})
}

func fetchModuleItems(d *Data, scope naming.ScopeRef, issue issueFunc) ItemTable {
	items := d.moduleItemCell(scope).FetchIfNeeded(func() {
		wire := scope.WireName()
		issue(protocol.ListItems{Scope: &wire}, listModuleItemsOp{scope: scope})
	})

	if items == nil {
		return nil
	}

	return *items
}

func fetchStatus(d *Data, issue issueFunc) *protocol.SimulationStatus {
	return d.status.FetchIfNeeded(func() {
		issue(protocol.GetSimulationStatus{}, getStatusOp{})
	})
}

// Scopes returns all scopes of the design. The returned table must not be
// modified.
func (c *Container) Scopes() ScopeTable {
	var scopes ScopeTable

	c.withData(func(d *Data, issue issueFunc) {
		scopes = fetchScopes(d, issue)
	})

	return scopes
}

// Items returns the item table of the whole design. The returned table must
// not be modified.
func (c *Container) Items() ItemTable {
	var items ItemTable

	c.withData(func(d *Data, issue issueFunc) {
		if table := fetchAllItems(d, issue); table != nil {
			items = *table
		}
	})

	return items
}

// Modules returns all scopes, sorted by name.
func (c *Container) Modules() []naming.ScopeRef {
	return sortedScopes(c.Scopes(), func(naming.ScopeRef) bool { return true })
}

// RootModules returns the top of the hierarchy. The protocol always names
// the root scope with the empty string.
func (c *Container) RootModules() []naming.ScopeRef {
	c.Scopes()

	return []naming.ScopeRef{naming.Root()}
}

// ModuleExists reports whether the scope list is known and contains module.
func (c *Container) ModuleExists(module naming.ScopeRef) bool {
	_, ok := c.Scopes()[module]

	return ok
}

// ChildScopes returns the scopes exactly one level below parent.
func (c *Container) ChildScopes(parent naming.ScopeRef) []naming.ScopeRef {
	return sortedScopes(c.Scopes(), func(s naming.ScopeRef) bool {
		return s.IsChildOf(parent)
	})
}

func sortedScopes(
	scopes ScopeTable,
	keep func(naming.ScopeRef) bool,
) []naming.ScopeRef {
	var result []naming.ScopeRef

	for s := range scopes {
		if keep(s) {
			result = append(result, s)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].WireName() < result[j].WireName()
	})

	return result
}

// VariablesInModule returns the variables declared directly in module,
// sorted by name.
func (c *Container) VariablesInModule(module naming.ScopeRef) []naming.VariableRef {
	var items ItemTable

	c.withData(func(d *Data, issue issueFunc) {
		items = fetchModuleItems(d, module, issue)
	})

	vars := make([]naming.VariableRef, 0, len(items))
	for v := range items {
		vars = append(vars, v)
	}

	sort.Slice(vars, func(i, j int) bool {
		return vars[i].WireName() < vars[j].WireName()
	})

	return vars
}

// NoVariablesInModule reports whether module has no variables, or whether
// its variables are not known yet.
func (c *Container) NoVariablesInModule(module naming.ScopeRef) bool {
	var items ItemTable

	c.withData(func(d *Data, issue issueFunc) {
		items = fetchModuleItems(d, module, issue)
	})

	return len(items) == 0
}

// VariableMeta looks the variable up in the item table of the whole design.
func (c *Container) VariableMeta(v naming.VariableRef) VariableMeta {
	meta := VariableMeta{Var: v}

	c.withData(func(d *Data, issue issueFunc) {
		items := fetchAllItems(d, issue)
		if items == nil {
			return
		}

		item, ok := (*items)[v]
		if !ok {
			return
		}

		width := item.Width
		meta.NumBits = &width
		meta.Item = &item
	})

	return meta
}

// MaxDisplayedTimestamp returns the end of the interval that the last query
// covered. It never issues a command.
func (c *Container) MaxDisplayedTimestamp() (timestamp.Timestamp, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	end := c.data.queryResult.Get()
	if end == nil {
		return timestamp.Timestamp{}, false
	}

	return *end, true
}

// MaxTimestamp returns the latest simulated time.
func (c *Container) MaxTimestamp() (timestamp.Timestamp, bool) {
	status, ok := c.RawSimulationStatus()
	if !ok {
		return timestamp.Timestamp{}, false
	}

	return status.LatestTime, true
}

// RawSimulationStatus returns the status as reported by the simulator.
func (c *Container) RawSimulationStatus() (protocol.SimulationStatus, bool) {
	var status *protocol.SimulationStatus

	c.withData(func(d *Data, issue issueFunc) {
		status = fetchStatus(d, issue)
	})

	if status == nil {
		return protocol.SimulationStatus{}, false
	}

	return *status, true
}

// SimulationStatus returns whether the simulation runs, is paused or has
// finished.
func (c *Container) SimulationStatus() (protocol.StatusType, bool) {
	status, ok := c.RawSimulationStatus()

	return status.Status, ok
}

// QueryVariable returns the value of v at time t, in femtoseconds. It
// returns false while the latest time or the item table is unknown, or while
// no variable is loaded. Otherwise it answers from the last interval query,
// which may be empty or outdated while a new query is in flight.
func (c *Container) QueryVariable(
	v naming.VariableRef,
	t *big.Int,
) (querystore.Result, bool) {
	var (
		result querystore.Result
		ok     bool
	)

	c.withData(func(d *Data, issue issueFunc) {
		status := fetchStatus(d, issue)
		if status == nil {
			return
		}

		items := fetchAllItems(d, issue)
		if items == nil {
			return
		}

		if len(d.loaded) == 0 {
			return
		}

		ok = true

		end := status.LatestTime
		held := d.queryResult.FetchIfNeeded(func() {
			reference := DefaultReference
			issue(protocol.QueryInterval{
				Interval:           [2]timestamp.Timestamp{timestamp.Zero(), end},
				Collapse:           true,
				Items:              &reference,
				ItemValuesEncoding: protocol.EncodingBase64U32,
			}, queryIntervalOp{
				end:    end,
				loaded: d.loadedSignals(),
				items:  *items,
			})
		})

		if held == nil || t.Sign() < 0 {
			return
		}

		result = d.intervals.Query(v, timestamp.FromFemtoseconds(t))
	})

	return result, ok
}

// LoadVariables adds variables to the loaded-signal table. If any of them is
// new, the simulator is asked to reference the whole table.
func (c *Container) LoadVariables(vs ...naming.VariableRef) {
	c.withData(func(d *Data, issue issueFunc) {
		added := false
		for _, v := range vs {
			_, isNew := d.Load(v)
			added = added || isNew
		}

		if !added {
			return
		}

		items := make([][]string, len(d.loaded))
		for i, v := range d.loaded {
			items[i] = []string{v.WireName()}
		}

		issue(protocol.ReferenceItems{
			Reference: DefaultReference,
			Items:     items,
		}, referenceItemsOp{})
	})
}

// LoadedSignals returns the loaded-signal table in load order.
func (c *Container) LoadedSignals() []naming.VariableRef {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.data.loadedSignals()
}

// Pause asks the simulator to pause.
func (c *Container) Pause() {
	c.withData(func(_ *Data, issue issueFunc) {
		issue(protocol.PauseSimulation{}, pauseSimulationOp{})
	})
}

// Unpause runs the simulation for one run quantum past the latest known
// time. Until the next status poll the status reads running at time zero.
func (c *Container) Unpause() {
	c.withData(func(d *Data, issue issueFunc) {
		until := c.runQuantum

		status := fetchStatus(d, issue)
		if status != nil {
			until = status.LatestTime.Add(c.runQuantum)
		}

		issue(protocol.RunSimulation{
			UntilTime:        &until,
			UntilDiagnostics: []string{},
			SampleItemValues: true,
		}, runSimulationOp{})
	})
}

// PollStatus marks the simulation status as outdated so the next read asks
// the simulator again.
func (c *Container) PollStatus() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.data.status.Invalidate()
}

// ServerGreeting returns the greeting of the simulator, or nil if it has not
// arrived yet.
func (c *Container) ServerGreeting() *protocol.ServerGreeting {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.data.greeting
}

// PendingCommands returns the number of commands waiting for a response.
func (c *Container) PendingCommands() int {
	return c.worker.pendingCount()
}

// Done is closed when the connection to the simulator is gone.
func (c *Container) Done() <-chan struct{} {
	return c.worker.done
}

// Err returns why the connection ended. It is nil while the connection is
// alive and after a clean shutdown.
func (c *Container) Err() error {
	select {
	case <-c.worker.done:
		return c.worker.err
	default:
		return nil
	}
}

// Close shuts the connection down. Reads that need to issue a command panic
// afterwards.
func (c *Container) Close() {
	c.worker.terminate(nil)
}

// CacheSnapshot is the state of every cache of a container.
type CacheSnapshot struct {
	Scopes          string
	AllItems        string
	Status          string
	QueryResult     string
	ModuleItems     map[string]string
	LoadedSignals   []string
	SampledSignals  int
	PendingCommands int
}

// CacheSnapshot reports the state of every cache without issuing commands.
func (c *Container) CacheSnapshot() CacheSnapshot {
	c.lock.Lock()
	defer c.lock.Unlock()

	d := c.data
	snapshot := CacheSnapshot{
		Scopes:          d.scopes.State().String(),
		AllItems:        d.allItems.State().String(),
		Status:          d.status.State().String(),
		QueryResult:     d.queryResult.State().String(),
		ModuleItems:     make(map[string]string, len(d.moduleItems)),
		LoadedSignals:   make([]string, 0, len(d.loaded)),
		SampledSignals:  len(d.intervals.Signals()),
		PendingCommands: c.worker.pendingCount(),
	}

	for scope, cell := range d.moduleItems {
		snapshot.ModuleItems[scope.String()] = cell.State().String()
	}

	for _, v := range d.loaded {
		snapshot.LoadedSignals = append(snapshot.LoadedSignals, v.String())
	}

	return snapshot
}
