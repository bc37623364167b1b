// Package monitoring serves an HTTP interface to inspect and control a
// connected simulator.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/sarchlab/cxxrtlbridge/cxxrtl"
	"github.com/sarchlab/cxxrtlbridge/hooking"
	"github.com/sarchlab/cxxrtlbridge/idgen"
	"github.com/sarchlab/cxxrtlbridge/monitoring/web"
	"github.com/sarchlab/cxxrtlbridge/naming"
	"github.com/sarchlab/cxxrtlbridge/protocol"
	"github.com/sarchlab/cxxrtlbridge/querystore"
)

// Simulator is what the monitor inspects and controls. *cxxrtl.Container
// implements it.
type Simulator interface {
	hooking.Hookable

	Name() string
	Registry() *prometheus.Registry
	CacheSnapshot() cxxrtl.CacheSnapshot

	RawSimulationStatus() (protocol.SimulationStatus, bool)
	Pause()
	Unpause()
	PollStatus()

	Modules() []naming.ScopeRef
	ChildScopes(parent naming.ScopeRef) []naming.ScopeRef
	VariablesInModule(module naming.ScopeRef) []naming.VariableRef
	VariableMeta(v naming.VariableRef) cxxrtl.VariableMeta
	LoadVariables(vs ...naming.VariableRef)
	LoadedSignals() []naming.VariableRef
	QueryVariable(v naming.VariableRef, t *big.Int) (querystore.Result, bool)
}

// Monitor turns a simulator connection into a web server.
type Monitor struct {
	simulator   Simulator
	portNumber  int
	openBrowser bool

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes StartServer open the monitoring page in a browser.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// RegisterSimulator sets the simulator to monitor and starts counting its
// commands in a progress bar.
func (m *Monitor) RegisterSimulator(s Simulator) {
	m.simulator = s

	bar := m.CreateProgressBar(s.Name()+" commands", 0)
	s.AcceptHook(&commandProgressHook{bar: bar})
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        idgen.Get().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler of all monitoring routes.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/status", m.status).Methods(http.MethodGet)
	r.HandleFunc("/api/pause", m.pause).Methods(http.MethodPost)
	r.HandleFunc("/api/continue", m.continueSimulation).Methods(http.MethodPost)
	r.HandleFunc("/api/poll", m.poll).Methods(http.MethodPost)
	r.HandleFunc("/api/scopes", m.listScopes).Methods(http.MethodGet)
	r.HandleFunc("/api/children", m.listChildren).Methods(http.MethodGet)
	r.HandleFunc("/api/items", m.listItems).Methods(http.MethodGet)
	r.HandleFunc("/api/meta", m.variableMeta).Methods(http.MethodGet)
	r.HandleFunc("/api/load", m.load).Methods(http.MethodPost)
	r.HandleFunc("/api/loaded", m.listLoaded).Methods(http.MethodGet)
	r.HandleFunc("/api/query", m.query).Methods(http.MethodGet)
	r.HandleFunc("/api/cache", m.cache).Methods(http.MethodGet)
	r.HandleFunc("/api/progress", m.listProgressBars).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)

	if m.simulator != nil {
		r.Handle("/metrics", promhttp.HandlerFor(
			m.simulator.Registry(), promhttp.HandlerOpts{}))
	}

	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns the port it
// listens on.
func (m *Monitor) StartServer() int {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("http://localhost:%d", port)

	fmt.Fprintf(os.Stderr, "Monitoring simulator with %s\n", url)

	router := m.Router()

	go func() {
		err := http.Serve(listener, router)
		dieOnErr(err)
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %s\n", err)
		}
	}

	return port
}

func (m *Monitor) simulatorOr503(w http.ResponseWriter) Simulator {
	if m.simulator == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "no simulator registered")

		return nil
	}

	return m.simulator
}

type statusRsp struct {
	Known          bool   `json:"known"`
	Status         string `json:"status,omitempty"`
	LatestTime     string `json:"latest_time,omitempty"`
	NextSampleTime string `json:"next_sample_time,omitempty"`
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	s := m.simulatorOr503(w)
	if s == nil {
		return
	}

	rsp := statusRsp{}

	status, ok := s.RawSimulationStatus()
	if ok {
		rsp.Known = true
		rsp.Status = string(status.Status)
		rsp.LatestTime = status.LatestTime.String()

		if status.NextSampleTime != nil {
			rsp.NextSampleTime = status.NextSampleTime.String()
		}
	}

	writeJSON(w, rsp)
}

func (m *Monitor) pause(w http.ResponseWriter, _ *http.Request) {
	s := m.simulatorOr503(w)
	if s == nil {
		return
	}

	s.Pause()
	w.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) continueSimulation(w http.ResponseWriter, _ *http.Request) {
	s := m.simulatorOr503(w)
	if s == nil {
		return
	}

	s.Unpause()
	w.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) poll(w http.ResponseWriter, _ *http.Request) {
	s := m.simulatorOr503(w)
	if s == nil {
		return
	}

	s.PollStatus()
	w.WriteHeader(http.StatusAccepted)
}

// parseScope accepts dot-separated display names. The empty string is the
// root scope.
func parseScope(name string) naming.ScopeRef {
	if name == "" {
		return naming.Root()
	}

	return naming.NewScopeRef(strings.Split(name, ".")...)
}

func scopeNames(scopes []naming.ScopeRef) []string {
	names := make([]string, 0, len(scopes))
	for _, s := range scopes {
		names = append(names, s.String())
	}

	return names
}

func variableNames(vars []naming.VariableRef) []string {
	names := make([]string, 0, len(vars))
	for _, v := range vars {
		names = append(names, v.String())
	}

	return names
}

func (m *Monitor) listScopes(w http.ResponseWriter, _ *http.Request) {
	s := m.simulatorOr503(w)
	if s == nil {
		return
	}

	writeJSON(w, scopeNames(s.Modules()))
}

func (m *Monitor) listChildren(w http.ResponseWriter, r *http.Request) {
	s := m.simulatorOr503(w)
	if s == nil {
		return
	}

	parent := parseScope(r.URL.Query().Get("scope"))
	writeJSON(w, scopeNames(s.ChildScopes(parent)))
}

func (m *Monitor) listItems(w http.ResponseWriter, r *http.Request) {
	s := m.simulatorOr503(w)
	if s == nil {
		return
	}

	module := parseScope(r.URL.Query().Get("scope"))
	writeJSON(w, variableNames(s.VariablesInModule(module)))
}

func (m *Monitor) listLoaded(w http.ResponseWriter, _ *http.Request) {
	s := m.simulatorOr503(w)
	if s == nil {
		return
	}

	writeJSON(w, variableNames(s.LoadedSignals()))
}

func variableOr400(w http.ResponseWriter, name string) (naming.VariableRef, bool) {
	v, err := naming.ParseDisplayName(name)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return naming.VariableRef{}, false
	}

	return v, true
}

type metaRsp struct {
	Var  string         `json:"var"`
	Item *protocol.Item `json:"item"`
}

func (m *Monitor) variableMeta(w http.ResponseWriter, r *http.Request) {
	s := m.simulatorOr503(w)
	if s == nil {
		return
	}

	v, ok := variableOr400(w, r.URL.Query().Get("var"))
	if !ok {
		return
	}

	meta := s.VariableMeta(v)
	writeJSON(w, metaRsp{Var: v.String(), Item: meta.Item})
}

func (m *Monitor) load(w http.ResponseWriter, r *http.Request) {
	s := m.simulatorOr503(w)
	if s == nil {
		return
	}

	var names []string
	if err := json.NewDecoder(r.Body).Decode(&names); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	vars := make([]naming.VariableRef, 0, len(names))
	for _, name := range names {
		v, ok := variableOr400(w, name)
		if !ok {
			return
		}

		vars = append(vars, v)
	}

	s.LoadVariables(vars...)
	w.WriteHeader(http.StatusAccepted)
}

type queryRsp struct {
	Known bool   `json:"known"`
	Value string `json:"value,omitempty"`
	Since string `json:"since,omitempty"`
	Next  string `json:"next,omitempty"`
}

func (m *Monitor) query(w http.ResponseWriter, r *http.Request) {
	s := m.simulatorOr503(w)
	if s == nil {
		return
	}

	v, ok := variableOr400(w, r.URL.Query().Get("var"))
	if !ok {
		return
	}

	t, ok := new(big.Int).SetString(r.URL.Query().Get("time"), 10)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "Error: time must be a number of femtoseconds")

		return
	}

	result, known := s.QueryVariable(v, t)

	rsp := queryRsp{Known: known}
	if result.Current != nil {
		rsp.Value = result.Current.Value.String()
		rsp.Since = result.Current.Time.String()
	}

	if result.Next != nil {
		rsp.Next = result.Next.String()
	}

	writeJSON(w, rsp)
}

func (m *Monitor) cache(w http.ResponseWriter, _ *http.Request) {
	s := m.simulatorOr503(w)
	if s == nil {
		return
	}

	snapshot := s.CacheSnapshot()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(2)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]ProgressBarStatus, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.Snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		logrus.Panic(err)
	}
}
