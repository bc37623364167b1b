package cxxrtl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sarchlab/cxxrtlbridge/cache"
	"github.com/sarchlab/cxxrtlbridge/idgen"
	"github.com/sarchlab/cxxrtlbridge/internal/fakesim"
	"github.com/sarchlab/cxxrtlbridge/naming"
	"github.com/sarchlab/cxxrtlbridge/notify"
	"github.com/sarchlab/cxxrtlbridge/protocol"
	"github.com/sarchlab/cxxrtlbridge/timestamp"
	"github.com/sarchlab/cxxrtlbridge/tracing"
)

func fs(n uint64) timestamp.Timestamp {
	return timestamp.FromFemtosecondsUint64(n)
}

func testDesign() fakesim.Design {
	return fakesim.Design{
		Scopes: map[string]protocol.Scope{
			"":        {Type: "module"},
			"top":     {Type: "module"},
			"top cpu": {Type: "module"},
			"top mem": {Type: "module"},
		},
		Items: map[string]protocol.Item{
			"top clk":      {Type: "node", Width: 1},
			"top cpu r0":   {Type: "node", Width: 16},
			"top mem data": {Type: "node", Width: 32},
			"top cpu wide": {Type: "node", Width: 40},
		},
		Samples: []fakesim.Sample{
			{Time: fs(0), Values: map[string]*big.Int{"top cpu r0": big.NewInt(1)}},
			{Time: fs(10), Values: map[string]*big.Int{
				"top cpu r0":   big.NewInt(2),
				"top mem data": big.NewInt(0xdeadbeef),
			}},
			{Time: fs(20), Values: map[string]*big.Int{
				"top cpu r0":   big.NewInt(3),
				"top cpu wide": new(big.Int).Lsh(big.NewInt(1), 39),
			}},
		},
		Status: protocol.SimulationStatus{
			Status:     protocol.StatusPaused,
			LatestTime: fs(30),
		},
	}
}

func countCommands(sim *fakesim.Server, name string) int {
	n := 0
	for _, cmd := range sim.CommandNames() {
		if cmd == name {
			n++
		}
	}

	return n
}

func metricValue(reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	Expect(err).NotTo(HaveOccurred())

	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}

		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}

	return total
}

var (
	top  = naming.NewScopeRef("top")
	cpu  = naming.NewScopeRef("top", "cpu")
	r0   = naming.NewVariableRef(cpu, "r0")
	wide = naming.NewVariableRef(cpu, "wide")
	data = naming.NewVariableRef(naming.NewScopeRef("top", "mem"), "data")
)

var _ = Describe("Container", func() {
	var (
		sim      *fakesim.Server
		notifier *notify.ChannelNotifier
		c        *Container
	)

	BeforeEach(func() {
		var conn net.Conn
		sim, conn = fakesim.Pipe(testDesign())
		notifier = notify.NewChannelNotifier(1000)

		var err error
		c, err = MakeBuilder().
			WithNotifier(notifier).
			WithIDGenerator(idgen.NewSequential()).
			Connect(context.Background(), conn)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		c.Close()
	})

	It("should greet the simulator first", func() {
		Eventually(c.ServerGreeting).ShouldNot(BeNil())

		received := sim.Received()
		Expect(received[0]).To(Equal(protocol.Greeting{Version: 0}))
		Expect(c.ServerGreeting().Features.ItemValuesEncoding).
			To(ContainElement(protocol.EncodingBase64U32))
	})

	It("should return nothing before the scopes arrive", func() {
		sim.Hold()

		Expect(c.Scopes()).To(BeNil())
		Expect(c.ModuleExists(top)).To(BeFalse())
		Expect(c.RootModules()).To(Equal([]naming.ScopeRef{naming.Root()}))

		sim.Release()
	})

	It("should send one request for overlapping reads", func() {
		sim.Hold()

		c.Scopes()
		c.Modules()
		c.ChildScopes(top)

		Eventually(func() int {
			return countCommands(sim, protocol.CmdListScopes)
		}).Should(Equal(1))
		Expect(c.CacheSnapshot().Scopes).To(Equal(cache.Refreshing.String()))

		sim.Release()

		Eventually(c.Modules).Should(HaveLen(4))
		Consistently(func() int {
			return countCommands(sim, protocol.CmdListScopes)
		}, 50*time.Millisecond).Should(Equal(1))
	})

	It("should compute child scopes locally", func() {
		Eventually(func() []naming.ScopeRef {
			return c.ChildScopes(top)
		}).Should(Equal([]naming.ScopeRef{cpu, naming.NewScopeRef("top", "mem")}))

		Expect(c.ChildScopes(cpu)).To(BeEmpty())
		Expect(c.ChildScopes(naming.Root())).To(Equal([]naming.ScopeRef{top}))
		Expect(c.ModuleExists(cpu)).To(BeTrue())
		Expect(countCommands(sim, protocol.CmdListScopes)).To(Equal(1))
	})

	It("should list the variables of a module", func() {
		Eventually(func() []naming.VariableRef {
			return c.VariablesInModule(cpu)
		}).Should(Equal([]naming.VariableRef{r0, wide}))

		Expect(c.NoVariablesInModule(cpu)).To(BeFalse())

		cmd := sim.Commands()[0].(protocol.ListItems)
		Expect(*cmd.Scope).To(Equal("top cpu"))
	})

	It("should report modules without variables", func() {
		Eventually(func() []naming.VariableRef {
			return c.VariablesInModule(naming.Root())
		}, 200*time.Millisecond).Should(BeEmpty())

		Eventually(func() string {
			return c.CacheSnapshot().ModuleItems[""]
		}).Should(Equal(cache.Filled.String()))
		Expect(c.NoVariablesInModule(naming.Root())).To(BeTrue())
	})

	It("should return the whole item table", func() {
		Eventually(c.Items).Should(HaveLen(4))

		Expect(c.Items()[wide].Width).To(Equal(uint32(40)))
		Expect(countCommands(sim, protocol.CmdListItems)).To(Equal(1))
	})

	It("should look variables up in the whole item table", func() {
		Eventually(func() *uint32 {
			return c.VariableMeta(r0).NumBits
		}).ShouldNot(BeNil())

		Expect(*c.VariableMeta(r0).NumBits).To(Equal(uint32(16)))
		Expect(*c.VariableMeta(data).NumBits).To(Equal(uint32(32)))
		Expect(c.VariableMeta(naming.NewVariableRef(top, "nope")).NumBits).To(BeNil())

		cmd := sim.Commands()[0].(protocol.ListItems)
		Expect(cmd.Scope).To(BeNil())
		Expect(countCommands(sim, protocol.CmdListItems)).To(Equal(1))
	})

	It("should reference loaded variables once", func() {
		c.LoadVariables(r0, data)
		c.LoadVariables(r0)

		Eventually(func() []string {
			return sim.Reference(DefaultReference)
		}).Should(Equal([]string{"top cpu r0", "top mem data"}))

		Consistently(func() int {
			return countCommands(sim, protocol.CmdReferenceItems)
		}, 50*time.Millisecond).Should(Equal(1))
		Expect(c.LoadedSignals()).To(Equal([]naming.VariableRef{r0, data}))
	})

	It("should not query before the preconditions are met", func() {
		_, ok := c.QueryVariable(r0, big.NewInt(0))
		Expect(ok).To(BeFalse())

		Eventually(func() bool {
			c.MaxTimestamp()
			c.VariableMeta(r0)

			snapshot := c.CacheSnapshot()

			return snapshot.AllItems == "filled" && snapshot.Status == "filled"
		}).Should(BeTrue())

		_, ok = c.QueryVariable(r0, big.NewInt(0))
		Expect(ok).To(BeFalse(), "nothing is loaded")
		Expect(countCommands(sim, protocol.CmdQueryInterval)).To(Equal(0))
	})

	It("should answer point queries from the interval", func() {
		c.LoadVariables(r0, data, wide)

		valueAt := func(t int64) func() int64 {
			return func() int64 {
				result, ok := c.QueryVariable(r0, big.NewInt(t))
				if !ok || result.Current == nil {
					return -1
				}

				return result.Current.Value.Int64()
			}
		}

		Eventually(valueAt(15)).Should(Equal(int64(2)))
		Expect(valueAt(0)()).To(Equal(int64(1)))
		Expect(valueAt(9)()).To(Equal(int64(1)))
		Expect(valueAt(20)()).To(Equal(int64(3)))
		Expect(valueAt(1000)()).To(Equal(int64(3)))

		result, ok := c.QueryVariable(data, big.NewInt(10))
		Expect(ok).To(BeTrue())
		Expect(result.Current.Value.Uint64()).To(Equal(uint64(0xdeadbeef)))
		Expect(result.Next.Cmp(fs(20))).To(Equal(0))

		result, _ = c.QueryVariable(wide, big.NewInt(25))
		Expect(result.Current.Value.Cmp(new(big.Int).Lsh(big.NewInt(1), 39))).To(Equal(0))

		end, ok := c.MaxDisplayedTimestamp()
		Expect(ok).To(BeTrue())
		Expect(end.Cmp(fs(30))).To(Equal(0))

		var query protocol.QueryInterval
		for _, cmd := range sim.Commands() {
			if q, ok := cmd.(protocol.QueryInterval); ok {
				query = q
			}
		}
		Expect(query.Interval[0].IsZero()).To(BeTrue())
		Expect(query.Interval[1].Cmp(fs(30))).To(Equal(0))
		Expect(query.Collapse).To(BeTrue())
		Expect(*query.Items).To(Equal(DefaultReference))
		Expect(query.ItemValuesEncoding).To(Equal(protocol.EncodingBase64U32))
	})

	It("should treat negative times as before the first sample", func() {
		c.LoadVariables(r0)

		Eventually(func() bool {
			result, ok := c.QueryVariable(r0, big.NewInt(0))
			return ok && result.Current != nil
		}).Should(BeTrue())

		result, ok := c.QueryVariable(r0, big.NewInt(-1))
		Expect(ok).To(BeTrue())
		Expect(result.Current).To(BeNil())
	})

	It("should pause and unpause", func() {
		sim.SetStatus(protocol.SimulationStatus{
			Status:     protocol.StatusRunning,
			LatestTime: fs(500),
		})

		c.Pause()

		Eventually(func() protocol.StatusType {
			status, _ := c.SimulationStatus()
			return status
		}).Should(Equal(protocol.StatusPaused))

		latest, ok := c.MaxTimestamp()
		Expect(ok).To(BeTrue())
		Expect(latest.Cmp(fs(500))).To(Equal(0))

		c.Unpause()

		Eventually(func() protocol.StatusType {
			status, _ := c.SimulationStatus()
			return status
		}).Should(Equal(protocol.StatusRunning))

		latest, _ = c.MaxTimestamp()
		Expect(latest.IsZero()).To(BeTrue())

		commands := sim.Commands()
		run := commands[len(commands)-1].(protocol.RunSimulation)
		Expect(run.UntilTime.Cmp(fs(500 + DefaultRunQuantumFs))).To(Equal(0))
		Expect(run.SampleItemValues).To(BeTrue())
	})

	It("should unpause from zero when the status is unknown", func() {
		sim.Hold()

		c.Unpause()

		Eventually(func() []string {
			return sim.CommandNames()
		}).Should(Equal([]string{
			protocol.CmdGetSimulationStatus,
			protocol.CmdRunSimulation,
		}))

		run := sim.Commands()[1].(protocol.RunSimulation)
		Expect(run.UntilTime.Cmp(fs(DefaultRunQuantumFs))).To(Equal(0))

		sim.Release()
	})

	It("should refetch the status after a poll", func() {
		Eventually(func() bool {
			_, ok := c.SimulationStatus()
			return ok
		}).Should(BeTrue())

		sim.SetStatus(protocol.SimulationStatus{
			Status:     protocol.StatusPaused,
			LatestTime: fs(77),
		})
		c.PollStatus()

		Eventually(func() int {
			latest, _ := c.MaxTimestamp()
			return latest.Cmp(fs(77))
		}).Should(Equal(0))
		Expect(countCommands(sim, protocol.CmdGetSimulationStatus)).To(Equal(2))
	})

	It("should keep a cell refreshing after a mismatched response", func() {
		Eventually(c.ServerGreeting).ShouldNot(BeNil())

		sim.InjectWrongVariant()

		c.Scopes()

		Eventually(func() float64 {
			return metricValue(c.Registry(), "cxxrtl_response_mismatches_total")
		}).Should(Equal(1.0))

		Consistently(c.Scopes, 50*time.Millisecond).Should(BeNil())
		Expect(c.CacheSnapshot().Scopes).To(Equal("refreshing"))
		Expect(countCommands(sim, protocol.CmdListScopes)).To(Equal(1))

		c.lock.Lock()
		c.data.scopes.Invalidate()
		c.lock.Unlock()

		Eventually(c.Modules).Should(HaveLen(4))
	})

	It("should put references on the wire in load order", func() {
		Eventually(c.ServerGreeting).ShouldNot(BeNil())

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				c.LoadVariables(naming.NewVariableRef(cpu, fmt.Sprintf("v%d", i)))
				c.QueryVariable(r0, big.NewInt(0))
			}(i)
		}
		wg.Wait()

		var sizes []int
		Eventually(func() []int {
			sizes = nil
			for _, cmd := range sim.Commands() {
				if ref, ok := cmd.(protocol.ReferenceItems); ok {
					sizes = append(sizes, len(ref.Items))
				}
			}

			return sizes
		}).Should(HaveLen(16))

		for i := range sizes {
			Expect(sizes[i]).To(Equal(i + 1))
		}
	})

	It("should apply simulation events", func() {
		sim.EmitEvent(protocol.SimulationFinished{Time: fs(900)})

		Eventually(func() protocol.StatusType {
			c.lock.Lock()
			defer c.lock.Unlock()

			if c.data.status.Get() == nil {
				return ""
			}

			return c.data.status.Get().Status
		}).Should(Equal(protocol.StatusFinished))

		var msg notify.Message
		Eventually(notifier.C()).Should(Receive(&msg))
		Expect(msg.Kind).To(Equal(notify.StatusChanged))
		Expect(msg.Status.Status).To(Equal(protocol.StatusFinished))
		Expect(msg.Status.LatestTime.Cmp(fs(900))).To(Equal(0))
		Eventually(notifier.C()).Should(Receive(Equal(notify.Redraw())))
		Expect(metricValue(c.Registry(), "cxxrtl_events_total")).To(Equal(1.0))
	})

	It("should consume the pending command on an error message", func() {
		c.LoadVariables(naming.NewVariableRef(top, "nope"))

		Eventually(func() float64 {
			return metricValue(c.Registry(), "cxxrtl_protocol_errors_total")
		}).Should(Equal(1.0))

		Eventually(c.Modules).Should(HaveLen(4))
		Expect(c.PendingCommands()).To(Equal(0))
	})

	It("should drop undecodable frames without losing a command", func() {
		sim.Hold()
		c.Scopes()

		Eventually(func() int {
			return countCommands(sim, protocol.CmdListScopes)
		}).Should(Equal(1))

		Expect(sim.SendRaw([]byte("not json"))).To(Succeed())
		Expect(sim.SendRaw([]byte(`{"type":"response","command":"nope"}`))).To(Succeed())
		sim.Release()

		Eventually(c.Modules).Should(HaveLen(4))
		Expect(metricValue(c.Registry(), "cxxrtl_protocol_errors_total")).To(Equal(2.0))
	})

	It("should ignore responses nobody waits for", func() {
		Eventually(c.ServerGreeting).ShouldNot(BeNil())

		Expect(sim.SendRaw([]byte(`{"type":"response","command":"run_simulation"}`))).
			To(Succeed())

		Eventually(c.Modules).Should(HaveLen(4))
	})

	It("should count commands in the metrics", func() {
		Eventually(c.Modules).Should(HaveLen(4))

		Expect(metricValue(c.Registry(), "cxxrtl_commands_sent_total")).To(Equal(1.0))
		Expect(metricValue(c.Registry(), "cxxrtl_responses_total")).To(Equal(1.0))
		Expect(metricValue(c.Registry(), "cxxrtl_pending_commands")).To(Equal(0.0))
	})

	It("should panic when issuing commands after close", func() {
		c.Close()

		Eventually(c.Done()).Should(BeClosed())
		Expect(c.Err()).NotTo(HaveOccurred())
		Expect(func() { c.Pause() }).To(Panic())
	})

	It("should stop when the simulator goes away", func() {
		Eventually(c.ServerGreeting).ShouldNot(BeNil())

		sim.Hold()
		c.Scopes()
		Eventually(func() int {
			return countCommands(sim, protocol.CmdListScopes)
		}).Should(Equal(1))

		Expect(sim.Close()).To(Succeed())

		Eventually(c.Done()).Should(BeClosed())
		Expect(func() { c.Pause() }).To(Panic())
	})
})

var _ = Describe("Container with a tracer", func() {
	It("should trace command round trips", func() {
		_, conn := fakesim.Pipe(testDesign())
		tracer := tracing.NewAverageTimeTracer(
			tracing.WallClock{}, tracing.KindIs(TaskKind))

		c, err := MakeBuilder().
			WithName("Sim").
			WithTracer(tracer).
			WithIDGenerator(idgen.NewSequential()).
			Connect(context.Background(), conn)
		Expect(err).NotTo(HaveOccurred())
		defer c.Close()

		c.Scopes()
		c.VariableMeta(r0)

		Eventually(tracer.TotalCount).Should(Equal(uint64(2)))
		Expect(tracer.InflightCount()).To(Equal(0))
		Expect(c.NumHooks()).To(Equal(1))
	})
})

type failingConn struct {
	closed bool
}

func (f *failingConn) Read([]byte) (int, error) { return 0, errors.New("no") }

func (f *failingConn) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func (f *failingConn) Close() error {
	f.closed = true
	return nil
}

var _ = Describe("Connecting", func() {
	It("should fail when the greeting cannot be written", func() {
		conn := &failingConn{}

		c, err := MakeBuilder().Connect(context.Background(), conn)

		Expect(err).To(MatchError(ContainSubstring("broken pipe")))
		Expect(c).To(BeNil())
		Expect(conn.closed).To(BeTrue())
	})

	It("should fail when the context is already done", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := MakeBuilder().Connect(ctx, &failingConn{})

		Expect(err).To(MatchError(context.Canceled))
	})

	It("should fail when nothing listens", func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr := listener.Addr().String()
		listener.Close()

		_, err = MakeBuilder().ConnectTCP(context.Background(), addr)

		Expect(err).To(MatchError(ContainSubstring(addr)))
	})

	It("should connect over TCP", func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer listener.Close()

		sim := fakesim.New(testDesign())
		go func() {
			conn, err := listener.Accept()
			if err == nil {
				sim.Serve(conn)
			}
		}()

		c, err := MakeBuilder().ConnectTCP(context.Background(), listener.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		defer c.Close()

		Eventually(c.Modules).Should(HaveLen(4))
	})

	It("should fail to spawn a missing binary", func() {
		_, err := MakeBuilder().SpawnStdio(context.Background(),
			"/nonexistent/cxxrtl-simulator")

		Expect(err).To(MatchError(ContainSubstring("failed to spawn")))
	})
})

// stalledSimulator reads the greeting and then stops reading until drain is
// called.
type stalledSimulator struct {
	conn net.Conn
}

func newStalledSimulator() (*stalledSimulator, net.Conn) {
	server, client := net.Pipe()
	s := &stalledSimulator{conn: server}

	go func() {
		defer GinkgoRecover()

		_, err := protocol.NewFrameReader(server).ReadFrame()
		Expect(err).NotTo(HaveOccurred())
	}()

	return s, client
}

func (s *stalledSimulator) drain() {
	go io.Copy(io.Discard, s.conn)
}

var _ = Describe("Command channel", func() {
	It("should block callers while the channel is full", func() {
		sim, conn := newStalledSimulator()
		defer sim.conn.Close()

		c, err := MakeBuilder().
			WithChannelCapacity(1).
			Connect(context.Background(), conn)
		Expect(err).NotTo(HaveOccurred())
		defer c.Close()

		var returned atomic.Int32
		go func() {
			for i := 0; i < 3; i++ {
				c.Pause()
				returned.Add(1)
			}
		}()

		// One command is stuck in the write, one fills the channel.
		Eventually(returned.Load).Should(Equal(int32(2)))
		Consistently(returned.Load, 100*time.Millisecond).Should(Equal(int32(2)))

		sim.drain()

		Eventually(returned.Load).Should(Equal(int32(3)))
	})
})

type deadlineRefusingConn struct {
	net.Conn
}

func (deadlineRefusingConn) SetWriteDeadline(time.Time) error {
	return errors.New("deadlines not supported")
}

var _ = Describe("Greeting deadline", func() {
	var (
		logs  *test.Hook
		level logrus.Level
	)

	BeforeEach(func() {
		level = logrus.GetLevel()
		logrus.SetLevel(logrus.DebugLevel)
		logs = test.NewGlobal()
	})

	AfterEach(func() {
		logrus.SetLevel(level)
		logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	})

	It("should log a deadline that cannot be set and still connect", func() {
		_, conn := fakesim.Pipe(testDesign())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		c, err := MakeBuilder().Connect(ctx, deadlineRefusingConn{conn})
		Expect(err).NotTo(HaveOccurred())
		defer c.Close()

		Eventually(c.ServerGreeting).ShouldNot(BeNil())

		messages := []string{}
		for _, e := range logs.AllEntries() {
			messages = append(messages, e.Message)
		}
		Expect(messages).To(ContainElements(
			"setting greeting write deadline",
			"clearing greeting write deadline",
		))
	})
})
