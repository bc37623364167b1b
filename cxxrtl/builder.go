package cxxrtl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/cxxrtlbridge/hooking"
	"github.com/sarchlab/cxxrtlbridge/idgen"
	"github.com/sarchlab/cxxrtlbridge/notify"
	"github.com/sarchlab/cxxrtlbridge/protocol"
	"github.com/sarchlab/cxxrtlbridge/timestamp"
	"github.com/sarchlab/cxxrtlbridge/tracing"
)

// Defaults of a Builder.
const (
	DefaultChannelCapacity = 100
	DefaultRunQuantumFs    = 100_000_000
)

// Builder can build Containers.
type Builder struct {
	name            string
	notifier        notify.Notifier
	channelCapacity int
	runQuantum      timestamp.Timestamp
	registry        *prometheus.Registry
	tracers         []tracing.Tracer
	idGen           idgen.Generator
}

// MakeBuilder returns a new Builder
func MakeBuilder() Builder {
	return Builder{
		name:            "CXXRTL",
		notifier:        notify.Nop(),
		channelCapacity: DefaultChannelCapacity,
		runQuantum:      timestamp.FromFemtosecondsUint64(DefaultRunQuantumFs),
	}
}

// WithName sets the name of the container, used as the location of traced
// tasks.
func (b Builder) WithName(name string) Builder {
	b.name = name
	return b
}

// WithNotifier sets who is told when cached data changes.
func (b Builder) WithNotifier(n notify.Notifier) Builder {
	b.notifier = n
	return b
}

// WithChannelCapacity sets how many commands can be queued before issuing
// another one blocks.
func (b Builder) WithChannelCapacity(capacity int) Builder {
	b.channelCapacity = capacity
	return b
}

// WithRunQuantum sets how far Unpause runs the simulation.
func (b Builder) WithRunQuantum(quantum timestamp.Timestamp) Builder {
	b.runQuantum = quantum
	return b
}

// WithRegistry sets the registry that the metrics of the container are
// registered to. By default each container has its own registry.
func (b Builder) WithRegistry(registry *prometheus.Registry) Builder {
	b.registry = registry
	return b
}

// WithTracer adds a tracer that collects a task for every command.
func (b Builder) WithTracer(t tracing.Tracer) Builder {
	b.tracers = append(b.tracers[:len(b.tracers):len(b.tracers)], t)
	return b
}

// WithIDGenerator sets the generator of trace task IDs.
func (b Builder) WithIDGenerator(g idgen.Generator) Builder {
	b.idGen = g
	return b
}

// ConnectTCP connects to a simulator listening on addr.
func (b Builder) ConnectTCP(ctx context.Context, addr string) (*Container, error) {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	return b.Connect(ctx, conn)
}

// SpawnStdio starts the simulator binary and talks to it over its standard
// input and output. Its standard error is copied to the log.
func (b Builder) SpawnStdio(
	ctx context.Context,
	binary string,
	args ...string,
) (*Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", binary, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", binary, err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", binary, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", binary, err)
	}

	go forwardStderr(binary, stderr)

	return b.Connect(ctx, &processConn{
		Reader: stdout,
		stdin:  stdin,
		cmd:    cmd,
	})
}

func forwardStderr(binary string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logrus.WithField("simulator", binary).Info(scanner.Text())
	}
}

type processConn struct {
	io.Reader
	stdin io.WriteCloser
	cmd   *exec.Cmd
}

func (p *processConn) Write(data []byte) (int, error) {
	return p.stdin.Write(data)
}

func (p *processConn) Close() error {
	err := p.stdin.Close()

	if killErr := p.cmd.Process.Kill(); killErr != nil {
		logrus.WithError(killErr).Debug("killing simulator")
	}

	if waitErr := p.cmd.Wait(); waitErr != nil {
		logrus.WithError(waitErr).Debug("simulator exited")
	}

	return err
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Connect greets the simulator on conn and starts exchanging commands. If
// the greeting cannot be written, conn is closed and the error returned.
func (b Builder) Connect(
	ctx context.Context,
	conn io.ReadWriteCloser,
) (*Container, error) {
	if b.channelCapacity <= 0 {
		logrus.Panicf("channel capacity must be positive, got %d",
			b.channelCapacity)
	}

	writer := protocol.NewFrameWriter(conn)

	if err := greet(ctx, conn, writer); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to greet simulator: %w", err)
	}

	registry := b.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	idGen := b.idGen
	if idGen == nil {
		idGen = idgen.Get()
	}

	c := &Container{
		HookableBase: hooking.NewHookableBase(),
		name:         b.name,
		data:         newData(b.notifier),
		runQuantum:   b.runQuantum,
		registry:     registry,
		idGen:        idGen,
		order:        newSubmitOrder(),
	}

	c.worker = &worker{
		domain:    c,
		reader:    protocol.NewFrameReader(conn),
		writer:    writer,
		transport: conn,
		requests:  make(chan request, b.channelCapacity),
		dataLock:  &c.lock,
		data:      c.data,
		metrics:   newMetrics(registry),
		done:      make(chan struct{}),
	}

	for _, t := range b.tracers {
		tracing.CollectTrace(c, t)
	}

	c.worker.start()

	logrus.WithField("name", b.name).Info("cxxrtl connected")

	return c, nil
}

func greet(ctx context.Context, conn io.Writer, writer *protocol.FrameWriter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if d, ok := conn.(writeDeadliner); ok {
		if deadline, ok := ctx.Deadline(); ok {
			if err := d.SetWriteDeadline(deadline); err != nil {
				logrus.WithError(err).Debug("setting greeting write deadline")
			}

			defer func() {
				if err := d.SetWriteDeadline(time.Time{}); err != nil {
					logrus.WithError(err).Debug("clearing greeting write deadline")
				}
			}()
		}
	}

	payload, err := protocol.EncodeClientMessage(
		protocol.Greeting{Version: protocol.Version})
	if err != nil {
		return err
	}

	logrus.Tracef("sending greeting %s", payload)

	return writer.WriteFrame(payload)
}
