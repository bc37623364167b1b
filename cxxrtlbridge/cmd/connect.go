package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/cxxrtlbridge/config"
	"github.com/sarchlab/cxxrtlbridge/cxxrtl"
	"github.com/sarchlab/cxxrtlbridge/datarecording"
	"github.com/sarchlab/cxxrtlbridge/hooking"
	"github.com/sarchlab/cxxrtlbridge/idgen"
	"github.com/sarchlab/cxxrtlbridge/monitoring"
	"github.com/sarchlab/cxxrtlbridge/notify"
	"github.com/sarchlab/cxxrtlbridge/tracing"
)

var connectCmd = &cobra.Command{
	Use:   "connect [--tcp addr | --exec binary] [-- args...]",
	Short: "Connect to a simulator and serve the monitoring page.",
	Long: "`connect` keeps a connection to the simulator open until " +
		"interrupted. It loads the variables given with --load, records " +
		"command traces and status changes with --record and publishes " +
		"notifications with --mqtt-broker.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd, args)
		if err != nil {
			logrus.Errorf("Error: %v", err)
			atexit.Exit(1)
		}

		atexit.Exit(runConnect(cmd.Context(), cfg))
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
	addConnectFlags(connectCmd)
}

func addConnectFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int("monitor-port", 0, "port of the monitoring server, 0 for random")
	flags.Bool("open-browser", false, "open the monitoring page in a browser")
	flags.String("record", "", "SQLite file to record traces and status into")
	flags.String("mqtt-broker", "", "MQTT broker to publish notifications to")
	flags.String("mqtt-topic", "", "topic prefix of the MQTT notifications")
	flags.StringSlice("load", nil, "variables to load, as top.cpu.r0")
}

// runConnect returns the exit code of the connect command.
func runConnect(ctx context.Context, cfg config.Config) int {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	vars, err := parseVariables(cfg.Load)
	if err != nil {
		logrus.Errorf("Error: %v", err)
		return 1
	}

	builder := builderFor(cfg)
	notifiers := []notify.Notifier{}

	latency := tracing.NewAverageTimeTracer(
		tracing.WallClock{}, tracing.KindIs(cxxrtl.TaskKind))
	builder = builder.WithTracer(latency)

	if cfg.Record != "" {
		recorder := datarecording.New(cfg.Record)
		notifiers = append(notifiers, datarecording.NewStatusRecorder(recorder))
		builder = builder.WithTracer(
			tracing.NewDBTracer(tracing.WallClock{}, recorder))
	}

	if cfg.MQTT.Broker != "" {
		mqttNotifier, err := notify.DialMQTT(
			cfg.MQTT.Broker,
			"cxxrtlbridge-"+idgen.NewParallel().Generate(),
			cfg.MQTT.Topic,
		)
		if err != nil {
			logrus.Errorf("Error: %v", err)
			return 1
		}

		atexit.Register(mqttNotifier.Close)
		notifiers = append(notifiers, mqttNotifier)
	}

	c, err := connect(ctx, cfg, builder.WithNotifier(notify.Fanout(notifiers...)))
	if err != nil {
		logrus.Errorf("Error: %v", err)
		return 1
	}
	defer c.Close()

	c.AcceptHook(hooking.NewLogHook(logrus.StandardLogger(), logrus.TraceLevel))

	if len(vars) > 0 {
		c.LoadVariables(vars...)
	}

	monitor := monitoring.NewMonitor().
		WithPortNumber(cfg.MonitorPort).
		WithBrowser(cfg.OpenBrowser)
	monitor.RegisterSimulator(c)
	monitor.StartServer()

	code := 0

	select {
	case <-ctx.Done():
		logrus.Info("interrupted, disconnecting")
	case <-c.Done():
		if err := c.Err(); err != nil {
			logrus.Errorf("simulator connection failed: %v", err)
			code = 1
		} else {
			logrus.Info("simulator closed the connection")
		}
	}

	logrus.WithFields(logrus.Fields{
		"commands":           latency.TotalCount(),
		"average_round_trip": latency.AverageTime(),
	}).Info("session finished")

	return code
}
