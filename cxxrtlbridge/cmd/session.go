package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/cxxrtlbridge/config"
	"github.com/sarchlab/cxxrtlbridge/cxxrtl"
	"github.com/sarchlab/cxxrtlbridge/naming"
	"github.com/sarchlab/cxxrtlbridge/timestamp"
)

// loadConfig reads the configuration and lets the command-line flags that
// were given override it. Positional arguments become the arguments of the
// spawned simulator.
func loadConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	flags := cmd.Flags()

	path, _ := flags.GetString("config")
	envFile, _ := flags.GetString("env-file")

	cfg, err := config.Load(path, envFile)
	if err != nil {
		return config.Config{}, err
	}

	strs := map[string]*string{
		"tcp":         &cfg.TCP,
		"exec":        &cfg.Exec,
		"log-level":   &cfg.LogLevel,
		"record":      &cfg.Record,
		"mqtt-broker": &cfg.MQTT.Broker,
		"mqtt-topic":  &cfg.MQTT.Topic,
	}
	for name, field := range strs {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*field, _ = flags.GetString(name)
		}
	}

	if flags.Changed("channel-capacity") {
		cfg.ChannelCapacity, _ = flags.GetInt("channel-capacity")
	}

	if flags.Changed("run-quantum") {
		cfg.RunQuantumFs, _ = flags.GetUint64("run-quantum")
	}

	if flags.Lookup("monitor-port") != nil && flags.Changed("monitor-port") {
		cfg.MonitorPort, _ = flags.GetInt("monitor-port")
	}

	if flags.Lookup("open-browser") != nil && flags.Changed("open-browser") {
		cfg.OpenBrowser, _ = flags.GetBool("open-browser")
	}

	if flags.Lookup("load") != nil && flags.Changed("load") {
		cfg.Load, _ = flags.GetStringSlice("load")
	}

	if len(args) > 0 {
		cfg.ExecArgs = args
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	level, _ := cfg.Level()
	logrus.SetLevel(level)

	return cfg, nil
}

func builderFor(cfg config.Config) cxxrtl.Builder {
	return cxxrtl.MakeBuilder().
		WithChannelCapacity(cfg.ChannelCapacity).
		WithRunQuantum(timestamp.FromFemtosecondsUint64(cfg.RunQuantumFs))
}

func connect(
	ctx context.Context,
	cfg config.Config,
	builder cxxrtl.Builder,
) (*cxxrtl.Container, error) {
	if cfg.TCP != "" {
		return builder.ConnectTCP(ctx, cfg.TCP)
	}

	return builder.SpawnStdio(ctx, cfg.Exec, cfg.ExecArgs...)
}

func parseVariables(names []string) ([]naming.VariableRef, error) {
	vars := make([]naming.VariableRef, 0, len(names))

	for _, name := range names {
		v, err := naming.ParseDisplayName(name)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}

		vars = append(vars, v)
	}

	return vars, nil
}
