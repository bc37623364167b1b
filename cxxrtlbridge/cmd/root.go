// Package cmd provides the command-line interface of cxxrtlbridge.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cxxrtlbridge",
	Short: "cxxrtlbridge connects to a CXXRTL simulation and inspects it.",
	Long: `cxxrtlbridge connects to a simulator speaking the CXXRTL debug ` +
		`protocol, over TCP or the standard streams of a spawned process. ` +
		`It can serve a monitoring page, record traces and status changes, ` +
		`and publish notifications over MQTT.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	addConfigFlags(rootCmd)
}

// addConfigFlags adds the flags shared by every subcommand.
func addConfigFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "YAML configuration file")
	flags.String("env-file", ".env", "file with CXXRTL_* variables to load")
	flags.String("tcp", "", "address of a simulator listening on TCP")
	flags.String("exec", "", "simulator binary to spawn; arguments follow --")
	flags.Int("channel-capacity", 0, "capacity of the command channel")
	flags.Uint64("run-quantum", 0, "femtoseconds to run on each continue")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
}
