package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/cxxrtlbridge/cxxrtl"
	"github.com/sarchlab/cxxrtlbridge/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status [--tcp addr | --exec binary] [-- args...]",
	Short: "Print the status, scopes and items of a simulation.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd, args)
		if err != nil {
			logrus.Fatalf("Error: %v", err)
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		c, err := connect(ctx, cfg, builderFor(cfg))
		if err != nil {
			logrus.Fatalf("Error: %v", err)
		}
		defer c.Close()

		if err := printStatus(ctx, os.Stdout, c, 20*time.Millisecond); err != nil {
			logrus.Fatalf("Error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Duration("timeout", 5*time.Second,
		"how long to wait for the simulator to answer")
}

// statusSource is the part of the container that status reads.
type statusSource interface {
	RawSimulationStatus() (protocol.SimulationStatus, bool)
	Scopes() cxxrtl.ScopeTable
	Items() cxxrtl.ItemTable
}

var errNotAnswered = errors.New("simulator did not answer in time")

// printStatus polls until the status, scopes and items are known, then
// writes them to w.
func printStatus(
	ctx context.Context,
	w io.Writer,
	c statusSource,
	interval time.Duration,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, ok := c.RawSimulationStatus()
		scopes := c.Scopes()
		items := c.Items()

		if ok && scopes != nil && items != nil {
			writeStatus(w, status, scopes, items)
			return nil
		}

		select {
		case <-ctx.Done():
			return errNotAnswered
		case <-ticker.C:
		}
	}
}

func writeStatus(
	w io.Writer,
	status protocol.SimulationStatus,
	scopes cxxrtl.ScopeTable,
	items cxxrtl.ItemTable,
) {
	fmt.Fprintf(w, "status: %s\n", status.Status)
	fmt.Fprintf(w, "latest time: %s\n", status.LatestTime)

	if status.NextSampleTime != nil {
		fmt.Fprintf(w, "next sample time: %s\n", status.NextSampleTime)
	}

	scopeNames := make([]string, 0, len(scopes))
	for s := range scopes {
		scopeNames = append(scopeNames, s.String())
	}
	sort.Strings(scopeNames)

	fmt.Fprintf(w, "scopes (%d):\n", len(scopeNames))
	for _, name := range scopeNames {
		if name == "" {
			name = "<root>"
		}

		fmt.Fprintf(w, "  %s\n", name)
	}

	itemNames := make([]string, 0, len(items))
	widths := make(map[string]uint32, len(items))
	for v, item := range items {
		itemNames = append(itemNames, v.String())
		widths[v.String()] = item.Width
	}
	sort.Strings(itemNames)

	fmt.Fprintf(w, "items (%d):\n", len(itemNames))
	for _, name := range itemNames {
		fmt.Fprintf(w, "  %s [%d]\n", name, widths[name])
	}
}
