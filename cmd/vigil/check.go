package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/vigil/internal/collector"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/monitor"
	"github.com/steveyegge/vigil/internal/types"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single local cycle and exit non-zero when health is below adequate",
	Long: `Run one monitoring cycle in-process, without a daemon, and print the
resulting state. Recovery actions are dispatched with the default handlers.

Exit status is 1 when the composite status is below "adequate" or the
pipeline failed, which makes the command usable as a health check.`,
	Run: func(cmd *cobra.Command, args []string) {
		diskPath, _ := cmd.Flags().GetString("disk")
		quiet, _ := cmd.Flags().GetBool("quiet")

		state, err := runCheck(cmd.Context(), diskPath)
		if state == nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if !quiet {
			fmt.Println()
			printState(os.Stdout, state)
			fmt.Println()
		}
		if err != nil {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(os.Stderr, "%s %v\n", red("Pipeline failure:"), err)
			os.Exit(1)
		}
		if !healthy(state) {
			os.Exit(1)
		}
	},
}

func init() {
	checkCmd.Flags().String("disk", "/", "Filesystem whose usage feeds the disk dimension")
	checkCmd.Flags().BoolP("quiet", "q", false, "Only set the exit status")
	rootCmd.AddCommand(checkCmd)
}

// runCheck runs one in-process cycle against the host source. A fallback
// state is returned together with its pipeline error.
func runCheck(ctx context.Context, diskPath string) (*types.CompositeState, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger("warn", logFormat)
	if err != nil {
		return nil, err
	}
	defer func() { _ = logger.Sync() }()

	c := collector.New(logger)
	if err := c.Register(collector.NewHostSource(diskPath)); err != nil {
		return nil, err
	}

	m, err := monitor.New(monitor.Deps{
		Config:    cfg,
		Collector: c,
		Sink:      events.NewLogSink(logger),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	state, err := m.RunCycle(ctx)
	if err != nil && !errors.Is(err, monitor.ErrPipeline) {
		return nil, err
	}
	return state, err
}

// healthy reports whether a state passes the health check
func healthy(state *types.CompositeState) bool {
	return state != nil && !state.Emergency && state.Status >= types.StatusAdequate
}
