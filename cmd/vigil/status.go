package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/vigil/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current composite state of a running monitor",
	Run: func(cmd *cobra.Command, args []string) {
		showMetrics, _ := cmd.Flags().GetBool("metrics")

		client := control.NewClient(resolveSocket())
		status, err := client.Status()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "Is the monitor running? Start it with 'vigil run'\n")
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n", cyan("=== Vigil Status ==="))
		if status.Paused {
			fmt.Printf("  %s\n", color.New(color.FgYellow).Sprint("⏸ Monitoring is paused"))
		}
		fmt.Println()
		printState(os.Stdout, status.State)

		if showMetrics && len(status.Metrics) > 0 {
			fmt.Println()
			fmt.Printf("%s\n", color.New(color.FgYellow).Sprint("Metrics:"))
			for _, name := range sortedKeys(status.Metrics) {
				fmt.Printf("  %-28s %g\n", name, status.Metrics[name])
			}
		}
		fmt.Println()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent composite states",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		states, err := control.NewClient(resolveSocket()).History(limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(states) == 0 {
			fmt.Println("No history yet")
			return
		}

		gray := color.New(color.FgHiBlack)
		for _, s := range states {
			marker := ""
			if s.Emergency {
				marker = color.New(color.FgRed).Sprint(" (fallback)")
			}
			fmt.Printf("%s  %s %s  %-16s challenges=%d%s\n",
				gray.Sprint(s.Timestamp.Local().Format("15:04:05")),
				bar(s.Composite, 20),
				statusColor(s.Status).Sprintf("%.3f", s.Composite),
				s.Status,
				len(s.Challenges),
				marker,
			)
		}
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause monitoring cycles",
	Long: `Pause the monitoring loop. The current state stays available and
cycles resume with 'vigil resume'. A manual 'vigil cycle' still runs.`,
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")

		if err := control.NewClient(resolveSocket()).Pause(reason); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Monitoring paused\n", green("✓"))
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume monitoring cycles after a pause",
	Run: func(cmd *cobra.Command, args []string) {
		if err := control.NewClient(resolveSocket()).Resume(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Monitoring resumed\n", green("✓"))
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one monitoring cycle now and print the result",
	Run: func(cmd *cobra.Command, args []string) {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		client := control.NewClient(resolveSocket())
		client.SetTimeout(timeout)
		result, err := client.Cycle()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Println()
		printState(os.Stdout, result.State)
		if result.PipelineError != "" {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("\n%s %s\n", red("Pipeline error:"), result.PipelineError)
		}
		fmt.Println()
	},
}

func init() {
	statusCmd.Flags().BoolP("metrics", "m", false, "Also print monitor metrics")
	historyCmd.Flags().IntP("limit", "n", 20, "Number of states to show")
	pauseCmd.Flags().String("reason", "", "Reason recorded with the pause")
	cycleCmd.Flags().Duration("timeout", 3*time.Minute, "How long to wait for the cycle")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cycleCmd)
}
