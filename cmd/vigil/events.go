package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/storage/sqlite"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show events from the journal",
	Long: `Display recent monitor events from the journal and optionally follow
new ones as they are written. Reads the journal file directly, so it works
whether or not the daemon is running.`,
	Run: func(cmd *cobra.Command, args []string) {
		follow, _ := cmd.Flags().GetBool("follow")
		limit, _ := cmd.Flags().GetInt("limit")
		eventType, _ := cmd.Flags().GetString("type")
		severity, _ := cmd.Flags().GetString("severity")
		dimension, _ := cmd.Flags().GetString("dimension")

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		journal, err := sqlite.New(cfg.Journal.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = journal.Close() }()

		filter := sqlite.EventFilter{
			Type:      events.EventType(eventType),
			Severity:  events.EventSeverity(severity),
			Dimension: dimension,
			Limit:     limit,
		}

		ctx := context.Background()
		if follow {
			runEventsFollow(ctx, journal, filter)
		} else {
			runEventsOnce(ctx, journal, filter)
		}
	},
}

func init() {
	eventsCmd.Flags().BoolP("follow", "f", false, "Follow mode - watch for new events (Ctrl+C to stop)")
	eventsCmd.Flags().IntP("limit", "n", 20, "Number of recent events to show initially")
	eventsCmd.Flags().StringP("type", "t", "", "Only show events of this type")
	eventsCmd.Flags().StringP("severity", "s", "", "Only show events of this severity")
	eventsCmd.Flags().StringP("dimension", "d", "", "Only show events for this dimension")
	rootCmd.AddCommand(eventsCmd)
}

// runEventsOnce prints matching events oldest first and exits
func runEventsOnce(ctx context.Context, journal *sqlite.Journal, filter sqlite.EventFilter) {
	evts, err := journal.Query(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching events: %v\n", err)
		os.Exit(1)
	}
	if len(evts) == 0 {
		fmt.Printf("\n%s No events found\n\n", color.New(color.FgYellow).Sprint("•"))
		return
	}
	// Query returns newest first
	for i := len(evts) - 1; i >= 0; i-- {
		displayEvent(os.Stdout, evts[i])
	}
}

// runEventsFollow prints the initial window then polls for newer events
func runEventsFollow(ctx context.Context, journal *sqlite.Journal, filter sqlite.EventFilter) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Printf("\n%s Following journal (Ctrl+C to stop)...\n\n", cyan("»"))

	evts, err := journal.Query(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching events: %v\n", err)
		os.Exit(1)
	}
	for i := len(evts) - 1; i >= 0; i-- {
		displayEvent(os.Stdout, evts[i])
	}

	var last time.Time
	if len(evts) > 0 {
		last = evts[0].Timestamp
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			fmt.Println("\nStopped following")
			return
		case <-ticker.C:
			next := filter
			next.AfterTime = last
			next.Limit = 100
			newEvents, err := journal.Query(ctx, next)
			if err != nil {
				fmt.Fprintf(os.Stderr, "\nError fetching new events: %v\n", err)
				continue
			}
			for i := len(newEvents) - 1; i >= 0; i-- {
				displayEvent(os.Stdout, newEvents[i])
				if newEvents[i].Timestamp.After(last) {
					last = newEvents[i].Timestamp
				}
			}
		}
	}
}
