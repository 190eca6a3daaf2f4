package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/types"
)

// statusColor returns the color for a status band
func statusColor(s types.Status) *color.Color {
	switch {
	case s >= types.StatusGood:
		return color.New(color.FgGreen)
	case s == types.StatusAdequate:
		return color.New(color.FgCyan)
	case s == types.StatusChallenged:
		return color.New(color.FgYellow)
	case s == types.StatusCompromised:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

// getSeverityColor returns the color for an event severity level
func getSeverityColor(severity events.EventSeverity) *color.Color {
	switch severity {
	case events.SeverityInfo:
		return color.New(color.FgCyan)
	case events.SeverityWarning:
		return color.New(color.FgYellow)
	case events.SeverityError:
		return color.New(color.FgRed)
	case events.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgWhite)
	}
}

// getEventIcon picks a marker per event type, falling back to severity
func getEventIcon(event *events.Event) string {
	switch event.Type {
	case events.EventTypeCycleCompleted:
		return "●"
	case events.EventTypeChallengeDetected:
		return "▲"
	case events.EventTypeEmergencyFallback:
		return "‼"
	case events.EventTypeRecoveryCompleted:
		return "✓"
	case events.EventTypeRecoveryFailed, events.EventTypeRecoveryEscalated:
		return "✗"
	case events.EventTypeConfigUpdated, events.EventTypeConfigRejected:
		return "⚙"
	}

	switch event.Severity {
	case events.SeverityWarning:
		return "!"
	case events.SeverityError, events.SeverityCritical:
		return "✗"
	default:
		return "•"
	}
}

// bar renders a score in [0,1] as a fixed-width gauge
func bar(score float64, width int) string {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	filled := int(score*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// truncateString shortens s to max runes, marking the cut with "..."
func truncateString(s string, max int) string {
	r := []rune(s)
	if max <= 3 || len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// sortedKeys returns map keys in lexical order for stable output
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// printState writes a human readable summary of a composite state
func printState(w io.Writer, state *types.CompositeState) {
	if state == nil {
		fmt.Fprintf(w, "  %s\n", color.New(color.FgHiBlack).Sprint("No cycle has completed yet"))
		return
	}

	sc := statusColor(state.Status)
	fmt.Fprintf(w, "  Composite: %s %s\n", sc.Sprintf("%.3f", state.Composite), sc.Sprint(state.Status))
	fmt.Fprintf(w, "  State:     %s (%s cycle at %s)\n", state.ID, state.Cycle, state.Timestamp.Local().Format("2006-01-02 15:04:05"))
	if state.Emergency {
		fmt.Fprintf(w, "  %s\n", color.New(color.FgRed, color.Bold).Sprint("EMERGENCY FALLBACK: scores are placeholders, not measurements"))
	}

	fmt.Fprintln(w)
	yellow := color.New(color.FgYellow)
	fmt.Fprintf(w, "%s\n", yellow.Sprint("Dimensions:"))
	for _, dim := range sortedKeys(state.Dimensions) {
		score := state.Dimensions[dim]
		fmt.Fprintf(w, "  %-12s %s %.3f\n", dim, bar(score, 20), score)
	}

	if len(state.Challenges) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s\n", yellow.Sprint("Challenges:"))
		for _, c := range state.Challenges {
			sev := color.New(color.FgYellow)
			if c.Severity == types.SeverityCritical {
				sev = color.New(color.FgRed, color.Bold)
			}
			fmt.Fprintf(w, "  %s %s\n", sev.Sprintf("[%s]", c.Severity), c.Description)
		}
	}

	if len(state.Processes) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s\n", yellow.Sprint("Recovery:"))
		for _, p := range state.Processes {
			line := fmt.Sprintf("  %-24s %-20s %3.0f%%", p.ActionType, p.Status, p.Progress*100)
			if p.Error != "" {
				line += "  " + truncateString(p.Error, 50)
			}
			fmt.Fprintln(w, line)
		}
	}
}

// displayEvent prints one journal event in the two-line format
func displayEvent(w io.Writer, event *events.Event) {
	timestamp := event.Timestamp.Local().Format("15:04:05")
	eventType := color.New(color.FgMagenta).Sprint(event.Type)
	message := truncateString(event.Message, 72-len(string(event.Type)))

	fmt.Fprintf(w, "%s [%s] %s: %s\n",
		getEventIcon(event),
		timestamp,
		eventType,
		getSeverityColor(event.Severity).Sprint(message),
	)

	if meta := eventMetadata(event); meta != "" {
		fmt.Fprintf(w, "  %s\n", color.New(color.FgHiBlack).Sprint(meta))
	}
}

// eventMetadata extracts a few key fields as a pipe separated line
func eventMetadata(event *events.Event) string {
	var fields []string
	if event.Dimension != "" {
		fields = append(fields, "dimension="+event.Dimension)
	}
	if event.StateID != "" {
		fields = append(fields, "state="+truncateString(event.StateID, 12))
	}

	switch event.Type {
	case events.EventTypeCycleCompleted:
		if d, err := event.GetCycleCompletedData(); err == nil {
			fields = append(fields, fmt.Sprintf("composite=%.3f", d.Composite), "status="+d.Status, fmt.Sprintf("%dms", d.DurationMs))
		}
	case events.EventTypeChallengeDetected:
		if d, err := event.GetChallengeData(); err == nil {
			fields = append(fields, "severity="+d.Severity, fmt.Sprintf("score=%.3f", d.Score))
		}
	case events.EventTypeRecoveryStarted, events.EventTypeRecoveryCompleted, events.EventTypeRecoveryPartial,
		events.EventTypeRecoveryFailed, events.EventTypeRecoveryEscalated:
		if d, err := event.GetRecoveryData(); err == nil {
			fields = append(fields, "action="+d.ActionType)
		}
	case events.EventTypeJournalCleanupCompleted:
		if d, err := event.GetJournalCleanupData(); err == nil {
			fields = append(fields, fmt.Sprintf("deleted=%d", d.EventsDeleted), fmt.Sprintf("remaining=%d", d.EventsRemaining))
		}
	}
	return strings.Join(fields, " | ")
}
