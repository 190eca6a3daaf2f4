package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/events"
)

// regularSeverities expire after the regular retention period; the rest
// are kept for the critical retention period and survive the global limit
var (
	regularSeverities  = []string{string(events.SeverityInfo), string(events.SeverityWarning)}
	criticalSeverities = []string{string(events.SeverityError), string(events.SeverityCritical)}
)

// EventCounts holds journal statistics
type EventCounts struct {
	TotalEvents      int
	EventsBySeverity map[string]int
	EventsByType     map[string]int
}

// CleanupByAge deletes regular events older than retention and error or
// critical events older than criticalRetention, batchSize rows per statement
func (j *Journal) CleanupByAge(ctx context.Context, retention, criticalRetention time.Duration, batchSize int) (int, error) {
	if retention < 0 || criticalRetention < 0 {
		return 0, fmt.Errorf("retention cannot be negative")
	}
	if batchSize < 1 {
		return 0, fmt.Errorf("batch size must be at least 1")
	}

	now := time.Now()
	totalDeleted := 0

	deleted, err := j.deleteOlderThan(ctx, now.Add(-retention), regularSeverities, batchSize)
	totalDeleted += deleted
	if err != nil {
		return totalDeleted, fmt.Errorf("failed to delete old regular events: %w", err)
	}

	deleted, err = j.deleteOlderThan(ctx, now.Add(-criticalRetention), criticalSeverities, batchSize)
	totalDeleted += deleted
	if err != nil {
		return totalDeleted, fmt.Errorf("failed to delete old critical events: %w", err)
	}

	return totalDeleted, nil
}

func (j *Journal) deleteOlderThan(ctx context.Context, cutoff time.Time, severities []string, batchSize int) (int, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(severities)), ", ")
	query := fmt.Sprintf(`
		DELETE FROM monitor_events
		WHERE id IN (
			SELECT id FROM monitor_events
			WHERE timestamp < ?
			AND severity IN (%s)
			ORDER BY timestamp ASC
			LIMIT ?
		)
	`, placeholders)

	args := []interface{}{cutoff.UTC()}
	for _, sev := range severities {
		args = append(args, sev)
	}
	args = append(args, batchSize)

	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		result, err := j.db.ExecContext(ctx, query, args...)
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to execute delete: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to get rows affected: %w", err)
		}
		totalDeleted += int(rowsAffected)

		if rowsAffected < int64(batchSize) {
			return totalDeleted, nil
		}
	}
}

// CleanupByGlobalLimit deletes the oldest regular events until at most
// globalLimit events remain. Error and critical events are never deleted
// here, so the journal can stay above the limit.
func (j *Journal) CleanupByGlobalLimit(ctx context.Context, globalLimit, batchSize int) (int, error) {
	if globalLimit < 1 {
		return 0, fmt.Errorf("global limit must be at least 1")
	}
	if batchSize < 1 {
		return 0, fmt.Errorf("batch size must be at least 1")
	}

	var currentCount int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM monitor_events").Scan(&currentCount); err != nil {
		return 0, fmt.Errorf("failed to get event count: %w", err)
	}
	if currentCount <= globalLimit {
		return 0, nil
	}

	query := `
		DELETE FROM monitor_events
		WHERE id IN (
			SELECT id FROM monitor_events
			WHERE severity IN (?, ?)
			ORDER BY timestamp ASC
			LIMIT ?
		)
	`

	toDelete := currentCount - globalLimit
	totalDeleted := 0
	for toDelete > 0 {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		limit := min(batchSize, toDelete)
		result, err := j.db.ExecContext(ctx, query, regularSeverities[0], regularSeverities[1], limit)
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to execute delete: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to get rows affected: %w", err)
		}

		totalDeleted += int(rowsAffected)
		toDelete -= int(rowsAffected)

		// fewer than requested means only critical events are left
		if rowsAffected < int64(limit) {
			break
		}
	}
	return totalDeleted, nil
}

// Counts returns journal statistics
func (j *Journal) Counts(ctx context.Context) (*EventCounts, error) {
	counts := &EventCounts{
		EventsBySeverity: make(map[string]int),
		EventsByType:     make(map[string]int),
	}

	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM monitor_events").Scan(&counts.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to get total event count: %w", err)
	}

	for column, target := range map[string]map[string]int{
		"severity": counts.EventsBySeverity,
		"type":     counts.EventsByType,
	} {
		if err := j.countBy(ctx, column, target); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

func (j *Journal) countBy(ctx context.Context, column string, target map[string]int) error {
	rows, err := j.db.QueryContext(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM monitor_events GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("failed to query events by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		target[key] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating %s counts: %w", column, err)
	}
	return nil
}

// Vacuum reclaims disk space after large deletions
func (j *Journal) Vacuum(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}

// RunCleanup applies the retention policy once. The global limit is
// enforced at 95% of the configured value so the journal rarely reaches it.
func (j *Journal) RunCleanup(ctx context.Context, cfg config.JournalConfig) (events.JournalCleanupData, error) {
	start := time.Now()
	var data events.JournalCleanupData

	retention, criticalRetention := cfg.Retention()
	deleted, err := j.CleanupByAge(ctx, retention, criticalRetention, cfg.CleanupBatchSize)
	data.TimeBasedDeleted = deleted
	if err != nil {
		data.EventsDeleted = deleted
		data.ProcessingTimeMs = time.Since(start).Milliseconds()
		data.Error = err.Error()
		return data, fmt.Errorf("time-based cleanup failed: %w", err)
	}

	trigger := int(float64(cfg.GlobalLimitEvents) * 0.95)
	deleted, err = j.CleanupByGlobalLimit(ctx, max(trigger, 1), cfg.CleanupBatchSize)
	data.GlobalLimitDeleted = deleted
	data.EventsDeleted = data.TimeBasedDeleted + data.GlobalLimitDeleted
	if err != nil {
		data.ProcessingTimeMs = time.Since(start).Milliseconds()
		data.Error = err.Error()
		return data, fmt.Errorf("global limit cleanup failed: %w", err)
	}

	if counts, err := j.Counts(ctx); err == nil {
		data.EventsRemaining = counts.TotalEvents
	}
	data.ProcessingTimeMs = time.Since(start).Milliseconds()
	data.Success = true
	return data, nil
}

// CleanupLoop runs RunCleanup immediately and then every
// cfg.CleanupInterval until ctx is cancelled. Each pass is reported to sink.
func (j *Journal) CleanupLoop(ctx context.Context, cfg config.JournalConfig, sink events.Sink, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = events.Nop{}
	}
	logger = logger.Named("journal")

	logger.Info("journal cleanup started",
		zap.Duration("interval", cfg.CleanupInterval),
		zap.Int("retention_days", cfg.RetentionDays),
		zap.Int("global_limit", cfg.GlobalLimitEvents))

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		data, err := j.RunCleanup(ctx, cfg)
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Error("journal cleanup failed", zap.Error(err))
		} else if data.EventsDeleted > 0 {
			logger.Info("journal cleanup deleted events",
				zap.Int("deleted", data.EventsDeleted),
				zap.Int("time_based", data.TimeBasedDeleted),
				zap.Int("global_limit", data.GlobalLimitDeleted),
				zap.Int("remaining", data.EventsRemaining))
		}
		if event, err := events.NewJournalCleanupEvent(data); err == nil {
			if err := sink.Emit(ctx, event); err != nil {
				logger.Warn("failed to emit cleanup event", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
