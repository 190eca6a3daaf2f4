// Package detect turns dimension scores into challenges and proposes the
// recovery actions for each one.
package detect

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/types"
)

// defaultActions maps a challenge kind to the action proposed when the
// dimension table names none
var defaultActions = map[types.ChallengeKind]string{
	types.KindDimensionDegraded: types.ActionComprehensiveRecovery,
	types.KindStateDesync:       types.ActionEmergencyStabilization,
}

// DefaultAction returns the fallback action type for a challenge kind
func DefaultAction(kind types.ChallengeKind) string {
	if a, ok := defaultActions[kind]; ok {
		return a
	}
	return types.ActionComprehensiveRecovery
}

// Priority maps severity to action priority (0 is most urgent)
func Priority(sev types.Severity) int {
	switch sev {
	case types.SeverityCritical:
		return 0
	case types.SeveritySignificant:
		return 1
	case types.SeverityModerate:
		return 2
	default:
		return 3
	}
}

// Detect emits one challenge per dimension scoring below the minimum
// threshold, ordered by dimension name. Minor and moderate severities are
// never produced.
func Detect(scores map[string]float64, cfg *config.Configuration, now time.Time) []types.Challenge {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	var challenges []types.Challenge
	for _, name := range names {
		score := scores[name]
		sev, ok := cfg.SeverityFor(score)
		if !ok {
			continue
		}

		threshold := cfg.MinimumThreshold
		if sev == types.SeverityCritical {
			threshold = cfg.CriticalThreshold
		}

		c := types.Challenge{
			ID:          uuid.New().String(),
			Kind:        types.KindDimensionDegraded,
			Dimensions:  []string{name},
			Severity:    sev,
			Description: fmt.Sprintf("%s at %.3f is below the %s threshold %.2f", name, score, sev, threshold),
			DetectedAt:  now,
			Score:       score,
			Threshold:   threshold,
		}
		c.Actions = ProposeActions(c, cfg)
		challenges = append(challenges, c)
	}
	return challenges
}

// ProposeActions builds the recovery actions for a challenge from the
// dimension table, falling back to the kind's default action
func ProposeActions(c types.Challenge, cfg *config.Configuration) []types.RecoveryAction {
	var dimension string
	var actionTypes []string
	if len(c.Dimensions) > 0 {
		dimension = c.Dimensions[0]
		if d, ok := cfg.Dimension(dimension); ok {
			actionTypes = d.Actions
		}
	}
	if len(actionTypes) == 0 {
		actionTypes = []string{DefaultAction(c.Kind)}
	}

	actions := make([]types.RecoveryAction, 0, len(actionTypes))
	for _, t := range actionTypes {
		desc := fmt.Sprintf("%s for %s", t, c.Kind)
		if dimension != "" {
			desc = fmt.Sprintf("%s for dimension %s", t, dimension)
		}
		actions = append(actions, types.RecoveryAction{
			ID:                uuid.New().String(),
			Type:              t,
			Description:       desc,
			Priority:          Priority(c.Severity),
			EstimatedDuration: cfg.ActionDuration(t),
			Dimension:         dimension,
			ChallengeID:       c.ID,
			Parameters: map[string]interface{}{
				"dimension": dimension,
				"score":     c.Score,
				"threshold": c.Threshold,
				"severity":  string(c.Severity),
			},
		})
	}
	return actions
}

// Desync builds the critical challenge attached to an emergency fallback state
func Desync(cause error, cfg *config.Configuration, now time.Time) types.Challenge {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	c := types.Challenge{
		ID:          uuid.New().String(),
		Kind:        types.KindStateDesync,
		Severity:    types.SeverityCritical,
		Description: fmt.Sprintf("state desynchronization: %s", reason),
		DetectedAt:  now,
		Score:       0.5,
		Threshold:   cfg.CriticalThreshold,
	}
	c.Actions = ProposeActions(c, cfg)
	return c
}

// Actions flattens the proposed actions of challenges, most urgent first.
// The sort is stable so equal priorities keep detection order.
func Actions(challenges []types.Challenge) []types.RecoveryAction {
	var actions []types.RecoveryAction
	for _, c := range challenges {
		actions = append(actions, c.Actions...)
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority < actions[j].Priority
	})
	return actions
}
