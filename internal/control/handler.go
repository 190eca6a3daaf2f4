package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/types"
)

// Monitor is the part of the monitor engine the socket exposes
type Monitor interface {
	CurrentState() *types.CompositeState
	Metrics() map[string]float64
	History(n int) []*types.CompositeState
	Configuration() *config.Configuration
	UpdateConfiguration(cfg *config.Configuration, origin string) error
	RunCycle(ctx context.Context) (*types.CompositeState, error)
	Pause()
	Resume()
	IsPaused() bool
}

// defaultHistoryLimit applies when a history command carries no limit
const defaultHistoryLimit = 20

// NewHandler routes commands to m
func NewHandler(m Monitor) CommandFunc {
	return func(ctx context.Context, cmd Command) (map[string]interface{}, error) {
		switch cmd.Type {
		case CmdStatus:
			return map[string]interface{}{
				"state":   m.CurrentState(),
				"paused":  m.IsPaused(),
				"metrics": m.Metrics(),
			}, nil

		case CmdMetrics:
			return map[string]interface{}{"metrics": m.Metrics()}, nil

		case CmdHistory:
			limit := cmd.Limit
			if limit <= 0 {
				limit = defaultHistoryLimit
			}
			return map[string]interface{}{"states": m.History(limit)}, nil

		case CmdConfig:
			cfg := m.Configuration()
			cfg.API.Token = ""
			data, err := cfg.Marshal()
			if err != nil {
				return nil, fmt.Errorf("failed to marshal config: %w", err)
			}
			return map[string]interface{}{"config": string(data)}, nil

		case CmdUpdateConfig:
			if cmd.Config == "" {
				return nil, fmt.Errorf("update_config requires a config document")
			}
			cfg, err := config.Parse([]byte(cmd.Config))
			if err != nil {
				return nil, err
			}
			if cfg.API.Token == "" {
				cfg.API.Token = m.Configuration().API.Token
			}
			if err := m.UpdateConfiguration(cfg, "socket"); err != nil {
				return nil, err
			}
			return map[string]interface{}{"updated": true}, nil

		case CmdPause:
			m.Pause()
			return map[string]interface{}{"paused": true, "reason": cmd.Reason}, nil

		case CmdResume:
			m.Resume()
			return map[string]interface{}{"paused": false}, nil

		case CmdCycle:
			// a cycle requested during shutdown still completes
			state, err := m.RunCycle(context.WithoutCancel(ctx))
			data := map[string]interface{}{"state": state}
			if err != nil {
				// the fallback state was still published
				data["pipeline_error"] = err.Error()
			}
			return data, nil

		default:
			return nil, errors.New("unknown command: " + cmd.Type)
		}
	}
}
