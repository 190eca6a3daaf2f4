package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/steveyegge/vigil/internal/types"
)

// Client sends control commands to a running monitor
type Client struct {
	socketPath string
	timeout    time.Duration
}

// StatusData is the decoded reply to a status command
type StatusData struct {
	State   *types.CompositeState `json:"state"`
	Paused  bool                  `json:"paused"`
	Metrics map[string]float64    `json:"metrics"`
}

// CycleData is the decoded reply to a cycle command
type CycleData struct {
	State         *types.CompositeState `json:"state"`
	PipelineError string                `json:"pipeline_error,omitempty"`
}

// NewClient creates a new control client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    10 * time.Second,
	}
}

// SetTimeout sets the client timeout for commands
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SendCommand sends a command and waits for the response
func (c *Client) SendCommand(cmd Command) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to monitor (is it running?): %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

// call sends cmd and decodes the response data into out (when non-nil)
func (c *Client) call(cmd Command, out interface{}) error {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("failed to re-encode response data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// Status requests the current state
func (c *Client) Status() (*StatusData, error) {
	var out StatusData
	if err := c.call(Command{Type: CmdStatus}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics requests the monitor counters
func (c *Client) Metrics() (map[string]float64, error) {
	var out struct {
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := c.call(Command{Type: CmdMetrics}, &out); err != nil {
		return nil, err
	}
	return out.Metrics, nil
}

// History requests the last limit states, oldest first
func (c *Client) History(limit int) ([]*types.CompositeState, error) {
	var out struct {
		States []*types.CompositeState `json:"states"`
	}
	if err := c.call(Command{Type: CmdHistory, Limit: limit}, &out); err != nil {
		return nil, err
	}
	return out.States, nil
}

// Config returns the running configuration as YAML
func (c *Client) Config() (string, error) {
	var out struct {
		Config string `json:"config"`
	}
	if err := c.call(Command{Type: CmdConfig}, &out); err != nil {
		return "", err
	}
	return out.Config, nil
}

// UpdateConfig submits a YAML or JSON configuration document
func (c *Client) UpdateConfig(document []byte) error {
	return c.call(Command{Type: CmdUpdateConfig, Config: string(document)}, nil)
}

// Pause stops the monitor from running cycles
func (c *Client) Pause(reason string) error {
	return c.call(Command{Type: CmdPause, Reason: reason}, nil)
}

// Resume lets the monitor run cycles again
func (c *Client) Resume() error {
	return c.call(Command{Type: CmdResume}, nil)
}

// Cycle runs one cycle immediately and returns its state
func (c *Client) Cycle() (*CycleData, error) {
	var out CycleData
	if err := c.call(Command{Type: CmdCycle}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
