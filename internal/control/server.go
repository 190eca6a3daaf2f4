// Package control serves the local unix socket used by the CLI to talk to
// a running monitor. Each connection carries one JSON command and one JSON
// response.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Command types understood by the server
const (
	CmdStatus       = "status"
	CmdMetrics      = "metrics"
	CmdHistory      = "history"
	CmdConfig       = "config"
	CmdUpdateConfig = "update_config"
	CmdPause        = "pause"
	CmdResume       = "resume"
	CmdCycle        = "cycle"
)

// Command represents a control command sent to the monitor
type Command struct {
	Type      string    `json:"type"`
	Limit     int       `json:"limit,omitempty"`  // history: number of states
	Config    string    `json:"config,omitempty"` // update_config: YAML or JSON document
	Reason    string    `json:"reason,omitempty"` // pause: optional reason
	Timestamp time.Time `json:"timestamp"`
}

// Response represents a response to a control command
type Response struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// CommandFunc handles one command and returns the response data
type CommandFunc func(ctx context.Context, cmd Command) (map[string]interface{}, error)

// Server manages the control socket
type Server struct {
	socketPath string
	listener   net.Listener
	mu         sync.RWMutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}

	onCommand CommandFunc
	logger    *zap.Logger
}

// NewServer creates a control server. A stale socket file left by a
// crashed instance is removed.
func NewServer(socketPath string, onCommand CommandFunc, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	return &Server{
		socketPath: socketPath,
		onCommand:  onCommand,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     logger.Named("control"),
	}, nil
}

// Start begins listening for control commands
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("control server already running")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create control socket: %w", err)
	}

	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info("control server listening", zap.String("socket", s.socketPath))

	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		// bounded accept so the stop channel is checked regularly
		if err := s.listener.(*net.UnixListener).SetDeadline(time.Now().Add(time.Second)); err != nil {
			s.logger.Warn("failed to set accept deadline", zap.Error(err))
			continue
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		s.logger.Warn("failed to set read deadline", zap.Error(err))
		return
	}

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		s.sendError(conn, fmt.Sprintf("failed to decode command: %v", err))
		return
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}

	s.logger.Debug("control command", zap.String("type", cmd.Type))

	var resp Response
	if s.onCommand == nil {
		resp = Response{
			Success: false,
			Message: "No command handler registered",
			Error:   "server misconfiguration",
		}
	} else if data, err := s.onCommand(ctx, cmd); err != nil {
		resp = Response{
			Success: false,
			Message: fmt.Sprintf("Command failed: %v", err),
			Error:   err.Error(),
		}
	} else {
		resp = Response{
			Success: true,
			Message: fmt.Sprintf("Command '%s' completed successfully", cmd.Type),
			Data:    data,
		}
	}

	// commands such as cycle may outlive the read deadline
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.sendResponse(conn, resp); err != nil {
		s.logger.Warn("failed to send response", zap.Error(err))
	}
}

func (s *Server) sendError(conn net.Conn, message string) {
	_ = s.sendResponse(conn, Response{Success: false, Message: message, Error: message})
}

func (s *Server) sendResponse(conn net.Conn, resp Response) error {
	return json.NewEncoder(conn).Encode(resp)
}

// Stop stops the server and removes the socket file
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("error closing listener", zap.Error(err))
		}
	}

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timeout waiting for control server shutdown")
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		s.logger.Warn("failed to remove socket file", zap.Error(err))
	}

	s.logger.Info("control server stopped")
	return nil
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SocketPath returns the path to the control socket
func (s *Server) SocketPath() string {
	return s.socketPath
}
