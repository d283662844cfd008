// Package control exposes the job control surface over a unix domain
// socket, so `refinery pause` and friends can reach a running process.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Command is one control request: stop, pause, resume, or status.
type Command struct {
	Type      string                 `json:"type"`   // "stop", "pause", "resume", "status"
	JobID     string                 `json:"job_id"` // target job; empty targets the active job
	Reason    string                 `json:"reason,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Response is the reply to a control command.
type Response struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Server listens for control commands on a unix socket.
type Server struct {
	socketPath string
	listener   net.Listener
	mu         sync.RWMutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}

	onCommand func(cmd Command) (map[string]interface{}, error)
}

// NewServer creates a control server. socketPath is typically
// .refinery/control.sock; a stale socket from a crashed process is removed.
func NewServer(socketPath string, onCommand func(Command) (map[string]interface{}, error)) (*Server, error) {
	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
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
	}, nil
}

// Start begins accepting control connections in the background.
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

	log.Printf("control server listening on %s", s.socketPath)
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

		// Accept with a deadline so the stop channel gets checked.
		if err := s.listener.(*net.UnixListener).SetDeadline(time.Now().Add(1 * time.Second)); err != nil {
			log.Printf("control: failed to set deadline: %v", err)
			continue
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			log.Printf("control: accept error: %v", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		log.Printf("control: failed to set read deadline: %v", err)
		return
	}

	decoder := json.NewDecoder(conn)
	var cmd Command
	if err := decoder.Decode(&cmd); err != nil {
		s.sendError(conn, fmt.Sprintf("failed to decode command: %v", err))
		return
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}

	var resp Response
	if s.onCommand != nil {
		data, err := s.onCommand(cmd)
		if err != nil {
			resp = Response{
				Success: false,
				Message: fmt.Sprintf("command failed: %v", err),
				Error:   err.Error(),
			}
		} else {
			resp = Response{
				Success: true,
				Message: fmt.Sprintf("command %q completed", cmd.Type),
				Data:    data,
			}
		}
	} else {
		resp = Response{
			Success: false,
			Message: "no command handler registered",
			Error:   "server misconfiguration",
		}
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Printf("control: failed to send response: %v", err)
	}
}

func (s *Server) sendError(conn net.Conn, message string) {
	_ = json.NewEncoder(conn).Encode(Response{
		Success: false,
		Message: message,
		Error:   message,
	})
}

// Stop shuts the server down and removes the socket file.
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
			log.Printf("control: error closing listener: %v", err)
		}
	}

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		log.Printf("control: timeout waiting for server shutdown")
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		log.Printf("control: failed to remove socket file: %v", err)
	}
	return nil
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SocketPath returns the control socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}
