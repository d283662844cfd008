package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client sends control commands to a running pipeline process.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a control client for the given socket.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    10 * time.Second,
	}
}

// SetTimeout overrides the command timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SendCommand sends one command and waits for the response.
func (c *Client) SendCommand(cmd Command) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pipeline (is it running?): %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
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

// Stop requests cancellation of a job at its next batch boundary.
func (c *Client) Stop(jobID, reason string) (*Response, error) {
	return c.SendCommand(Command{Type: "stop", JobID: jobID, Reason: reason, Timestamp: time.Now()})
}

// Pause requests a pause at the next batch boundary.
func (c *Client) Pause(jobID, reason string) (*Response, error) {
	return c.SendCommand(Command{Type: "pause", JobID: jobID, Reason: reason, Timestamp: time.Now()})
}

// Resume lifts a pause.
func (c *Client) Resume(jobID string) (*Response, error) {
	return c.SendCommand(Command{Type: "resume", JobID: jobID, Timestamp: time.Now()})
}

// Status requests progress for a job (or the active job when jobID is "").
func (c *Client) Status(jobID string) (*Response, error) {
	return c.SendCommand(Command{Type: "status", JobID: jobID, Timestamp: time.Now()})
}
