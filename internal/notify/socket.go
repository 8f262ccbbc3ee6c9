// Package notify implements the Unix-domain notification socket. Hook
// scripts installed alongside the agent CLIs connect, write one or more
// newline-delimited JSON notification objects, and disconnect. No
// response is ever written back.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/passingBySol/agentnotch/internal/netio"
)

// Type classifies a notification.
type Type string

const (
	TypePermissionRequest Type = "permission_request"
	TypeIdle              Type = "idle"
	TypeComplete          Type = "complete"
	TypeSessionStart      Type = "session_start"
	TypeSessionEnd        Type = "session_end"
	// TypeUnknown is the sentinel for notification_type strings this
	// version does not recognize. Unknown notifications still decode.
	TypeUnknown Type = "unknown"
)

var knownTypes = map[string]Type{
	"permission_request": TypePermissionRequest,
	"idle":               TypeIdle,
	"complete":           TypeComplete,
	"session_start":      TypeSessionStart,
	"session_end":        TypeSessionEnd,
}

// Notification is one decoded socket line.
type Notification struct {
	SessionID string `json:"session_id,omitempty"`
	Cwd       string `json:"cwd,omitempty"`
	Message   string `json:"message,omitempty"`
	Type      Type   `json:"notification_type"`
	ToolName  string `json:"tool_name,omitempty"`
}

// UnmarshalJSON maps unrecognized notification_type strings to
// TypeUnknown instead of failing.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var raw struct {
		SessionID string `json:"session_id"`
		Cwd       string `json:"cwd"`
		Message   string `json:"message"`
		Type      string `json:"notification_type"`
		ToolName  string `json:"tool_name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.SessionID = raw.SessionID
	n.Cwd = raw.Cwd
	n.Message = raw.Message
	n.ToolName = raw.ToolName
	if t, ok := knownTypes[raw.Type]; ok {
		n.Type = t
	} else {
		n.Type = TypeUnknown
	}
	return nil
}

// Handler receives each successfully decoded notification.
type Handler func(n Notification)

// ErrorFunc receives transport and per-line decode errors.
type ErrorFunc func(err error)

const (
	acceptPoll   = 100 * time.Millisecond
	readAttempts = 50
)

// Server listens on a fixed Unix-domain socket path. Start and Stop are
// serialized by the internal mutex; starting twice is a no-op.
type Server struct {
	path    string
	handler Handler
	onError ErrorFunc

	mu      sync.Mutex
	ln      *net.UnixListener
	running bool
	wg      sync.WaitGroup
}

func NewServer(path string, handler Handler, onError ErrorFunc) *Server {
	if onError == nil {
		onError = func(err error) { log.Printf("[notify] %v", err) }
	}
	return &Server{path: path, handler: handler, onError: onError}
}

// Start removes any stale socket file, binds, makes the socket
// world-writable, and begins the accept loop. Errors are reported via
// the callback.
func (s *Server) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}

	// A previous instance may have left a stale socket behind.
	os.Remove(s.path)

	addr, err := net.ResolveUnixAddr("unix", s.path)
	if err != nil {
		s.mu.Unlock()
		s.onError(fmt.Errorf("notify resolve %s: %w", s.path, err))
		return
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		s.mu.Unlock()
		s.onError(fmt.Errorf("notify bind %s: %w", s.path, err))
		return
	}
	if err := os.Chmod(s.path, 0777); err != nil {
		s.onError(fmt.Errorf("notify chmod %s: %w", s.path, err))
	}

	s.ln = ln
	s.running = true
	s.mu.Unlock()

	log.Printf("[notify] listening on %s", s.path)

	s.wg.Add(1)
	go s.acceptLoop(ln)
}

// Stop closes the listener, waits for in-flight connections, and removes
// the socket file.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	ln.Close()
	s.wg.Wait()
	os.Remove(s.path)
}

func (s *Server) acceptLoop(ln *net.UnixListener) {
	defer s.wg.Done()
	for {
		// Short accept deadline so Stop is observed promptly.
		ln.SetDeadline(time.Now().Add(acceptPoll))
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.onError(fmt.Errorf("notify accept: %w", err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn drains the peer with bounded retries, then decodes each
// non-empty line independently. One bad line never aborts the rest.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	data := netio.Drain(conn, readAttempts)
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var n Notification
		if err := json.Unmarshal(line, &n); err != nil {
			s.onError(fmt.Errorf("notify decode line: %w", err))
			continue
		}
		if s.handler != nil {
			s.handler(n)
		}
	}
}
