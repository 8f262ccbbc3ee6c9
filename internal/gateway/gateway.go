// Package gateway implements the local telemetry ingest endpoint. Agent
// processes push OTLP/JSON payloads over plain HTTP; the gateway reads
// one request per connection, inflates gzip bodies, classifies the path,
// and hands the raw payload to its handler. It never rejects a request:
// the reply is always a minimal 200 so a misconfigured exporter cannot
// enter a retry storm.
package gateway

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/passingBySol/agentnotch/internal/netio"
)

// Route classifies a request path.
type Route int

const (
	RouteLogs Route = iota
	RouteMetrics
	RouteOther
)

func (r Route) String() string {
	switch r {
	case RouteLogs:
		return "logs"
	case RouteMetrics:
		return "metrics"
	default:
		return "other"
	}
}

// Handler receives the decoded body of each completed request.
type Handler func(route Route, body []byte)

// ErrorFunc receives transport and decode errors. The gateway keeps
// running after every error.
type ErrorFunc func(err error)

const (
	headerAttempts = 50
	bodyAttempts   = 250
	response       = "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Server accepts local HTTP connections and emits one (route, body)
// event per completed request. Connections are never reused.
type Server struct {
	port    int
	handler Handler
	onError ErrorFunc

	mu      sync.Mutex
	ln      net.Listener
	running bool
	wg      sync.WaitGroup
}

func NewServer(port int, handler Handler, onError ErrorFunc) *Server {
	if onError == nil {
		onError = func(err error) { log.Printf("[gateway] %v", err) }
	}
	return &Server{port: port, handler: handler, onError: onError}
}

// Start binds the listener and begins accepting. Calling Start while
// already running is a no-op. Bind failures are reported through the
// error callback, not returned.
func (s *Server) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		s.mu.Unlock()
		s.onError(fmt.Errorf("gateway bind :%d: %w", s.port, err))
		return
	}
	s.ln = ln
	s.running = true
	s.mu.Unlock()

	log.Printf("[gateway] listening on 127.0.0.1:%d", s.port)

	s.wg.Add(1)
	go s.acceptLoop(ln)
}

// Stop closes the listener and waits for in-flight handlers.
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
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if running {
				s.onError(fmt.Errorf("gateway accept: %w", err))
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn serves exactly one request/response cycle and closes.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	raw, err := netio.ReadUntil(conn, []byte("\r\n\r\n"), headerAttempts)
	if err != nil {
		s.onError(fmt.Errorf("gateway read headers: %w", err))
		return
	}

	idx := bytes.Index(raw, []byte("\r\n\r\n"))
	if idx < 0 {
		// Peer closed before completing headers.
		return
	}
	head := string(raw[:idx])
	body := raw[idx+4:]

	path, headers := parseHead(head)
	route := classify(path)

	contentLength := 0
	if v, ok := headers["content-length"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			contentLength = n
		}
	}

	if len(body) < contentLength {
		body, err = netio.ReadFull(conn, body, contentLength, bodyAttempts)
		if err != nil {
			s.onError(fmt.Errorf("gateway read body (%d/%d bytes): %w", len(body), contentLength, err))
			// Fall through: acknowledge anyway per the gateway contract.
		}
	}
	if len(body) > contentLength {
		body = body[:contentLength]
	}

	// Acknowledge before decoding; the sender never cares about decode
	// outcomes and must not retry.
	io.WriteString(conn, response)

	if isGzip(headers["content-encoding"], body) {
		inflated, err := inflate(body)
		if err != nil {
			s.onError(fmt.Errorf("gateway gunzip: %w", err))
			return
		}
		body = inflated
	}

	if s.handler != nil {
		s.handler(route, body)
	}
}

// parseHead extracts the request path and lowercased header map from the
// raw header block.
func parseHead(head string) (path string, headers map[string]string) {
	headers = make(map[string]string)
	lines := strings.Split(head, "\r\n")
	if len(lines) > 0 {
		// e.g. "POST /v1/logs HTTP/1.1"
		parts := strings.SplitN(lines[0], " ", 3)
		if len(parts) >= 2 {
			path = parts[1]
		}
	}
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return path, headers
}

func classify(path string) Route {
	switch {
	case strings.HasSuffix(path, "/logs"):
		return RouteLogs
	case strings.HasSuffix(path, "/metrics"):
		return RouteMetrics
	default:
		return RouteOther
	}
}

// isGzip detects gzip by the Content-Encoding header or the magic bytes.
// Some exporter versions compress without declaring it.
func isGzip(encoding string, body []byte) bool {
	if strings.Contains(strings.ToLower(encoding), "gzip") {
		return true
	}
	return len(body) >= 2 && body[0] == gzipMagic[0] && body[1] == gzipMagic[1]
}

func inflate(body []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
