// Package netio provides bounded read helpers shared by the ingest
// gateway and the notification socket server. Reads use short deadlines
// and a retry budget so a slow or stalled peer cannot wedge a handler
// goroutine indefinitely.
package netio

import (
	"bytes"
	"errors"
	"net"
	"os"
	"time"
)

const (
	// ReadChunk is the per-attempt read buffer size.
	ReadChunk = 4096
	// attemptTimeout bounds a single read attempt.
	attemptTimeout = 200 * time.Millisecond
	// retrySleep is the idle pause between empty read attempts.
	retrySleep = 20 * time.Millisecond
)

// ErrBudgetExhausted reports that the peer did not deliver the expected
// bytes within the configured attempt budget.
var ErrBudgetExhausted = errors.New("netio: read attempt budget exhausted")

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// ReadUntil reads from conn until the delimiter appears in the buffered
// data, the peer closes, or maxAttempts empty reads elapse. It returns
// everything read, including bytes after the delimiter.
func ReadUntil(conn net.Conn, delim []byte, maxAttempts int) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, ReadChunk)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if bytes.Contains(buf.Bytes(), delim) {
			return buf.Bytes(), nil
		}

		conn.SetReadDeadline(time.Now().Add(attemptTimeout))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			continue
		}
		if err != nil {
			if isTimeout(err) {
				time.Sleep(retrySleep)
				continue
			}
			// Peer closed or hard error: return what we have.
			return buf.Bytes(), nil
		}
	}

	if bytes.Contains(buf.Bytes(), delim) {
		return buf.Bytes(), nil
	}
	return buf.Bytes(), ErrBudgetExhausted
}

// ReadFull reads exactly want additional bytes from conn, appending to
// have. Partial reads are retried up to maxAttempts times.
func ReadFull(conn net.Conn, have []byte, want int, maxAttempts int) ([]byte, error) {
	buf := have
	chunk := make([]byte, ReadChunk)

	for attempt := 0; attempt < maxAttempts && len(buf) < want; attempt++ {
		conn.SetReadDeadline(time.Now().Add(attemptTimeout))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err != nil {
			if isTimeout(err) {
				time.Sleep(retrySleep)
				continue
			}
			return buf, nil
		}
	}

	if len(buf) < want {
		return buf, ErrBudgetExhausted
	}
	return buf, nil
}

// Drain reads from conn until the peer closes or the attempt budget is
// exhausted, returning everything read. Used by the notification socket
// where there is no length header to anticipate.
func Drain(conn net.Conn, maxAttempts int) []byte {
	var buf bytes.Buffer
	chunk := make([]byte, ReadChunk)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		conn.SetReadDeadline(time.Now().Add(attemptTimeout))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			continue
		}
		if err != nil {
			if isTimeout(err) {
				time.Sleep(retrySleep)
				continue
			}
			break
		}
	}
	return buf.Bytes()
}
