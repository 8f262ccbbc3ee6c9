// Package tail implements the per-session log file watcher. A Tailer
// attaches to an append-only JSONL file, replays a bounded window of
// existing history, then delivers every newly appended line as the file
// grows. Lines are always delivered in file order.
package tail

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// LineFunc receives one complete log line. replay is true for lines that
// existed before the tailer attached; consumers suppress live-only side
// effects (timer resets, permission arming) during replay.
type LineFunc func(line []byte, replay bool)

// ErrorFunc receives watcher and read errors. The tailer keeps running
// after transient errors.
type ErrorFunc func(err error)

// Options bound the initial history replay.
type Options struct {
	// TailBytes is how far back from the end of the file the initial
	// replay may reach. Zero disables replay.
	TailBytes int
	// TailLines caps the number of replayed lines. Zero means no cap.
	TailLines int
}

// Tailer watches a single append-only file.
type Tailer struct {
	path    string
	onLine  LineFunc
	onError ErrorFunc

	f       *os.File
	watcher *fsnotify.Watcher
	offset  int64
	partial []byte // trailing bytes of an incomplete line

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// New opens path, replays bounded history with the replay flag set, and
// starts watching for appends. The returned Tailer must be closed.
func New(path string, opts Options, onLine LineFunc, onError ErrorFunc) (*Tailer, error) {
	if onError == nil {
		onError = func(err error) { log.Printf("[tail] %v", err) }
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tail open %s: %w", path, err)
	}

	t := &Tailer{
		path:    path,
		onLine:  onLine,
		onError: onError,
		f:       f,
		done:    make(chan struct{}),
	}

	if err := t.replayHistory(opts); err != nil {
		f.Close()
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tail watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		f.Close()
		return nil, fmt.Errorf("tail watch %s: %w", path, err)
	}
	t.watcher = watcher

	go t.loop()
	return t, nil
}

// Path returns the watched file path.
func (t *Tailer) Path() string { return t.path }

// Offset returns the current read offset. Lines before the offset have
// been delivered.
func (t *Tailer) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Close cancels the change notification and closes the file. Safe to
// call more than once.
func (t *Tailer) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.watcher.Close()
	<-t.done
	t.f.Close()
}

// replayHistory seeks near the end of the file, discards the possibly
// truncated first line when starting mid-file, and delivers up to
// TailLines lines with the replay flag set. The offset always ends at
// the last complete line.
func (t *Tailer) replayHistory(opts Options) error {
	info, err := t.f.Stat()
	if err != nil {
		return fmt.Errorf("tail stat: %w", err)
	}
	size := info.Size()

	if opts.TailBytes <= 0 || size == 0 {
		t.offset = size
		if _, err := t.f.Seek(size, io.SeekStart); err != nil {
			return err
		}
		return nil
	}

	start := size - int64(opts.TailBytes)
	midFile := start > 0
	if start < 0 {
		start = 0
	}
	if _, err := t.f.Seek(start, io.SeekStart); err != nil {
		return err
	}

	buf := make([]byte, size-start)
	if _, err := io.ReadFull(t.f, buf); err != nil {
		return fmt.Errorf("tail read history: %w", err)
	}

	if midFile {
		// The window almost certainly starts inside a line; drop it.
		if idx := bytes.IndexByte(buf, '\n'); idx >= 0 {
			start += int64(idx + 1)
			buf = buf[idx+1:]
		} else {
			t.offset = size
			return nil
		}
	}

	// Keep only complete lines; remember the rest for the live phase.
	lastNL := bytes.LastIndexByte(buf, '\n')
	if lastNL < 0 {
		t.offset = start
		t.partial = append(t.partial, buf...)
		t.offset += int64(len(buf))
		return nil
	}
	complete := buf[:lastNL+1]
	t.partial = append(t.partial, buf[lastNL+1:]...)
	t.offset = size

	lines := splitLines(complete)
	if opts.TailLines > 0 && len(lines) > opts.TailLines {
		lines = lines[len(lines)-opts.TailLines:]
	}
	for _, line := range lines {
		t.onLine(line, true)
	}
	return nil
}

func (t *Tailer) loop() {
	defer close(t.done)
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.readNew()
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.onError(fmt.Errorf("tail watch %s: %w", t.path, err))
		}
	}
}

// readNew reads all bytes appended since the last offset and delivers
// each complete line. An incomplete trailing line is buffered until the
// writer finishes it.
func (t *Tailer) readNew() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	offset := t.offset
	t.mu.Unlock()

	info, err := t.f.Stat()
	if err != nil {
		t.onError(fmt.Errorf("tail stat %s: %w", t.path, err))
		return
	}
	size := info.Size()
	if size <= offset {
		return
	}

	buf := make([]byte, size-offset)
	if _, err := t.f.ReadAt(buf, offset); err != nil && err != io.EOF {
		t.onError(fmt.Errorf("tail read %s: %w", t.path, err))
		return
	}

	t.mu.Lock()
	t.offset = size
	t.mu.Unlock()

	data := append(t.partial, buf...)
	lastNL := bytes.LastIndexByte(data, '\n')
	if lastNL < 0 {
		t.partial = data
		return
	}
	t.partial = append([]byte(nil), data[lastNL+1:]...)

	for _, line := range splitLines(data[:lastNL+1]) {
		t.onLine(line, false)
	}
}

// splitLines splits on newline, dropping empty lines.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}
