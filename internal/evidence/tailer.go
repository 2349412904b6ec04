package evidence

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ternarybob/arbor"
)

const (
	pollInterval   = 2 * time.Second
	backoffInitial = 100 * time.Millisecond
	backoffMax     = 2 * time.Second
)

// Tailer streams parsed NDJSON records from a single append-only file
// as new lines are written to it (C2/C3/C5). A Tailer is lazy,
// infinite, and non-restartable: once Close is called it cannot be
// started again.
type Tailer[T any] struct {
	path   string
	parse  func([]byte) (T, error)
	logger arbor.ILogger

	out chan T

	mu      sync.Mutex
	cursor  int64
	buf     bytes.Buffer
	backoff time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Tailer over path. The file is created if absent. The
// returned Tailer does not begin streaming until Start is called.
func New[T any](path string, parse func([]byte) (T, error), logger arbor.ILogger) (*Tailer[T], error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	f.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher for %s: %w", path, err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	return &Tailer[T]{
		path:    path,
		parse:   parse,
		logger:  logger,
		out:     make(chan T, 64),
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// Records returns the channel of parsed records. It is closed when the
// tailer stops (see Close).
func (t *Tailer[T]) Records() <-chan T {
	return t.out
}

// Start replays existing file content (so entries written before the
// tailer started are not lost, I5) and then begins reacting to
// filesystem notifications and a 2s backup poll.
func (t *Tailer[T]) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.readNew()

	go t.loop(ctx)
	return nil
}

func (t *Tailer[T]) loop(ctx context.Context) {
	defer close(t.done)
	defer close(t.out)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.readNew()
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			if t.logger != nil {
				t.logger.Warn().Err(err).Str("path", t.path).Msg("tailer watcher error")
			}

		case <-ticker.C:
			t.readNew()
		}
	}
}

// readNew reads any bytes appended since the last cursor position. On
// I/O error it sleeps for the current backoff (starting 100ms, doubling
// up to a 2s cap on each consecutive failure) before returning; the
// next poll tick or notification drives the following attempt.
func (t *Tailer[T]) readNew() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.readOnce(); err != nil {
		if t.logger != nil {
			t.logger.Warn().Err(err).Str("path", t.path).Msg("tailer read error, backing off")
		}
		if t.backoff == 0 {
			t.backoff = backoffInitial
		}
		time.Sleep(t.backoff)
		t.backoff *= 2
		if t.backoff > backoffMax {
			t.backoff = backoffMax
		}
		return
	}

	t.backoff = 0
}

func (t *Tailer[T]) readOnce() error {
	info, err := os.Stat(t.path)
	if err != nil {
		return err
	}

	if info.Size() < t.cursor {
		// Truncation is a protocol violation (I5); reset and continue.
		if t.logger != nil {
			t.logger.Warn().Str("path", t.path).Msg("file truncated, resetting cursor")
		}
		t.cursor = 0
		t.buf.Reset()
	}

	if info.Size() == t.cursor {
		return nil
	}

	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(t.cursor, 0); err != nil {
		return err
	}

	r := bufio.NewReader(f)
	for {
		chunk, err := r.ReadBytes('\n')
		if len(chunk) > 0 {
			t.buf.Write(chunk)
			t.cursor += int64(len(chunk))
		}
		if err != nil {
			// Partial trailing line stays buffered until more data arrives.
			break
		}

		line := bytes.TrimRight(t.buf.Bytes(), "\n")
		t.buf.Reset()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		rec, perr := t.parse(line)
		if perr != nil {
			if t.logger != nil {
				t.logger.Warn().Err(perr).Str("path", t.path).Msg("skipping malformed record")
			}
			continue
		}

		t.out <- rec
	}

	return nil
}

// Close releases the tailer's resources, stops the poll, and waits for
// any in-flight notification to drain.
func (t *Tailer[T]) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	err := t.watcher.Close()
	<-t.done
	return err
}

// DecodeCommandRecord parses a single NDJSON line as a CommandRecord.
func DecodeCommandRecord(line []byte) (CommandRecord, error) {
	var r CommandRecord
	err := json.Unmarshal(line, &r)
	return r, err
}

// DecodeCheckRecord parses a single NDJSON line as a CheckRecord.
func DecodeCheckRecord(line []byte) (CheckRecord, error) {
	var r CheckRecord
	err := json.Unmarshal(line, &r)
	return r, err
}

// DecodeTutorUtterance parses a single NDJSON line as a TutorUtterance.
func DecodeTutorUtterance(line []byte) (TutorUtterance, error) {
	var r TutorUtterance
	err := json.Unmarshal(line, &r)
	return r, err
}
