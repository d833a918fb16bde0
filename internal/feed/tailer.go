package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/joescharf/chronicle/internal/models"
)

const (
	KindEvent   = "event"
	KindSession = "session"
)

// TailStats reports tailer progress.
type TailStats struct {
	Offset    int64  `json:"offset"`
	Lines     uint64 `json:"lines"`
	Malformed uint64 `json:"malformed"`
}

// FileTailer follows a JSONL file where each line is an event or session
// object tagged with "kind". Only complete lines are consumed.
type FileTailer struct {
	path   string
	sink   Sink
	logger *slog.Logger

	mu        sync.Mutex
	offset    int64
	lines     uint64
	malformed uint64
}

// NewFileTailer creates a tailer that starts at the beginning of path.
func NewFileTailer(path string, sink Sink, logger *slog.Logger) *FileTailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileTailer{path: filepath.Clean(path), sink: sink, logger: logger}
}

// Stats returns the tailer counters.
func (t *FileTailer) Stats() TailStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TailStats{Offset: t.offset, Lines: t.lines, Malformed: t.malformed}
}

// Ping reports whether the tailed file is reachable.
func (t *FileTailer) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(t.path); err != nil {
		return fmt.Errorf("stat feed file: %w", err)
	}
	return nil
}

// ReadNew consumes complete lines appended since the last call and
// returns how many it dispatched. A missing file reads as empty; a file
// shorter than the offset is treated as truncated and reread from the start.
func (t *FileTailer) ReadNew() (SyncResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res SyncResult
	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("open feed file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return res, fmt.Errorf("stat feed file: %w", err)
	}
	if info.Size() < t.offset {
		t.logger.Info("feed file truncated, rereading", "path", t.path)
		t.offset = 0
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return res, fmt.Errorf("seek feed file: %w", err)
	}

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// partial line stays for the next read
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("read feed file: %w", err)
		}
		t.offset += int64(len(line))
		t.lines++
		t.dispatch(bytes.TrimSpace(line), &res)
	}
}

func (t *FileTailer) dispatch(line []byte, res *SyncResult) {
	if !dispatchLine(line, t.sink, t.logger, res) {
		t.malformed++
	}
}

// dispatchLine decodes one JSONL record and hands it to sink. It returns
// false for lines that are not a valid event or session record; blank
// lines are ignored.
func dispatchLine(line []byte, sink Sink, logger *slog.Logger, res *SyncResult) bool {
	if len(line) == 0 {
		return true
	}
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		logger.Debug("skipping malformed feed line", "error", err)
		return false
	}

	switch head.Kind {
	case KindEvent:
		var e models.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return false
		}
		res.Events++
		if sink.AdmitEvent(e) {
			res.Admitted++
		}
	case KindSession:
		var s models.Session
		if err := json.Unmarshal(line, &s); err != nil {
			return false
		}
		res.Sessions++
		if err := sink.UpsertSession(s); err != nil {
			res.Rejected++
		}
	default:
		logger.Debug("skipping feed line with unknown kind", "kind", head.Kind)
		return false
	}
	return true
}

// Import reads JSONL records from r until EOF and hands them to sink. A
// final line without a trailing newline is still processed.
func Import(r io.Reader, sink Sink, logger *slog.Logger) (SyncResult, uint64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		res       SyncResult
		malformed uint64
	)
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && !dispatchLine(bytes.TrimSpace(line), sink, logger, &res) {
			malformed++
		}
		if errors.Is(err, io.EOF) {
			return res, malformed, nil
		}
		if err != nil {
			return res, malformed, fmt.Errorf("read records: %w", err)
		}
	}
}

// Run reads the existing content and then follows appends until ctx is
// cancelled. The parent directory is watched so the file may be created
// or replaced after Run starts.
func (t *FileTailer) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(t.path), err)
	}

	if _, err := t.ReadNew(); err != nil {
		t.logger.Warn("feed read failed", "path", t.path, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if _, err := t.ReadNew(); err != nil {
				t.logger.Warn("feed read failed", "path", t.path, "error", err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("feed watcher error", "error", err)
		}
	}
}
