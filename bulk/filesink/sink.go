// Package filesink appends bulk batches to one NDJSON file per shape. A
// sidecar lock file serializes writers across processes.
package filesink

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	json "github.com/goccy/go-json"

	"github.com/reoring/shapekit/upsert"
)

const (
	lockTimeout = 3 * time.Second
	lockRetry   = 50 * time.Millisecond
)

// Line is one stored entity.
type Line struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// Sink implements bulk.Sink on the local filesystem.
type Sink struct {
	dir string

	mu    sync.Mutex
	locks map[string]*fileLock
}

// fileLock pairs the process-local mutex with the flock; a Flock already
// held by this process reports success to every caller.
type fileLock struct {
	mu sync.Mutex
	fl *flock.Flock
}

// New returns a sink writing under dir, creating it if needed.
func New(dir string) (*Sink, error) {
	if dir == "" {
		return nil, errors.New("filesink: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filesink: create %s: %w", dir, err)
	}
	return &Sink{dir: dir, locks: map[string]*fileLock{}}, nil
}

// Path returns the data file of shapeID.
func (s *Sink) Path(shapeID string) string {
	return filepath.Join(s.dir, shapeID+".ndjson")
}

func (s *Sink) lock(shapeID string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[shapeID]
	if !ok {
		l = &fileLock{fl: flock.New(s.Path(shapeID) + ".lock")}
		s.locks[shapeID] = l
	}
	return l
}

// WriteBatch appends items to the shape's file under the file lock.
func (s *Sink) WriteBatch(ctx context.Context, shapeID string, items []upsert.EntityHolder) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, it := range items {
		if err := enc.Encode(Line{ID: it.ID, Body: it.Body}); err != nil {
			return fmt.Errorf("filesink: encode %q: %w", it.ID, err)
		}
	}

	unlock, err := s.acquire(ctx, shapeID)
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.OpenFile(s.Path(shapeID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("filesink: open: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("filesink: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("filesink: sync: %w", err)
	}
	return f.Close()
}

// ReadAll returns the stored lines of shapeID in write order. A missing file
// yields no lines.
func (s *Sink) ReadAll(ctx context.Context, shapeID string) ([]Line, error) {
	unlock, err := s.acquire(ctx, shapeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, err := os.Open(s.Path(shapeID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filesink: open: %w", err)
	}
	defer f.Close()

	var out []Line
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var l Line
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			return nil, fmt.Errorf("filesink: line %d: %w", len(out)+1, err)
		}
		out = append(out, l)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("filesink: read: %w", err)
	}
	return out, nil
}

func (s *Sink) acquire(ctx context.Context, shapeID string) (func(), error) {
	l := s.lock(shapeID)
	l.mu.Lock()
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	ok, err := l.fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("filesink: lock %s: %w", shapeID, err)
	}
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("filesink: could not lock %s", shapeID)
	}
	return func() {
		_ = l.fl.Unlock()
		l.mu.Unlock()
	}, nil
}
