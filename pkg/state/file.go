package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// FileConfig configures the append-log backend.
type FileConfig struct {
	// Path is the base path; the backend writes <Path>.log and
	// <Path>.snapshot next to it.
	Path string

	// CompactionInterval triggers periodic compaction; 0 disables the
	// timer (compaction still runs on Close).
	CompactionInterval time.Duration

	// SnapshotOnShutdown compacts once more during Close.
	SnapshotOnShutdown bool

	// Logger receives compaction and replay diagnostics.
	Logger *slog.Logger
}

// logRecord is one NDJSON line in the append log.
type logRecord struct {
	TS    int64   `json:"timestamp"` // unix milliseconds
	Op    string  `json:"operation"` // set, del, incr, patch
	Key   string  `json:"key"`
	Value any     `json:"value,omitempty"`
	TTL   float64 `json:"ttl,omitempty"` // seconds
}

// snapshotRecord is one NDJSON line in the snapshot file.
type snapshotRecord struct {
	Key   string `json:"key"`
	Entry Entry  `json:"entry"`
}

// File mirrors an in-process map with an append-only log and a periodic
// snapshot. Reads never touch the disk; every mutation appends one
// record followed by a durable sync.
type File struct {
	mu      sync.Mutex
	entries map[string]*Entry
	cfg     FileConfig
	log     *os.File
	lg      *slog.Logger
	now     func() time.Time
	stop    chan struct{}
	done    chan struct{}
	closed  bool
}

// NewFile opens (or creates) the backing files, loads the snapshot and
// replays the log.
func NewFile(cfg FileConfig) (*File, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("state: file backend requires a path")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	f := &File{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		lg:      cfg.Logger,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := f.loadSnapshot(); err != nil {
		return nil, err
	}
	if err := f.replayLog(); err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(f.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("state: open log: %w", err)
	}
	f.log = logFile

	go f.compactLoop()
	return f, nil
}

func (f *File) logPath() string      { return f.cfg.Path + ".log" }
func (f *File) snapshotPath() string { return f.cfg.Path + ".snapshot" }

func (f *File) loadSnapshot() error {
	file, err := os.Open(f.snapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("state: open snapshot: %w", err)
	}
	defer file.Close()

	now := f.now()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec snapshotRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("state: corrupt snapshot line: %w", err)
		}
		if rec.Entry.expired(now) {
			continue
		}
		e := rec.Entry
		f.entries[rec.Key] = &e
	}
	return scanner.Err()
}

// replayLog applies log records on top of the snapshot. Records whose
// computed absolute expiry has already passed are skipped.
func (f *File) replayLog() error {
	file, err := os.Open(f.logPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("state: open log: %w", err)
	}
	defer file.Close()

	now := f.now()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn final write is expected after a crash; stop there.
			f.lg.Warn("state: log replay stopped at corrupt record", "error", err)
			break
		}
		f.applyRecord(rec, now)
	}
	return scanner.Err()
}

func (f *File) applyRecord(rec logRecord, now time.Time) {
	at := time.UnixMilli(rec.TS)
	var expires *time.Time
	if rec.TTL > 0 {
		t := at.Add(time.Duration(rec.TTL * float64(time.Second)))
		if !now.Before(t) {
			if rec.Op == "set" {
				delete(f.entries, rec.Key)
			}
			return
		}
		expires = &t
	}

	switch rec.Op {
	case "set":
		f.entries[rec.Key] = &Entry{Value: rec.Value, ExpiresAt: expires, CreatedAt: at, UpdatedAt: at}
	case "del":
		delete(f.entries, rec.Key)
	case "incr":
		by, _ := Numeric(rec.Value)
		var prior float64
		var keep *time.Time
		if e, ok := f.entries[rec.Key]; ok && !e.expired(now) {
			prior, _ = Numeric(e.Value)
			keep = e.ExpiresAt
		}
		f.entries[rec.Key] = &Entry{Value: prior + by, ExpiresAt: keep, CreatedAt: at, UpdatedAt: at}
	case "patch":
		var existing any
		var keep *time.Time
		created := at
		if e, ok := f.entries[rec.Key]; ok && !e.expired(now) {
			existing = e.Value
			keep = e.ExpiresAt
			created = e.CreatedAt
		}
		f.entries[rec.Key] = &Entry{Value: Merge(existing, rec.Value), ExpiresAt: keep, CreatedAt: created, UpdatedAt: at}
	}
}

// append writes one record and syncs. Callers hold the mutex, so the
// append chain is serialized.
func (f *File) append(rec logRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("state: marshal log record: %w", err)
	}
	if _, err := f.log.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("state: append log: %w", err)
	}
	if err := f.log.Sync(); err != nil {
		return fmt.Errorf("state: sync log: %w", err)
	}
	return nil
}

func (f *File) compactLoop() {
	defer close(f.done)
	if f.cfg.CompactionInterval <= 0 {
		<-f.stop
		return
	}
	ticker := time.NewTicker(f.cfg.CompactionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := f.Compact(); err != nil {
				f.lg.Error("state: compaction failed", "error", err)
			}
		case <-f.stop:
			return
		}
	}
}

// Compact writes a fresh snapshot to a temporary file, renames it over
// the live snapshot atomically, then truncates the log.
func (f *File) Compact() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	return f.compactLocked()
}

func (f *File) compactLocked() error {
	tmp := f.snapshotPath() + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("state: create snapshot temp: %w", err)
	}

	now := f.now()
	w := bufio.NewWriter(out)
	for key, e := range f.entries {
		if e.expired(now) {
			continue
		}
		data, err := json.Marshal(snapshotRecord{Key: key, Entry: *e})
		if err != nil {
			out.Close()
			return fmt.Errorf("state: marshal snapshot record: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			out.Close()
			return fmt.Errorf("state: write snapshot: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("state: flush snapshot: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("state: sync snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("state: close snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.snapshotPath()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("state: replace snapshot: %w", err)
	}

	// Snapshot is durable; the log can restart empty.
	if f.log != nil {
		if err := f.log.Truncate(0); err != nil {
			return fmt.Errorf("state: truncate log: %w", err)
		}
		if _, err := f.log.Seek(0, 0); err != nil {
			return fmt.Errorf("state: rewind log: %w", err)
		}
	}
	return nil
}

func (f *File) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false, ErrClosed
	}
	e, ok := f.entries[key]
	if !ok || e.expired(f.now()) {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (f *File) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	now := f.now()
	var expires *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expires = &t
	}
	f.entries[key] = &Entry{Value: value, ExpiresAt: expires, CreatedAt: now, UpdatedAt: now}
	return f.append(logRecord{TS: now.UnixMilli(), Op: "set", Key: key, Value: value, TTL: ttl.Seconds()})
}

func (f *File) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	delete(f.entries, key)
	return f.append(logRecord{TS: f.now().UnixMilli(), Op: "del", Key: key})
}

func (f *File) Increment(ctx context.Context, key string, by float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	now := f.now()
	var prior float64
	var keep *time.Time
	created := now
	if e, ok := f.entries[key]; ok && !e.expired(now) {
		prior, _ = Numeric(e.Value)
		keep = e.ExpiresAt
		created = e.CreatedAt
	}
	next := prior + by
	f.entries[key] = &Entry{Value: next, ExpiresAt: keep, CreatedAt: created, UpdatedAt: now}
	if err := f.append(logRecord{TS: now.UnixMilli(), Op: "incr", Key: key, Value: by}); err != nil {
		return 0, err
	}
	return next, nil
}

func (f *File) Patch(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	now := f.now()
	var existing any
	var keep *time.Time
	created := now
	if e, ok := f.entries[key]; ok && !e.expired(now) {
		existing = e.Value
		keep = e.ExpiresAt
		created = e.CreatedAt
	}
	f.entries[key] = &Entry{Value: Merge(existing, value), ExpiresAt: keep, CreatedAt: created, UpdatedAt: now}
	return f.append(logRecord{TS: now.UnixMilli(), Op: "patch", Key: key, Value: value})
}

func (f *File) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	now := f.now()
	var keys []string
	for k, e := range f.entries {
		if e.expired(now) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Close stops the compaction timer, optionally snapshots, and releases
// the log file. Safe to call once.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	close(f.stop)
	<-f.done

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true

	var err error
	if f.cfg.SnapshotOnShutdown {
		err = f.compactLocked()
	}
	if cerr := f.log.Close(); err == nil {
		err = cerr
	}
	return err
}
