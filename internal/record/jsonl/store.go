// Package jsonl keeps comparison records in an append-only JSON Lines file,
// one record per line, fsynced on every append.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/llmsql/llmsql/internal/record"
)

type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	file    *os.File
	size    int64
	lastSeq int64
}

var _ record.Store = (*Store)(nil)

// Open creates the file and its parent directory when missing and recovers the
// last sequence number from existing content. A trailing line without a
// newline is the remains of an interrupted append and is cut off.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("records path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create records dir: %v", record.ErrPersistence, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open records file: %v", record.ErrPersistence, err)
	}

	store := &Store{path: path, logger: logger, file: file}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: stat records file: %v", record.ErrPersistence, err)
	}
	store.size = info.Size()
	if err := store.dropTornTail(); err != nil {
		_ = file.Close()
		return nil, err
	}

	for r, err := range store.scan(context.Background()) {
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		if r.Seq > store.lastSeq {
			store.lastSeq = r.Seq
		}
	}
	return store, nil
}

func (s *Store) dropTornTail() error {
	complete, err := completeLength(s.file, s.size)
	if err != nil {
		return fmt.Errorf("%w: read records file: %v", record.ErrPersistence, err)
	}
	if complete == s.size {
		return nil
	}
	if err := s.file.Truncate(complete); err != nil {
		return fmt.Errorf("%w: truncate torn record: %v", record.ErrPersistence, err)
	}
	s.logger.Warn("dropped incomplete trailing record",
		slog.String("path", s.path),
		slog.Int64("bytes", s.size-complete),
	)
	s.size = complete
	return nil
}

// completeLength returns the offset just past the last newline in the first
// size bytes of file, or 0 when there is none.
func completeLength(file *os.File, size int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := file.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

func (s *Store) Append(ctx context.Context, r record.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", record.ErrPersistence, err)
	}
	if err := r.Validate(); err != nil {
		return "", fmt.Errorf("invalid record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return "", fmt.Errorf("%w: store is closed", record.ErrPersistence)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Seq = s.lastSeq + 1

	line, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')

	written, err := s.file.Write(line)
	if err == nil {
		err = s.file.Sync()
	}
	if err != nil {
		if written > 0 {
			// Drop the torn line so the file stays one record per line.
			_ = s.file.Truncate(s.size)
		}
		return "", fmt.Errorf("%w: append record: %v", record.ErrPersistence, err)
	}

	s.size += int64(written)
	s.lastSeq = r.Seq
	return r.ID, nil
}

func (s *Store) List(ctx context.Context, filter record.Filter) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		emitted := 0
		for r, err := range s.scan(ctx) {
			if err != nil {
				yield(record.Record{}, err)
				return
			}
			if !filter.Matches(r) {
				continue
			}
			if !yield(r, nil) {
				return
			}
			emitted++
			if filter.Limit > 0 && emitted >= filter.Limit {
				return
			}
		}
	}
}

func (s *Store) Get(ctx context.Context, id string) (record.Record, error) {
	for r, err := range s.scan(ctx) {
		if err != nil {
			return record.Record{}, err
		}
		if r.ID == id {
			return r, nil
		}
	}
	return record.Record{}, fmt.Errorf("%w: %s", record.ErrNotFound, id)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// scan reads the file through a separate descriptor up to the size observed
// when the scan started, so a concurrent append is never read half-written.
func (s *Store) scan(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		s.mu.Lock()
		limit := s.size
		s.mu.Unlock()

		file, err := os.Open(s.path)
		if err != nil {
			yield(record.Record{}, fmt.Errorf("%w: open records file: %v", record.ErrPersistence, err))
			return
		}
		defer func() { _ = file.Close() }()

		reader := bufio.NewReader(io.LimitReader(file, limit))
		lineNo := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(record.Record{}, err)
				return
			}
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				lineNo++
				var r record.Record
				if decodeErr := json.Unmarshal(line, &r); decodeErr != nil {
					yield(record.Record{}, fmt.Errorf("decode record at line %d: %w", lineNo, decodeErr))
					return
				}
				if !yield(r, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(record.Record{}, fmt.Errorf("%w: read records file: %v", record.ErrPersistence, err))
				return
			}
		}
	}
}
