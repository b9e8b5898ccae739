// Package s3 keeps one JSON object per comparison record in an object store,
// keyed by zero-padded sequence so a prefix listing returns append order.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/llmsql/llmsql/internal/record"
	"github.com/llmsql/llmsql/internal/storage"
)

const defaultPrefix = "records"

type Store struct {
	objects storage.ObjectStore
	prefix  string

	mu      sync.Mutex
	loaded  bool
	lastSeq int64
}

var _ record.Store = (*Store)(nil)

func NewStore(objects storage.ObjectStore, prefix string) *Store {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{objects: objects, prefix: prefix}
}

func (s *Store) Append(ctx context.Context, r record.Record) (string, error) {
	if err := r.Validate(); err != nil {
		return "", fmt.Errorf("invalid record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		lastSeq, err := s.recoverLastSeq(ctx)
		if err != nil {
			return "", err
		}
		s.lastSeq = lastSeq
		s.loaded = true
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Seq = s.lastSeq + 1
	key, err := storage.BuildRecordKey(s.prefix, r.Seq, r.ID)
	if err != nil {
		return "", fmt.Errorf("invalid record: %w", err)
	}
	// Another process may have appended since the sequence was recovered.
	if _, err := s.objects.Stat(ctx, key); err == nil {
		return "", fmt.Errorf("%w: record key %s already exists", record.ErrPersistence, key)
	} else if !errors.Is(err, storage.ErrObjectNotFound) {
		return "", fmt.Errorf("%w: %v", record.ErrPersistence, err)
	}
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	if _, err := s.objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{ContentType: "application/json"}); err != nil {
		return "", fmt.Errorf("%w: %v", record.ErrPersistence, err)
	}
	s.lastSeq = r.Seq
	return r.ID, nil
}

func (s *Store) List(ctx context.Context, filter record.Filter) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		objects, err := s.objects.List(ctx, s.prefix)
		if err != nil {
			yield(record.Record{}, fmt.Errorf("%w: %v", record.ErrPersistence, err))
			return
		}
		emitted := 0
		for _, object := range objects {
			if _, _, err := storage.ParseRecordKey(object.Key); err != nil {
				continue
			}
			r, err := s.load(ctx, object.Key)
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
	objects, err := s.objects.List(ctx, s.prefix)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrPersistence, err)
	}
	for _, object := range objects {
		_, objectID, err := storage.ParseRecordKey(object.Key)
		if err != nil || objectID != id {
			continue
		}
		return s.load(ctx, object.Key)
	}
	return record.Record{}, fmt.Errorf("%w: %s", record.ErrNotFound, id)
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) load(ctx context.Context, key string) (record.Record, error) {
	reader, err := s.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return record.Record{}, fmt.Errorf("%w: %s", record.ErrNotFound, key)
		}
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrPersistence, err)
	}
	defer func() { _ = reader.Close() }()

	body, err := io.ReadAll(reader)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: read %s: %v", record.ErrPersistence, key, err)
	}
	var r record.Record
	if err := json.Unmarshal(body, &r); err != nil {
		return record.Record{}, fmt.Errorf("decode record %s: %w", key, err)
	}
	return r, nil
}

func (s *Store) recoverLastSeq(ctx context.Context) (int64, error) {
	objects, err := s.objects.List(ctx, s.prefix)
	if err != nil {
		return 0, fmt.Errorf("%w: list existing records: %v", record.ErrPersistence, err)
	}
	var lastSeq int64
	for _, object := range objects {
		seq, _, err := storage.ParseRecordKey(object.Key)
		if err != nil {
			continue
		}
		if seq > lastSeq {
			lastSeq = seq
		}
	}
	return lastSeq, nil
}
