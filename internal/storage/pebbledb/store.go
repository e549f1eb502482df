// Package pebbledb stores incidents in Pebble. Pebble has no transactions,
// so read-modify-write of one incident runs under a striped per-key lock.
package pebbledb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"nexuswatch/internal/incidents"
)

const stripes = 64

var (
	lowerBound = []byte("incident/")
	upperBound = []byte("incident0") // '0' follows '/'
)

func key(id string) []byte {
	return append(append([]byte{}, lowerBound...), id...)
}

type Store struct {
	db    *pebble.DB
	locks [stripes]sync.Mutex
}

// Open opens a Pebble database in dir. An empty dir opens an in-memory
// database.
func Open(dir string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(16 << 20),
		MemTableSize: 8 << 20,
	}
	defer opts.Cache.Unref()
	if dir == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%stripes]
}

func (s *Store) load(id string) (*incidents.Incident, error) {
	val, closer, err := s.db.Get(key(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, incidents.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not load incident: %w", err)
	}
	defer closer.Close()
	var inc incidents.Incident
	if err := json.Unmarshal(val, &inc); err != nil {
		return nil, fmt.Errorf("could not decode incident: %w", err)
	}
	return &inc, nil
}

func (s *Store) save(inc *incidents.Incident) error {
	val, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("could not encode incident: %w", err)
	}
	if err := s.db.Set(key(inc.ID), val, pebble.Sync); err != nil {
		return fmt.Errorf("could not store incident: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, inc *incidents.Incident) (string, error) {
	id := incidents.PrepareNew(inc, time.Now().UTC())
	if err := s.save(inc); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) (*incidents.Incident, error) {
	return s.load(id)
}

func (s *Store) List(ctx context.Context, f incidents.ListFilter) ([]incidents.Incident, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lowerBound,
		UpperBound: upperBound,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create iterator: %w", err)
	}
	defer iter.Close()

	res := []incidents.Incident{}
	for valid := iter.First(); valid; valid = iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("could not read incident: %w", err)
		}
		var inc incidents.Incident
		if err := json.Unmarshal(val, &inc); err != nil {
			return nil, fmt.Errorf("could not decode incident: %w", err)
		}
		if f.Matches(&inc) {
			res = append(res, inc)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	incidents.SortNewestFirst(res)
	return f.Truncate(res), nil
}

func (s *Store) AppendVerifier(ctx context.Context, id, verifier string, quorum int) (incidents.AppendResult, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	inc, err := s.load(id)
	if err != nil {
		return incidents.AppendResult{}, err
	}
	appended, transitioned := incidents.ApplyVerifier(inc, verifier, quorum, time.Now().UTC())
	if appended {
		if err := s.save(inc); err != nil {
			return incidents.AppendResult{}, err
		}
	}
	return incidents.AppendResult{Incident: inc, Appended: appended, Transitioned: transitioned}, nil
}
