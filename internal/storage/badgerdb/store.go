// Package badgerdb stores incidents in Badger. Appends run in serializable
// transactions and are retried on write conflicts.
package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v2"

	"nexuswatch/internal/incidents"
)

var prefix = []byte("incident/")

func key(id string) []byte {
	return append(append([]byte{}, prefix...), id...)
}

type Store struct {
	db *badger.DB
}

// Open opens a Badger database in dir. An empty dir opens an in-memory
// database.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// retryOnConflict reruns op while the commit loses a conflict against a
// concurrent transaction.
func (s *Store) retryOnConflict(ctx context.Context, op func(tx *badger.Txn) error) error {
	for {
		err := s.db.Update(op)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func retrieve(tx *badger.Txn, id string) (*incidents.Incident, error) {
	item, err := tx.Get(key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, incidents.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not load incident: %w", err)
	}
	var inc incidents.Incident
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &inc)
	})
	if err != nil {
		return nil, fmt.Errorf("could not decode incident: %w", err)
	}
	return &inc, nil
}

func put(tx *badger.Txn, inc *incidents.Incident) error {
	val, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("could not encode incident: %w", err)
	}
	if err := tx.Set(key(inc.ID), val); err != nil {
		return fmt.Errorf("could not store incident: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, inc *incidents.Incident) (string, error) {
	id := incidents.PrepareNew(inc, time.Now().UTC())
	err := s.retryOnConflict(ctx, func(tx *badger.Txn) error {
		return put(tx, inc)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) (*incidents.Incident, error) {
	var inc *incidents.Incident
	err := s.db.View(func(tx *badger.Txn) error {
		var err error
		inc, err = retrieve(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inc, nil
}

func (s *Store) List(ctx context.Context, f incidents.ListFilter) ([]incidents.Incident, error) {
	res := []incidents.Incident{}
	err := s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := tx.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var inc incidents.Incident
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &inc)
			})
			if err != nil {
				return fmt.Errorf("could not decode incident: %w", err)
			}
			if f.Matches(&inc) {
				res = append(res, inc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	incidents.SortNewestFirst(res)
	return f.Truncate(res), nil
}

func (s *Store) AppendVerifier(ctx context.Context, id, verifier string, quorum int) (incidents.AppendResult, error) {
	var res incidents.AppendResult
	err := s.retryOnConflict(ctx, func(tx *badger.Txn) error {
		inc, err := retrieve(tx, id)
		if err != nil {
			return err
		}
		appended, transitioned := incidents.ApplyVerifier(inc, verifier, quorum, time.Now().UTC())
		res = incidents.AppendResult{Incident: inc, Appended: appended, Transitioned: transitioned}
		if !appended {
			return nil
		}
		return put(tx, inc)
	})
	if err != nil {
		return incidents.AppendResult{}, err
	}
	return res, nil
}
