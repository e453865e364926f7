// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package history persists per-session trace events and run
// snapshots in an embedded Badger store, so sessions can be
// inspected and replayed after the process restarts.
//
// Keys are ordered (session, step): trace/<session>/<step> and
// snapshot/<session>/<step>, with steps zero-padded so lexical
// iteration order matches execution order.
package history

import (
	"encoding/json"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/flowmesh/services/conductor/events"
)

// Store is the on-disk session archive.
//
// # Thread Safety
//
// Store is safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the archive at dir. Badger's own logger is
// silenced; the caller's structured logger reports store activity.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func traceKey(session string, step int) []byte {
	return []byte(fmt.Sprintf("trace/%s/%08d", session, step))
}

func snapshotKey(session string, step int) []byte {
	return []byte(fmt.Sprintf("snapshot/%s/%08d", session, step))
}

// AppendTrace records one trace event under (session, step). Steps
// may repeat: a node's start and completion share a step, so the
// trace id disambiguates.
func (s *Store) AppendTrace(session string, step int, payload events.TracePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	key := append(traceKey(session, step), '/')
	key = append(key, []byte(payload.TraceID+"/"+payload.Status)...)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// SaveSnapshot stores one serialized snapshot under (session, step),
// overwriting any earlier snapshot at the same step.
func (s *Store) SaveSnapshot(session string, step int, snapshot []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(session, step), snapshot)
	})
}

// Traces returns every trace event of a session in execution order.
func (s *Store) Traces(session string) ([]events.TracePayload, error) {
	prefix := []byte("trace/" + session + "/")
	var out []events.TracePayload

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var payload events.TracePayload
				if err := json.Unmarshal(val, &payload); err != nil {
					return fmt.Errorf("decode trace: %w", err)
				}
				out = append(out, payload)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot returns the serialized snapshot at (session, step).
func (s *Store) Snapshot(session string, step int) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(session, step))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("no snapshot for session %s step %d", session, step)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshots returns every serialized snapshot of a session in step
// order.
func (s *Store) Snapshots(session string) ([][]byte, error) {
	prefix := []byte("snapshot/" + session + "/")
	var out [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Sessions lists the distinct session ids that have snapshots.
func (s *Store) Sessions() ([]string, error) {
	prefix := []byte("snapshot/")
	seen := make(map[string]bool)
	var out []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			rest := key[len(prefix):]
			if i := strings.IndexByte(rest, '/'); i > 0 {
				session := rest[:i]
				if !seen[session] {
					seen[session] = true
					out = append(out, session)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
