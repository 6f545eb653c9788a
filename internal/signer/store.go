// store.go - Spent-nullifier stores.
//
// A validator records every nullifier it signed a transaction for, keyed to
// the id of that transaction. Reserve is all-or-nothing: if any key is taken,
// nothing is written and the conflicting keys are returned.

package signer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// NullifierStore is the validator's view of spent nullifiers.
type NullifierStore interface {
	// Reserve atomically records keys as owned by value. It returns the keys
	// already owned by a different value; on conflict nothing is written.
	Reserve(ctx context.Context, keys []string, value string) ([]string, error)
	// Lookup returns the value owning key, if any.
	Lookup(ctx context.Context, key string) (string, bool, error)
}

// Ledger is an in-memory NullifierStore, optionally persisted to a JSON file
// after every successful reservation.
type Ledger struct {
	mu      sync.Mutex
	Entries map[string]string `json:"entries"`
	path    string
}

// NewLedger returns an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{Entries: make(map[string]string)}
}

// OpenLedger loads the ledger at path, creating an empty one if the file does
// not exist yet. Every reservation is written back to path.
func OpenLedger(path string) (*Ledger, error) {
	l := NewLedger()
	l.path = path
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read nullifier ledger")
	}
	if err := json.Unmarshal(data, l); err != nil {
		return nil, errors.Wrap(err, "decode nullifier ledger")
	}
	if l.Entries == nil {
		l.Entries = make(map[string]string)
	}
	return l, nil
}

// Reserve implements NullifierStore.
func (l *Ledger) Reserve(_ context.Context, keys []string, value string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var conflicts []string
	for _, k := range keys {
		if owner, ok := l.Entries[k]; ok && owner != value {
			conflicts = append(conflicts, k)
		}
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}
	var added []string
	for _, k := range keys {
		if _, ok := l.Entries[k]; !ok {
			l.Entries[k] = value
			added = append(added, k)
		}
	}
	if len(added) > 0 && l.path != "" {
		if err := l.save(); err != nil {
			for _, k := range added {
				delete(l.Entries, k)
			}
			return nil, err
		}
	}
	return nil, nil
}

// Lookup implements NullifierStore.
func (l *Ledger) Lookup(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.Entries[key]
	return v, ok, nil
}

// Len returns the number of recorded keys.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Entries)
}

// save writes the ledger atomically; callers hold mu.
func (l *Ledger) save() error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode nullifier ledger")
	}
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create ledger directory")
		}
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write nullifier ledger")
	}
	return errors.Wrap(os.Rename(tmp, l.path), "replace nullifier ledger")
}
