// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	xglog "github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/metrics"
)

const (
	entrySuffix   = ".json"
	corruptSuffix = ".corrupt"
	lockName      = ".lock"
)

// Entry is one persisted alert.
type Entry struct {
	Name  string `json:"name"`
	Alert Alert  `json:"alert"`
}

// DeadLetterStore keeps undelivered alerts as one JSON file each, named by
// creation time so a directory listing is oldest first. Writers and the
// flusher serialise on an advisory lock file inside the directory.
type DeadLetterStore struct {
	dir string
	mu  sync.Mutex
}

// OpenDeadLetterStore creates dir if needed.
func OpenDeadLetterStore(dir string) (*DeadLetterStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("dead-letter dir: %w", err)
	}
	s := &DeadLetterStore{dir: dir}
	if n, err := s.Len(); err == nil {
		metrics.DeadLetterBacklog.Set(float64(n))
	}
	return s, nil
}

// Dir returns the store directory.
func (s *DeadLetterStore) Dir() string { return s.dir }

// EntryName is the file name for a.
func EntryName(a Alert) string {
	return fmt.Sprintf("%020d-%s%s", a.CreatedAt.UnixNano(), a.ID, entrySuffix)
}

// Put persists a durably. Writing the same alert again replaces its entry.
func (s *DeadLetterStore) Put(a Alert) (string, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode alert %s: %w", a.ID, err)
	}
	name := EntryName(a)

	err = s.locked(func() error {
		return writeFileAtomic(filepath.Join(s.dir, name), data)
	})
	if err != nil {
		return "", fmt.Errorf("persist alert %s: %w", a.ID, err)
	}
	s.publish()
	return name, nil
}

// List returns all entries, oldest first. Unreadable entries are renamed
// aside so they are not retried forever.
func (s *DeadLetterStore) List() ([]Entry, error) {
	var out []Entry
	err := s.locked(func() error {
		names, err := s.names()
		if err != nil {
			return err
		}
		for _, name := range names {
			path := filepath.Join(s.dir, name)
			// #nosec G304 -- names come from our own directory listing
			data, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return fmt.Errorf("read %s: %w", name, err)
			}
			var a Alert
			if err := json.Unmarshal(data, &a); err != nil || a.ID == "" {
				logger := xglog.WithComponent("alert")
				logger.Error().
					Str("event", "alert.deadletter_corrupt").
					Str(xglog.FieldPath, path).
					Msg("unreadable dead-letter entry moved aside")
				_ = os.Rename(path, path+corruptSuffix)
				continue
			}
			out = append(out, Entry{Name: name, Alert: a})
		}
		return nil
	})
	return out, err
}

// Remove deletes an entry after successful delivery.
func (s *DeadLetterStore) Remove(name string) error {
	if name != filepath.Base(name) || !strings.HasSuffix(name, entrySuffix) {
		return fmt.Errorf("invalid dead-letter entry name %q", name)
	}
	err := s.locked(func() error {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return syncDir(s.dir)
	})
	if err != nil {
		return fmt.Errorf("remove dead-letter entry %s: %w", name, err)
	}
	s.publish()
	return nil
}

// Len counts pending entries.
func (s *DeadLetterStore) Len() (int, error) {
	var n int
	err := s.locked(func() error {
		names, err := s.names()
		n = len(names)
		return err
	})
	return n, err
}

func (s *DeadLetterStore) names() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list dead-letter dir: %w", err)
	}
	var names []string
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), entrySuffix) || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *DeadLetterStore) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockDir(filepath.Join(s.dir, lockName))
	if err != nil {
		return fmt.Errorf("lock dead-letter dir: %w", err)
	}
	defer unlock()
	return fn()
}

func (s *DeadLetterStore) publish() {
	if n, err := s.Len(); err == nil {
		metrics.DeadLetterBacklog.Set(float64(n))
	}
}
