// Package memory holds raw tables in process. It backs tests and the demo
// mode where no workbook is on disk yet.
package memory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"churnboard/internal/core"
	ports "churnboard/internal/sheets"
)

type Store struct {
	mu     sync.Mutex
	tables map[string]core.RawTable
	remote core.RawTable
	reads  int
}

var (
	_ ports.TableReader  = (*Store)(nil)
	_ ports.RemoteSource = (*Store)(nil)
)

func New() *Store {
	return &Store{tables: make(map[string]core.RawTable)}
}

// Put registers t as the content of path.
func (s *Store) Put(path string, t core.RawTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[path] = clone(t)
}

// SetRemote sets the table returned by FetchTable.
func (s *Store) SetRemote(t core.RawTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = clone(t)
}

// ReadTable returns the table stored for path.
func (s *Store) ReadTable(_ context.Context, path string) (core.RawTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	t, ok := s.tables[path]
	if !ok {
		return core.RawTable{}, fmt.Errorf("open workbook %s: %w", path, os.ErrNotExist)
	}
	if len(t.Headers) == 0 {
		return core.RawTable{}, core.ErrEmptyTable
	}
	return clone(t), nil
}

// FetchTable returns the remote table.
func (s *Store) FetchTable(_ context.Context) (core.RawTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.remote.Headers) == 0 {
		return core.RawTable{}, core.ErrEmptyTable
	}
	return clone(s.remote), nil
}

// Reads returns how many times ReadTable was called.
func (s *Store) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func clone(t core.RawTable) core.RawTable {
	out := core.RawTable{Headers: append([]string(nil), t.Headers...)}
	out.Rows = make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = append([]string(nil), r...)
	}
	return out
}
