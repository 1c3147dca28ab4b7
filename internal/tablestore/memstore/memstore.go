// Package memstore implements tablestore.Store with plain in-process maps.
// It backs service tests and keeps semantics identical to the SQL store:
// filters, upsert conflict keys, and patch updates behave the same way.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/archeonlabs/cloudcore/internal/tablestore"
)

type Store struct {
	mu   sync.RWMutex
	data map[string][]tablestore.Row
}

func New() *Store {
	return &Store{data: make(map[string][]tablestore.Row)}
}

func (s *Store) Insert(ctx context.Context, collection string, row tablestore.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[collection] = append(s.data[collection], cloneRow(row))
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, row tablestore.Row, conflictKeys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(conflictKeys) > 0 {
		for i, existing := range s.data[collection] {
			if matchesKeys(existing, row, conflictKeys) {
				merged := cloneRow(existing)
				for k, v := range row {
					merged[k] = v
				}
				s.data[collection][i] = merged
				return nil
			}
		}
	}
	s.data[collection] = append(s.data[collection], cloneRow(row))
	return nil
}

func (s *Store) Select(ctx context.Context, collection string, f tablestore.Filter) ([]tablestore.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []tablestore.Row
	for _, row := range s.data[collection] {
		if matches(row, f) {
			out = append(out, cloneRow(row))
		}
	}

	if f.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			less := lessValue(out[i][f.OrderBy], out[j][f.OrderBy])
			if f.Desc {
				return !less && !equalValue(out[i][f.OrderBy], out[j][f.OrderBy])
			}
			return less
		})
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, collection string, f tablestore.Filter, patch tablestore.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, row := range s.data[collection] {
		if matches(row, f) {
			merged := cloneRow(row)
			for k, v := range patch {
				merged[k] = v
			}
			s.data[collection][i] = merged
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection string, f tablestore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.data[collection][:0]
	for _, row := range s.data[collection] {
		if !matches(row, f) {
			kept = append(kept, row)
		}
	}
	s.data[collection] = kept
	return nil
}

// InTx satisfies tablestore.Transactor. The map store has no real
// transactions; fn runs directly and partial effects are not rolled back.
func (s *Store) InTx(ctx context.Context, fn func(tablestore.Store) error) error {
	return fn(s)
}

// Count reports the number of rows currently held by a collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[collection])
}

func matches(row tablestore.Row, f tablestore.Filter) bool {
	for _, c := range f.Conds {
		got := row[c.Field]
		switch c.Op {
		case tablestore.OpEq:
			if !equalValue(got, c.Value) {
				return false
			}
		case tablestore.OpNeq:
			if equalValue(got, c.Value) {
				return false
			}
		case tablestore.OpLt:
			if !lessValue(got, c.Value) {
				return false
			}
		}
	}
	return true
}

func matchesKeys(existing, row tablestore.Row, keys []string) bool {
	for _, k := range keys {
		if !equalValue(existing[k], row[k]) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if na, ok := asFloat(a); ok {
		nb, ok := asFloat(b)
		return ok && na == nb
	}
	return a == b
}

func lessValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Before(tb)
	}
	if na, ok := asFloat(a); ok {
		nb, ok := asFloat(b)
		return ok && na < nb
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	return aok && bok && sa < sb
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func cloneRow(r tablestore.Row) tablestore.Row {
	c := make(tablestore.Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}
