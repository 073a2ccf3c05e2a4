// Package memstore provides an in-memory Store implementation. It keeps
// insertion order stable and is safe for concurrent use, which makes it
// the storage engine of choice for unit tests and local experiments.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/relabs-tech/modelapi/core/store"
)

type table struct {
	schema store.Schema
	rows   map[string]store.Record
	order  []string
}

// Store keeps all records in process memory.
type Store struct {
	mutex  sync.RWMutex
	tables map[string]*table
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{tables: map[string]*table{}}
}

// Bind creates the table for schema. Binding the same name twice replaces
// the schema but keeps the data, mirroring an idempotent migration.
func (s *Store) Bind(ctx context.Context, schema store.Schema) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if schema.Name == "" {
		return fmt.Errorf("schema has no name")
	}
	if t, ok := s.tables[schema.Name]; ok {
		t.schema = schema
		return nil
	}
	s.tables[schema.Name] = &table{
		schema: schema,
		rows:   map[string]store.Record{},
	}
	return nil
}

func (s *Store) lookup(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", name)
	}
	return t, nil
}

// Query returns matching records in insertion order unless q orders
// otherwise, plus the total match count before limit and offset.
func (s *Store) Query(ctx context.Context, name string, q store.ListQuery) ([]store.Record, int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	t, err := s.lookup(name)
	if err != nil {
		return nil, 0, err
	}

	matches := []store.Record{}
	for _, id := range t.order {
		record := t.rows[id]
		if matchesFilters(record, q.Filters) {
			matches = append(matches, record)
		}
	}
	orderRecords(matches, q.Order)
	total := len(matches)

	offset := q.Offset
	if offset > total {
		offset = total
	}
	matches = matches[offset:]
	if q.Limit > 0 && q.Limit < len(matches) {
		matches = matches[:q.Limit]
	}

	result := make([]store.Record, len(matches))
	for i, record := range matches {
		result[i] = copyRecord(record)
	}
	return result, total, nil
}

// Get returns the record with the given primary key or ErrNotFound.
func (s *Store) Get(ctx context.Context, name, pkColumn, id string) (store.Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	t, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	record, ok := t.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyRecord(record), nil
}

// Upsert inserts or replaces the record keyed by its primary key.
func (s *Store) Upsert(ctx context.Context, name, pkColumn string, record store.Record) (store.Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	t, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	id, ok := record[pkColumn].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("record has no %s", pkColumn)
	}
	stored := copyRecord(record)
	for _, column := range t.schema.Columns {
		if _, ok := stored[column.Name]; !ok {
			stored[column.Name] = nil
		}
	}
	if _, exists := t.rows[id]; !exists {
		t.order = append(t.order, id)
	}
	t.rows[id] = stored
	return copyRecord(stored), nil
}

// Delete removes the record or returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, name, pkColumn, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	if _, ok := t.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.rows, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// DeleteMany removes the listed records and returns how many existed.
func (s *Store) DeleteMany(ctx context.Context, name, pkColumn string, ids []string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	t, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if _, ok := t.rows[id]; !ok {
			continue
		}
		delete(t.rows, id)
		deleted++
	}
	if deleted > 0 {
		kept := t.order[:0]
		for _, id := range t.order {
			if _, ok := t.rows[id]; ok {
				kept = append(kept, id)
			}
		}
		t.order = kept
	}
	return deleted, nil
}

func copyRecord(record store.Record) store.Record {
	clone := make(store.Record, len(record))
	for k, v := range record {
		clone[k] = v
	}
	return clone
}

func matchesFilters(record store.Record, filters []store.Filter) bool {
	for _, filter := range filters {
		if !matchesFilter(record, filter) {
			return false
		}
	}
	return true
}

func matchesFilter(record store.Record, filter store.Filter) bool {
	value, ok := record[filter.Field]
	if !ok || value == nil {
		return false
	}
	text := stringValue(value)
	switch filter.Op {
	case store.OpEquals:
		return text == filter.Value
	case store.OpLike:
		return strings.Contains(strings.ToLower(text), strings.ToLower(filter.Value))
	case store.OpNotLike:
		return !strings.Contains(strings.ToLower(text), strings.ToLower(filter.Value))
	case store.OpGreaterThan:
		return compareValues(value, filter.Value) > 0
	case store.OpLessThan:
		return compareValues(value, filter.Value) < 0
	case store.OpBetween:
		return compareValues(value, filter.Value) >= 0 &&
			compareValues(value, filter.Upper) <= 0
	case store.OpIn:
		for _, candidate := range strings.Split(filter.Value, ",") {
			if text == strings.TrimSpace(candidate) {
				return true
			}
		}
		return false
	}
	return false
}

// compareValues compares a stored value against a filter operand,
// numerically when both sides parse as numbers and lexically otherwise.
func compareValues(value interface{}, operand string) int {
	left, leftOK := numericValue(value)
	right, rightErr := strconv.ParseFloat(operand, 64)
	if leftOK && rightErr == nil {
		switch {
		case left < right:
			return -1
		case left > right:
			return 1
		}
		return 0
	}
	return strings.Compare(stringValue(value), operand)
}

func numericValue(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func stringValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func orderRecords(records []store.Record, order []store.Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, o := range order {
			c := compareValues(records[i][o.Field], stringValue(records[j][o.Field]))
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
