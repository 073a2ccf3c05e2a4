/*
Package store defines the storage engine collaborator: the physical schema
vocabulary (columns and their types) and the handful of operations the query
engine needs. The sqlstore package implements it on postgres, the memstore
package in memory.
*/
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete when the primary key does not
// exist.
var ErrNotFound = errors.New("record not found")

// ColumnType is the declared type of a column.
type ColumnType string

// all supported column types
const (
	TypeUUID   ColumnType = "uuid"
	TypeString ColumnType = "string"
	TypeInt    ColumnType = "int"
	TypeFloat  ColumnType = "float"
	TypeBool   ColumnType = "bool"
	TypeTime   ColumnType = "time"
	TypeJSON   ColumnType = "json"
)

// Column is a single declared column.
type Column struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
	Nullable   bool
	// GenerateID requests a generated uuid v4 primary key when an
	// inserted record carries none.
	GenerateID bool
}

// Schema is the physical schema of one entity: the entity name doubles as
// the table identifier.
type Schema struct {
	Name    string
	Columns []Column
}

// PrimaryKey returns the name of the primary key column, or the empty
// string if none is declared.
func (s Schema) PrimaryKey() string {
	for _, c := range s.Columns {
		if c.PrimaryKey {
			return c.Name
		}
	}
	return ""
}

// Column returns the column with the given name.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn returns true if the schema declares a column with the given name.
func (s Schema) HasColumn(name string) bool {
	_, ok := s.Column(name)
	return ok
}

// Record is one row, keyed by column name.
type Record map[string]interface{}

// Operator is a filter comparison operator.
type Operator string

// all supported filter operators
const (
	OpEquals      Operator = "eq"
	OpLike        Operator = "like"
	OpNotLike     Operator = "notlike"
	OpGreaterThan Operator = "gt"
	OpLessThan    Operator = "lt"
	OpBetween     Operator = "between"
	// OpIn is used internally for batch deletes.
	OpIn Operator = "in"
)

// Filter compares a column against one operand, or two for OpBetween.
type Filter struct {
	Field string
	Op    Operator
	Value string
	// Upper is the inclusive upper bound for OpBetween.
	Upper string
}

// Order is one ordering criterion.
type Order struct {
	Field      string
	Descending bool
}

// ListQuery describes a filtered, ordered, paginated read.
type ListQuery struct {
	Filters []Filter
	Order   []Order
	Limit   int
	Offset  int
}

// Store is the durable storage engine. Implementations must be safe for
// concurrent use after Bind.
type Store interface {
	// Bind materializes the declared columns under the schema name,
	// creating the physical table if needed.
	Bind(ctx context.Context, schema Schema) error
	// Query returns matching records and the total match count ignoring
	// limit and offset.
	Query(ctx context.Context, name string, q ListQuery) ([]Record, int, error)
	// Get returns the record with the given primary key, or ErrNotFound.
	Get(ctx context.Context, name string, pkColumn string, id string) (Record, error)
	// Upsert inserts or fully updates the record keyed by its primary key
	// and returns the stored version.
	Upsert(ctx context.Context, name string, pkColumn string, rec Record) (Record, error)
	// Delete removes the record with the given primary key, or returns
	// ErrNotFound.
	Delete(ctx context.Context, name string, pkColumn string, id string) error
	// DeleteMany removes all records whose primary key is in ids and
	// returns the number deleted.
	DeleteMany(ctx context.Context, name string, pkColumn string, ids []string) (int, error)
}
