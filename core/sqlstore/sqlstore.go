// Package sqlstore implements the Store interface on PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/relabs-tech/modelapi/core/csql"
	"github.com/relabs-tech/modelapi/core/logger"
	"github.com/relabs-tech/modelapi/core/store"
)

// Store persists records in PostgreSQL, one table per bound schema inside
// the database schema of the underlying connection.
type Store struct {
	db *csql.DB

	mutex   sync.RWMutex
	schemas map[string]store.Schema
}

var _ store.Store = (*Store)(nil)

// New returns a store backed by db.
func New(db *csql.DB) *Store {
	return &Store{db: db, schemas: map[string]store.Schema{}}
}

var sqlTypes = map[store.ColumnType]string{
	store.TypeUUID:   "uuid",
	store.TypeString: "varchar",
	store.TypeInt:    "bigint",
	store.TypeFloat:  "numeric",
	store.TypeBool:   "boolean",
	store.TypeTime:   "timestamp with time zone",
	store.TypeJSON:   "jsonb",
}

// Bind creates the table for schema if it does not exist yet. Column
// names are quoted so the camel case of the declarations survives.
func (s *Store) Bind(ctx context.Context, schema store.Schema) error {
	columns := make([]string, 0, len(schema.Columns))
	for _, column := range schema.Columns {
		sqlType, ok := sqlTypes[column.Type]
		if !ok {
			return fmt.Errorf("column %s of %s has unsupported type %q",
				column.Name, schema.Name, column.Type)
		}
		definition := fmt.Sprintf("\"%s\" %s", column.Name, sqlType)
		if column.PrimaryKey {
			definition += " PRIMARY KEY"
		}
		columns = append(columns, definition)
	}
	createQuery := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.\"%s\" (%s);",
		s.db.Schema, schema.Name, strings.Join(columns, ", "))
	logger.Default().Debugln("create table:", createQuery)
	_, err := s.db.ExecContext(ctx, createQuery)
	if err != nil {
		return fmt.Errorf("cannot create table %s: %w", schema.Name, err)
	}
	s.mutex.Lock()
	s.schemas[schema.Name] = schema
	s.mutex.Unlock()
	return nil
}

// Query selects matching records plus the total match count, using a
// window function so one round trip answers both.
func (s *Store) Query(ctx context.Context, name string, q store.ListQuery) ([]store.Record, int, error) {
	schema, err := s.tableSchema(ctx, name)
	if err != nil {
		return nil, 0, err
	}

	sqlQuery := fmt.Sprintf("SELECT *, count(*) OVER() AS full_count FROM %s.\"%s\"",
		s.db.Schema, name)
	where, params := filterClauses(q.Filters)
	if where != "" {
		sqlQuery += " WHERE " + where
	}
	sqlQuery += orderClause(q.Order, schema.PrimaryKey())
	argIndex := len(params)
	if q.Limit > 0 {
		params = append(params, q.Limit)
		argIndex++
		sqlQuery += fmt.Sprintf(" LIMIT $%d", argIndex)
	}
	if q.Offset > 0 {
		params = append(params, q.Offset)
		argIndex++
		sqlQuery += fmt.Sprintf(" OFFSET $%d", argIndex)
	}
	sqlQuery += ";"

	rows, err := s.db.QueryContext(ctx, sqlQuery, params...)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot query %s: %w", name, err)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, 0, err
	}

	result := []store.Record{}
	total := 0
	for rows.Next() {
		holders := make([]interface{}, len(columnNames))
		for i, columnName := range columnNames {
			holders[i] = scanHolder(schema, columnName)
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, 0, err
		}
		record := store.Record{}
		for i, columnName := range columnNames {
			if columnName == "full_count" {
				total = int(*holders[i].(*int64))
				continue
			}
			record[columnName] = holderValue(holders[i])
		}
		result = append(result, record)
	}
	return result, total, rows.Err()
}

// Get returns the record with the given primary key or ErrNotFound.
func (s *Store) Get(ctx context.Context, name, pkColumn, id string) (store.Record, error) {
	schema, err := s.tableSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	sqlQuery := fmt.Sprintf("SELECT * FROM %s.\"%s\" WHERE \"%s\" = $1;",
		s.db.Schema, name, pkColumn)
	rows, err := s.db.QueryContext(ctx, sqlQuery, id)
	if err != nil {
		return nil, fmt.Errorf("cannot get %s: %w", name, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	columnNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	holders := make([]interface{}, len(columnNames))
	for i, columnName := range columnNames {
		holders[i] = scanHolder(schema, columnName)
	}
	if err := rows.Scan(holders...); err != nil {
		return nil, err
	}
	record := store.Record{}
	for i, columnName := range columnNames {
		record[columnName] = holderValue(holders[i])
	}
	return record, nil
}

// Upsert inserts or updates the record and returns the stored row.
func (s *Store) Upsert(ctx context.Context, name, pkColumn string, record store.Record) (store.Record, error) {
	schema, err := s.tableSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	columns := []string{}
	placeholders := []string{}
	updates := []string{}
	params := []interface{}{}
	for _, column := range schema.Columns {
		value, ok := record[column.Name]
		if !ok {
			continue
		}
		params = append(params, sqlValue(column, value))
		placeholder := fmt.Sprintf("$%d", len(params))
		columns = append(columns, fmt.Sprintf("\"%s\"", column.Name))
		placeholders = append(placeholders, placeholder)
		if column.Name != pkColumn {
			updates = append(updates, fmt.Sprintf("\"%s\" = %s", column.Name, placeholder))
		}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("record for %s is empty", name)
	}
	sqlQuery := fmt.Sprintf("INSERT INTO %s.\"%s\" (%s) VALUES (%s) ON CONFLICT (\"%s\") DO ",
		s.db.Schema, name,
		strings.Join(columns, ", "), strings.Join(placeholders, ", "), pkColumn)
	if len(updates) > 0 {
		sqlQuery += "UPDATE SET " + strings.Join(updates, ", ")
	} else {
		sqlQuery += "NOTHING"
	}
	sqlQuery += ";"
	if _, err := s.db.ExecContext(ctx, sqlQuery, params...); err != nil {
		return nil, fmt.Errorf("cannot upsert %s: %w", name, err)
	}
	id, _ := record[pkColumn].(string)
	return s.Get(ctx, name, pkColumn, id)
}

// Delete removes the record with the given primary key or returns
// ErrNotFound.
func (s *Store) Delete(ctx context.Context, name, pkColumn, id string) error {
	sqlQuery := fmt.Sprintf("DELETE FROM %s.\"%s\" WHERE \"%s\" = $1;",
		s.db.Schema, name, pkColumn)
	res, err := s.db.ExecContext(ctx, sqlQuery, id)
	if err != nil {
		return fmt.Errorf("cannot delete from %s: %w", name, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteMany removes the listed records in one statement and returns how
// many rows were deleted.
func (s *Store) DeleteMany(ctx context.Context, name, pkColumn string, ids []string) (int, error) {
	sqlQuery := fmt.Sprintf("DELETE FROM %s.\"%s\" WHERE \"%s\" = ANY($1);",
		s.db.Schema, name, pkColumn)
	res, err := s.db.ExecContext(ctx, sqlQuery, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("cannot delete from %s: %w", name, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func filterClauses(filters []store.Filter) (string, []interface{}) {
	clauses := []string{}
	params := []interface{}{}
	for _, filter := range filters {
		column := fmt.Sprintf("\"%s\"", filter.Field)
		switch filter.Op {
		case store.OpEquals:
			params = append(params, filter.Value)
			clauses = append(clauses, fmt.Sprintf("%s::text = $%d", column, len(params)))
		case store.OpLike:
			params = append(params, filter.Value)
			clauses = append(clauses, fmt.Sprintf("%s::text ILIKE '%%' || $%d || '%%'", column, len(params)))
		case store.OpNotLike:
			params = append(params, filter.Value)
			clauses = append(clauses, fmt.Sprintf("%s::text NOT ILIKE '%%' || $%d || '%%'", column, len(params)))
		case store.OpGreaterThan:
			params = append(params, filter.Value)
			clauses = append(clauses, fmt.Sprintf("%s > $%d", column, len(params)))
		case store.OpLessThan:
			params = append(params, filter.Value)
			clauses = append(clauses, fmt.Sprintf("%s < $%d", column, len(params)))
		case store.OpBetween:
			params = append(params, filter.Value, filter.Upper)
			clauses = append(clauses, fmt.Sprintf("%s BETWEEN $%d AND $%d",
				column, len(params)-1, len(params)))
		case store.OpIn:
			values := strings.Split(filter.Value, ",")
			for i := range values {
				values[i] = strings.TrimSpace(values[i])
			}
			params = append(params, pq.Array(values))
			clauses = append(clauses, fmt.Sprintf("%s::text = ANY($%d)", column, len(params)))
		}
	}
	return strings.Join(clauses, " AND "), params
}

func orderClause(order []store.Order, pkColumn string) string {
	if len(order) == 0 {
		return fmt.Sprintf(" ORDER BY \"%s\"", pkColumn)
	}
	parts := make([]string, len(order))
	for i, o := range order {
		direction := "ASC"
		if o.Descending {
			direction = "DESC"
		}
		parts[i] = fmt.Sprintf("\"%s\" %s", o.Field, direction)
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func scanHolder(schema store.Schema, columnName string) interface{} {
	if columnName == "full_count" {
		return new(int64)
	}
	column, ok := schema.Column(columnName)
	if !ok {
		return new(sql.NullString)
	}
	switch column.Type {
	case store.TypeInt:
		return new(sql.NullInt64)
	case store.TypeFloat:
		return new(sql.NullFloat64)
	case store.TypeBool:
		return new(sql.NullBool)
	case store.TypeTime:
		return new(sql.NullTime)
	case store.TypeJSON:
		return new([]byte)
	default:
		return new(sql.NullString)
	}
}

func holderValue(holder interface{}) interface{} {
	switch v := holder.(type) {
	case *sql.NullString:
		if !v.Valid {
			return nil
		}
		return v.String
	case *sql.NullInt64:
		if !v.Valid {
			return nil
		}
		return v.Int64
	case *sql.NullFloat64:
		if !v.Valid {
			return nil
		}
		return v.Float64
	case *sql.NullBool:
		if !v.Valid {
			return nil
		}
		return v.Bool
	case *sql.NullTime:
		if !v.Valid {
			return nil
		}
		return v.Time
	case *[]byte:
		if *v == nil {
			return nil
		}
		var decoded interface{}
		if err := json.Unmarshal(*v, &decoded); err != nil {
			return string(*v)
		}
		return decoded
	}
	return nil
}

func sqlValue(column store.Column, value interface{}) interface{} {
	if column.Type == store.TypeJSON && value != nil {
		encoded, err := json.Marshal(value)
		if err == nil {
			return encoded
		}
	}
	return value
}

// tableSchema returns the schema bound for name, needed to pick typed
// scan holders.
func (s *Store) tableSchema(ctx context.Context, name string) (store.Schema, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	schema, ok := s.schemas[name]
	if !ok {
		return store.Schema{}, fmt.Errorf("unknown table %q", name)
	}
	return schema, nil
}
