/*
Package query implements generic, policy-agnostic CRUD and ad-hoc filtering
over any bound model: list with pagination and ordering, primary-key get,
upsert, delete, single-field patch and batch delete, plus the small
filter-operator DSL parsed from query-string values.
*/
package query

import (
	"context"

	"github.com/google/uuid"

	"github.com/relabs-tech/modelapi/core"
	"github.com/relabs-tech/modelapi/core/entity"
	"github.com/relabs-tech/modelapi/core/logger"
	"github.com/relabs-tech/modelapi/core/notify"
	"github.com/relabs-tech/modelapi/core/store"
)

// DefaultLimit is the page size used when the caller does not specify one.
const DefaultLimit = 100

// PagedResult is the list response envelope. HasMore is derived, never
// stored.
type PagedResult struct {
	Items   []store.Record `json:"items"`
	Offset  int            `json:"offset"`
	Limit   int            `json:"limit"`
	Total   int            `json:"total"`
	HasMore bool           `json:"hasMore"`
}

// ListOptions parameterizes List.
type ListOptions struct {
	Filters []store.Filter
	Limit   int
	Offset  int
	OrderBy string
	// Include names association aliases to expand one level deep.
	Include []string
}

// Engine executes generic storage operations for bound models. The zero
// value is usable; Notify is optional.
type Engine struct {
	// Notify receives a change for every successful write. The dispatch
	// is fire-and-forget and not required to complete before the
	// response is returned.
	Notify *notify.Dispatcher
}

// List executes a count-and-fetch and returns one page.
func (e *Engine) List(ctx context.Context, m *entity.Model, opt ListOptions) (PagedResult, error) {
	limit := opt.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := opt.Offset
	if offset < 0 {
		offset = 0
	}
	q := store.ListQuery{
		Filters: opt.Filters,
		Order:   ParseOrderBy(m.Decl, opt.OrderBy),
		Limit:   limit,
		Offset:  offset,
	}
	items, total, err := m.Store.Query(ctx, m.Name(), q)
	if err != nil {
		return PagedResult{}, err
	}
	if items == nil {
		items = []store.Record{}
	}
	if err := e.expandIncludes(ctx, m, opt.Include, items); err != nil {
		return PagedResult{}, err
	}
	return PagedResult{
		Items:   items,
		Offset:  offset,
		Limit:   limit,
		Total:   total,
		HasMore: total > offset+limit,
	}, nil
}

// expandIncludes embeds associated records one level deep under the
// association alias. Unknown aliases are ignored.
func (e *Engine) expandIncludes(ctx context.Context, m *entity.Model, include []string, items []store.Record) error {
	for _, alias := range include {
		assoc, ok := m.Association(alias)
		if !ok {
			continue
		}
		target := assoc.Target
		for _, item := range items {
			switch assoc.Kind {
			case entity.BelongsTo, entity.HasOne:
				fk, ok := item[assoc.ForeignKey].(string)
				if !ok || fk == "" {
					continue
				}
				rec, err := target.Store.Get(ctx, target.Name(), target.PrimaryKey(), fk)
				if err == store.ErrNotFound {
					continue
				}
				if err != nil {
					return err
				}
				item[alias] = rec
			case entity.HasMany:
				id, ok := item[m.PrimaryKey()].(string)
				if !ok {
					continue
				}
				children, _, err := target.Store.Query(ctx, target.Name(), store.ListQuery{
					Filters: []store.Filter{{Field: assoc.ForeignKey, Op: store.OpEquals, Value: id}},
					Limit:   DefaultLimit,
				})
				if err != nil {
					return err
				}
				item[alias] = children
			}
		}
	}
	return nil
}

// GetIfExists returns the record with the given primary key or a
// NotFoundError.
func (e *Engine) GetIfExists(ctx context.Context, m *entity.Model, id string) (store.Record, error) {
	rec, err := m.Store.Get(ctx, m.Name(), m.PrimaryKey(), id)
	if err == store.ErrNotFound {
		return nil, &NotFoundError{Entity: m.Name(), ID: id}
	}
	return rec, err
}

// CreateOrUpdate upserts the payload keyed on the primary key. A payload
// without a primary key is treated as an insert with a generated key when
// the column declares a default-generation rule. On success the change is
// dispatched asynchronously to the entity's change callback and the
// configured notification sinks.
func (e *Engine) CreateOrUpdate(ctx context.Context, m *entity.Model, payload store.Record) (store.Record, error) {
	pk := m.PrimaryKey()
	id, _ := payload[pk].(string)
	if id == "" {
		col, _ := m.Decl.Column(pk)
		if !col.GenerateID {
			return nil, &BadRequestError{Message: "payload is missing primary key " + pk}
		}
		payload[pk] = uuid.NewString()
	}
	rec, err := m.Store.Upsert(ctx, m.Name(), pk, payload)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("%s.createOrUpdate", m.Name())
		return nil, err
	}
	e.dispatch(m, core.OperationUpdate, rec)
	return rec, nil
}

// DeleteIfExists deletes the record with the given primary key via
// get-then-delete. A NotFoundError propagates if the record never existed.
func (e *Engine) DeleteIfExists(ctx context.Context, m *entity.Model, id string) (bool, error) {
	rec, err := e.GetIfExists(ctx, m, id)
	if err != nil {
		return false, err
	}
	if err := m.Store.Delete(ctx, m.Name(), m.PrimaryKey(), id); err != nil {
		if err == store.ErrNotFound {
			return false, &NotFoundError{Entity: m.Name(), ID: id}
		}
		return false, err
	}
	e.dispatch(m, core.OperationDelete, rec)
	return true, nil
}

// GridPatch updates a single column via get-then-mutate-then-save. The
// sequence is not atomic against concurrent patches to the same record: the
// second save can overwrite fields read before the first save committed.
func (e *Engine) GridPatch(ctx context.Context, m *entity.Model, id string, field string, value interface{}) (store.Record, error) {
	if !m.Decl.HasColumn(field) {
		return nil, &BadRequestError{Message: "unknown field " + field}
	}
	if col, _ := m.Decl.Column(field); col.PrimaryKey {
		return nil, &BadRequestError{Message: "cannot patch primary key " + field}
	}
	rec, err := e.GetIfExists(ctx, m, id)
	if err != nil {
		return nil, err
	}
	rec[field] = value
	rec, err = m.Store.Upsert(ctx, m.Name(), m.PrimaryKey(), rec)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("%s.gridPatch", m.Name())
		return nil, err
	}
	e.dispatch(m, core.OperationUpdate, rec)
	return rec, nil
}

// GridDelete deletes all records whose primary key is in ids and returns
// the number deleted.
func (e *Engine) GridDelete(ctx context.Context, m *entity.Model, ids []string) (int, error) {
	deleted, err := m.Store.DeleteMany(ctx, m.Name(), m.PrimaryKey(), ids)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("%s.gridDelete", m.Name())
		return 0, err
	}
	e.dispatch(m, core.OperationClear, store.Record{m.PrimaryKey(): ids})
	return deleted, nil
}

func (e *Engine) dispatch(m *entity.Model, op core.Operation, rec store.Record) {
	if e.Notify == nil {
		if m.Decl.OnChange != nil {
			// no dispatcher configured, still honor the callback
			// without blocking the caller
			go m.Decl.OnChange(m.Name(), rec)
		}
		return
	}
	e.Notify.Dispatch(notify.Change{Entity: m.Name(), Operation: op, Record: rec}, m.Decl.OnChange)
}
