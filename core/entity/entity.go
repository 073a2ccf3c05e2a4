/*
Package entity turns independently declared schemas into live,
relationship-aware storage-backed models.

Declarations are registered at wiring time, before storage connectivity
exists. Init binds them against a store in dependency order, applies the
explicitly declared relations and then auto-detects the remaining ones from
the column naming convention: a non-primary-key column whose name matches
another entity's primary key and ends with "Id" establishes a
belongs-to/has-many pair.
*/
package entity

import (
	"github.com/relabs-tech/modelapi/core/store"
)

// Kind is the kind of a relation between two entities.
type Kind string

// all supported relation kinds
const (
	BelongsTo     Kind = "belongsTo"
	HasOne        Kind = "hasOne"
	HasMany       Kind = "hasMany"
	BelongsToMany Kind = "belongsToMany"
)

// Relation links the declaring entity to a target entity via a foreign-key
// column. For BelongsToMany the foreign keys live in the Through join table.
type Relation struct {
	Kind       Kind
	Target     string
	ForeignKey string
	// As is the alias the relation is known under; defaults to the
	// target entity name.
	As string
	// Through names the join table for BelongsToMany relations.
	Through string
	// OtherKey is the join table column referencing the target for
	// BelongsToMany relations.
	OtherKey string
}

// Alias returns the name the relation is known under.
func (rel Relation) Alias() string {
	if rel.As != "" {
		return rel.As
	}
	return rel.Target
}

// Declaration is one declared entity. Created once at startup and never
// mutated after Init completes, except for the bound-model back-reference.
type Declaration struct {
	// Name is the globally unique entity name, used both as API path
	// segment and as storage table identifier.
	Name    string
	Columns []store.Column
	// Relations are applied before auto-detection and take precedence.
	Relations []Relation
	// Roles restricts access to callers carrying all of these roles.
	Roles []string
	// PublicRead exempts GET/HEAD from authentication.
	PublicRead bool
	// PublicWrite exempts POST/PUT/PATCH/DELETE from authentication.
	PublicWrite bool
	// PayloadSchema optionally validates write payloads as a JSON schema.
	PayloadSchema string
	// OnChange is invoked asynchronously after a successful write. It
	// must not be relied upon for read-your-writes consistency.
	OnChange func(entity string, record store.Record)

	model *Model
}

// Schema returns the physical schema of the declaration.
func (d *Declaration) Schema() store.Schema {
	return store.Schema{Name: d.Name, Columns: d.Columns}
}

// PrimaryKey returns the name of the primary key column.
func (d *Declaration) PrimaryKey() string {
	return d.Schema().PrimaryKey()
}

// Column returns the declared column with the given name.
func (d *Declaration) Column(name string) (store.Column, bool) {
	return d.Schema().Column(name)
}

// HasColumn returns true if the declaration has a column with the given name.
func (d *Declaration) HasColumn(name string) bool {
	return d.Schema().HasColumn(name)
}

// Model returns the bound model, or nil before Init or when binding failed.
func (d *Declaration) Model() *Model {
	return d.model
}

// Association is an applied relation together with its resolved target
// model.
type Association struct {
	Relation
	Target *Model
}

// Model is the live, storage-backed handle for an initialized entity. Its
// association table is read-only at steady state, so concurrent readers are
// safe by construction.
type Model struct {
	Decl  *Declaration
	Store store.Store

	associations map[string]Association
	aliases      []string
}

// Name returns the entity name.
func (m *Model) Name() string {
	return m.Decl.Name
}

// PrimaryKey returns the name of the primary key column.
func (m *Model) PrimaryKey() string {
	return m.Decl.PrimaryKey()
}

// Association returns the association known under the given alias.
func (m *Model) Association(alias string) (Association, bool) {
	a, ok := m.associations[alias]
	return a, ok
}

// Associations returns the applied association aliases in application order.
func (m *Model) Associations() []string {
	return m.aliases
}

func (m *Model) associate(alias string, a Association) bool {
	if m.associations == nil {
		m.associations = map[string]Association{}
	}
	// only the first relationship found under a given alias is kept
	if _, ok := m.associations[alias]; ok {
		return false
	}
	m.associations[alias] = a
	m.aliases = append(m.aliases, alias)
	return true
}
