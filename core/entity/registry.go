package entity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/relabs-tech/modelapi/core/logger"
	"github.com/relabs-tech/modelapi/core/store"
)

// Registry holds all entity declarations of one process and binds them to a
// store. Register during startup wiring, then Init exactly once before
// request traffic begins; dependents must check Initialized before relying
// on bound models.
type Registry struct {
	entities    []*Declaration
	models      map[string]*Model
	initialized bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		models: map[string]*Model{},
	}
}

// Register appends a declaration to the registry. It is callable at
// wiring time, before storage connectivity exists; the returned handle
// carries the bound model once Init completes.
func (r *Registry) Register(d *Declaration) *Declaration {
	r.entities = append(r.entities, d)
	return d
}

// Entities returns all registered declarations in declaration order.
func (r *Registry) Entities() []*Declaration {
	return r.entities
}

// Initialized reports whether Init has completed.
func (r *Registry) Initialized() bool {
	return r.initialized
}

// Model returns the bound model for the named entity, or nil.
func (r *Registry) Model(name string) *Model {
	return r.models[name]
}

// Models returns all bound models in registration order. Declarations
// that failed to bind are skipped.
func (r *Registry) Models() []*Model {
	models := make([]*Model, 0, len(r.models))
	for _, e := range r.entities {
		if m, ok := r.models[e.Name]; ok {
			models = append(models, m)
		}
	}
	return models
}

// GetAssociations returns all other entities that embed the named entity's
// primary key as a column. Used for introspection, not enforcement.
func (r *Registry) GetAssociations(name string) ([]*Declaration, error) {
	var decl *Declaration
	for _, e := range r.entities {
		if e.Name == name {
			decl = e
			break
		}
	}
	if decl == nil {
		return nil, fmt.Errorf("entity %s not found", name)
	}
	pk := decl.PrimaryKey()
	var related []*Declaration
	for _, other := range r.entities {
		if other.Name == name {
			continue
		}
		if pk != "" && other.HasColumn(pk) {
			related = append(related, other)
		}
	}
	return related, nil
}

// references returns true if b has a non-primary-key column named after
// a's primary key.
func references(b, a *Declaration) bool {
	pk := a.PrimaryKey()
	if pk == "" {
		return false
	}
	col, ok := b.Column(pk)
	return ok && !col.PrimaryKey
}

// sortEntities orders the declarations so that a referenced entity comes
// before the entity referencing it, with the user entity always first. The
// sort is stable; ties resolve by declaration order.
func sortEntities(entities []*Declaration) []*Declaration {
	sorted := append([]*Declaration{}, entities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Name == "user" {
			return b.Name != "user"
		}
		if b.Name == "user" {
			return false
		}
		return references(b, a)
	})
	return sorted
}

func validate(d *Declaration) error {
	if d.Name == "" {
		return fmt.Errorf("entity without a name")
	}
	primaries := 0
	for _, c := range d.Columns {
		if c.PrimaryKey {
			primaries++
		}
	}
	if primaries != 1 {
		return fmt.Errorf("entity %s declares %d primary key columns, want exactly one", d.Name, primaries)
	}
	for _, rel := range d.Relations {
		if rel.Kind == BelongsToMany {
			continue // foreign keys live in the through table
		}
		if rel.ForeignKey != "" && !d.HasColumn(rel.ForeignKey) && rel.Kind == BelongsTo {
			return fmt.Errorf("entity %s: relation %s has unknown foreign key column %s",
				d.Name, rel.Alias(), rel.ForeignKey)
		}
	}
	return nil
}

// Init binds all registered declarations against the store, applies the
// declared relations and auto-detects the remaining ones. It runs at most
// once per process lifetime; a second call is a no-op with a warning.
//
// Binding failures are logged and the affected entity is skipped, not fatal
// to the whole process. A known sharp edge: associations referencing a
// skipped entity silently fail to form.
func (r *Registry) Init(ctx context.Context, s store.Store) {
	rlog := logger.FromContext(ctx)
	if r.initialized {
		rlog.Warningln("registry already initialized")
		return
	}
	if s == nil {
		rlog.Errorln("no store configured, skipping registry init")
		return
	}

	sorted := sortEntities(r.entities)
	r.synthesizeJoinTables(ctx, sorted)
	sorted = sortEntities(r.entities)

	// model binding, in sorted order
	for _, decl := range sorted {
		if err := validate(decl); err != nil {
			rlog.WithError(err).Errorf("invalid entity %s, skipping", decl.Name)
			continue
		}
		if _, ok := r.models[decl.Name]; ok {
			rlog.Errorf("duplicate entity name %s, skipping", decl.Name)
			continue
		}
		if err := s.Bind(ctx, decl.Schema()); err != nil {
			rlog.WithError(err).Errorf("cannot bind entity %s, skipping", decl.Name)
			continue
		}
		m := &Model{Decl: decl, Store: s}
		decl.model = m
		r.models[decl.Name] = m
	}

	// explicit relations, in declared order
	for _, decl := range sorted {
		m := decl.model
		if m == nil {
			continue
		}
		for _, rel := range decl.Relations {
			target := r.models[rel.Target]
			if target == nil {
				rlog.Warningf("entity %s: relation %s targets unbound entity %s",
					decl.Name, rel.Alias(), rel.Target)
				continue
			}
			if rel.ForeignKey == "" {
				// belongs-to holds the target's key, has-one/has-many
				// put ours on the target
				if rel.Kind == BelongsTo {
					rel.ForeignKey = target.PrimaryKey()
				} else {
					rel.ForeignKey = decl.PrimaryKey()
				}
			}
			m.associate(rel.Alias(), Association{Relation: rel, Target: target})
		}
	}

	r.autoDetectRelations(ctx, sorted)
	r.initialized = true
	rlog.Infof("registry initialized with %d bound entities", len(r.models))
}

// autoDetectRelations establishes belongs-to/has-many pairs from the column
// naming convention. The pass runs for all entities, not just newly added
// ones; detection order decides which side wins a naming collision since
// only the first relationship under a given alias is kept.
func (r *Registry) autoDetectRelations(ctx context.Context, sorted []*Declaration) {
	for _, decl := range sorted {
		m := decl.model
		if m == nil {
			continue
		}
		for _, other := range r.entities {
			if other.Name == decl.Name || other.model == nil {
				continue
			}
			if _, ok := m.associations[other.Name]; ok {
				continue
			}
			pk := other.PrimaryKey()
			if !strings.HasSuffix(pk, "Id") {
				continue
			}
			col, ok := decl.Column(pk)
			if !ok || col.PrimaryKey {
				continue
			}
			m.associate(other.Name, Association{
				Relation: Relation{Kind: BelongsTo, Target: other.Name, ForeignKey: pk},
				Target:   other.model,
			})
			other.model.associate(decl.Name, Association{
				Relation: Relation{Kind: HasMany, Target: decl.Name, ForeignKey: pk},
				Target:   m,
			})
		}
	}
}

// synthesizeJoinTables registers an implicit declaration for every
// BelongsToMany through table that is not itself a declared entity. Join
// tables get the full generic route surface, like any other entity.
func (r *Registry) synthesizeJoinTables(ctx context.Context, sorted []*Declaration) {
	rlog := logger.FromContext(ctx)
	declared := map[string]bool{}
	for _, e := range r.entities {
		declared[e.Name] = true
	}
	for _, decl := range sorted {
		for _, rel := range decl.Relations {
			if rel.Kind != BelongsToMany || rel.Through == "" || declared[rel.Through] {
				continue
			}
			var target *Declaration
			for _, e := range r.entities {
				if e.Name == rel.Target {
					target = e
					break
				}
			}
			if target == nil {
				rlog.Warningf("entity %s: through table %s targets unknown entity %s",
					decl.Name, rel.Through, rel.Target)
				continue
			}
			leftKey := rel.ForeignKey
			if leftKey == "" {
				leftKey = decl.PrimaryKey()
			}
			rightKey := rel.OtherKey
			if rightKey == "" {
				rightKey = target.PrimaryKey()
			}
			join := &Declaration{
				Name: rel.Through,
				Columns: []store.Column{
					{Name: rel.Through + "Id", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
					{Name: leftKey, Type: store.TypeUUID},
					{Name: rightKey, Type: store.TypeUUID},
				},
				Roles:       decl.Roles,
				PublicRead:  decl.PublicRead,
				PublicWrite: decl.PublicWrite,
			}
			declared[rel.Through] = true
			r.entities = append(r.entities, join)
			rlog.Debugf("synthesized join table %s for %s <-> %s", rel.Through, decl.Name, rel.Target)
		}
	}
}
