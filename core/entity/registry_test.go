package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/modelapi/core/memstore"
	"github.com/relabs-tech/modelapi/core/store"
)

func userDeclaration() *Declaration {
	return &Declaration{
		Name: "user",
		Columns: []store.Column{
			{Name: "userId", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
			{Name: "email", Type: store.TypeString},
		},
	}
}

func orderDeclaration() *Declaration {
	return &Declaration{
		Name: "order",
		Columns: []store.Column{
			{Name: "orderId", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
			{Name: "userId", Type: store.TypeUUID},
			{Name: "status", Type: store.TypeString},
		},
	}
}

func TestSortEntitiesUserFirst(t *testing.T) {
	order := orderDeclaration()
	user := userDeclaration()
	product := &Declaration{
		Name: "product",
		Columns: []store.Column{
			{Name: "productId", Type: store.TypeUUID, PrimaryKey: true},
		},
	}

	sorted := sortEntities([]*Declaration{order, product, user})
	require.Len(t, sorted, 3)
	assert.Equal(t, "user", sorted[0].Name)
}

func TestInitAutoDetectsRelations(t *testing.T) {
	registry := New()
	registry.Register(userDeclaration())
	registry.Register(orderDeclaration())
	registry.Init(context.Background(), memstore.New())
	require.True(t, registry.Initialized())

	order := registry.Model("order")
	require.NotNil(t, order)
	assoc, ok := order.Association("user")
	require.True(t, ok)
	assert.Equal(t, BelongsTo, assoc.Kind)
	assert.Equal(t, "userId", assoc.ForeignKey)

	// the detection is symmetric
	user := registry.Model("user")
	require.NotNil(t, user)
	back, ok := user.Association("order")
	require.True(t, ok)
	assert.Equal(t, HasMany, back.Kind)
	assert.Equal(t, "userId", back.ForeignKey)
}

func TestInitKeepsFirstAliasOnCollision(t *testing.T) {
	registry := New()
	registry.Register(userDeclaration())
	order := orderDeclaration()
	// the explicit relation under the alias "user" must win over the
	// auto-detected one
	order.Relations = []Relation{
		{Kind: HasOne, Target: "user", As: "user", ForeignKey: "userId"},
	}
	registry.Register(order)
	registry.Init(context.Background(), memstore.New())

	assoc, ok := registry.Model("order").Association("user")
	require.True(t, ok)
	assert.Equal(t, HasOne, assoc.Kind)
}

func TestInitIsIdempotent(t *testing.T) {
	registry := New()
	registry.Register(userDeclaration())
	registry.Init(context.Background(), memstore.New())
	require.True(t, registry.Initialized())

	// a second init is a no-op, not a panic
	registry.Init(context.Background(), memstore.New())
	assert.Len(t, registry.Models(), 1)
}

func TestInitSkipsInvalidDeclarations(t *testing.T) {
	registry := New()
	registry.Register(userDeclaration())
	registry.Register(&Declaration{
		Name: "broken",
		Columns: []store.Column{
			{Name: "a", Type: store.TypeString},
		},
	})
	registry.Init(context.Background(), memstore.New())

	assert.Nil(t, registry.Model("broken"))
	assert.NotNil(t, registry.Model("user"))
}

func TestInitSynthesizesJoinTables(t *testing.T) {
	registry := New()
	registry.Register(&Declaration{
		Name: "product",
		Columns: []store.Column{
			{Name: "productId", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
		},
		Relations: []Relation{
			{Kind: BelongsToMany, Target: "category", Through: "productCategory"},
		},
	})
	registry.Register(&Declaration{
		Name: "category",
		Columns: []store.Column{
			{Name: "categoryId", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
		},
	})
	registry.Init(context.Background(), memstore.New())

	join := registry.Model("productCategory")
	require.NotNil(t, join)
	assert.Equal(t, "productCategoryId", join.PrimaryKey())
	assert.True(t, join.Decl.HasColumn("productId"))
	assert.True(t, join.Decl.HasColumn("categoryId"))

	// the join table takes part in auto-detection like any entity
	assoc, ok := join.Association("product")
	require.True(t, ok)
	assert.Equal(t, BelongsTo, assoc.Kind)
}

func TestGetAssociations(t *testing.T) {
	registry := New()
	registry.Register(userDeclaration())
	registry.Register(orderDeclaration())
	registry.Init(context.Background(), memstore.New())

	related, err := registry.GetAssociations("user")
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "order", related[0].Name)

	_, err = registry.GetAssociations("nope")
	assert.Error(t, err)
}
