package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/modelapi/core/entity"
	"github.com/relabs-tech/modelapi/core/memstore"
	"github.com/relabs-tech/modelapi/core/store"
)

func testRegistry(t *testing.T) *entity.Registry {
	t.Helper()
	registry := entity.New()
	registry.Register(&entity.Declaration{
		Name: "user",
		Columns: []store.Column{
			{Name: "userId", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
			{Name: "email", Type: store.TypeString},
		},
	})
	registry.Register(&entity.Declaration{
		Name: "product",
		Columns: []store.Column{
			{Name: "productId", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
			{Name: "title", Type: store.TypeString},
			{Name: "price", Type: store.TypeFloat},
		},
	})
	registry.Register(&entity.Declaration{
		Name: "order",
		Columns: []store.Column{
			{Name: "orderId", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
			{Name: "userId", Type: store.TypeUUID},
			{Name: "status", Type: store.TypeString},
		},
	})
	registry.Init(context.Background(), memstore.New())
	require.True(t, registry.Initialized())
	return registry
}

func TestCreateOrUpdate(t *testing.T) {
	registry := testRegistry(t)
	engine := &Engine{}
	ctx := context.Background()
	product := registry.Model("product")

	created, err := engine.CreateOrUpdate(ctx, product, store.Record{"title": "corn"})
	require.NoError(t, err)
	id, _ := created["productId"].(string)
	require.NotEmpty(t, id, "missing primary key must be generated")

	// same key, same operation: an update, not a second record
	created["title"] = "sweet corn"
	updated, err := engine.CreateOrUpdate(ctx, product, created)
	require.NoError(t, err)
	assert.Equal(t, id, updated["productId"])

	result, err := engine.List(ctx, product, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, "sweet corn", result.Items[0]["title"])
}

func TestCreateOrUpdateRequiresKeyWithoutGeneration(t *testing.T) {
	registry := entity.New()
	registry.Register(&entity.Declaration{
		Name: "setting",
		Columns: []store.Column{
			{Name: "settingId", Type: store.TypeString, PrimaryKey: true},
			{Name: "value", Type: store.TypeString},
		},
	})
	registry.Init(context.Background(), memstore.New())

	engine := &Engine{}
	_, err := engine.CreateOrUpdate(context.Background(), registry.Model("setting"),
		store.Record{"value": "on"})
	assert.True(t, IsBadRequest(err))
}

func TestListPagination(t *testing.T) {
	registry := testRegistry(t)
	engine := &Engine{}
	ctx := context.Background()
	product := registry.Model("product")

	for i := 0; i < 7; i++ {
		_, err := engine.CreateOrUpdate(ctx, product, store.Record{
			"title": fmt.Sprintf("item %d", i),
			"price": float64(i),
		})
		require.NoError(t, err)
	}

	result, err := engine.List(ctx, product, ListOptions{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, result.Items, 3)
	assert.Equal(t, 7, result.Total)
	assert.True(t, result.HasMore)

	result, err = engine.List(ctx, product, ListOptions{Limit: 3, Offset: 6})
	require.NoError(t, err)
	assert.Len(t, result.Items, 1)
	assert.False(t, result.HasMore)

	// the default limit applies when none is given
	result, err = engine.List(ctx, product, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, result.Limit)
	assert.Len(t, result.Items, 7)
}

func TestListFilters(t *testing.T) {
	registry := testRegistry(t)
	engine := &Engine{}
	ctx := context.Background()
	product := registry.Model("product")

	titles := []string{"corn", "popcorn", "beans", "rice"}
	for i, title := range titles {
		_, err := engine.CreateOrUpdate(ctx, product, store.Record{
			"title": title,
			"price": float64(i + 1),
		})
		require.NoError(t, err)
	}

	list := func(field, value string) []store.Record {
		result, err := engine.List(ctx, product, ListOptions{
			Filters: []store.Filter{ParseFilterValue(field, value)},
		})
		require.NoError(t, err)
		return result.Items
	}

	assert.Len(t, list("title", "%corn"), 2)
	assert.Len(t, list("title", "!corn"), 2)
	assert.Len(t, list("title", "corn"), 1)
	assert.Len(t, list("price", ">2"), 2)
	assert.Len(t, list("price", "<2"), 1)
	assert.Len(t, list("price", "[2,4]"), 3)
}

func TestListOrdering(t *testing.T) {
	registry := testRegistry(t)
	engine := &Engine{}
	ctx := context.Background()
	product := registry.Model("product")

	for _, title := range []string{"b", "c", "a"} {
		_, err := engine.CreateOrUpdate(ctx, product, store.Record{"title": title})
		require.NoError(t, err)
	}

	result, err := engine.List(ctx, product, ListOptions{OrderBy: "-title"})
	require.NoError(t, err)
	require.Len(t, result.Items, 3)
	assert.Equal(t, "c", result.Items[0]["title"])
	assert.Equal(t, "a", result.Items[2]["title"])
}

func TestGetIfExists(t *testing.T) {
	registry := testRegistry(t)
	engine := &Engine{}
	ctx := context.Background()
	product := registry.Model("product")

	created, err := engine.CreateOrUpdate(ctx, product, store.Record{"title": "corn"})
	require.NoError(t, err)

	rec, err := engine.GetIfExists(ctx, product, created["productId"].(string))
	require.NoError(t, err)
	assert.Equal(t, "corn", rec["title"])

	_, err = engine.GetIfExists(ctx, product, "00000000-0000-0000-0000-000000000000")
	assert.True(t, IsNotFound(err))
}

func TestDeleteIfExists(t *testing.T) {
	registry := testRegistry(t)
	engine := &Engine{}
	ctx := context.Background()
	product := registry.Model("product")

	created, err := engine.CreateOrUpdate(ctx, product, store.Record{"title": "corn"})
	require.NoError(t, err)
	id := created["productId"].(string)

	deleted, err := engine.DeleteIfExists(ctx, product, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	// deleting what was never there is an error, not a silent no-op
	_, err = engine.DeleteIfExists(ctx, product, id)
	assert.True(t, IsNotFound(err))
}

func TestGridPatch(t *testing.T) {
	registry := testRegistry(t)
	engine := &Engine{}
	ctx := context.Background()
	product := registry.Model("product")

	created, err := engine.CreateOrUpdate(ctx, product, store.Record{
		"title": "corn",
		"price": 2.0,
	})
	require.NoError(t, err)
	id := created["productId"].(string)

	patched, err := engine.GridPatch(ctx, product, id, "price", 3.5)
	require.NoError(t, err)
	assert.Equal(t, 3.5, patched["price"])
	assert.Equal(t, "corn", patched["title"], "untouched fields survive")

	_, err = engine.GridPatch(ctx, product, id, "bogus", 1)
	assert.True(t, IsBadRequest(err))
	_, err = engine.GridPatch(ctx, product, id, "productId", "x")
	assert.True(t, IsBadRequest(err))
}

func TestGridDelete(t *testing.T) {
	registry := testRegistry(t)
	engine := &Engine{}
	ctx := context.Background()
	product := registry.Model("product")

	var ids []string
	for i := 0; i < 3; i++ {
		created, err := engine.CreateOrUpdate(ctx, product, store.Record{
			"title": fmt.Sprintf("item %d", i),
		})
		require.NoError(t, err)
		ids = append(ids, created["productId"].(string))
	}

	deleted, err := engine.GridDelete(ctx, product, append(ids[:2], "not-an-id"))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	result, err := engine.List(ctx, product, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
}

func TestListIncludesAssociations(t *testing.T) {
	registry := testRegistry(t)
	engine := &Engine{}
	ctx := context.Background()
	user := registry.Model("user")
	order := registry.Model("order")

	u, err := engine.CreateOrUpdate(ctx, user, store.Record{"email": "jo@example.com"})
	require.NoError(t, err)
	userID := u["userId"].(string)

	_, err = engine.CreateOrUpdate(ctx, order, store.Record{"userId": userID, "status": "open"})
	require.NoError(t, err)

	// belongs-to expansion on the order side
	result, err := engine.List(ctx, order, ListOptions{Include: []string{"user"}})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	embedded, ok := result.Items[0]["user"].(store.Record)
	require.True(t, ok)
	assert.Equal(t, "jo@example.com", embedded["email"])

	// has-many expansion on the user side
	result, err = engine.List(ctx, user, ListOptions{Include: []string{"order"}})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	children, ok := result.Items[0]["order"].([]store.Record)
	require.True(t, ok)
	require.Len(t, children, 1)
	assert.Equal(t, "open", children[0]["status"])

	// unknown aliases are ignored
	_, err = engine.List(ctx, order, ListOptions{Include: []string{"bogus"}})
	assert.NoError(t, err)
}
