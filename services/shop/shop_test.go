package main

import (
	"context"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/modelapi/core/backend"
	"github.com/relabs-tech/modelapi/core/client"
	"github.com/relabs-tech/modelapi/core/entity"
	"github.com/relabs-tech/modelapi/core/memstore"
)

func TestShopEntitiesComeUp(t *testing.T) {
	registry := entity.New()
	registerEntities(registry)

	b, err := backend.New(context.Background(), &backend.Builder{
		Registry: registry,
		Store:    memstore.New(),
		Router:   mux.NewRouter(),
		Secret:   "test",
	})
	require.NoError(t, err)
	defer b.Close()

	for _, name := range []string{"user", "product", "category", "cart", "order", "productCategory"} {
		assert.NotNil(t, registry.Model(name), "entity %s must bind", name)
	}

	// carts and orders hang off the user by column naming convention
	cart := registry.Model("cart")
	assoc, ok := cart.Association("user")
	require.True(t, ok)
	assert.Equal(t, entity.BelongsTo, assoc.Kind)

	// the product catalog is publicly readable
	anonymous := client.NewWithRouter(b.Router())
	status, err := anonymous.Entity("product").List(nil)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
}
