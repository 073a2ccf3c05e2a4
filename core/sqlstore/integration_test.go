package sqlstore

import (
	"context"
	"testing"

	"github.com/joeshaw/envdecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/modelapi/core/csql"
	"github.com/relabs-tech/modelapi/core/store"
)

// TestPostgresRoundTrip exercises the store against a real database. It
// is skipped unless POSTGRES points at one, e.g.
//
//	POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
func TestPostgresRoundTrip(t *testing.T) {
	var config struct {
		Postgres string `env:"POSTGRES"`
	}
	if err := envdecode.Decode(&config); err != nil || config.Postgres == "" {
		t.Skip("POSTGRES not set")
	}

	db, err := csql.OpenWithSchema(config.Postgres, "sqlstore_test")
	require.NoError(t, err)
	defer db.Close()
	defer db.ClearSchema()

	s := New(db)
	ctx := context.Background()
	require.NoError(t, s.Bind(ctx, store.Schema{
		Name: "product",
		Columns: []store.Column{
			{Name: "productId", Type: store.TypeString, PrimaryKey: true},
			{Name: "title", Type: store.TypeString},
			{Name: "price", Type: store.TypeFloat},
			{Name: "prices", Type: store.TypeJSON},
		},
	}))

	_, err = s.Upsert(ctx, "product", "productId", store.Record{
		"productId": "p1",
		"title":     "corn",
		"price":     2.5,
		"prices":    map[string]interface{}{"eur": 2.5},
	})
	require.NoError(t, err)

	// upsert on the same key updates in place
	rec, err := s.Upsert(ctx, "product", "productId", store.Record{
		"productId": "p1",
		"title":     "sweet corn",
	})
	require.NoError(t, err)
	assert.Equal(t, "sweet corn", rec["title"])

	_, err = s.Upsert(ctx, "product", "productId", store.Record{
		"productId": "p2",
		"title":     "beans",
		"price":     1.0,
	})
	require.NoError(t, err)

	items, total, err := s.Query(ctx, "product", store.ListQuery{
		Filters: []store.Filter{{Field: "title", Op: store.OpLike, Value: "corn"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0]["productId"])

	prices, ok := items[0]["prices"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 2.5, prices["eur"])

	require.NoError(t, s.Delete(ctx, "product", "productId", "p1"))
	assert.ErrorIs(t, s.Delete(ctx, "product", "productId", "p1"), store.ErrNotFound)

	deleted, err := s.DeleteMany(ctx, "product", "productId", []string{"p2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}
