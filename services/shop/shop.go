// The shop service exposes a small web shop as a generated REST api:
// users, products, categories, carts and orders, with ownership scoping
// on everything a user writes for themselves.
package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/joeshaw/envdecode"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/modelapi/core/backend"
	"github.com/relabs-tech/modelapi/core/csql"
	"github.com/relabs-tech/modelapi/core/entity"
	"github.com/relabs-tech/modelapi/core/logger"
	"github.com/relabs-tech/modelapi/core/sqlstore"
	"github.com/relabs-tech/modelapi/core/store"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres     string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	Port         string `env:"PORT,default=3000" description:"the port to listen on"`
	TokenSecret  string `env:"TOKEN_SECRET" description:"shared secret for HS256 tokens"`
	JWKSURL      string `env:"JWKS_URL" description:"key set url of the identity provider, for RS256 tokens"`
	Issuer       string `env:"ISSUER" description:"required token issuer"`
	KafkaBrokers string `env:"KAFKA_BROKERS" description:"comma separated kafka brokers for change notifications"`
	Production   bool   `env:"PRODUCTION,default=false" description:"suppress stack traces in error responses"`
}

const productSchema = `{
	"type": "object",
	"properties": {
		"productId": { "type": "string" },
		"title": { "type": "string", "minLength": 1 },
		"shippable": { "type": "boolean" }
	},
	"required": ["title"]
}`

func registerEntities(registry *entity.Registry) {
	registry.Register(&entity.Declaration{
		Name: "user",
		Columns: []store.Column{
			{Name: "userId", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
			{Name: "firstName", Type: store.TypeString},
			{Name: "lastName", Type: store.TypeString},
			{Name: "email", Type: store.TypeString},
			{Name: "picture", Type: store.TypeString},
		},
		Roles: []string{"admin"},
	})

	registry.Register(&entity.Declaration{
		Name: "product",
		Columns: []store.Column{
			{Name: "productId", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
			{Name: "title", Type: store.TypeString},
			{Name: "description", Type: store.TypeString},
			{Name: "imageUrl", Type: store.TypeString},
			{Name: "keywords", Type: store.TypeString},
			{Name: "prices", Type: store.TypeJSON},
			{Name: "shippable", Type: store.TypeBool},
		},
		Relations: []entity.Relation{
			{Kind: entity.BelongsToMany, Target: "category", Through: "productCategory"},
		},
		Roles:         []string{"admin"},
		PublicRead:    true,
		PayloadSchema: productSchema,
	})

	registry.Register(&entity.Declaration{
		Name: "category",
		Columns: []store.Column{
			{Name: "categoryId", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
			{Name: "title", Type: store.TypeString},
			{Name: "imageUrl", Type: store.TypeString},
		},
		Roles:      []string{"admin"},
		PublicRead: true,
	})

	registry.Register(&entity.Declaration{
		Name: "cart",
		Columns: []store.Column{
			{Name: "cartId", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
			{Name: "userId", Type: store.TypeUUID},
			{Name: "productId", Type: store.TypeUUID},
			{Name: "quantity", Type: store.TypeInt},
		},
	})

	registry.Register(&entity.Declaration{
		Name: "order",
		Columns: []store.Column{
			{Name: "orderId", Type: store.TypeUUID, PrimaryKey: true, GenerateID: true},
			{Name: "userId", Type: store.TypeUUID},
			{Name: "status", Type: store.TypeString},
			{Name: "total", Type: store.TypeFloat},
		},
		OnChange: func(name string, record store.Record) {
			logger.Default().Infof("order changed: %v", record["orderId"])
		},
	})
}

func main() {
	logger.InitLogger(logrus.InfoLevel)

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	db, err := csql.OpenWithSchema(service.Postgres, "shop")
	if err != nil {
		panic(err)
	}
	defer db.Close()

	registry := entity.New()
	registerEntities(registry)

	var brokers []string
	if service.KafkaBrokers != "" {
		brokers = strings.Split(service.KafkaBrokers, ",")
	}

	router := mux.NewRouter()
	b := backend.MustNew(context.Background(), &backend.Builder{
		Registry:     registry,
		Store:        sqlstore.New(db),
		Router:       router,
		Secret:       service.TokenSecret,
		JWKSURL:      service.JWKSURL,
		Issuer:       service.Issuer,
		KafkaBrokers: brokers,
		Production:   service.Production,
	})
	defer b.Close()

	logger.Default().Infoln("listen on port :" + service.Port)
	if err := http.ListenAndServe(":"+service.Port, b.Handler()); err != nil {
		logger.Default().Fatalln(err)
	}
}
