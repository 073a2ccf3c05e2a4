// Package backend mounts a REST collection for every registered entity.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/xeipuuv/gojsonschema"

	"github.com/relabs-tech/modelapi/core"
	"github.com/relabs-tech/modelapi/core/access"
	"github.com/relabs-tech/modelapi/core/entity"
	"github.com/relabs-tech/modelapi/core/logger"
	"github.com/relabs-tech/modelapi/core/notify"
	"github.com/relabs-tech/modelapi/core/query"
	"github.com/relabs-tech/modelapi/core/store"
)

// Backend is the generic rest backend. It owns the entity registry, the
// storage engine, the authorization gateway and the change dispatcher.
type Backend struct {
	registry   *entity.Registry
	store      store.Store
	router     *mux.Router
	verifier   *access.Verifier
	engine     *query.Engine
	dispatcher *notify.Dispatcher
	validators map[string]*gojsonschema.Schema
	production bool
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Registry holds the entity declarations. This is mandatory.
	Registry *entity.Registry
	// Store is the storage engine. This is mandatory.
	Store store.Store
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Secret enables HS256 token verification. Optional.
	Secret string
	// JWKSURL enables RS256 token verification. Optional.
	JWKSURL string
	// Issuer restricts accepted tokens to one issuer. Optional.
	Issuer string
	// KafkaBrokers enables publishing change notifications to kafka.
	// Optional.
	KafkaBrokers []string
	// NotificationTopic is the kafka topic for change notifications,
	// default "entity-changes".
	NotificationTopic string
	// Production suppresses stack traces in error responses.
	Production bool
}

// New realizes the actual backend. It initializes the registry against
// the store (creating tables if they do not exist) and adds routes to
// the router.
func New(ctx context.Context, bb *Builder) (*Backend, error) {
	if bb.Registry == nil {
		return nil, fmt.Errorf("registry is missing")
	}
	if bb.Store == nil {
		return nil, fmt.Errorf("store is missing")
	}
	if bb.Router == nil {
		return nil, fmt.Errorf("router is missing")
	}

	b := &Backend{
		registry: bb.Registry,
		store:    bb.Store,
		router:   bb.Router,
		verifier: &access.Verifier{
			Secret:  bb.Secret,
			JWKSURL: bb.JWKSURL,
			Issuer:  bb.Issuer,
		},
		validators: map[string]*gojsonschema.Schema{},
		production: bb.Production,
	}

	if len(bb.KafkaBrokers) > 0 {
		topic := bb.NotificationTopic
		if topic == "" {
			topic = "entity-changes"
		}
		b.dispatcher = notify.NewDispatcher(notify.NewKafkaSink(bb.KafkaBrokers, topic))
	}
	b.engine = &query.Engine{Notify: b.dispatcher}

	if !b.registry.Initialized() {
		b.registry.Init(ctx, b.store)
	}

	for _, decl := range b.registry.Entities() {
		if decl.PayloadSchema == "" {
			continue
		}
		validator, err := gojsonschema.NewSchema(
			gojsonschema.NewStringLoader(decl.PayloadSchema))
		if err != nil {
			return nil, fmt.Errorf("invalid payload schema for %s: %w", decl.Name, err)
		}
		b.validators[decl.Name] = validator
	}

	logger.AddRequestID(b.router)
	b.handleRoutes(b.router)
	return b, nil
}

// MustNew is New, panicking on error.
func MustNew(ctx context.Context, bb *Builder) *Backend {
	b, err := New(ctx, bb)
	if err != nil {
		panic(err)
	}
	return b
}

// Registry returns the backend's entity registry.
func (b *Backend) Registry() *entity.Registry {
	return b.registry
}

// Router returns the router the routes were mounted on.
func (b *Backend) Router() *mux.Router {
	return b.router
}

// Close drains pending change notifications.
func (b *Backend) Close() {
	if b.dispatcher != nil {
		b.dispatcher.Close()
	}
}

// Handler returns the router wrapped with CORS and response compression,
// ready to serve.
func (b *Backend) Handler() http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{
			http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete,
		}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(handlers.CompressHandler(b.router))
}

// handleRoutes adds handlers for all registered entities plus the schema
// introspection route.
func (b *Backend) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("backend: handle routes")
	for _, model := range b.registry.Models() {
		b.createEntityRoutes(router, model)
	}
	router.HandleFunc("/_schema", b.schemaHandler).Methods(http.MethodGet)
}

type entityDescription struct {
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	PrimaryKey string            `json:"primaryKey"`
	Columns    []store.Column    `json:"columns"`
	Relations  map[string]string `json:"relations"`
	Roles      []string          `json:"roles,omitempty"`
}

func (b *Backend) schemaHandler(w http.ResponseWriter, r *http.Request) {
	descriptions := []entityDescription{}
	for _, model := range b.registry.Models() {
		relations := map[string]string{}
		for _, alias := range model.Associations() {
			a, _ := model.Association(alias)
			relations[alias] = string(a.Kind) + " " + a.Target.Name()
		}
		descriptions = append(descriptions, entityDescription{
			Name:       model.Name(),
			Path:       "/" + strings.ToLower(model.Name()),
			PrimaryKey: model.PrimaryKey(),
			Columns:    model.Decl.Columns,
			Relations:  relations,
			Roles:      model.Decl.Roles,
		})
	}
	writeJSON(w, http.StatusOK, descriptions)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	encoded, _ := json.Marshal(body)
	w.Write(encoded)
}

// writeError translates an error into the JSON error envelope. Internal
// failures are logged with their cause and surface a generic message.
// Outside production the envelope carries a stack trace.
func (b *Backend) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := core.APIError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: err.Error(),
	}
	switch {
	case query.IsNotFound(err):
		apiErr.Status = http.StatusNotFound
		apiErr.Code = "not_found"
	case query.IsBadRequest(err):
		apiErr.Status = http.StatusBadRequest
		apiErr.Code = "bad_request"
	}
	if apiErr.Status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Errorln(err)
		apiErr.Message = "internal server error"
	}
	if !b.production {
		apiErr.Stack = strings.TrimSpace(string(debug.Stack()))
	}
	core.WriteError(w, apiErr)
}
