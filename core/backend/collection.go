package backend

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/xeipuuv/gojsonschema"

	"github.com/relabs-tech/modelapi/core/access"
	"github.com/relabs-tech/modelapi/core/entity"
	"github.com/relabs-tech/modelapi/core/logger"
	"github.com/relabs-tech/modelapi/core/query"
	"github.com/relabs-tech/modelapi/core/store"
)

// createEntityRoutes adds the six-route collection surface for one bound
// entity. Routes are protected per access class, then scoped to the
// calling user where the entity carries an owner column.
func (b *Backend) createEntityRoutes(router *mux.Router, m *entity.Model) {
	decl := m.Decl
	resource := "/" + strings.ToLower(m.Name())
	logger.Default().Debugln("create entity routes:", resource)

	protect := func(h http.HandlerFunc) http.HandlerFunc {
		return access.Protect(decl, b.verifier, h)
	}

	router.HandleFunc(resource, protect(b.listHandler(m))).Methods(http.MethodGet)
	router.HandleFunc(resource+"/{id}", protect(b.getHandler(m))).Methods(http.MethodGet)
	router.HandleFunc(resource, protect(b.saveHandler(m))).Methods(http.MethodPost)
	router.HandleFunc(resource+"/{id}", protect(b.deleteHandler(m))).Methods(http.MethodDelete)
	router.HandleFunc(resource, protect(b.patchHandler(m))).Methods(http.MethodPatch)
	router.HandleFunc(resource, protect(b.clearHandler(m))).Methods(http.MethodDelete)
}

func (b *Backend) listHandler(m *entity.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		opt := query.ListOptions{
			Filters: query.ParseFilters(m.Decl, params),
			OrderBy: params.Get("orderBy"),
		}
		if limit := params.Get("limit"); limit != "" {
			opt.Limit, _ = strconv.Atoi(limit)
		}
		if offset := params.Get("offset"); offset != "" {
			opt.Offset, _ = strconv.Atoi(offset)
		}
		if include := params.Get("include"); include != "" {
			opt.Include = strings.Split(include, ",")
		}
		token := access.TokenFromContext(r.Context())
		if scope, ok := access.OwnerScope(token, m.Decl); ok {
			opt.Filters = append(opt.Filters, scope)
		}
		result, err := b.engine.List(r.Context(), m, opt)
		if err != nil {
			b.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (b *Backend) getHandler(m *entity.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		rec, err := b.engine.GetIfExists(r.Context(), m, id)
		if err != nil {
			b.writeError(w, r, err)
			return
		}
		// foreign records look like they do not exist
		token := access.TokenFromContext(r.Context())
		if !access.OwnsRecord(token, m.Decl, rec) {
			b.writeError(w, r, &query.NotFoundError{Entity: m.Name(), ID: id})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (b *Backend) saveHandler(m *entity.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := store.Record{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			b.writeError(w, r, &query.BadRequestError{Message: "invalid json: " + err.Error()})
			return
		}
		if validator := b.validators[m.Name()]; validator != nil {
			if err := b.validatePayload(validator, payload); err != nil {
				b.writeError(w, r, err)
				return
			}
		}
		token := access.TokenFromContext(r.Context())
		if err := access.FillOwner(token, m.Decl, payload); err != nil {
			b.writeError(w, r, &query.BadRequestError{Message: err.Error()})
			return
		}
		if id, _ := payload[m.PrimaryKey()].(string); id != "" {
			if existing, err := b.engine.GetIfExists(r.Context(), m, id); err == nil {
				if !access.OwnsRecord(token, m.Decl, existing) {
					b.writeError(w, r, &query.NotFoundError{Entity: m.Name(), ID: id})
					return
				}
			}
		}
		rec, err := b.engine.CreateOrUpdate(r.Context(), m, payload)
		if err != nil {
			b.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (b *Backend) deleteHandler(m *entity.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		token := access.TokenFromContext(r.Context())
		rec, err := b.engine.GetIfExists(r.Context(), m, id)
		if err != nil {
			b.writeError(w, r, err)
			return
		}
		if !access.OwnsRecord(token, m.Decl, rec) {
			b.writeError(w, r, &query.NotFoundError{Entity: m.Name(), ID: id})
			return
		}
		if _, err := b.engine.DeleteIfExists(r.Context(), m, id); err != nil {
			b.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type patchRequest struct {
	ID    string      `json:"id"`
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

func (b *Backend) patchHandler(m *entity.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch patchRequest
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			b.writeError(w, r, &query.BadRequestError{Message: "invalid json: " + err.Error()})
			return
		}
		if patch.ID == "" || patch.Field == "" {
			b.writeError(w, r, &query.BadRequestError{Message: "id and field are required"})
			return
		}
		token := access.TokenFromContext(r.Context())
		existing, err := b.engine.GetIfExists(r.Context(), m, patch.ID)
		if err != nil {
			b.writeError(w, r, err)
			return
		}
		if !access.OwnsRecord(token, m.Decl, existing) {
			b.writeError(w, r, &query.NotFoundError{Entity: m.Name(), ID: patch.ID})
			return
		}
		rec, err := b.engine.GridPatch(r.Context(), m, patch.ID, patch.Field, patch.Value)
		if err != nil {
			b.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

type clearRequest struct {
	IDs []string `json:"ids"`
}

func (b *Backend) clearHandler(m *entity.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var clear clearRequest
		if err := json.NewDecoder(r.Body).Decode(&clear); err != nil {
			b.writeError(w, r, &query.BadRequestError{Message: "invalid json: " + err.Error()})
			return
		}
		token := access.TokenFromContext(r.Context())
		ids := clear.IDs
		if _, scoped := access.OwnerScope(token, m.Decl); scoped {
			// scoped callers can only clear their own records
			owned := ids[:0]
			for _, id := range ids {
				rec, err := b.engine.GetIfExists(r.Context(), m, id)
				if err != nil || !access.OwnsRecord(token, m.Decl, rec) {
					continue
				}
				owned = append(owned, id)
			}
			ids = owned
		}
		deleted, err := b.engine.GridDelete(r.Context(), m, ids)
		if err != nil {
			b.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
	}
}

func (b *Backend) validatePayload(validator *gojsonschema.Schema, payload store.Record) error {
	result, err := validator.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	return &query.BadRequestError{Message: strings.Join(messages, "; ")}
}
