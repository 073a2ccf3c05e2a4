/*
Package client provides easy and fast access to the generated REST api.

Instead of marshalling HTTP, the client can talk directly to the mux
router, which makes it the tool of choice for unit tests. With NewWithURL
it talks to a running server instead.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	ctx        context.Context
}

// NewWithRouter creates a client that makes pseudo-REST requests directly
// through the mux router.
func NewWithRouter(router *mux.Router) Client {
	return Client{router: router}
}

// NewWithURL creates a client that makes REST requests to a running
// backend.
func NewWithURL(url string) Client {
	return Client{
		url:        url,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// WithToken returns a new client that sends the token as bearer
// authorization.
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

func (c Client) context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Entity represents the collection routes of one entity.
type Entity struct {
	client     *Client
	path       string
	parameters []string
}

// Entity returns a client for the named entity's collection.
func (c Client) Entity(name string) Entity {
	return Entity{client: &c, path: "/" + strings.ToLower(name)}
}

// WithParameter returns a new entity client with a URL parameter added.
func (e Entity) WithParameter(key, value string) Entity {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	// true copy to avoid side effects
	e.parameters = append(append([]string{}, e.parameters...), parameter)
	return e
}

// WithFilter is WithParameter for a column filter.
func (e Entity) WithFilter(column, value string) Entity {
	return e.WithParameter(column, value)
}

func (e Entity) collectionPath() string {
	if len(e.parameters) > 0 {
		return e.path + "?" + strings.Join(e.parameters, "&")
	}
	return e.path
}

// List gets one page of the collection.
func (e Entity) List(result interface{}) (int, error) {
	return e.client.RawGet(e.collectionPath(), result)
}

// Read gets one item by primary key.
func (e Entity) Read(id string, result interface{}) (int, error) {
	return e.client.RawGet(e.path+"/"+id, result)
}

// Save creates or updates an item.
func (e Entity) Save(body interface{}, result interface{}) (int, error) {
	return e.client.RawPost(e.collectionPath(), body, result)
}

// Delete deletes one item by primary key.
func (e Entity) Delete(id string) (int, error) {
	return e.client.RawDelete(e.path+"/"+id, nil, nil)
}

// Patch updates a single field of one item.
func (e Entity) Patch(id, field string, value interface{}, result interface{}) (int, error) {
	body := map[string]interface{}{"id": id, "field": field, "value": value}
	return e.client.RawPatch(e.path, body, result)
}

// Clear deletes all items with the given primary keys.
func (e Entity) Clear(ids []string, result interface{}) (int, error) {
	body := map[string]interface{}{"ids": ids}
	return e.client.RawDelete(e.path, body, result)
}

// do executes one request, either against the router or over the wire,
// and decodes the JSON response body into result.
func (c Client) do(method, path string, body interface{}, result interface{}, expected ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		j, ok := body.([]byte)
		if !ok {
			var err error
			j, err = json.Marshal(body)
			if err != nil {
				return http.StatusBadRequest, fmt.Errorf("%s to %s: %w", method, path, err)
			}
		}
		reader = bytes.NewBuffer(j)
	}
	r, err := http.NewRequestWithContext(c.context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, err
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	var res *http.Response
	var resBody []byte
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res = rec.Result()
		resBody = rec.Body.Bytes()
	} else {
		res, err = c.httpClient.Do(r)
		if err != nil {
			return http.StatusInternalServerError, err
		}
		defer res.Body.Close()
		resBody, _ = io.ReadAll(res.Body)
	}

	status := res.StatusCode
	ok := false
	for _, e := range expected {
		ok = ok || status == e
	}
	if !ok {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, expected, strings.TrimSpace(string(resBody)))
	}
	if status != http.StatusNoContent && len(resBody) > 0 && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, err
}

// RawGet gets the resource at path. Expects http.StatusOK as response,
// otherwise it flags an error. Returns the actual http status code.
//
// result can be a map, a struct pointer or a raw *[]byte. result can be
// nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.do(http.MethodGet, path, nil, result, http.StatusOK)
}

// RawPost posts a resource to path. Expects http.StatusOK or
// http.StatusCreated as response, otherwise it flags an error. Returns
// the actual http status code.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPost, path, body, result, http.StatusOK, http.StatusCreated)
}

// RawPatch sends a patch to path. Expects http.StatusOK or
// http.StatusNoContent as response, otherwise it flags an error. Returns
// the actual http status code.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPatch, path, body, result, http.StatusOK, http.StatusNoContent)
}

// RawDelete deletes the resource at path, with an optional JSON body.
// Expects http.StatusOK or http.StatusNoContent as response, otherwise it
// flags an error. Returns the actual http status code.
func (c Client) RawDelete(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodDelete, path, body, result, http.StatusOK, http.StatusNoContent)
}
