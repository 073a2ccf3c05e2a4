/*
Package core holds the few concepts shared by all layers: the storage
operation enum and the uniform JSON error envelope written at the API
boundary.
*/
package core

import (
	"net/http"

	"github.com/goccy/go-json"
)

// Operation represents a backend storage operation, one of Create, Read,
// Update, Delete, List, Clear
type Operation string

// all supported storage operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
	OperationClear  Operation = "clear"
)

// APIError is the uniform error envelope returned to clients. Clients must
// not depend on Code, only on Status and Message.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

// WriteError writes the JSON error envelope with the given status.
func WriteError(w http.ResponseWriter, apiErr APIError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(apiErr.Status)
	jsonData, _ := json.Marshal(apiErr)
	w.Write(jsonData)
}
