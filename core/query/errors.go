package query

import (
	"errors"
	"fmt"
)

// NotFoundError indicates that a primary-key lookup failed. Surfaced as a
// 404-class error at the boundary.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record with id %s not found", e.ID)
}

// IsNotFound returns true if err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// BadRequestError indicates a malformed payload or parameter. Surfaced as a
// 400-class error at the boundary.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

// IsBadRequest returns true if err is a BadRequestError.
func IsBadRequest(err error) bool {
	var br *BadRequestError
	return errors.As(err, &br)
}
