// Package apierror defines the request-facing error taxonomy shared by the
// query compiler, the executor, the response assembler and the endpoint layer.
// Every error that reaches a client is rendered from one of these values.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Source points at the part of the request that caused an error.
type Source struct {
	Parameter string `json:"parameter,omitempty"`
	Pointer   string `json:"pointer,omitempty"`
}

// Error is a single JSON:API error object.
type Error struct {
	StatusCode int                    `json:"status_code"`
	Title      string                 `json:"title"`
	Detail     string                 `json:"detail"`
	Code       string                 `json:"-"`
	Source     *Source                `json:"source,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

// Error codes used to classify errors independently of HTTP status.
const (
	CodeBadRequest      = "bad_request"
	CodeInvalidFilter   = "invalid_filter"
	CodeInvalidInclude  = "invalid_include"
	CodeInvalidSort     = "invalid_sort"
	CodeNotFound        = "resource_not_found"
	CodeRelatedNotFound = "related_not_found"
	CodeObjectError     = "object_error"
	CodeInternal        = "internal"
)

// NewBadRequest builds a generic 400 error.
func NewBadRequest(detail string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Title:      "Bad Request",
		Detail:     detail,
		Code:       CodeBadRequest,
	}
}

// NewInvalidFilter builds a 400 error for a malformed or semantically
// invalid filter expression. The source points at the filter query parameter.
func NewInvalidFilter(detail string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Title:      "Invalid filters querystring parameter.",
		Detail:     detail,
		Code:       CodeInvalidFilter,
		Source:     &Source{Parameter: "filters"},
	}
}

// NewInvalidInclude builds a 400 error for an include path that cannot be
// served, naming the offending path in the detail.
func NewInvalidInclude(detail string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Title:      "Invalid include querystring parameter.",
		Detail:     detail,
		Code:       CodeInvalidInclude,
		Source:     &Source{Parameter: "include"},
	}
}

// NewInvalidSort builds a 400 error for an unusable sort key.
func NewInvalidSort(detail string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Title:      "Invalid sort querystring parameter.",
		Detail:     detail,
		Code:       CodeInvalidSort,
		Source:     &Source{Parameter: "sort"},
	}
}

// NewInvalidField builds a 400 error for an unknown sparse fieldset entry.
func NewInvalidField(resourceType, field string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Title:      "Invalid fields querystring parameter.",
		Detail:     fmt.Sprintf("unknown field %q for resource type %q", field, resourceType),
		Code:       CodeBadRequest,
		Source:     &Source{Parameter: fmt.Sprintf("fields[%s]", resourceType)},
	}
}

// NewNotFound builds a 404 error for a missing detail/update/delete target.
func NewNotFound(resourceType string, id interface{}) *Error {
	return &Error{
		StatusCode: http.StatusNotFound,
		Title:      "Resource not found.",
		Detail:     fmt.Sprintf("Resource %s %v not found", resourceType, id),
		Code:       CodeNotFound,
	}
}

// NewRelatedNotFound builds a 404 error for a relationship linkage whose
// target object does not exist.
func NewRelatedNotFound(resourceType string, id interface{}) *Error {
	return &Error{
		StatusCode: http.StatusNotFound,
		Title:      "Related object not found.",
		Detail:     fmt.Sprintf("Related object not found. %s: %v", resourceType, id),
		Code:       CodeRelatedNotFound,
	}
}

// NewObjectError builds a 400 error for a persistence-layer constraint
// violation on create/update/delete. The meta block identifies the resource.
func NewObjectError(detail, resourceType string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Title:      "Object creation error.",
		Detail:     detail,
		Code:       CodeObjectError,
		Meta:       map[string]interface{}{"type": resourceType},
	}
}

// NewInternal builds a 500 error. Registry lookup misses use this: they
// indicate a registration-order bug, not bad user input.
func NewInternal(detail string) *Error {
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Title:      "Internal server error.",
		Detail:     detail,
		Code:       CodeInternal,
	}
}

// As unwraps err into an *Error if possible.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsCode reports whether err is an *Error carrying the given code.
func IsCode(err error, code string) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Code == code
}
