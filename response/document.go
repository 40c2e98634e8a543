// Package response assembles JSON:API documents from loaded records:
// envelope, compound included section, sparse fieldsets and error objects.
package response

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/apifabric/jsonapi/apierror"
)

const (
	// MediaType is the official JSON:API media type
	MediaType = "application/vnd.api+json"

	// Version is reported in the jsonapi member of every document.
	Version = "1.0"
)

// Document is one JSON:API response envelope. Data holds either a single
// resource object or a list of them.
type Document struct {
	Data     interface{}              `json:"data"`
	Included []map[string]interface{} `json:"included,omitempty"`
	Meta     map[string]interface{}   `json:"meta,omitempty"`
	JSONAPI  map[string]interface{}   `json:"jsonapi"`
}

func newDocument(data interface{}) *Document {
	return &Document{
		Data:    data,
		JSONAPI: map[string]interface{}{"version": Version},
	}
}

// AtomicResult is one entry of an atomic:results list. Data is nil for
// operations that return nothing.
type AtomicResult struct {
	Data interface{} `json:"data"`
}

// AtomicResultsDocument is the envelope of an atomic operations response.
type AtomicResultsDocument struct {
	Results []AtomicResult         `json:"atomic:results"`
	JSONAPI map[string]interface{} `json:"jsonapi"`
}

// NewAtomicResults wraps the per-operation results in the response envelope.
func NewAtomicResults(results []AtomicResult) *AtomicResultsDocument {
	return &AtomicResultsDocument{
		Results: results,
		JSONAPI: map[string]interface{}{"version": Version},
	}
}

// ErrorDocument is the JSON:API error envelope.
type ErrorDocument struct {
	Errors []*apierror.Error `json:"errors"`
}

// Write marshals the payload and writes it with the JSON:API media type.
// Marshaling happens before any byte reaches the wire so a failure never
// produces a half-written body.
func Write(w http.ResponseWriter, status int, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

// WriteError renders any error as a JSON:API error document. Errors outside
// the API taxonomy are masked as internal and logged with their cause.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	apiErr, ok := apierror.As(err)
	if !ok {
		logger.Error("unhandled error", zap.Error(err))
		apiErr = apierror.NewInternal("internal server error")
	} else if apiErr.StatusCode >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", apiErr.Code), zap.String("detail", apiErr.Detail))
	}

	doc := &ErrorDocument{Errors: []*apierror.Error{apiErr}}
	if writeErr := Write(w, apiErr.StatusCode, doc); writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}
