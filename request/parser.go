// Package request parses JSON:API write bodies into attribute maps and
// relationship linkage.
package request

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/apifabric/jsonapi/apierror"
	"github.com/apifabric/jsonapi/crud"
)

// DefaultMaxBodySize bounds request bodies at 10MB.
const DefaultMaxBodySize = 10 << 20

// Document is the parsed data member of a write request.
type Document struct {
	ID         string
	Type       string
	Attributes map[string]interface{}
	Linkages   map[string]crud.Linkage
}

// Parser decodes JSON:API request bodies with a body size limit.
type Parser struct {
	maxBodySize int64
}

// NewParser creates a parser with the default body size limit.
func NewParser() *Parser {
	return &Parser{maxBodySize: DefaultMaxBodySize}
}

// NewParserWithMaxSize creates a parser with a custom max body size.
func NewParserWithMaxSize(maxBytes int64) *Parser {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	return &Parser{maxBodySize: maxBytes}
}

type rawBody struct {
	Data *rawResource `json:"data"`
}

type rawResource struct {
	ID            interface{}                   `json:"id"`
	Type          string                        `json:"type"`
	Attributes    map[string]interface{}        `json:"attributes"`
	Relationships map[string]rawRelationshipRef `json:"relationships"`
}

type rawRelationshipRef struct {
	Data json.RawMessage `json:"data"`
}

type rawLinkage struct {
	ID   interface{} `json:"id"`
	Type string      `json:"type"`
}

// ParseDocument decodes the body of a create or update request. A present
// type member must match the endpoint's resource type; an absent one is
// filled in from the endpoint.
func (p *Parser) ParseDocument(w http.ResponseWriter, r *http.Request, resourceType string) (*Document, error) {
	r.Body = http.MaxBytesReader(w, r.Body, p.maxBodySize)
	defer r.Body.Close()

	var body rawBody
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&body); err != nil {
		if err == io.EOF {
			return nil, apierror.NewBadRequest("request body is empty")
		}
		return nil, apierror.NewBadRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	if decoder.More() {
		return nil, apierror.NewBadRequest("request body contains multiple JSON documents")
	}
	if body.Data == nil {
		return nil, apierror.NewBadRequest("request body has no data member")
	}
	if body.Data.Type == "" {
		// An omitted type member is taken from the endpoint.
		body.Data.Type = resourceType
	} else if body.Data.Type != resourceType {
		return nil, apierror.NewBadRequest(fmt.Sprintf(
			"type %q does not match endpoint resource type %q", body.Data.Type, resourceType))
	}

	return resourceDocument(body.Data)
}

// resourceDocument converts a decoded resource object into a Document.
func resourceDocument(raw *rawResource) (*Document, error) {
	doc := &Document{
		Type:       raw.Type,
		Attributes: raw.Attributes,
		Linkages:   make(map[string]crud.Linkage, len(raw.Relationships)),
	}
	if doc.Attributes == nil {
		doc.Attributes = map[string]interface{}{}
	}
	if raw.ID != nil {
		doc.ID = fmt.Sprint(raw.ID)
	}

	for field, member := range raw.Relationships {
		linkage, err := parseLinkage(field, member.Data)
		if err != nil {
			return nil, err
		}
		doc.Linkages[field] = linkage
	}
	return doc, nil
}

// parseLinkage decodes one relationship member. Null means detach, a
// single object is to-one linkage, and an array is to-many.
func parseLinkage(field string, raw json.RawMessage) (crud.Linkage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return crud.Linkage{Null: true}, nil
	}

	var many []rawLinkage
	if err := json.Unmarshal(raw, &many); err == nil {
		ids := make([]string, len(many))
		for i, ref := range many {
			if ref.ID == nil {
				return crud.Linkage{}, apierror.NewBadRequest(fmt.Sprintf(
					"relationship %q has a linkage object without an id", field))
			}
			ids[i] = fmt.Sprint(ref.ID)
		}
		return crud.Linkage{Many: true, IDs: ids}, nil
	}

	var one rawLinkage
	if err := json.Unmarshal(raw, &one); err != nil {
		return crud.Linkage{}, apierror.NewBadRequest(fmt.Sprintf(
			"relationship %q has malformed linkage", field))
	}
	if one.ID == nil {
		return crud.Linkage{}, apierror.NewBadRequest(fmt.Sprintf(
			"relationship %q has a linkage object without an id", field))
	}
	return crud.Linkage{IDs: []string{fmt.Sprint(one.ID)}}, nil
}
