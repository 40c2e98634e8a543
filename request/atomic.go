package request

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/apifabric/jsonapi/apierror"
)

// Atomic operation kinds.
const (
	AtomicAdd    = "add"
	AtomicUpdate = "update"
	AtomicRemove = "remove"
)

// AtomicRef identifies the target of an update or remove operation.
type AtomicRef struct {
	Type string
	ID   string
}

// AtomicOperation is one entry of an atomic:operations request. Add and
// update carry a resource document; update and remove carry a ref (update
// may identify its target through data.id instead).
type AtomicOperation struct {
	Op   string
	Ref  *AtomicRef
	Data *Document
}

type rawAtomicBody struct {
	Operations []rawAtomicOperation `json:"atomic:operations"`
}

type rawAtomicOperation struct {
	Op   string        `json:"op"`
	Ref  *rawAtomicRef `json:"ref"`
	Data *rawResource  `json:"data"`
}

type rawAtomicRef struct {
	Type string      `json:"type"`
	ID   interface{} `json:"id"`
}

// ParseAtomic decodes the body of an atomic operations request into the
// ordered operation list.
func (p *Parser) ParseAtomic(w http.ResponseWriter, r *http.Request) ([]AtomicOperation, error) {
	r.Body = http.MaxBytesReader(w, r.Body, p.maxBodySize)
	defer r.Body.Close()

	var body rawAtomicBody
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
	if len(body.Operations) == 0 {
		return nil, apierror.NewBadRequest("request body has no atomic:operations member")
	}

	ops := make([]AtomicOperation, 0, len(body.Operations))
	for i, raw := range body.Operations {
		op, err := parseAtomicOperation(raw)
		if err != nil {
			if apiErr, ok := apierror.As(err); ok && apiErr.Source == nil {
				apiErr.Source = &apierror.Source{Pointer: fmt.Sprintf("/atomic:operations/%d", i)}
			}
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parseAtomicOperation(raw rawAtomicOperation) (AtomicOperation, error) {
	op := AtomicOperation{Op: raw.Op}

	if raw.Ref != nil {
		if raw.Ref.Type == "" || raw.Ref.ID == nil {
			return op, apierror.NewBadRequest("operation ref needs both type and id")
		}
		op.Ref = &AtomicRef{Type: raw.Ref.Type, ID: fmt.Sprint(raw.Ref.ID)}
	}

	switch raw.Op {
	case AtomicAdd, AtomicUpdate:
		if raw.Data == nil {
			return op, apierror.NewBadRequest(fmt.Sprintf("%s operation needs a data member", raw.Op))
		}
		if raw.Data.Type == "" {
			if op.Ref == nil {
				return op, apierror.NewBadRequest(fmt.Sprintf("%s operation data needs a type member", raw.Op))
			}
			raw.Data.Type = op.Ref.Type
		}
		doc, err := resourceDocument(raw.Data)
		if err != nil {
			return op, err
		}
		if raw.Op == AtomicUpdate && doc.ID == "" {
			if op.Ref == nil {
				return op, apierror.NewBadRequest("update operation needs data.id or a ref")
			}
			doc.ID = op.Ref.ID
		}
		op.Data = doc

	case AtomicRemove:
		if op.Ref == nil {
			return op, apierror.NewBadRequest("remove operation needs a ref")
		}

	default:
		return op, apierror.NewBadRequest(fmt.Sprintf("unknown operation %q", raw.Op))
	}
	return op, nil
}
