package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/apifabric/jsonapi/apierror"
	"github.com/apifabric/jsonapi/request"
	"github.com/apifabric/jsonapi/response"
	"github.com/apifabric/jsonapi/schema"
)

// handleAtomic applies an ordered list of write operations in a single
// transaction. Either every operation commits or none does.
func (a *App) handleAtomic() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ops, err := a.parser.ParseAtomic(w, r)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		tx, err := a.db.BeginTx(r.Context(), nil)
		if err != nil {
			response.WriteError(w, a.logger,
				apierror.NewInternal(fmt.Sprintf("failed to begin transaction: %v", err)))
			return
		}
		defer tx.Rollback()

		results := make([]response.AtomicResult, 0, len(ops))
		touched := make(map[string]bool)
		for i, op := range ops {
			resourceType, data, err := a.applyAtomic(r.Context(), tx, op)
			if err != nil {
				if apiErr, ok := apierror.As(err); ok && apiErr.Source == nil {
					apiErr.Source = &apierror.Source{
						Pointer: fmt.Sprintf("/atomic:operations/%d", i),
					}
				}
				response.WriteError(w, a.logger, err)
				return
			}
			touched[resourceType] = true
			results = append(results, response.AtomicResult{Data: data})
		}

		if err := tx.Commit(); err != nil {
			response.WriteError(w, a.logger,
				apierror.NewInternal(fmt.Sprintf("failed to commit transaction: %v", err)))
			return
		}
		for resourceType := range touched {
			a.invalidate(r.Context(), resourceType)
		}

		if err := response.Write(w, http.StatusOK, response.NewAtomicResults(results)); err != nil {
			a.logger.Error("failed to write response", zap.Error(err))
		}
	}
}

// applyAtomic dispatches one operation to the executor of its resource
// type. Add and update return the written resource object, remove returns
// nothing.
func (a *App) applyAtomic(ctx context.Context, tx *sql.Tx, op request.AtomicOperation) (string, interface{}, error) {
	switch op.Op {
	case request.AtomicAdd:
		res, err := a.resource(op.Data.Type)
		if err != nil {
			return "", nil, err
		}
		attrs, err := a.validateAttributes(res.resourceType, schema.OpCreate, op.Data.Attributes)
		if err != nil {
			return "", nil, err
		}
		record, err := res.ops.CreateIn(ctx, tx, op.Data.ID, attrs, op.Data.Linkages)
		if err != nil {
			return "", nil, err
		}
		data, err := a.atomicData(res.resourceType, record)
		return res.resourceType, data, err

	case request.AtomicUpdate:
		res, err := a.resource(op.Data.Type)
		if err != nil {
			return "", nil, err
		}
		if op.Ref != nil && op.Ref.ID != op.Data.ID {
			return "", nil, apierror.NewBadRequest("obj_id and data.id should be same")
		}
		attrs, err := a.validateAttributes(res.resourceType, schema.OpUpdate, op.Data.Attributes)
		if err != nil {
			return "", nil, err
		}
		record, err := res.ops.UpdateIn(ctx, tx, op.Data.ID, attrs, op.Data.Linkages)
		if err != nil {
			return "", nil, err
		}
		data, err := a.atomicData(res.resourceType, record)
		return res.resourceType, data, err

	case request.AtomicRemove:
		res, err := a.resource(op.Ref.Type)
		if err != nil {
			return "", nil, err
		}
		if err := res.ops.DeleteIn(ctx, tx, op.Ref.ID); err != nil {
			return "", nil, err
		}
		return res.resourceType, nil, nil
	}
	return "", nil, apierror.NewBadRequest(fmt.Sprintf("unknown operation %q", op.Op))
}

func (a *App) atomicData(resourceType string, record map[string]interface{}) (interface{}, error) {
	doc, err := a.assembler.BuildDetail(resourceType, schema.OpRead, record, nil)
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

// resource returns the registered executor for a resource type.
func (a *App) resource(resourceType string) (*resource, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, ok := a.resources[resourceType]
	if !ok {
		return nil, apierror.NewBadRequest(fmt.Sprintf("unknown resource type %q", resourceType))
	}
	return res, nil
}
