package app

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/apifabric/jsonapi/apierror"
	"github.com/apifabric/jsonapi/cache"
	"github.com/apifabric/jsonapi/params"
	"github.com/apifabric/jsonapi/response"
	"github.com/apifabric/jsonapi/schema"
)

func (a *App) parseParams(r *http.Request, resourceType string) (*params.Parsed, error) {
	return params.Parse(r.URL.Query(), resourceType, a.models, a.limits)
}

func (a *App) handleList(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := a.parseParams(r, res.resourceType)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		if a.serveCached(w, r, res.resourceType) {
			return
		}

		result, err := res.ops.List(r.Context(), p)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}
		if err := a.loader.Load(r.Context(), res.resourceType, result.Records, p.Includes); err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		doc, err := a.assembler.BuildList(res.resourceType, schema.OpRead, result.Records, p, result.Count, result.TotalPages)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}
		a.writeCacheable(w, r, res.resourceType, doc)
	}
}

func (a *App) handleGetOne(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := a.parseParams(r, res.resourceType)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		if a.serveCached(w, r, res.resourceType) {
			return
		}

		record, err := res.ops.GetOne(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}
		if err := a.loader.Load(r.Context(), res.resourceType, []map[string]interface{}{record}, p.Includes); err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		doc, err := a.assembler.BuildDetail(res.resourceType, schema.OpRead, record, p)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}
		a.writeCacheable(w, r, res.resourceType, doc)
	}
}

func (a *App) handleCreate(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := a.parseParams(r, res.resourceType)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		doc, err := a.parser.ParseDocument(w, r, res.resourceType)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		attrs, err := a.validateAttributes(res.resourceType, schema.OpCreate, doc.Attributes)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		record, err := res.ops.Create(r.Context(), doc.ID, attrs, doc.Linkages)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}
		a.invalidate(r.Context(), res.resourceType)

		if err := a.loader.Load(r.Context(), res.resourceType, []map[string]interface{}{record}, p.Includes); err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		out, err := a.assembler.BuildDetail(res.resourceType, schema.OpRead, record, p)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}
		if err := response.Write(w, http.StatusCreated, out); err != nil {
			a.logger.Error("failed to write response", zap.Error(err))
		}
	}
}

func (a *App) handleUpdate(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := a.parseParams(r, res.resourceType)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		doc, err := a.parser.ParseDocument(w, r, res.resourceType)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		id := chi.URLParam(r, "id")
		if doc.ID != "" && doc.ID != id {
			response.WriteError(w, a.logger,
				apierror.NewBadRequest("obj_id and data.id should be same"))
			return
		}

		attrs, err := a.validateAttributes(res.resourceType, schema.OpUpdate, doc.Attributes)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		record, err := res.ops.Update(r.Context(), id, attrs, doc.Linkages)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}
		a.invalidate(r.Context(), res.resourceType)

		if err := a.loader.Load(r.Context(), res.resourceType, []map[string]interface{}{record}, p.Includes); err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		out, err := a.assembler.BuildDetail(res.resourceType, schema.OpRead, record, p)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}
		if err := response.Write(w, http.StatusOK, out); err != nil {
			a.logger.Error("failed to write response", zap.Error(err))
		}
	}
}

func (a *App) handleDelete(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := res.ops.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			response.WriteError(w, a.logger, err)
			return
		}
		a.invalidate(r.Context(), res.resourceType)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *App) handleDeleteMany(res *resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := a.parseParams(r, res.resourceType)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}

		records, err := res.ops.DeleteMany(r.Context(), p.Filters)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}
		a.invalidate(r.Context(), res.resourceType)

		// The response lists the deleted rows, without includes.
		scope := &params.Parsed{Fields: p.Fields}
		doc, err := a.assembler.BuildList(res.resourceType, schema.OpRead, records, scope, len(records), 1)
		if err != nil {
			response.WriteError(w, a.logger, err)
			return
		}
		if err := response.Write(w, http.StatusOK, doc); err != nil {
			a.logger.Error("failed to write response", zap.Error(err))
		}
	}
}

// validateAttributes runs the write-operation schema pipeline over the
// request attributes. Failures surface as object errors carrying the
// resource type.
func (a *App) validateAttributes(resourceType string, op schema.OperationKind, attrs map[string]interface{}) (map[string]interface{}, error) {
	vs, err := a.schemas.Variant(resourceType, op)
	if err != nil {
		return nil, err
	}
	validated, err := vs.ApplyAttributes(attrs)
	if err != nil {
		if _, ok := apierror.As(err); ok {
			return nil, err
		}
		return nil, apierror.NewObjectError(err.Error(), resourceType)
	}
	return validated, nil
}

// serveCached writes the cached document for the request if one exists.
func (a *App) serveCached(w http.ResponseWriter, r *http.Request, resourceType string) bool {
	if a.cache == nil {
		return false
	}

	key := cache.ResourceKey(resourceType, r.URL.Path, r.URL.Query())
	body, err := a.cache.Get(r.Context(), key)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			a.logger.Warn("cache read failed", zap.Error(err))
		}
		return false
	}

	w.Header().Set("Content-Type", response.MediaType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		a.logger.Error("failed to write cached response", zap.Error(err))
	}
	return true
}

// writeCacheable writes a 200 document and stores its bytes for later
// requests with the same canonical query.
func (a *App) writeCacheable(w http.ResponseWriter, r *http.Request, resourceType string, doc *response.Document) {
	body, err := json.Marshal(doc)
	if err != nil {
		response.WriteError(w, a.logger, apierror.NewInternal(err.Error()))
		return
	}

	if a.cache != nil {
		key := cache.ResourceKey(resourceType, r.URL.Path, r.URL.Query())
		if err := a.cache.Set(r.Context(), key, body, a.cacheTTL); err != nil {
			a.logger.Warn("cache write failed", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", response.MediaType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		a.logger.Error("failed to write response", zap.Error(err))
	}
}
