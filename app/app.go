// Package app mounts the generated JSON:API endpoints. Registering a
// resource declaration builds its schema variants and exposes the full
// CRUD surface for it on the router.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/apifabric/jsonapi/cache"
	"github.com/apifabric/jsonapi/crud"
	"github.com/apifabric/jsonapi/params"
	"github.com/apifabric/jsonapi/relationships"
	"github.com/apifabric/jsonapi/request"
	"github.com/apifabric/jsonapi/response"
	"github.com/apifabric/jsonapi/schema"
)

// DefaultLimits bounds requests when the caller does not configure any.
var DefaultLimits = params.Limits{
	DefaultPageSize: 25,
	MaxPageSize:     100,
	MaxIncludeDepth: 5,
}

// App owns the registries, the storage executors and the router. One App
// serves any number of registered resource types.
type App struct {
	db        *sql.DB
	logger    *zap.Logger
	models    *schema.ModelRegistry
	schemas   *schema.Registry
	builder   *schema.Builder
	loader    *relationships.Loader
	assembler *response.Assembler
	parser    *request.Parser
	router    chi.Router

	cache    cache.Cache
	cacheTTL time.Duration
	limits   params.Limits

	mu        sync.Mutex
	resources map[string]*resource
}

type resource struct {
	resourceType string
	ops          *crud.Operations
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithLimits overrides pagination and include-depth limits.
func WithLimits(limits params.Limits) Option {
	return func(a *App) { a.limits = limits }
}

// WithCache enables the read-through response cache for GET endpoints.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(a *App) {
		a.cache = c
		a.cacheTTL = ttl
	}
}

// WithMaxBodyBytes bounds write request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *App) { a.parser = request.NewParserWithMaxSize(n) }
}

// New creates an App over the database connection.
func New(db *sql.DB, opts ...Option) *App {
	models := schema.NewModelRegistry()
	schemas := schema.NewRegistry()

	a := &App{
		db:        db,
		logger:    zap.NewNop(),
		models:    models,
		schemas:   schemas,
		builder:   schema.NewBuilder(models, schemas),
		assembler: response.NewAssembler(models, schemas),
		parser:    request.NewParser(),
		limits:    DefaultLimits,
		resources: make(map[string]*resource),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.loader = relationships.NewLoader(db, models, a.limits.MaxIncludeDepth)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(requestLogger(a.logger))
	router.Use(recoverer(a.logger))
	router.Post("/operations", a.handleAtomic())
	a.router = router

	return a
}

// ResourceSchemas bundles the per-operation declarations of one resource
// type. Read is required; Create and Update fall back to Read when nil, for
// resources whose write shape matches their read shape.
type ResourceSchemas struct {
	Read   *schema.Declaration
	Create *schema.Declaration
	Update *schema.Declaration
}

// RegisterResource builds the schema variants for a declaration and mounts
// its endpoints, using the same declaration for every operation.
// Registering the same resource type twice is a no-op.
func (a *App) RegisterResource(decl *schema.Declaration) error {
	return a.RegisterResourceSchemas(ResourceSchemas{Read: decl})
}

// RegisterResourceSchemas registers a resource with distinct declarations
// per operation, so create and update can expose a narrower shape than read
// (server-only attributes, immutable fields).
func (a *App) RegisterResourceSchemas(schemas ResourceSchemas) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if schemas.Read == nil {
		return &schema.ResolutionError{Reason: "registration requires a read declaration"}
	}
	resourceType := schemas.Read.ResourceType
	if _, ok := a.resources[resourceType]; ok {
		return nil
	}

	decls := map[schema.OperationKind]*schema.Declaration{
		schema.OpRead:   schemas.Read,
		schema.OpCreate: schemas.Create,
		schema.OpUpdate: schemas.Update,
	}
	for _, op := range []schema.OperationKind{schema.OpRead, schema.OpCreate, schema.OpUpdate} {
		decl := decls[op]
		if decl == nil {
			decl = schemas.Read
		} else if decl.ResourceType != resourceType {
			return &schema.ResolutionError{
				ResourceType: resourceType,
				Reason:       fmt.Sprintf("%s declaration is for resource type %q", op, decl.ResourceType),
			}
		}
		if _, err := a.builder.Build(resourceType, op, decl); err != nil {
			return err
		}
	}

	ops, err := crud.NewOperations(resourceType, a.db, a.models, a.schemas)
	if err != nil {
		return err
	}

	res := &resource{resourceType: resourceType, ops: ops}
	a.resources[resourceType] = res
	a.mountRoutes(res)

	a.logger.Info("registered resource",
		zap.String("resource_type", resourceType),
		zap.Int("schemas", a.schemas.Count()))
	return nil
}

// Handler returns the HTTP handler serving every registered resource.
func (a *App) Handler() http.Handler {
	return a.router
}

func (a *App) mountRoutes(res *resource) {
	a.router.Route("/"+res.resourceType, func(r chi.Router) {
		r.Get("/", a.handleList(res))
		r.Post("/", a.handleCreate(res))
		r.Delete("/", a.handleDeleteMany(res))

		r.Get("/{id}", a.handleGetOne(res))
		r.Patch("/{id}", a.handleUpdate(res))
		r.Delete("/{id}", a.handleDelete(res))
	})
}

// invalidate drops every cached read of a resource type after a write.
func (a *App) invalidate(ctx context.Context, resourceType string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.DeletePrefix(ctx, cache.TypePrefix(resourceType)); err != nil {
		a.logger.Warn("cache invalidation failed",
			zap.String("resource_type", resourceType), zap.Error(err))
	}
}
