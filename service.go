package shapekit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/reoring/shapekit/apischema"
	"github.com/reoring/shapekit/bulk"
	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/jsonschema"
	"github.com/reoring/shapekit/mapping"
	"github.com/reoring/shapekit/readback"
	"github.com/reoring/shapekit/registry"
	"github.com/reoring/shapekit/schemacache"
	"github.com/reoring/shapekit/search"
	"github.com/reoring/shapekit/shape"
	"github.com/reoring/shapekit/upsert"
)

// ErrBulkDisabled is returned by the bulk entry points of a Service built
// without a sink.
var ErrBulkDisabled = errors.New("shapekit: bulk ingestion is not configured")

// Options configures a Service. The zero value is usable.
type Options struct {
	TenantIDField string
	IndexPrefix   string
	Limits        upsert.Limits
	OpenAPI       apischema.OpenAPIOptions

	// Processor tables; nil selects the package defaults.
	UpsertTable  registry.Table[upsert.Processor]
	MappingTable registry.Table[mapping.Processor]
	APITable     registry.Table[apischema.Processor]
	SearchTable  registry.Table[search.Processor]
	ReadTable    registry.Table[readback.Processor]

	// Clock and IDGenerator feed the default upsert table.
	Clock       func() time.Time
	IDGenerator func() string

	// Sink enables bulk ingestion.
	Sink  bulk.Sink
	Bulk  bulk.Config
	Meter metric.Meter
	// FlushListener observes bulk flushes.
	FlushListener bulk.FlushListener

	Logger *slog.Logger
}

// Service holds the shape table and serves upserts, compiled schemas and
// bulk sessions for it. Readers see an immutable snapshot of the table;
// writers replace it.
type Service struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex // serializes writers
	shapes atomic.Pointer[map[string]*shape.Shape]

	transformers *schemacache.Cache[*upsert.Transformer]
	mappings     *schemacache.Cache[*mapping.Mapping]
	schemas      *schemacache.Cache[*jsonschema.Schema]
	validators   *schemacache.Cache[*apischema.Validator]
	filters      *schemacache.Cache[*search.Filter]
	readers      *schemacache.Cache[*readback.Reader]

	bulk *bulk.Manager
}

// cache variants
const (
	variantUpsert    = "upsert"
	variantMapping   = "mapping"
	variantValidator = "validator"
	variantSearch    = "search"
	variantRead      = "read"
)

// New returns an empty Service.
func New(opts Options) (*Service, error) {
	if opts.TenantIDField == "" {
		opts.TenantIDField = upsert.DefaultTenantIDField
	}
	if opts.IndexPrefix == "" {
		opts.IndexPrefix = mapping.DefaultIndexPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.UpsertTable == nil {
		var topts []upsert.TableOption
		if opts.Clock != nil {
			topts = append(topts, upsert.WithClock(opts.Clock))
		}
		if opts.IDGenerator != nil {
			topts = append(topts, upsert.WithIDGenerator(opts.IDGenerator))
		}
		opts.UpsertTable = upsert.DefaultTable(topts...)
	}
	if opts.MappingTable == nil {
		opts.MappingTable = mapping.DefaultTable()
	}
	if opts.APITable == nil {
		opts.APITable = apischema.DefaultTable()
	}
	if opts.SearchTable == nil {
		opts.SearchTable = search.DefaultTable()
	}
	if opts.ReadTable == nil {
		opts.ReadTable = readback.DefaultTable()
	}

	s := &Service{
		opts:         opts,
		logger:       opts.Logger,
		transformers: schemacache.New[*upsert.Transformer](),
		mappings:     schemacache.New[*mapping.Mapping](),
		schemas:      schemacache.New[*jsonschema.Schema](),
		validators:   schemacache.New[*apischema.Validator](),
		filters:      schemacache.New[*search.Filter](),
		readers:      schemacache.New[*readback.Reader](),
	}
	empty := map[string]*shape.Shape{}
	s.shapes.Store(&empty)

	if opts.Sink != nil {
		m, err := bulk.New(opts.Sink, opts.Bulk,
			bulk.WithLogger(opts.Logger),
			bulk.WithMeter(opts.Meter),
			bulk.WithResolver(bulk.ResolverFunc(s.HasShape)),
			bulk.WithFlushListener(opts.FlushListener),
		)
		if err != nil {
			return nil, err
		}
		s.bulk = m
	}
	return s, nil
}

// PutShape adds a shape or replaces an older version of it. Compiled
// artifacts of superseded versions are dropped; callers already holding
// them keep a consistent view.
func (s *Service) PutShape(sh *shape.Shape) error {
	if sh == nil {
		return errors.New("shapekit: nil shape")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.shapes.Load()
	if old, ok := cur[sh.ID]; ok && sh.Version <= old.Version {
		return &issues.StateError{Op: "put shape", ShapeID: sh.ID,
			Reason: fmt.Sprintf("version %d is not newer than %d", sh.Version, old.Version)}
	}
	next := make(map[string]*shape.Shape, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[sh.ID] = sh
	s.shapes.Store(&next)
	s.invalidateBefore(sh.ID, sh.Version)
	s.logger.Info("shape stored", "shape", sh.ID, "version", sh.Version)
	return nil
}

// RemoveShape drops a shape and its compiled artifacts. It reports whether
// the shape existed.
func (s *Service) RemoveShape(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.shapes.Load()
	if _, ok := cur[id]; !ok {
		return false
	}
	next := make(map[string]*shape.Shape, len(cur))
	for k, v := range cur {
		if k != id {
			next[k] = v
		}
	}
	s.shapes.Store(&next)
	s.transformers.Invalidate(id)
	s.mappings.Invalidate(id)
	s.schemas.Invalidate(id)
	s.validators.Invalidate(id)
	s.filters.Invalidate(id)
	s.readers.Invalidate(id)
	s.logger.Info("shape removed", "shape", id)
	return true
}

func (s *Service) invalidateBefore(id string, version int64) {
	s.transformers.InvalidateBefore(id, version)
	s.mappings.InvalidateBefore(id, version)
	s.schemas.InvalidateBefore(id, version)
	s.validators.InvalidateBefore(id, version)
	s.filters.InvalidateBefore(id, version)
	s.readers.InvalidateBefore(id, version)
}

// Shape returns the current version of a shape.
func (s *Service) Shape(id string) (*shape.Shape, bool) {
	sh, ok := (*s.shapes.Load())[id]
	return sh, ok
}

// HasShape reports whether id is known.
func (s *Service) HasShape(id string) bool {
	_, ok := s.Shape(id)
	return ok
}

// Shapes lists the current shapes ordered by id.
func (s *Service) Shapes() []*shape.Shape {
	cur := *s.shapes.Load()
	out := make([]*shape.Shape, 0, len(cur))
	for _, sh := range cur {
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) lookup(id string) (*shape.Shape, error) {
	sh, ok := s.Shape(id)
	if !ok {
		return nil, &issues.NotFoundError{Kind: "shape", ID: id}
	}
	return sh, nil
}

func key(sh *shape.Shape, variant string) schemacache.Key {
	return schemacache.Key{ShapeID: sh.ID, Version: sh.Version, Variant: variant}
}

func (s *Service) regOpts() []registry.Option {
	return []registry.Option{registry.WithLogger(s.logger)}
}

// Transformer returns the upsert transformer of the current shape version.
func (s *Service) Transformer(id string) (*upsert.Transformer, error) {
	sh, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.transformers.Get(key(sh, variantUpsert), func() (*upsert.Transformer, error) {
		reg := upsert.BuildRegistry(sh, s.opts.UpsertTable, s.regOpts()...)
		return upsert.New(sh, reg, upsert.Options{
			TenantIDField: s.opts.TenantIDField,
			Limits:        s.opts.Limits,
			Logger:        s.logger,
		})
	})
}

// Mapping returns the storage mapping of a shape.
func (s *Service) Mapping(id string) (*mapping.Mapping, error) {
	sh, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.mappings.Get(key(sh, variantMapping), func() (*mapping.Mapping, error) {
		reg := mapping.BuildRegistry(sh, s.opts.MappingTable, s.regOpts()...)
		return mapping.Compile(sh, reg, mapping.Options{TenantIDField: s.opts.TenantIDField, Logger: s.logger})
	})
}

// Index returns the index definition of a shape under the configured prefix.
func (s *Service) Index(id string) (*mapping.Index, error) {
	m, err := s.Mapping(id)
	if err != nil {
		return nil, err
	}
	return mapping.NewIndex(s.opts.IndexPrefix, id, m), nil
}

// APISchema returns one variant of the client-facing schema of a shape.
func (s *Service) APISchema(id string, v apischema.Variant) (*jsonschema.Schema, error) {
	sh, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.apiSchema(sh, v)
}

func (s *Service) apiSchema(sh *shape.Shape, v apischema.Variant) (*jsonschema.Schema, error) {
	return s.schemas.Get(key(sh, v.String()), func() (*jsonschema.Schema, error) {
		reg := apischema.BuildRegistry(sh, s.opts.APITable, s.regOpts()...)
		return apischema.Compile(sh, reg, v)
	})
}

func (s *Service) validator(sh *shape.Shape) (*apischema.Validator, error) {
	return s.validators.Get(key(sh, variantValidator), func() (*apischema.Validator, error) {
		in, err := s.apiSchema(sh, apischema.Input)
		if err != nil {
			return nil, err
		}
		full, err := s.apiSchema(sh, apischema.Full)
		if err != nil {
			return nil, err
		}
		return apischema.NewValidator(apischema.AcceptReadOnly(in, full))
	})
}

// SearchFilter returns the search filter of the current shape version.
func (s *Service) SearchFilter(id string) (*search.Filter, error) {
	sh, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.filters.Get(key(sh, variantSearch), func() (*search.Filter, error) {
		reg := search.BuildRegistry(sh, s.opts.SearchTable, s.regOpts()...)
		return search.New(sh, reg, search.Options{TenantIDField: s.opts.TenantIDField})
	})
}

// ScopeQuery restricts query on shape id to what the caller may see. A nil
// ectx is taken from ctx.
func (s *Service) ScopeQuery(ctx context.Context, id string, query search.Clause, ectx *upsert.Context) (search.Clause, error) {
	f, err := s.SearchFilter(id)
	if err != nil {
		return nil, err
	}
	return f.Scope(query, execContext(ctx, ectx))
}

// Present returns the client view of a stored entity of shape id.
func (s *Service) Present(ctx context.Context, id, entityID string, doc map[string]any, ectx *upsert.Context) (map[string]any, error) {
	sh, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	r, err := s.readers.Get(key(sh, variantRead), func() (*readback.Reader, error) {
		reg := readback.BuildRegistry(sh, s.opts.ReadTable, s.regOpts()...)
		return readback.New(sh, reg, readback.Options{TenantIDField: s.opts.TenantIDField})
	})
	if err != nil {
		return nil, err
	}
	return r.Present(entityID, doc, execContext(ctx, ectx))
}

// OpenAPI builds the document of every shape in namespace.
func (s *Service) OpenAPI(namespace string) (*apischema.Document, error) {
	var set []apischema.ShapeSchemas
	for _, sh := range s.Shapes() {
		if sh.Namespace != namespace {
			continue
		}
		full, err := s.apiSchema(sh, apischema.Full)
		if err != nil {
			return nil, err
		}
		in, err := s.apiSchema(sh, apischema.Input)
		if err != nil {
			return nil, err
		}
		set = append(set, apischema.ShapeSchemas{Shape: sh, Full: full, Input: in})
	}
	if len(set) == 0 {
		return nil, &issues.NotFoundError{Kind: "namespace", ID: namespace}
	}
	return apischema.BuildOpenAPI(namespace, set, s.opts.OpenAPI), nil
}

// Upsert transforms a single JSON entity of shape id. Closed shapes are
// validated against their input schema first. A nil ectx is taken from ctx.
func (s *Service) Upsert(ctx context.Context, id string, body []byte, ectx *upsert.Context) (upsert.EntityHolder, error) {
	t, err := s.prepare(id, body, false)
	if err != nil {
		return upsert.EntityHolder{}, err
	}
	return t.Transform(ctx, body, execContext(ctx, ectx))
}

// UpsertArray transforms a JSON array of entities of shape id.
func (s *Service) UpsertArray(ctx context.Context, id string, body []byte, ectx *upsert.Context) ([]upsert.EntityHolder, error) {
	t, err := s.prepare(id, body, true)
	if err != nil {
		return nil, err
	}
	return t.TransformArray(ctx, body, execContext(ctx, ectx))
}

// UpsertReader reads a JSON array from r, bounded by Limits.MaxBytes when
// set, and transforms it.
func (s *Service) UpsertReader(ctx context.Context, id string, r io.Reader, ectx *upsert.Context) ([]upsert.EntityHolder, error) {
	body, err := readBody(r, s.opts.Limits.MaxBytes)
	if err != nil {
		return nil, err
	}
	return s.UpsertArray(ctx, id, body, ectx)
}

func readBody(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("shapekit: read body: %w", err)
		}
		return b, nil
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("shapekit: read body: %w", err)
	}
	if int64(len(b)) > max {
		return nil, issues.At("", issues.CodeTruncated, "input exceeds limit of %d bytes", max)
	}
	return b, nil
}

func (s *Service) prepare(id string, body []byte, array bool) (*upsert.Transformer, error) {
	t, err := s.Transformer(id)
	if err != nil {
		return nil, err
	}
	sh := t.Shape()
	if !sh.Closed {
		return t, nil
	}
	v, err := s.validator(sh)
	if err != nil {
		return nil, err
	}
	if array {
		err = v.ValidateArray(body)
	} else {
		err = v.Validate(body)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// BulkOpen opens (or re-references) the bulk session of shape id.
func (s *Service) BulkOpen(ctx context.Context, id string) error {
	if s.bulk == nil {
		return ErrBulkDisabled
	}
	return s.bulk.Open(ctx, id)
}

// BulkUpsert transforms a JSON array and queues the result on the open
// session of shape id. Nothing is queued when the transform fails.
func (s *Service) BulkUpsert(ctx context.Context, id string, body []byte, ectx *upsert.Context) (int, error) {
	if s.bulk == nil {
		return 0, ErrBulkDisabled
	}
	holders, err := s.UpsertArray(ctx, id, body, ectx)
	if err != nil {
		return 0, err
	}
	if err := s.bulk.Push(ctx, id, holders...); err != nil {
		return 0, err
	}
	return len(holders), nil
}

// BulkClose releases one reference on the session of shape id.
func (s *Service) BulkClose(ctx context.Context, id string) error {
	if s.bulk == nil {
		return ErrBulkDisabled
	}
	return s.bulk.Close(ctx, id)
}

// BulkSessions lists open bulk sessions; nil without a sink.
func (s *Service) BulkSessions() []bulk.SessionInfo {
	if s.bulk == nil {
		return nil
	}
	return s.bulk.Sessions()
}

// Shutdown flushes every open bulk session. Flush failures are logged.
func (s *Service) Shutdown(ctx context.Context) {
	if s.bulk != nil {
		s.bulk.Shutdown(ctx)
	}
}
