package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UploadTimeout is the maximum duration for parsing and staging an upload.
var UploadTimeout = 10 * time.Minute

// CommitTimeout is the maximum duration for a commit operation.
var CommitTimeout = 15 * time.Minute

// ErrBatchNotFound is returned when a batch ID does not exist for the tenant.
var ErrBatchNotFound = errors.New("batch not found")

// ErrBatchBusy is returned when another operation is in progress for this batch.
// Mutations on a batch are serialized; callers should retry after the current
// operation finishes.
var ErrBatchBusy = errors.New("another operation is in progress for this batch")

// ErrBatchCommitted is returned when a mutation is attempted on a batch that
// is already committed. Committed batches only accept reimport and rollback.
var ErrBatchCommitted = errors.New("batch is already committed")

// Options tunes service behavior. Zero values fall back to defaults.
type Options struct {
	// MaxRows caps the number of data rows accepted per upload.
	MaxRows int
	// CommitWorkers bounds concurrent customer writes during commit.
	CommitWorkers int
	// CommitGroup is the number of rows handed to each worker wave.
	CommitGroup int
	// RetentionTTL is how long non-committed batches are kept before the
	// sweeper discards them.
	RetentionTTL time.Duration
}

const (
	defaultMaxRows       = 10000
	defaultCommitWorkers = 4
	defaultCommitGroup   = 25
	defaultRetentionTTL  = 72 * time.Hour
)

func (o Options) withDefaults() Options {
	if o.MaxRows <= 0 {
		o.MaxRows = defaultMaxRows
	}
	if o.CommitWorkers <= 0 {
		o.CommitWorkers = defaultCommitWorkers
	}
	if o.CommitGroup <= 0 {
		o.CommitGroup = defaultCommitGroup
	}
	if o.RetentionTTL <= 0 {
		o.RetentionTTL = defaultRetentionTTL
	}
	return o
}

// Service provides the core business logic for roster import batches.
type Service struct {
	batches   BatchStore
	customers CustomerStore
	templates TemplateStore
	audit     AuditStore
	resolver  *MappingResolver
	limiter   *ImportLimiter
	opts      Options

	mu     sync.Mutex
	guards map[uuid.UUID]*sync.Mutex

	// nowFn is swapped in tests for deterministic timestamps.
	nowFn func() time.Time
}

// NewService wires the import pipeline. The resolver and limiter are
// optional: a nil resolver skips mapping proposals on upload and a nil
// limiter disables concurrency capping.
func NewService(batches BatchStore, customers CustomerStore, templates TemplateStore, audit AuditStore, resolver *MappingResolver, limiter *ImportLimiter, opts Options) (*Service, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if customers == nil {
		return nil, fmt.Errorf("customer store is required")
	}
	return &Service{
		batches:   batches,
		customers: customers,
		templates: templates,
		audit:     audit,
		resolver:  resolver,
		limiter:   limiter,
		opts:      opts.withDefaults(),
		guards:    make(map[uuid.UUID]*sync.Mutex),
		nowFn:     time.Now,
	}, nil
}

func (s *Service) now() time.Time {
	return s.nowFn().UTC()
}

// ============================================================================
// Per-Batch Serialization
// ============================================================================

func (s *Service) guardFor(batchID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[batchID]
	if !ok {
		g = &sync.Mutex{}
		s.guards[batchID] = g
	}
	return g
}

func (s *Service) releaseGuard(batchID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.guards, batchID)
}

// withBatchLock runs fn while holding the batch's mutation guard. A second
// mutating call on the same batch fails immediately with ErrBatchBusy
// instead of queueing.
func (s *Service) withBatchLock(batchID uuid.UUID, fn func() error) error {
	g := s.guardFor(batchID)
	if !g.TryLock() {
		return ErrBatchBusy
	}
	defer g.Unlock()
	return fn()
}

// ============================================================================
// Batch Lookup
// ============================================================================

func (s *Service) getBatch(ctx context.Context, tenantID, batchID uuid.UUID) (*ImportBatch, error) {
	batch, err := s.batches.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	return batch, nil
}

// GetBatch returns a batch with its current summary and mapping.
func (s *Service) GetBatch(ctx context.Context, tenantID, batchID uuid.UUID) (*ImportBatch, error) {
	return s.getBatch(ctx, tenantID, batchID)
}

// ListBatches returns the tenant's batches, newest first.
func (s *Service) ListBatches(ctx context.Context, tenantID uuid.UUID, limit int) ([]*ImportBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.batches.ListBatches(ctx, tenantID, limit)
}
