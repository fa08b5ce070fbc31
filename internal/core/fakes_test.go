package core

// fakes_test.go holds the in-memory store implementations the service tests
// run against. The batch store clones on read and write so a mutation only
// sticks after an explicit UpdateBatch/UpdateRows, the same contract the
// postgres store gives.

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Batch store
// ============================================================================

type memBatchStore struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*ImportBatch
	rows    map[uuid.UUID][]*StagingRow
	reports map[uuid.UUID]*CleaningReport
	commits map[uuid.UUID][]*BatchCommit

	// saveCommitErr fails the next SaveCommit calls, for exercising the
	// commit bookkeeping failure path.
	saveCommitErr error
}

func newMemBatchStore() *memBatchStore {
	return &memBatchStore{
		batches: make(map[uuid.UUID]*ImportBatch),
		rows:    make(map[uuid.UUID][]*StagingRow),
		reports: make(map[uuid.UUID]*CleaningReport),
		commits: make(map[uuid.UUID][]*BatchCommit),
	}
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneBatch(b *ImportBatch) *ImportBatch {
	out := *b
	out.Headers = append([]string(nil), b.Headers...)
	out.Mapping = append([]ColumnMapping(nil), b.Mapping...)
	out.ReimportRows = append([]int(nil), b.ReimportRows...)
	if b.RuleToggles != nil {
		out.RuleToggles = make(map[RuleID]bool, len(b.RuleToggles))
		for k, v := range b.RuleToggles {
			out.RuleToggles[k] = v
		}
	}
	if b.Proposal != nil {
		p := *b.Proposal
		out.Proposal = &p
	}
	if b.Summary != nil {
		s := *b.Summary
		out.Summary = &s
	}
	return &out
}

func cloneRow(r *StagingRow) *StagingRow {
	out := *r
	out.Raw = cloneStringMap(r.Raw)
	out.Edits = cloneStringMap(r.Edits)
	out.Errors = append([]FieldError(nil), r.Errors...)
	return &out
}

func (s *memBatchStore) CreateBatch(_ context.Context, batch *ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = cloneBatch(batch)
	return nil
}

func (s *memBatchStore) GetBatch(_ context.Context, tenantID, batchID uuid.UUID) (*ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.TenantID != tenantID {
		return nil, nil
	}
	return cloneBatch(b), nil
}

func (s *memBatchStore) UpdateBatch(_ context.Context, batch *ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = cloneBatch(batch)
	return nil
}

func (s *memBatchStore) ListBatches(_ context.Context, tenantID uuid.UUID, limit int) ([]*ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ImportBatch
	for _, b := range s.batches {
		if b.TenantID == tenantID {
			out = append(out, cloneBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memBatchStore) DeleteBatch(_ context.Context, _, batchID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, batchID)
	delete(s.rows, batchID)
	delete(s.reports, batchID)
	delete(s.commits, batchID)
	return nil
}

func (s *memBatchStore) PurgeBatchData(_ context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, batchID)
	delete(s.reports, batchID)
	return nil
}

func (s *memBatchStore) SaveRows(_ context.Context, batchID uuid.UUID, rows []*StagingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]*StagingRow, len(rows))
	for i, r := range rows {
		stored[i] = cloneRow(r)
	}
	s.rows[batchID] = stored
	return nil
}

func (s *memBatchStore) GetRows(_ context.Context, batchID uuid.UUID) ([]*StagingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*StagingRow, 0, len(s.rows[batchID]))
	for _, r := range s.rows[batchID] {
		out = append(out, cloneRow(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *memBatchStore) UpdateRows(_ context.Context, batchID uuid.UUID, rows []*StagingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIndex := make(map[int]*StagingRow, len(s.rows[batchID]))
	for _, r := range s.rows[batchID] {
		byIndex[r.Index] = r
	}
	for _, r := range rows {
		stored, ok := byIndex[r.Index]
		if !ok {
			continue
		}
		stored.Status = r.Status
		stored.Errors = append([]FieldError(nil), r.Errors...)
		stored.Edits = cloneStringMap(r.Edits)
		stored.Selected = r.Selected
	}
	return nil
}

func (s *memBatchStore) SaveCleaningReport(_ context.Context, batchID uuid.UUID, report *CleaningReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[batchID] = report
	return nil
}

func (s *memBatchStore) GetCleaningReport(_ context.Context, batchID uuid.UUID) (*CleaningReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports[batchID], nil
}

func (s *memBatchStore) SaveCommit(_ context.Context, commit *BatchCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveCommitErr != nil {
		return s.saveCommitErr
	}
	c := *commit
	c.Errors = append([]RowError(nil), commit.Errors...)
	s.commits[commit.BatchID] = append(s.commits[commit.BatchID], &c)
	return nil
}

func (s *memBatchStore) GetCommits(_ context.Context, batchID uuid.UUID) ([]*BatchCommit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*BatchCommit, 0, len(s.commits[batchID]))
	for _, c := range s.commits[batchID] {
		cp := *c
		cp.Errors = append([]RowError(nil), c.Errors...)
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memBatchStore) MarkCommitsRolledBack(_ context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.commits[batchID] {
		c.RolledBack = true
	}
	return nil
}

func (s *memBatchStore) ListStale(_ context.Context, cutoff time.Time) ([]*ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ImportBatch
	for _, b := range s.batches {
		if b.Status == StatusStaging && b.UpdatedAt.Before(cutoff) {
			out = append(out, cloneBatch(b))
		}
	}
	return out, nil
}

// ============================================================================
// Customer store
// ============================================================================

// memCustomerStore keeps customers with a duplicate-key index. failRows
// injects a write error for specific row indexes, which is how the partial
// failure paths get exercised.
type memCustomerStore struct {
	mu        sync.Mutex
	customers map[uuid.UUID]*Customer
	keys      map[string]uuid.UUID
	records   []*CommitRecord
	failRows  map[int]error
	creates   int
	updates   int
}

func newMemCustomerStore() *memCustomerStore {
	return &memCustomerStore{
		customers: make(map[uuid.UUID]*Customer),
		keys:      make(map[string]uuid.UUID),
		failRows:  make(map[int]error),
	}
}

func custKey(tenantID uuid.UUID, key string) string {
	return tenantID.String() + "|" + key
}

// seed registers an existing customer without commit bookkeeping, as if it
// predated the import under test.
func (s *memCustomerStore) seed(c *Customer) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	s.customers[cp.ID] = &cp
	s.keys[custKey(cp.TenantID, DuplicateKey(cp.Name, cp.Address))] = cp.ID
	return cp.ID
}

func (s *memCustomerStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.customers)
}

func (s *memCustomerStore) get(id uuid.UUID) *Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (s *memCustomerStore) MatchKeys(_ context.Context, tenantID uuid.UUID, keys []string) (map[string]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uuid.UUID)
	for _, k := range keys {
		if id, ok := s.keys[custKey(tenantID, k)]; ok {
			out[k] = id
		}
	}
	return out, nil
}

func (s *memCustomerStore) CreateCustomer(_ context.Context, customer *Customer, record *CommitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failRows[record.RowIndex]; err != nil {
		return err
	}
	c := *customer
	s.customers[c.ID] = &c
	s.keys[custKey(c.TenantID, DuplicateKey(c.Name, c.Address))] = c.ID
	r := *record
	s.records = append(s.records, &r)
	s.creates++
	return nil
}

func (s *memCustomerStore) UpdateCustomer(_ context.Context, customer *Customer, record *CommitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failRows[record.RowIndex]; err != nil {
		return err
	}
	c := *customer
	s.customers[c.ID] = &c
	r := *record
	s.records = append(s.records, &r)
	s.updates++
	return nil
}

func (s *memCustomerStore) DeleteCreated(_ context.Context, _, batchID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for _, r := range s.records {
		if r.BatchID != batchID || r.Action != CommitCreated {
			continue
		}
		c, ok := s.customers[r.CustomerID]
		if !ok {
			continue
		}
		delete(s.customers, r.CustomerID)
		delete(s.keys, custKey(c.TenantID, DuplicateKey(c.Name, c.Address)))
		deleted++
	}
	return deleted, nil
}

// groupCustomerStore adds the GroupWriter extension on top of the plain
// store so tests cover the grouped write path too.
type groupCustomerStore struct {
	*memCustomerStore
	gmu    sync.Mutex
	groups int
}

func (s *groupCustomerStore) WriteGroup(ctx context.Context, writes []CustomerWrite) []error {
	s.gmu.Lock()
	s.groups++
	s.gmu.Unlock()
	errs := make([]error, len(writes))
	for i, w := range writes {
		if w.Record.Action == CommitUpdated {
			errs[i] = s.UpdateCustomer(ctx, w.Customer, w.Record)
		} else {
			errs[i] = s.CreateCustomer(ctx, w.Customer, w.Record)
		}
	}
	return errs
}

// ============================================================================
// Template, audit and cache fakes
// ============================================================================

type memTemplateStore struct {
	mu   sync.Mutex
	tpls []*MappingTemplate
}

func (s *memTemplateStore) SaveTemplate(_ context.Context, tpl *MappingTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tpl
	cp.Headers = append([]string(nil), tpl.Headers...)
	cp.Mappings = append([]ColumnMapping(nil), tpl.Mappings...)
	for i, t := range s.tpls {
		if t.ID == tpl.ID {
			s.tpls[i] = &cp
			return nil
		}
	}
	s.tpls = append(s.tpls, &cp)
	return nil
}

func (s *memTemplateStore) ListTemplates(_ context.Context, tenantID uuid.UUID) ([]*MappingTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*MappingTemplate
	for _, t := range s.tpls {
		if t.TenantID == tenantID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memTemplateStore) DeleteTemplate(_ context.Context, tenantID, templateID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tpls {
		if t.ID == templateID && t.TenantID == tenantID {
			s.tpls = append(s.tpls[:i], s.tpls[i+1:]...)
			return nil
		}
	}
	return nil
}

type memAuditStore struct {
	mu     sync.Mutex
	events []*AuditEvent
}

func (s *memAuditStore) Record(_ context.Context, event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *memAuditStore) ListForBatch(_ context.Context, batchID uuid.UUID, limit int) ([]*AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AuditEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].BatchID != batchID {
			continue
		}
		cp := *s.events[i]
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memAuditStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	kept := s.events[:0]
	for _, e := range s.events {
		if e.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return purged, nil
}

func (s *memAuditStore) actions() []AuditAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditAction, len(s.events))
	for i, e := range s.events {
		out[i] = e.Action
	}
	return out
}

func (s *memAuditStore) hasAction(action AuditAction) bool {
	for _, a := range s.actions() {
		if a == action {
			return true
		}
	}
	return false
}

type memSuggestionCache struct {
	mu   sync.Mutex
	data map[string]*FieldSuggestion
	sets int
}

func newMemSuggestionCache() *memSuggestionCache {
	return &memSuggestionCache{data: make(map[string]*FieldSuggestion)}
}

func (c *memSuggestionCache) Get(_ context.Context, header string) (*FieldSuggestion, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.data[foldHeader(header)]
	if !ok {
		return nil, false, nil
	}
	cp := *s
	return &cp, true, nil
}

func (c *memSuggestionCache) Set(_ context.Context, header string, s *FieldSuggestion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	cp := *s
	c.data[foldHeader(header)] = &cp
	return nil
}

// fakeClassifier answers from a canned map and records every call, headers
// and samples alike.
type fakeClassifier struct {
	mu          sync.Mutex
	suggestions map[string]FieldSuggestion
	err         error
	calls       [][]string
	samples     []map[string][]string
}

func (c *fakeClassifier) Classify(_ context.Context, headers []string, samples map[string][]string) ([]FieldSuggestion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]string(nil), headers...))
	c.samples = append(c.samples, samples)
	if c.err != nil {
		return nil, c.err
	}
	var out []FieldSuggestion
	for _, h := range headers {
		if s, ok := c.suggestions[h]; ok {
			s.Header = h
			out = append(out, s)
		}
	}
	return out, nil
}

// ============================================================================
// Service wiring
// ============================================================================

type testEnv struct {
	svc       *Service
	batches   *memBatchStore
	customers *memCustomerStore
	templates *memTemplateStore
	audit     *memAuditStore
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		batches:   newMemBatchStore(),
		customers: newMemCustomerStore(),
		templates: &memTemplateStore{},
		audit:     &memAuditStore{},
	}
	svc, err := NewService(env.batches, env.customers, env.templates, env.audit, nil, nil, opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	env.svc = svc
	return env
}

// uploadCSV stages a roster and returns the batch id.
func (e *testEnv) uploadCSV(t *testing.T, tenantID uuid.UUID, data string) uuid.UUID {
	t.Helper()
	res, err := e.svc.Upload(context.Background(), tenantID, "kunder.csv", []byte(data))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return res.BatchID
}
