// Package projectcache owns the lifecycle of per-project snapshots: load, merge, persist and the
// read-only views served to on-demand modules.
package projectcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/construction-pipeline/internal/core/contract"
	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/core/provenance"
)

type Option func(*Store)

// WithLocker adds cross-process exclusion to Acquire.
func WithLocker(locker ports.ProjectLocker) Option {
	return func(s *Store) { s.locker = locker }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

type Store struct {
	backend ports.SnapshotStore
	locker  ports.ProjectLocker
	now     func() time.Time
	logger  *slog.Logger

	mu    sync.Mutex
	cells map[string]*cell
}

// cell holds the per-project synchronization state. It lives in Store.cells only while refs > 0.
type cell struct {
	refs      int
	lease     chan struct{}
	persistMu sync.Mutex
	published atomic.Pointer[publishedDoc]
}

// publishedDoc pairs a decoded project with the exact bytes it came from.
type publishedDoc struct {
	raw     []byte
	project *domain.Project
}

func New(backend ports.SnapshotStore, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		logger:  slog.Default(),
		cells:   make(map[string]*cell),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) retain(projectID string) *cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[projectID]
	if !ok {
		c = &cell{lease: make(chan struct{}, 1)}
		s.cells[projectID] = c
	}
	c.refs++
	return c
}

func (s *Store) release(projectID string, c *cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.refs--
	if c.refs == 0 && s.cells[projectID] == c {
		delete(s.cells, projectID)
	}
}

// Acquire takes the exclusive run lease of a project. Concurrent callers queue until the lease is
// released or their context ends.
func (s *Store) Acquire(ctx context.Context, projectID string) (func(), error) {
	if projectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "acquire project", errors.New("project id is empty"))
	}
	c := s.retain(projectID)
	select {
	case c.lease <- struct{}{}:
	case <-ctx.Done():
		s.release(projectID, c)
		return nil, domain.WrapError(domain.ErrProjectBusy, "acquire project", ctx.Err())
	}

	unlock := func() error { return nil }
	if s.locker != nil {
		fn, err := s.locker.Lock(ctx, projectID)
		if err != nil {
			<-c.lease
			s.release(projectID, c)
			return nil, domain.WrapError(domain.ErrProjectBusy, "lock project", err)
		}
		unlock = fn
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := unlock(); err != nil {
				s.logger.Warn("project_unlock_failed", "project_id", projectID, "error", err)
			}
			<-c.lease
			s.release(projectID, c)
		})
	}, nil
}

// LoadOrCreate returns the persisted project or a fresh one with status created. The caller must
// hold the run lease. A snapshot that cannot be decoded yields *domain.CacheCorruptionError.
func (s *Store) LoadOrCreate(ctx context.Context, projectID string) (*domain.Project, error) {
	p, err := s.load(ctx, projectID)
	if errors.Is(err, domain.ErrProjectNotFound) {
		return domain.NewProject(projectID, s.now().UTC()), nil
	}
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now().UTC()
	return p, nil
}

func (s *Store) load(ctx context.Context, projectID string) (*domain.Project, error) {
	data, err := s.backend.Load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return decode(projectID, data)
}

func decode(projectID string, data []byte) (*domain.Project, error) {
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &domain.CacheCorruptionError{ProjectID: projectID, Err: err}
	}
	if err := p.Validate(); err != nil {
		return nil, &domain.CacheCorruptionError{ProjectID: projectID, Err: err}
	}
	if p.ID != projectID {
		return nil, &domain.CacheCorruptionError{ProjectID: projectID, Err: fmt.Errorf("snapshot belongs to %q", p.ID)}
	}
	return &p, nil
}

// MergeStageOutput stores a validated output under key. Items are unioned with the previous result
// by id, the newer item wins. Provenance records are applied with versioning.
func (s *Store) MergeStageOutput(p *domain.Project, key string, out contract.ValidatedOutput, records []domain.ProvenanceRecord) *domain.StageResult {
	byID := make(map[string]domain.Item)
	if prev := p.StageResults[key]; prev != nil {
		for _, item := range prev.Clone().Items {
			byID[item.ID] = item
		}
	}
	for _, item := range out.Items() {
		item.Source = nil
		byID[item.ID] = item
	}
	items := make([]domain.Item, 0, len(byID))
	for _, item := range byID {
		items = append(items, item)
	}
	domain.SortItems(items)

	result := (&domain.StageResult{
		Stage:      out.Stage(),
		Contract:   out.Contract(),
		Items:      items,
		Aggregates: out.Aggregates(),
		ProducedAt: s.now().UTC(),
	}).Clone()

	for _, rec := range records {
		provenance.Apply(p.ProvenanceIndex, rec)
	}
	p.StageResults[key] = result
	return result
}

// SetNull records an explicit null under key.
func (s *Store) SetNull(p *domain.Project, key string) {
	p.StageResults[key] = nil
}

// Persist writes the project atomically and publishes it to snapshot readers.
func (s *Store) Persist(ctx context.Context, p *domain.Project) error {
	if p == nil || p.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "persist project", errors.New("project id is empty"))
	}
	c := s.retain(p.ID)
	defer s.release(p.ID, c)
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project %s: %w", p.ID, err)
	}
	if err := s.backend.Save(ctx, p.ID, data); err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	c.published.Store(&publishedDoc{raw: data, project: p.Clone()})
	return nil
}

// Snapshot returns a read-only view of the last persisted state. It never waits for a running
// pipeline. An empty scope selects every stage key; scoped keys that are absent read as null.
func (s *Store) Snapshot(ctx context.Context, projectID string, scope []string) (*domain.ProjectView, error) {
	p, err := s.current(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return view(p.Clone(), scope), nil
}

// current re-reads the stored document so writes from other processes are seen. The decoded copy
// is reused while the bytes match. The returned project is shared and must not be mutated.
func (s *Store) current(ctx context.Context, projectID string) (*domain.Project, error) {
	c := s.retain(projectID)
	defer s.release(projectID, c)

	cached := c.published.Load()
	data, err := s.backend.Load(ctx, projectID)
	if err != nil {
		if cached != nil && !errors.Is(err, domain.ErrProjectNotFound) {
			s.logger.Warn("snapshot_reload_failed", "project_id", projectID, "error", err)
			return cached.project, nil
		}
		return nil, err
	}
	if cached != nil && bytes.Equal(cached.raw, data) {
		return cached.project, nil
	}
	p, err := decode(projectID, data)
	if err != nil {
		return nil, err
	}
	// A concurrent Persist wins the slot; this read is still a consistent copy.
	c.published.CompareAndSwap(cached, &publishedDoc{raw: data, project: p})
	return p, nil
}

func view(p *domain.Project, scope []string) *domain.ProjectView {
	keys := scope
	if len(keys) == 0 {
		keys = p.StageKeys()
	}
	v := &domain.ProjectView{
		ProjectID:    p.ID,
		Status:       p.Status,
		UpdatedAt:    p.UpdatedAt,
		Scope:        append([]string(nil), scope...),
		Artifacts:    p.RawArtifacts,
		StageResults: make(map[string]*domain.StageResult, len(keys)),
		Provenance:   make(map[string]domain.ProvenanceRecord),
	}
	for _, key := range keys {
		result := p.StageResults[key]
		v.StageResults[key] = result
		if result == nil {
			continue
		}
		for _, item := range result.Items {
			if rec, ok := p.ProvenanceIndex[item.ID]; ok {
				v.Provenance[item.ID] = rec
			}
		}
	}
	if last, ok := p.LastRun(); ok {
		v.LastRun = &last
	}
	return v
}

// Project returns a deep copy of the last persisted project document.
func (s *Store) Project(ctx context.Context, projectID string) (*domain.Project, error) {
	p, err := s.current(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}
