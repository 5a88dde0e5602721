// Package livestore caches home-scoped entities in memory and keeps them
// current through explicit fetches plus merges of realtime change events.
//
// Writes issued through a Store do not touch the cache unless the store is
// optimistic; the cache otherwise only changes on Fetch and on change events,
// so a store's own writes become visible once the feed delivers them.
package livestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/orderlyflow/internal/backend"
	"github.com/dukerupert/orderlyflow/internal/metrics"
	"github.com/dukerupert/orderlyflow/internal/model"
)

var (
	ErrEmptyHomeID = errors.New("livestore: empty home id")
	ErrEmptyID     = errors.New("livestore: empty entity id")
)

// Backend is the part of the backend contract a Store needs.
type Backend interface {
	backend.Tables
	backend.ChangeFeed
	backend.Auth
}

// Normalizer rewrites a raw row before it is decoded into an entity.
type Normalizer func(model.Row) model.Row

// Config parameterizes a Store for one entity table.
type Config struct {
	Table     string
	Normalize Normalizer
}

type options struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	optimistic bool
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithOptimistic makes Create, Update and Delete merge the backend's answer
// into the cache right away. The later change event for the same row is
// then a no-op or an idempotent replace.
func WithOptimistic(enabled bool) Option {
	return func(o *options) {
		o.optimistic = enabled
	}
}

// Store is the live cache for one entity type, partitioned by home.
type Store[T model.Entity] struct {
	cfg     Config
	backend Backend
	opts    options

	mu      sync.RWMutex
	byHome  map[string][]T
	loading map[string]bool

	obsMu     sync.Mutex
	observers map[int]func(homeID string)
	nextObs   int
}

// New creates a Store for cfg.Table backed by be.
func New[T model.Entity](be Backend, cfg Config, opts ...Option) *Store[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("table", cfg.Table)
	return &Store[T]{
		cfg:       cfg,
		backend:   be,
		opts:      o,
		byHome:    make(map[string][]T),
		loading:   make(map[string]bool),
		observers: make(map[int]func(string)),
	}
}

// Table returns the backend table this store mirrors.
func (s *Store[T]) Table() string {
	return s.cfg.Table
}

// Fetch replaces homeID's list with the backend's rows, newest first. The
// loading flag is set for the duration of the call. A failed read is logged
// and leaves the home with an empty list rather than the previous one.
func (s *Store[T]) Fetch(ctx context.Context, homeID string) error {
	if homeID == "" {
		return ErrEmptyHomeID
	}

	s.SetLoading(homeID, true)
	defer s.SetLoading(homeID, false)

	rows, err := s.backend.Select(ctx, s.cfg.Table, homeID)
	if err != nil {
		s.opts.logger.Error("fetch failed", "home_id", homeID, "error", err)
		s.opts.metrics.StoreFetchFailed(s.cfg.Table)
		s.SetEntities(homeID, []T{})
		return nil
	}

	entities := make([]T, 0, len(rows))
	for _, row := range rows {
		e, err := s.decode(row)
		if err != nil {
			s.opts.logger.Warn("skip undecodable row", "home_id", homeID, "id", row.String("id"), "error", err)
			continue
		}
		entities = append(entities, e)
	}
	s.SetEntities(homeID, entities)
	return nil
}

// Create inserts a new row for homeID. It requires a signed-in user and
// fails with backend.ErrNotAuthenticated before any table call otherwise.
func (s *Store[T]) Create(ctx context.Context, homeID string, data model.Row) error {
	if homeID == "" {
		return ErrEmptyHomeID
	}

	user, err := s.backend.CurrentUser(ctx)
	if err != nil {
		s.opts.logger.Error("resolve current user", "error", err)
		return fmt.Errorf("resolve current user: %w", err)
	}
	if user == nil {
		s.opts.logger.Warn("create without user", "home_id", homeID)
		return backend.ErrNotAuthenticated
	}

	row := stripManaged(data)
	row["home_id"] = homeID

	inserted, err := s.backend.Insert(ctx, s.cfg.Table, row)
	if err != nil {
		s.opts.logger.Error("create failed", "home_id", homeID, "error", err)
		return err
	}
	if s.opts.optimistic {
		s.Apply(homeID, model.ChangeEvent{Table: s.cfg.Table, EventType: model.EventInsert, New: inserted})
	}
	return nil
}

// Update applies a partial update to the row with the given id. The owning
// home of a row never changes, so home_id is not sent.
func (s *Store[T]) Update(ctx context.Context, homeID, id string, fields model.Row) error {
	if homeID == "" {
		return ErrEmptyHomeID
	}
	if id == "" {
		return ErrEmptyID
	}

	updated, err := s.backend.Update(ctx, s.cfg.Table, id, stripManaged(fields))
	if err != nil {
		s.opts.logger.Error("update failed", "home_id", homeID, "id", id, "error", err)
		return err
	}
	if s.opts.optimistic {
		s.Apply(homeID, model.ChangeEvent{Table: s.cfg.Table, EventType: model.EventUpdate, New: updated})
	}
	return nil
}

// Delete removes the row with the given id.
func (s *Store[T]) Delete(ctx context.Context, homeID, id string) error {
	if homeID == "" {
		return ErrEmptyHomeID
	}
	if id == "" {
		return ErrEmptyID
	}

	if err := s.backend.Delete(ctx, s.cfg.Table, id); err != nil {
		s.opts.logger.Error("delete failed", "home_id", homeID, "id", id, "error", err)
		return err
	}
	if s.opts.optimistic {
		s.Apply(homeID, model.ChangeEvent{Table: s.cfg.Table, EventType: model.EventDelete, Old: model.Row{"id": id}})
	}
	return nil
}

// SetEntities replaces homeID's list.
func (s *Store[T]) SetEntities(homeID string, list []T) {
	cp := make([]T, len(list))
	copy(cp, list)

	s.mu.Lock()
	s.byHome[homeID] = cp
	s.mu.Unlock()

	s.notify(homeID)
}

// SetLoading sets homeID's loading flag.
func (s *Store[T]) SetLoading(homeID string, loading bool) {
	s.mu.Lock()
	s.loading[homeID] = loading
	s.mu.Unlock()

	s.notify(homeID)
}

// Entities returns a copy of homeID's list, nil if the home was never loaded.
func (s *Store[T]) Entities(homeID string) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, ok := s.byHome[homeID]
	if !ok {
		return nil
	}
	cp := make([]T, len(list))
	copy(cp, list)
	return cp
}

// Count returns the number of cached entities for homeID.
func (s *Store[T]) Count(homeID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHome[homeID])
}

// HasData reports whether homeID has a list, even an empty one.
func (s *Store[T]) HasData(homeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byHome[homeID]
	return ok
}

func (s *Store[T]) Loading(homeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading[homeID]
}

// Apply merges one change event into homeID's list: INSERT prepends unless
// the id is already present, UPDATE replaces the entity with the same id,
// DELETE removes it. Events for another table or another home are ignored.
func (s *Store[T]) Apply(homeID string, ev model.ChangeEvent) {
	if ev.Table != "" && ev.Table != s.cfg.Table {
		return
	}
	if owner := ev.HomeID(); owner != "" && owner != homeID {
		return
	}

	var changed bool
	switch ev.EventType {
	case model.EventInsert:
		e, err := s.decode(ev.New)
		if err != nil {
			s.opts.logger.Warn("skip undecodable insert", "home_id", homeID, "error", err)
			return
		}
		changed = s.insert(homeID, e)
	case model.EventUpdate:
		e, err := s.decode(ev.New)
		if err != nil {
			s.opts.logger.Warn("skip undecodable update", "home_id", homeID, "error", err)
			return
		}
		changed = s.replace(homeID, e)
	case model.EventDelete:
		changed = s.remove(homeID, ev.RowID())
	default:
		s.opts.logger.Warn("unknown change event", "event", ev.EventType)
		return
	}

	if changed {
		s.opts.metrics.StoreMerged(s.cfg.Table, string(ev.EventType))
		s.notify(homeID)
	}
}

// Watch subscribes to the change feed for homeID and merges every event.
func (s *Store[T]) Watch(ctx context.Context, homeID string) (backend.Subscription, error) {
	if homeID == "" {
		return nil, ErrEmptyHomeID
	}
	sub, err := s.backend.Subscribe(ctx, s.cfg.Table, homeID, func(ev model.ChangeEvent) {
		s.Apply(homeID, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", s.cfg.Table, err)
	}
	return sub, nil
}

// OnChange registers fn to be called with the home id after every state
// change. The returned func removes the observer.
func (s *Store[T]) OnChange(fn func(homeID string)) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Store[T]) notify(homeID string) {
	s.obsMu.Lock()
	fns := make([]func(string), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(homeID)
	}
}

func (s *Store[T]) insert(homeID string, e T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.byHome[homeID]
	if indexOf(list, e.EntityID()) >= 0 {
		return false
	}
	next := make([]T, 0, len(list)+1)
	next = append(next, e)
	next = append(next, list...)
	s.byHome[homeID] = next
	return true
}

func (s *Store[T]) replace(homeID string, e T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.byHome[homeID]
	i := indexOf(list, e.EntityID())
	if i < 0 {
		return false
	}
	next := make([]T, len(list))
	copy(next, list)
	next[i] = e
	s.byHome[homeID] = next
	return true
}

func (s *Store[T]) remove(homeID, id string) bool {
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.byHome[homeID]
	i := indexOf(list, id)
	if i < 0 {
		return false
	}
	next := make([]T, 0, len(list)-1)
	next = append(next, list[:i]...)
	next = append(next, list[i+1:]...)
	s.byHome[homeID] = next
	return true
}

func (s *Store[T]) decode(row model.Row) (T, error) {
	if s.cfg.Normalize != nil {
		row = s.cfg.Normalize(row)
	}
	e, err := model.DecodeRow[T](row)
	if err != nil {
		return e, err
	}
	if e.EntityID() == "" {
		return e, ErrEmptyID
	}
	return e, nil
}

func indexOf[T model.Entity](list []T, id string) int {
	for i, e := range list {
		if e.EntityID() == id {
			return i
		}
	}
	return -1
}

// stripManaged drops the columns the backend assigns.
func stripManaged(data model.Row) model.Row {
	row := data.Clone()
	if row == nil {
		row = model.Row{}
	}
	delete(row, "id")
	delete(row, "home_id")
	delete(row, "created_at")
	delete(row, "updated_at")
	return row
}
