package task

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/phrazzld/analyze/internal/domain"
)

// StoreConfig holds configuration for the record store
type StoreConfig struct {
	// MaxRetained bounds how many terminal records are kept for status
	// queries. The least recently used terminal record is evicted first.
	// Active records are never evicted.
	MaxRetained int

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultStoreConfig returns a StoreConfig with reasonable defaults
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxRetained: 10000,
		Clock:       time.Now,
	}
}

// entry guards a single record. Its mutex serializes updates to that
// record only.
type entry struct {
	mu  sync.Mutex
	rec Record
}

// Store holds the authoritative state of every task.
//
// Locking is two-level: the index lock protects which entries exist and
// where they live, and is never held while a mutation runs; each entry has
// its own mutex. Updates to different records never contend beyond the
// brief index lookup.
type Store struct {
	mu       sync.RWMutex
	active   map[string]*entry
	retained *lru.Cache[string, *entry]

	clock   func() time.Time
	logger  *slog.Logger
	metrics Metrics
}

// NewStore creates a new Store
func NewStore(config StoreConfig, logger *slog.Logger) (*Store, error) {
	if config.MaxRetained <= 0 {
		config.MaxRetained = DefaultStoreConfig().MaxRetained
		logger.Warn("invalid retention size specified, using default",
			"default_max_retained", config.MaxRetained)
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	s := &Store{
		active:  make(map[string]*entry),
		clock:   config.Clock,
		logger:  logger.With("component", "task_store"),
		metrics: nopMetrics{},
	}

	retained, err := lru.NewWithEvict(config.MaxRetained, func(id string, _ *entry) {
		s.logger.Debug("evicted finished task", "task_id", id)
		s.metrics.Evicted()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create retention cache: %w", err)
	}
	s.retained = retained

	return s, nil
}

// SetMetrics installs a metrics sink. It must be called before the store
// is shared between goroutines.
func (s *Store) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// Create registers a new Pending record under id.
// Returns domain.ErrConflict if a record with the same id exists.
func (s *Store) Create(id string, spec domain.AnalysisSpec) (Record, error) {
	e := &entry{rec: Record{
		ID:        id,
		Spec:      spec,
		State:     StatePending,
		CreatedAt: s.clock().UTC(),
	}}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[id]; exists || s.retained.Contains(id) {
		return Record{}, fmt.Errorf("%w: %s", domain.ErrConflict, id)
	}
	s.active[id] = e

	return e.rec.clone(), nil
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (Record, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.clone(), nil
}

// Update applies mutate to the record with the given id and commits the
// result if it respects the state machine. The returned record is the
// committed state.
//
// The store owns the lifecycle timestamps: started_at is set on entering
// Running and finished_at on entering a terminal state, each exactly once.
// Progress is clamped to 0-99 until the task succeeds and never decreases.
func (s *Store) Update(id string, mutate Mutation) (Record, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	e.mu.Lock()
	before := e.rec
	next := before.clone()
	if err := mutate(&next); err != nil {
		e.mu.Unlock()
		return Record{}, err
	}
	if err := s.settle(before, &next); err != nil {
		e.mu.Unlock()
		return Record{}, err
	}
	e.rec = next
	committed := next.clone()
	e.mu.Unlock()

	if !before.State.IsTerminal() && committed.State.IsTerminal() {
		s.retire(id, e)
	}

	return committed, nil
}

// Remove drops a Pending record that was never admitted. Records in any
// other state are left untouched.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.active[id]
	if !ok {
		return
	}
	e.mu.Lock()
	pending := e.rec.State == StatePending
	e.mu.Unlock()
	if pending {
		delete(s.active, id)
	}
}

// Snapshot counts records per state. The counts come from a single
// consistent view, so Total() == Active() + Completed() always holds.
func (s *Store) Snapshot() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Counts
	for _, e := range s.active {
		e.mu.Lock()
		c.add(e.rec.State)
		e.mu.Unlock()
	}
	for _, id := range s.retained.Keys() {
		e, ok := s.retained.Peek(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		c.add(e.rec.State)
		e.mu.Unlock()
	}
	return c
}

// List returns copies of all held records, optionally filtered by state,
// ordered by creation time.
func (s *Store) List(state State) []Record {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.active)+s.retained.Len())
	for _, e := range s.active {
		entries = append(entries, e)
	}
	for _, id := range s.retained.Keys() {
		if e, ok := s.retained.Peek(id); ok {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if state == "" || e.rec.State == state {
			records = append(records, e.rec.clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.active[id]; ok {
		return e, true
	}
	return s.retained.Get(id)
}

// retire moves a finished record from the active index into the bounded
// retention cache.
func (s *Store) retire(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[id] != e {
		return
	}
	delete(s.active, id)
	s.retained.Add(id, e)
}

// maxUnfinishedProgress caps reported progress so that only Succeeded
// records ever show 100.
const maxUnfinishedProgress = 99

// settle validates the transition from before to next and fills in the
// fields the store owns.
func (s *Store) settle(before Record, next *Record) error {
	if before.State.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", domain.ErrTaskFinished, before.ID, before.State)
	}
	if next.ID != before.ID || next.Spec != before.Spec || !next.CreatedAt.Equal(before.CreatedAt) {
		return fmt.Errorf("%w: immutable fields of %s changed", domain.ErrInvalidTransition, before.ID)
	}
	if !canTransition(before.State, next.State) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, before.State, next.State)
	}

	hasOutcome := next.Result != nil || next.ErrorDetail != ""
	if hasOutcome && (before.State != StateRunning || !next.State.IsTerminal()) {
		return fmt.Errorf("%w: outcome set on %s task %s", domain.ErrInvalidTransition, before.State, before.ID)
	}
	if next.Result != nil && next.ErrorDetail != "" {
		return fmt.Errorf("%w: result and error both set on %s", domain.ErrInvalidTransition, before.ID)
	}
	if next.State == StateFailed && next.ErrorDetail == "" {
		return fmt.Errorf("%w: failed task %s has no error detail", domain.ErrInvalidTransition, before.ID)
	}
	if next.State == StateSucceeded && next.ErrorKind != "" {
		return fmt.Errorf("%w: succeeded task %s has an error kind", domain.ErrInvalidTransition, before.ID)
	}

	next.StartedAt, next.FinishedAt = before.StartedAt, before.FinishedAt
	now := s.clock().UTC()
	if next.State == StateRunning && next.StartedAt == nil {
		next.StartedAt = &now
	}
	if next.State.IsTerminal() {
		next.FinishedAt = &now
	}

	switch {
	case next.State == StateSucceeded:
		next.Progress = 100
	case before.State == StateRunning:
		next.Progress = max(before.Progress, min(next.Progress, maxUnfinishedProgress))
	default:
		next.Progress = before.Progress
	}

	return nil
}

func canTransition(from, to State) bool {
	if from == to {
		return true
	}
	switch from {
	case StatePending:
		return to == StateRunning || to == StateCancelled
	case StateRunning:
		return to.IsTerminal()
	default:
		return false
	}
}

// Counts holds the number of records per state.
type Counts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

func (c *Counts) add(s State) {
	switch s {
	case StatePending:
		c.Pending++
	case StateRunning:
		c.Running++
	case StateSucceeded:
		c.Succeeded++
	case StateFailed:
		c.Failed++
	case StateCancelled:
		c.Cancelled++
	}
}

// Active returns the number of Pending and Running records.
func (c Counts) Active() int { return c.Pending + c.Running }

// Completed returns the number of records in a terminal state.
func (c Counts) Completed() int { return c.Succeeded + c.Failed + c.Cancelled }

// Total returns the number of records held.
func (c Counts) Total() int { return c.Active() + c.Completed() }
