package limiter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/startlimit/pkg/metrics"
	"github.com/flowforge/startlimit/pkg/model"
)

type EventType string

const (
	EventCreated   EventType = "created"
	EventRefreshed EventType = "refreshed"
	EventDeleted   EventType = "deleted"
	EventExpired   EventType = "expired"
)

// Event describes a change to the registry's tag table.
type Event struct {
	Type       EventType              `json:"type"`
	Tag        string                 `json:"tag"`
	Definition *model.LimitDefinition `json:"definition,omitempty"`
	At         time.Time              `json:"at"`
}

// Hook observes registry events. Hooks run synchronously after the change
// is visible and never under an entry lock.
type Hook func(Event)

type RegistryConfig struct {
	MaxExpires time.Duration
	BanWindow  time.Duration
	EraHistory int
	Matcher    Matcher
	Clock      Clock
}

const defaultEraHistory = 10

// entry holds everything owned by one tag. mu serializes bucket access,
// refresh and destruction; spec, eras, dead and the counters are readable
// without it. dead is only set while holding mu.
type entry struct {
	tag    string
	mu     sync.Mutex
	bucket *Bucket
	dead   atomic.Bool

	spec    atomic.Pointer[limitSpec]
	eras    atomic.Pointer[[]model.EraRecord]
	skipped atomic.Uint64
	ignored atomic.Uint64
}

func (e *entry) snapshot() model.LimitSnapshot {
	def := e.spec.Load().def
	return model.LimitSnapshot{
		Tag:          def.Tag,
		Name:         def.Name,
		Expr:         def.PredicateExpr,
		CostExpr:     def.CostExpr,
		Count:        def.Count,
		Window:       def.Window,
		Burst:        def.Burst,
		MaxBurstCost: def.MaxBurstCost,
		ExpiresAfter: def.ExpiresAfter,
		CreatedAt:    def.CreatedAt,
		RefreshedAt:  def.RefreshedAt,
		Skipped:      e.skipped.Load(),
		Ignored:      e.ignored.Load(),
	}
}

func (e *entry) appendEra(def *model.LimitDefinition, history int) {
	var eras []model.EraRecord
	if prev := e.eras.Load(); prev != nil {
		eras = append(eras, *prev...)
	}
	eras = append(eras, model.EraRecord{
		RefreshedAt:  def.RefreshedAt,
		Count:        def.Count,
		Window:       def.Window,
		Burst:        def.Burst,
		MaxBurstCost: def.MaxBurstCost,
		ExpiresAfter: def.ExpiresAfter,
	})
	if len(eras) > history {
		eras = eras[len(eras)-history:]
	}
	e.eras.Store(&eras)
}

// Registry is the table of live limit definitions keyed by tag.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	hooks   []Hook

	matcher    Matcher
	clock      Clock
	logger     *zap.Logger
	eraHistory int
	maxExpires atomic.Int64
	banWindow  atomic.Int64
}

func NewRegistry(cfg RegistryConfig, logger *zap.Logger) *Registry {
	r := &Registry{
		entries:    make(map[string]*entry),
		matcher:    cfg.Matcher,
		clock:      cfg.Clock,
		logger:     logger,
		eraHistory: cfg.EraHistory,
	}
	if r.matcher == nil {
		r.matcher = HCLMatcher{}
	}
	if r.clock == nil {
		r.clock = realClock{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.eraHistory <= 0 {
		r.eraHistory = defaultEraHistory
	}
	r.SetLimits(cfg.MaxExpires, cfg.BanWindow)
	return r
}

// SetLimits applies a new expires ceiling and ban window. Existing
// definitions keep their expiry; the ceiling applies to later writes.
func (r *Registry) SetLimits(maxExpires, banWindow time.Duration) {
	r.maxExpires.Store(int64(maxExpires))
	r.banWindow.Store(int64(banWindow))
}

func (r *Registry) MaxExpires() time.Duration {
	return time.Duration(r.maxExpires.Load())
}

func (r *Registry) BanWindow() time.Duration {
	return time.Duration(r.banWindow.Load())
}

func (r *Registry) OnChange(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Create adds a definition, or refreshes the live definition with the same
// tag. Counters of a refreshed tag are preserved.
func (r *Registry) Create(def *model.LimitDefinition) (string, error) {
	spec, err := r.prepare(def)
	if err != nil {
		return "", err
	}
	tag := spec.def.Tag
	now := r.clock.Now()

	if e := r.lookup(tag); e != nil && r.refreshEntry(e, spec, now) {
		r.emit(Event{Type: EventRefreshed, Tag: tag, Definition: e.spec.Load().def, At: now})
		return tag, nil
	}

	r.mu.Lock()
	if cur, ok := r.entries[tag]; ok && r.refreshEntry(cur, spec, now) {
		r.mu.Unlock()
		r.emit(Event{Type: EventRefreshed, Tag: tag, Definition: cur.spec.Load().def, At: now})
		return tag, nil
	}
	spec.def.CreatedAt = now
	spec.def.RefreshedAt = now
	e := r.newEntry(spec, now)
	r.entries[tag] = e
	metrics.LiveLimits.Set(float64(len(r.entries)))
	r.mu.Unlock()

	r.logger.Info("limit created",
		zap.String("tag", tag),
		zap.Int64("count", spec.def.Count),
		zap.Int64("window", spec.def.Window),
		zap.Int64("expires", spec.def.ExpiresAfter),
	)
	r.emit(Event{Type: EventCreated, Tag: tag, Definition: spec.def, At: now})
	return tag, nil
}

// Refresh restarts the expiry clock of a live tag and applies def. It fails
// with ErrNotFound if the tag does not exist or was destroyed concurrently.
func (r *Registry) Refresh(tag string, def *model.LimitDefinition) error {
	tag = strings.TrimSpace(tag)
	if def == nil {
		return fmt.Errorf("%w: definition is required", ErrInvalidDefinition)
	}
	if def.Tag != "" && strings.TrimSpace(def.Tag) != tag {
		return fmt.Errorf("%w: tag %q does not match %q", ErrInvalidDefinition, def.Tag, tag)
	}
	withTag := *def
	withTag.Tag = tag

	spec, err := r.prepare(&withTag)
	if err != nil {
		return err
	}
	now := r.clock.Now()

	e := r.lookup(tag)
	if e == nil || !r.refreshEntry(e, spec, now) {
		return fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	r.emit(Event{Type: EventRefreshed, Tag: tag, Definition: e.spec.Load().def, At: now})
	return nil
}

// refreshEntry reports false if e was destroyed before its lock was acquired.
func (r *Registry) refreshEntry(e *entry, spec *limitSpec, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead.Load() {
		return false
	}

	def := *spec.def
	def.CreatedAt = e.spec.Load().def.CreatedAt
	def.RefreshedAt = now
	next := &limitSpec{def: &def, predicate: spec.predicate, cost: spec.cost}

	e.bucket.Reconfigure(&def)
	e.spec.Store(next)
	e.appendEra(&def, r.eraHistory)

	r.logger.Debug("limit refreshed", zap.String("tag", e.tag), zap.Time("refreshed_at", now))
	return true
}

func (r *Registry) newEntry(spec *limitSpec, now time.Time) *entry {
	e := &entry{
		tag:    spec.def.Tag,
		bucket: NewBucket(spec.def, now),
	}
	e.spec.Store(spec)
	e.appendEra(spec.def, r.eraHistory)
	return e
}

// Get returns a copy of the definition and the current bucket state.
func (r *Registry) Get(tag string) (*model.LimitDefinition, BucketState, error) {
	e := r.lookup(tag)
	if e == nil {
		return nil, BucketState{}, fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead.Load() {
		return nil, BucketState{}, fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	def := *e.spec.Load().def
	return &def, e.bucket.State(), nil
}

// Tags returns every live tag in sorted order. Predicates are not evaluated.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	tags := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	r.mu.RUnlock()
	sort.Strings(tags)
	return tags
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Delete destroys a tag together with its bucket and counters.
func (r *Registry) Delete(tag string) error {
	e := r.lookup(tag)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	e.mu.Lock()
	if e.dead.Load() {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	e.dead.Store(true)
	e.mu.Unlock()

	if !r.remove(e) {
		return nil
	}
	r.logger.Info("limit deleted", zap.String("tag", tag))
	r.emit(Event{Type: EventDeleted, Tag: tag, At: r.clock.Now()})
	return nil
}

// Query returns the counters and refresh history of a tag without taking
// the entry lock.
func (r *Registry) Query(tag string) (*model.QueryResult, error) {
	e := r.lookup(tag)
	if e == nil || e.dead.Load() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	snap := e.snapshot()
	var eras []model.EraRecord
	if p := e.eras.Load(); p != nil {
		eras = append(eras, *p...)
	}
	return &model.QueryResult{
		Tag:     snap.Tag,
		Name:    snap.Name,
		Skipped: snap.Skipped,
		Ignored: snap.Ignored,
		Eras:    eras,
	}, nil
}

func (r *Registry) Snapshot(tag string) (*model.LimitSnapshot, error) {
	e := r.lookup(tag)
	if e == nil || e.dead.Load() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	snap := e.snapshot()
	return &snap, nil
}

// Snapshots returns every live limit in tag order.
func (r *Registry) Snapshots() []model.LimitSnapshot {
	live := r.live()
	out := make([]model.LimitSnapshot, 0, len(live))
	for _, e := range live {
		if e.dead.Load() {
			continue
		}
		out = append(out, e.snapshot())
	}
	return out
}

// Expire destroys every definition whose expiry has elapsed at now and
// returns the destroyed tags.
func (r *Registry) Expire(now time.Time) []string {
	var expired []*entry
	for _, e := range r.live() {
		e.mu.Lock()
		def := e.spec.Load().def
		if !e.dead.Load() && now.Sub(def.RefreshedAt) > def.ExpiresDuration() {
			e.dead.Store(true)
			expired = append(expired, e)
		}
		e.mu.Unlock()
	}

	tags := make([]string, 0, len(expired))
	for _, e := range expired {
		if !r.remove(e) {
			continue
		}
		metrics.Expired.Inc()
		r.logger.Info("limit expired", zap.String("tag", e.tag))
		r.emit(Event{Type: EventExpired, Tag: e.tag, At: now})
		tags = append(tags, e.tag)
	}
	return tags
}

// Restore reloads persisted definitions, keeping their original timestamps.
// Definitions that are already expired, invalid, or shadowed by a live tag
// are skipped. Counters start at zero and buckets start full.
func (r *Registry) Restore(defs []*model.LimitDefinition) int {
	now := r.clock.Now()
	restored := 0
	for _, def := range defs {
		spec, err := r.prepare(def)
		if err != nil {
			r.logger.Warn("skipping persisted limit", zap.String("tag", def.Tag), zap.Error(err))
			continue
		}
		if spec.def.RefreshedAt.IsZero() {
			spec.def.RefreshedAt = now
		}
		if spec.def.CreatedAt.IsZero() {
			spec.def.CreatedAt = spec.def.RefreshedAt
		}
		if now.Sub(spec.def.RefreshedAt) > spec.def.ExpiresDuration() {
			continue
		}

		r.mu.Lock()
		if _, exists := r.entries[spec.def.Tag]; exists {
			r.mu.Unlock()
			continue
		}
		r.entries[spec.def.Tag] = r.newEntry(spec, now)
		metrics.LiveLimits.Set(float64(len(r.entries)))
		r.mu.Unlock()
		restored++
	}
	return restored
}

func (r *Registry) lookup(tag string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[strings.TrimSpace(tag)]
}

// live returns the current entries ordered by tag. That order is also the
// lock order for multi-tag debits.
func (r *Registry) live() []*entry {
	r.mu.RLock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].tag < out[j].tag })
	return out
}

// remove unlinks a dead entry and reports whether it did. It is a no-op once
// the tag has been re-created, so the new entry's series and persisted
// definition are left alone.
func (r *Registry) remove(e *entry) bool {
	r.mu.Lock()
	cur, ok := r.entries[e.tag]
	if !ok || cur != e {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, e.tag)
	metrics.LiveLimits.Set(float64(len(r.entries)))
	metrics.ForgetTag(e.tag)
	r.mu.Unlock()
	return true
}

func (r *Registry) emit(ev Event) {
	r.mu.RLock()
	hooks := make([]Hook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.RUnlock()
	for _, h := range hooks {
		h(ev)
	}
}

type candidate struct {
	e    *entry
	cost float64
}

// debit decides every candidate under its entry lock, acquiring locks in
// tag order. Buckets are only charged if every candidate admits; otherwise
// just the declining buckets take their ban. Candidates whose entry died
// since the predicate was evaluated are dropped.
func (r *Registry) debit(cands []candidate, now time.Time) (charged, declined []*entry) {
	for _, c := range cands {
		c.e.mu.Lock()
	}
	defer func() {
		for _, c := range cands {
			c.e.mu.Unlock()
		}
	}()

	ban := r.BanWindow()
	next := make([]BucketState, len(cands))
	for i, c := range cands {
		if c.e.dead.Load() {
			continue
		}
		if !c.e.bucket.valid() {
			r.logger.Error("bucket invariant violated, rebuilding empty",
				zap.String("tag", c.e.tag),
				zap.Float64("tokens", c.e.bucket.state.Tokens),
				zap.Float64("burst_tokens", c.e.bucket.state.BurstTokens),
			)
			metrics.BucketResets.WithLabelValues(c.e.tag).Inc()
			c.e.bucket.reset(now)
		}

		state, verdict := c.e.bucket.decide(now, c.cost, ban)
		next[i] = state
		if verdict == Declined {
			c.e.bucket.state = state
			declined = append(declined, c.e)
			continue
		}
		charged = append(charged, c.e)
	}

	if len(declined) > 0 {
		return nil, declined
	}
	for i, c := range cands {
		if !c.e.dead.Load() {
			c.e.bucket.state = next[i]
		}
	}
	return charged, nil
}
