package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/startlimit/pkg/limiter"
)

const persistTimeout = 5 * time.Second

// Persister mirrors registry changes into a DefinitionStore. Events are
// queued by the registry hook and written in order by Run, so a slow
// backend never stalls Create. Failures are logged and dropped.
type Persister struct {
	store  DefinitionStore
	logger *zap.Logger
	queue  chan limiter.Event
}

func NewPersister(store DefinitionStore, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{
		store:  store,
		logger: logger,
		queue:  make(chan limiter.Event, 1024),
	}
}

// Hook is registered with Registry.OnChange.
func (p *Persister) Hook(ev limiter.Event) {
	select {
	case p.queue <- ev:
	default:
		p.logger.Error("persistence queue full, dropping event",
			zap.String("tag", ev.Tag),
			zap.String("type", string(ev.Type)),
		)
	}
}

// Restore loads persisted definitions into the registry.
func (p *Persister) Restore(ctx context.Context, registry *limiter.Registry) (int, error) {
	defs, err := p.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	n := registry.Restore(defs)
	p.logger.Info("restored persisted limits", zap.Int("loaded", len(defs)), zap.Int("restored", n))
	return n, nil
}

// Run drains the queue until ctx is done, then flushes what is left.
func (p *Persister) Run(ctx context.Context) {
	for {
		select {
		case ev := <-p.queue:
			p.apply(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-p.queue:
					p.apply(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Persister) apply(ev limiter.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	switch ev.Type {
	case limiter.EventCreated, limiter.EventRefreshed:
		if ev.Definition == nil {
			return
		}
		err = p.store.Save(ctx, ev.Definition)
	case limiter.EventDeleted, limiter.EventExpired:
		err = p.store.Delete(ctx, ev.Tag)
	}
	if err != nil {
		p.logger.Error("failed to persist limit change",
			zap.String("tag", ev.Tag),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}
