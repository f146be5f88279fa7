package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/flowforge/startlimit/pkg/limiter"
	"github.com/flowforge/startlimit/pkg/model"
)

type memoryStore struct {
	mu      sync.Mutex
	defs    map[string]*model.LimitDefinition
	loadErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{defs: make(map[string]*model.LimitDefinition)}
}

func (m *memoryStore) Save(_ context.Context, def *model.LimitDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *def
	m.defs[def.Tag] = &cp
	return nil
}

func (m *memoryStore) Delete(_ context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.defs, tag)
	return nil
}

func (m *memoryStore) Load(context.Context) ([]*model.LimitDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make([]*model.LimitDefinition, 0, len(m.defs))
	for _, def := range m.defs {
		cp := *def
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memoryStore) tags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tags []string
	for tag := range m.defs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func definition(tag string) *model.LimitDefinition {
	return &model.LimitDefinition{Tag: tag, PredicateExpr: "true", Count: 5, Window: 60, ExpiresAfter: 3600}
}

func TestPersisterMirrorsRegistry(t *testing.T) {
	mem := newMemoryStore()
	p := NewPersister(mem, nil)
	r := limiter.NewRegistry(limiter.RegistryConfig{MaxExpires: 24 * time.Hour}, nil)
	r.OnChange(p.Hook)

	for _, tag := range []string{"a", "b", "c"} {
		if _, err := r.Create(definition(tag)); err != nil {
			t.Fatalf("Create %s: %v", tag, err)
		}
	}
	if err := r.Delete("b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	if diff := cmp.Diff([]string{"a", "c"}, mem.tags()); diff != "" {
		t.Errorf("persisted tags mismatch (-want +got):\n%s", diff)
	}
}

func TestPersisterRestore(t *testing.T) {
	mem := newMemoryStore()
	now := time.Now()
	for _, tag := range []string{"x", "y"} {
		def := definition(tag)
		def.CreatedAt = now
		def.RefreshedAt = now
		mem.Save(context.Background(), def)
	}

	r := limiter.NewRegistry(limiter.RegistryConfig{MaxExpires: 24 * time.Hour}, nil)
	n, err := NewPersister(mem, nil).Restore(context.Background(), r)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 2 {
		t.Fatalf("restored = %d, want 2", n)
	}
	if diff := cmp.Diff([]string{"x", "y"}, r.Tags()); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestPersisterRestoreError(t *testing.T) {
	mem := newMemoryStore()
	mem.loadErr = errors.New("backend down")

	r := limiter.NewRegistry(limiter.RegistryConfig{MaxExpires: 24 * time.Hour}, nil)
	if _, err := NewPersister(mem, nil).Restore(context.Background(), r); err == nil {
		t.Fatal("expected error")
	}
}
