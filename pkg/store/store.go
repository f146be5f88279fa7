package store

import (
	"context"

	"github.com/flowforge/startlimit/pkg/model"
)

// DefinitionStore persists limit definitions across restarts. Counters and
// bucket state are never persisted.
type DefinitionStore interface {
	Save(ctx context.Context, def *model.LimitDefinition) error
	Delete(ctx context.Context, tag string) error
	Load(ctx context.Context) ([]*model.LimitDefinition, error)
}
