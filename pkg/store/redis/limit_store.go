package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowforge/startlimit/pkg/model"
)

// LimitStore keeps each definition under <prefix>limit:<tag> with a TTL equal
// to its remaining lifetime, and tracks the tags in the <prefix>limits set so
// Load works without SCAN in cluster mode.
type LimitStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewLimitStore(rdb redis.UniversalClient, prefix string) *LimitStore {
	return &LimitStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *LimitStore) key(tag string) string {
	return s.prefix + "limit:" + tag
}

func (s *LimitStore) index() string {
	return s.prefix + "limits"
}

func (s *LimitStore) Save(ctx context.Context, def *model.LimitDefinition) error {
	ttl := def.ExpiresAt().Sub(s.now())
	if ttl <= 0 {
		return s.Delete(ctx, def.Tag)
	}

	data, err := json.Marshal(def)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(def.Tag), data, ttl).Err(); err != nil {
		return err
	}
	return s.rdb.SAdd(ctx, s.index(), def.Tag).Err()
}

func (s *LimitStore) Delete(ctx context.Context, tag string) error {
	if err := s.rdb.Del(ctx, s.key(tag)).Err(); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, s.index(), tag).Err()
}

// Load returns every persisted definition and prunes index members whose key
// has already expired.
func (s *LimitStore) Load(ctx context.Context) ([]*model.LimitDefinition, error) {
	tags, err := s.rdb.SMembers(ctx, s.index()).Result()
	if err != nil {
		return nil, err
	}

	defs := make([]*model.LimitDefinition, 0, len(tags))
	for _, tag := range tags {
		val, err := s.rdb.Get(ctx, s.key(tag)).Result()
		if errors.Is(err, redis.Nil) {
			s.rdb.SRem(ctx, s.index(), tag)
			continue
		}
		if err != nil {
			return nil, err
		}

		var def model.LimitDefinition
		if err := json.Unmarshal([]byte(val), &def); err != nil {
			continue
		}
		defs = append(defs, &def)
	}
	return defs, nil
}
