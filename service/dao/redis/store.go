package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aidant64/atlas/service/dao"
	goredis "github.com/redis/go-redis/v9"
)

// Store keeps JSON documents in Redis string keys named <prefix>:doc:<id>,
// with the set <prefix>:ids tracking the ids for List. Commands are pipelined
// rather than wrapped in MULTI so that documents may live on different
// cluster slots.
type Store[T any] struct {
	client  goredis.UniversalClient
	prefix  string
	keyOf   func(*T) string
	options *dao.Options[T]
}

var _ dao.Service[string, struct{}] = (*Store[struct{}])(nil)

// New creates a Redis backed store.
func New[T any](client goredis.UniversalClient, prefix string, keyOf func(*T) string, options ...dao.Option[T]) *Store[T] {
	return &Store[T]{client: client, prefix: prefix, keyOf: keyOf, options: dao.NewOptions(options...)}
}

func (s *Store[T]) key(id string) string { return s.prefix + ":doc:" + id }

func (s *Store[T]) index() string { return s.prefix + ":ids" }

// Save registers the id in the index, then writes the document. An indexed id
// without a document is skipped by List.
func (s *Store[T]) Save(ctx context.Context, t *T) error {
	if t == nil {
		return dao.ErrNilEntity
	}
	id := s.keyOf(t)
	if id == "" {
		return dao.ErrInvalidID
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}
	if err = s.client.SAdd(ctx, s.index(), id).Err(); err != nil {
		return fmt.Errorf("redis index %s: %w", id, err)
	}
	if err = s.client.Set(ctx, s.key(id), data, 0).Err(); err != nil {
		return fmt.Errorf("redis save %s: %w", id, err)
	}
	return nil
}

// Load returns a document or dao.ErrNotFound.
func (s *Store[T]) Load(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, dao.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", id, err)
	}
	ret := new(T)
	if err := json.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}
	return ret, nil
}

// Delete removes a document, then its index entry.
func (s *Store[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	deleted, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", id, err)
	}
	if err = s.client.SRem(ctx, s.index(), id).Err(); err != nil {
		return fmt.Errorf("redis unindex %s: %w", id, err)
	}
	if deleted == 0 {
		return dao.ErrNotFound
	}
	return nil
}

// List loads every indexed document matching parameters.
func (s *Store[T]) List(ctx context.Context, parameters ...*dao.Parameter) ([]*T, error) {
	ids, err := s.client.SMembers(ctx, s.index()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list %s: %w", s.prefix, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*goredis.StringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.Get(ctx, s.key(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis list %s: %w", s.prefix, err)
	}
	var result []*T
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis list %s: %w", ids[i], err)
		}
		item := new(T)
		if err := json.Unmarshal(raw, item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", ids[i], err)
		}
		if s.options.Match(item, parameters) {
			result = append(result, item)
		}
	}
	return result, nil
}
