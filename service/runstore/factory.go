package runstore

import (
	"fmt"

	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/service/dao"
	daofs "github.com/aidant64/atlas/service/dao/fs"
	daoredis "github.com/aidant64/atlas/service/dao/redis"
	"github.com/aidant64/atlas/service/dao/store"
	goredis "github.com/redis/go-redis/v9"
	"github.com/viant/afs/url"
)

func runKey(r *run.Run) string { return r.ID }

func bookmarkKey(b *Bookmark) string { return b.Key }

func cloneBookmark(b *Bookmark) *Bookmark {
	cp := *b
	return &cp
}

// NewMemory creates a store that lives in process memory.
func NewMemory(opts ...Option) *Service {
	runs := store.NewMemoryStore[string, run.Run](runKey, dao.WithClone((*run.Run).Clone), dao.WithFilter(MatchRun))
	bookmarks := store.NewMemoryStore[string, Bookmark](bookmarkKey, dao.WithClone(cloneBookmark))
	return New(runs, bookmarks, opts...)
}

// NewFS creates a store keeping one JSON document per run under
// basePath/runs and per bookmark under basePath/bookmarks.
func NewFS(basePath string, opts ...Option) (*Service, error) {
	runs, err := daofs.New[run.Run](url.Join(basePath, "runs"), runKey, dao.WithFilter(MatchRun))
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	bookmarks, err := daofs.New[Bookmark](url.Join(basePath, "bookmarks"), bookmarkKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open bookmark store: %w", err)
	}
	return New(runs, bookmarks, opts...), nil
}

// NewRedis creates a store keeping runs and bookmarks in Redis under prefix.
func NewRedis(client goredis.UniversalClient, prefix string, opts ...Option) *Service {
	runs := daoredis.New[run.Run](client, prefix+":run", runKey, dao.WithFilter(MatchRun))
	bookmarks := daoredis.New[Bookmark](client, prefix+":bookmark", bookmarkKey)
	return New(runs, bookmarks, opts...)
}
