package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aidant64/atlas/service/dao"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
)

// Store implements a filesystem-based JSON document store. Every entity is
// kept in its own <key>.json file under basePath.
type Store[T any] struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
	keyOf    func(*T) string
	options  *dao.Options[T]
}

var _ dao.Service[string, struct{}] = (*Store[struct{}])(nil)

// Save persists an entity to the filesystem
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

	s.mu.Lock()
	defer s.mu.Unlock()
	filePath := s.path(id)
	if err = s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save %s: %w", filePath, err)
	}
	return nil
}

// Load retrieves an entity from the filesystem
func (s *Store[T]) Load(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := s.path(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if %s exists: %w", id, err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	ret := new(T)
	if err := json.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", filePath, err)
	}
	return ret, nil
}

// Delete removes an entity from the filesystem
func (s *Store[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.path(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if %s exists: %w", id, err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete %s: %w", filePath, err)
	}
	return nil
}

// List returns all entities matching parameters. Unreadable files are logged
// and skipped.
func (s *Store[T]) List(ctx context.Context, parameters ...*dao.Parameter) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.basePath, err)
	}
	var result []*T
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable document", "url", object.URL(), "error", err)
			continue
		}
		item := new(T)
		if err := json.Unmarshal(data, item); err != nil {
			slog.WarnContext(ctx, "skipping malformed document", "url", object.URL(), "error", err)
			continue
		}
		if !s.options.Match(item, parameters) {
			continue
		}
		result = append(result, item)
	}
	return result, nil
}

func (s *Store[T]) path(id string) string {
	return url.Join(s.basePath, id+".json")
}

// New creates a filesystem store rooted at basePath, creating the directory
// when missing.
func New[T any](basePath string, keyOf func(*T) string, options ...dao.Option[T]) (*Store[T], error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	fs := afs.New()
	ctx := context.Background()
	basePath = url.Normalize(basePath, file.Scheme)
	exists, _ := fs.Exists(ctx, basePath)
	if !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	return &Store[T]{
		basePath: basePath,
		fs:       fs,
		keyOf:    keyOf,
		options:  dao.NewOptions(options...),
	}, nil
}
