// Package meta loads configuration documents from any afs supported location
// (local file, mem://, s3:// ...), expanding ${ENV} references before
// decoding.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"
)

// Service represents a document loader.
type Service struct {
	fs afs.Service
}

// New creates a loader; a nil fs uses afs.New().
func New(fs afs.Service) *Service {
	if fs == nil {
		fs = afs.New()
	}
	return &Service{fs: fs}
}

// Load decodes the document at URL into target. JSON is used for .json
// files, YAML otherwise.
func (s *Service) Load(ctx context.Context, URL string, target interface{}) error {
	URL = url.Normalize(URL, file.Scheme)
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", URL, err)
	}
	expanded := []byte(expandEnv(string(data)))
	if strings.EqualFold(path.Ext(url.Path(URL)), ".json") {
		err = json.Unmarshal(expanded, target)
	} else {
		err = yaml.Unmarshal(expanded, target)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", URL, err)
	}
	return nil
}
