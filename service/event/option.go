package event

import (
	"github.com/aidant64/atlas/service/messaging/fs"
	"github.com/aidant64/atlas/service/messaging/memory"
	"github.com/viant/afs/url"
)

type Option func(s *Service)

// WithNewFsQueueConfig sets the file system queue configuration per topic
func WithNewFsQueueConfig(newConfig func(name string) fs.QueueConfig) Option {
	return func(s *Service) {
		s.fsNewQueueConfig = newConfig
	}
}

// WithNewMemoryQueueConfig sets the memory queue configuration per topic
func WithNewMemoryQueueConfig(newConfig func(name string) memory.Config) Option {
	return func(s *Service) {
		s.memNewQueueConfig = newConfig
	}
}

// WithBasePath roots every fs topic queue at basePath/<topic>.
func WithBasePath(basePath string) Option {
	return func(s *Service) {
		s.fsNewQueueConfig = func(name string) fs.QueueConfig {
			config := fs.DefaultConfig()
			config.BasePath = url.Join(basePath, name)
			return config
		}
	}
}
