package meta

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type document struct {
	Name    string   `json:"name" yaml:"name"`
	APIKey  string   `json:"apiKey" yaml:"api_key"`
	Workers int      `json:"workers" yaml:"workers"`
	Tools   []string `json:"tools" yaml:"tools"`
}

func TestService_Load(t *testing.T) {
	t.Setenv("ATLAS_META_KEY", "k-123")
	dir := t.TempDir()
	testCases := []struct {
		description string
		file        string
		content     string
		expect      *document
		expectErr   bool
	}{
		{
			description: "yaml with env",
			file:        "config.yaml",
			content:     "name: gateway\napi_key: ${ATLAS_META_KEY}\nworkers: 3\ntools:\n  - check_payment_status\n",
			expect:      &document{Name: "gateway", APIKey: "k-123", Workers: 3, Tools: []string{"check_payment_status"}},
		},
		{
			description: "json",
			file:        "config.json",
			content:     `{"name":"gateway","apiKey":"${env.ATLAS_META_KEY}","workers":2}`,
			expect:      &document{Name: "gateway", APIKey: "k-123", Workers: 2},
		},
		{
			description: "malformed",
			file:        "broken.yaml",
			content:     "name: [unclosed",
			expectErr:   true,
		},
	}
	srv := New(nil)
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			location := filepath.Join(dir, tc.file)
			require.NoError(t, os.WriteFile(location, []byte(tc.content), 0o644))
			actual := &document{}
			err := srv.Load(context.Background(), location, actual)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, actual)
		})
	}

	err := srv.Load(context.Background(), filepath.Join(dir, "missing.yaml"), &document{})
	assert.Error(t, err)
}
