package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aidant64/atlas/model/run"
)

// ErrUnknownTool is returned for calls naming an unregistered tool.
var ErrUnknownTool = errors.New("unknown tool")

// Handler performs the governed action.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool represents a governed tool.
type Tool struct {
	Name        string
	Description string
	// Intent derives the natural language intent assessed for a call. When
	// nil the tool name is used.
	Intent  func(args map[string]interface{}) string
	Handler Handler
}

// IntentOf returns the intent for args.
func (t *Tool) IntentOf(args map[string]interface{}) string {
	if t.Intent == nil {
		return t.Name
	}
	if intent := t.Intent(args); intent != "" {
		return intent
	}
	return t.Name
}

// Registry holds governed tools. It executes approved actions on behalf of
// the engine.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates a registry with the supplied tools.
func NewRegistry(tools ...*Tool) (*Registry, error) {
	ret := &Registry{tools: make(map[string]*Tool)}
	for _, tool := range tools {
		if err := ret.Register(tool); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// Register adds a tool; names are unique.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("tool name was empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name]; ok {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// Tools returns registered tools ordered by name.
func (r *Registry) Tools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		ret = append(ret, tool)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

// Execute runs the handler of the requested tool.
func (r *Registry) Execute(ctx context.Context, request *run.Request) (string, error) {
	tool, err := r.Lookup(request.ToolName)
	if err != nil {
		return "", err
	}
	return tool.Handler(ctx, request.Arguments)
}
