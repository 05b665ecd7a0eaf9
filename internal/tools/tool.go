package tools

import (
	"context"
	"sort"
)

// Tool defines the interface for researcher capabilities.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema for the tool's inputs
	Execute(ctx context.Context, input string) (string, error)
}

// Registry manages the set of available research tools.
type Registry struct {
	Tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{
		Tools: make(map[string]Tool),
	}
}

func (r *Registry) Register(t Tool) {
	r.Tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	return r.Tools[name]
}

// List returns the registered tools in name order.
func (r *Registry) List() []Tool {
	names := make([]string, 0, len(r.Tools))
	for name := range r.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.Tools[name])
	}
	return out
}
