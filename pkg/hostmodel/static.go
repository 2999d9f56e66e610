// Package hostmodel provides project models that report modules and their
// content roots to the generator.
package hostmodel

import (
	"context"

	"github.com/twistedbytes/genproj/pkg/engine"
)

// Static reports a fixed set of modules.
type Static struct {
	modules []engine.Module
}

var _ engine.ProjectModelProvider = (*Static)(nil)

// NewStatic returns a provider reporting modules as given.
func NewStatic(modules ...engine.Module) *Static {
	return &Static{modules: modules}
}

// FromRoots returns a provider with a single module holding roots.
func FromRoots(name string, roots []string) *Static {
	return NewStatic(engine.Module{Name: name, ContentRoots: roots})
}

// Modules returns a copy of the configured modules.
func (s *Static) Modules(context.Context) ([]engine.Module, error) {
	out := make([]engine.Module, len(s.modules))
	for i, m := range s.modules {
		m.ContentRoots = append([]string(nil), m.ContentRoots...)
		out[i] = m
	}
	return out, nil
}
