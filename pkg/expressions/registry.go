// Package expressions is the registry of pipeline functions a visualization
// can call by name, with declared input types and argument schemas.
package expressions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/timerange"
)

// Registry errors.
var (
	ErrDuplicateFunction = errors.New("function already registered")
	ErrUnknownFunction   = errors.New("unknown function")
	ErrInvalidDefinition = errors.New("invalid function definition")
	ErrInputType         = errors.New("input type not accepted")
)

// Execution carries what the runtime knows about the current render.
type Execution struct {
	TimeRange *timerange.TimeRange `json:"timeRange,omitempty"`
	Now       time.Time            `json:"-"`
}

// Handler runs a function on a typed input. Args are already checked and defaulted.
type Handler func(ctx context.Context, input json.RawMessage, args map[string]any, exec Execution) (any, error)

// Definition describes one registered function.
type Definition struct {
	Name string
	// Type is the output type tag.
	Type string
	// InputTypes lists accepted input type tags.
	InputTypes []string
	Help       string
	Args       []ArgumentOption
	Fn         Handler
}

// Registry is a name-keyed set of function definitions, safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Definition)}
}

// Register adds def. Names are unique.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" || def.Fn == nil || len(def.InputTypes) == 0 {
		return fmt.Errorf("%w: %q needs a name, input types and a handler", ErrInvalidDefinition, def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFunction, def.Name)
	}

	r.funcs[def.Name] = def

	return nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.funcs[name]

	return def, ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

type typeHeader struct {
	Type string `json:"type"`
}

// Execute runs the named function. The input's "type" field must be one of
// the function's input types.
func (r *Registry) Execute(
	ctx context.Context, name string, input json.RawMessage, rawArgs map[string]any, exec Execution,
) (any, error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}

	var header typeHeader

	err := json.Unmarshal(input, &header)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInputType, name, err)
	}

	if !slices.Contains(def.InputTypes, header.Type) {
		return nil, fmt.Errorf("%w: %s accepts %v, got %q", ErrInputType, name, def.InputTypes, header.Type)
	}

	args, err := ParseArguments(def.Args, rawArgs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return def.Fn(ctx, input, args, exec)
}
