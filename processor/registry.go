package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aagnone3/toolqueue"
)

// Func processes one job input. It reports the outcome through Result
// instead of returning an error so the runner never has to interpret
// panics or error chains to decide a state transition.
type Func func(ctx context.Context, input json.RawMessage) Result

// Registry maps tool slugs to processors. It is populated once at startup
// and is safe for concurrent lookup afterwards.
type Registry struct {
	mu           sync.RWMutex
	processors   map[string]Func
	allowReplace bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// AllowReplace lets Register overwrite an existing slug. Tests use it to
// swap processors between cases.
func AllowReplace() RegistryOption {
	return func(r *Registry) { r.allowReplace = true }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{processors: make(map[string]Func)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds fn to toolSlug. Registering a slug twice returns
// ErrDuplicateProcessor unless the registry was built with AllowReplace.
func (r *Registry) Register(toolSlug string, fn Func) error {
	if toolSlug == "" {
		return toolqueue.ErrEmptyToolSlug
	}
	if fn == nil {
		return fmt.Errorf("processor %q: nil func", toolSlug)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processors[toolSlug]; exists && !r.allowReplace {
		return fmt.Errorf("%w: %q", toolqueue.ErrDuplicateProcessor, toolSlug)
	}
	r.processors[toolSlug] = fn
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(toolSlug string, fn Func) {
	if err := r.Register(toolSlug, fn); err != nil {
		panic(err)
	}
}

// RegisterDefinition registers a typed definition. The input is decoded into
// In before the handler runs and the handler's Out is encoded as the output.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[In, Out any](r *Registry, def *Definition[In, Out]) error {
	return r.Register(def.Slug, def.Func())
}

// Resolve returns the processor for toolSlug.
func (r *Registry) Resolve(toolSlug string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.processors[toolSlug]
	return fn, ok
}

// Slugs returns the registered tool slugs in sorted order.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slugs := make([]string, 0, len(r.processors))
	for s := range r.processors {
		slugs = append(slugs, s)
	}
	sort.Strings(slugs)
	return slugs
}

// Reset removes every processor.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors = make(map[string]Func)
}
