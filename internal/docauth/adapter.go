package docauth

import (
	"context"
	"fmt"
	"sort"
)

// Adapter wraps one vendor's verification protocol.
type Adapter interface {
	// Name is the stable vendor identifier used in config and storage.
	Name() string

	Mode() Mode

	// PreCheck rejects obviously bad payloads before any transport. A
	// PreCheck failure is a validation error and must not consume an attempt.
	PreCheck(images Images, meta Metadata) error

	// Submit sends the capture. Transport failures come back as an error
	// Verdict, never as err; err is reserved for caller mistakes such as
	// skipping PreCheck.
	Submit(ctx context.Context, images Images, meta Metadata) (Submission, error)
}

// AsyncAdapter is an Adapter whose verdict arrives later.
type AsyncAdapter interface {
	Adapter

	// Resolve polls for the verdict. A not-yet-available result is a pending
	// Verdict. Transport failures are returned as err so callers keep the
	// session pending rather than failing it.
	Resolve(ctx context.Context, token string) (Verdict, error)

	// ParseWebhook decodes a verified callback body.
	ParseWebhook(raw []byte) ([]WebhookEvent, error)
}

// Registry holds adapters by name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter; names must be unique.
func (r *Registry) Register(a Adapter) error {
	name := a.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter %s already registered", name)
	}
	r.adapters[name] = a
	return nil
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Async returns the named adapter if it is asynchronous.
func (r *Registry) Async(name string) (AsyncAdapter, bool) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, false
	}
	async, ok := a.(AsyncAdapter)
	return async, ok
}

// Names lists registered vendors in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
