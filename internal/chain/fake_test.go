package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/matsen/citegraph/internal/provider"
	"github.com/matsen/citegraph/internal/reference"
)

// fakeProvider serves canned lookups and search results.
type fakeProvider struct {
	name    string
	caps    provider.Capability
	byID    map[string]provider.Candidate
	results []provider.Candidate
	err     error // Returned from every call when set

	mu       sync.Mutex
	lookups  int
	searches int
}

func (f *fakeProvider) Name() string                      { return f.name }
func (f *fakeProvider) Capabilities() provider.Capability { return f.caps }

func (f *fakeProvider) LookupByIdentifier(ctx context.Context, id reference.Identifier) (*provider.Candidate, error) {
	f.mu.Lock()
	f.lookups++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.byID[id.LockKey()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", f.name, provider.ErrNotFound)
	}
	return &c, nil
}

func (f *fakeProvider) Search(ctx context.Context, q provider.Query) ([]provider.Candidate, error) {
	f.mu.Lock()
	f.searches++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]provider.Candidate(nil), f.results...), nil
}

func (f *fakeProvider) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups, f.searches
}
