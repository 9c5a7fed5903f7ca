// Package providertest provides an in-memory provider for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/matsen/citegraph/internal/provider"
	"github.com/matsen/citegraph/internal/reference"
)

// Fake serves canned identifier lookups and search results.
// Fields may be changed between calls while holding no other references.
type Fake struct {
	ProviderName string
	Caps         provider.Capability
	ByID         map[string]provider.Candidate // Keyed by Identifier.LockKey()
	Results      []provider.Candidate
	Err          error // Returned from every call when set

	mu       sync.Mutex
	lookups  int
	searches int
}

// New returns a fake with DOI, arXiv and search capabilities.
func New(name string) *Fake {
	return &Fake{
		ProviderName: name,
		Caps:         provider.CapDOI | provider.CapArXiv | provider.CapSearch,
		ByID:         make(map[string]provider.Candidate),
	}
}

func (f *Fake) Name() string                      { return f.ProviderName }
func (f *Fake) Capabilities() provider.Capability { return f.Caps }

// SetErr makes every subsequent call fail with err.
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// SetResults replaces the search results.
func (f *Fake) SetResults(results ...provider.Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Results = results
}

// AddIdentifier registers a lookup result.
func (f *Fake) AddIdentifier(id reference.Identifier, c provider.Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ByID[id.LockKey()] = c
}

func (f *Fake) LookupByIdentifier(ctx context.Context, id reference.Identifier) (*provider.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.Err != nil {
		return nil, f.Err
	}
	c, ok := f.ByID[id.LockKey()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", f.ProviderName, provider.ErrNotFound)
	}
	return &c, nil
}

func (f *Fake) Search(ctx context.Context, q provider.Query) ([]provider.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]provider.Candidate(nil), f.Results...), nil
}

// Calls returns the number of lookups and searches served.
func (f *Fake) Calls() (lookups, searches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups, f.searches
}
