// Package memorydir is the in-memory site directory used for local runs and
// tests. Sandbox tenants are regular records with the flag set, so they run
// through the same authorization path as live ones.
package memorydir

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-proofcast/pkg/domain"
	"github.com/goliatone/go-proofcast/pkg/interfaces/directory"
)

// Directory resolves sites from an in-memory table keyed by id and domain.
type Directory struct {
	mu       sync.RWMutex
	byID     map[string]directory.Site
	byDomain map[string]directory.Site
}

var _ directory.Directory = (*Directory)(nil)

// New builds a directory seeded with the given sites.
func New(sites ...directory.Site) *Directory {
	d := &Directory{
		byID:     make(map[string]directory.Site),
		byDomain: make(map[string]directory.Site),
	}
	for _, site := range sites {
		d.Upsert(site)
	}
	return d
}

// Upsert adds or replaces a site record.
func (d *Directory) Upsert(site directory.Site) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if site.ID != "" {
		d.byID[site.ID] = site
	}
	if site.Domain != "" {
		d.byDomain[site.Domain] = site
	}
}

// Lookup resolves a site by id first, then by domain.
func (d *Directory) Lookup(ctx context.Context, domainOrID string) (directory.Site, error) {
	if err := ctx.Err(); err != nil {
		return directory.Site{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if site, ok := d.byID[domainOrID]; ok {
		return site, nil
	}
	if site, ok := d.byDomain[domainOrID]; ok {
		return site, nil
	}
	return directory.Site{}, fmt.Errorf("%w: site %q", domain.ErrNotFound, domainOrID)
}
