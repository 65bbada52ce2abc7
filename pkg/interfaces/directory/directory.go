package directory

import "context"

// SiteStatus tracks a tenant's standing in the site directory.
type SiteStatus string

const (
	StatusPending  SiteStatus = "pending"
	StatusVerified SiteStatus = "verified"
	StatusDisabled SiteStatus = "disabled"
)

// Site is the read-only directory record for a tenant. Sandbox is an explicit
// flag resolved through the directory, never inferred from the identifier, so
// test traffic exercises the same authorization path as live traffic.
type Site struct {
	ID            string
	Domain        string
	Status        SiteStatus
	Sandbox       bool
	WebhookSecret string
}

// CanStream reports whether the site may hold streaming connections or
// receive fan-out.
func (s Site) CanStream() bool {
	return s.Status == StatusVerified || s.Sandbox
}

// Directory resolves tenants by domain or id. Consumed read-only; ownership
// of the site records lives with the dashboard service.
type Directory interface {
	Lookup(ctx context.Context, domainOrID string) (Site, error)
}

// LookupFunc adapts a function to the Directory interface.
type LookupFunc func(ctx context.Context, domainOrID string) (Site, error)

// Lookup satisfies the Directory interface.
func (f LookupFunc) Lookup(ctx context.Context, domainOrID string) (Site, error) {
	return f(ctx, domainOrID)
}
