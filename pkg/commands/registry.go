package commands

import (
	command "github.com/goliatone/go-command"
	internalcommands "github.com/goliatone/go-proofcast/internal/commands"
	"github.com/goliatone/go-proofcast/internal/ingest"
)

// Re-export request types so consumers need not import internal packages.
type (
	IngestWebhook = ingest.IntakeRequest
	PublishEvent  = internalcommands.PublishEvent
	ProvisionSite = internalcommands.ProvisionSite
)

// Dependencies mirror the internal command dependencies but keep them public.
type Dependencies = internalcommands.Dependencies

// Registry exposes go-command compatible handlers backed by the service.
type Registry struct {
	Catalog       *internalcommands.Catalog
	IngestWebhook command.Commander[IngestWebhook]
	PublishEvent  command.Commander[PublishEvent]
	ProvisionSite command.Commander[ProvisionSite]
}

// New builds the registry using the provided dependencies.
func New(deps Dependencies) (*Registry, error) {
	catalog, err := internalcommands.NewCatalog(deps)
	if err != nil {
		return nil, err
	}
	return &Registry{
		Catalog:       catalog,
		IngestWebhook: catalog.IngestWebhook,
		PublishEvent:  catalog.PublishEvent,
		ProvisionSite: catalog.ProvisionSite,
	}, nil
}

// Commanders returns every handler so callers can register them with
// go-command registries.
func (r *Registry) Commanders() []any {
	if r == nil {
		return nil
	}
	return []any{
		r.IngestWebhook,
		r.PublishEvent,
		r.ProvisionSite,
	}
}
