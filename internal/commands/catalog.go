package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	command "github.com/goliatone/go-command"
	"github.com/goliatone/go-proofcast/internal/ingest"
	"github.com/goliatone/go-proofcast/pkg/domain"
	pubsub "github.com/goliatone/go-proofcast/pkg/interfaces/bus"
	"github.com/goliatone/go-proofcast/pkg/interfaces/directory"
	"github.com/goliatone/go-proofcast/pkg/interfaces/logger"
)

// Catalog exposes go-command compatible handlers for host transports.
type Catalog struct {
	IngestWebhook command.Commander[ingest.IntakeRequest]
	PublishEvent  command.Commander[PublishEvent]
	ProvisionSite command.Commander[ProvisionSite]
}

type ingestService interface {
	Ingest(ctx context.Context, req ingest.IntakeRequest) (domain.NotificationEvent, error)
}

type siteUpserter interface {
	Upsert(ctx context.Context, site directory.Site) error
}

// Dependencies wires services into the command catalog.
type Dependencies struct {
	Ingest ingestService
	Bus    pubsub.Bus
	Sites  siteUpserter
	Logger logger.Logger
}

// NewCatalog builds the command catalog using the supplied dependencies.
func NewCatalog(deps Dependencies) (*Catalog, error) {
	if deps.Ingest == nil {
		return nil, errors.New("commands: ingest service is required")
	}
	if deps.Bus == nil {
		return nil, errors.New("commands: bus is required")
	}
	if deps.Sites == nil {
		return nil, errors.New("commands: site upserter is required")
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}

	return &Catalog{
		IngestWebhook: ingestWebhookCommand{svc: deps.Ingest},
		PublishEvent:  publishEventCommand{bus: deps.Bus, log: deps.Logger},
		ProvisionSite: provisionSiteCommand{sites: deps.Sites},
	}, nil
}

type ingestWebhookCommand struct {
	svc ingestService
}

func (c ingestWebhookCommand) Execute(ctx context.Context, msg ingest.IntakeRequest) error {
	_, err := c.svc.Ingest(ctx, msg)
	return err
}

// PublishEvent injects an already-normalized event onto the bus, bypassing
// webhook intake. Dashboards use it for test notifications.
type PublishEvent struct {
	Event domain.NotificationEvent `json:"event"`
}

type publishEventCommand struct {
	bus pubsub.Bus
	log logger.Logger
}

func (c publishEventCommand) Execute(ctx context.Context, msg PublishEvent) error {
	event := msg.Event
	event.EnsureID()
	if err := event.Validate(); err != nil {
		return err
	}
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("commands: encode event: %w", err)
	}
	channel := domain.ChannelFor(event.SiteID)
	receivers, err := c.bus.Publish(ctx, channel, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBusUnavailable, err)
	}
	c.log.Debug("event published",
		logger.F("event_id", event.ID),
		logger.F("channel", channel),
		logger.F("receivers", receivers),
	)
	return nil
}

// ProvisionSite creates or refreshes a tenant record in the site directory.
type ProvisionSite struct {
	ID            string `json:"id"`
	Domain        string `json:"domain"`
	Status        string `json:"status"`
	Sandbox       bool   `json:"sandbox"`
	WebhookSecret string `json:"webhook_secret"`
}

type provisionSiteCommand struct {
	sites siteUpserter
}

func (c provisionSiteCommand) Execute(ctx context.Context, msg ProvisionSite) error {
	msg.ID = strings.TrimSpace(msg.ID)
	msg.Domain = strings.TrimSpace(msg.Domain)
	if msg.ID == "" {
		return errors.New("commands: site id is required")
	}
	if msg.Domain == "" {
		return errors.New("commands: site domain is required")
	}
	status := directory.SiteStatus(msg.Status)
	if msg.Status == "" {
		status = directory.StatusPending
	}
	switch status {
	case directory.StatusPending, directory.StatusVerified, directory.StatusDisabled:
	default:
		return fmt.Errorf("commands: unknown site status %q", msg.Status)
	}
	return c.sites.Upsert(ctx, directory.Site{
		ID:            msg.ID,
		Domain:        msg.Domain,
		Status:        status,
		Sandbox:       msg.Sandbox,
		WebhookSecret: msg.WebhookSecret,
	})
}
