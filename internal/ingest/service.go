// Package ingest validates inbound commerce webhooks, normalizes them into
// canonical notification events, and hands them to the bus. Ingestion is
// stateless and request scoped; delivery past the bus is best effort.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/goliatone/go-proofcast/internal/health"
	"github.com/goliatone/go-proofcast/pkg/domain"
	pubsub "github.com/goliatone/go-proofcast/pkg/interfaces/bus"
	"github.com/goliatone/go-proofcast/pkg/interfaces/directory"
	"github.com/goliatone/go-proofcast/pkg/interfaces/logger"
)

var (
	ErrMissingBus       = errors.New("ingest: bus is required")
	ErrMissingDirectory = errors.New("ingest: directory is required")
)

// Dependencies groups the ingest service collaborators.
type Dependencies struct {
	Bus       pubsub.Bus
	Directory directory.Directory
	Logger    logger.Logger
	Health    *health.Tracker
	// MaxBodyBytes caps the accepted webhook body size. Zero means the
	// default 1 MiB.
	MaxBodyBytes int64
}

// Service is the webhook receiver and normalizer.
type Service struct {
	bus          pubsub.Bus
	directory    directory.Directory
	logger       logger.Logger
	health       *health.Tracker
	maxBodyBytes int64
}

// IntakeRequest is one inbound webhook delivery.
type IntakeRequest struct {
	// Source names the commerce platform that sent the webhook.
	Source string
	// Domain is the tenant-identifying shop domain from the request headers.
	Domain string
	// Signature is the sender's HMAC over Body, hex or base64 encoded.
	Signature string
	Body      []byte
}

// New builds the ingest service.
func New(deps Dependencies) (*Service, error) {
	if deps.Bus == nil {
		return nil, ErrMissingBus
	}
	if deps.Directory == nil {
		return nil, ErrMissingDirectory
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Service{
		bus:          deps.Bus,
		directory:    deps.Directory,
		logger:       deps.Logger,
		health:       deps.Health,
		maxBodyBytes: deps.MaxBodyBytes,
	}, nil
}

// Ingest runs the full pipeline: resolve tenant, verify the signature against
// that tenant's secret, normalize, publish. Any failure before the publish
// step means nothing was published. A successful return means "handed to the
// bus", never "delivered": zero live subscribers is still success.
func (s *Service) Ingest(ctx context.Context, req IntakeRequest) (domain.NotificationEvent, error) {
	if req.Domain == "" {
		return domain.NotificationEvent{}, fmt.Errorf("%w: tenant domain header is required", domain.ErrBadRequest)
	}

	site, err := s.directory.Lookup(ctx, req.Domain)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NotificationEvent{}, err
		}
		return domain.NotificationEvent{}, fmt.Errorf("ingest: directory lookup: %w", err)
	}

	if !verifySignature(req.Body, req.Signature, site.WebhookSecret) {
		return domain.NotificationEvent{}, fmt.Errorf("%w: signature mismatch for %s", domain.ErrUnauthorized, site.ID)
	}

	event, err := Normalize(req.Source, site.ID, req.Body)
	if err != nil {
		return domain.NotificationEvent{}, err
	}

	payload, err := event.Encode()
	if err != nil {
		return domain.NotificationEvent{}, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}

	delivered, err := s.bus.Publish(ctx, domain.ChannelFor(site.ID), payload)
	if err != nil {
		if s.health != nil {
			s.health.RecordFailure(err)
		}
		s.logger.Error("ingest: publish failed, event dropped",
			logger.F("site_id", site.ID),
			logger.F("event_id", event.ID),
			logger.F("error", err))
		return domain.NotificationEvent{}, fmt.Errorf("%w: %v", domain.ErrBusUnavailable, err)
	}
	if s.health != nil {
		s.health.RecordSuccess()
	}

	s.logger.Debug("ingest: event published",
		logger.F("site_id", site.ID),
		logger.F("event_id", event.ID),
		logger.F("type", event.Type),
		logger.F("delivered", delivered))
	return event, nil
}

// verifySignature checks an HMAC-SHA256 over the body. Senders encode the
// digest as hex or base64 depending on platform; both are accepted. The
// comparison is constant time.
func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(signature); err == nil {
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil {
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}
