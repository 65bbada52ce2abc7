// Package bundir resolves tenants from a sites table owned by the dashboard
// service. The store is consumed read-only at request time; Upsert exists for
// provisioning tools and tests.
package bundir

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-proofcast/pkg/domain"
	"github.com/goliatone/go-proofcast/pkg/interfaces/directory"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type siteRecord struct {
	bun.BaseModel `bun:"table:sites"`

	ID            string       `bun:",pk"`
	Domain        string       `bun:",notnull,unique"`
	Status        string       `bun:",notnull,default:'pending'"`
	Sandbox       bool         `bun:",notnull,default:false"`
	WebhookSecret string       `bun:",notnull"`
	CreatedAt     time.Time    `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time    `bun:",nullzero,notnull,default:current_timestamp"`
	DeletedAt     bun.NullTime `bun:",soft_delete,nullzero"`
}

func toSite(rec siteRecord) directory.Site {
	return directory.Site{
		ID:            rec.ID,
		Domain:        rec.Domain,
		Status:        directory.SiteStatus(rec.Status),
		Sandbox:       rec.Sandbox,
		WebhookSecret: rec.WebhookSecret,
	}
}

// Store is a bun-backed directory.Directory.
type Store struct {
	db *bun.DB
}

// New wraps an existing bun handle.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// Open builds a Store from a SQLite DSN, creating the sites table when it
// does not exist yet.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("bundir: open %q: %w", dsn, err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	store := New(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates the sites table.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*siteRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bundir: migrate: %w", err)
	}
	return nil
}

// Lookup resolves a site by id first, then by domain.
func (s *Store) Lookup(ctx context.Context, domainOrID string) (directory.Site, error) {
	var rec siteRecord
	err := s.db.NewSelect().
		Model(&rec).
		Where("id = ? OR domain = ?", domainOrID, domainOrID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Site{}, fmt.Errorf("%w: site %q", domain.ErrNotFound, domainOrID)
	}
	if err != nil {
		return directory.Site{}, fmt.Errorf("bundir: lookup %q: %w", domainOrID, err)
	}
	return toSite(rec), nil
}

// Upsert inserts or refreshes a site record keyed by id.
func (s *Store) Upsert(ctx context.Context, site directory.Site) error {
	rec := &siteRecord{
		ID:            site.ID,
		Domain:        site.Domain,
		Status:        string(site.Status),
		Sandbox:       site.Sandbox,
		WebhookSecret: site.WebhookSecret,
	}
	_, err := s.db.NewInsert().
		Model(rec).
		On("CONFLICT (id) DO UPDATE").
		Set("domain = EXCLUDED.domain").
		Set("status = EXCLUDED.status").
		Set("sandbox = EXCLUDED.sandbox").
		Set("webhook_secret = EXCLUDED.webhook_secret").
		Set("updated_at = current_timestamp").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bundir: upsert %q: %w", site.ID, err)
	}
	return nil
}

// Close releases the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}
