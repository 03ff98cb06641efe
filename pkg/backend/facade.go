package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pihound/pihound/pkg/db"
	"github.com/pihound/pihound/pkg/enrich"
	"github.com/pihound/pihound/pkg/model"
	"github.com/pihound/pihound/pkg/sync"
)

// ErrNotFound marks "no such entity" failures that the API maps to a
// 400-class response. Everything else surfaces as an opaque 500.
var ErrNotFound = errors.New("not found")

// Flag columns that may be toggled in bulk.
const (
	FlagAcknowledged = "acknowledged"
	FlagFlagged      = "flagged"
	FlagIgnored      = "ignored"
)

type backend struct {
	ctx      context.Context
	db       db.Database
	analyzer enrich.Analyzer
	syncer   *sync.Syncer
	log      *logrus.Entry
}

func NewBackend(ctx context.Context, database db.Database, analyzer enrich.Analyzer, syncer *sync.Syncer, log *logrus.Entry) Backend {
	return &backend{
		ctx:      ctx,
		db:       database,
		analyzer: analyzer,
		syncer:   syncer,
		log:      log,
	}
}

func (b *backend) ListClients(opts model.ListOptions) (model.PaginatedResult, error) {
	clients, count, err := b.db.ListClients(opts)
	if err != nil {
		return model.PaginatedResult{}, err
	}
	if clients == nil {
		clients = []db.Client{}
	}
	return model.PaginatedResult{Rows: clients, Count: count}, nil
}

func (b *backend) GetClient(id uint) (db.Client, error) {
	client, err := b.db.GetClientDetail(id)
	if err != nil {
		return client, err
	}
	if client.ID == 0 {
		return client, fmt.Errorf("client %d: %w", id, ErrNotFound)
	}
	return client, nil
}

func (b *backend) SetClientAlias(ipaddress, alias string) (db.Client, error) {
	client, err := b.db.GetClientByIP(ipaddress)
	if err != nil {
		return client, err
	}
	if client.ID == 0 {
		return client, fmt.Errorf("client %s: %w", ipaddress, ErrNotFound)
	}

	if err := b.db.UpdateClient(client.ID, map[string]interface{}{"alias": alias}); err != nil {
		return client, err
	}

	client.Alias = alias
	return client, nil
}

func (b *backend) ListDomains(opts model.ListOptions, flags map[string]interface{}) (model.PaginatedResult, error) {
	domains, count, err := b.db.ListDomains(opts, flags)
	if err != nil {
		return model.PaginatedResult{}, err
	}
	if domains == nil {
		domains = []db.Domain{}
	}
	return model.PaginatedResult{Rows: domains, Count: count}, nil
}

func (b *backend) GetDomain(id uint) (db.Domain, error) {
	domain, err := b.db.GetDomainDetail(id)
	if err != nil {
		return domain, err
	}
	if domain.ID == 0 {
		return domain, fmt.Errorf("domain %d: %w", id, ErrNotFound)
	}
	return domain, nil
}

// SetDomainFlag applies one boolean to one or many domains, uniformly. An
// unknown domain name fails the whole request.
func (b *backend) SetDomainFlag(field string, domains []string, value bool) error {
	switch field {
	case FlagAcknowledged, FlagFlagged, FlagIgnored:
	default:
		return fmt.Errorf("unknown domain flag: %s", field)
	}

	for _, name := range domains {
		domain, err := b.db.GetDomainByName(name)
		if err != nil {
			return err
		}
		if domain.ID == 0 {
			return fmt.Errorf("domain %s: %w", name, ErrNotFound)
		}

		if err := b.db.UpdateDomain(domain.ID, map[string]interface{}{field: value}); err != nil {
			return err
		}
	}
	return nil
}

// Interrogate runs the enrichment call for a known domain and persists the
// verdict. Ingestion never touches these fields.
func (b *backend) Interrogate(ctx context.Context, name string) (db.Domain, error) {
	domain, err := b.db.GetDomainByName(name)
	if err != nil {
		return domain, err
	}
	if domain.ID == 0 {
		return domain, fmt.Errorf("domain %s: %w", name, ErrNotFound)
	}

	analysis, err := b.analyzer.Analyze(ctx, name)
	if err != nil {
		return domain, err
	}

	if err := b.db.UpdateDomain(domain.ID, map[string]interface{}{
		"risk":     analysis.RiskValue(),
		"category": analysis.Category,
		"owner":    analysis.Owner,
		"comment":  analysis.Notes,
	}); err != nil {
		return domain, err
	}

	return b.db.GetDomainByName(name)
}

func (b *backend) ListSyncRuns(limit int) ([]db.SyncRun, error) {
	runs, err := b.db.GetRecentSyncRuns(limit)
	if runs == nil {
		runs = []db.SyncRun{}
	}
	return runs, err
}

// TriggerSync fires a run in the background. Overlap with the scheduled
// trigger is resolved by the engine's own single-flight guard.
func (b *backend) TriggerSync() {
	go func() {
		if err := b.syncer.SyncNow(b.ctx); err != nil {
			b.log.WithError(err).Error("triggered sync failed")
		}
	}()
}
