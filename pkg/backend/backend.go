package backend

import (
	"context"

	"github.com/pihound/pihound/pkg/db"
	"github.com/pihound/pihound/pkg/model"
)

// Backend is the read/administration surface served by the API.
type Backend interface {
	ListClients(opts model.ListOptions) (model.PaginatedResult, error)
	GetClient(id uint) (db.Client, error)
	SetClientAlias(ipaddress, alias string) (db.Client, error)

	ListDomains(opts model.ListOptions, flags map[string]interface{}) (model.PaginatedResult, error)
	GetDomain(id uint) (db.Domain, error)
	SetDomainFlag(field string, domains []string, value bool) error
	Interrogate(ctx context.Context, domain string) (db.Domain, error)

	ListSyncRuns(limit int) ([]db.SyncRun, error)
	TriggerSync()
}
