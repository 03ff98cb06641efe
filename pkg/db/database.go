package db

import (
	"time"

	"github.com/pihound/pihound/pkg/model"
)

// Database is the persistence surface consumed by the sync engine and the
// read facade. Natural-key lookups return a zero-ID row when absent, never
// an error; the unique indexes are the backstop against duplicate creates.
type Database interface {
	GetClientByIP(ipaddress string) (Client, error)
	CreateClientIfAbsent(ipaddress string) (Client, bool, error)
	ListClients(opts model.ListOptions) ([]Client, int64, error)
	GetClientDetail(id uint) (Client, error)
	UpdateClient(id uint, fields map[string]interface{}) error

	GetDomainByName(name string) (Domain, error)
	CreateDomainIfAbsent(name string) (Domain, bool, error)
	ListDomains(opts model.ListOptions, flags map[string]interface{}) ([]Domain, int64, error)
	GetDomainDetail(id uint) (Domain, error)
	UpdateDomain(id uint, fields map[string]interface{}) error

	LinkClientDomain(clientID, domainID uint) error

	GetLastQuery() (Query, error)
	GetQueryByPiHoleID(piHoleID int64) (Query, error)
	CreateQueryIfAbsent(piHoleID int64, timestamp time.Time, clientID, domainID uint) (Query, bool, error)

	CreateSyncRun(startTime time.Time) (SyncRun, error)
	UpdateSyncRun(id uint, fields map[string]interface{}) error
	GetRecentSyncRuns(limit int) ([]SyncRun, error)
	EndStaleSyncRuns(now time.Time) (int64, error)
}
