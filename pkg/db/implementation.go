package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pihound/pihound/pkg/model"
)

type database struct {
	db *gorm.DB
}

// New creates a new database connection and migrates the schema
func New(ctx context.Context, dialect string, dsn string, config *gorm.Config) (Database, error) {
	if config == nil {
		config = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	}

	var db *gorm.DB
	var err error

	if dialect == "sqlite" {
		db, err = gorm.Open(sqlite.Open(dsn), config)
	} else if dialect == "mysql" {
		db, err = gorm.Open(mysql.Open(dsn), config)
	} else {
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	if err != nil {
		return nil, err
	}

	if dialect == "sqlite" {
		// sqlite allows a single writer. Funneling the pool through one
		// connection keeps concurrent callers queued inside database/sql
		// instead of surfacing SQLITE_BUSY, and the busy timeout covers
		// any lock still held by an outside process.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)

		db.Exec("PRAGMA foreign_keys = ON")
		db.Exec("PRAGMA busy_timeout = 5000")
	}

	db = db.WithContext(ctx)

	if err := db.AutoMigrate(
		&Client{},
		&Domain{},
		&Query{},
		&SyncRun{},
	); err != nil {
		return nil, err
	}

	d := &database{
		db: db,
	}
	return d, nil
}

func (d *database) GetClientByIP(ipaddress string) (Client, error) {
	client := Client{}
	sql := d.db.Where("ipaddress = ?", ipaddress).Limit(1).Find(&client)
	return client, sql.Error
}

func (d *database) CreateClientIfAbsent(ipaddress string) (Client, bool, error) {
	client, err := d.GetClientByIP(ipaddress)
	if err != nil {
		return client, false, err
	}
	if client.ID != 0 {
		return client, false, nil
	}

	client = Client{IPAddress: ipaddress}
	if sql := d.db.Create(&client); sql.Error != nil {
		// A concurrent caller may have won the unique index race. Re-read and
		// hand back the existing row instead of surfacing the constraint error.
		existing, getErr := d.GetClientByIP(ipaddress)
		if getErr == nil && existing.ID != 0 {
			return existing, false, nil
		}
		return client, false, sql.Error
	}

	return client, true, nil
}

var clientSortColumns = map[string]string{
	"ipaddress": "ipaddress",
	"alias":     "alias",
}

func (d *database) ListClients(opts model.ListOptions) ([]Client, int64, error) {
	tx := d.db.Model(&Client{})
	if opts.Search != "" {
		like := "%" + opts.Search + "%"
		tx = tx.Where("ipaddress LIKE ? OR alias LIKE ?", like, like)
	}

	var count int64
	if sql := tx.Count(&count); sql.Error != nil {
		return nil, 0, sql.Error
	}

	tx = applySort(tx, opts.SortBy, clientSortColumns)
	tx = applyPagination(tx, opts)

	var clients []Client
	sql := tx.Find(&clients)
	return clients, count, sql.Error
}

func (d *database) GetClientDetail(id uint) (Client, error) {
	client := Client{}
	sql := d.db.Preload("Domains", "ignored = ?", false).
		Where("id = ?", id).Limit(1).Find(&client)
	return client, sql.Error
}

func (d *database) UpdateClient(id uint, fields map[string]interface{}) error {
	sql := d.db.Model(&Client{ID: id}).Updates(fields)
	return sql.Error
}

func (d *database) GetDomainByName(name string) (Domain, error) {
	domain := Domain{}
	sql := d.db.Where("domain = ?", name).Limit(1).Find(&domain)
	return domain, sql.Error
}

func (d *database) CreateDomainIfAbsent(name string) (Domain, bool, error) {
	domain, err := d.GetDomainByName(name)
	if err != nil {
		return domain, false, err
	}
	if domain.ID != 0 {
		return domain, false, nil
	}

	domain = Domain{Domain: name}
	if sql := d.db.Create(&domain); sql.Error != nil {
		existing, getErr := d.GetDomainByName(name)
		if getErr == nil && existing.ID != 0 {
			return existing, false, nil
		}
		return domain, false, sql.Error
	}

	return domain, true, nil
}

var domainSortColumns = map[string]string{
	"domain":     "domain",
	"risk":       "risk",
	"category":   "category",
	"owner":      "owner",
	"queryCount": "query_count",
}

func (d *database) ListDomains(opts model.ListOptions, flags map[string]interface{}) ([]Domain, int64, error) {
	tx := d.db.Model(&Domain{})
	if opts.Search != "" {
		like := "%" + opts.Search + "%"
		tx = tx.Where("domain LIKE ? OR category LIKE ? OR owner LIKE ?", like, like, like)
	}
	for column, value := range flags {
		tx = tx.Where(column+" = ?", value)
	}

	var count int64
	if sql := tx.Count(&count); sql.Error != nil {
		return nil, 0, sql.Error
	}

	tx = tx.Select("domains.*, (SELECT COUNT(*) FROM queries WHERE queries.domain_id = domains.id) AS query_count")
	tx = applySort(tx, opts.SortBy, domainSortColumns)
	tx = applyPagination(tx, opts)

	var domains []Domain
	sql := tx.Find(&domains)
	return domains, count, sql.Error
}

func (d *database) GetDomainDetail(id uint) (Domain, error) {
	domain := Domain{}
	sql := d.db.Preload("Clients").
		Where("id = ?", id).Limit(1).Find(&domain)
	return domain, sql.Error
}

func (d *database) UpdateDomain(id uint, fields map[string]interface{}) error {
	sql := d.db.Model(&Domain{ID: id}).Updates(fields)
	return sql.Error
}

// LinkClientDomain records that a client has been seen querying a domain.
// The association upsert is a no-op when the pair already exists.
func (d *database) LinkClientDomain(clientID, domainID uint) error {
	client := Client{ID: clientID}
	return d.db.Model(&client).Association("Domains").Append(&Domain{ID: domainID})
}

func (d *database) GetLastQuery() (Query, error) {
	query := Query{}
	sql := d.db.Order("id DESC").Limit(1).Find(&query)
	return query, sql.Error
}

func (d *database) GetQueryByPiHoleID(piHoleID int64) (Query, error) {
	query := Query{}
	sql := d.db.Where("pi_hole_id = ?", piHoleID).Limit(1).Find(&query)
	return query, sql.Error
}

func (d *database) CreateQueryIfAbsent(piHoleID int64, timestamp time.Time, clientID, domainID uint) (Query, bool, error) {
	query, err := d.GetQueryByPiHoleID(piHoleID)
	if err != nil {
		return query, false, err
	}
	if query.ID != 0 {
		return query, false, nil
	}

	query = Query{
		PiHoleID:  piHoleID,
		Timestamp: timestamp,
		ClientID:  clientID,
		DomainID:  domainID,
	}
	if sql := d.db.Create(&query); sql.Error != nil {
		existing, getErr := d.GetQueryByPiHoleID(piHoleID)
		if getErr == nil && existing.ID != 0 {
			return existing, false, nil
		}
		return query, false, sql.Error
	}

	return query, true, nil
}

func (d *database) CreateSyncRun(startTime time.Time) (SyncRun, error) {
	run := SyncRun{
		StartTime: startTime,
		Status:    SyncStatusRunning,
	}
	sql := d.db.Create(&run)
	return run, sql.Error
}

func (d *database) UpdateSyncRun(id uint, fields map[string]interface{}) error {
	sql := d.db.Model(&SyncRun{ID: id}).Updates(fields)
	return sql.Error
}

func (d *database) GetRecentSyncRuns(limit int) ([]SyncRun, error) {
	var runs []SyncRun
	sql := d.db.Order("id DESC").Limit(limit).Find(&runs)
	return runs, sql.Error
}

// EndStaleSyncRuns force-fails runs left in Running by an abnormal process
// termination. Invoked once at startup.
func (d *database) EndStaleSyncRuns(now time.Time) (int64, error) {
	sql := d.db.Model(&SyncRun{}).Where("status = ?", SyncStatusRunning).
		Updates(map[string]interface{}{
			"status":   SyncStatusFailed,
			"end_time": now,
		})
	return sql.RowsAffected, sql.Error
}

func applySort(tx *gorm.DB, sortBy []model.SortItem, columns map[string]string) *gorm.DB {
	for _, item := range sortBy {
		order := strings.ToLower(item.Order)
		if order != model.SortAsc && order != model.SortDesc {
			continue
		}
		column, ok := columns[item.Key]
		if !ok {
			continue
		}
		tx = tx.Order(column + " " + order)
	}
	return tx
}

func applyPagination(tx *gorm.DB, opts model.ListOptions) *gorm.DB {
	if opts.Page > 0 && opts.PerPage > 0 {
		tx = tx.Offset((opts.Page - 1) * opts.PerPage).Limit(opts.PerPage)
	}
	return tx
}
