package db

import (
	"time"

	"gorm.io/gorm"
)

// SyncRun status values. Running is the only non-terminal state.
const (
	SyncStatusPending = 0
	SyncStatusRunning = 1
	SyncStatusSuccess = 2
	SyncStatusFailed  = 3
)

// Client is a network device, identified by its IP address. The IP is
// immutable after creation; only the alias and comment are updatable.
type Client struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	IPAddress string         `gorm:"column:ipaddress;uniqueIndex;not null" json:"ipaddress"`
	Alias     string         `json:"alias"`
	Comment   string         `gorm:"type:text" json:"comment"`
	Domains   []Domain       `gorm:"many2many:client_domains" json:"domains,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Domain is a fully-qualified domain name observed in the query log. The
// enrichment fields (owner, category, risk, comment) are only ever written by
// the interrogation path, never by ingestion.
type Domain struct {
	ID       uint   `gorm:"primarykey" json:"id"`
	Domain   string `gorm:"uniqueIndex;not null" json:"domain"`
	Owner    string `json:"owner"`
	Category string `json:"category"`
	Risk     *int   `json:"risk"`
	Comment  string `gorm:"type:text" json:"comment"`

	Acknowledged bool `gorm:"index;not null;default:false" json:"acknowledged"`
	Flagged      bool `gorm:"index;not null;default:false" json:"flagged"`
	Ignored      bool `gorm:"index;not null;default:false" json:"ignored"`

	Clients []Client `gorm:"many2many:client_domains" json:"clients,omitempty"`

	// QueryCount is computed by the list query, not a stored column.
	QueryCount int64 `gorm:"->;-:migration" json:"queryCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Query is one historical DNS query event. PiHoleID is the upstream
// identifier and the dedup key; re-ingesting the same event is a no-op.
type Query struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	PiHoleID  int64     `gorm:"column:pi_hole_id;uniqueIndex;not null" json:"piHoleId"`
	Timestamp time.Time `gorm:"not null" json:"timestamp"`
	ClientID  uint      `gorm:"index;not null" json:"clientId"`
	DomainID  uint      `gorm:"index;not null" json:"domainId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SyncRun is the audit record of one synchronization run. Counters are
// persisted after every reconciled event so a crash mid-run leaves a
// truthful partial count.
type SyncRun struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	StartTime time.Time  `gorm:"not null" json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	Status    int        `gorm:"index;not null" json:"status"`
	Clients   int        `gorm:"not null" json:"clients"`
	Domains   int        `gorm:"not null" json:"domains"`
	Queries   int        `gorm:"not null" json:"queries"`
}
