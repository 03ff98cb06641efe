package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pihound/pihound/pkg/model"
)

func newTestDB(t *testing.T) Database {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.sqlite")
	database, err := New(context.Background(), "sqlite", dsn, nil)
	require.NoError(t, err)
	return database
}

func TestCreateClientIfAbsent(t *testing.T) {
	d := newTestDB(t)

	first, created, err := d.CreateClientIfAbsent("10.0.0.1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	second, created, err := d.CreateClientIfAbsent("10.0.0.1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetClientByIPAbsent(t *testing.T) {
	d := newTestDB(t)

	client, err := d.GetClientByIP("192.168.0.1")
	require.NoError(t, err)
	assert.Zero(t, client.ID)
}

func TestCreateDomainIfAbsent(t *testing.T) {
	d := newTestDB(t)

	first, created, err := d.CreateDomainIfAbsent("a.com")
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, first.Acknowledged)
	assert.False(t, first.Flagged)
	assert.False(t, first.Ignored)

	second, created, err := d.CreateDomainIfAbsent("a.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateClientIfAbsentConcurrent(t *testing.T) {
	d := newTestDB(t)

	// Racing upserts on one natural key must settle on exactly one row,
	// with every caller handed that row. Losers of the unique-index race
	// re-read instead of surfacing the constraint error.
	const workers = 8
	clients := make([]Client, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i], _, errs[i] = d.CreateClientIfAbsent("10.9.9.9")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotZero(t, clients[i].ID)
		assert.Equal(t, clients[0].ID, clients[i].ID)
	}

	rows, count, err := d.ListClients(model.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	require.Len(t, rows, 1)
	assert.Equal(t, "10.9.9.9", rows[0].IPAddress)
}

func TestCreateDomainIfAbsentConcurrent(t *testing.T) {
	d := newTestDB(t)

	const workers = 8
	domains := make([]Domain, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			domains[i], _, errs[i] = d.CreateDomainIfAbsent("raced.com")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotZero(t, domains[i].ID)
		assert.Equal(t, domains[0].ID, domains[i].ID)
	}

	_, count, err := d.ListDomains(model.ListOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCreateQueryIfAbsent(t *testing.T) {
	d := newTestDB(t)

	client, _, err := d.CreateClientIfAbsent("10.0.0.1")
	require.NoError(t, err)
	domain, _, err := d.CreateDomainIfAbsent("a.com")
	require.NoError(t, err)

	ts := time.Unix(1000, 0)
	first, created, err := d.CreateQueryIfAbsent(42, ts, client.ID, domain.ID)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := d.CreateQueryIfAbsent(42, ts, client.ID, domain.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetLastQuery(t *testing.T) {
	d := newTestDB(t)

	last, err := d.GetLastQuery()
	require.NoError(t, err)
	assert.Zero(t, last.ID)

	client, _, _ := d.CreateClientIfAbsent("10.0.0.1")
	domain, _, _ := d.CreateDomainIfAbsent("a.com")
	_, _, err = d.CreateQueryIfAbsent(1, time.Unix(1000, 0), client.ID, domain.ID)
	require.NoError(t, err)
	_, _, err = d.CreateQueryIfAbsent(2, time.Unix(1001, 0), client.ID, domain.ID)
	require.NoError(t, err)

	last, err = d.GetLastQuery()
	require.NoError(t, err)
	assert.Equal(t, int64(2), last.PiHoleID)
}

func TestLinkClientDomainIdempotent(t *testing.T) {
	d := newTestDB(t)

	client, _, _ := d.CreateClientIfAbsent("10.0.0.1")
	domain, _, _ := d.CreateDomainIfAbsent("a.com")

	require.NoError(t, d.LinkClientDomain(client.ID, domain.ID))
	require.NoError(t, d.LinkClientDomain(client.ID, domain.ID))

	detail, err := d.GetClientDetail(client.ID)
	require.NoError(t, err)
	require.Len(t, detail.Domains, 1)
	assert.Equal(t, "a.com", detail.Domains[0].Domain)
}

func TestClientDetailExcludesIgnoredDomains(t *testing.T) {
	d := newTestDB(t)

	client, _, _ := d.CreateClientIfAbsent("10.0.0.1")
	kept, _, _ := d.CreateDomainIfAbsent("keep.com")
	hidden, _, _ := d.CreateDomainIfAbsent("hide.com")

	require.NoError(t, d.LinkClientDomain(client.ID, kept.ID))
	require.NoError(t, d.LinkClientDomain(client.ID, hidden.ID))
	require.NoError(t, d.UpdateDomain(hidden.ID, map[string]interface{}{"ignored": true}))

	detail, err := d.GetClientDetail(client.ID)
	require.NoError(t, err)
	require.Len(t, detail.Domains, 1)
	assert.Equal(t, "keep.com", detail.Domains[0].Domain)
}

func TestDomainDetailIncludesClients(t *testing.T) {
	d := newTestDB(t)

	domain, _, _ := d.CreateDomainIfAbsent("a.com")
	one, _, _ := d.CreateClientIfAbsent("10.0.0.1")
	two, _, _ := d.CreateClientIfAbsent("10.0.0.2")

	require.NoError(t, d.LinkClientDomain(one.ID, domain.ID))
	require.NoError(t, d.LinkClientDomain(two.ID, domain.ID))

	detail, err := d.GetDomainDetail(domain.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Clients, 2)
}

func TestListClients(t *testing.T) {
	d := newTestDB(t)

	for _, ip := range []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"} {
		_, _, err := d.CreateClientIfAbsent(ip)
		require.NoError(t, err)
	}
	client, _ := d.GetClientByIP("10.0.0.2")
	require.NoError(t, d.UpdateClient(client.ID, map[string]interface{}{"alias": "laptop"}))

	rows, count, err := d.ListClients(model.ListOptions{
		SortBy: []model.SortItem{{Key: "ipaddress", Order: "asc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	require.Len(t, rows, 3)
	assert.Equal(t, "10.0.0.1", rows[0].IPAddress)

	// substring filter matches the alias column too
	rows, count, err = d.ListClients(model.ListOptions{Search: "lapt"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	require.Len(t, rows, 1)
	assert.Equal(t, "10.0.0.2", rows[0].IPAddress)
}

func TestListClientsPagination(t *testing.T) {
	d := newTestDB(t)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
		_, _, err := d.CreateClientIfAbsent(ip)
		require.NoError(t, err)
	}

	rows, count, err := d.ListClients(model.ListOptions{
		Page:    2,
		PerPage: 2,
		SortBy:  []model.SortItem{{Key: "ipaddress", Order: "asc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	require.Len(t, rows, 2)
	assert.Equal(t, "10.0.0.3", rows[0].IPAddress)
	assert.Equal(t, "10.0.0.4", rows[1].IPAddress)
}

func TestListSortAllowListDropsUnknown(t *testing.T) {
	d := newTestDB(t)

	for _, name := range []string{"c.com", "a.com", "b.com"} {
		_, _, err := d.CreateDomainIfAbsent(name)
		require.NoError(t, err)
	}

	// A sort key outside the allow-list and a bogus direction are both
	// silently dropped, falling back to default order.
	rows, _, err := d.ListDomains(model.ListOptions{
		SortBy: []model.SortItem{
			{Key: "comment", Order: "asc"},
			{Key: "domain", Order: "sideways"},
		},
	}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "c.com", rows[0].Domain)

	rows, _, err = d.ListDomains(model.ListOptions{
		SortBy: []model.SortItem{{Key: "domain", Order: "desc"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "c.com", rows[0].Domain)
	assert.Equal(t, "a.com", rows[2].Domain)
}

func TestListDomainsQueryCount(t *testing.T) {
	d := newTestDB(t)

	client, _, _ := d.CreateClientIfAbsent("10.0.0.1")
	busy, _, _ := d.CreateDomainIfAbsent("busy.com")
	_, _, _ = d.CreateDomainIfAbsent("quiet.com")

	for i := int64(1); i <= 3; i++ {
		_, _, err := d.CreateQueryIfAbsent(i, time.Unix(1000+i, 0), client.ID, busy.ID)
		require.NoError(t, err)
	}

	rows, _, err := d.ListDomains(model.ListOptions{
		SortBy: []model.SortItem{{Key: "queryCount", Order: "desc"}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "busy.com", rows[0].Domain)
	assert.Equal(t, int64(3), rows[0].QueryCount)
	assert.Equal(t, "quiet.com", rows[1].Domain)
	assert.Equal(t, int64(0), rows[1].QueryCount)
}

func TestListDomainsFlagPredicates(t *testing.T) {
	d := newTestDB(t)

	_, _, _ = d.CreateDomainIfAbsent("plain.com")
	flagged, _, _ := d.CreateDomainIfAbsent("flagged.com")
	ignored, _, _ := d.CreateDomainIfAbsent("ignored.com")
	require.NoError(t, d.UpdateDomain(flagged.ID, map[string]interface{}{"flagged": true}))
	require.NoError(t, d.UpdateDomain(ignored.ID, map[string]interface{}{"ignored": true}))

	rows, count, err := d.ListDomains(model.ListOptions{}, map[string]interface{}{"ignored": false})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Len(t, rows, 2)

	rows, _, err = d.ListDomains(model.ListOptions{}, map[string]interface{}{
		"ignored": false,
		"flagged": true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "flagged.com", rows[0].Domain)
}

func TestUpdateDomainEnrichmentFields(t *testing.T) {
	d := newTestDB(t)

	domain, _, _ := d.CreateDomainIfAbsent("a.com")
	risk := 3
	require.NoError(t, d.UpdateDomain(domain.ID, map[string]interface{}{
		"risk":     &risk,
		"category": "advertising",
		"owner":    "Example Corp",
		"comment":  "widely seen tracker",
	}))

	got, err := d.GetDomainByName("a.com")
	require.NoError(t, err)
	require.NotNil(t, got.Risk)
	assert.Equal(t, 3, *got.Risk)
	assert.Equal(t, "advertising", got.Category)
}

func TestSyncRunLifecycle(t *testing.T) {
	d := newTestDB(t)

	run, err := d.CreateSyncRun(time.Now())
	require.NoError(t, err)
	assert.Equal(t, SyncStatusRunning, run.Status)
	assert.Nil(t, run.EndTime)

	require.NoError(t, d.UpdateSyncRun(run.ID, map[string]interface{}{
		"clients": 1,
		"domains": 2,
		"queries": 2,
	}))
	require.NoError(t, d.UpdateSyncRun(run.ID, map[string]interface{}{
		"status":   SyncStatusSuccess,
		"end_time": time.Now(),
	}))

	runs, err := d.GetRecentSyncRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, SyncStatusSuccess, runs[0].Status)
	assert.Equal(t, 2, runs[0].Queries)
	assert.NotNil(t, runs[0].EndTime)
}

func TestGetRecentSyncRunsOrder(t *testing.T) {
	d := newTestDB(t)

	first, err := d.CreateSyncRun(time.Now())
	require.NoError(t, err)
	second, err := d.CreateSyncRun(time.Now())
	require.NoError(t, err)

	runs, err := d.GetRecentSyncRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
}

func TestEndStaleSyncRuns(t *testing.T) {
	d := newTestDB(t)

	stale, err := d.CreateSyncRun(time.Now())
	require.NoError(t, err)
	done, err := d.CreateSyncRun(time.Now())
	require.NoError(t, err)
	require.NoError(t, d.UpdateSyncRun(done.ID, map[string]interface{}{
		"status":   SyncStatusSuccess,
		"end_time": time.Now(),
	}))

	repaired, err := d.EndStaleSyncRuns(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), repaired)

	runs, err := d.GetRecentSyncRuns(10)
	require.NoError(t, err)
	for _, run := range runs {
		if run.ID == stale.ID {
			assert.Equal(t, SyncStatusFailed, run.Status)
			assert.NotNil(t, run.EndTime)
		}
	}
}
