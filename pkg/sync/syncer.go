// Package sync reconciles the encrypted Pi-hole query dump against the
// local store of clients, domains and queries, keeping an auditable run log.
package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/pihound/pihound/pkg/db"
	"github.com/pihound/pihound/pkg/dump"
	"github.com/pihound/pihound/pkg/model"
)

type Config struct {
	DumpURL        string
	DumpPassphrase string
	PollInterval   time.Duration
}

type Syncer struct {
	cfg  Config
	db   db.Database
	dump *dump.Client
	log  *logrus.Entry

	// mu serializes whole runs. The last-run status check alone is racy:
	// two triggers could both read "not running" before either inserts its
	// Running row.
	mu gosync.Mutex
}

func New(cfg Config, database db.Database, dumpClient *dump.Client, log *logrus.Entry) *Syncer {
	return &Syncer{
		cfg:  cfg,
		db:   database,
		dump: dumpClient,
		log:  log,
	}
}

// Start runs SyncNow immediately and then on every poll interval until
// stopCh closes. No error from a triggered run escapes a tick.
func (s *Syncer) Start(ctx context.Context, stopCh <-chan struct{}) {
	s.log.WithField("interval", s.cfg.PollInterval).Info("starting sync daemon")
	wait.JitterUntil(func() {
		if err := s.SyncNow(ctx); err != nil {
			s.log.WithError(err).Error("sync failed")
		}
	}, s.cfg.PollInterval, .002, true, stopCh)
}

// EndStale force-fails runs left in Running by an earlier process crash.
// Invoked once at startup, before the daemon starts.
func (s *Syncer) EndStale() error {
	repaired, err := s.db.EndStaleSyncRuns(time.Now())
	if err != nil {
		return err
	}
	if repaired > 0 {
		s.log.WithField("runs", repaired).Warn("repaired stale sync runs")
	}
	return nil
}

// SyncNow performs one full synchronization run: download, decrypt, parse,
// resume-point resolution, then the per-event reconciliation loop. A run
// already in flight, in this process or recorded as Running in the store,
// makes it return immediately without error.
func (s *Syncer) SyncNow(ctx context.Context) error {
	if !s.mu.TryLock() {
		return nil
	}
	defer s.mu.Unlock()

	running, err := s.isRunning()
	if err != nil {
		return err
	}
	if running {
		s.log.Debug("a sync run is already in progress, skipping")
		return nil
	}

	ct, err := s.dump.Fetch(ctx, s.cfg.DumpURL)
	if err != nil {
		return err
	}

	pt, err := dump.Decrypt(ct, s.cfg.DumpPassphrase)
	if err != nil {
		return err
	}

	items, err := dump.Parse(pt)
	if err != nil {
		return err
	}

	startIndex, err := s.resumeIndex(items)
	if err != nil {
		return err
	}

	run, err := s.db.CreateSyncRun(time.Now())
	if err != nil {
		return err
	}

	counters := runCounters{}
	if err := s.ingest(items[startIndex:], run.ID, &counters); err != nil {
		s.log.WithError(err).Error("sync run failed")
		return s.finish(run.ID, db.SyncStatusFailed)
	}

	s.log.WithFields(logrus.Fields{
		"clients": counters.clients,
		"domains": counters.domains,
		"queries": counters.queries,
	}).Info("sync run complete")

	return s.finish(run.ID, db.SyncStatusSuccess)
}

func (s *Syncer) isRunning() (bool, error) {
	runs, err := s.db.GetRecentSyncRuns(1)
	if err != nil {
		return false, err
	}
	return len(runs) == 1 && runs[0].Status == db.SyncStatusRunning, nil
}

// resumeIndex finds the position of the most recently recorded query in the
// fresh dump. The matched event is re-processed on purpose; every write in
// the loop is idempotent. A miss (first run, or the upstream log rotated
// away) means the whole dump is ingested.
func (s *Syncer) resumeIndex(items []model.DumpItem) (int, error) {
	last, err := s.db.GetLastQuery()
	if err != nil || last.ID == 0 {
		return 0, err
	}

	for i, item := range items {
		if item.ID == last.PiHoleID {
			return i, nil
		}
	}
	return 0, nil
}

type runCounters struct {
	clients int
	domains int
	queries int
}

// ingest reconciles events strictly in dump order. The first error aborts
// the remainder of the run; everything persisted so far stays committed.
func (s *Syncer) ingest(items []model.DumpItem, runID uint, c *runCounters) error {
	for _, item := range items {
		client, newClient, err := s.db.CreateClientIfAbsent(item.Client)
		if err != nil {
			return err
		}

		domain, newDomain, err := s.db.CreateDomainIfAbsent(item.Domain)
		if err != nil {
			return err
		}

		if domain.Ignored {
			// The operator suppressed this domain; record nothing for it.
			continue
		}

		if err := s.db.LinkClientDomain(client.ID, domain.ID); err != nil {
			return err
		}

		_, newQuery, err := s.db.CreateQueryIfAbsent(item.ID, time.Unix(item.Timestamp, 0), client.ID, domain.ID)
		if err != nil {
			return err
		}

		if newClient {
			c.clients++
		}
		if newDomain {
			c.domains++
		}
		if newQuery {
			c.queries++
		}

		// Persisted every iteration so a crash mid-run leaves a truthful
		// partial count rather than a stale zero.
		if err := s.db.UpdateSyncRun(runID, map[string]interface{}{
			"clients": c.clients,
			"domains": c.domains,
			"queries": c.queries,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (s *Syncer) finish(runID uint, status int) error {
	return s.db.UpdateSyncRun(runID, map[string]interface{}{
		"status":   status,
		"end_time": time.Now(),
	})
}
