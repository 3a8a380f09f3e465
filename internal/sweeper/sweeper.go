// Package sweeper reclaims expired and consumed download artifacts off
// the request path. Redemption only marks; this is what actually frees
// disk and rows.
package sweeper

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/nmoreau/billing-core/internal/artifact"
	"github.com/nmoreau/billing-core/internal/models"
)

// deleteWorkers bounds how many file removals run at once per sweep.
const deleteWorkers = 10

// Sweeper deletes artifact files past expiry or past their
// post-consumption grace window, soft-marking the records so download
// history stays queryable until the retention purge.
type Sweeper struct {
	DB        *gorm.DB
	Store     *artifact.Store
	Grace     time.Duration
	Retention time.Duration
}

func New(db *gorm.DB, store *artifact.Store, grace, retention time.Duration) *Sweeper {
	return &Sweeper{DB: db, Store: store, Grace: grace, Retention: retention}
}

// Sweep reclaims every artifact due at instant now and drops the
// credentials bound to reclaimed artifacts. Individual file failures are
// logged and skipped, never aborting the batch. Sweeping an already
// swept store reclaims nothing and returns 0.
func (s *Sweeper) Sweep(now time.Time) (int, error) {
	var due []models.RenderedArtifact
	err := s.DB.
		Where("deleted_at IS NULL AND (expires_at <= ? OR (consumed_at IS NOT NULL AND consumed_at <= ?))",
			now, now.Add(-s.Grace)).
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	reclaimed := make([]bool, len(due))
	var eg errgroup.Group
	eg.SetLimit(deleteWorkers)
	for i := range due {
		a := &due[i]
		eg.Go(func() error {
			if err := s.Store.Delete(a, now); err != nil {
				log.Printf("sweep: artifact %s: %v", a.PublicID, err)
				return nil
			}
			reclaimed[i] = true
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	swept := 0
	for _, ok := range reclaimed {
		if ok {
			swept++
		}
	}

	// Credentials die at their own expiry or with their artifact,
	// including artifacts reclaimed by the post-download grace timer
	// rather than by us. Snapshots and audit rows are never touched.
	err = s.DB.
		Where("expires_at <= ? OR artifact_id IN (?)", now,
			s.DB.Model(&models.RenderedArtifact{}).Select("id").Where("deleted_at IS NOT NULL")).
		Delete(&models.DownloadCredential{}).Error
	if err != nil {
		return swept, err
	}
	return swept, nil
}

// PurgeRetention hard-deletes soft-marked artifact rows older than the
// retention window, ending their life as download-history records. Audit
// entries are never purged.
func (s *Sweeper) PurgeRetention(now time.Time) (int, error) {
	cutoff := now.Add(-s.Retention)

	err := s.DB.
		Where("artifact_id IN (?)",
			s.DB.Model(&models.RenderedArtifact{}).Select("id").
				Where("deleted_at IS NOT NULL AND deleted_at <= ?", cutoff)).
		Delete(&models.DownloadCredential{}).Error
	if err != nil {
		return 0, err
	}

	res := s.DB.
		Where("deleted_at IS NOT NULL AND deleted_at <= ?", cutoff).
		Delete(&models.RenderedArtifact{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// Runner drives the periodic passes: sweep plus retention purge on one
// ticker, the overdue scan on another. Any external scheduler can call
// Sweep directly instead; the -sweep-once flag does exactly that.
type Runner struct {
	Sweeper         *Sweeper
	SweepInterval   time.Duration
	OverdueInterval time.Duration
	ScanOverdue     func(now time.Time) (int, error)
}

// Start launches the tickers. They stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go r.sweepLoop(ctx)
	if r.ScanOverdue != nil {
		go r.overdueLoop(ctx)
	}
}

func (r *Runner) sweepLoop(ctx context.Context) {
	t := time.NewTicker(r.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.RunOnce(now.UTC())
		}
	}
}

// RunOnce executes a single sweep and retention pass, logging outcomes.
func (r *Runner) RunOnce(now time.Time) {
	if n, err := r.Sweeper.Sweep(now); err != nil {
		log.Printf("sweep: %v", err)
	} else if n > 0 {
		log.Printf("sweep: reclaimed %d artifact(s)", n)
	}
	if n, err := r.Sweeper.PurgeRetention(now); err != nil {
		log.Printf("retention purge: %v", err)
	} else if n > 0 {
		log.Printf("retention purge: removed %d record(s)", n)
	}
}

func (r *Runner) overdueLoop(ctx context.Context) {
	t := time.NewTicker(r.OverdueInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n, err := r.ScanOverdue(now.UTC()); err != nil {
				log.Printf("overdue scan: %v", err)
			} else if n > 0 {
				log.Printf("overdue scan: %d document(s) marked", n)
			}
		}
	}
}
