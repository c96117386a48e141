package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"parking-status-backend/config"
	"parking-status-backend/internal/model"
	"parking-status-backend/internal/store"
)

// Expirer moves a lapsed pending reservation to expired.
type Expirer interface {
	ExpireStale(ctx context.Context, id int64, cutoff time.Time) (bool, error)
}

// Store is the subset of persistence the reaper needs.
type Store interface {
	ListPendingCreatedBefore(ctx context.Context, before time.Time) ([]model.Reservation, error)
	PurgeNotifiedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Sweep summarises one reaper pass.
type Sweep struct {
	Expired int   `json:"expired"`
	Purged  int64 `json:"purged"`
}

// Reaper periodically expires pending reservations whose confirmation code
// lapsed and purges notified waitlist entries past their retention.
type Reaper struct {
	store     Store
	expirer   Expirer
	interval  time.Duration
	grace     time.Duration
	retention time.Duration
	now       func() time.Time
	log       *zerolog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a Reaper. Call Start to begin sweeping.
func New(st Store, expirer Expirer, cfg config.ReaperConfig, log *zerolog.Logger) *Reaper {
	return &Reaper{
		store:     st,
		expirer:   expirer,
		interval:  time.Duration(cfg.IntervalSeconds) * time.Second,
		grace:     time.Duration(cfg.PendingGraceMinutes) * time.Minute,
		retention: time.Duration(cfg.NotifiedRetentionMinutes) * time.Minute,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
		done:      make(chan struct{}),
	}
}

func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// Start launches the background sweep goroutine.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	go func() {
		defer close(r.done)

		r.sweep(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish. Stop on a
// reaper that was never started returns immediately.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Reaper) sweep(ctx context.Context) {
	res, err := r.RunOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.log.Error().Err(err).Msg("reaper pass failed")
		return
	}
	if res.Expired > 0 || res.Purged > 0 {
		r.log.Info().Int("expired", res.Expired).Int64("purged", res.Purged).Msg("reaper pass complete")
	}
}

// RunOnce performs a single pass. Reservations that fail to expire are
// logged and retried on the next pass.
func (r *Reaper) RunOnce(ctx context.Context) (Sweep, error) {
	var res Sweep
	now := r.now()
	cutoff := now.Add(-r.grace)

	pending, err := r.store.ListPendingCreatedBefore(ctx, cutoff)
	if err != nil {
		return res, err
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		expired, err := r.expirer.ExpireStale(ctx, p.ID, cutoff)
		if err != nil {
			r.log.Warn().Err(err).Int64("reservation_id", p.ID).Msg("could not expire reservation")
			continue
		}
		if expired {
			res.Expired++
		}
	}

	purged, err := r.store.PurgeNotifiedBefore(ctx, now.Add(-r.retention))
	if err != nil {
		return res, err
	}
	res.Purged = purged
	return res, nil
}

var _ Store = (store.Store)(nil)
