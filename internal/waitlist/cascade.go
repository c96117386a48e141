// Package waitlist keeps per-slot "notify me" subscriptions and fans out
// availability notices when a slot frees up.
package waitlist

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"parking-status-backend/internal/apperr"
	"parking-status-backend/internal/events"
	"parking-status-backend/internal/metrics"
	"parking-status-backend/internal/model"
	"parking-status-backend/internal/notification"
	"parking-status-backend/internal/store"
)

// Outcome summarizes one cascade run.
type Outcome struct {
	Pending  int   `json:"pending"`
	Notified int   `json:"notified"`
	Failed   int   `json:"failed"`
	Cleared  int64 `json:"cleared"`
}

// Cascade notifies every pending subscriber of a slot and clears the ones
// that were reached.
type Cascade struct {
	store       store.WaitlistStore
	gateway     notification.Gateway
	sink        events.Sink
	concurrency int
	actionURL   string
	log         *zerolog.Logger
	now         func() time.Time
}

func NewCascade(st store.WaitlistStore, gw notification.Gateway, sink events.Sink, concurrency int, actionURL string, log *zerolog.Logger) *Cascade {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Cascade{
		store:       st,
		gateway:     gw,
		sink:        sink,
		concurrency: concurrency,
		actionURL:   actionURL,
		log:         log,
		now:         time.Now,
	}
}

// WithClock replaces the time source used for notified_at stamps.
func (c *Cascade) WithClock(now func() time.Time) *Cascade {
	c.now = now
	return c
}

// NotifyAndClear sends one notice per pending entry, stamps the ones that
// were delivered, publishes slot_available once and deletes the stamped
// entries. A failed delivery leaves its entry pending for a later run.
func (c *Cascade) NotifyAndClear(ctx context.Context, slot *model.Slot) (Outcome, error) {
	entries, err := c.store.PendingWaitlist(ctx, slot.ID)
	if err != nil {
		return Outcome{}, apperr.Store(err, "load waitlist")
	}
	out := Outcome{Pending: len(entries)}
	if len(entries) == 0 {
		c.sink.Publish(ctx, events.TopicSlotAvailable, events.PayloadFor(slot))
		return out, nil
	}

	var notified, failed int32
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			if c.notify(ctx, slot, entry) {
				atomic.AddInt32(&notified, 1)
			} else {
				atomic.AddInt32(&failed, 1)
			}
			// Never short-circuit the group.
			return nil
		})
	}
	_ = g.Wait()
	out.Notified, out.Failed = int(notified), int(failed)

	c.sink.Publish(ctx, events.TopicSlotAvailable, events.PayloadFor(slot))

	cleared, err := c.store.DeleteNotified(ctx, slot.ID)
	if err != nil {
		return out, apperr.Store(err, "clear notified waitlist entries")
	}
	out.Cleared = cleared

	c.log.Info().Int64("slot_id", slot.ID).Int("notified", out.Notified).Int("failed", out.Failed).
		Int64("cleared", out.Cleared).Msg("waitlist cascade finished")
	return out, nil
}

func (c *Cascade) notify(ctx context.Context, slot *model.Slot, entry model.WaitlistEntry) bool {
	msg, err := notification.SlotAvailable{
		To:        entry.Email,
		SlotID:    slot.ID,
		SlotName:  slot.Name,
		ActionURL: c.actionURL,
	}.Render()
	if err == nil {
		err = c.gateway.Send(ctx, msg)
	}
	metrics.IncNotification(notification.KindSlotAvailable, err == nil)
	if err != nil {
		c.log.Warn().Err(err).Int64("slot_id", slot.ID).Str("email", entry.Email).Msg("waitlist notice not delivered")
		return false
	}

	if err := c.store.MarkNotified(ctx, entry.ID, c.now().UTC()); err != nil {
		c.log.Error().Err(err).Int64("slot_id", slot.ID).Int64("entry_id", entry.ID).Msg("notice delivered but entry not stamped")
		return false
	}
	return true
}
