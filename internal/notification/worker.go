package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"parking-status-backend/internal/metrics"
	"parking-status-backend/internal/model"
)

// PushSender defines the interface for sending a web push notification.
type PushSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of PushSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the slice of the store the push workers need.
type SubscriptionStore interface {
	PushSubscriptionsForSlot(ctx context.Context, slotID int64) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

// PushJob asks the pool to notify every browser subscribed to a slot.
type PushJob struct {
	SlotID   int64
	SlotName string
}

// PushPayload is the JSON body delivered to the service worker.
type PushPayload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	SlotID int64  `json:"slotId"`
}

// WorkerPool manages a pool of workers for sending push notifications.
type WorkerPool struct {
	size    int
	jobs    chan PushJob
	store   SubscriptionStore
	webpush *webpush.Options
	sender  PushSender
	log     *zerolog.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, store SubscriptionStore, webpushOptions *webpush.Options, log *zerolog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan PushJob, size*16),
		store:   store,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug().Int("worker", id).Msg("push worker started")
	for {
		select {
		case job := <-wp.jobs:
			wp.sendNotificationsForSlot(ctx, job)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("push worker shutting down")
			return
		}
	}
}

// Dispatch queues a job. It never blocks the caller: when the queue is full
// the job is dropped and logged.
func (wp *WorkerPool) Dispatch(job PushJob) {
	select {
	case wp.jobs <- job:
	default:
		wp.log.Warn().Int64("slot_id", job.SlotID).Msg("push queue full, dropping job")
	}
}

func (wp *WorkerPool) sendNotificationsForSlot(ctx context.Context, job PushJob) {
	subscriptions, err := wp.store.PushSubscriptionsForSlot(ctx, job.SlotID)
	if err != nil {
		wp.log.Error().Err(err).Int64("slot_id", job.SlotID).Msg("failed to fetch push subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	label := job.SlotName
	if label == "" {
		label = fmt.Sprintf("%d", job.SlotID)
	}
	payload, err := json.Marshal(PushPayload{
		Title:  "Parking slot available",
		Body:   fmt.Sprintf("Slot %s is now available!", label),
		SlotID: job.SlotID,
	})
	if err != nil {
		wp.log.Error().Err(err).Msg("failed to encode push payload")
		return
	}

	wp.log.Info().Int("count", len(subscriptions)).Int64("slot_id", job.SlotID).Msg("sending push notifications")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		metrics.IncNotification("push", false)
		wp.log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to send push notification")
		return
	}
	defer resp.Body.Close()

	// Expired subscriptions are removed.
	if resp.StatusCode == http.StatusGone {
		metrics.IncNotification("push", false)
		wp.log.Info().Str("endpoint", sub.Endpoint).Msg("push subscription expired, deleting")
		if err := wp.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
		return
	}
	metrics.IncNotification("push", resp.StatusCode < 400)
}
