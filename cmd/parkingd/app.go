package main

import (
	"context"
	"fmt"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"parking-status-backend/config"
	"parking-status-backend/internal/api"
	"parking-status-backend/internal/db"
	"parking-status-backend/internal/events"
	"parking-status-backend/internal/metrics"
	"parking-status-backend/internal/notification"
	"parking-status-backend/internal/occupancy"
	"parking-status-backend/internal/reaper"
	"parking-status-backend/internal/reporting"
	"parking-status-backend/internal/reservation"
	"parking-status-backend/internal/store"
	"parking-status-backend/internal/waitlist"
)

// app is the fully wired service graph shared by serve and reap.
type app struct {
	cfg   *config.Config
	log   *zerolog.Logger
	db    *gorm.DB
	store store.Store

	bus   *events.Bus
	sink  events.Sink
	hub   *events.Hub
	redis *redis.Client

	webpush *webpush.Options
	push    *notification.WorkerPool

	reconciler   *occupancy.Reconciler
	slots        *occupancy.Service
	reservations *reservation.Service
	waitlist     *waitlist.Service
	stats        *reporting.Service
	reaper       *reaper.Reaper
	poller       *occupancy.Poller
}

func newApp(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (*app, error) {
	gdb, err := db.Init(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &app{cfg: cfg, log: log, db: gdb, store: store.NewGormStore(gdb)}

	if cfg.Metrics.Enabled {
		metrics.Register()
	}

	a.bus = events.NewBus()
	a.sink = a.bus
	a.hub = events.NewHub(log, cfg.Server.AllowedOrigins...)
	a.bus.Subscribe("", a.hub.Handle)

	if cfg.Redis.Enabled {
		client, err := events.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		a.sink = events.NewRedisSink(client, cfg.Redis.Channel, log)
		if err := events.NewRelay(client, cfg.Redis.Channel, a.bus, log).Start(ctx); err != nil {
			a.Close()
			return nil, err
		}
		log.Info().Str("channel", cfg.Redis.Channel).Msg("slot events fan out through redis")
	}

	if cfg.Push.Enabled {
		if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
			a.Close()
			return nil, fmt.Errorf("push is enabled but VAPID keys are not configured")
		}
		a.webpush = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		a.push = notification.NewWorkerPool(cfg.Push.WorkerCount, a.store, a.webpush, log)
		a.push.Start(ctx)
		a.bus.Subscribe(events.TopicSlotAvailable, func(_ context.Context, ev events.Event) {
			a.push.Dispatch(notification.PushJob{SlotID: ev.Payload.ID, SlotName: ev.Payload.Name})
		})
	}

	mail, err := notification.NewGateway(cfg.Mail, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	retrying := notification.WithRetry(mail, notification.RetryPolicy{
		MaxRetries:    cfg.Waitlist.RetryMax,
		InitialDelay:  time.Duration(cfg.Waitlist.RetryInitialMillis) * time.Millisecond,
		MaxDelay:      time.Duration(cfg.Waitlist.RetryMaxDelayMillis) * time.Millisecond,
		BackoffFactor: cfg.Waitlist.RetryBackoffFactor,
	}, log)

	cascade := waitlist.NewCascade(a.store, retrying, a.sink, cfg.Waitlist.Concurrency, cfg.Mail.ActionURL, log)
	a.reconciler = occupancy.NewReconciler(a.store, cascade, a.sink, cfg.Occupancy, log)
	a.slots = occupancy.NewService(a.store, a.reconciler)
	a.reservations = reservation.NewService(a.store, mail, cfg.Reservation, cfg.Mail.ConfirmURL, log)
	a.waitlist = waitlist.NewService(a.store, mail, a.sink, cfg.Mail.ActionURL, log)
	a.stats, err = reporting.NewService(a.store, cfg.Reporting.Timezone)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.reaper = reaper.New(a.store, a.reservations, cfg.Reaper, log)
	a.poller = occupancy.NewPoller(cfg.Sensor, a.reconciler, log)
	return a, nil
}

func (a *app) handler() *api.Handler {
	return api.NewHandler(api.Deps{
		Slots:        a.slots,
		Reservations: a.reservations,
		Waitlist:     a.waitlist,
		Stats:        a.stats,
		Push:         a.store,
		WebPush:      a.webpush,
		Log:          a.log,
	})
}

// Close releases the database and redis connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close database")
		}
	}
}
