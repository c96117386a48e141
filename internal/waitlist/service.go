package waitlist

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"parking-status-backend/internal/apperr"
	"parking-status-backend/internal/events"
	"parking-status-backend/internal/metrics"
	"parking-status-backend/internal/notification"
	"parking-status-backend/internal/parse"
	"parking-status-backend/internal/store"
)

// SubscribeRequest asks to be told when a slot is free.
type SubscribeRequest struct {
	SlotID   int64
	Email    string
	Name     string
	Location string
}

// SubscribeResult says what Subscribe did.
type SubscribeResult struct {
	// Notified is set when the slot was already free and a notice went out.
	Notified bool  `json:"notified"`
	Queued   bool  `json:"queued"`
	Created  bool  `json:"created"`
	EntryID  int64 `json:"entryId,omitempty"`
}

// Service handles waitlist subscriptions.
type Service struct {
	store     store.Store
	gateway   notification.Gateway
	sink      events.Sink
	actionURL string
	log       *zerolog.Logger
}

func NewService(st store.Store, gw notification.Gateway, sink events.Sink, actionURL string, log *zerolog.Logger) *Service {
	return &Service{store: st, gateway: gw, sink: sink, actionURL: actionURL, log: log}
}

// Subscribe notifies right away when the slot is free and active. Otherwise
// it find-or-creates one pending entry for (slot, email).
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (SubscribeResult, error) {
	email, err := parse.Email(req.Email)
	if err != nil {
		return SubscribeResult{}, apperr.Wrap(apperr.KindInvalidInput, err, "a valid email is required")
	}

	slot, err := s.store.GetSlot(ctx, req.SlotID)
	if errors.Is(err, store.ErrNotFound) {
		return SubscribeResult{}, apperr.Wrap(apperr.KindNotFound, err, "slot %d not found", req.SlotID)
	}
	if err != nil {
		return SubscribeResult{}, apperr.Store(err, "load slot")
	}

	if slot.Available() {
		msg, err := notification.SlotAvailable{
			To:        email,
			Name:      parse.Name(req.Name, 60),
			SlotID:    slot.ID,
			SlotName:  slot.Name,
			Location:  req.Location,
			ActionURL: s.actionURL,
		}.Render()
		if err == nil {
			err = s.gateway.Send(ctx, msg)
		}
		metrics.IncNotification(notification.KindSlotAvailable, err == nil)
		if err != nil {
			return SubscribeResult{}, apperr.Wrap(apperr.KindDeliveryFailure, err, "could not send the availability notice")
		}
		s.sink.Publish(ctx, events.TopicSlotAvailable, events.PayloadFor(slot))
		return SubscribeResult{Notified: true}, nil
	}

	entry, created, err := s.store.FindOrCreateWaitlist(ctx, slot.ID, email)
	if err != nil {
		return SubscribeResult{}, apperr.Store(err, "subscribe to waitlist")
	}
	if created {
		s.log.Info().Int64("slot_id", slot.ID).Str("email", email).Msg("waitlist entry created")
	}
	return SubscribeResult{Queued: true, Created: created, EntryID: entry.ID}, nil
}
