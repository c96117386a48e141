// Package reservation drives reservations from creation through
// confirmation, check-in, cancellation and expiry.
package reservation

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"parking-status-backend/config"
	"parking-status-backend/internal/apperr"
	"parking-status-backend/internal/metrics"
	"parking-status-backend/internal/model"
	"parking-status-backend/internal/notification"
	"parking-status-backend/internal/parse"
	"parking-status-backend/internal/store"
)

// CreateRequest is the input of Create.
type CreateRequest struct {
	SlotID int64
	Email  string
	Name   string
	From   time.Time
	To     time.Time
	// ValidityMinutes overrides the configured code validity when > 0.
	ValidityMinutes int
}

// Service implements the reservation lifecycle.
type Service struct {
	store      store.Store
	gateway    notification.Gateway
	cfg        config.ReservationConfig
	confirmURL string
	log        *zerolog.Logger
	now        func() time.Time
}

func NewService(st store.Store, gw notification.Gateway, cfg config.ReservationConfig, confirmURL string, log *zerolog.Logger) *Service {
	return &Service{
		store:      st,
		gateway:    gw,
		cfg:        cfg,
		confirmURL: confirmURL,
		log:        log,
		now:        time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Create validates the request, reserves the window under the slot lock and
// sends the confirmation code. The reservation is only committed when the
// code was delivered.
func (s *Service) Create(ctx context.Context, req CreateRequest) (res *model.Reservation, err error) {
	defer func() { observe("create", err) }()

	email, perr := parse.Email(req.Email)
	if perr != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, perr, "a valid email is required")
	}
	if req.SlotID <= 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "slot id is required")
	}
	from, to := req.From.UTC(), req.To.UTC()
	if from.IsZero() || to.IsZero() {
		return nil, apperr.New(apperr.KindInvalidInput, "from and to are required")
	}
	if !from.Before(to) {
		return nil, apperr.New(apperr.KindInvalidRange, "from must be before to")
	}
	validity := req.ValidityMinutes
	if validity <= 0 {
		validity = s.cfg.CodeValidityMinutes
	}
	maxValidity := s.cfg.MaxCodeValidityMinutes
	if maxValidity <= 0 {
		maxValidity = config.DefaultMaxCodeValidityMinutes
	}
	if validity > maxValidity {
		return nil, apperr.New(apperr.KindInvalidInput, "validity must be at most %d minutes", maxValidity)
	}

	// Two tries: a code can still collide with one inserted concurrently on
	// another slot after our uniqueness check.
	for attempt := 0; attempt < 2; attempt++ {
		res, err = s.create(ctx, req.SlotID, email, parse.Name(req.Name, 60), from, to, validity)
		if err == nil || !store.IsDuplicate(err) {
			break
		}
		s.log.Warn().Int64("slot_id", req.SlotID).Msg("confirmation code collided, retrying")
	}
	return res, err
}

func (s *Service) create(ctx context.Context, slotID int64, email, name string, from, to time.Time, validity int) (*model.Reservation, error) {
	var created *model.Reservation
	err := s.store.WithSlotLock(ctx, slotID, func(tx store.Store, slot *model.Slot) error {
		if !slot.Active {
			return apperr.New(apperr.KindInactive, "slot %d is not available", slotID)
		}

		conflict, err := NewConflictChecker(tx).Conflicts(ctx, slotID, from, to)
		if err != nil {
			return apperr.Store(err, "check overlapping reservations")
		}
		if conflict {
			return apperr.New(apperr.KindConflict, "slot %d is already reserved in that window", slotID)
		}

		code, err := uniqueCode(ctx, tx, s.cfg.CodeLength, s.cfg.CodeMaxAttempts)
		if err != nil {
			return apperr.Store(err, "generate confirmation code")
		}

		now := s.clock()
		r := &model.Reservation{
			SlotID:    slotID,
			Email:     email,
			Name:      name,
			Code:      code,
			From:      from,
			To:        to,
			Status:    model.StatusPending,
			CreatedAt: now,
			Meta: datatypes.NewJSONType(model.ReservationMeta{
				CodeExpiresAt: now.Add(time.Duration(validity) * time.Minute),
			}),
		}
		if err := tx.CreateReservation(ctx, r); err != nil {
			if store.IsOverlapViolation(err) {
				return apperr.Wrap(apperr.KindConflict, err, "slot %d is already reserved in that window", slotID)
			}
			if store.IsDuplicate(err) {
				return &apperr.Error{Kind: apperr.KindStoreFailure, Msg: "confirmation code collision", Err: err}
			}
			return apperr.Store(err, "create reservation")
		}

		msg, err := notification.ConfirmationCode{
			To:              email,
			Name:            name,
			Code:            code,
			ValidityMinutes: validity,
			SlotName:        slot.Name,
			ActionURL:       s.actionURL(r.ID),
		}.Render()
		if err != nil {
			return apperr.Wrap(apperr.KindDeliveryFailure, err, "could not render confirmation email")
		}
		if err := s.gateway.Send(ctx, msg); err != nil {
			metrics.IncNotification(notification.KindConfirmationCode, false)
			s.log.Warn().Err(err).Int64("slot_id", slotID).Str("email", email).Msg("confirmation code not delivered, rolling back reservation")
			return apperr.Wrap(apperr.KindDeliveryFailure, err, "could not send the confirmation code")
		}
		metrics.IncNotification(notification.KindConfirmationCode, true)

		created = r
		return nil
	})
	if err != nil {
		return nil, mapLockErr(err, "slot %d not found", slotID)
	}

	s.log.Info().Int64("reservation_id", created.ID).Int64("slot_id", slotID).
		Time("from", from).Time("to", to).Msg("reservation created")
	return created, nil
}

func (s *Service) actionURL(id int64) string {
	if s.confirmURL == "" {
		return ""
	}
	u, err := url.Parse(s.confirmURL)
	if err != nil {
		return s.confirmURL
	}
	q := u.Query()
	q.Set("id", strconv.FormatInt(id, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

// Confirm checks the code and moves a pending reservation to active, or to
// in_use when its window has already started. A wrong code is counted even
// though the call fails.
func (s *Service) Confirm(ctx context.Context, id int64, code string) (res *model.Reservation, err error) {
	defer func() { observe("confirm", err) }()

	var outcome error
	err = s.withReservation(ctx, id, func(tx store.Store, r *model.Reservation) error {
		if r.Status != model.StatusPending {
			outcome = apperr.New(apperr.KindInvalidState, "reservation is %s, not pending", r.Status)
			return nil
		}

		meta := r.Meta.Data()
		if !codeMatches(r.Code, code) {
			meta.CodeAttempts++
			r.Meta = datatypes.NewJSONType(meta)
			outcome = apperr.New(apperr.KindInvalidCode, "invalid confirmation code")
			return apperr.Store(tx.SaveReservation(ctx, r), "record confirmation attempt")
		}

		now := s.clock()
		if now.After(meta.CodeExpiresAt) {
			outcome = apperr.New(apperr.KindExpired, "confirmation code expired")
			return nil
		}

		r.ConfirmedAt = &now
		r.Status = model.StatusActive
		if r.Contains(now) {
			r.Status = model.StatusInUse
			r.CheckedInAt = &now
		}
		if err := tx.SaveReservation(ctx, r); err != nil {
			return apperr.Store(err, "confirm reservation")
		}
		res = r
		return nil
	})
	if err == nil {
		err = outcome
	}
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("reservation_id", id).Str("status", string(res.Status)).Msg("reservation confirmed")
	return res, nil
}

// Cancel ends a non-terminal reservation.
func (s *Service) Cancel(ctx context.Context, id int64, code string) (res *model.Reservation, err error) {
	defer func() { observe("cancel", err) }()

	err = s.withReservation(ctx, id, func(tx store.Store, r *model.Reservation) error {
		if !codeMatches(r.Code, code) {
			return apperr.New(apperr.KindInvalidCode, "invalid confirmation code")
		}
		if r.Status.Terminal() {
			return apperr.New(apperr.KindInvalidState, "reservation is already %s", r.Status)
		}
		now := s.clock()
		r.Status = model.StatusCancelled
		r.CanceledAt = &now
		if err := tx.SaveReservation(ctx, r); err != nil {
			return apperr.Store(err, "cancel reservation")
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("reservation_id", id).Msg("reservation cancelled")
	return res, nil
}

// Checkin marks a confirmed reservation as in use while its window is open.
func (s *Service) Checkin(ctx context.Context, id int64, code string) (res *model.Reservation, err error) {
	defer func() { observe("checkin", err) }()

	err = s.withReservation(ctx, id, func(tx store.Store, r *model.Reservation) error {
		if !codeMatches(r.Code, code) {
			return apperr.New(apperr.KindInvalidCode, "invalid confirmation code")
		}
		now := s.clock()
		if !r.Contains(now) {
			return apperr.New(apperr.KindOutOfWindow, "check-in is only allowed between %s and %s",
				r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
		}
		if r.Status != model.StatusActive && r.Status != model.StatusInUse {
			return apperr.New(apperr.KindInvalidState, "reservation is %s; confirm it first", r.Status)
		}
		r.Status = model.StatusInUse
		r.CheckedInAt = &now
		if err := tx.SaveReservation(ctx, r); err != nil {
			return apperr.Store(err, "check in reservation")
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("reservation_id", id).Msg("reservation checked in")
	return res, nil
}

// Availability reports whether [from, to) is free on the slot. It takes no
// lock and holds nothing; a concurrent Create can still win the window.
func (s *Service) Availability(ctx context.Context, slotID int64, from, to time.Time) (bool, error) {
	if !from.Before(to) {
		return false, apperr.New(apperr.KindInvalidRange, "from must be before to")
	}
	if _, err := s.store.GetSlot(ctx, slotID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, apperr.Wrap(apperr.KindNotFound, err, "slot %d not found", slotID)
		}
		return false, apperr.Store(err, "load slot")
	}
	conflict, err := NewConflictChecker(s.store).Conflicts(ctx, slotID, from, to)
	if err != nil {
		return false, apperr.Store(err, "check availability")
	}
	return !conflict, nil
}

// Get returns a reservation by id.
func (s *Service) Get(ctx context.Context, id int64) (*model.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "reservation %d not found", id)
	}
	if err != nil {
		return nil, apperr.Store(err, "load reservation")
	}
	return r, nil
}

// ExpireStale moves a pending reservation to expired when its code lapsed
// before cutoff. It reports whether the reservation was expired.
func (s *Service) ExpireStale(ctx context.Context, id int64, cutoff time.Time) (bool, error) {
	expired := false
	err := s.withReservation(ctx, id, func(tx store.Store, r *model.Reservation) error {
		if r.Status != model.StatusPending || !r.Meta.Data().CodeExpiresAt.Before(cutoff) {
			return nil
		}
		r.Status = model.StatusExpired
		if err := tx.SaveReservation(ctx, r); err != nil {
			return apperr.Store(err, "expire reservation")
		}
		expired = true
		return nil
	})
	if expired {
		observe("expire", nil)
	}
	return expired, err
}

// withReservation loads the reservation to find its slot, then runs fn on a
// fresh copy read under that slot's lock.
func (s *Service) withReservation(ctx context.Context, id int64, fn func(tx store.Store, r *model.Reservation) error) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.store.WithSlotLock(ctx, current.SlotID, func(tx store.Store, _ *model.Slot) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.Wrap(apperr.KindNotFound, err, "reservation %d not found", id)
			}
			return apperr.Store(err, "load reservation")
		}
		return fn(tx, r)
	})
	return mapLockErr(err, "slot %d not found", current.SlotID)
}

func codeMatches(want, got string) bool {
	got = strings.ToUpper(strings.TrimSpace(got))
	return got != "" && subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func mapLockErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, err, format, args...)
	}
	if store.IsOverlapViolation(err) {
		return apperr.Wrap(apperr.KindConflict, err, "window already reserved")
	}
	return apperr.Store(err, "reservation transaction")
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
		if result == "" {
			result = string(apperr.KindStoreFailure)
		}
	}
	metrics.IncReservation(op, result)
}
