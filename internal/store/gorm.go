package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-status-backend/internal/model"
)

var errNestedLock = errors.New("slot lock is already held by this transaction")

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db    *gorm.DB
	locks *slotMutex
	inTx  bool
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db, locks: newSlotMutex()}
}

func (s *gormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// WithSlotLock acquires the in-process slot mutex, opens a transaction and
// reads the slot row with FOR UPDATE before handing control to fn.
func (s *gormStore) WithSlotLock(ctx context.Context, slotID int64, fn func(tx Store, slot *model.Slot) error) error {
	if s.inTx {
		return errNestedLock
	}

	unlock := s.locks.Lock(slotID)
	defer unlock()

	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var slot model.Slot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&slot, slotID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock slot %d: %w", slotID, err)
		}
		return fn(&gormStore{db: tx, locks: s.locks, inTx: true}, &slot)
	})
}

// --- Slots ---

func (s *gormStore) CreateSlot(ctx context.Context, slot *model.Slot) error {
	if err := s.conn(ctx).Create(slot).Error; err != nil {
		return fmt.Errorf("failed to create slot: %w", err)
	}
	return nil
}

func (s *gormStore) GetSlot(ctx context.Context, id int64) (*model.Slot, error) {
	var slot model.Slot
	if err := s.conn(ctx).First(&slot, id).Error; err != nil {
		return nil, notFound(err, "slot %d", id)
	}
	return &slot, nil
}

func (s *gormStore) ListSlots(ctx context.Context, activeOnly bool) ([]model.Slot, error) {
	q := s.conn(ctx).Order("id")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var slots []model.Slot
	if err := q.Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return slots, nil
}

func (s *gormStore) SaveSlot(ctx context.Context, slot *model.Slot) error {
	if err := s.conn(ctx).Save(slot).Error; err != nil {
		return fmt.Errorf("failed to save slot %d: %w", slot.ID, err)
	}
	return nil
}

// --- Reservations ---

func (s *gormStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	if err := s.conn(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to create reservation on slot %d: %w", r.SlotID, err)
	}
	return nil
}

func (s *gormStore) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	var r model.Reservation
	if err := s.conn(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err, "reservation %d", id)
	}
	return &r, nil
}

func (s *gormStore) SaveReservation(ctx context.Context, r *model.Reservation) error {
	if err := s.conn(ctx).Save(r).Error; err != nil {
		return fmt.Errorf("failed to save reservation %d: %w", r.ID, err)
	}
	return nil
}

func (s *gormStore) CountOverlapping(ctx context.Context, slotID int64, from, to time.Time) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&model.Reservation{}).
		Where("slot_id = ? AND status IN ?", slotID, model.BlockingStatuses).
		Where("starts_at < ? AND ends_at > ?", to, from).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count overlapping reservations on slot %d: %w", slotID, err)
	}
	return n, nil
}

func (s *gormStore) FindDue(ctx context.Context, slotID int64, now time.Time) (*model.Reservation, error) {
	var r model.Reservation
	err := s.conn(ctx).
		Where("slot_id = ? AND status IN ?", slotID, []model.ReservationStatus{model.StatusPending, model.StatusActive}).
		Where("starts_at <= ? AND ends_at > ?", now, now).
		Order("starts_at DESC").Order("id DESC").
		First(&r).Error
	return optional(&r, err, "due reservation on slot %d", slotID)
}

// FindCompletable has no upper bound on ends_at: leaving early completes.
func (s *gormStore) FindCompletable(ctx context.Context, slotID int64, now time.Time, tolerance time.Duration) (*model.Reservation, error) {
	var r model.Reservation
	err := s.conn(ctx).
		Where("slot_id = ? AND status = ? AND checked_in_at IS NOT NULL", slotID, model.StatusInUse).
		Where("starts_at <= ? AND ends_at >= ?", now, now.Add(-tolerance)).
		Order("checked_in_at DESC").Order("id DESC").
		First(&r).Error
	return optional(&r, err, "completable reservation on slot %d", slotID)
}

func (s *gormStore) HasImminent(ctx context.Context, slotID int64, now time.Time, lookAhead time.Duration) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&model.Reservation{}).
		Where("slot_id = ? AND status IN ?", slotID, model.BlockingStatuses).
		Where("starts_at <= ? AND ends_at > ?", now.Add(lookAhead), now).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check imminent reservations on slot %d: %w", slotID, err)
	}
	return n > 0, nil
}

func (s *gormStore) CodeExists(ctx context.Context, code string) (bool, error) {
	var n int64
	if err := s.conn(ctx).Model(&model.Reservation{}).Where("code = ?", code).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check reservation code: %w", err)
	}
	return n > 0, nil
}

func (s *gormStore) ListPendingCreatedBefore(ctx context.Context, before time.Time) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.conn(ctx).
		Where("status = ? AND created_at < ?", model.StatusPending, before).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reservations: %w", err)
	}
	return out, nil
}

// --- Waitlist ---

func (s *gormStore) FindOrCreateWaitlist(ctx context.Context, slotID int64, email string) (*model.WaitlistEntry, bool, error) {
	find := func(db *gorm.DB) *gorm.DB {
		return db.Where("slot_id = ? AND email = ? AND notified_at IS NULL", slotID, email)
	}

	entry := model.WaitlistEntry{SlotID: slotID, Email: email}
	res := find(s.conn(ctx)).FirstOrCreate(&entry)
	if res.Error == nil {
		return &entry, res.RowsAffected > 0, nil
	}

	// A concurrent subscriber won the insert; the partial unique index
	// rejected ours, so the row is there to be read.
	var existing model.WaitlistEntry
	if err := find(s.conn(ctx)).First(&existing).Error; err == nil {
		return &existing, false, nil
	}
	return nil, false, fmt.Errorf("failed to find or create waitlist entry for slot %d: %w", slotID, res.Error)
}

func (s *gormStore) PendingWaitlist(ctx context.Context, slotID int64) ([]model.WaitlistEntry, error) {
	var entries []model.WaitlistEntry
	err := s.conn(ctx).
		Where("slot_id = ? AND notified_at IS NULL", slotID).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch waitlist for slot %d: %w", slotID, err)
	}
	return entries, nil
}

func (s *gormStore) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	err := s.conn(ctx).Model(&model.WaitlistEntry{}).
		Where("id = ?", id).
		Update("notified_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to mark waitlist entry %d notified: %w", id, err)
	}
	return nil
}

func (s *gormStore) DeleteNotified(ctx context.Context, slotID int64) (int64, error) {
	res := s.conn(ctx).
		Where("slot_id = ? AND notified_at IS NOT NULL", slotID).
		Delete(&model.WaitlistEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clear notified waitlist for slot %d: %w", slotID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) PurgeNotifiedBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.conn(ctx).
		Where("notified_at IS NOT NULL AND notified_at < ?", before).
		Delete(&model.WaitlistEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge notified waitlist entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// --- Usage log ---

func (s *gormStore) AppendUsage(ctx context.Context, slotID int64, event string, at time.Time) error {
	entry := model.UsageLog{SlotID: slotID, Event: event, CreatedAt: at}
	if err := s.conn(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append usage log for slot %d: %w", slotID, err)
	}
	return nil
}

func (s *gormStore) UsageSince(ctx context.Context, since time.Time) ([]model.UsageLog, error) {
	var logs []model.UsageLog
	err := s.conn(ctx).
		Where("event = ? AND created_at >= ?", model.UsageEventUpdate, since).
		Order("created_at").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read usage logs: %w", err)
	}
	return logs, nil
}

// --- Push subscriptions ---

func (s *gormStore) UpsertPushSubscription(ctx context.Context, sub *model.PushSubscription, slotIDs []int64) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Omit("Slots").Create(sub).Error; err != nil {
			return fmt.Errorf("failed to upsert push subscription: %w", err)
		}

		var slots []*model.Slot
		if len(slotIDs) > 0 {
			if err := tx.Find(&slots, slotIDs).Error; err != nil {
				return fmt.Errorf("failed to load subscribed slots: %w", err)
			}
		}

		if err := tx.Model(sub).Association("Slots").Replace(slots); err != nil {
			return fmt.Errorf("failed to replace subscribed slots: %w", err)
		}
		return nil
	})
}

func (s *gormStore) GetPushSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.conn(ctx).Preload("Slots").First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, notFound(err, "push subscription")
	}
	return &sub, nil
}

func (s *gormStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	sub := model.PushSubscription{Endpoint: endpoint}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&sub).Association("Slots").Clear(); err != nil {
			return fmt.Errorf("failed to clear subscribed slots: %w", err)
		}
		if err := tx.Delete(&sub).Error; err != nil {
			return fmt.Errorf("failed to delete push subscription: %w", err)
		}
		return nil
	})
}

func (s *gormStore) PushSubscriptionsForSlot(ctx context.Context, slotID int64) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.conn(ctx).
		Joins("JOIN subscription_slot_mapping ssm ON ssm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("ssm.slot_id = ?", slotID).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch push subscriptions for slot %d: %w", slotID, err)
	}
	return subs, nil
}

// --- Helpers ---

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", fmt.Sprintf(format, args...), err)
}

func optional(r *model.Reservation, err error, format string, args ...any) (*model.Reservation, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", fmt.Sprintf(format, args...), err)
	}
	return r, nil
}
