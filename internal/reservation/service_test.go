package reservation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-status-backend/config"
	"parking-status-backend/internal/apperr"
	"parking-status-backend/internal/logging"
	"parking-status-backend/internal/model"
	"parking-status-backend/internal/notification"
	"parking-status-backend/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingGateway struct {
	mu   sync.Mutex
	sent []notification.Message
	err  error
}

func (g *recordingGateway) Send(_ context.Context, msg notification.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.sent = append(g.sent, msg)
	return nil
}

func (g *recordingGateway) Sent() []notification.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]notification.Message(nil), g.sent...)
}

type fixture struct {
	svc   *Service
	store store.Store
	gw    *recordingGateway
	clock *fakeClock
	slot  *model.Slot
	t0    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, _ := store.NewSQLiteTest(t)
	slot := &model.Slot{Name: "S1", Active: true}
	require.NoError(t, st.CreateSlot(context.Background(), slot))

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: t0}
	gw := &recordingGateway{}
	cfg := config.ReservationConfig{CodeValidityMinutes: 10, CodeLength: 6, CodeMaxAttempts: 5}
	svc := NewService(st, gw, cfg, "https://parking.example/confirm", logging.Nop()).WithClock(clock.Now)
	return &fixture{svc: svc, store: st, gw: gw, clock: clock, slot: slot, t0: t0}
}

func (f *fixture) create(t *testing.T, from, to time.Duration) *model.Reservation {
	t.Helper()
	r, err := f.svc.Create(context.Background(), CreateRequest{
		SlotID: f.slot.ID, Email: "a@x.com", From: f.t0.Add(from), To: f.t0.Add(to),
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) code(t *testing.T, id int64) string {
	t.Helper()
	r, err := f.store.GetReservation(context.Background(), id)
	require.NoError(t, err)
	return r.Code
}

func TestCreate_ConflictScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.create(t, time.Hour, 2*time.Hour)
	assert.Equal(t, model.StatusPending, r.Status)
	assert.Len(t, r.Code, 6)
	assert.Equal(t, f.t0.Add(10*time.Minute), r.Meta.Data().CodeExpiresAt)

	sent := f.gw.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "a@x.com", sent[0].To)
	assert.Contains(t, sent[0].Text, r.Code)
	assert.Contains(t, sent[0].HTML, "id=")

	_, err := f.svc.Create(ctx, CreateRequest{
		SlotID: f.slot.ID, Email: "b@x.com",
		From: f.t0.Add(90 * time.Minute), To: f.t0.Add(105 * time.Minute),
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

	// Touching windows share no instant.
	f.create(t, 2*time.Hour, 3*time.Hour)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inactive := &model.Slot{Name: "off"}
	require.NoError(t, f.store.CreateSlot(ctx, inactive))
	inactive.Active = false
	require.NoError(t, f.store.SaveSlot(ctx, inactive))

	testCases := []struct {
		name string
		req  CreateRequest
		kind apperr.Kind
	}{
		{name: "bad email", req: CreateRequest{SlotID: f.slot.ID, Email: "nope", From: f.t0, To: f.t0.Add(time.Hour)}, kind: apperr.KindInvalidInput},
		{name: "missing times", req: CreateRequest{SlotID: f.slot.ID, Email: "a@x.com"}, kind: apperr.KindInvalidInput},
		{name: "inverted range", req: CreateRequest{SlotID: f.slot.ID, Email: "a@x.com", From: f.t0.Add(time.Hour), To: f.t0}, kind: apperr.KindInvalidRange},
		{name: "empty range", req: CreateRequest{SlotID: f.slot.ID, Email: "a@x.com", From: f.t0, To: f.t0}, kind: apperr.KindInvalidRange},
		{name: "missing slot", req: CreateRequest{SlotID: 999, Email: "a@x.com", From: f.t0, To: f.t0.Add(time.Hour)}, kind: apperr.KindNotFound},
		{name: "oversized validity", req: CreateRequest{SlotID: f.slot.ID, Email: "a@x.com", From: f.t0, To: f.t0.Add(time.Hour), ValidityMinutes: 200_000_000}, kind: apperr.KindInvalidInput},
		{name: "validity just above the cap", req: CreateRequest{SlotID: f.slot.ID, Email: "a@x.com", From: f.t0, To: f.t0.Add(time.Hour), ValidityMinutes: config.DefaultMaxCodeValidityMinutes + 1}, kind: apperr.KindInvalidInput},
		{name: "inactive slot", req: CreateRequest{SlotID: inactive.ID, Email: "a@x.com", From: f.t0, To: f.t0.Add(time.Hour)}, kind: apperr.KindInactive},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
	assert.Empty(t, f.gw.Sent())
}

func TestCreate_ValidityAtTheCapStillConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Create(ctx, CreateRequest{
		SlotID: f.slot.ID, Email: "a@x.com", From: f.t0.Add(30 * time.Hour), To: f.t0.Add(31 * time.Hour),
		ValidityMinutes: config.DefaultMaxCodeValidityMinutes,
	})
	require.NoError(t, err)
	assert.Equal(t, f.t0.Add(24*time.Hour), r.Meta.Data().CodeExpiresAt.UTC())

	f.clock.Advance(23 * time.Hour)
	got, err := f.svc.Confirm(ctx, r.ID, f.code(t, r.ID))
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
}

func TestCreate_EmailIsNormalized(t *testing.T) {
	f := newFixture(t)
	r, err := f.svc.Create(context.Background(), CreateRequest{
		SlotID: f.slot.ID, Email: "  Ana@Example.COM ", Name: " Ana ", From: f.t0, To: f.t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", r.Email)
	assert.Equal(t, "Ana", r.Name)
}

func TestCreate_DeliveryFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.gw.err = errors.New("smtp down")
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateRequest{SlotID: f.slot.ID, Email: "a@x.com", From: f.t0.Add(time.Hour), To: f.t0.Add(2 * time.Hour)})
	assert.True(t, apperr.Is(err, apperr.KindDeliveryFailure), "got %v", err)

	n, err := f.store.CountOverlapping(ctx, f.slot.ID, f.t0, f.t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "no orphan pending reservation")

	// The window is free again once delivery works.
	f.gw.err = nil
	f.create(t, time.Hour, 2*time.Hour)
}

func TestCreate_ConcurrentOverlapOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(ctx, CreateRequest{
				SlotID: f.slot.ID, Email: "a@x.com",
				From: f.t0.Add(time.Hour + time.Duration(i)*time.Minute), To: f.t0.Add(2 * time.Hour),
			})
		}(i)
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.KindConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()

	t.Run("before the window becomes active", func(t *testing.T) {
		f := newFixture(t)
		r := f.create(t, time.Hour, 2*time.Hour)
		got, err := f.svc.Confirm(ctx, r.ID, f.code(t, r.ID))
		require.NoError(t, err)
		assert.Equal(t, model.StatusActive, got.Status)
		require.NotNil(t, got.ConfirmedAt)
		assert.Nil(t, got.CheckedInAt)
	})

	t.Run("inside the window becomes in_use", func(t *testing.T) {
		f := newFixture(t)
		r := f.create(t, -5*time.Minute, time.Hour)
		got, err := f.svc.Confirm(ctx, r.ID, strings.ToLower(f.code(t, r.ID)))
		require.NoError(t, err)
		assert.Equal(t, model.StatusInUse, got.Status)
		assert.NotNil(t, got.CheckedInAt)
	})

	t.Run("wrong code counts the attempt", func(t *testing.T) {
		f := newFixture(t)
		r := f.create(t, time.Hour, 2*time.Hour)
		for i := 0; i < 2; i++ {
			_, err := f.svc.Confirm(ctx, r.ID, "ZZZZZZ")
			assert.True(t, apperr.Is(err, apperr.KindInvalidCode), "got %v", err)
		}
		stored, err := f.store.GetReservation(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, stored.Status)
		assert.Equal(t, 2, stored.Meta.Data().CodeAttempts)
	})

	t.Run("expired code leaves it pending", func(t *testing.T) {
		f := newFixture(t)
		r := f.create(t, time.Hour, 2*time.Hour)
		f.clock.Advance(11 * time.Minute)
		_, err := f.svc.Confirm(ctx, r.ID, f.code(t, r.ID))
		assert.True(t, apperr.Is(err, apperr.KindExpired), "got %v", err)

		stored, err := f.store.GetReservation(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, stored.Status)
	})

	t.Run("only pending can be confirmed", func(t *testing.T) {
		f := newFixture(t)
		r := f.create(t, time.Hour, 2*time.Hour)
		code := f.code(t, r.ID)
		_, err := f.svc.Confirm(ctx, r.ID, code)
		require.NoError(t, err)
		_, err = f.svc.Confirm(ctx, r.ID, code)
		assert.True(t, apperr.Is(err, apperr.KindInvalidState), "got %v", err)
	})

	t.Run("missing reservation", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Confirm(ctx, 4242, "ABCDEF")
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
	})
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, time.Hour, 2*time.Hour)
	code := f.code(t, r.ID)

	_, err := f.svc.Cancel(ctx, r.ID, "WRONG1")
	assert.True(t, apperr.Is(err, apperr.KindInvalidCode), "got %v", err)

	got, err := f.svc.Cancel(ctx, r.ID, code)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.NotNil(t, got.CanceledAt)

	_, err = f.svc.Cancel(ctx, r.ID, code)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "got %v", err)

	// A cancelled reservation frees its window.
	f.create(t, time.Hour, 2*time.Hour)
}

func TestCheckin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, time.Hour, 2*time.Hour)
	code := f.code(t, r.ID)

	_, err := f.svc.Checkin(ctx, r.ID, "WRONG1")
	assert.True(t, apperr.Is(err, apperr.KindInvalidCode), "got %v", err)

	_, err = f.svc.Checkin(ctx, r.ID, code)
	assert.True(t, apperr.Is(err, apperr.KindOutOfWindow), "got %v", err)

	f.clock.Advance(70 * time.Minute)
	_, err = f.svc.Checkin(ctx, r.ID, code)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "pending needs confirmation first, got %v", err)

	f.clock.Advance(-65 * time.Minute)
	_, err = f.svc.Confirm(ctx, r.ID, code)
	require.NoError(t, err)

	f.clock.Advance(65 * time.Minute)
	got, err := f.svc.Checkin(ctx, r.ID, code)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInUse, got.Status)
	assert.Equal(t, f.clock.Now(), *got.CheckedInAt)
}

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, time.Hour, 2*time.Hour)

	free, err := f.svc.Availability(ctx, f.slot.ID, f.t0.Add(90*time.Minute), f.t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.False(t, free)

	free, err = f.svc.Availability(ctx, f.slot.ID, f.t0.Add(2*time.Hour), f.t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, free)

	_, err = f.svc.Availability(ctx, 999, f.t0, f.t0.Add(time.Hour))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.Availability(ctx, f.slot.ID, f.t0.Add(time.Hour), f.t0)
	assert.True(t, apperr.Is(err, apperr.KindInvalidRange))
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, time.Hour, 2*time.Hour)

	expired, err := f.svc.ExpireStale(ctx, r.ID, f.t0)
	require.NoError(t, err)
	assert.False(t, expired, "code still valid at cutoff")

	expired, err = f.svc.ExpireStale(ctx, r.ID, f.t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, expired)

	stored, err := f.store.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, stored.Status)
}
