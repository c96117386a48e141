package occupancy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-status-backend/internal/apperr"
	"parking-status-backend/internal/events"
	"parking-status-backend/internal/model"
)

func TestService_CreateSlot(t *testing.T) {
	h := newHarness(t)
	svc := NewService(h.st, h.rec)
	ctx := context.Background()

	slot, err := svc.CreateSlot(ctx, "  North 1 ")
	require.NoError(t, err)
	assert.Equal(t, "North 1", slot.Name)
	assert.True(t, slot.Active)
	assert.False(t, slot.Occupied)
	assert.Equal(t, []string{events.TopicSlotUpdated}, h.sink.Topics())

	_, err = svc.CreateSlot(ctx, "   ")
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))

	_, err = svc.CreateSlot(ctx, strings.Repeat("x", 61))
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
}

func TestService_ListAndGet(t *testing.T) {
	h := newHarness(t)
	svc := NewService(h.st, h.rec)
	ctx := context.Background()

	h.slot(t, false, true)
	off := h.slot(t, false, false)

	all, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	got, err := svc.Get(ctx, off.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = svc.Get(ctx, 999)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestService_ActivateCascades(t *testing.T) {
	h := newHarness(t)
	svc := NewService(h.st, h.rec)
	ctx := context.Background()
	slot := h.slot(t, false, false)

	got, err := svc.Activate(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, int32(1), h.cascade.calls)

	// Already active: nothing to cascade.
	_, err = svc.Activate(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.cascade.calls)
	assert.Equal(t, []string{events.TopicSlotUpdated, events.TopicSlotUpdated}, h.sink.Topics())
}

func TestService_ActivateGuards(t *testing.T) {
	t.Run("occupied slot", func(t *testing.T) {
		h := newHarness(t)
		svc := NewService(h.st, h.rec)
		slot := h.slot(t, true, false)
		_, err := svc.Activate(context.Background(), slot.ID)
		require.NoError(t, err)
		assert.Zero(t, h.cascade.calls)
	})

	t.Run("imminent reservation", func(t *testing.T) {
		h := newHarness(t)
		svc := NewService(h.st, h.rec)
		slot := h.slot(t, false, false)
		h.reservation(t, slot.ID, 2*time.Minute, time.Hour, model.StatusPending, nil)
		_, err := svc.Activate(context.Background(), slot.ID)
		require.NoError(t, err)
		assert.Zero(t, h.cascade.calls)
	})
}

func TestService_Deactivate(t *testing.T) {
	h := newHarness(t)
	svc := NewService(h.st, h.rec)
	ctx := context.Background()
	slot := h.slot(t, false, true)

	got, err := svc.Deactivate(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	stored, err := h.st.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Zero(t, h.cascade.calls)

	_, err = svc.Deactivate(ctx, 12345)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
