package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"parking-status-backend/internal/apperr"
	"parking-status-backend/internal/occupancy"
	"parking-status-backend/internal/parse"
	"parking-status-backend/internal/waitlist"
)

// ListSlots returns every slot, or only active ones with ?active=true.
func (h *Handler) ListSlots(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.Query("active"))
	slots, err := h.slots.List(c.Request.Context(), activeOnly)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

// GetSlot returns a single slot.
func (h *Handler) GetSlot(c *gin.Context) {
	id, ok := slotParam(c)
	if !ok {
		return
	}
	slot, err := h.slots.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

type createSlotRequest struct {
	Name string `json:"name"`
}

// CreateSlot registers a new slot.
func (h *Handler) CreateSlot(c *gin.Context) {
	var req createSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	slot, err := h.slots.CreateSlot(c.Request.Context(), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, slot)
}

// ActivateSlot puts a slot back into service.
func (h *Handler) ActivateSlot(c *gin.Context) {
	id, ok := slotParam(c)
	if !ok {
		return
	}
	slot, err := h.slots.Activate(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

// DeactivateSlot takes a slot out of service.
func (h *Handler) DeactivateSlot(c *gin.Context) {
	id, ok := slotParam(c)
	if !ok {
		return
	}
	slot, err := h.slots.Deactivate(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

type toggleItem struct {
	ID       int64 `json:"id"`
	Occupied *bool `json:"occupied"`
}

// UpdateOccupancy applies a batch of [{id, occupied}] toggles. Malformed items
// are reported alongside the applied ones instead of failing the batch.
func (h *Handler) UpdateOccupancy(c *gin.Context) {
	var items []toggleItem
	if err := c.ShouldBindJSON(&items); err != nil || len(items) == 0 {
		invalid(c, "expected a non-empty array of {id, occupied}")
		return
	}

	results := make([]occupancy.ToggleResult, len(items))
	toggles := make([]occupancy.Toggle, 0, len(items))
	positions := make([]int, 0, len(items))
	for i, it := range items {
		if it.ID <= 0 || it.Occupied == nil {
			results[i] = occupancy.ToggleResult{
				SlotID:  it.ID,
				Kind:    apperr.KindInvalidInput,
				Message: "each item needs a positive id and a boolean occupied",
			}
			continue
		}
		toggles = append(toggles, occupancy.Toggle{SlotID: it.ID, Occupied: *it.Occupied})
		positions = append(positions, i)
	}

	applied := h.slots.Apply(c.Request.Context(), toggles)
	for j, res := range applied {
		results[positions[j]] = res
	}

	allOK := true
	for _, res := range results {
		allOK = allOK && res.OK
	}
	c.JSON(http.StatusOK, gin.H{"ok": allOK, "results": results})
}

type notifyRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// NotifySlot either mails the caller now, when the slot is free, or adds them
// to the slot's waitlist.
func (h *Handler) NotifySlot(c *gin.Context) {
	id, ok := slotParam(c)
	if !ok {
		return
	}
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	res, err := h.waitlist.Subscribe(c.Request.Context(), waitlist.SubscribeRequest{
		SlotID:   id,
		Email:    req.Email,
		Name:     req.Name,
		Location: req.Location,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func slotParam(c *gin.Context) (int64, bool) {
	id, err := parse.ID(c.Param("id"))
	if err != nil {
		invalid(c, "invalid slot id")
		return 0, false
	}
	return id, true
}
