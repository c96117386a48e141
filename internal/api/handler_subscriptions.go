package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"parking-status-backend/internal/apperr"
	"parking-status-backend/internal/model"
	"parking-status-backend/internal/store"
)

type putSubscriptionRequest struct {
	Endpoint        string  `json:"endpoint" binding:"required"`
	P256DH          string  `json:"p256dh" binding:"required"`
	Auth            string  `json:"auth" binding:"required"`
	SubscribedSlots []int64 `json:"subscribed_slots"`
}

// PutSubscription creates or replaces a push subscription and the set of
// slots it follows.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}

	sub := model.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}
	if err := h.push.UpsertPushSubscription(c.Request.Context(), &sub, req.SubscribedSlots); err != nil {
		fail(c, apperr.Store(err, "save push subscription"))
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription removes a push subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}

	if err := h.push.DeletePushSubscription(c.Request.Context(), req.Endpoint); err != nil {
		fail(c, apperr.Store(err, "delete push subscription"))
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam reads key without URL-decoding it. Push endpoints are
// themselves URLs and browsers send them unescaped.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription returns the slot ids a subscription follows.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		invalid(c, "endpoint is required")
		return
	}

	sub, err := h.push.GetPushSubscription(c.Request.Context(), raw)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, apperr.Wrap(apperr.KindNotFound, err, "subscription not found"))
		return
	}
	if err != nil {
		fail(c, apperr.Store(err, "load push subscription"))
		return
	}

	slotIDs := make([]int64, len(sub.Slots))
	for i, slot := range sub.Slots {
		slotIDs[i] = slot.ID
	}

	c.JSON(http.StatusOK, gin.H{"subscribed_slots": slotIDs})
}

// GetVAPIDPublicKey returns the VAPID public key browsers subscribe with.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		unavailable(c, "vapid keys are not configured")
		return
	}

	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}
