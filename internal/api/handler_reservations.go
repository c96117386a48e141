package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"parking-status-backend/internal/model"
	"parking-status-backend/internal/parse"
	"parking-status-backend/internal/reservation"
)

type createReservationRequest struct {
	SlotID          int64  `json:"slotId"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	From            string `json:"from"`
	To              string `json:"to"`
	ValidityMinutes int    `json:"validityMinutes"`
}

type reservationResponse struct {
	*model.Reservation
	CodeExpiresAt *time.Time `json:"codeExpiresAt,omitempty"`
}

func newReservationResponse(r *model.Reservation) reservationResponse {
	out := reservationResponse{Reservation: r}
	if r.Status == model.StatusPending {
		exp := r.Meta.Data().CodeExpiresAt
		out.CodeExpiresAt = &exp
	}
	return out
}

// CreateReservation reserves a window on a slot and mails a confirmation code.
func (h *Handler) CreateReservation(c *gin.Context) {
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	from, ok := optionalTime(c, "from", req.From)
	if !ok {
		return
	}
	to, ok := optionalTime(c, "to", req.To)
	if !ok {
		return
	}

	r, err := h.reservations.Create(c.Request.Context(), reservation.CreateRequest{
		SlotID:          req.SlotID,
		Email:           req.Email,
		Name:            req.Name,
		From:            from,
		To:              to,
		ValidityMinutes: req.ValidityMinutes,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newReservationResponse(r))
}

// GetReservation returns a reservation without its code.
func (h *Handler) GetReservation(c *gin.Context) {
	id, ok := reservationParam(c)
	if !ok {
		return
	}
	r, err := h.reservations.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newReservationResponse(r))
}

type codeRequest struct {
	Code string `json:"code"`
}

type codeAction func(ctx context.Context, id int64, code string) (*model.Reservation, error)

// withCode adapts a code-bearing reservation command to a handler taking
// {"code": "..."}.
func withCode(action codeAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := reservationParam(c)
		if !ok {
			return
		}
		var req codeRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
			invalid(c, "code is required")
			return
		}
		r, err := action(c.Request.Context(), id, req.Code)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, newReservationResponse(r))
	}
}

// Availability answers whether ?slotId=&from=&to= is free.
func (h *Handler) Availability(c *gin.Context) {
	slotID, err := parse.ID(c.Query("slotId"))
	if err != nil {
		invalid(c, "slotId, from and to are required")
		return
	}
	from, to, err := parse.Window(c.Query("from"), c.Query("to"))
	if err != nil {
		invalid(c, "%v", err)
		return
	}
	free, err := h.reservations.Availability(c.Request.Context(), slotID, from, to)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slotId": slotID, "from": from, "to": to, "available": free})
}

func reservationParam(c *gin.Context) (int64, bool) {
	id, err := parse.ID(c.Param("id"))
	if err != nil {
		invalid(c, "invalid reservation id")
		return 0, false
	}
	return id, true
}

// optionalTime parses raw when present. Missing values are left zero for the
// service to reject.
func optionalTime(c *gin.Context, field, raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	t, err := parse.Timestamp(raw)
	if err != nil {
		invalid(c, "%s: %v", field, err)
		return time.Time{}, false
	}
	return t, true
}
