package api

import (
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parking-status-backend/internal/apperr"
	"parking-status-backend/internal/occupancy"
	"parking-status-backend/internal/reporting"
	"parking-status-backend/internal/reservation"
	"parking-status-backend/internal/store"
	"parking-status-backend/internal/waitlist"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	slots        *occupancy.Service
	reservations *reservation.Service
	waitlist     *waitlist.Service
	stats        *reporting.Service
	push         store.PushStore
	webpush      *webpush.Options
	log          *zerolog.Logger
}

// Deps lists what the handlers need. WebPush is nil when push notifications
// are disabled.
type Deps struct {
	Slots        *occupancy.Service
	Reservations *reservation.Service
	Waitlist     *waitlist.Service
	Stats        *reporting.Service
	Push         store.PushStore
	WebPush      *webpush.Options
	Log          *zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		slots:        d.Slots,
		reservations: d.Reservations,
		waitlist:     d.Waitlist,
		stats:        d.Stats,
		push:         d.Push,
		webpush:      d.WebPush,
		log:          d.Log,
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindNotFound:        http.StatusNotFound,
	apperr.KindInvalidInput:    http.StatusBadRequest,
	apperr.KindInvalidRange:    http.StatusBadRequest,
	apperr.KindInactive:        http.StatusNotFound,
	apperr.KindConflict:        http.StatusConflict,
	apperr.KindInvalidState:    http.StatusBadRequest,
	apperr.KindInvalidCode:     http.StatusForbidden,
	apperr.KindExpired:         http.StatusBadRequest,
	apperr.KindOutOfWindow:     http.StatusBadRequest,
	apperr.KindDeliveryFailure: http.StatusBadGateway,
	apperr.KindStoreFailure:    http.StatusInternalServerError,
}

// statusFor maps an error kind to its HTTP status. Errors without a kind are
// internal failures.
func statusFor(kind apperr.Kind) int {
	if code, ok := statusByKind[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// fail writes err as {"error": kind, "message": msg}. Internal failures hide
// the cause from the client and keep it in the access log.
func fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == "" {
		kind = apperr.KindStoreFailure
	}
	status := statusFor(kind)
	msg := apperr.Message(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		if kind == apperr.KindStoreFailure {
			msg = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, errorBody{Error: string(kind), Message: msg})
}

func invalid(c *gin.Context, format string, args ...any) {
	fail(c, apperr.New(apperr.KindInvalidInput, format, args...))
}

func unavailable(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody{
		Error:   "unavailable",
		Message: msg,
	})
}
