package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/telflow/telflow/cmd/engine/service"
)

// EventHandler serves inbound provider callbacks.
type EventHandler struct {
	events *service.EventService
}

func NewEventHandler(events *service.EventService) *EventHandler {
	return &EventHandler{events: events}
}

// USSD handles a session callback from the gateway.
// POST /api/v1/events/ussd
func (h *EventHandler) USSD(c echo.Context) error {
	var ev service.USSDEvent
	if err := c.Bind(&ev); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	}
	if ev.SessionID == "" || ev.PhoneNumber == "" {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "session_id and phone_number are required"))
	}

	dispatched, err := h.events.HandleUSSD(c.Request().Context(), ev)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"dispatched": dispatched})
}

// SMS handles an inbound message callback.
// POST /api/v1/events/sms
func (h *EventHandler) SMS(c echo.Context) error {
	var ev service.SMSEvent
	if err := c.Bind(&ev); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	}
	if ev.From == "" {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "from is required"))
	}

	dispatched, err := h.events.HandleSMS(c.Request().Context(), ev)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"dispatched": dispatched})
}

// Voice handles an incoming-call callback.
// POST /api/v1/events/voice
func (h *EventHandler) Voice(c echo.Context) error {
	var ev service.VoiceEvent
	if err := c.Bind(&ev); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	}
	if ev.SessionID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "session_id is required"))
	}

	dispatched, err := h.events.HandleVoice(c.Request().Context(), ev)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"dispatched": dispatched})
}

// Payment handles a mobile-money notification.
// POST /api/v1/events/payment
func (h *EventHandler) Payment(c echo.Context) error {
	var ev service.PaymentEvent
	if err := c.Bind(&ev); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	}
	if ev.TransactionID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "transaction_id is required"))
	}

	dispatched, err := h.events.HandlePayment(c.Request().Context(), ev)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"dispatched": dispatched})
}

// Webhook fans a request out to workflows registered on the wildcard path.
// ANY /api/v1/webhooks/*
func (h *EventHandler) Webhook(c echo.Context) error {
	var body map[string]any
	_ = c.Bind(&body)

	path := "/" + c.Param("*")
	token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")

	dispatched, unauthorized, err := h.events.HandleWebhook(c.Request().Context(), c.Request().Method, path, token, body)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
	}
	if len(dispatched) == 0 {
		if unauthorized {
			return c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "webhook token rejected"))
		}
		return c.JSON(http.StatusNotFound, errorBody("webhook_not_found", "no workflow registered on this path"))
	}
	return c.JSON(http.StatusOK, map[string]any{"dispatched": dispatched})
}
