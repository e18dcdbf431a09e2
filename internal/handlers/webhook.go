// Package handlers contains the echo HTTP handlers.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kaiwabot/kaiwa/internal/line"
)

// EventSink consumes parsed webhook events. Implemented by the inbound
// processor; HandleEvent must not block on completion work.
type EventSink interface {
	HandleEvent(ctx context.Context, ev line.Event)
}

// WebhookHandler receives the provider's webhook callbacks.
type WebhookHandler struct {
	logger        *slog.Logger
	channelSecret string
	sink          EventSink
}

// NewWebhookHandler builds the webhook endpoint.
func NewWebhookHandler(log *slog.Logger, channelSecret string, sink EventSink) *WebhookHandler {
	return &WebhookHandler{
		logger:        log.With(slog.String("handler", "webhook")),
		channelSecret: channelSecret,
		sink:          sink,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/callback", h.Callback)
}

// Callback verifies the signature, hands every event to the sink and
// acknowledges immediately. Event outcomes never change the status code:
// a non-200 would make the provider retry deliveries we already own.
func (h *WebhookHandler) Callback(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "read body failed"})
	}

	signature := c.Request().Header.Get("X-Line-Signature")
	if !line.ValidateSignature(h.channelSecret, body, signature) {
		h.logger.Warn("webhook signature rejected", slog.String("remote_ip", c.RealIP()))
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid signature"})
	}

	events, err := line.ParseEvents(body)
	if err != nil {
		h.logger.Warn("webhook body rejected", slog.Any("error", err))
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}

	ctx := c.Request().Context()
	for _, ev := range events {
		h.sink.HandleEvent(ctx, ev)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
