package handler

import (
	"context"
	"strconv"

	"random-chat-be/internal/dto"
	"random-chat-be/internal/entity"
	"random-chat-be/internal/pkg/logger"
	"random-chat-be/internal/service"
	internalWS "random-chat-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type ChatHandler struct {
	dispatcher service.IInboundDispatcher
	hub        *internalWS.Hub
	logger     logger.ILogger
}

func NewChatHandler(dispatcher service.IInboundDispatcher, hub *internalWS.Hub, log logger.ILogger) *ChatHandler {
	return &ChatHandler{
		dispatcher: dispatcher,
		hub:        hub,
		logger:     log,
	}
}

// ServeWs upgrades GET /ws?user_id=N. Identity is the opaque id chosen by the client;
// authentication happens upstream.
func (h *ChatHandler) ServeWs(c *fiber.Ctx) error {
	userId, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userId <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Query 'user_id' must be a positive integer"})
	}

	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(func(conn *websocket.Conn) {
			h.logger.Info("ChatHandler", "Starting WebSocket session", map[string]interface{}{"user_id": userId})
			internalWS.ServeWs(h.hub, conn, userId, h.HandleFrame)
			h.logger.Info("ChatHandler", "WebSocket session ended", map[string]interface{}{"user_id": userId})
		})(c)
	}
	return fiber.ErrUpgradeRequired
}

// HandleFrame decodes one client frame and hands it to the dispatcher. It returns once
// the event has been handled, which keeps a connection's frames in order.
func (h *ChatHandler) HandleFrame(userId int64, data []byte) {
	event, err := decodeEvent(userId, data)
	if err != nil {
		h.logger.Warn("ChatHandler", "Rejected inbound frame", map[string]interface{}{
			"user_id": userId,
			"error":   err.Error(),
		})
		return
	}

	if err := h.dispatcher.Publish(context.Background(), event); err != nil {
		h.logger.Error("ChatHandler", "Failed to dispatch event", map[string]interface{}{
			"user_id": userId,
			"error":   err.Error(),
		})
	}
}

func decodeEvent(userId int64, data []byte) (entity.InboundEvent, error) {
	frame, err := dto.DecodeInboundFrame(data)
	if err != nil {
		return entity.InboundEvent{}, err
	}
	return frame.ToEvent(userId)
}

func (h *ChatHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/ws", h.ServeWs)
}
