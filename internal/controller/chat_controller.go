package controller

import (
	"errors"
	"fmt"

	"random-chat-be/internal/dto"
	"random-chat-be/internal/pkg/serverutils"
	"random-chat-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

// TimerCounter exposes the live timer counts for the stats endpoint.
type TimerCounter interface {
	ActiveCounts() (search int, inactivity int)
}

// ConversationCounter exposes the number of live automation conversations.
type ConversationCounter interface {
	Count() int
}

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	GetState(ctx *fiber.Ctx) error
	GetStats(ctx *fiber.Ctx) error
	PostEvent(ctx *fiber.Ctx) error
}

type chatController struct {
	store         service.IStateStore
	timers        TimerCounter
	conversations ConversationCounter
	dispatcher    service.IInboundDispatcher
}

func NewChatController(
	store service.IStateStore,
	timers TimerCounter,
	conversations ConversationCounter,
	dispatcher service.IInboundDispatcher,
) IChatController {
	return &chatController{
		store:         store,
		timers:        timers,
		conversations: conversations,
		dispatcher:    dispatcher,
	}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	r.Get("/stats", c.GetStats)

	h := r.Group("/users")
	h.Get(":id/state", c.GetState)
	h.Post(":id/events", c.PostEvent)
}

func userIdParam(ctx *fiber.Ctx) (int64, error) {
	id, err := ctx.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "user id must be a positive integer")
	}
	return int64(id), nil
}

func (c *chatController) GetState(ctx *fiber.Ctx) error {
	userId, err := userIdParam(ctx)
	if err != nil {
		return err
	}

	state, err := c.store.GetState(ctx.UserContext(), userId)
	if err != nil {
		return err
	}
	partner, err := c.store.GetPartner(ctx.UserContext(), userId)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get user state", dto.UserStateResponse{
		UserId:  userId,
		State:   string(state),
		Partner: partner.String(),
	}))
}

func (c *chatController) GetStats(ctx *fiber.Ctx) error {
	counts, err := c.store.Stats(ctx.UserContext())
	if err != nil {
		return err
	}

	users := make(map[string]int64, len(counts))
	for state, n := range counts {
		users[string(state)] = n
	}
	search, inactivity := c.timers.ActiveCounts()

	return ctx.JSON(serverutils.SuccessResponse("Success get stats", dto.StatsResponse{
		Users:                  users,
		ActiveConversations:    c.conversations.Count(),
		ActiveSearchTimers:     search,
		ActiveInactivityTimers: inactivity,
	}))
}

// PostEvent accepts the same frame a websocket client sends and returns once it was handled.
func (c *chatController) PostEvent(ctx *fiber.Ctx) error {
	userId, err := userIdParam(ctx)
	if err != nil {
		return err
	}

	var req dto.InboundFrame
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
	}

	event, err := req.ToEvent(userId)
	if err != nil {
		if errors.Is(err, dto.ErrInvalidFrame) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return err
	}

	if err := c.dispatcher.Publish(ctx.UserContext(), event); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Event handled", nil))
}
