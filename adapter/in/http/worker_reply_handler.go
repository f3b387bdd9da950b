package http

import (
	in "inbox_worker/core/port/in"

	"github.com/gofiber/fiber/v2"
)

// ReplyHandler handles suggested reply routes.
type ReplyHandler struct {
	service in.ReplyService
}

func NewReplyHandler(service in.ReplyService) *ReplyHandler {
	return &ReplyHandler{service: service}
}

func (h *ReplyHandler) Register(router fiber.Router) {
	router.Post("/records/:id/replies", h.Suggest)
	router.Get("/records/:id/replies", h.List)
	router.Post("/replies/:id/used", h.MarkUsed)
}

// Suggest generates a grounded reply draft for a record.
// @Router /api/v1/records/{id}/replies [post]
func (h *ReplyHandler) Suggest(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	reply, err := h.service.Suggest(c.UserContext(), id)
	if err != nil {
		return err
	}
	return CreatedResponse(c, reply)
}

// @Router /api/v1/records/{id}/replies [get]
func (h *ReplyHandler) List(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	replies, err := h.service.ListForRecord(c.UserContext(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, fiber.Map{
		"replies": replies,
		"total":   len(replies),
	})
}

// @Router /api/v1/replies/{id}/used [post]
func (h *ReplyHandler) MarkUsed(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	reply, err := h.service.MarkUsed(c.UserContext(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, reply)
}
