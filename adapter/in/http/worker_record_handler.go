package http

import (
	"inbox_worker/core/domain"
	in "inbox_worker/core/port/in"
	"inbox_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RecordHandler handles HTTP requests for record ingestion and queries.
type RecordHandler struct {
	service in.RecordService
}

// NewRecordHandler creates a new RecordHandler
func NewRecordHandler(service in.RecordService) *RecordHandler {
	return &RecordHandler{service: service}
}

// Register registers record routes. ingest runs in front of POST /records,
// typically the rate limiter.
func (h *RecordHandler) Register(router fiber.Router, ingest ...fiber.Handler) {
	records := router.Group("/records")

	records.Post("/", append(ingest, h.Ingest)...)
	records.Get("/", h.List)
	records.Get("/:id", h.Get)
	records.Post("/:id/read", h.MarkRead)
	records.Post("/:id/flag", h.ToggleFlag)
	records.Post("/:id/classify", h.Classify)
}

type ingestResponse struct {
	ID     uuid.UUID                   `json:"id"`
	Status domain.ClassificationStatus `json:"status"`
}

// Ingest stores a record and schedules its classification.
// @Router /api/v1/records [post]
func (h *RecordHandler) Ingest(c *fiber.Ctx) error {
	var req in.IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	rec, err := h.service.Ingest(c.UserContext(), &req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, ingestResponse{ID: rec.ID, Status: rec.Status})
}

// List queries records, newest first.
// @Param kind query string false "message or email"
// @Param category query string false "Filter by category"
// @Param platform query string false "Filter by platform"
// @Param status query string false "Filter by classification status"
// @Param read query bool false "Filter by read state"
// @Param flagged query bool false "Filter by flag"
// @Param priority query string false "high, medium or low"
// @Param q query string false "Text search"
// @Param limit query int false "Limit (default 50)"
// @Param offset query int false "Offset"
// @Router /api/v1/records [get]
func (h *RecordHandler) List(c *fiber.Ctx) error {
	filter, err := parseRecordFilter(c)
	if err != nil {
		return err
	}

	page, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return SuccessResponse(c, page)
}

// @Router /api/v1/records/{id} [get]
func (h *RecordHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	rec, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, rec)
}

// MarkRead sets the read state. ?read=false marks the record unread.
// @Router /api/v1/records/{id}/read [post]
func (h *RecordHandler) MarkRead(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	read := true
	if v, err := queryBool(c, "read"); err != nil {
		return err
	} else if v != nil {
		read = *v
	}

	rec, err := h.service.MarkRead(c.UserContext(), id, read)
	if err != nil {
		return err
	}
	return SuccessResponse(c, rec)
}

// @Router /api/v1/records/{id}/flag [post]
func (h *RecordHandler) ToggleFlag(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	rec, err := h.service.ToggleFlag(c.UserContext(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, rec)
}

// Classify schedules a manual re-dispatch. Without force a classified record
// is left unchanged by the worker.
// @Param force query bool false "Re-classify even if already classified"
// @Router /api/v1/records/{id}/classify [post]
func (h *RecordHandler) Classify(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	force := c.QueryBool("force", false)

	if err := h.service.Redispatch(c.UserContext(), id, force); err != nil {
		return err
	}
	return AcceptedResponse(c, fiber.Map{
		"id":        id,
		"scheduled": true,
		"force":     force,
	})
}
