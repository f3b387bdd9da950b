package http

import (
	"strconv"
	"strings"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SuccessResponse sends a standardized JSON success response
func SuccessResponse(c *fiber.Ctx, data any) error {
	return c.JSON(envelope(c, data))
}

// CreatedResponse is SuccessResponse with 201.
func CreatedResponse(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(envelope(c, data))
}

// AcceptedResponse is SuccessResponse with 202.
func AcceptedResponse(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(envelope(c, data))
}

func envelope(c *fiber.Ctx, data any) APIResponse {
	requestID, _ := c.Locals("request_id").(string)
	return APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// paramID parses the :id route parameter.
func paramID(c *fiber.Ctx) (uuid.UUID, error) {
	if id, ok := c.Locals("id").(uuid.UUID); ok {
		return id, nil
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("id", "invalid UUID format")
	}
	return id, nil
}

// queryBool parses a boolean query parameter (returns nil if not present)
func queryBool(c *fiber.Ctx, key string) (*bool, error) {
	val := c.Query(key)
	if val == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return nil, apperr.InvalidInput(key, "must be true or false")
	}
	return &b, nil
}

// parseRecordFilter builds a record filter from query parameters. Unknown
// enum values are rejected rather than silently matching nothing.
func parseRecordFilter(c *fiber.Ctx) (*domain.RecordFilter, error) {
	filter := &domain.RecordFilter{
		Kind:     domain.RecordKind(strings.ToLower(c.Query("kind"))),
		Platform: domain.Platform(strings.ToLower(c.Query("platform"))),
		Category: domain.Category(strings.ToLower(c.Query("category"))),
		Status:   domain.ClassificationStatus(strings.ToLower(c.Query("status"))),
		Priority: domain.PriorityBucket(strings.ToLower(c.Query("priority"))),
		Search:   c.Query("q"),
		Limit:    c.QueryInt("limit", domain.DefaultRecordLimit),
		Offset:   c.QueryInt("offset", 0),
	}

	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, apperr.InvalidInput("kind", "must be message or email")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.InvalidInput("status", "unknown classification status")
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return nil, apperr.InvalidInput("priority", "must be high, medium or low")
	}

	var err error
	if filter.IsRead, err = queryBool(c, "read"); err != nil {
		return nil, err
	}
	if filter.IsFlagged, err = queryBool(c, "flagged"); err != nil {
		return nil, err
	}

	filter.Normalize()
	return filter, nil
}
