package middleware

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"inbox_worker/core/domain"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type denyAll struct{ wait time.Duration }

func (d denyAll) Allow(context.Context, string) (bool, time.Duration) { return false, d.wait }

func newTestApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(RequestID())
	return app
}

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestErrorHandlerMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", domain.ErrNotFound, 404, "NOT_FOUND"},
		{"in flight", domain.ErrAlreadyInFlight, 409, "ALREADY_IN_FLIGHT"},
		{"validation", domain.NewValidationError("content", "must not be empty"), 400, "VALIDATION_FAILED"},
		{"fiber error", fiber.NewError(fiber.StatusMethodNotAllowed, "nope"), 405, "METHOD_NOT_ALLOWED"},
		{"unknown", io.ErrUnexpectedEOF, 500, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp()
			app.Get("/", func(c *fiber.Ctx) error { return tt.err })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			body := decodeError(t, resp.Body)
			if body.Success {
				t.Error("success = true")
			}
			if body.Error.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.code)
			}
			if body.RequestID == "" {
				t.Error("request id missing")
			}
		})
	}
}

func TestErrorHandlerHidesInternalMessage(t *testing.T) {
	app := newTestApp()
	app.Get("/", func(c *fiber.Ctx) error { return io.ErrUnexpectedEOF })

	resp, _ := app.Test(httptest.NewRequest("GET", "/", nil))
	body := decodeError(t, resp.Body)
	if strings.Contains(body.Error.Message, "EOF") {
		t.Errorf("internal error leaked: %q", body.Error.Message)
	}
}

func TestRateLimit(t *testing.T) {
	app := newTestApp()
	app.Post("/records", RateLimit(denyAll{wait: 1500 * time.Millisecond}, "ingest"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	resp, err := app.Test(httptest.NewRequest("POST", "/records", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if got := resp.Header.Get(fiber.HeaderRetryAfter); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	body := decodeError(t, resp.Body)
	if body.Error.Code != "RATE_LIMITED" {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestRequireJSON(t *testing.T) {
	app := newTestApp()
	app.Use(RequireJSON())
	app.Post("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
	}{
		{"json", "application/json", `{}`, 200},
		{"json with charset", "application/json; charset=utf-8", `{}`, 200},
		{"form", "application/x-www-form-urlencoded", "a=b", 415},
		{"empty body", "", "", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestValidateUUID(t *testing.T) {
	app := newTestApp()
	app.Get("/records/:id", ValidateUUID("id"), func(c *fiber.Ctx) error {
		id := c.Locals("id").(uuid.UUID)
		return c.SendString(id.String())
	})

	id := uuid.New()
	resp, _ := app.Test(httptest.NewRequest("GET", "/records/"+id.String(), nil))
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got, _ := io.ReadAll(resp.Body)
	if string(got) != id.String() {
		t.Errorf("body = %q", got)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/records/not-a-uuid", nil))
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
