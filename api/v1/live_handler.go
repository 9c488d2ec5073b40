package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"webtrack/internal/events"
	"webtrack/internal/presence"
	"webtrack/internal/tracking"
)

const msgLiveRecorded = "Live user data recorded/updated successfully."

// LiveHandler records presence heartbeats and lists live visitors.
type LiveHandler struct {
	service *tracking.Service
	tracker presence.Tracker
	window  time.Duration
	now     func() time.Time
}

func NewLiveHandler(service *tracking.Service, tracker presence.Tracker, window time.Duration) *LiveHandler {
	if window <= 0 {
		window = presence.DefaultWindow
	}
	return &LiveHandler{service: service, tracker: tracker, window: window, now: time.Now}
}

// Record handles POST /api/live.
func (h *LiveHandler) Record(ctx *cartridge.Context) error {
	var raw events.RawEvent
	if err := json.Unmarshal(ctx.Body(), &raw); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"message": errInvalidRequest})
	}
	if strings.TrimSpace(raw.VisitorID) == "" || strings.TrimSpace(raw.WebsiteID) == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"message": "visitorId and websiteId are required"})
	}
	raw.Type = events.EventTypePing

	err := h.service.Track(ctx.Ctx.UserContext(), raw, requestMeta(ctx.Ctx))
	switch {
	case err == nil, errors.Is(err, tracking.ErrLocalhostIgnored):
		return ctx.Status(http.StatusOK).JSON(fiber.Map{"message": msgLiveRecorded})
	case errors.Is(err, events.ErrValidation):
		var validationErr *events.ValidationError
		if errors.As(err, &validationErr) && validationErr.Field == "last_seen" {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"message": "last_seen must be a valid timestamp"})
		}
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	case errors.Is(err, tracking.ErrUnknownWebsite):
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"message": "Website not found"})
	}

	ctx.Logger.Error("Failed to record live user", slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to record live user"})
}

// Active handles GET /api/live?websiteId=.
func (h *LiveHandler) Active(ctx *cartridge.Context) error {
	websiteID := strings.TrimSpace(ctx.Query("websiteId"))
	if websiteID == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"message": "websiteId is required"})
	}

	active, err := h.tracker.ListActive(ctx.Ctx.UserContext(), websiteID, h.now().UnixMilli(), h.window)
	if err != nil {
		ctx.Logger.Error("Failed to list live users",
			slog.String("website_id", websiteID),
			slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch live users"})
	}
	if active == nil {
		active = []presence.Entry{}
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"activeUsers": active})
}
