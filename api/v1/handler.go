package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"webtrack/internal/events"
	"webtrack/internal/tracking"
)

const (
	msgEventReceived    = "Data received successfully"
	msgLocalhostIgnored = "Localhost tracking is disabled for this website"
	errInvalidRequest   = "Invalid request"

	// MaxBatchSize bounds the number of events accepted in one request.
	MaxBatchSize = 100
)

// TrackHandler receives collector events.
type TrackHandler struct {
	service *tracking.Service
}

func NewTrackHandler(service *tracking.Service) *TrackHandler {
	return &TrackHandler{service: service}
}

// rejectedEvent reports one failed event of a batch.
type rejectedEvent struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Track handles POST /api/track with a single event object or an array of events.
func (h *TrackHandler) Track(ctx *cartridge.Context) error {
	body := bytes.TrimSpace(ctx.Body())
	meta := requestMeta(ctx.Ctx)

	if len(body) > 0 && body[0] == '[' {
		return h.trackBatch(ctx, body, meta)
	}

	var raw events.RawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		ctx.Logger.Debug("Failed to parse event", slog.Any("error", err))
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
	}

	err := h.service.Track(ctx.Ctx.UserContext(), raw, meta)
	if errors.Is(err, tracking.ErrLocalhostIgnored) {
		return ctx.Status(http.StatusOK).JSON(fiber.Map{
			"message": msgLocalhostIgnored,
		})
	}
	if err != nil {
		return trackError(ctx, err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"message": msgEventReceived,
		"data": fiber.Map{
			"type":      raw.Type,
			"websiteId": raw.WebsiteID,
			"visitorId": raw.VisitorID,
		},
	})
}

func (h *TrackHandler) trackBatch(ctx *cartridge.Context, body []byte, meta tracking.RequestMeta) error {
	var raws []events.RawEvent
	if err := json.Unmarshal(body, &raws); err != nil {
		ctx.Logger.Debug("Failed to parse event batch", slog.Any("error", err))
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
	}
	if len(raws) > MaxBatchSize {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusRequestEntityTooLarge, "Too many events in batch"))
	}

	errs := h.service.TrackBatch(ctx.Ctx.UserContext(), raws, meta)

	accepted := 0
	rejected := make([]rejectedEvent, 0)
	for i, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		rejected = append(rejected, rejectedEvent{Index: i, Error: err.Error()})
	}

	ctx.Logger.Debug("Processed event batch",
		slog.Int("accepted", accepted),
		slog.Int("rejected", len(rejected)))

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"accepted": accepted,
		"rejected": rejected,
	})
}

// trackError maps ingestion failures to responses.
func trackError(ctx *cartridge.Context, err error) error {
	switch {
	case errors.Is(err, events.ErrValidation):
		ctx.Logger.Debug("Rejected invalid event", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "INVALID_EVENT",
		})
	case errors.Is(err, tracking.ErrUnknownWebsite):
		ctx.Logger.Debug("Rejected event for unknown website", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Website not found - please register your domain first",
			"code":  "WEBSITE_NOT_FOUND",
		})
	}

	ctx.Logger.Error("Failed to collect event", slog.Any("error", err))
	if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
		return ctx.Status(599).JSON(fiber.Map{}) // custom status code
	}
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to collect event",
		"code":  "COLLECTION_ERROR",
	})
}

// requestMeta extracts the sender's address and user agent.
func requestMeta(c *fiber.Ctx) tracking.RequestMeta {
	userAgent := c.Get("User-Agent")
	if forwardedUA := c.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		userAgent = forwardedUA
	}
	return tracking.RequestMeta{
		IP:        clientIP(c),
		UserAgent: userAgent,
	}
}

func handleError(c *fiber.Ctx, err error) error {
	if fiberErr, ok := err.(*fiber.Error); ok {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
		})
	}

	return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
		"error": errInvalidRequest,
	})
}
