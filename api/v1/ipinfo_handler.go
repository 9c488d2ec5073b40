package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"webtrack/internal/pkg/geoip"
)

// IPDetailer returns everything the lookup service knows about an address.
type IPDetailer interface {
	Details(ctx context.Context, ip string) (map[string]any, error)
}

// IPInfoHandler proxies single IP lookups for the dashboard.
type IPInfoHandler struct {
	lookup IPDetailer
}

func NewIPInfoHandler(lookup IPDetailer) *IPInfoHandler {
	return &IPInfoHandler{lookup: lookup}
}

// Show handles GET /api/ipinfo?ip=.
func (h *IPInfoHandler) Show(ctx *cartridge.Context) error {
	ip := strings.TrimSpace(ctx.Query("ip"))
	if ip == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "ip is required"})
	}

	details, err := h.lookup.Details(ctx.Ctx.UserContext(), ip)
	if err == nil {
		return ctx.Status(http.StatusOK).JSON(details)
	}

	var failed *geoip.LookupFailedError
	switch {
	case errors.As(err, &failed):
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": failed.Message})
	case errors.Is(err, geoip.ErrUpstreamUnavailable):
		ctx.Logger.Warn("IP lookup service unavailable", slog.String("ip", ip), slog.Any("error", err))
		return ctx.Status(http.StatusBadGateway).JSON(fiber.Map{"error": "Failed to reach IP lookup service"})
	}

	ctx.Logger.Error("IP lookup failed", slog.String("ip", ip), slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
}
