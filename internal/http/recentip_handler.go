package http

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"webtrack/internal/http/middleware"
	"webtrack/internal/sessions"
	"webtrack/internal/websites"
)

// RecentIPLimit is how many recent sessions are scanned for distinct IPs.
const RecentIPLimit = 20

// RecentIPHandler lists where a website's latest visitors came from.
type RecentIPHandler struct {
	store sessions.Store
}

func NewRecentIPHandler(store sessions.Store) *RecentIPHandler {
	return &RecentIPHandler{store: store}
}

// Index handles GET /api/recentip?websiteId=.
func (h *RecentIPHandler) Index(ctx *cartridge.Context) error {
	websiteID := strings.TrimSpace(ctx.Query("websiteId"))
	if websiteID == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "websiteId is required"})
	}

	owned, err := websites.ListByOwner(ctx.DBManager.GetConnection(), middleware.AccountID(ctx.Ctx), websiteID)
	if err != nil {
		ctx.Logger.Error("Failed to check website owner", slog.String("website_id", websiteID), slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch recent IPs"})
	}
	if len(owned) == 0 {
		return ctx.JSON([]sessions.RecentIP{})
	}

	ips, err := h.store.RecentIPs(ctx.Ctx.UserContext(), websiteID, RecentIPLimit)
	if err != nil {
		ctx.Logger.Error("Failed to fetch recent IPs", slog.String("website_id", websiteID), slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch recent IPs"})
	}
	return ctx.JSON(ips)
}
