package http

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"webtrack/internal/analytics"
	"webtrack/internal/http/middleware"
	"webtrack/internal/sessions"
	"webtrack/internal/timeframe"
	"webtrack/internal/websites"
)

// aggregationWorkers bounds concurrent per-site aggregation for one request.
const aggregationWorkers = 4

// WebsiteStats pairs a website with its statistics for the requested range.
type WebsiteStats struct {
	Website   websites.Website  `json:"website"`
	Analytics *analytics.Result `json:"analytics"`
}

type createWebsiteParams struct {
	WebsiteID               string `json:"websiteId"`
	Domain                  string `json:"domain"`
	TimeZone                string `json:"timeZone"`
	EnableLocalhostTracking bool   `json:"enableLocalhostTracking"`
}

// WebsitesHandler serves the account-scoped website API.
type WebsitesHandler struct {
	aggregator      *analytics.Aggregator
	cascades        []websites.Cascade
	defaultTimeZone string
	parser          *timeframe.DateRangeParser
	now             func() time.Time
}

func NewWebsitesHandler(aggregator *analytics.Aggregator, cascades []websites.Cascade, defaultTimeZone string, timeProvider ...timeframe.TimeProvider) *WebsitesHandler {
	return &WebsitesHandler{
		aggregator:      aggregator,
		cascades:        cascades,
		defaultTimeZone: defaultTimeZone,
		parser:          timeframe.NewDateRangeParser(timeProvider...),
		now:             time.Now,
	}
}

// Index handles GET /api/website. Unknown or foreign website ids yield [].
func (h *WebsitesHandler) Index(ctx *cartridge.Context) error {
	accountID := middleware.AccountID(ctx.Ctx)
	websiteID := strings.TrimSpace(ctx.Query("websiteId"))

	sites, err := websites.ListByOwner(ctx.DBManager.GetConnection(), accountID, websiteID)
	if err != nil {
		ctx.Logger.Error("Failed to list websites", slog.String("account_id", accountID), slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to fetch websites"})
	}
	if sites == nil {
		sites = []websites.Website{}
	}

	if ctx.QueryBool("websiteOnly") {
		return ctx.JSON(sites)
	}

	queries := make([]analytics.SiteQuery, len(sites))
	for i := range sites {
		tz := websites.ResolveTimeZone(ctx.Logger, &sites[i], h.defaultTimeZone)
		r, err := h.requestedRange(ctx, tz)
		if err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
		}
		queries[i] = analytics.SiteQuery{WebsiteID: sites[i].WebsiteID, Range: r, TimeZone: tz}
	}

	results := h.aggregator.AggregateWebsites(ctx.Ctx.UserContext(), queries, aggregationWorkers)

	stats := make([]WebsiteStats, len(sites))
	for i := range sites {
		stats[i] = WebsiteStats{Website: sites[i], Analytics: results[i]}
	}
	return ctx.JSON(stats)
}

// requestedRange reads range=24h or the civil from/to dates in the site's zone.
func (h *WebsitesHandler) requestedRange(ctx *cartridge.Context, tz string) (*sessions.Range, error) {
	if ctx.Query("range") == "24h" {
		now := h.now()
		return &sessions.Range{FromMs: now.Add(-24 * time.Hour).UnixMilli(), ToMs: now.UnixMilli()}, nil
	}

	dr, err := h.parser.ParseDateRange(timeframe.DateRangeParserParams{
		FromDate: ctx.Query("from"),
		ToDate:   ctx.Query("to"),
		Tz:       tz,
	})
	if err != nil || dr == nil {
		return nil, err
	}
	return &sessions.Range{FromMs: dr.FromMs, ToMs: dr.ToMs}, nil
}

// Create handles POST /api/website.
func (h *WebsitesHandler) Create(ctx *cartridge.Context) error {
	var params createWebsiteParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request"})
	}
	if strings.TrimSpace(params.Domain) == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Domain is required"})
	}

	timeZone := params.TimeZone
	if timeZone == "" {
		timeZone = h.defaultTimeZone
	}

	website := &websites.Website{
		WebsiteID:      strings.TrimSpace(params.WebsiteID),
		OwnerID:        middleware.AccountID(ctx.Ctx),
		Domain:         params.Domain,
		TimeZone:       timeZone,
		TrackLocalhost: params.EnableLocalhostTracking,
	}

	created, err := websites.CreateWebsite(ctx.Logger, ctx.DBManager.GetConnection(), website)
	switch {
	case errors.Is(err, websites.ErrDomainExists):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Domain already exists!",
			"data":    created,
		})
	case errors.Is(err, websites.ErrInvalidTimeZone):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	case err != nil:
		ctx.Logger.Error("Failed to create website", slog.String("domain", params.Domain), slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to create website"})
	}

	ctx.Logger.Info("Website created",
		slog.String("website_id", created.WebsiteID),
		slog.String("domain", created.Domain))
	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Website created successfully",
		"data":    created,
	})
}

// Delete handles DELETE /api/website/:websiteId, removing its sessions and presence first.
func (h *WebsitesHandler) Delete(ctx *cartridge.Context) error {
	websiteID := ctx.Params("websiteId")
	accountID := middleware.AccountID(ctx.Ctx)

	err := websites.DeleteWebsite(ctx.Ctx.UserContext(), ctx.Logger, ctx.DBManager.GetConnection(), accountID, websiteID, h.cascades...)
	if err != nil {
		var notFound *websites.WebsiteNotFoundError
		if errors.As(err, &notFound) {
			return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "Website not found"})
		}
		ctx.Logger.Error("Failed to delete website", slog.String("website_id", websiteID), slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Failed to delete website"})
	}

	ctx.Logger.Info("Website deleted", slog.String("website_id", websiteID))
	return ctx.JSON(fiber.Map{"message": "Website deleted successfully"})
}
