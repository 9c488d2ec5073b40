package v1

import (
	"bytes"
	_ "embed"
	"log/slog"
	"text/template"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
)

//go:embed sdk.js
var sdkTemplate string

var sdkTmpl = template.Must(template.New("sdk.js").Parse(sdkTemplate))

// SDKHandler serves the collector script.
type SDKHandler struct {
	sessionTimeoutSeconds int
}

// NewSDKHandler creates the handler. sessionTimeoutSeconds is how long the
// collector keeps a visitor id before starting a new visit.
func NewSDKHandler(sessionTimeoutSeconds int) *SDKHandler {
	return &SDKHandler{sessionTimeoutSeconds: sessionTimeoutSeconds}
}

// Script handles GET /sdk.js.
func (h *SDKHandler) Script(ctx *cartridge.Context) error {
	var buf bytes.Buffer
	data := map[string]any{
		"BaseURL":              ctx.BaseURL(),
		"SessionTimeoutMillis": h.sessionTimeoutSeconds * 1000,
	}
	if err := sdkTmpl.Execute(&buf, data); err != nil {
		ctx.Logger.Error("Failed to render SDK template", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
	}

	content := buf.Bytes()
	etag := generateETag(content)

	if ctx.Get("If-None-Match") == etag {
		ctx.Logger.Debug("ETag match, returning 304",
			slog.String("etag", etag),
			slog.String("path", ctx.Path()))
		return ctx.Status(fiber.StatusNotModified).Send(nil)
	}

	ctx.Set("Content-Type", "application/javascript")
	ctx.Set("Cache-Control", "public, max-age=3600")
	ctx.Set("ETag", etag)
	ctx.Set("Cross-Origin-Resource-Policy", "cross-origin")
	return ctx.Send(content)
}
