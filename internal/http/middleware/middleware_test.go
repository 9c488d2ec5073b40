package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAPIKeyApp(apiKey string) *fiber.App {
	app := fiber.New()
	app.Use(APIKeyAuth(apiKey, testLogger()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func TestAPIKeyAuth(t *testing.T) {
	hashBytes, err := crypto.GeneratePasswordHash("s3cret-key")
	require.NoError(t, err)
	hashed := string(hashBytes)
	require.True(t, IsHashedAPIKey(hashed))

	tests := []struct {
		name       string
		apiKey     string
		authHeader string
		wantStatus int
	}{
		{"disabled without key", "", "", http.StatusOK},
		{"plain key accepted", "s3cret-key", "Bearer s3cret-key", http.StatusOK},
		{"plain key mismatch", "s3cret-key", "Bearer wrong", http.StatusUnauthorized},
		{"missing header", "s3cret-key", "", http.StatusUnauthorized},
		{"wrong scheme", "s3cret-key", "Basic s3cret-key", http.StatusUnauthorized},
		{"empty bearer", "s3cret-key", "Bearer ", http.StatusUnauthorized},
		{"hashed key accepted", hashed, "Bearer s3cret-key", http.StatusOK},
		{"hashed key mismatch", hashed, "Bearer wrong", http.StatusUnauthorized},
		{"hash itself is not a key", hashed, "Bearer " + hashed, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			resp, err := newAPIKeyApp(tt.apiKey).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestAccountScope(t *testing.T) {
	app := fiber.New()
	app.Use(AccountScope(testLogger()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(AccountID(c)) })

	t.Run("stores the account", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(AccountHeader, " acct-42 ")
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "acct-42", string(body))
	})

	t.Run("rejects anonymous requests", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
