package utils_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/gradearena/arena-api/internal/utils"
)

func performRequest(t *testing.T, handler fiber.Handler) (*http.Response, utils.APIResponse) {
	t.Helper()

	app := fiber.New()
	app.Get("/", handler)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	var payload utils.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	return resp, payload
}

func TestSendSuccessDefaults(t *testing.T) {
	resp, payload := performRequest(t, func(c *fiber.Ctx) error {
		return utils.SendSuccess(c, "", map[string]int{"count": 3})
	})

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.True(t, payload.Success)
	require.Equal(t, "success", payload.Message)
	require.NotNil(t, payload.Data)
}

func TestSendErrorDefaults(t *testing.T) {
	resp, payload := performRequest(t, func(c *fiber.Ctx) error {
		return utils.SendError(c, fiber.StatusTeapot, "")
	})

	require.Equal(t, fiber.StatusTeapot, resp.StatusCode)
	require.False(t, payload.Success)
	require.Equal(t, "error", payload.Message)
}
