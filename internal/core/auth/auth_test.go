package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = Config{Secret: "secret", Issuer: "order-fulfillment"}

func TestMintAndParseToken(t *testing.T) {
	token, err := MintToken(testCfg, Principal{UserID: "u-1", Email: "a@b.c", Role: RoleAdmin}, time.Now(), time.Hour)
	require.NoError(t, err)

	p, err := ParseToken(testCfg, token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.UserID)
	assert.True(t, p.IsAdmin())
}

func TestParseToken_Rejects(t *testing.T) {
	expired, err := MintToken(testCfg, Principal{UserID: "u-1", Role: RoleCustomer}, time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(testCfg, expired)
	assert.Error(t, err)

	other, err := MintToken(Config{Secret: "other", Issuer: testCfg.Issuer}, Principal{UserID: "u-1", Role: RoleCustomer}, time.Now(), time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(testCfg, other)
	assert.Error(t, err)

	badRole, err := MintToken(testCfg, Principal{UserID: "u-1", Role: "courier"}, time.Now(), time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(testCfg, badRole)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/admin", Middleware(testCfg), RequireRole(RoleAdmin), func(c *fiber.Ctx) error {
		p, _ := PrincipalFrom(c)
		return c.SendString(p.UserID)
	})

	t.Run("MissingToken", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/admin", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("WrongRole", func(t *testing.T) {
		token, _ := MintToken(testCfg, Principal{UserID: "c-1", Role: RoleCustomer}, time.Now(), time.Hour)
		req := httptest.NewRequest("GET", "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	})

	t.Run("Admin", func(t *testing.T) {
		token, _ := MintToken(testCfg, Principal{UserID: "a-1", Role: RoleAdmin}, time.Now(), time.Hour)
		req := httptest.NewRequest("GET", "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})
}
