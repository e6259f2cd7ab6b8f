package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const principalKey = "principal"

type errorResponse struct {
	Message string `json:"message"`
	RayID   string `json:"ray_id,omitempty"`
}

func rayID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}

// Middleware validates the bearer token and stores the Principal on the request.
func Middleware(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
			raw = strings.TrimSpace(raw[7:])
		}
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Message: "missing credentials", RayID: rayID(c)})
		}

		principal, err := ParseToken(cfg, raw)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Message: "invalid token", RayID: rayID(c)})
		}

		c.Locals(principalKey, principal)
		return c.Next()
	}
}

// RequireRole rejects principals whose role is not listed.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := PrincipalFrom(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Message: "missing credentials", RayID: rayID(c)})
		}
		for _, role := range roles {
			if p.Role == role {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(errorResponse{Message: "access denied", RayID: rayID(c)})
	}
}

// PrincipalFrom returns the Principal stored by Middleware.
func PrincipalFrom(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals(principalKey).(Principal)
	return p, ok
}

// WithPrincipal stores p on the request; used by tests and internal callers.
func WithPrincipal(c *fiber.Ctx, p Principal) {
	c.Locals(principalKey, p)
}
