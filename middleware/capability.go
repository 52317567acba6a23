package middleware

import (
	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/permission"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/logger"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/response"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// RequireCapability must run after RequireAuth.
func RequireCapability(engine *authcore.Engine, capability permission.Capability) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := PrincipalFrom(c)
		if !ok {
			return response.Error(c, fiber.StatusUnauthorized, "unauthorized")
		}
		if !engine.Can(p.Role, capability) {
			logger.Warn("permission_denied", map[string]interface{}{
				"account_id": p.ID,
				"role":       string(p.Role),
				"capability": string(capability),
				"path":       utils.CopyString(c.Path()),
			})
			return response.Error(c, fiber.StatusForbidden, "forbidden")
		}
		return c.Next()
	}
}
