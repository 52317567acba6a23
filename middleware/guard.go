package middleware

import (
	"context"
	"strings"

	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/logger"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/response"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const (
	principalKey = "authPrincipal"
	requestIDKey = "requestid"
)

// PrincipalFrom returns the principal stored by RequireAuth.
func PrincipalFrom(c *fiber.Ctx) (*authcore.Principal, bool) {
	p, ok := c.Locals(principalKey).(*authcore.Principal)
	return p, ok && p != nil
}

// Context returns the request context carrying the client IP and request id
// the Engine uses for rate keys and audit events.
func Context(c *fiber.Ctx) context.Context {
	ctx := authcore.WithClientIP(c.UserContext(), c.IP())
	if rid, ok := c.Locals(requestIDKey).(string); ok && rid != "" {
		ctx = authcore.WithRequestID(ctx, rid)
	}
	return ctx
}

// RequireAuth rejects requests without a valid bearer access token.
func RequireAuth(engine *authcore.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if engine == nil {
			return response.Error(c, fiber.StatusUnauthorized, "unauthorized")
		}

		token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			logger.Warn("auth_missing_bearer", map[string]interface{}{
				"ip":   utils.CopyString(c.IP()),
				"path": utils.CopyString(c.Path()),
			})
			return response.Error(c, fiber.StatusUnauthorized, "unauthorized")
		}

		p, err := engine.Authenticate(token)
		if err != nil {
			logger.Warn("auth_token_rejected", map[string]interface{}{
				"ip":   utils.CopyString(c.IP()),
				"path": utils.CopyString(c.Path()),
			})
			return response.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
		}

		c.Locals(principalKey, p)
		return c.Next()
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
